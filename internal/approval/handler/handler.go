// Package handler exposes the approval lifecycle over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"qcgate/internal/approval/models"
	"qcgate/internal/policy"
	"qcgate/internal/subject"
	id "qcgate/pkg/domain"
	dErrors "qcgate/pkg/domain-errors"
	"qcgate/pkg/platform/httputil"
	"qcgate/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/service_mock.go -package=mocks Service

// Service is the approval lifecycle as the handler needs it.
type Service interface {
	Create(ctx context.Context, p id.Principal, cmd models.CreateCommand) (*models.Request, error)
	Get(ctx context.Context, p id.Principal, requestID id.RequestID) (*models.Request, error)
	Update(ctx context.Context, p id.Principal, requestID id.RequestID, cmd models.UpdateCommand) (*models.Request, error)
	Decide(ctx context.Context, p id.Principal, requestID id.RequestID, cmd models.DecideCommand) (*models.Request, error)
	Cancel(ctx context.Context, p id.Principal, requestID id.RequestID) (*models.Request, error)
	Withdraw(ctx context.Context, p id.Principal, requestID id.RequestID) error
	ListPending(ctx context.Context, filter models.Filter, page models.Page) ([]*models.Request, error)
	ListBySubject(ctx context.Context, subjectID id.SubjectID, page models.Page) ([]*models.Request, error)
	ListByRequester(ctx context.Context, userID id.UserID, page models.Page) ([]*models.Request, error)
	ListAssigned(ctx context.Context, approverID id.UserID, page models.Page) ([]*models.Request, error)
	Activate(ctx context.Context, p id.Principal, subjectID id.SubjectID) (*subject.Entity, error)
}

type Handler struct {
	logger    *slog.Logger
	approvals Service
}

func New(approvals Service, logger *slog.Logger) *Handler {
	if approvals == nil {
		panic("handler.New: approval service is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, approvals: approvals}
}

// Register mounts the approval and subject routes.
func (h *Handler) Register(r chi.Router) {
	r.Route("/approvals", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Get("/pending", h.HandleListPending)
		r.Get("/mine", h.HandleListMine)
		r.Get("/assigned", h.HandleListAssigned)
		r.Get("/{id}", h.HandleGet)
		r.Patch("/{id}", h.HandleUpdate)
		r.Delete("/{id}", h.HandleWithdraw)
		r.Post("/{id}/decision", h.HandleDecide)
		r.Post("/{id}/cancel", h.HandleCancel)
	})
	r.Get("/subjects/{id}/approvals", h.HandleListBySubject)
	r.Post("/subjects/{id}/activate", h.HandleActivate)
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.CreateApprovalRequest](w, r, h.logger)
	if !ok {
		return
	}
	cmd, err := req.ToCommand()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	created, err := h.approvals.Create(ctx, p, cmd)
	if err != nil {
		h.fail(ctx, w, "failed to create approval request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toResponse(created))
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	requestID, ok := requestIDParam(w, r)
	if !ok {
		return
	}
	req, err := h.approvals.Get(ctx, p, requestID)
	if err != nil {
		h.fail(ctx, w, "failed to get approval request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(req))
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	requestID, ok := requestIDParam(w, r)
	if !ok {
		return
	}
	body, ok := httputil.DecodeAndPrepare[models.UpdateApprovalRequest](w, r, h.logger)
	if !ok {
		return
	}
	cmd, err := body.ToCommand()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	updated, err := h.approvals.Update(ctx, p, requestID, cmd)
	if err != nil {
		h.fail(ctx, w, "failed to update approval request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(updated))
}

func (h *Handler) HandleDecide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	requestID, ok := requestIDParam(w, r)
	if !ok {
		return
	}
	body, ok := httputil.DecodeAndPrepare[models.DecisionRequest](w, r, h.logger)
	if !ok {
		return
	}
	decided, err := h.approvals.Decide(ctx, p, requestID, body.ToCommand())
	if err != nil {
		h.fail(ctx, w, "failed to decide approval request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(decided))
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	requestID, ok := requestIDParam(w, r)
	if !ok {
		return
	}
	cancelled, err := h.approvals.Cancel(ctx, p, requestID)
	if err != nil {
		h.fail(ctx, w, "failed to cancel approval request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(cancelled))
}

func (h *Handler) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	requestID, ok := requestIDParam(w, r)
	if !ok {
		return
	}
	if err := h.approvals.Withdraw(ctx, p, requestID); err != nil {
		h.fail(ctx, w, "failed to withdraw approval request", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleListPending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.principal(w, r); !ok {
		return
	}
	page, ok := pageParams(w, r)
	if !ok {
		return
	}
	filter, err := pendingFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	reqs, err := h.approvals.ListPending(ctx, filter, page)
	if err != nil {
		h.fail(ctx, w, "failed to list pending approvals", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toListResponse(reqs, page))
}

func (h *Handler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	h.listForCaller(w, r, h.approvals.ListByRequester)
}

func (h *Handler) HandleListAssigned(w http.ResponseWriter, r *http.Request) {
	h.listForCaller(w, r, h.approvals.ListAssigned)
}

func (h *Handler) listForCaller(w http.ResponseWriter, r *http.Request,
	list func(context.Context, id.UserID, models.Page) ([]*models.Request, error),
) {
	ctx := r.Context()
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	page, ok := pageParams(w, r)
	if !ok {
		return
	}
	reqs, err := list(ctx, p.UserID, page)
	if err != nil {
		h.fail(ctx, w, "failed to list approvals", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toListResponse(reqs, page))
}

func (h *Handler) HandleListBySubject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.principal(w, r); !ok {
		return
	}
	subjectID, ok := subjectIDParam(w, r)
	if !ok {
		return
	}
	page, ok := pageParams(w, r)
	if !ok {
		return
	}
	reqs, err := h.approvals.ListBySubject(ctx, subjectID, page)
	if err != nil {
		h.fail(ctx, w, "failed to list subject approvals", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toListResponse(reqs, page))
}

func (h *Handler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	subjectID, ok := subjectIDParam(w, r)
	if !ok {
		return
	}
	entity, err := h.approvals.Activate(ctx, p, subjectID)
	if err != nil {
		h.fail(ctx, w, "failed to activate subject", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toSubjectResponse(entity))
}

func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (id.Principal, bool) {
	p, err := httputil.RequirePrincipal(r.Context(), h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return id.Principal{}, false
	}
	return p, true
}

// fail logs server-side failures at error level and client mistakes at warn.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	attrs := []any{"error", err, "request_id", requestcontext.RequestID(ctx)}
	if httputil.DomainCodeToHTTPStatus(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, attrs...)
	} else {
		h.logger.WarnContext(ctx, msg, attrs...)
	}
	httputil.WriteError(w, err)
}

func requestIDParam(w http.ResponseWriter, r *http.Request) (id.RequestID, bool) {
	requestID, err := id.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid approval request id"))
		return id.RequestID{}, false
	}
	return requestID, true
}

func subjectIDParam(w http.ResponseWriter, r *http.Request) (id.SubjectID, bool) {
	subjectID, err := id.ParseSubjectID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid subject id"))
		return id.SubjectID{}, false
	}
	return subjectID, true
}

func pageParams(w http.ResponseWriter, r *http.Request) (models.Page, bool) {
	var page models.Page
	q := r.URL.Query()
	for name, dst := range map[string]*int{"limit": &page.Limit, "offset": &page.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid "+name))
			return models.Page{}, false
		}
		*dst = n
	}
	return page.Normalize(), true
}

func pendingFilter(r *http.Request) (models.Filter, error) {
	var f models.Filter
	q := r.URL.Query()
	if raw := strings.TrimSpace(q.Get("kind")); raw != "" {
		kind := models.SubjectKind(raw)
		if !kind.IsValid() {
			return f, dErrors.New(dErrors.CodeBadRequest, "invalid kind filter")
		}
		f.Kind = &kind
	}
	if raw := strings.TrimSpace(q.Get("action")); raw != "" {
		action, err := policy.ParseAction(raw)
		if err != nil {
			return f, dErrors.New(dErrors.CodeBadRequest, "invalid action filter")
		}
		f.Action = &action
	}
	return f, nil
}
