// Package handler serves policy evaluation over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"qcgate/internal/approval/models"
	"qcgate/internal/platform/middleware"
	"qcgate/internal/policy"
	id "qcgate/pkg/domain"
	"qcgate/pkg/platform/httputil"
	"qcgate/pkg/requestcontext"
)

type Evaluator interface {
	Evaluate(ctx context.Context, action policy.Action, p id.Principal, ec policy.EvalContext) (policy.Decision, error)
}

type ApproverResolver interface {
	ResolveApprovers(ctx context.Context, action policy.Action, p id.Principal, ec policy.EvalContext) ([]id.UserID, policy.Decision, error)
}

// RuleReader exposes the active rules for inspection.
type RuleReader interface {
	LoadRules(ctx context.Context) ([]policy.Rule, error)
}

type Handler struct {
	logger    *slog.Logger
	engine    Evaluator
	resolver  ApproverResolver
	rules     RuleReader
	adminRole id.RoleID
}

func New(engine Evaluator, resolver ApproverResolver, rules RuleReader, adminRole id.RoleID, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, engine: engine, resolver: resolver, rules: rules, adminRole: adminRole}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/policy/evaluate", h.HandleEvaluate)
	r.Post("/policy/approvers", h.HandleApprovers)
	r.With(middleware.RequireRole(h.logger, h.adminRole)).Get("/policy/rules", h.HandleRules)
}

type DecisionResponse struct {
	Action        string      `json:"action"`
	Permission    string      `json:"permission"`
	Source        string      `json:"source"`
	ApproverRoles []id.RoleID `json:"approver_roles,omitempty"`
}

type ApproversResponse struct {
	Decision  DecisionResponse `json:"decision"`
	Approvers []id.UserID      `json:"approvers"`
}

type RuleResponse struct {
	Name                   string      `json:"name"`
	Action                 string      `json:"action"`
	Permission             string      `json:"permission"`
	Roles                  []id.RoleID `json:"roles,omitempty"`
	Priority               int         `json:"priority"`
	Active                 bool        `json:"active"`
	Condition              string      `json:"condition,omitempty"`
	MaxValue               *float64    `json:"max_value,omitempty"`
	UseDepartmentApprovers bool        `json:"use_department_approvers,omitempty"`
}

func (h *Handler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, action, ec, ok := h.prepare(w, r)
	if !ok {
		return
	}
	d, err := h.engine.Evaluate(ctx, action, p, ec)
	if err != nil {
		h.logger.ErrorContext(ctx, "policy evaluation failed", "error", err, "request_id", requestcontext.RequestID(ctx))
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toDecisionResponse(d))
}

func (h *Handler) HandleApprovers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, action, ec, ok := h.prepare(w, r)
	if !ok {
		return
	}
	users, d, err := h.resolver.ResolveApprovers(ctx, action, p, ec)
	if err != nil {
		h.logger.ErrorContext(ctx, "approver resolution failed", "error", err, "request_id", requestcontext.RequestID(ctx))
		httputil.WriteError(w, err)
		return
	}
	if users == nil {
		users = []id.UserID{}
	}
	httputil.WriteJSON(w, http.StatusOK, ApproversResponse{Decision: toDecisionResponse(d), Approvers: users})
}

func (h *Handler) HandleRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rules, err := h.rules.LoadRules(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to load rules", "error", err, "request_id", requestcontext.RequestID(ctx))
		httputil.WriteError(w, err)
		return
	}
	out := make([]RuleResponse, 0, len(rules))
	for _, rule := range rules {
		out = append(out, RuleResponse{
			Name:                   rule.Name,
			Action:                 string(rule.Action),
			Permission:             string(rule.Permission),
			Roles:                  rule.Roles,
			Priority:               rule.Priority,
			Active:                 rule.Active,
			Condition:              rule.Condition,
			MaxValue:               rule.MaxValue,
			UseDepartmentApprovers: rule.UseDepartmentApprovers,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"rules": out})
}

func (h *Handler) prepare(w http.ResponseWriter, r *http.Request) (id.Principal, policy.Action, policy.EvalContext, bool) {
	p, err := httputil.RequirePrincipal(r.Context(), h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return id.Principal{}, "", policy.EvalContext{}, false
	}
	req, ok := httputil.DecodeAndPrepare[models.EvaluateRequest](w, r, h.logger)
	if !ok {
		return id.Principal{}, "", policy.EvalContext{}, false
	}
	action, err := policy.ParseAction(req.Action)
	if err != nil {
		httputil.WriteError(w, err)
		return id.Principal{}, "", policy.EvalContext{}, false
	}
	ec, err := req.Context.ToEvalContext()
	if err != nil {
		httputil.WriteError(w, err)
		return id.Principal{}, "", policy.EvalContext{}, false
	}
	return p, action, ec, true
}

func toDecisionResponse(d policy.Decision) DecisionResponse {
	return DecisionResponse{
		Action:        string(d.Action),
		Permission:    string(d.Permission),
		Source:        d.Source(),
		ApproverRoles: d.ApproverRoles,
	}
}
