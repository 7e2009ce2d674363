// Package approver turns a policy decision into the concrete set of users
// eligible to approve it.
package approver

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"slices"

	"qcgate/internal/policy"
	id "qcgate/pkg/domain"
	dErrors "qcgate/pkg/domain-errors"
	"qcgate/pkg/platform/sentinel"
	strs "qcgate/pkg/platform/strings"
)

// Directory looks up users and roles.
type Directory interface {
	FindUsersByRole(ctx context.Context, role id.RoleID) ([]id.UserID, error)
	FindRoleByName(ctx context.Context, name string) (id.RoleID, error)
}

// Evaluator is the policy engine as seen by the resolver.
type Evaluator interface {
	Evaluate(ctx context.Context, action policy.Action, p id.Principal, ec policy.EvalContext) (policy.Decision, error)
}

// Resolver picks approvers for a decision. Users holding any approver role
// come first; when there are none, holders of the fallback role are used.
type Resolver struct {
	directory    Directory
	evaluator    Evaluator
	fallbackRole string
	logger       *slog.Logger
}

type Option func(*Resolver)

func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithFallbackRole sets the role name consulted when no approver role has
// holders. Blank disables the fallback.
func WithFallbackRole(name string) Option {
	return func(r *Resolver) { r.fallbackRole = name }
}

// DefaultFallbackRole is the role name used when none is configured.
const DefaultFallbackRole = "system_admin"

func New(directory Directory, evaluator Evaluator, opts ...Option) *Resolver {
	if directory == nil {
		panic("approver.New: directory is required")
	}
	if evaluator == nil {
		panic("approver.New: evaluator is required")
	}
	r := &Resolver{
		directory:    directory,
		evaluator:    evaluator,
		fallbackRole: DefaultFallbackRole,
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the deduplicated, sorted users eligible to approve d.
// An empty result is not an error; callers decide whether it is fatal.
func (r *Resolver) Resolve(ctx context.Context, d policy.Decision) ([]id.UserID, error) {
	users, err := r.holders(ctx, d.ApproverRoles)
	if err != nil {
		return nil, err
	}
	if len(users) > 0 || r.fallbackRole == "" {
		return users, nil
	}

	role, err := r.directory.FindRoleByName(ctx, r.fallbackRole)
	if errors.Is(err, sentinel.ErrNotFound) {
		r.logger.WarnContext(ctx, "fallback approver role not found",
			"role", r.fallbackRole,
			"action", d.Action,
		)
		return nil, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up fallback approver role")
	}
	users, err = r.holders(ctx, []id.RoleID{role})
	if err != nil {
		return nil, err
	}
	if len(users) > 0 {
		r.logger.InfoContext(ctx, "approvers resolved from fallback role",
			"role", role,
			"action", d.Action,
			"approvers", len(users),
		)
	}
	return users, nil
}

// ResolveApprovers evaluates action for p and resolves the approvers of the
// decision. A DENIED decision is returned as a forbidden error.
func (r *Resolver) ResolveApprovers(ctx context.Context, action policy.Action, p id.Principal, ec policy.EvalContext) ([]id.UserID, policy.Decision, error) {
	d, err := r.evaluator.Evaluate(ctx, action, p, ec)
	if err != nil {
		return nil, policy.Decision{}, err
	}
	if d.Denied() {
		return nil, d, dErrors.New(dErrors.CodeForbidden, "action is not permitted")
	}
	users, err := r.Resolve(ctx, d)
	if err != nil {
		return nil, d, err
	}
	return users, d, nil
}

func (r *Resolver) holders(ctx context.Context, roles []id.RoleID) ([]id.UserID, error) {
	var all []id.UserID
	for _, role := range roles {
		found, err := r.directory.FindUsersByRole(ctx, role)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up approvers")
		}
		all = append(all, found...)
	}
	users := strs.Dedupe(all)
	slices.SortFunc(users, func(a, b id.UserID) int { return bytes.Compare(a[:], b[:]) })
	return users, nil
}
