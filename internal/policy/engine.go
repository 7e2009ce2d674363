package policy

import (
	"context"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"qcgate/internal/platform/tracer"
	id "qcgate/pkg/domain"
	dErrors "qcgate/pkg/domain-errors"
)

// Engine evaluates actions against the policy held by a Store. It has no side
// effects beyond logs, metrics and spans: the same inputs against an
// unchanged store always produce the same Decision.
type Engine struct {
	store      Store
	conditions *conditionCache
	tracer     tracer.Tracer
	logger     *slog.Logger
}

// Option configures the Engine.
type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithTracer(t tracer.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// NewEngine panics if store is nil.
func NewEngine(store Store, opts ...Option) *Engine {
	if store == nil {
		panic("policy.NewEngine: store is required")
	}
	e := &Engine{
		store:      store,
		conditions: &conditionCache{},
		tracer:     tracer.Noop{},
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate decides whether principal may perform action in ec.
//
// Overrides for the principal outrank every rule. Otherwise the highest
// priority active rule whose scope matches wins, first declared on ties, and
// no match means DENIED. Only store failures return an error.
func (e *Engine) Evaluate(ctx context.Context, action Action, p id.Principal, ec EvalContext) (decision Decision, err error) {
	ctx, span := e.tracer.Start(ctx, "policy.evaluate",
		attribute.String("action", string(action)),
		attribute.String("user_id", p.UserID.String()),
	)
	defer func() {
		if err == nil {
			span.SetAttributes(
				attribute.String("permission", string(decision.Permission)),
				attribute.String("source", decision.Source()),
			)
			recordDecision(decision)
		}
		span.End(err)
	}()

	overrides, err := e.store.LoadOverrides(ctx)
	if err != nil {
		return Decision{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load policy overrides")
	}
	if o := selectOverride(overrides, action, p); o != nil {
		decision = Decision{Action: action, Permission: o.Permission(), MatchedOverride: o}
		e.logDecision(ctx, decision, p)
		return decision, nil
	}

	rules, err := e.store.LoadRules(ctx)
	if err != nil {
		return Decision{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load policy rules")
	}
	rule := e.selectRule(ctx, rules, action, p, ec)
	if rule == nil {
		decision = Decision{Action: action, Permission: PermissionDenied}
		e.logDecision(ctx, decision, p)
		return decision, nil
	}

	roles, err := e.approverRoles(ctx, rule, p)
	if err != nil {
		return Decision{}, err
	}
	decision = Decision{
		Action:        action,
		Permission:    rule.Permission,
		MatchedRule:   rule,
		ApproverRoles: roles,
	}
	e.logDecision(ctx, decision, p)
	return decision, nil
}

func (e *Engine) selectRule(ctx context.Context, rules []Rule, action Action, p id.Principal, ec EvalContext) *Rule {
	var best *Rule
	for i := range rules {
		r := &rules[i]
		if !r.Active || r.Action != action || !scopeMatches(r, p, ec) {
			continue
		}
		if !better(r, best) {
			continue
		}
		if r.Condition != "" {
			ok, err := e.conditions.eval(r.Condition, newConditionEnv(action, p, ec))
			if err != nil {
				e.logger.WarnContext(ctx, "policy rule condition failed; rule skipped",
					"rule", r.Name,
					"error", err,
				)
				continue
			}
			if !ok {
				continue
			}
		}
		best = r
	}
	if best == nil {
		return nil
	}
	winner := best.clone()
	return &winner
}

// approverRoles resolves the roles that may approve an action gated by r.
// Department approvers come first when the rule asks for them, then the
// rule's own roles, then the store-wide defaults.
func (e *Engine) approverRoles(ctx context.Context, r *Rule, p id.Principal) ([]id.RoleID, error) {
	if r.UseDepartmentApprovers {
		roles, err := e.store.DepartmentApproverRoles(ctx, p.DepartmentID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load department approver roles")
		}
		if len(roles) > 0 {
			return slices.Clone(roles), nil
		}
	}
	if len(r.ApproverRoles) > 0 {
		return slices.Clone(r.ApproverRoles), nil
	}
	roles, err := e.store.DefaultApproverRoles(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load default approver roles")
	}
	return slices.Clone(roles), nil
}

func (e *Engine) logDecision(ctx context.Context, d Decision, p id.Principal) {
	e.logger.DebugContext(ctx, "policy evaluated",
		"action", d.Action,
		"user_id", p.UserID.String(),
		"permission", d.Permission,
		"source", d.Source(),
	)
}
