package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"qcgate/internal/policy"
	id "qcgate/pkg/domain"
)

// Loader reads a complete rule set in one consistent read.
type Loader interface {
	LoadRuleSet(ctx context.Context) (policy.RuleSet, error)
}

// Cached serves the policy.Store port from a snapshot of a Loader refreshed at
// most once per TTL. Concurrent refreshes collapse into one load. A failed
// refresh keeps serving the previous snapshot when there is one.
type Cached struct {
	source Loader
	ttl    time.Duration
	now    func() time.Time
	group  singleflight.Group

	mu       sync.RWMutex
	snapshot *policy.RuleSet
	loadedAt time.Time
}

// CachedOption configures Cached.
type CachedOption func(*Cached)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) CachedOption {
	return func(c *Cached) { c.now = now }
}

func NewCached(source Loader, ttl time.Duration, opts ...CachedOption) *Cached {
	if source == nil {
		panic("store.NewCached: source is required")
	}
	c := &Cached{source: source, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invalidate forces the next read to reload.
func (c *Cached) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = nil
}

func (c *Cached) current(ctx context.Context) (*policy.RuleSet, error) {
	c.mu.RLock()
	snap, loadedAt := c.snapshot, c.loadedAt
	c.mu.RUnlock()
	if snap != nil && c.now().Sub(loadedAt) < c.ttl {
		return snap, nil
	}

	v, err, _ := c.group.Do("policy", func() (any, error) {
		rs, err := c.source.LoadRuleSet(ctx)
		if err != nil {
			return nil, err
		}
		if err := rs.Validate(); err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.snapshot = &rs
		c.loadedAt = c.now()
		c.mu.Unlock()
		return &rs, nil
	})
	if err != nil {
		if snap != nil {
			return snap, nil
		}
		return nil, err
	}
	return v.(*policy.RuleSet), nil
}

func (c *Cached) LoadRules(ctx context.Context) ([]policy.Rule, error) {
	rs, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	return rs.Clone().Rules, nil
}

func (c *Cached) LoadOverrides(ctx context.Context) ([]policy.Override, error) {
	rs, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Clone(rs.Overrides), nil
}

func (c *Cached) DefaultApproverRoles(ctx context.Context) ([]id.RoleID, error) {
	rs, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Clone(rs.DefaultApprovers), nil
}

func (c *Cached) DepartmentApproverRoles(ctx context.Context, dept id.DepartmentID) ([]id.RoleID, error) {
	rs, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Clone(rs.DepartmentApprovers[dept]), nil
}

var (
	_ policy.Store = (*Cached)(nil)
	_ Loader       = (*Memory)(nil)
	_ Loader       = (*Postgres)(nil)
)
