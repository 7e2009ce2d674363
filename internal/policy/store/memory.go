// Package store provides Policy Store adapters: an in-memory versioned store,
// a YAML loader, a PostgreSQL store and a caching wrapper.
package store

import (
	"context"
	"slices"
	"sync"

	"qcgate/internal/policy"
	id "qcgate/pkg/domain"
)

// Memory serves a rule set held in memory. Replace swaps the whole set
// atomically and bumps Version, so tests and environments can change policy
// without global state.
type Memory struct {
	mu      sync.RWMutex
	set     policy.RuleSet
	version int64
}

// NewMemory validates rs and returns a store at version 1.
func NewMemory(rs policy.RuleSet) (*Memory, error) {
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &Memory{set: rs.Clone(), version: 1}, nil
}

// Replace validates and installs rs. The previous set stays in place on error.
func (m *Memory) Replace(rs policy.RuleSet) error {
	if err := rs.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set = rs.Clone()
	m.version++
	return nil
}

// Version increases by one on every successful Replace.
func (m *Memory) Version() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// LoadRuleSet returns a copy of the whole rule set.
func (m *Memory) LoadRuleSet(_ context.Context) (policy.RuleSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.set.Clone(), nil
}

func (m *Memory) LoadRules(_ context.Context) ([]policy.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.set.Clone().Rules, nil
}

func (m *Memory) LoadOverrides(_ context.Context) ([]policy.Override, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.set.Overrides), nil
}

func (m *Memory) DefaultApproverRoles(_ context.Context) ([]id.RoleID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.set.DefaultApprovers), nil
}

func (m *Memory) DepartmentApproverRoles(_ context.Context, dept id.DepartmentID) ([]id.RoleID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.set.DepartmentApprovers[dept]), nil
}

var _ policy.Store = (*Memory)(nil)
