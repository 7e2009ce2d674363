// Package directory provides the user/role lookups approver resolution needs:
// an in-memory directory for local runs and tests, and a PostgreSQL one.
package directory

import (
	"bytes"
	"context"
	"slices"
	"sync"

	id "qcgate/pkg/domain"
	"qcgate/pkg/platform/sentinel"
)

// Memory is a directory held in memory. Role IDs double as role names unless
// a role was registered with a distinct name.
type Memory struct {
	mu      sync.RWMutex
	names   map[string]id.RoleID
	holders map[id.RoleID]map[id.UserID]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		names:   make(map[string]id.RoleID),
		holders: make(map[id.RoleID]map[id.UserID]struct{}),
	}
}

// AddRole registers role under name.
func (m *Memory) AddRole(role id.RoleID, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names[name] = role
}

// Assign grants roles to user, registering any unknown role under its own ID.
func (m *Memory) Assign(user id.UserID, roles ...id.RoleID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, role := range roles {
		if _, ok := m.names[string(role)]; !ok && !m.hasRole(role) {
			m.names[string(role)] = role
		}
		set, ok := m.holders[role]
		if !ok {
			set = make(map[id.UserID]struct{})
			m.holders[role] = set
		}
		set[user] = struct{}{}
	}
}

// Revoke removes role from user.
func (m *Memory) Revoke(user id.UserID, role id.RoleID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.holders[role], user)
}

func (m *Memory) hasRole(role id.RoleID) bool {
	for _, r := range m.names {
		if r == role {
			return true
		}
	}
	return false
}

// FindUsersByRole returns holders of role ordered by user ID.
func (m *Memory) FindUsersByRole(_ context.Context, role id.RoleID) ([]id.UserID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]id.UserID, 0, len(m.holders[role]))
	for u := range m.holders[role] {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b id.UserID) int { return bytes.Compare(a[:], b[:]) })
	return users, nil
}

// FindRoleByName returns sentinel.ErrNotFound for unknown names.
func (m *Memory) FindRoleByName(_ context.Context, name string) (id.RoleID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	role, ok := m.names[name]
	if !ok {
		return "", sentinel.ErrNotFound
	}
	return role, nil
}
