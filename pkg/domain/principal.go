package domain

import "slices"

// Principal is the authenticated actor attempting an action. It is built per
// request from trusted token claims and never persisted.
type Principal struct {
	UserID       UserID
	Roles        []RoleID
	DepartmentID DepartmentID
}

// HasRole reports whether the principal holds role.
func (p Principal) HasRole(role RoleID) bool {
	return slices.Contains(p.Roles, role)
}

// HasAnyRole reports whether the principal holds at least one of roles.
func (p Principal) HasAnyRole(roles []RoleID) bool {
	for _, r := range roles {
		if p.HasRole(r) {
			return true
		}
	}
	return false
}
