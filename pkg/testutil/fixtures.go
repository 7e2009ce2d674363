package testutil

import (
	"github.com/google/uuid"

	id "qcgate/pkg/domain"
)

// Fixed identifiers keep fixtures readable in failure output.
var (
	ManagerID   = id.UserID(uuid.MustParse("11111111-1111-1111-1111-111111111111"))
	AdminID     = id.UserID(uuid.MustParse("22222222-2222-2222-2222-222222222222"))
	SecondAdmin = id.UserID(uuid.MustParse("33333333-3333-3333-3333-333333333333"))
	OperatorID  = id.UserID(uuid.MustParse("44444444-4444-4444-4444-444444444444"))
	SysAdminID  = id.UserID(uuid.MustParse("55555555-5555-5555-5555-555555555555"))

	DispatchDept = id.DepartmentID(uuid.MustParse("d0000000-0000-0000-0000-000000000001"))
	QualityDept  = id.DepartmentID(uuid.MustParse("d0000000-0000-0000-0000-000000000002"))
)

// Principal builds a principal in dept holding roles.
func Principal(user id.UserID, dept id.DepartmentID, roles ...id.RoleID) id.Principal {
	return id.Principal{UserID: user, DepartmentID: dept, Roles: roles}
}

// Float returns a pointer to v, for optional numeric fields.
func Float(v float64) *float64 { return &v }
