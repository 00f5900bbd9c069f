package enums

import "fmt"

// UserRole identifies what a user account is used for.
type UserRole string

const (
	UserRoleStudent  UserRole = "student"
	UserRoleAdmin    UserRole = "admin"
	UserRoleCanteen  UserRole = "canteen"
	UserRoleExternal UserRole = "external"
)

var validUserRoles = []UserRole{
	UserRoleStudent,
	UserRoleAdmin,
	UserRoleCanteen,
	UserRoleExternal,
}

func (r UserRole) IsValid() bool {
	for _, candidate := range validUserRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// IsStaff reports whether the role may act on orders it does not own.
func (r UserRole) IsStaff() bool {
	return r == UserRoleAdmin || r == UserRoleCanteen
}

func ParseUserRole(value string) (UserRole, error) {
	for _, candidate := range validUserRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid user role %q", value)
}
