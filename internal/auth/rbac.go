package auth

import (
	"errors"

	"github.com/multicloud-portal/portal/internal/models"
)

// RBAC errors.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidRole      = errors.New("invalid role")
)

// rolePermissions defines which permissions each role has.
// Each role holds every permission of the role below it.
var rolePermissions = map[models.Role][]models.Permission{
	models.RoleViewer: {
		models.PermRead,
	},
	models.RoleUser: {
		models.PermRead,
		models.PermWrite,
		models.PermDeploy,
	},
	models.RoleAdmin: {
		models.PermRead,
		models.PermWrite,
		models.PermDeploy,
		models.PermDelete,
		models.PermManageUsers,
	},
}

// PermissionsFor returns the permission set of a role. Unknown roles get none.
func PermissionsFor(role models.Role) []models.Permission {
	perms := rolePermissions[role]
	out := make([]models.Permission, len(perms))
	copy(out, perms)
	return out
}

// CheckRolePermission checks if a role has a specific permission.
func CheckRolePermission(role models.Role, permission models.Permission) error {
	permissions, ok := rolePermissions[role]
	if !ok {
		return ErrPermissionDenied
	}
	for _, p := range permissions {
		if p == permission {
			return nil
		}
	}
	return ErrPermissionDenied
}

// WithDerivedPermissions returns u with Permissions recomputed from its role.
// Permissions reported by the deployment API are not trusted.
func WithDerivedPermissions(u models.User) models.User {
	if !u.Role.IsValid() {
		u.Role = models.RoleViewer
	}
	u.Permissions = PermissionsFor(u.Role)
	return u
}
