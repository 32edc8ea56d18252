// Package rbac provides role-based access control checks for admin commands.
package rbac

import (
	"fmt"

	"github.com/NicolasHaas/mediachat/pkg/model"
)

// permissionMatrix maps roles to their allowed permissions.
var permissionMatrix = map[model.Role]map[model.Permission]bool{
	model.RoleAdmin: {
		model.PermPunish:           true,
		model.PermRemovePunishment: true,
		model.PermListPunishments:  true,
	},
	model.RoleUser: {
		// chat and file transfer need no permission
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role model.Role, perm model.Permission) bool {
	perms, ok := permissionMatrix[role]
	if !ok {
		return false
	}
	return perms[perm]
}

// ErrPermissionDenied is wrapped by the error returned from Require.
var ErrPermissionDenied = fmt.Errorf("permission denied")

// Require returns nil if the role holds the permission.
func Require(role model.Role, perm model.Permission) error {
	if HasPermission(role, perm) {
		return nil
	}
	return fmt.Errorf("%w: %s requires %s role", ErrPermissionDenied, permName(perm), model.RoleAdmin)
}

func permName(p model.Permission) string {
	switch p {
	case model.PermPunish:
		return "punish"
	case model.PermRemovePunishment:
		return "remove_punishment"
	case model.PermListPunishments:
		return "list_punishments"
	default:
		return "unknown"
	}
}
