package auth

// Role represents an authorisation tier for API callers.
type Role string

const (
	// RoleViewer may read connection state, devices and history.
	RoleViewer Role = "viewer"

	// RoleOperator may additionally switch relays, send raw RPC calls and
	// force a reconnect.
	RoleOperator Role = "operator"
)

// IsValidRole reports whether r is a known role.
func IsValidRole(r Role) bool {
	_, ok := rolePermissions[r]
	return ok
}

// Permission represents a named capability in the API.
type Permission string

// Permission constants.
const (
	PermDeviceRead       Permission = "device:read"
	PermDeviceOperate    Permission = "device:operate"
	PermConnectionRead   Permission = "connection:read"
	PermConnectionManage Permission = "connection:manage"
)

// rolePermissions maps each role to its granted permissions.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermDeviceRead,
		PermConnectionRead,
	},
	RoleOperator: {
		PermDeviceRead,
		PermDeviceOperate,
		PermConnectionRead,
		PermConnectionManage,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns all permissions granted to a role.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}
