package rbac

type Role string

const (
	RoleSupport    Role = "support"
	RoleModerator  Role = "moderator"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Permissions granted to admin roles. Names match the admin permission
// catalogue stored with each admin account.
const (
	PermViewSubmissions    = "view_submissions"
	PermApproveSubmissions = "approve_submissions"
	PermManageSubmissions  = "manage_submissions"
)

var catalogue = []string{
	PermViewSubmissions,
	PermApproveSubmissions,
	PermManageSubmissions,
}

func Permissions(role Role) []string {
	switch role {
	case RoleSuperAdmin, RoleAdmin:
		return append([]string(nil), catalogue...)
	case RoleModerator:
		return []string{PermViewSubmissions, PermApproveSubmissions}
	case RoleSupport:
		return []string{PermViewSubmissions}
	default:
		return nil
	}
}

func Can(role Role, permission string) bool {
	if role == RoleSuperAdmin {
		return true
	}
	for _, p := range Permissions(role) {
		if p == permission {
			return true
		}
	}
	return false
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleSupport, RoleModerator, RoleAdmin, RoleSuperAdmin:
		return Role(role)
	default:
		return RoleSupport
	}
}
