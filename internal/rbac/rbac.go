package rbac

type Role string
type Action string

const (
	RoleClient Role = "client"
	RoleLawyer Role = "lawyer"
	RoleAdmin  Role = "admin"
)

const (
	ActionRead            Action = "read"
	ActionUpload          Action = "upload"
	ActionWrite           Action = "write"
	ActionManageClients   Action = "manage_clients"
	ActionManageTemplates Action = "manage_templates"
	ActionAdmin           Action = "admin"
)

// Can reports whether role may perform action. Ownership checks for clients
// happen at the service layer.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleLawyer:
		return action != ActionAdmin
	case RoleClient:
		return action == ActionRead || action == ActionUpload
	default:
		return false
	}
}

// IsStaff is true for roles that see every client's records.
func IsStaff(role Role) bool {
	return role == RoleLawyer || role == RoleAdmin
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleClient, RoleLawyer, RoleAdmin:
		return Role(role)
	default:
		return RoleClient
	}
}
