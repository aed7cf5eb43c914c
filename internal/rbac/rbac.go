package rbac

type Role string
type Action string

// Project roles. Workspace admins bypass project-level checks entirely.
const (
	RoleViewer  Role = "viewer"
	RoleMember  Role = "member"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

const (
	ActionRead       Action = "read"
	ActionPost       Action = "post"    // messages, RFI replies
	ActionUpload     Action = "upload"  // documents
	ActionManage     Action = "manage"  // RFIs, tenders, status transitions
	ActionAdminister Action = "admin"   // team membership, project settings
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleManager:
		return action == ActionRead || action == ActionPost || action == ActionUpload || action == ActionManage
	case RoleMember:
		return action == ActionRead || action == ActionPost || action == ActionUpload
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleMember, RoleManager, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
