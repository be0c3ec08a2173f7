package rbac

type Role string
type Action string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

const (
	// ActionRead covers the reactive snapshots every signed-in user sees.
	ActionRead Action = "read"
	// ActionParticipate covers voting, chat, quiz tracking, and focus sessions.
	ActionParticipate Action = "participate"
	// ActionAdmin covers content CRUD, poll publishing, gifting, resets, and blocking.
	ActionAdmin Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleStudent:
		return action == ActionRead || action == ActionParticipate
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleStudent, RoleAdmin:
		return Role(role)
	default:
		return RoleStudent
	}
}
