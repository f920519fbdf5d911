package models

// Role is carried in the bearer token and gates admin-only surfaces.
// Venue ownership and requester identity are relational and are decided per
// reservation, not by role.
type Role string

const (
	RolePlayer Role = "player"
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleSystem Role = "system"
)

// Actor identifies who is invoking an authorization-sensitive operation.
type Actor struct {
	UserID int64 `json:"user_id"`
	Role   Role  `json:"role"`
}

// SystemActor performs time-based transitions.
var SystemActor = Actor{Role: RoleSystem}

type Action string

const (
	ActionConfirm  Action = "confirm"
	ActionReject   Action = "reject"
	ActionCancel   Action = "cancel"
	ActionComplete Action = "complete"
)

func ParseAction(s string) (Action, bool) {
	switch a := Action(s); a {
	case ActionConfirm, ActionReject, ActionCancel, ActionComplete:
		return a, true
	}
	return "", false
}
