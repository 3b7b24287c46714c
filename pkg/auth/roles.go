// Package auth resolves every request to a role and, for viewer-facing
// streams, a viewer access tier. Access is always computed server-side;
// nothing in a client payload is trusted for authorization.
package auth

// Role is the hierarchical request role.
type Role int

const (
	RolePublic Role = iota
	RolePremium
	RoleTeam
	RoleOrganizer
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RolePremium:
		return "premium"
	case RoleTeam:
		return "team"
	case RoleOrganizer:
		return "organizer"
	case RoleAdmin:
		return "admin"
	default:
		return "public"
	}
}

// AtLeast reports whether the role meets a minimum.
func (r Role) AtLeast(min Role) bool {
	return r >= min
}

// ViewerAccess is the tier the permission filter projects against.
// Organizer and admin roles view as team.
type ViewerAccess string

const (
	ViewerPublic  ViewerAccess = "public"
	ViewerPremium ViewerAccess = "premium"
	ViewerTeam    ViewerAccess = "team"
)

// AuthInfo is the resolved identity threaded through handlers.
type AuthInfo struct {
	Role Role
	// VehicleID is set when the credential was a truck token.
	VehicleID string
	// EventID is set when a truck token resolved against an event.
	EventID string
	// SubscriberID is set for premium JWT credentials.
	SubscriberID string
}

// Viewer maps the role to a viewer tier. A team credential that did not
// validate for the requested event never reaches this with RoleTeam; the
// resolver downgrades it to RolePublic first.
func (a AuthInfo) Viewer() ViewerAccess {
	switch {
	case a.Role >= RoleTeam:
		return ViewerTeam
	case a.Role == RolePremium:
		return ViewerPremium
	default:
		return ViewerPublic
	}
}
