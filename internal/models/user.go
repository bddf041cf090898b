package models

import "github.com/google/uuid"

type UserRole string

const (
	UserRoleClinician UserRole = "clinician"
	UserRoleAdmin     UserRole = "admin"
	UserRolePatient   UserRole = "patient"
)

// User is the authenticated caller as asserted by the surrounding
// application's access token.
type User struct {
	ID   uuid.UUID
	Role UserRole
}

func (u User) IsStaff() bool {
	return u.Role == UserRoleClinician || u.Role == UserRoleAdmin
}

// PeerRole is the static negotiation role of a participant in a room.
type PeerRole string

const (
	PeerRoleInitiator PeerRole = "initiator"
	PeerRoleResponder PeerRole = "responder"
)

// Other returns the role of the remote participant.
func (r PeerRole) Other() PeerRole {
	if r == PeerRoleInitiator {
		return PeerRoleResponder
	}
	return PeerRoleInitiator
}
