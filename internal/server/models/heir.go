package models

import (
	"database/sql"
	"time"
)

// InvitationStatus is the lifecycle state of a heir invitation. Transitions
// only move forward: pending may become accepted, rejected or expired;
// nothing moves back to pending.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationRejected InvitationStatus = "rejected"
	InvitationExpired  InvitationStatus = "expired"
)

// AccessLevel is the owner-declared breadth of a heir's prospective access.
type AccessLevel string

const (
	AccessLevelFull    AccessLevel = "full"
	AccessLevelPartial AccessLevel = "partial"
	AccessLevelView    AccessLevel = "view"
)

// Heir is a person designated by an owner. Before acceptance the heir is
// identified only by the invitation code; HeirUserID is set by the single
// conditional update that consumes the code.
type Heir struct {
	ID                  string
	OwnerID             string
	Name                string
	Relationship        string
	AccessLevel         AccessLevel
	HeirUserID          sql.NullString
	BoxPublicKey        []byte
	InvitationCode      string
	InvitationStatus    InvitationStatus
	InvitationExpiresAt time.Time
	HasAccepted         bool
	AcceptedAt          sql.NullTime
	IsActive            bool
	CreatedAt           time.Time
}
