package model

import "time"

// Approval statuses as stored in `participants.approval_status`.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// Participant is a person registered for exactly one event.  The
// event reference is part of every lookup performed by the access
// layer: a participant must never be matched against another event's
// ledger, even when short IDs collide across events.
//
// Fields:
//  ID             – UUID primary key.
//  ShortID        – 8 character code embedded in compact QR payloads,
//                   unique within the event.
//  EventID        – owning event (exactly one, immutable).
//  StandID        – optional stand the participant registered under.
//  Name           – full name.
//  CPF            – national document number, digits only.
//  Email, Phone   – contact fields, opaque to the access layer.
//  ApprovalStatus – pending, approved or rejected.
//  DeletedAt      – soft-delete timestamp; a deleted participant is
//                   excluded from every count and lookup.
type Participant struct {
	ID             string     // participants.id (uuid)
	ShortID        string     // participants.short_id
	EventID        uint64     // participants.event_id
	StandID        *uint64    // participants.stand_id (nullable)
	Name           string     // participants.name
	CPF            string     // participants.cpf
	Email          string     // participants.email
	Phone          string     // participants.phone
	ApprovalStatus string     // participants.approval_status
	DeletedAt      *time.Time // participants.deleted_at (nullable)
	CreatedAt      time.Time  // participants.created_at
	UpdatedAt      time.Time  // participants.updated_at
}

// IsApproved reports whether the participant passed approval.
func (p *Participant) IsApproved() bool { return p.ApprovalStatus == ApprovalApproved }
