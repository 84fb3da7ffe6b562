package model

import "time"

// Event statuses as stored in the `events.status` column.
const (
	EventStatusDraft  = "draft"
	EventStatusActive = "active"
	EventStatusClosed = "closed"
)

// Event represents a registrable event with a bounded overall
// attendee capacity.  CurrentCount is a denormalized counter of
// active (non-deleted) participants; it is only ever mutated through
// the atomic reserve/release statements in the repository layer and
// must stay equal to the real participant count.
//
// Fields:
//  ID           – primary key identifier.
//  Code         – short human-readable token printed inside QR payloads.
//  Slug         – URL-friendly unique name.
//  Name         – display name.
//  Status       – lifecycle state (draft, active, closed).
//  MaxCapacity  – maximum number of registered participants (0 = unlimited).
//  CurrentCount – denormalized count of active participants.
//  StartsAt     – event opening timestamp (nullable).
//  EndsAt       – event closing timestamp (nullable).
type Event struct {
	ID           uint64     // events.id
	Code         string     // events.code
	Slug         string     // events.slug
	Name         string     // events.name
	Status       string     // events.status
	MaxCapacity  uint32     // events.max_capacity
	CurrentCount uint32     // events.current_count
	StartsAt     *time.Time // events.starts_at (nullable)
	EndsAt       *time.Time // events.ends_at (nullable)
	CreatedAt    time.Time  // events.created_at
	UpdatedAt    time.Time  // events.updated_at
}
