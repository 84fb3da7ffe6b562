package model

import "time"

// Stand is a sub-allocation unit inside an event (an exhibitor booth)
// with its own bounded registration capacity.  CurrentCount mirrors
// the number of active participants assigned to the stand and obeys
// the same atomic mutation discipline as Event.CurrentCount: it is
// never allowed above MaxRegistrations and never below zero.
//
// Fields:
//  ID               – primary key identifier.
//  EventID          – owning event.
//  Code             – stand code, unique within the event (e.g. "A1").
//  Name             – display name.
//  MaxRegistrations – registration slot limit.
//  CurrentCount     – denormalized count of active participants.
type Stand struct {
	ID               uint64    // stands.id
	EventID          uint64    // stands.event_id
	Code             string    // stands.code
	Name             string    // stands.name
	MaxRegistrations uint32    // stands.max_registrations
	CurrentCount     uint32    // stands.current_count
	CreatedAt        time.Time // stands.created_at
	UpdatedAt        time.Time // stands.updated_at
}

// AvailableSlots returns how many registration slots remain.
func (s *Stand) AvailableSlots() int {
	free := int(s.MaxRegistrations) - int(s.CurrentCount)
	if free < 0 {
		return 0
	}
	return free
}

// IsFull reports whether the stand has no remaining slots.
func (s *Stand) IsFull() bool { return s.CurrentCount >= s.MaxRegistrations }
