package model

import "time"

// Access log entry types.
const (
	AccessEntry = "ENTRY"
	AccessExit  = "EXIT"
)

// Verification methods recorded with each access log entry.
const (
	VerificationQRCode = "QR_CODE"
	VerificationManual = "MANUAL"
)

// AccessLog is one immutable row of the access ledger.  Rows are only
// ever inserted, never updated or deleted; the ordered sequence of
// rows for a (participant, event) pair is that participant's presence
// history and the audit trail for administrative overrides.
//
// Fields:
//  ID                 – primary key identifier.
//  ParticipantID      – participant this entry belongs to.
//  EventID            – event this entry belongs to.
//  Type               – ENTRY or EXIT.
//  Gate               – gate/terminal name, when supplied.
//  OperatorName       – operator who performed the scan.
//  DeviceIP           – source address of the recording terminal.
//  VerificationMethod – QR_CODE or MANUAL.
//  Forced             – true when an administrative override bypassed
//                       the approval or presence precondition.
//  Notes              – free-form annotation (e.g. computed stay time).
//  IdempotencyKey     – client supplied dedup token, unique per event.
type AccessLog struct {
	ID                 uint64    // access_logs.id
	ParticipantID      string    // access_logs.participant_id
	EventID            uint64    // access_logs.event_id
	Type               string    // access_logs.type
	Gate               string    // access_logs.gate
	OperatorName       string    // access_logs.operator_name
	DeviceIP           string    // access_logs.device_ip
	VerificationMethod string    // access_logs.verification_method
	Forced             bool      // access_logs.forced
	Notes              string    // access_logs.notes
	IdempotencyKey     string    // access_logs.idempotency_key
	CreatedAt          time.Time // access_logs.created_at
}

// PresenceState is the derived inside/outside status of a participant
// at an event.  It is computed from the most recent ledger entry and
// never stored.
type PresenceState struct {
	IsInside   bool       `json:"is_inside"`
	CanEnter   bool       `json:"can_enter"`
	CanExit    bool       `json:"can_exit"`
	LastType   string     `json:"last_type,omitempty"`
	LastTime   *time.Time `json:"last_time,omitempty"`
	LastGate   string     `json:"last_gate,omitempty"`
	HasHistory bool       `json:"has_history"`
}

// PresenceFromLast derives the presence state from the most recent
// ledger entry.  A nil entry means the participant never passed a
// gate and is therefore outside.
func PresenceFromLast(last *AccessLog) PresenceState {
	st := PresenceState{CanEnter: true}
	if last == nil {
		return st
	}
	st.HasHistory = true
	st.LastType = last.Type
	t := last.CreatedAt
	st.LastTime = &t
	st.LastGate = last.Gate
	if last.Type == AccessEntry {
		st.IsInside = true
		st.CanEnter = false
		st.CanExit = true
	}
	return st
}
