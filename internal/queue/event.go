// Package queue defines message payloads exchanged over the message broker.
package queue

// AccessRecordedEvent is published after every successful check-in or
// check-out.  It carries enough information for downstream consumers
// (turnstile controllers, badge printers, analytics) to react without
// querying the primary database.  Publishing is fire-and-forget: a
// broker failure never blocks or reverts the ledger append.
type AccessRecordedEvent struct {
	AccessLogID     uint64 `json:"access_log_id"`
	EventID         uint64 `json:"event_id"`
	EventCode       string `json:"event_code,omitempty"`
	ParticipantID   string `json:"participant_id"`
	ParticipantName string `json:"participant_name"`
	Type            string `json:"type"`
	Gate            string `json:"gate,omitempty"`
	OperatorName    string `json:"operator,omitempty"`
	Forced          bool   `json:"forced,omitempty"`
	InsideCount     int64  `json:"inside_count"`
	RecordedAt      string `json:"recorded_at"`
}
