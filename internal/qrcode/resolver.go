// Package qrcode resolves raw scanned or typed identifiers into a
// canonical participant reference.  Resolution is pure: it never
// touches the database and never mutates state.  The decoded QR
// string arrives here from the terminal; actual QR image decoding is
// out of scope.
package qrcode

import (
	"encoding/json"
	"errors"
	"strings"
)

// Source tags which of the accepted encodings matched.
type Source string

const (
	// SourceRawID means the input was used verbatim (manual CPF or id entry).
	SourceRawID Source = "RAW_ID"
	// SourceJSON means the input was a JSON payload with an "id" field.
	SourceJSON Source = "JSON"
	// SourceCompact means the input was a pipe-delimited compact token.
	SourceCompact Source = "COMPACT"
)

// compactPrefix marks the pipe-delimited compact token:
// MF|<shortId>|<cpf>|<eventCode>|<stand>|<name>
const compactPrefix = "MF|"

// compactFields is the exact field count of a compact token.
const compactFields = 6

// noEventClaim is the placeholder used in compact tokens for
// participants without an event code.
const noEventClaim = "-"

// ErrEmptyInput is returned when the scanned string is blank.
var ErrEmptyInput = errors.New("empty identifier")

// ErrMalformedToken is returned when a compact token does not carry
// the expected number of fields.
var ErrMalformedToken = errors.New("malformed compact token")

// ErrEventMismatch is returned when the identifier claims an event
// code different from the event the terminal operates on.  Rejecting
// here prevents a credential printed for one event from being used at
// another event's gates.
var ErrEventMismatch = errors.New("identifier belongs to a different event")

// Resolved is the canonical form of a scanned identifier.
type Resolved struct {
	// ParticipantRef is the participant identifier to look up: a full
	// id, an 8 character short id or a bare CPF depending on source.
	ParticipantRef string
	// EventCode is the event claimed by the credential, empty when
	// the encoding carries no claim.
	EventCode string
	// Source records which encoding matched.
	Source Source
}

// jsonPayload mirrors the QR JSON encoding.  Only the fields the
// access layer consumes are declared; anything else is ignored.
type jsonPayload struct {
	ID    string `json:"id"`
	Event string `json:"event"`
}

// Resolve normalizes a raw scanned or typed identifier.  The three
// encodings are tried in order: JSON payload, compact pipe token,
// then the raw string verbatim.
func Resolve(raw string) (Resolved, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Resolved{}, ErrEmptyInput
	}

	if strings.HasPrefix(raw, "{") {
		var p jsonPayload
		if err := json.Unmarshal([]byte(raw), &p); err == nil && p.ID != "" {
			return Resolved{
				ParticipantRef: p.ID,
				EventCode:      strings.ToUpper(strings.TrimSpace(p.Event)),
				Source:         SourceJSON,
			}, nil
		}
		// Not valid JSON (or no id field): fall through to the other
		// encodings rather than failing a manual entry that happens
		// to start with a brace.
	}

	if strings.HasPrefix(raw, compactPrefix) {
		parts := strings.Split(raw, "|")
		if len(parts) != compactFields {
			return Resolved{}, ErrMalformedToken
		}
		shortID := strings.TrimSpace(parts[1])
		if shortID == "" {
			return Resolved{}, ErrMalformedToken
		}
		code := strings.TrimSpace(parts[3])
		if code == noEventClaim {
			code = ""
		}
		return Resolved{
			ParticipantRef: shortID,
			EventCode:      strings.ToUpper(code),
			Source:         SourceCompact,
		}, nil
	}

	return Resolved{ParticipantRef: raw, Source: SourceRawID}, nil
}

// ResolveForEvent resolves raw and enforces that any event claim in
// the credential matches targetEventCode.  An empty claim always
// passes; an empty target skips the check.
func ResolveForEvent(raw, targetEventCode string) (Resolved, error) {
	res, err := Resolve(raw)
	if err != nil {
		return Resolved{}, err
	}
	target := strings.ToUpper(strings.TrimSpace(targetEventCode))
	if res.EventCode != "" && target != "" && res.EventCode != target {
		return Resolved{}, ErrEventMismatch
	}
	return res, nil
}

// CompactPayload builds the pipe-delimited token embedded in printed
// QR badges.  Blank eventCode and stand become the "-" placeholder;
// pipes inside the name would corrupt the framing and are stripped.
func CompactPayload(shortID, cpf, eventCode, stand, name string) string {
	if eventCode == "" {
		eventCode = noEventClaim
	}
	if stand == "" {
		stand = noEventClaim
	}
	name = strings.ReplaceAll(name, "|", " ")
	return compactPrefix + strings.Join([]string{
		shortID, cpf, strings.ToUpper(eventCode), stand, name,
	}, "|")
}
