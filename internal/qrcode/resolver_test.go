package qrcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Resolved
		wantErr error
	}{
		{
			name: "json payload with event",
			raw:  `{"id":"abc-123","event":"evt2025"}`,
			want: Resolved{ParticipantRef: "abc-123", EventCode: "EVT2025", Source: SourceJSON},
		},
		{
			name: "json payload without event",
			raw:  `{"id":"abc-123"}`,
			want: Resolved{ParticipantRef: "abc-123", Source: SourceJSON},
		},
		{
			name: "compact token",
			raw:  "MF|SHORT123|12345678900|EVT2025|A1|João",
			want: Resolved{ParticipantRef: "SHORT123", EventCode: "EVT2025", Source: SourceCompact},
		},
		{
			name: "compact token without event claim",
			raw:  "MF|SHORT123|12345678900|-|A1|João",
			want: Resolved{ParticipantRef: "SHORT123", Source: SourceCompact},
		},
		{
			name:    "compact token with missing fields",
			raw:     "MF|SHORT123|12345678900",
			wantErr: ErrMalformedToken,
		},
		{
			name:    "compact token with blank short id",
			raw:     "MF||12345678900|EVT2025|A1|João",
			wantErr: ErrMalformedToken,
		},
		{
			name: "raw cpf fallback",
			raw:  "12345678900",
			want: Resolved{ParticipantRef: "12345678900", Source: SourceRawID},
		},
		{
			name: "raw input is trimmed",
			raw:  "  SHORT123  ",
			want: Resolved{ParticipantRef: "SHORT123", Source: SourceRawID},
		},
		{
			name: "invalid json falls back to raw",
			raw:  "{not-json",
			want: Resolved{ParticipantRef: "{not-json", Source: SourceRawID},
		},
		{
			name:    "empty input",
			raw:     "   ",
			wantErr: ErrEmptyInput,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.raw)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveForEvent(t *testing.T) {
	t.Run("matching claim passes", func(t *testing.T) {
		res, err := ResolveForEvent("MF|SHORT123|12345678900|EVT2025|A1|João", "EVT2025")
		require.NoError(t, err)
		assert.Equal(t, "SHORT123", res.ParticipantRef)
	})

	t.Run("mismatching claim rejected", func(t *testing.T) {
		_, err := ResolveForEvent("MF|SHORT123|12345678900|EVT2025|A1|João", "EVT2026")
		require.ErrorIs(t, err, ErrEventMismatch)
	})

	t.Run("no claim passes any target", func(t *testing.T) {
		res, err := ResolveForEvent("MF|SHORT123|12345678900|-|A1|João", "EVT2026")
		require.NoError(t, err)
		assert.Empty(t, res.EventCode)
	})

	t.Run("case insensitive comparison", func(t *testing.T) {
		_, err := ResolveForEvent(`{"id":"abc","event":"evt2025"}`, "evt2025")
		require.NoError(t, err)
	})

	t.Run("empty target skips the check", func(t *testing.T) {
		res, err := ResolveForEvent(`{"id":"abc","event":"EVT2025"}`, "")
		require.NoError(t, err)
		assert.Equal(t, "EVT2025", res.EventCode)
	})
}

func TestCompactPayloadRoundTrip(t *testing.T) {
	payload := CompactPayload("ABCD1234", "12345678901", "evt2025", "A1", "Maria | Silva")
	assert.Equal(t, "MF|ABCD1234|12345678901|EVT2025|A1|Maria   Silva", payload)

	res, err := Resolve(payload)
	require.NoError(t, err)
	assert.Equal(t, "ABCD1234", res.ParticipantRef)
	assert.Equal(t, "EVT2025", res.EventCode)
	assert.Equal(t, SourceCompact, res.Source)
}

func TestCompactPayloadPlaceholders(t *testing.T) {
	payload := CompactPayload("ABCD1234", "12345678901", "", "", "Jo")
	assert.Equal(t, "MF|ABCD1234|12345678901|-|-|Jo", payload)

	res, err := Resolve(payload)
	require.NoError(t, err)
	assert.Empty(t, res.EventCode)
}
