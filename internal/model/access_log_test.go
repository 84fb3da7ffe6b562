package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPresenceFromLast(t *testing.T) {
	now := time.Now().UTC()

	t.Run("no history means outside", func(t *testing.T) {
		st := PresenceFromLast(nil)
		assert.False(t, st.IsInside)
		assert.True(t, st.CanEnter)
		assert.False(t, st.CanExit)
		assert.False(t, st.HasHistory)
	})

	t.Run("last entry means inside", func(t *testing.T) {
		st := PresenceFromLast(&AccessLog{Type: AccessEntry, Gate: "G1", CreatedAt: now})
		assert.True(t, st.IsInside)
		assert.False(t, st.CanEnter)
		assert.True(t, st.CanExit)
		assert.Equal(t, "G1", st.LastGate)
	})

	t.Run("last exit means outside", func(t *testing.T) {
		st := PresenceFromLast(&AccessLog{Type: AccessExit, CreatedAt: now})
		assert.False(t, st.IsInside)
		assert.True(t, st.CanEnter)
		assert.True(t, st.HasHistory)
	})
}

func TestOccupancyPercentage(t *testing.T) {
	cases := []struct {
		inside int64
		max    uint32
		want   int
	}{
		{0, 100, 0},
		{50, 100, 50},
		{1, 3, 33},
		{2, 3, 67}, // rounded, not truncated
		{100, 100, 100},
		{10, 0, 0}, // unlimited events report zero
	}
	for _, tc := range cases {
		s := AccessStats{CurrentInsideCount: tc.inside}
		assert.Equal(t, tc.want, s.OccupancyPercentage(tc.max))
	}
}
