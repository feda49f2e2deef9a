package timer

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/xtrntr/auctionroom/internal/models"
)

func TestAnchor_Remaining(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	anchor := Anchor{StartedAt: start, Duration: 5 * time.Second}

	tests := []struct {
		name     string
		now      time.Time
		expected time.Duration
	}{
		{"at start", start, 5 * time.Second},
		{"midway", start.Add(2 * time.Second), 3 * time.Second},
		{"exactly at deadline", start.Add(5 * time.Second), 0},
		{"after deadline", start.Add(6 * time.Second), 0},
		{"clock behind anchor", start.Add(-time.Second), 6 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, anchor.Remaining(tt.now))
		})
	}
}

func TestFromAuction(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	secs := 30

	_, ok := FromAuction(&models.Auction{})
	assert.False(t, ok)

	_, ok = FromAuction(&models.Auction{TimerStartedAt: &start})
	assert.False(t, ok, "half-set anchor must not be treated as running")

	anchor, ok := FromAuction(&models.Auction{TimerStartedAt: &start, TimerDurationSeconds: &secs})
	assert.True(t, ok)
	assert.Equal(t, start, anchor.StartedAt)
	assert.Equal(t, 30, anchor.DurationSeconds())
	assert.Equal(t, start.Add(30*time.Second), anchor.Deadline())
}

func TestAuthority_StartAndExpire(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	auth := NewAuthority(clock, 0)

	assert.Equal(t, 300, auth.DefaultSeconds())

	anchor := auth.Start(5)
	assert.Equal(t, clock.Now().UTC(), anchor.StartedAt)
	assert.Equal(t, 5*time.Second, anchor.Duration)
	assert.False(t, auth.Expired(anchor))

	clock.Advance(6 * time.Second)
	assert.Equal(t, time.Duration(0), auth.Remaining(anchor))
	assert.True(t, auth.Expired(anchor))

	def := auth.Start(0)
	assert.Equal(t, 300*time.Second, def.Duration)
}

func TestValidateSeconds(t *testing.T) {
	assert.Error(t, ValidateSeconds(0))
	assert.Error(t, ValidateSeconds(-5))
	assert.Error(t, ValidateSeconds(MaxDurationSeconds+1))
	assert.NoError(t, ValidateSeconds(1))
	assert.NoError(t, ValidateSeconds(MaxDurationSeconds))
}
