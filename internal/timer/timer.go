// Package timer is the single authority on how long the active lot keeps
// accepting bids. The stored anchor pair (start, duration) is the only truth;
// every reader recomputes the remaining time from it.
package timer

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/xtrntr/auctionroom/internal/models"
)

// MaxDurationSeconds bounds seller supplied durations.
const MaxDurationSeconds = 24 * 60 * 60

// Anchor is the stored timer state of an auction.
type Anchor struct {
	StartedAt time.Time
	Duration  time.Duration
}

// DurationSeconds returns the duration in whole seconds as stored.
func (a Anchor) DurationSeconds() int {
	return int(a.Duration / time.Second)
}

// Deadline is the instant the anchor expires.
func (a Anchor) Deadline() time.Time {
	return a.StartedAt.Add(a.Duration)
}

// Remaining returns max(0, duration - (now - started)).
func (a Anchor) Remaining(now time.Time) time.Duration {
	left := a.Duration - now.Sub(a.StartedAt)
	if left < 0 {
		return 0
	}
	return left
}

// FromAuction reads the anchor pair off an auction. ok is false when the
// timer is not set.
func FromAuction(a *models.Auction) (Anchor, bool) {
	if a.TimerStartedAt == nil || a.TimerDurationSeconds == nil {
		return Anchor{}, false
	}
	return Anchor{
		StartedAt: *a.TimerStartedAt,
		Duration:  time.Duration(*a.TimerDurationSeconds) * time.Second,
	}, true
}

// ValidateSeconds checks a seller supplied duration.
func ValidateSeconds(seconds int) error {
	if seconds <= 0 {
		return fmt.Errorf("duration must be positive")
	}
	if seconds > MaxDurationSeconds {
		return fmt.Errorf("duration must be at most %d seconds", MaxDurationSeconds)
	}
	return nil
}

// Authority creates anchors and evaluates them against its clock.
type Authority struct {
	clock           clockwork.Clock
	defaultDuration time.Duration
}

// NewAuthority creates a timer authority. A zero default falls back to 300s.
func NewAuthority(clock clockwork.Clock, defaultDuration time.Duration) *Authority {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if defaultDuration <= 0 {
		defaultDuration = 300 * time.Second
	}
	return &Authority{clock: clock, defaultDuration: defaultDuration}
}

// Now returns the authority's current time in UTC.
func (t *Authority) Now() time.Time {
	return t.clock.Now().UTC()
}

// DefaultSeconds is the duration used when the seller does not pick one.
func (t *Authority) DefaultSeconds() int {
	return int(t.defaultDuration / time.Second)
}

// Start anchors a new countdown at now. seconds <= 0 uses the default.
func (t *Authority) Start(seconds int) Anchor {
	d := t.defaultDuration
	if seconds > 0 {
		d = time.Duration(seconds) * time.Second
	}
	return Anchor{StartedAt: t.Now().Truncate(time.Microsecond), Duration: d}
}

// Remaining evaluates an anchor against the authority's clock.
func (t *Authority) Remaining(a Anchor) time.Duration {
	return a.Remaining(t.Now())
}

// Expired reports whether the anchor has no time left.
func (t *Authority) Expired(a Anchor) bool {
	return t.Remaining(a) <= 0
}
