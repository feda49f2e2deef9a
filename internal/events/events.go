// Package events carries lifecycle notifications out of the engine after a
// command commits. Consumers are downstream collaborators; clients still poll.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Type names an event; it is also the last subject token on NATS.
type Type string

const (
	LotActivated  Type = "lot.activated"
	LotSold       Type = "lot.sold"
	LotClosed     Type = "lot.closed"
	BidAccepted   Type = "bid.accepted"
	TimerAdjusted Type = "timer.adjusted"
	AuctionReset  Type = "auction.reset"
	AuctionEnded  Type = "auction.ended"
)

// Event is one committed state change.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Type      Type            `json:"type"`
	AuctionID int             `json:"auction_id"`
	LotID     int             `json:"lot_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// New builds an event with a fresh id.
func New(t Type, auctionID, lotID int, payload any, at time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Event{
		ID:        uuid.New(),
		Type:      t,
		AuctionID: auctionID,
		LotID:     lotID,
		Payload:   data,
		CreatedAt: at,
	}, nil
}

// Publisher delivers events somewhere.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// LogPublisher writes events to the zerolog logger. Used when no broker is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, event Event) error {
	log.Info().
		Str("event_id", event.ID.String()).
		Str("event_type", string(event.Type)).
		Int("auction_id", event.AuctionID).
		Int("lot_id", event.LotID).
		RawJSON("payload", event.Payload).
		Msg("auction event")
	return nil
}

func (LogPublisher) Close() error { return nil }
