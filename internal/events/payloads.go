package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// LotActivatedPayload is the payload for a lot.activated event
type LotActivatedPayload struct {
	LotID           int             `json:"lot_id"`
	StartingPrice   decimal.Decimal `json:"starting_price"`
	TimerStartedAt  time.Time       `json:"timer_started_at"`
	DurationSeconds int             `json:"duration_seconds"`
}

// LotSoldPayload is the payload for a lot.sold event
type LotSoldPayload struct {
	LotID        int             `json:"lot_id"`
	SettlementID int             `json:"settlement_id"`
	BuyerID      int             `json:"buyer_id"`
	SellerID     int             `json:"seller_id"`
	FinalPrice   decimal.Decimal `json:"final_price"`
	SoldAt       time.Time       `json:"sold_at"`
}

// LotClosedPayload is the payload for a lot.closed event
type LotClosedPayload struct {
	LotID    int       `json:"lot_id"`
	ClosedAt time.Time `json:"closed_at"`
}

// BidAcceptedPayload is the payload for a bid.accepted event
type BidAcceptedPayload struct {
	LotID         int             `json:"lot_id"`
	BidderID      int             `json:"bidder_id"`
	Amount        decimal.Decimal `json:"amount"`
	PreviousPrice decimal.Decimal `json:"previous_price"`
	NextMinimum   decimal.Decimal `json:"next_minimum"`
	PlacedAt      time.Time       `json:"placed_at"`
}

// TimerAdjustedPayload is the payload for a timer.adjusted event
type TimerAdjustedPayload struct {
	LotID           int       `json:"lot_id"`
	TimerStartedAt  time.Time `json:"timer_started_at"`
	DurationSeconds int       `json:"duration_seconds"`
}

// AuctionResetPayload is the payload for an auction.reset event
type AuctionResetPayload struct {
	ResetAt time.Time `json:"reset_at"`
}

// AuctionEndedPayload is the payload for an auction.ended event
type AuctionEndedPayload struct {
	EndedAt time.Time `json:"ended_at"`
}
