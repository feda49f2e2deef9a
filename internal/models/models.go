package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User represents a registered user
type User struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Auction is a seller's room. ActiveLotID is the only source of active-ness.
type Auction struct {
	ID                   int        `json:"id"`
	OwnerID              int        `json:"owner_id"`
	Name                 string     `json:"name"`
	StartTime            time.Time  `json:"start_time"`
	EndTime              time.Time  `json:"end_time"`
	ActiveLotID          *int       `json:"active_lot_id"`
	TimerStartedAt       *time.Time `json:"timer_started_at"`
	TimerDurationSeconds *int       `json:"timer_duration_seconds"`
	Ended                bool       `json:"ended"`
	CreatedAt            time.Time  `json:"created_at"`
}

// Lot is a single item up for bid. Creation order is ID order.
type Lot struct {
	ID           int             `json:"id"`
	AuctionID    int             `json:"auction_id"`
	Title        string          `json:"title"`
	MinBid       decimal.Decimal `json:"min_bid"`
	BidIncrement decimal.Decimal `json:"bid_increment"`
	Sold         bool            `json:"sold"`
	ClosedAt     *time.Time      `json:"closed_at"`
	CreatedAt    time.Time       `json:"created_at"`
}

// LotState is derived, never stored.
type LotState string

const (
	LotPending LotState = "pending"
	LotActive  LotState = "active"
	LotSold    LotState = "sold"
	LotClosed  LotState = "closed"
)

// StateOf derives the lot state from the auction's active pointer and the lot flags.
func StateOf(a *Auction, l *Lot) LotState {
	switch {
	case a.ActiveLotID != nil && *a.ActiveLotID == l.ID:
		return LotActive
	case l.Sold:
		return LotSold
	case l.ClosedAt != nil:
		return LotClosed
	default:
		return LotPending
	}
}

// CurrentBid is the price row of an activated lot. Version increases on
// every write and is the compare-and-set token for bids.
type CurrentBid struct {
	LotID        int             `json:"lot_id"`
	BidderID     *int            `json:"bidder_id"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	Version      int64           `json:"version"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// BidHistoryEntry is an immutable accepted bid.
type BidHistoryEntry struct {
	ID        int             `json:"id"`
	LotID     int             `json:"lot_id"`
	BidderID  int             `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// Settlement is written when a lot is sold
type Settlement struct {
	ID         int             `json:"id"`
	LotID      int             `json:"lot_id"`
	BuyerID    int             `json:"buyer_id"`
	SellerID   int             `json:"seller_id"`
	FinalPrice decimal.Decimal `json:"final_price"`
	CreatedAt  time.Time       `json:"created_at"`
}
