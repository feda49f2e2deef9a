// Package store defines the transactional persistence the auction engine
// runs on. internal/db implements it on Postgres, memstore in memory.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/auctionroom/internal/models"
	"github.com/xtrntr/auctionroom/internal/timer"
)

var (
	// ErrNotFound is returned for unknown auctions, lots or rows.
	ErrNotFound = errors.New("not found")
	// ErrBusy is returned by TryInAuction when another operation holds the auction.
	ErrBusy = errors.New("auction is busy")
	// ErrExists is returned on unique violations (usernames).
	ErrExists = errors.New("already exists")
)

// Store is the engine's view of persistence.
type Store interface {
	// InAuction runs fn in one transaction holding the auction's exclusive
	// lock, waiting for it if needed. fn's error rolls everything back.
	InAuction(ctx context.Context, auctionID int, fn func(Tx) error) error
	// TryInAuction is InAuction that fails with ErrBusy instead of waiting.
	TryInAuction(ctx context.Context, auctionID int, fn func(Tx) error) error
	// View runs fn against a single consistent read snapshot.
	View(ctx context.Context, fn func(Reader) error) error

	AuctionIDForLot(ctx context.Context, lotID int) (int, error)
	CreateAuction(ctx context.Context, a *models.Auction) (*models.Auction, error)
	CreateLot(ctx context.Context, l *models.Lot) (*models.Lot, error)
	ListAuctions(ctx context.Context) ([]models.Auction, error)
}

// Reader holds the reads available inside a transaction or snapshot.
type Reader interface {
	Auction(ctx context.Context, auctionID int) (*models.Auction, error)
	Lot(ctx context.Context, lotID int) (*models.Lot, error)
	// Lots returns the auction's lots in creation order.
	Lots(ctx context.Context, auctionID int) ([]models.Lot, error)
	// CurrentBid returns ErrNotFound when the lot was never activated.
	CurrentBid(ctx context.Context, lotID int) (*models.CurrentBid, error)
	CurrentBids(ctx context.Context, auctionID int) ([]models.CurrentBid, error)
	// History returns accepted bids of the auction, oldest first.
	History(ctx context.Context, auctionID int) ([]models.BidHistoryEntry, error)
	// Settlement returns ErrNotFound when the lot has none.
	Settlement(ctx context.Context, lotID int) (*models.Settlement, error)
	Settlements(ctx context.Context, auctionID int) ([]models.Settlement, error)
}

// Tx is a Reader that can also write. It is only valid inside InAuction.
type Tx interface {
	Reader

	SetMinBid(ctx context.Context, lotID int, minBid decimal.Decimal) error
	// PutCurrentBid (re)creates the lot's price row with no bidder at price,
	// bumping its version.
	PutCurrentBid(ctx context.Context, lotID int, price decimal.Decimal, at time.Time) (*models.CurrentBid, error)
	// CompareAndSetBid writes bidder and price only if the row is still at
	// version. It reports whether the write happened.
	CompareAndSetBid(ctx context.Context, lotID int, version int64, bidderID int, price decimal.Decimal, at time.Time) (bool, error)
	AppendHistory(ctx context.Context, e models.BidHistoryEntry) (*models.BidHistoryEntry, error)
	CreateSettlement(ctx context.Context, s models.Settlement) (*models.Settlement, error)
	// SetLotStatus writes the sold flag and closed_at together.
	SetLotStatus(ctx context.Context, lotID int, sold bool, closedAt *time.Time) error
	SetActiveLot(ctx context.Context, auctionID int, lotID *int) error
	// SetTimer writes the anchor pair; nil clears both fields.
	SetTimer(ctx context.Context, auctionID int, anchor *timer.Anchor) error
	SetEnded(ctx context.Context, auctionID int) error
	// ResetAuction deletes current bids, history and settlements of every lot,
	// clears sold/closed flags, the active pointer and the timer.
	ResetAuction(ctx context.Context, auctionID int) error
}
