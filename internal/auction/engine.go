// Package auction is the lifecycle and bidding engine: it owns which lot is
// active, accepts or rejects bids against stored state, settles lots and
// builds the snapshot every client polls.
//
// All mutations of one auction run inside store.InAuction, so Activate, Bid,
// Close, AdjustTimer and Expire are serialized per auction while different
// auctions proceed independently. Nothing runs in the background: timer
// expiry is acted on by whichever caller observes it.
package auction

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/auctionroom/internal/events"
	"github.com/xtrntr/auctionroom/internal/models"
	"github.com/xtrntr/auctionroom/internal/store"
	"github.com/xtrntr/auctionroom/internal/timer"
)

// Wallet is the funds collaborator.
type Wallet interface {
	AvailableBalance(ctx context.Context, userID int) (decimal.Decimal, error)
	// Transfer moves a settlement's price from buyer to seller. Must be
	// idempotent per settlement id.
	Transfer(ctx context.Context, s models.Settlement) error
}

// Engine executes seller commands and bids.
type Engine struct {
	store  store.Store
	wallet Wallet
	timer  *timer.Authority
	events events.Publisher
}

// NewEngine wires the engine. A nil publisher logs events instead.
func NewEngine(st store.Store, w Wallet, t *timer.Authority, pub events.Publisher) *Engine {
	if pub == nil {
		pub = events.LogPublisher{}
	}
	return &Engine{store: st, wallet: w, timer: t, events: pub}
}

// Timer exposes the engine's timer authority.
func (e *Engine) Timer() *timer.Authority {
	return e.timer
}

// outcome collects what must happen after a transaction commits.
type outcome struct {
	events      []events.Event
	settlements []models.Settlement
}

func (o *outcome) add(t events.Type, auctionID, lotID int, payload any, at time.Time) {
	ev, err := events.New(t, auctionID, lotID, payload, at)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(t)).Msg("failed to build event")
		return
	}
	o.events = append(o.events, ev)
}

// finish runs post-commit side effects. Their failures never undo the
// committed command; they are logged for the collaborator to reconcile.
func (e *Engine) finish(ctx context.Context, o *outcome) {
	ctx = context.WithoutCancel(ctx)
	for _, s := range o.settlements {
		if err := e.wallet.Transfer(ctx, s); err != nil {
			log.Error().
				Err(err).
				Int("settlement_id", s.ID).
				Int("lot_id", s.LotID).
				Int("buyer_id", s.BuyerID).
				Str("amount", s.FinalPrice.String()).
				Msg("settlement transfer failed")
		}
	}
	for _, ev := range o.events {
		if err := e.events.Publish(ctx, ev); err != nil {
			log.Error().
				Err(err).
				Str("event_id", ev.ID.String()).
				Str("event_type", string(ev.Type)).
				Msg("failed to publish event")
		}
	}
}

func isActive(a *models.Auction, lotID int) bool {
	return a.ActiveLotID != nil && *a.ActiveLotID == lotID
}

func requireOwner(a *models.Auction, actor int, action string) error {
	if a.OwnerID != actor {
		return forbidden("only the auction owner can %s", action)
	}
	return nil
}

// CreateAuction opens a new auction owned by owner.
func (e *Engine) CreateAuction(ctx context.Context, owner int, name string, start, end time.Time) (*models.Auction, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("name is required")
	}
	if len(name) > 200 {
		return nil, validationError("name too long (max 200 characters)")
	}
	if start.IsZero() {
		start = e.timer.Now()
	}
	if end.IsZero() {
		end = start.Add(24 * time.Hour)
	}
	if !end.After(start) {
		return nil, validationError("end time must be after start time")
	}

	a, err := e.store.CreateAuction(ctx, &models.Auction{OwnerID: owner, Name: name, StartTime: start.UTC(), EndTime: end.UTC()})
	if err != nil {
		return nil, storeError("create auction", err)
	}
	log.Info().Int("auction_id", a.ID).Int("owner_id", owner).Msg("auction created")
	return a, nil
}

// CreateLot adds a pending lot to an auction the actor owns.
func (e *Engine) CreateLot(ctx context.Context, actor, auctionID int, title string, minBid, increment decimal.Decimal) (*models.Lot, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, validationError("title is required")
	}
	if err := ValidateAmount(minBid); err != nil {
		return nil, validationError("min bid: %v", err)
	}
	if err := ValidateAmount(increment); err != nil {
		return nil, validationError("bid increment: %v", err)
	}

	err := e.store.View(ctx, func(r store.Reader) error {
		a, err := r.Auction(ctx, auctionID)
		if err != nil {
			return err
		}
		if err := requireOwner(a, actor, "add lots"); err != nil {
			return err
		}
		if a.Ended {
			return stateConflict("auction %d has ended", auctionID)
		}
		return nil
	})
	if err != nil {
		return nil, storeError("create lot", err)
	}

	l, err := e.store.CreateLot(ctx, &models.Lot{AuctionID: auctionID, Title: title, MinBid: minBid, BidIncrement: increment})
	if err != nil {
		return nil, storeError("create lot", err)
	}
	return l, nil
}

// ListAuctions returns every auction in creation order.
func (e *Engine) ListAuctions(ctx context.Context) ([]models.Auction, error) {
	auctions, err := e.store.ListAuctions(ctx)
	if err != nil {
		return nil, storeError("list auctions", err)
	}
	return auctions, nil
}
