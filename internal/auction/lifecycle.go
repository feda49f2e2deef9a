package auction

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/auctionroom/internal/events"
	"github.com/xtrntr/auctionroom/internal/models"
	"github.com/xtrntr/auctionroom/internal/store"
	"github.com/xtrntr/auctionroom/internal/timer"
)

// ActivateOptions are the seller's optional overrides for an activation.
type ActivateOptions struct {
	// StartingPrice replaces the lot's min bid.
	StartingPrice *decimal.Decimal
	// DurationSeconds of the countdown; zero uses the configured default.
	DurationSeconds int
}

// ActivateResult describes a lot that just became active.
type ActivateResult struct {
	Lot        models.Lot
	CurrentBid models.CurrentBid
	Timer      timer.Anchor
	// Previous is the close of the lot that was active before, if any.
	Previous *CloseResult
}

// CloseResult is the terminal outcome of a lot.
type CloseResult struct {
	LotID      int
	Sold       bool
	FinalPrice *decimal.Decimal
	Settlement *models.Settlement
	// AlreadyFinal is set when the lot was terminal before the call and
	// nothing was written.
	AlreadyFinal bool
	// Next is the lot auto-advance activated.
	Next *ActivateResult
}

// AdjustResult is the outcome of AdjustTimer.
type AdjustResult struct {
	Applied bool
	LotID   int
	Timer   *timer.Anchor
}

// Activate makes lotID the auction's active lot with a fresh countdown. A
// lot that is already active elsewhere in the auction is closed first, in
// the same transaction.
func (e *Engine) Activate(ctx context.Context, actor, lotID int, opts ActivateOptions) (*ActivateResult, error) {
	if opts.StartingPrice != nil {
		if err := ValidateAmount(*opts.StartingPrice); err != nil {
			return nil, validationError("starting price: %v", err)
		}
	}
	if opts.DurationSeconds != 0 {
		if err := timer.ValidateSeconds(opts.DurationSeconds); err != nil {
			return nil, validationError("%v", err)
		}
	}

	auctionID, err := e.store.AuctionIDForLot(ctx, lotID)
	if err != nil {
		return nil, storeError("activate lot", err)
	}

	var (
		res *ActivateResult
		out outcome
	)
	err = e.store.InAuction(ctx, auctionID, func(tx store.Tx) error {
		out = outcome{}
		a, err := tx.Auction(ctx, auctionID)
		if err != nil {
			return err
		}
		if err := requireOwner(a, actor, "activate lots"); err != nil {
			return err
		}
		lot, err := tx.Lot(ctx, lotID)
		if err != nil {
			return err
		}
		res, err = e.activateLocked(ctx, tx, a, lot, opts, &out)
		return err
	})
	if err != nil {
		return nil, storeError("activate lot", err)
	}

	e.finish(ctx, &out)
	log.Info().
		Int("auction_id", auctionID).
		Int("lot_id", lotID).
		Str("starting_price", res.CurrentBid.CurrentPrice.String()).
		Int("duration_seconds", res.Timer.DurationSeconds()).
		Msg("lot activated")
	return res, nil
}

// activateLocked runs inside InAuction. a is updated in place.
func (e *Engine) activateLocked(ctx context.Context, tx store.Tx, a *models.Auction, lot *models.Lot, opts ActivateOptions, out *outcome) (*ActivateResult, error) {
	if a.Ended {
		return nil, stateConflict("auction %d has ended", a.ID)
	}
	if lot.Sold {
		return nil, stateConflict("lot %d is already sold", lot.ID)
	}
	if isActive(a, lot.ID) {
		return nil, stateConflict("lot %d is already active", lot.ID)
	}

	var prev *CloseResult
	if a.ActiveLotID != nil {
		current, err := tx.Lot(ctx, *a.ActiveLotID)
		if err != nil {
			return nil, err
		}
		if prev, err = e.closeLocked(ctx, tx, a, current, out); err != nil {
			return nil, err
		}
	}

	if opts.StartingPrice != nil {
		if err := tx.SetMinBid(ctx, lot.ID, *opts.StartingPrice); err != nil {
			return nil, err
		}
		lot.MinBid = *opts.StartingPrice
	}

	now := e.timer.Now()
	cb, err := tx.PutCurrentBid(ctx, lot.ID, lot.MinBid, now)
	if err != nil {
		return nil, err
	}
	if err := tx.SetLotStatus(ctx, lot.ID, false, nil); err != nil {
		return nil, err
	}
	lot.ClosedAt = nil

	id := lot.ID
	if err := tx.SetActiveLot(ctx, a.ID, &id); err != nil {
		return nil, err
	}
	anchor := e.timer.Start(opts.DurationSeconds)
	if err := tx.SetTimer(ctx, a.ID, &anchor); err != nil {
		return nil, err
	}
	secs := anchor.DurationSeconds()
	a.ActiveLotID = &id
	a.TimerStartedAt, a.TimerDurationSeconds = &anchor.StartedAt, &secs

	out.add(events.LotActivated, a.ID, lot.ID, events.LotActivatedPayload{
		LotID:           lot.ID,
		StartingPrice:   lot.MinBid,
		TimerStartedAt:  anchor.StartedAt,
		DurationSeconds: secs,
	}, now)

	return &ActivateResult{Lot: *lot, CurrentBid: *cb, Timer: anchor, Previous: prev}, nil
}

// closeLocked finalizes lot. Terminal lots are returned as they are. a is
// updated in place.
func (e *Engine) closeLocked(ctx context.Context, tx store.Tx, a *models.Auction, lot *models.Lot, out *outcome) (*CloseResult, error) {
	if lot.Sold {
		s, err := tx.Settlement(ctx, lot.ID)
		if err != nil {
			return nil, err
		}
		return &CloseResult{LotID: lot.ID, Sold: true, FinalPrice: &s.FinalPrice, Settlement: s, AlreadyFinal: true}, nil
	}
	if !isActive(a, lot.ID) {
		if lot.ClosedAt != nil {
			return &CloseResult{LotID: lot.ID, AlreadyFinal: true}, nil
		}
		return nil, stateConflict("lot %d is not active", lot.ID)
	}

	cb, err := tx.CurrentBid(ctx, lot.ID)
	if err != nil {
		return nil, err
	}

	now := e.timer.Now()
	res := &CloseResult{LotID: lot.ID}
	if cb.BidderID != nil {
		s, err := tx.CreateSettlement(ctx, models.Settlement{
			LotID:      lot.ID,
			BuyerID:    *cb.BidderID,
			SellerID:   a.OwnerID,
			FinalPrice: cb.CurrentPrice,
			CreatedAt:  now,
		})
		if err != nil {
			return nil, err
		}
		if err := tx.SetLotStatus(ctx, lot.ID, true, &now); err != nil {
			return nil, err
		}
		res.Sold, res.Settlement, res.FinalPrice = true, s, &s.FinalPrice
		out.settlements = append(out.settlements, *s)
		out.add(events.LotSold, a.ID, lot.ID, events.LotSoldPayload{
			LotID:        lot.ID,
			SettlementID: s.ID,
			BuyerID:      s.BuyerID,
			SellerID:     s.SellerID,
			FinalPrice:   s.FinalPrice,
			SoldAt:       now,
		}, now)
	} else {
		if err := tx.SetLotStatus(ctx, lot.ID, false, &now); err != nil {
			return nil, err
		}
		out.add(events.LotClosed, a.ID, lot.ID, events.LotClosedPayload{LotID: lot.ID, ClosedAt: now}, now)
	}

	if err := tx.SetActiveLot(ctx, a.ID, nil); err != nil {
		return nil, err
	}
	if err := tx.SetTimer(ctx, a.ID, nil); err != nil {
		return nil, err
	}
	a.ActiveLotID = nil
	a.TimerStartedAt, a.TimerDurationSeconds = nil, nil
	return res, nil
}

// closeAndAdvance closes lot and, when asked and something was actually
// closed, activates the next unsold lot with the default duration.
func (e *Engine) closeAndAdvance(ctx context.Context, tx store.Tx, a *models.Auction, lot *models.Lot, autoAdvance bool, out *outcome) (*CloseResult, error) {
	res, err := e.closeLocked(ctx, tx, a, lot, out)
	if err != nil || res.AlreadyFinal || !autoAdvance || a.Ended {
		return res, err
	}
	lots, err := tx.Lots(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	next := NextLot(lots, lot.ID)
	if next == nil {
		return res, nil
	}
	if res.Next, err = e.activateLocked(ctx, tx, a, next, ActivateOptions{}, out); err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) expired(a *models.Auction) bool {
	anchor, ok := timer.FromAuction(a)
	return ok && e.timer.Expired(anchor)
}

// Close finalizes a lot: Sold with a settlement when it has a bidder,
// Closed otherwise. The owner may close at any time; anyone else only once
// the timer has run out. Closing a terminal lot returns its existing result
// and writes nothing.
func (e *Engine) Close(ctx context.Context, actor, lotID int, autoAdvance bool) (*CloseResult, error) {
	auctionID, err := e.store.AuctionIDForLot(ctx, lotID)
	if err != nil {
		return nil, storeError("close lot", err)
	}

	var (
		res *CloseResult
		out outcome
	)
	err = e.store.InAuction(ctx, auctionID, func(tx store.Tx) error {
		out = outcome{}
		a, err := tx.Auction(ctx, auctionID)
		if err != nil {
			return err
		}
		lot, err := tx.Lot(ctx, lotID)
		if err != nil {
			return err
		}
		if isActive(a, lot.ID) && a.OwnerID != actor && !e.expired(a) {
			return forbidden("only the auction owner can close a lot before its timer expires")
		}
		res, err = e.closeAndAdvance(ctx, tx, a, lot, autoAdvance, &out)
		return err
	})
	if err != nil {
		return nil, storeError("close lot", err)
	}

	e.finish(ctx, &out)
	if !res.AlreadyFinal {
		log.Info().
			Int("auction_id", auctionID).
			Int("lot_id", lotID).
			Int("actor_id", actor).
			Bool("sold", res.Sold).
			Msg("lot closed")
	}
	return res, nil
}

// Expire is the observer entry point for timer expiry: it closes the active
// lot only if its countdown has run out. With no active lot it returns nil.
// A non-zero lotID names the lot the observer saw expire; once that lot is
// terminal Expire returns its result instead of judging a newer lot's timer.
func (e *Engine) Expire(ctx context.Context, actor, auctionID, lotID int, autoAdvance bool) (*CloseResult, error) {
	var (
		res *CloseResult
		out outcome
	)
	err := e.store.InAuction(ctx, auctionID, func(tx store.Tx) error {
		out = outcome{}
		res = nil
		a, err := tx.Auction(ctx, auctionID)
		if err != nil {
			return err
		}
		if lotID != 0 && !isActive(a, lotID) {
			lot, err := tx.Lot(ctx, lotID)
			if err != nil {
				return err
			}
			if lot.AuctionID != auctionID {
				return notFound("lot %d is not in auction %d", lotID, auctionID)
			}
			res, err = e.closeLocked(ctx, tx, a, lot, &out)
			return err
		}
		if a.ActiveLotID == nil {
			return nil
		}
		if anchor, ok := timer.FromAuction(a); ok && !e.timer.Expired(anchor) {
			return stateConflict("timer still running: %.0f seconds remaining", e.timer.Remaining(anchor).Seconds())
		}
		lot, err := tx.Lot(ctx, *a.ActiveLotID)
		if err != nil {
			return err
		}
		res, err = e.closeAndAdvance(ctx, tx, a, lot, autoAdvance, &out)
		return err
	})
	if err != nil {
		return nil, storeError("expire lot", err)
	}

	e.finish(ctx, &out)
	if res != nil && !res.AlreadyFinal {
		log.Info().
			Int("auction_id", auctionID).
			Int("lot_id", res.LotID).
			Int("observer_id", actor).
			Bool("sold", res.Sold).
			Msg("lot closed on timer expiry")
	}
	return res, nil
}

// AdjustTimer restarts the active lot's countdown at now with a new
// duration. With no active lot it does nothing.
func (e *Engine) AdjustTimer(ctx context.Context, actor, auctionID, seconds int) (*AdjustResult, error) {
	if err := timer.ValidateSeconds(seconds); err != nil {
		return nil, validationError("%v", err)
	}

	var (
		res *AdjustResult
		out outcome
	)
	err := e.store.InAuction(ctx, auctionID, func(tx store.Tx) error {
		out = outcome{}
		a, err := tx.Auction(ctx, auctionID)
		if err != nil {
			return err
		}
		if err := requireOwner(a, actor, "adjust the timer"); err != nil {
			return err
		}
		if a.ActiveLotID == nil {
			res = &AdjustResult{Applied: false}
			return nil
		}
		anchor := e.timer.Start(seconds)
		if err := tx.SetTimer(ctx, auctionID, &anchor); err != nil {
			return err
		}
		res = &AdjustResult{Applied: true, LotID: *a.ActiveLotID, Timer: &anchor}
		out.add(events.TimerAdjusted, auctionID, res.LotID, events.TimerAdjustedPayload{
			LotID:           res.LotID,
			TimerStartedAt:  anchor.StartedAt,
			DurationSeconds: seconds,
		}, anchor.StartedAt)
		return nil
	})
	if err != nil {
		return nil, storeError("adjust timer", err)
	}

	e.finish(ctx, &out)
	log.Info().
		Int("auction_id", auctionID).
		Bool("applied", res.Applied).
		Int("duration_seconds", seconds).
		Msg("timer adjusted")
	return res, nil
}

// Reset wipes all bid and settlement state of the auction. It refuses to
// wait for another operation on the same auction and fails instead.
func (e *Engine) Reset(ctx context.Context, actor, auctionID int) error {
	var out outcome
	err := e.store.TryInAuction(ctx, auctionID, func(tx store.Tx) error {
		out = outcome{}
		a, err := tx.Auction(ctx, auctionID)
		if err != nil {
			return err
		}
		if err := requireOwner(a, actor, "reset the auction"); err != nil {
			return err
		}
		if err := tx.ResetAuction(ctx, auctionID); err != nil {
			return err
		}
		now := e.timer.Now()
		out.add(events.AuctionReset, auctionID, 0, events.AuctionResetPayload{ResetAt: now}, now)
		return nil
	})
	if err != nil {
		return storeError("reset auction", err)
	}

	e.finish(ctx, &out)
	log.Warn().Int("auction_id", auctionID).Int("actor_id", actor).Msg("auction reset")
	return nil
}

// EndAuction marks the auction ended. Lots are left as they are.
func (e *Engine) EndAuction(ctx context.Context, actor, auctionID int) (*models.Auction, error) {
	var (
		res *models.Auction
		out outcome
	)
	err := e.store.InAuction(ctx, auctionID, func(tx store.Tx) error {
		out = outcome{}
		a, err := tx.Auction(ctx, auctionID)
		if err != nil {
			return err
		}
		if err := requireOwner(a, actor, "end the auction"); err != nil {
			return err
		}
		res = a
		if a.Ended {
			return nil
		}
		if err := tx.SetEnded(ctx, auctionID); err != nil {
			return err
		}
		a.Ended = true
		now := e.timer.Now()
		out.add(events.AuctionEnded, auctionID, 0, events.AuctionEndedPayload{EndedAt: now}, now)
		return nil
	})
	if err != nil {
		return nil, storeError("end auction", err)
	}

	e.finish(ctx, &out)
	log.Info().Int("auction_id", auctionID).Msg("auction ended")
	return res, nil
}
