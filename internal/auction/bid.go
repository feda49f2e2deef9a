package auction

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/auctionroom/internal/events"
	"github.com/xtrntr/auctionroom/internal/models"
	"github.com/xtrntr/auctionroom/internal/store"
	"github.com/xtrntr/auctionroom/internal/timer"
)

// BidResult is returned for an accepted bid.
type BidResult struct {
	Accepted     bool
	Entry        models.BidHistoryEntry
	CurrentPrice decimal.Decimal
	NextMinimum  decimal.Decimal
}

// MaxAmount is the largest amount a NUMERIC(14,2) column holds.
var MaxAmount = decimal.RequireFromString("999999999999.99")

// ValidateAmount checks that d is a positive amount with at most two
// decimal places and no larger than MaxAmount.
func ValidateAmount(d decimal.Decimal) error {
	if !d.IsPositive() {
		return errors.New("amount must be positive")
	}
	if !d.Equal(d.Round(2)) {
		return fmt.Errorf("amount %s has more than 2 decimal places", d.String())
	}
	if d.GreaterThan(MaxAmount) {
		return fmt.Errorf("amount %s exceeds the maximum of %s", d.String(), MaxAmount.StringFixed(2))
	}
	return nil
}

// NextMinimum is the smallest acceptable bid: the min bid if nobody has bid
// yet, else the current price plus the increment.
func NextMinimum(lot *models.Lot, cb *models.CurrentBid) decimal.Decimal {
	if cb == nil || cb.BidderID == nil {
		return lot.MinBid
	}
	return cb.CurrentPrice.Add(lot.BidIncrement)
}

func (e *Engine) checkBiddable(a *models.Auction, lotID int) error {
	if a.Ended {
		return notActive("auction %d has ended", a.ID)
	}
	if !isActive(a, lotID) {
		return notActive("lot %d is not active", lotID)
	}
	if anchor, ok := timer.FromAuction(a); ok && e.timer.Expired(anchor) {
		return notActive("lot %d timer has expired", lotID)
	}
	return nil
}

type bidState struct {
	auction *models.Auction
	lot     *models.Lot
	current *models.CurrentBid
}

func readBidState(ctx context.Context, r store.Reader, auctionID, lotID int) (*bidState, error) {
	a, err := r.Auction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	lot, err := r.Lot(ctx, lotID)
	if err != nil {
		return nil, err
	}
	st := &bidState{auction: a, lot: lot}
	cb, err := r.CurrentBid(ctx, lotID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		st.current = cb
	}
	return st, nil
}

// PlaceBid accepts amount from bidder on lotID if the lot is active, the
// amount meets the next minimum and nobody else's bid landed since the
// price was read. A lost race returns a conflict with the new minimum.
func (e *Engine) PlaceBid(ctx context.Context, bidder, lotID int, amount decimal.Decimal) (*BidResult, error) {
	res, err := e.placeBid(ctx, bidder, lotID, amount)
	if err != nil {
		log.Debug().
			Err(err).
			Int("lot_id", lotID).
			Int("bidder_id", bidder).
			Str("amount", amount.String()).
			Msg("bid rejected")
		return nil, err
	}
	return res, nil
}

func (e *Engine) placeBid(ctx context.Context, bidder, lotID int, amount decimal.Decimal) (*BidResult, error) {
	auctionID, err := e.store.AuctionIDForLot(ctx, lotID)
	if err != nil {
		return nil, storeError("place bid", err)
	}

	var seen *bidState
	err = e.store.View(ctx, func(r store.Reader) error {
		var err error
		seen, err = readBidState(ctx, r, auctionID, lotID)
		return err
	})
	if err != nil {
		return nil, storeError("place bid", err)
	}
	if err := e.checkBiddable(seen.auction, lotID); err != nil {
		return nil, err
	}
	if seen.current == nil {
		return nil, notActive("lot %d is not active", lotID)
	}
	if err := ValidateAmount(amount); err != nil {
		return nil, validationError("%v", err)
	}
	if seen.auction.OwnerID == bidder {
		return nil, forbidden("the auction owner cannot bid on their own lot")
	}
	next := NextMinimum(seen.lot, seen.current)
	if amount.LessThan(next) {
		return nil, bidTooLow(next)
	}

	balance, err := e.wallet.AvailableBalance(ctx, bidder)
	if err != nil {
		return nil, storeError("check wallet", err)
	}
	if balance.LessThan(amount) {
		return nil, newError(KindInsufficientFunds, "insufficient funds: available %s, bid %s", balance.StringFixed(2), amount.StringFixed(2))
	}

	var (
		res *BidResult
		out outcome
	)
	err = e.store.InAuction(ctx, auctionID, func(tx store.Tx) error {
		out = outcome{}
		a, err := tx.Auction(ctx, auctionID)
		if err != nil {
			return err
		}
		if err := e.checkBiddable(a, lotID); err != nil {
			return err
		}

		now := e.timer.Now()
		ok, err := tx.CompareAndSetBid(ctx, lotID, seen.current.Version, bidder, amount, now)
		if err != nil {
			return err
		}
		if !ok {
			fresh, err := readBidState(ctx, tx, auctionID, lotID)
			if err != nil {
				return err
			}
			if fresh.current == nil {
				return notActive("lot %d is not active", lotID)
			}
			return bidConflict(NextMinimum(fresh.lot, fresh.current))
		}

		entry, err := tx.AppendHistory(ctx, models.BidHistoryEntry{LotID: lotID, BidderID: bidder, Amount: amount, CreatedAt: now})
		if err != nil {
			return err
		}
		nextMin := amount.Add(seen.lot.BidIncrement)
		res = &BidResult{Accepted: true, Entry: *entry, CurrentPrice: amount, NextMinimum: nextMin}
		out.add(events.BidAccepted, auctionID, lotID, events.BidAcceptedPayload{
			LotID:         lotID,
			BidderID:      bidder,
			Amount:        amount,
			PreviousPrice: seen.current.CurrentPrice,
			NextMinimum:   nextMin,
			PlacedAt:      now,
		}, now)
		return nil
	})
	if err != nil {
		return nil, storeError("place bid", err)
	}

	e.finish(ctx, &out)
	log.Info().
		Int("auction_id", auctionID).
		Int("lot_id", lotID).
		Int("bidder_id", bidder).
		Str("amount", amount.String()).
		Msg("bid accepted")
	return res, nil
}
