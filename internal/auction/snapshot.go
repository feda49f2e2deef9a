package auction

import (
	"context"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/auctionroom/internal/models"
	"github.com/xtrntr/auctionroom/internal/store"
	"github.com/xtrntr/auctionroom/internal/timer"
)

// LotView is a lot with everything derived from the same read.
type LotView struct {
	models.Lot
	State       models.LotState    `json:"state"`
	CurrentBid  *models.CurrentBid `json:"current_bid,omitempty"`
	Settlement  *models.Settlement `json:"settlement,omitempty"`
	NextMinimum *decimal.Decimal   `json:"next_minimum,omitempty"`
}

// TimerView is the countdown as seen at ServerTime.
type TimerView struct {
	StartedAt        time.Time `json:"started_at"`
	DurationSeconds  int       `json:"duration_seconds"`
	RemainingSeconds int       `json:"remaining_seconds"`
	RemainingMillis  int64     `json:"remaining_millis"`
	Deadline         time.Time `json:"deadline"`
	Expired          bool      `json:"expired"`
}

// Snapshot is the single read model of an auction.
type Snapshot struct {
	Auction    models.Auction           `json:"auction"`
	Lots       []LotView                `json:"lots"`
	ActiveLot  *LotView                 `json:"active_lot,omitempty"`
	BidHistory []models.BidHistoryEntry `json:"bid_history"`
	Timer      *TimerView               `json:"timer,omitempty"`
	ServerTime time.Time                `json:"server_time"`

	Complete          bool `json:"complete"`
	NextLotID         *int `json:"next_lot_id,omitempty"`
	BidderCount       int  `json:"bidder_count"`
	ActiveBidderCount int  `json:"active_bidder_count"`
}

func newTimerView(anchor timer.Anchor, now time.Time) *TimerView {
	rem := anchor.Remaining(now)
	return &TimerView{
		StartedAt:        anchor.StartedAt,
		DurationSeconds:  anchor.DurationSeconds(),
		RemainingSeconds: int(math.Ceil(rem.Seconds())),
		RemainingMillis:  rem.Milliseconds(),
		Deadline:         anchor.Deadline(),
		Expired:          rem <= 0,
	}
}

// Snapshot reads the auction, its lots and bid history in one consistent
// read and derives the rest.
func (e *Engine) Snapshot(ctx context.Context, auctionID int) (*Snapshot, error) {
	var (
		a           *models.Auction
		lots        []models.Lot
		bids        []models.CurrentBid
		settlements []models.Settlement
		history     []models.BidHistoryEntry
	)
	err := e.store.View(ctx, func(r store.Reader) error {
		var err error
		if a, err = r.Auction(ctx, auctionID); err != nil {
			return err
		}
		if lots, err = r.Lots(ctx, auctionID); err != nil {
			return err
		}
		if bids, err = r.CurrentBids(ctx, auctionID); err != nil {
			return err
		}
		if settlements, err = r.Settlements(ctx, auctionID); err != nil {
			return err
		}
		history, err = r.History(ctx, auctionID)
		return err
	})
	if err != nil {
		return nil, storeError("snapshot", err)
	}

	now := e.timer.Now()
	snap := &Snapshot{
		Auction:    *a,
		Lots:       make([]LotView, 0, len(lots)),
		BidHistory: history,
		ServerTime: now,
	}
	if snap.BidHistory == nil {
		snap.BidHistory = []models.BidHistoryEntry{}
	}

	bidByLot := make(map[int]models.CurrentBid, len(bids))
	for _, cb := range bids {
		bidByLot[cb.LotID] = cb
	}
	settlementByLot := make(map[int]models.Settlement, len(settlements))
	for _, s := range settlements {
		settlementByLot[s.LotID] = s
	}

	unsold := 0
	for i := range lots {
		v := LotView{Lot: lots[i], State: models.StateOf(a, &lots[i])}
		if cb, ok := bidByLot[lots[i].ID]; ok {
			v.CurrentBid = &cb
		}
		if s, ok := settlementByLot[lots[i].ID]; ok {
			v.Settlement = &s
		}
		if v.State == models.LotActive {
			next := NextMinimum(&v.Lot, v.CurrentBid)
			v.NextMinimum = &next
		}
		if !lots[i].Sold {
			unsold++
		}
		snap.Lots = append(snap.Lots, v)
	}
	for i := range snap.Lots {
		if snap.Lots[i].State == models.LotActive {
			snap.ActiveLot = &snap.Lots[i]
		}
	}

	if anchor, ok := timer.FromAuction(a); ok {
		snap.Timer = newTimerView(anchor, now)
	}

	snap.Complete = len(lots) > 0 && unsold == 0 && snap.ActiveLot == nil
	if snap.ActiveLot == nil {
		if next := firstPending(lots); next != nil {
			snap.NextLotID = &next.ID
		} else if next := NextLot(lots, 0); next != nil {
			snap.NextLotID = &next.ID
		}
	} else if next := NextLot(lots, snap.ActiveLot.ID); next != nil {
		snap.NextLotID = &next.ID
	}

	bidders := make(map[int]struct{})
	activeBidders := make(map[int]struct{})
	for _, h := range history {
		bidders[h.BidderID] = struct{}{}
		if snap.ActiveLot != nil && h.LotID == snap.ActiveLot.ID {
			activeBidders[h.BidderID] = struct{}{}
		}
	}
	snap.BidderCount = len(bidders)
	snap.ActiveBidderCount = len(activeBidders)
	return snap, nil
}

// firstPending returns the first lot that was never closed or sold.
func firstPending(lots []models.Lot) *models.Lot {
	for i := range lots {
		if !lots[i].Sold && lots[i].ClosedAt == nil {
			return &lots[i]
		}
	}
	return nil
}
