// Package memstore is an in-memory store.Store used for local runs and tests.
// Each auction has its own transaction mutex, the counterpart of the Postgres
// row lock. A transaction works on a private copy of that auction's data and
// publishes it on success, so readers always see the last committed state.
package memstore

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/auctionroom/internal/models"
	"github.com/xtrntr/auctionroom/internal/store"
	"github.com/xtrntr/auctionroom/internal/timer"
)

// auctionData is everything owned by one auction. Published values are never
// mutated; transactions change a clone.
type auctionData struct {
	auction     models.Auction
	lots        map[int]models.Lot
	bids        map[int]models.CurrentBid
	history     []models.BidHistoryEntry
	settlements map[int]models.Settlement // keyed by lot id
}

func (d *auctionData) clone() *auctionData {
	c := &auctionData{
		auction:     d.auction,
		lots:        make(map[int]models.Lot, len(d.lots)),
		bids:        make(map[int]models.CurrentBid, len(d.bids)),
		settlements: make(map[int]models.Settlement, len(d.settlements)),
	}
	// full slice expression: an append in the clone always copies
	c.history = d.history[:len(d.history):len(d.history)]
	for k, v := range d.lots {
		c.lots[k] = v
	}
	for k, v := range d.bids {
		c.bids[k] = v
	}
	for k, v := range d.settlements {
		c.settlements[k] = v
	}
	return c
}

type auctionEntry struct {
	txLock sync.Mutex // held for the whole of a transaction

	mu   sync.RWMutex
	data *auctionData
}

func (e *auctionEntry) load() *auctionData {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.data
}

func (e *auctionEntry) publish(d *auctionData) {
	e.mu.Lock()
	e.data = d
	e.mu.Unlock()
}

// Store is a process-local store.Store.
type Store struct {
	// mu guards users, the auction and lot indexes and the id counters
	// below. It is never held while a transaction runs.
	mu          sync.RWMutex
	users       map[int]models.User
	auctions    map[int]*auctionEntry
	lotAuction  map[int]int
	lastUser    int
	lastAuction int
	lastLot     int

	lastHistory    atomic.Int64
	lastSettlement atomic.Int64

	// lastVersion is store-wide so no CAS token is ever reused.
	lastVersion atomic.Int64
}

var _ store.Store = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{
		users:      make(map[int]models.User),
		auctions:   make(map[int]*auctionEntry),
		lotAuction: make(map[int]int),
	}
}

func (s *Store) entry(auctionID int) (*auctionEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.auctions[auctionID]
	return e, ok
}

func (s *Store) auctionOf(lotID int) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.lotAuction[lotID]
	return id, ok
}

// InAuction implements store.Store.
func (s *Store) InAuction(ctx context.Context, auctionID int, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, ok := s.entry(auctionID)
	if !ok {
		return store.ErrNotFound
	}
	e.txLock.Lock()
	defer e.txLock.Unlock()
	return s.run(e, fn)
}

// TryInAuction implements store.Store.
func (s *Store) TryInAuction(ctx context.Context, auctionID int, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, ok := s.entry(auctionID)
	if !ok {
		return store.ErrNotFound
	}
	if !e.txLock.TryLock() {
		return store.ErrBusy
	}
	defer e.txLock.Unlock()
	return s.run(e, fn)
}

// run must be called with e.txLock held.
func (s *Store) run(e *auctionEntry, fn func(store.Tx) error) error {
	work := e.load().clone()
	t := &tx{view: newView(s), work: work}
	t.seen[work.auction.ID] = work
	if err := fn(t); err != nil {
		return err
	}
	e.publish(work)
	return nil
}

// View implements store.Store. Each auction is captured the first time fn
// reads it and stays fixed for the rest of fn.
func (s *Store) View(ctx context.Context, fn func(store.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(newView(s))
}

// AuctionIDForLot implements store.Store.
func (s *Store) AuctionIDForLot(ctx context.Context, lotID int) (int, error) {
	id, ok := s.auctionOf(lotID)
	if !ok {
		return 0, store.ErrNotFound
	}
	return id, nil
}

// CreateAuction implements store.Store.
func (s *Store) CreateAuction(ctx context.Context, a *models.Auction) (*models.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAuction++
	created := models.Auction{
		ID:        s.lastAuction,
		OwnerID:   a.OwnerID,
		Name:      a.Name,
		StartTime: a.StartTime,
		EndTime:   a.EndTime,
		CreatedAt: time.Now().UTC(),
	}
	s.auctions[created.ID] = &auctionEntry{data: &auctionData{
		auction:     created,
		lots:        make(map[int]models.Lot),
		bids:        make(map[int]models.CurrentBid),
		settlements: make(map[int]models.Settlement),
	}}
	return &created, nil
}

// CreateLot implements store.Store. It waits for the auction's transaction
// lock so a running transaction cannot publish over the new lot.
func (s *Store) CreateLot(ctx context.Context, l *models.Lot) (*models.Lot, error) {
	e, ok := s.entry(l.AuctionID)
	if !ok {
		return nil, store.ErrNotFound
	}
	e.txLock.Lock()
	defer e.txLock.Unlock()

	s.mu.Lock()
	s.lastLot++
	id := s.lastLot
	s.mu.Unlock()

	created := models.Lot{
		ID:           id,
		AuctionID:    l.AuctionID,
		Title:        l.Title,
		MinBid:       l.MinBid,
		BidIncrement: l.BidIncrement,
		CreatedAt:    time.Now().UTC(),
	}
	work := e.load().clone()
	work.lots[id] = created
	e.publish(work)

	s.mu.Lock()
	s.lotAuction[id] = l.AuctionID
	s.mu.Unlock()
	return &created, nil
}

// ListAuctions implements store.Store.
func (s *Store) ListAuctions(ctx context.Context) ([]models.Auction, error) {
	s.mu.RLock()
	entries := make([]*auctionEntry, 0, len(s.auctions))
	for _, e := range s.auctions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]models.Auction, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.load().auction)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateUser inserts a new user
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return nil, store.ErrExists
		}
	}
	s.lastUser++
	u := models.User{ID: s.lastUser, Username: username, PasswordHash: passwordHash, CreatedAt: time.Now().UTC()}
	s.users[u.ID] = u
	return &u, nil
}

// GetUserByUsername retrieves a user by username
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, store.ErrNotFound
}

type view struct {
	s    *Store
	seen map[int]*auctionData
}

func newView(s *Store) view {
	return view{s: s, seen: make(map[int]*auctionData)}
}

func (v view) data(auctionID int) (*auctionData, bool) {
	if d, ok := v.seen[auctionID]; ok {
		return d, true
	}
	e, ok := v.s.entry(auctionID)
	if !ok {
		return nil, false
	}
	d := e.load()
	v.seen[auctionID] = d
	return d, true
}

func (v view) dataForLot(lotID int) (*auctionData, bool) {
	auctionID, ok := v.s.auctionOf(lotID)
	if !ok {
		return nil, false
	}
	return v.data(auctionID)
}

func (v view) Auction(ctx context.Context, auctionID int) (*models.Auction, error) {
	d, ok := v.data(auctionID)
	if !ok {
		return nil, store.ErrNotFound
	}
	a := d.auction
	return &a, nil
}

func (v view) Lot(ctx context.Context, lotID int) (*models.Lot, error) {
	d, ok := v.dataForLot(lotID)
	if !ok {
		return nil, store.ErrNotFound
	}
	l, ok := d.lots[lotID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &l, nil
}

func (v view) Lots(ctx context.Context, auctionID int) ([]models.Lot, error) {
	d, ok := v.data(auctionID)
	if !ok {
		return nil, nil
	}
	out := make([]models.Lot, 0, len(d.lots))
	for _, l := range d.lots {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v view) CurrentBid(ctx context.Context, lotID int) (*models.CurrentBid, error) {
	d, ok := v.dataForLot(lotID)
	if !ok {
		return nil, store.ErrNotFound
	}
	cb, ok := d.bids[lotID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &cb, nil
}

func (v view) CurrentBids(ctx context.Context, auctionID int) ([]models.CurrentBid, error) {
	d, ok := v.data(auctionID)
	if !ok {
		return nil, nil
	}
	var out []models.CurrentBid
	for _, cb := range d.bids {
		out = append(out, cb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LotID < out[j].LotID })
	return out, nil
}

func (v view) History(ctx context.Context, auctionID int) ([]models.BidHistoryEntry, error) {
	d, ok := v.data(auctionID)
	if !ok || len(d.history) == 0 {
		return nil, nil
	}
	return append([]models.BidHistoryEntry(nil), d.history...), nil
}

func (v view) Settlement(ctx context.Context, lotID int) (*models.Settlement, error) {
	d, ok := v.dataForLot(lotID)
	if !ok {
		return nil, store.ErrNotFound
	}
	st, ok := d.settlements[lotID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &st, nil
}

func (v view) Settlements(ctx context.Context, auctionID int) ([]models.Settlement, error) {
	d, ok := v.data(auctionID)
	if !ok {
		return nil, nil
	}
	var out []models.Settlement
	for _, st := range d.settlements {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// tx writes only to the locked auction; lots of other auctions are not found.
type tx struct {
	view
	work *auctionData
}

func (t *tx) lot(lotID int) (models.Lot, bool) {
	l, ok := t.work.lots[lotID]
	return l, ok
}

func (t *tx) owns(auctionID int) bool {
	return t.work.auction.ID == auctionID
}

func (t *tx) SetMinBid(ctx context.Context, lotID int, minBid decimal.Decimal) error {
	l, ok := t.lot(lotID)
	if !ok {
		return store.ErrNotFound
	}
	l.MinBid = minBid
	t.work.lots[lotID] = l
	return nil
}

func (t *tx) PutCurrentBid(ctx context.Context, lotID int, price decimal.Decimal, at time.Time) (*models.CurrentBid, error) {
	if _, ok := t.lot(lotID); !ok {
		return nil, store.ErrNotFound
	}
	cb := models.CurrentBid{LotID: lotID, CurrentPrice: price, Version: t.s.lastVersion.Add(1), UpdatedAt: at}
	t.work.bids[lotID] = cb
	return &cb, nil
}

func (t *tx) CompareAndSetBid(ctx context.Context, lotID int, version int64, bidderID int, price decimal.Decimal, at time.Time) (bool, error) {
	cb, ok := t.work.bids[lotID]
	if !ok || cb.Version != version {
		return false, nil
	}
	bidder := bidderID
	cb.BidderID = &bidder
	cb.CurrentPrice = price
	cb.Version = t.s.lastVersion.Add(1)
	cb.UpdatedAt = at
	t.work.bids[lotID] = cb
	return true, nil
}

func (t *tx) AppendHistory(ctx context.Context, e models.BidHistoryEntry) (*models.BidHistoryEntry, error) {
	if _, ok := t.lot(e.LotID); !ok {
		return nil, store.ErrNotFound
	}
	e.ID = int(t.s.lastHistory.Add(1))
	t.work.history = append(t.work.history, e)
	return &e, nil
}

func (t *tx) CreateSettlement(ctx context.Context, s models.Settlement) (*models.Settlement, error) {
	if _, ok := t.lot(s.LotID); !ok {
		return nil, store.ErrNotFound
	}
	if _, ok := t.work.settlements[s.LotID]; ok {
		return nil, store.ErrExists
	}
	s.ID = int(t.s.lastSettlement.Add(1))
	t.work.settlements[s.LotID] = s
	return &s, nil
}

func (t *tx) SetLotStatus(ctx context.Context, lotID int, sold bool, closedAt *time.Time) error {
	l, ok := t.lot(lotID)
	if !ok {
		return store.ErrNotFound
	}
	l.Sold = sold
	l.ClosedAt = closedAt
	t.work.lots[lotID] = l
	return nil
}

func (t *tx) SetActiveLot(ctx context.Context, auctionID int, lotID *int) error {
	if !t.owns(auctionID) {
		return store.ErrNotFound
	}
	if lotID != nil {
		id := *lotID
		lotID = &id
	}
	t.work.auction.ActiveLotID = lotID
	return nil
}

func (t *tx) SetTimer(ctx context.Context, auctionID int, anchor *timer.Anchor) error {
	if !t.owns(auctionID) {
		return store.ErrNotFound
	}
	if anchor == nil {
		t.work.auction.TimerStartedAt, t.work.auction.TimerDurationSeconds = nil, nil
		return nil
	}
	started, secs := anchor.StartedAt, anchor.DurationSeconds()
	t.work.auction.TimerStartedAt, t.work.auction.TimerDurationSeconds = &started, &secs
	return nil
}

func (t *tx) SetEnded(ctx context.Context, auctionID int) error {
	if !t.owns(auctionID) {
		return store.ErrNotFound
	}
	t.work.auction.Ended = true
	return nil
}

func (t *tx) ResetAuction(ctx context.Context, auctionID int) error {
	if !t.owns(auctionID) {
		return store.ErrNotFound
	}
	for id, l := range t.work.lots {
		l.Sold = false
		l.ClosedAt = nil
		t.work.lots[id] = l
	}
	t.work.bids = make(map[int]models.CurrentBid)
	t.work.settlements = make(map[int]models.Settlement)
	t.work.history = nil
	t.work.auction.ActiveLotID = nil
	t.work.auction.TimerStartedAt, t.work.auction.TimerDurationSeconds = nil, nil
	return nil
}
