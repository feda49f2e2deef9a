// Package db is the PostgreSQL implementation of store.Store. Per-auction
// exclusion is a row lock on the auctions row taken at the start of every
// mutating transaction.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/auctionroom/internal/models"
	"github.com/xtrntr/auctionroom/internal/store"
	"github.com/xtrntr/auctionroom/internal/timer"
)

// Postgres error codes the store translates.
const (
	codeLockNotAvailable    = "55P03"
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

var _ store.Store = (*DB)(nil)

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// wrap annotates err and, when it maps to a store sentinel, wraps that too.
func wrap(msg string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", msg, store.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeLockNotAvailable:
			return fmt.Errorf("%s: %w: %w", msg, store.ErrBusy, err)
		case codeUniqueViolation:
			return fmt.Errorf("%s: %w: %w", msg, store.ErrExists, err)
		case codeForeignKeyViolation:
			return fmt.Errorf("%s: %w: %w", msg, store.ErrNotFound, err)
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// CreateUser inserts a new user
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id, username, password_hash, created_at",
		username, passwordHash).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, wrap("failed to create user", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, wrap("failed to get user", err)
	}
	return user, nil
}

// InAuction implements store.Store.
func (db *DB) InAuction(ctx context.Context, auctionID int, fn func(store.Tx) error) error {
	return db.inAuction(ctx, auctionID, "FOR UPDATE", fn)
}

// TryInAuction implements store.Store. NOWAIT makes Postgres fail with
// lock_not_available instead of queueing behind the holder.
func (db *DB) TryInAuction(ctx context.Context, auctionID int, fn func(store.Tx) error) error {
	return db.inAuction(ctx, auctionID, "FOR UPDATE NOWAIT", fn)
}

func (db *DB) inAuction(ctx context.Context, auctionID int, lock string, fn func(store.Tx) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the auction row; every mutation of the auction queues here
	var id int
	if err := tx.QueryRow(ctx, "SELECT id FROM auctions WHERE id = $1 "+lock, auctionID).Scan(&id); err != nil {
		return wrap("failed to lock auction", err)
	}

	if err := fn(&pgTx{reader{tx}, tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// View implements store.Store with a REPEATABLE READ snapshot.
func (db *DB) View(ctx context.Context, fn func(store.Reader) error) error {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(reader{tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// AuctionIDForLot implements store.Store.
func (db *DB) AuctionIDForLot(ctx context.Context, lotID int) (int, error) {
	var auctionID int
	if err := db.Pool.QueryRow(ctx, "SELECT auction_id FROM lots WHERE id = $1", lotID).Scan(&auctionID); err != nil {
		return 0, wrap("failed to get lot", err)
	}
	return auctionID, nil
}

// CreateAuction implements store.Store.
func (db *DB) CreateAuction(ctx context.Context, a *models.Auction) (*models.Auction, error) {
	row := db.Pool.QueryRow(ctx,
		"INSERT INTO auctions (owner_id, name, start_time, end_time) VALUES ($1, $2, $3, $4) RETURNING "+auctionColumns,
		a.OwnerID, a.Name, a.StartTime, a.EndTime)
	created, err := scanAuction(row)
	if err != nil {
		return nil, wrap("failed to create auction", err)
	}
	return created, nil
}

// CreateLot implements store.Store.
func (db *DB) CreateLot(ctx context.Context, l *models.Lot) (*models.Lot, error) {
	row := db.Pool.QueryRow(ctx,
		"INSERT INTO lots (auction_id, title, min_bid, bid_increment) VALUES ($1, $2, $3, $4) RETURNING "+lotColumns,
		l.AuctionID, l.Title, l.MinBid, l.BidIncrement)
	created, err := scanLot(row)
	if err != nil {
		return nil, wrap("failed to create lot", err)
	}
	return created, nil
}

// ListAuctions implements store.Store.
func (db *DB) ListAuctions(ctx context.Context) ([]models.Auction, error) {
	rows, err := db.Pool.Query(ctx, "SELECT "+auctionColumns+" FROM auctions ORDER BY id")
	if err != nil {
		return nil, wrap("failed to list auctions", err)
	}
	return collect(rows, scanAuction)
}

const (
	auctionColumns = "id, owner_id, name, start_time, end_time, active_lot_id, timer_started_at, timer_duration_seconds, ended, created_at"
	lotColumns     = "id, auction_id, title, min_bid, bid_increment, sold, closed_at, created_at"
	bidColumns     = "lot_id, bidder_id, current_price, version, updated_at"
	historyColumns = "id, lot_id, bidder_id, amount, created_at"
	settleColumns  = "id, lot_id, buyer_id, seller_id, final_price, created_at"
)

func scanAuction(row pgx.Row) (*models.Auction, error) {
	a := &models.Auction{}
	err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &a.StartTime, &a.EndTime,
		&a.ActiveLotID, &a.TimerStartedAt, &a.TimerDurationSeconds, &a.Ended, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func scanLot(row pgx.Row) (*models.Lot, error) {
	l := &models.Lot{}
	err := row.Scan(&l.ID, &l.AuctionID, &l.Title, &l.MinBid, &l.BidIncrement, &l.Sold, &l.ClosedAt, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func scanBid(row pgx.Row) (*models.CurrentBid, error) {
	cb := &models.CurrentBid{}
	if err := row.Scan(&cb.LotID, &cb.BidderID, &cb.CurrentPrice, &cb.Version, &cb.UpdatedAt); err != nil {
		return nil, err
	}
	return cb, nil
}

func scanHistory(row pgx.Row) (*models.BidHistoryEntry, error) {
	e := &models.BidHistoryEntry{}
	if err := row.Scan(&e.ID, &e.LotID, &e.BidderID, &e.Amount, &e.CreatedAt); err != nil {
		return nil, err
	}
	return e, nil
}

func scanSettlement(row pgx.Row) (*models.Settlement, error) {
	s := &models.Settlement{}
	if err := row.Scan(&s.ID, &s.LotID, &s.BuyerID, &s.SellerID, &s.FinalPrice, &s.CreatedAt); err != nil {
		return nil, err
	}
	return s, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type reader struct {
	q querier
}

func (r reader) Auction(ctx context.Context, auctionID int) (*models.Auction, error) {
	a, err := scanAuction(r.q.QueryRow(ctx, "SELECT "+auctionColumns+" FROM auctions WHERE id = $1", auctionID))
	if err != nil {
		return nil, wrap("failed to get auction", err)
	}
	return a, nil
}

func (r reader) Lot(ctx context.Context, lotID int) (*models.Lot, error) {
	l, err := scanLot(r.q.QueryRow(ctx, "SELECT "+lotColumns+" FROM lots WHERE id = $1", lotID))
	if err != nil {
		return nil, wrap("failed to get lot", err)
	}
	return l, nil
}

func (r reader) Lots(ctx context.Context, auctionID int) ([]models.Lot, error) {
	rows, err := r.q.Query(ctx, "SELECT "+lotColumns+" FROM lots WHERE auction_id = $1 ORDER BY id", auctionID)
	if err != nil {
		return nil, wrap("failed to get lots", err)
	}
	return collect(rows, scanLot)
}

func (r reader) CurrentBid(ctx context.Context, lotID int) (*models.CurrentBid, error) {
	cb, err := scanBid(r.q.QueryRow(ctx, "SELECT "+bidColumns+" FROM current_bids WHERE lot_id = $1", lotID))
	if err != nil {
		return nil, wrap("failed to get current bid", err)
	}
	return cb, nil
}

func (r reader) CurrentBids(ctx context.Context, auctionID int) ([]models.CurrentBid, error) {
	rows, err := r.q.Query(ctx, `
		SELECT cb.lot_id, cb.bidder_id, cb.current_price, cb.version, cb.updated_at
		FROM current_bids cb JOIN lots l ON l.id = cb.lot_id
		WHERE l.auction_id = $1
		ORDER BY cb.lot_id`, auctionID)
	if err != nil {
		return nil, wrap("failed to get current bids", err)
	}
	return collect(rows, scanBid)
}

func (r reader) History(ctx context.Context, auctionID int) ([]models.BidHistoryEntry, error) {
	rows, err := r.q.Query(ctx, `
		SELECT h.id, h.lot_id, h.bidder_id, h.amount, h.created_at
		FROM bid_history h JOIN lots l ON l.id = h.lot_id
		WHERE l.auction_id = $1
		ORDER BY h.id`, auctionID)
	if err != nil {
		return nil, wrap("failed to get bid history", err)
	}
	return collect(rows, scanHistory)
}

func (r reader) Settlement(ctx context.Context, lotID int) (*models.Settlement, error) {
	s, err := scanSettlement(r.q.QueryRow(ctx, "SELECT "+settleColumns+" FROM settlements WHERE lot_id = $1", lotID))
	if err != nil {
		return nil, wrap("failed to get settlement", err)
	}
	return s, nil
}

func (r reader) Settlements(ctx context.Context, auctionID int) ([]models.Settlement, error) {
	rows, err := r.q.Query(ctx, `
		SELECT s.id, s.lot_id, s.buyer_id, s.seller_id, s.final_price, s.created_at
		FROM settlements s JOIN lots l ON l.id = s.lot_id
		WHERE l.auction_id = $1
		ORDER BY s.lot_id`, auctionID)
	if err != nil {
		return nil, wrap("failed to get settlements", err)
	}
	return collect(rows, scanSettlement)
}

type pgTx struct {
	reader
	tx pgx.Tx
}

// exec runs a single-row update and reports ErrNotFound when nothing matched.
func (t *pgTx) exec(ctx context.Context, msg, sql string, args ...any) error {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return wrap(msg, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", msg, store.ErrNotFound)
	}
	return nil
}

func (t *pgTx) SetMinBid(ctx context.Context, lotID int, minBid decimal.Decimal) error {
	return t.exec(ctx, "failed to set min bid", "UPDATE lots SET min_bid = $1 WHERE id = $2", minBid, lotID)
}

func (t *pgTx) PutCurrentBid(ctx context.Context, lotID int, price decimal.Decimal, at time.Time) (*models.CurrentBid, error) {
	cb, err := scanBid(t.tx.QueryRow(ctx, `
		INSERT INTO current_bids (lot_id, bidder_id, current_price, version, updated_at)
		VALUES ($1, NULL, $2, nextval('current_bid_version_seq'), $3)
		ON CONFLICT (lot_id) DO UPDATE SET
			bidder_id = NULL,
			current_price = EXCLUDED.current_price,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at
		RETURNING `+bidColumns, lotID, price, at))
	if err != nil {
		return nil, wrap("failed to put current bid", err)
	}
	return cb, nil
}

func (t *pgTx) CompareAndSetBid(ctx context.Context, lotID int, version int64, bidderID int, price decimal.Decimal, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE current_bids
		SET bidder_id = $1, current_price = $2, version = nextval('current_bid_version_seq'), updated_at = $3
		WHERE lot_id = $4 AND version = $5`,
		bidderID, price, at, lotID, version)
	if err != nil {
		return false, wrap("failed to update current bid", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) AppendHistory(ctx context.Context, e models.BidHistoryEntry) (*models.BidHistoryEntry, error) {
	created, err := scanHistory(t.tx.QueryRow(ctx,
		"INSERT INTO bid_history (lot_id, bidder_id, amount, created_at) VALUES ($1, $2, $3, $4) RETURNING "+historyColumns,
		e.LotID, e.BidderID, e.Amount, e.CreatedAt))
	if err != nil {
		return nil, wrap("failed to append bid history", err)
	}
	return created, nil
}

func (t *pgTx) CreateSettlement(ctx context.Context, s models.Settlement) (*models.Settlement, error) {
	created, err := scanSettlement(t.tx.QueryRow(ctx,
		"INSERT INTO settlements (lot_id, buyer_id, seller_id, final_price, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING "+settleColumns,
		s.LotID, s.BuyerID, s.SellerID, s.FinalPrice, s.CreatedAt))
	if err != nil {
		return nil, wrap("failed to create settlement", err)
	}
	return created, nil
}

func (t *pgTx) SetLotStatus(ctx context.Context, lotID int, sold bool, closedAt *time.Time) error {
	return t.exec(ctx, "failed to set lot status", "UPDATE lots SET sold = $1, closed_at = $2 WHERE id = $3", sold, closedAt, lotID)
}

func (t *pgTx) SetActiveLot(ctx context.Context, auctionID int, lotID *int) error {
	return t.exec(ctx, "failed to set active lot", "UPDATE auctions SET active_lot_id = $1 WHERE id = $2", lotID, auctionID)
}

func (t *pgTx) SetTimer(ctx context.Context, auctionID int, anchor *timer.Anchor) error {
	var (
		started *time.Time
		secs    *int
	)
	if anchor != nil {
		s, d := anchor.StartedAt, anchor.DurationSeconds()
		started, secs = &s, &d
	}
	return t.exec(ctx, "failed to set timer",
		"UPDATE auctions SET timer_started_at = $1, timer_duration_seconds = $2 WHERE id = $3",
		started, secs, auctionID)
}

func (t *pgTx) SetEnded(ctx context.Context, auctionID int) error {
	return t.exec(ctx, "failed to end auction", "UPDATE auctions SET ended = TRUE WHERE id = $1", auctionID)
}

func (t *pgTx) ResetAuction(ctx context.Context, auctionID int) error {
	const lotsOf = "SELECT id FROM lots WHERE auction_id = $1"

	b := &pgx.Batch{}
	b.Queue("UPDATE auctions SET active_lot_id = NULL, timer_started_at = NULL, timer_duration_seconds = NULL WHERE id = $1", auctionID)
	b.Queue("DELETE FROM bid_history WHERE lot_id IN ("+lotsOf+")", auctionID)
	b.Queue("DELETE FROM current_bids WHERE lot_id IN ("+lotsOf+")", auctionID)
	b.Queue("DELETE FROM settlements WHERE lot_id IN ("+lotsOf+")", auctionID)
	b.Queue("UPDATE lots SET sold = FALSE, closed_at = NULL WHERE auction_id = $1", auctionID)

	br := t.tx.SendBatch(ctx, b)
	defer br.Close()
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return wrap("failed to reset auction", err)
		}
	}
	return br.Close()
}
