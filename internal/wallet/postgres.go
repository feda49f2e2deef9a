package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/auctionroom/internal/models"
)

// PGService keeps balances in the wallets table
type PGService struct {
	Pool *pgxpool.Pool
}

// NewPGService creates a Postgres backed wallet
func NewPGService(pool *pgxpool.Pool) *PGService {
	return &PGService{Pool: pool}
}

// Deposit credits amount to the user, creating the wallet row if needed
func (w *PGService) Deposit(ctx context.Context, userID int, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("deposit must be positive")
	}
	_, err := w.Pool.Exec(ctx, `
		INSERT INTO wallets (user_id, balance) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET balance = wallets.balance + EXCLUDED.balance`,
		userID, amount)
	if err != nil {
		return fmt.Errorf("failed to deposit: %w", err)
	}
	return nil
}

// AvailableBalance returns the user's balance, zero when no wallet exists
func (w *PGService) AvailableBalance(ctx context.Context, userID int) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := w.Pool.QueryRow(ctx, "SELECT balance FROM wallets WHERE user_id = $1", userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// Transfer moves the settlement's final price from buyer to seller. The
// wallet_transfers row keyed by settlement id makes repeats a no-op.
func (w *PGService) Transfer(ctx context.Context, s models.Settlement) error {
	tx, err := w.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO wallet_transfers (settlement_id, from_user_id, to_user_id, amount)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (settlement_id) DO NOTHING`,
		s.ID, s.BuyerID, s.SellerID, s.FinalPrice)
	if err != nil {
		return fmt.Errorf("failed to record transfer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	tag, err = tx.Exec(ctx,
		"UPDATE wallets SET balance = balance - $1 WHERE user_id = $2 AND balance >= $1",
		s.FinalPrice, s.BuyerID)
	if err != nil {
		return fmt.Errorf("failed to debit buyer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientFunds
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO wallets (user_id, balance) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET balance = wallets.balance + EXCLUDED.balance`,
		s.SellerID, s.FinalPrice)
	if err != nil {
		return fmt.Errorf("failed to credit seller: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
