// Package wallet is the funds collaborator of the auction engine: it reports
// available balances for bid checks and moves money when a lot sells.
// Funds are verified at bid time, not held.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/auctionroom/internal/models"
)

// ErrInsufficientFunds is returned by Transfer when the buyer cannot cover the price.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Memory keeps balances in process. Transfers are idempotent per settlement.
type Memory struct {
	mu        sync.Mutex
	balances  map[int]decimal.Decimal
	transfers map[int]struct{}
}

// NewMemory creates an empty in-memory wallet
func NewMemory() *Memory {
	return &Memory{
		balances:  make(map[int]decimal.Decimal),
		transfers: make(map[int]struct{}),
	}
}

// Deposit credits amount to the user. Seeding only; top-ups are out of scope.
func (m *Memory) Deposit(ctx context.Context, userID int, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("deposit must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] = m.balances[userID].Add(amount)
	return nil
}

// AvailableBalance returns the user's balance, zero for unknown users.
func (m *Memory) AvailableBalance(ctx context.Context, userID int) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID], nil
}

// Transfer moves the final price from buyer to seller once per settlement.
func (m *Memory) Transfer(ctx context.Context, s models.Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, done := m.transfers[s.ID]; done {
		return nil
	}
	if m.balances[s.BuyerID].LessThan(s.FinalPrice) {
		return ErrInsufficientFunds
	}
	m.balances[s.BuyerID] = m.balances[s.BuyerID].Sub(s.FinalPrice)
	m.balances[s.SellerID] = m.balances[s.SellerID].Add(s.FinalPrice)
	m.transfers[s.ID] = struct{}{}
	return nil
}
