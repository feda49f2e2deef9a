package wallet

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/auctionroom/internal/models"
)

func TestMemory_Transfer(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name         string
		buyerBalance int64
		price        int64
		expectErr    error
		expectBuyer  int64
		expectSeller int64
	}{
		{"Success", 500, 110, nil, 390, 110},
		{"ExactBalance", 110, 110, nil, 0, 110},
		{"InsufficientFunds", 100, 110, ErrInsufficientFunds, 100, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewMemory()
			require.NoError(t, w.Deposit(ctx, 2, decimal.NewFromInt(tt.buyerBalance)))

			err := w.Transfer(ctx, models.Settlement{ID: 1, BuyerID: 2, SellerID: 1, FinalPrice: decimal.NewFromInt(tt.price)})
			assert.ErrorIs(t, err, tt.expectErr)

			buyer, _ := w.AvailableBalance(ctx, 2)
			seller, _ := w.AvailableBalance(ctx, 1)
			assert.True(t, decimal.NewFromInt(tt.expectBuyer).Equal(buyer), "buyer balance %s", buyer)
			assert.True(t, decimal.NewFromInt(tt.expectSeller).Equal(seller), "seller balance %s", seller)
		})
	}
}

func TestMemory_TransferIsIdempotent(t *testing.T) {
	ctx := context.Background()
	w := NewMemory()
	require.NoError(t, w.Deposit(ctx, 2, decimal.NewFromInt(500)))

	s := models.Settlement{ID: 9, BuyerID: 2, SellerID: 1, FinalPrice: decimal.NewFromInt(200)}
	require.NoError(t, w.Transfer(ctx, s))
	require.NoError(t, w.Transfer(ctx, s))

	buyer, _ := w.AvailableBalance(ctx, 2)
	assert.True(t, decimal.NewFromInt(300).Equal(buyer))
}

func TestMemory_Deposit(t *testing.T) {
	w := NewMemory()
	assert.Error(t, w.Deposit(context.Background(), 1, decimal.Zero))
	assert.Error(t, w.Deposit(context.Background(), 1, decimal.NewFromInt(-5)))

	bal, err := w.AvailableBalance(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
}
