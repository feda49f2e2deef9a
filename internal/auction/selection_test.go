package auction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/xtrntr/auctionroom/internal/models"
)

func TestNextLot(t *testing.T) {
	lots := func(sold ...bool) []models.Lot {
		out := make([]models.Lot, len(sold))
		for i, s := range sold {
			out[i] = models.Lot{ID: i + 1, Sold: s}
		}
		return out
	}

	tests := []struct {
		name    string
		lots    []models.Lot
		afterID int
		want    int // 0 means none
	}{
		{"NextInOrder", lots(false, false, false), 1, 2},
		{"SkipsSold", lots(false, true, false), 1, 3},
		{"WrapsToStart", lots(false, false, false), 3, 1},
		{"WrapSkipsSold", lots(true, false, false), 3, 2},
		{"NeverReturnsClosedLot", lots(true, false, true), 2, 0},
		{"AllSold", lots(true, true, true), 1, 0},
		{"Empty", nil, 1, 0},
		{"FromStart", lots(true, false), 0, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextLot(tt.lots, tt.afterID)
			if tt.want == 0 {
				assert.Nil(t, got)
				return
			}
			if assert.NotNil(t, got) {
				assert.Equal(t, tt.want, got.ID)
			}
		})
	}
}
