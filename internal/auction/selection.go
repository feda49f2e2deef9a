package auction

import "github.com/xtrntr/auctionroom/internal/models"

// NextLot picks the lot to activate after afterID: the first unsold lot
// strictly after it in creation order, else the first unsold lot before it.
// afterID itself is never returned. lots must be in creation order.
func NextLot(lots []models.Lot, afterID int) *models.Lot {
	for i := range lots {
		if lots[i].ID > afterID && !lots[i].Sold {
			return &lots[i]
		}
	}
	for i := range lots {
		if lots[i].ID >= afterID {
			break
		}
		if !lots[i].Sold {
			return &lots[i]
		}
	}
	return nil
}
