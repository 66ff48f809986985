package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/stonefield/broker-api/internal/types"
)

// Position ledger: one row per (client, symbol) holding quantity and
// volume-weighted average cost. Mutations happen exactly once per order,
// at settlement, inside the settle transaction.

// ApplyBuy adds quantity at price to the client's position, creating the
// row on the first settled buy for that symbol.
func ApplyBuy(tx *gorm.DB, clientID, symbol string, quantity int64, price float64) error {
	var item types.PortfolioItem
	err := tx.Where("client_id = ? AND symbol = ?", clientID, symbol).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		item = types.PortfolioItem{
			ClientID:     clientID,
			Symbol:       symbol,
			Quantity:     quantity,
			AveragePrice: price,
		}
		return tx.Create(&item).Error
	}
	if err != nil {
		return err
	}

	item.AveragePrice = BlendAverageCost(item.Quantity, item.AveragePrice, quantity, price)
	item.Quantity += quantity
	return tx.Save(&item).Error
}

// ApplySell reduces the client's position. The average cost is unchanged
// by a sell; a sell that empties the position removes the row. Holdings
// are re-checked here even though order entry validates them, since a
// shortfall at this layer means an upstream validation gap.
func ApplySell(tx *gorm.DB, clientID, symbol string, quantity int64) error {
	var item types.PortfolioItem
	err := tx.Where("client_id = ? AND symbol = ?", clientID, symbol).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("no position in %s for client %s: %w", symbol, clientID, types.ErrInsufficientHoldings)
	}
	if err != nil {
		return err
	}
	if quantity > item.Quantity {
		return fmt.Errorf("sell %d exceeds held %d of %s: %w",
			quantity, item.Quantity, symbol, types.ErrInsufficientHoldings)
	}

	item.Quantity -= quantity
	if item.Quantity == 0 {
		// Hard delete so a later buy can recreate the row under the
		// (client_id, symbol) unique index.
		return tx.Unscoped().Delete(&item).Error
	}
	return tx.Save(&item).Error
}

// BlendAverageCost returns the volume-weighted average cost after adding
// qty units at price to a position of oldQty units at oldAvg, rounded
// half-up to cents.
func BlendAverageCost(oldQty int64, oldAvg float64, qty int64, price float64) float64 {
	oldCost := decimal.NewFromFloat(oldAvg).Mul(decimal.NewFromInt(oldQty))
	newCost := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(qty))
	total := decimal.NewFromInt(oldQty + qty)

	avg, _ := oldCost.Add(newCost).DivRound(total, types.AmountScale).Float64()
	return avg
}

// GetPosition returns the client's position in symbol, or nil when none
// is held.
func GetPosition(db *gorm.DB, clientID, symbol string) (*types.PortfolioItem, error) {
	var item types.PortfolioItem
	if err := db.Where("client_id = ? AND symbol = ?", clientID, symbol).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

// GetPortfolio returns all of the client's positions.
func GetPortfolio(db *gorm.DB, clientID string) ([]types.PortfolioItem, error) {
	var items []types.PortfolioItem
	if err := db.Where("client_id = ?", clientID).Order("symbol").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
