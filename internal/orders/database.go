package orders

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/stonefield/broker-api/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// Transaction runs fn in a database transaction. The settle and cancel
// paths use this so order, account and position writes commit together.
func (d *Database) Transaction(fn func(tx *gorm.DB) error) error {
	return d.db.Transaction(fn)
}

func (d *Database) GetOrder(orderID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetOrdersByStatus(clientID, status string) ([]types.Order, error) {
	var out []types.Order
	q := d.db.Where("client_id = ?", clientID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// GetPendingOrders returns every order still waiting to execute, for the
// scheduler's waiting-order scan.
func (d *Database) GetPendingOrders() ([]types.Order, error) {
	var out []types.Order
	if err := d.db.Where("status = ?", types.OrderPending).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// GetUnsettledOrders returns executed orders whose settlement cycle is
// still running, for the scheduler's settlement scan. The filter is half
// of the double guard against double settlement; the re-check inside the
// settle transaction is the other half.
func (d *Database) GetUnsettledOrders() ([]types.Order, error) {
	var out []types.Order
	err := d.db.
		Where("status = ?", types.OrderExecuted).
		Where("settlement_status IN ?", []string{types.SettlementPending, types.SettlementT1, types.SettlementT2}).
		Where("funds_reserved = ?", true).
		Where("position_updated = ?", false).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Database) GetAccount(accountID string) (*types.Account, error) {
	var acct types.Account
	if err := d.db.Where("account_id = ?", accountID).First(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("account %s: %w", accountID, types.ErrNotFound)
		}
		return nil, err
	}
	return &acct, nil
}

func (d *Database) GetStock(symbol string) (*types.Stock, error) {
	var stock types.Stock
	if err := d.db.Where("symbol = ?", symbol).First(&stock).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("stock %s: %w", symbol, types.ErrNotFound)
		}
		return nil, err
	}
	return &stock, nil
}

func (d *Database) GetClient(clientID string) (*types.Client, error) {
	var client types.Client
	if err := d.db.Where("client_id = ?", clientID).First(&client).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("client %s: %w", clientID, types.ErrNotFound)
		}
		return nil, err
	}
	return &client, nil
}

// GetDB exposes the underlying handle for read projections that live in
// the ledger package.
func (d *Database) GetDB() *gorm.DB {
	return d.db
}
