package types

import (
	"time"

	"gorm.io/gorm"
)

// Order lifecycle statuses
const (
	OrderPending   = "PENDING"
	OrderExecuted  = "EXECUTED"
	OrderSettled   = "SETTLED"
	OrderCancelled = "CANCELLED"
)

// Settlement sub-statuses. T+1 and T+2 mark progress through the
// settlement cycle while an executed order waits for its settlement date.
const (
	SettlementPending   = "PENDING"
	SettlementT1        = "T+1"
	SettlementT2        = "T+2"
	SettlementCompleted = "COMPLETED"
	SettlementCancelled = "CANCELLED"
)

// Order sides and execution modes
const (
	SideBuy    = "BUY"
	SideSell   = "SELL"
	TypeMarket = "MARKET"
	TypeLimit  = "LIMIT"
)

type Client struct {
	gorm.Model `json:"-"`
	ClientID   string `gorm:"uniqueIndex" json:"client_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
}

// Account carries the two balance fields the reservation ledger mutates.
// AvailableBalance is Balance minus funds promised to unsettled buys;
// it must never exceed Balance and neither may go negative.
type Account struct {
	gorm.Model       `json:"-"`
	AccountID        string  `gorm:"uniqueIndex" json:"account_id"`
	ClientID         string  `json:"client_id"`
	Balance          float64 `json:"balance"`
	AvailableBalance float64 `json:"available_balance"`
}

type Stock struct {
	gorm.Model   `json:"-"`
	Symbol       string  `gorm:"uniqueIndex" json:"symbol"`
	Name         string  `json:"name"`
	CurrentPrice float64 `json:"current_price"`
}

// PortfolioItem is one position row per (client, symbol): quantity held
// and volume-weighted average cost. Rows are created on first buy
// settlement and deleted when a sell settlement empties them.
type PortfolioItem struct {
	gorm.Model   `json:"-"`
	ClientID     string  `gorm:"uniqueIndex:idx_client_symbol" json:"client_id"`
	Symbol       string  `gorm:"uniqueIndex:idx_client_symbol" json:"symbol"`
	Quantity     int64   `json:"quantity"`
	AveragePrice float64 `json:"average_price"`
}

type Order struct {
	gorm.Model       `json:"-"`
	OrderID          string     `gorm:"uniqueIndex" json:"order_id"`
	ClientID         string     `json:"client_id"`
	AccountID        string     `json:"account_id"`
	Symbol           string     `json:"symbol"`
	Side             string     `json:"side"`       // BUY or SELL
	OrderType        string     `json:"order_type"` // MARKET or LIMIT
	Quantity         int64      `json:"quantity"`
	Price            float64    `json:"price"`
	GrossAmount      float64    `json:"gross_amount"`
	Commission       float64    `json:"commission"`
	TransactionTax   float64    `json:"transaction_tax"`
	NetAmount        float64    `json:"net_amount"`
	Status           string     `json:"status"`
	SettlementStatus string     `json:"settlement_status"`
	TradeDate        *time.Time `json:"trade_date,omitempty"`
	SettlementDate   *time.Time `json:"settlement_date,omitempty"`
	FundsReserved    bool       `json:"funds_reserved"`
	PositionUpdated  bool       `json:"position_updated"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// OrderPreview is the priced request a preview token resolves to. It is
// the only thing submit will honor, so price and amounts are fixed here.
type OrderPreview struct {
	Token          string    `json:"preview_token"`
	ClientID       string    `json:"client_id"`
	AccountID      string    `json:"account_id"`
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	OrderType      string    `json:"order_type"`
	Quantity       int64     `json:"quantity"`
	Price          float64   `json:"price"`
	GrossAmount    float64   `json:"gross_amount"`
	Commission     float64   `json:"commission"`
	TransactionTax float64   `json:"transaction_tax"`
	NetAmount      float64   `json:"net_amount"`
	CreatedAt      time.Time `json:"created_at"`
}
