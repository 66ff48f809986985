package orders

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/stonefield/broker-api/internal/clock"
	"github.com/stonefield/broker-api/internal/ledger"
	"github.com/stonefield/broker-api/internal/notify"
	"github.com/stonefield/broker-api/internal/preview"
	"github.com/stonefield/broker-api/internal/types"
)

// Service owns the order state machine: PENDING -> EXECUTED -> SETTLED,
// with PENDING -> CANCELLED as the only other legal transition. Submit
// and cancel are caller-facing; AdvanceToExecuted and Settle are driven
// by the settlement scheduler.
type Service struct {
	db         *Database
	previews   *preview.Cache
	notifier   notify.Notifier
	clock      clock.Clock
	offsetDays int
}

func NewService(gormDB *gorm.DB, previews *preview.Cache, notifier notify.Notifier, clk clock.Clock, settlementOffsetDays int) *Service {
	return &Service{
		db:         NewDatabase(gormDB),
		previews:   previews,
		notifier:   notifier,
		clock:      clk,
		offsetDays: settlementOffsetDays,
	}
}

// PreviewOrder validates and prices a request, caches it and returns the
// priced preview with its one-time token. Only a token from here can be
// submitted, so the confirmed price cannot be tampered with.
func (s *Service) PreviewOrder(clientID string, req *PreviewRequest) (*types.OrderPreview, error) {
	if req.Side != types.SideBuy && req.Side != types.SideSell {
		return nil, fmt.Errorf("side must be BUY or SELL: %w", types.ErrValidation)
	}
	if req.OrderType != types.TypeMarket && req.OrderType != types.TypeLimit {
		return nil, fmt.Errorf("order type must be MARKET or LIMIT: %w", types.ErrValidation)
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive: %w", types.ErrValidation)
	}

	acct, err := s.db.GetAccount(req.AccountID)
	if err != nil {
		return nil, err
	}
	if acct.ClientID != clientID {
		return nil, fmt.Errorf("account %s does not belong to client: %w", req.AccountID, types.ErrValidation)
	}

	stock, err := s.db.GetStock(req.Symbol)
	if err != nil {
		return nil, err
	}

	price := stock.CurrentPrice
	if req.OrderType == types.TypeLimit {
		if req.Price <= 0 {
			return nil, fmt.Errorf("limit orders require a positive price: %w", types.ErrValidation)
		}
		price = req.Price
	}

	gross, commission, tax, net := types.ComputeAmounts(req.Side, req.Quantity, price)

	switch req.Side {
	case types.SideBuy:
		if acct.AvailableBalance < net {
			return nil, fmt.Errorf("need %.2f, have %.2f available: %w",
				net, acct.AvailableBalance, types.ErrInsufficientBalance)
		}
	case types.SideSell:
		pos, err := ledger.GetPosition(s.db.GetDB(), clientID, req.Symbol)
		if err != nil {
			return nil, err
		}
		if pos == nil || pos.Quantity < req.Quantity {
			held := int64(0)
			if pos != nil {
				held = pos.Quantity
			}
			return nil, fmt.Errorf("sell %d exceeds held %d: %w", req.Quantity, held, types.ErrInsufficientHoldings)
		}
	}

	p := &types.OrderPreview{
		ClientID:       clientID,
		AccountID:      req.AccountID,
		Symbol:         req.Symbol,
		Side:           req.Side,
		OrderType:      req.OrderType,
		Quantity:       req.Quantity,
		Price:          price,
		GrossAmount:    gross,
		Commission:     commission,
		TransactionTax: tax,
		NetAmount:      net,
	}
	s.previews.Put(p)

	log.Debug().
		Str("service", "orders").
		Str("client_id", clientID).
		Str("symbol", p.Symbol).
		Str("side", p.Side).
		Float64("net_amount", p.NetAmount).
		Msg("order previewed")

	return p, nil
}

// SubmitOrder consumes a preview token and persists the order as
// PENDING. For buys the net amount is reserved against the available
// balance in the same transaction that creates the order.
func (s *Service) SubmitOrder(clientID, token string) (*types.Order, error) {
	p, ok := s.previews.Consume(token)
	if !ok {
		return nil, fmt.Errorf("preview token missing or expired: %w", types.ErrValidation)
	}
	if p.ClientID != clientID {
		return nil, fmt.Errorf("preview token belongs to another client: %w", types.ErrValidation)
	}

	now := s.clock.Now()
	order := &types.Order{
		OrderID:        "ORD_" + uuid.New().String(),
		ClientID:       p.ClientID,
		AccountID:      p.AccountID,
		Symbol:         p.Symbol,
		Side:           p.Side,
		OrderType:      p.OrderType,
		Quantity:       p.Quantity,
		Price:          p.Price,
		GrossAmount:    p.GrossAmount,
		Commission:     p.Commission,
		TransactionTax: p.TransactionTax,
		NetAmount:      p.NetAmount,
		Status:         types.OrderPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if order.Side == types.SideBuy {
			if err := ledger.ReserveFunds(tx, order.AccountID, order.NetAmount); err != nil {
				return err
			}
		}
		return tx.Create(order).Error
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("service", "orders").
		Str("order_id", order.OrderID).
		Str("client_id", order.ClientID).
		Str("symbol", order.Symbol).
		Str("side", order.Side).
		Int64("quantity", order.Quantity).
		Float64("net_amount", order.NetAmount).
		Msg("order submitted")

	return order, nil
}

// CancelOrder cancels a PENDING order owned by clientID. Cancellation is
// only legal while PENDING; once the scheduler has executed an order it
// is committed through to settlement. A cancelled buy gets its
// reservation reversed in the same transaction.
func (s *Service) CancelOrder(orderID, clientID string) (*types.Order, error) {
	var order *types.Order
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var o types.Order
		if err := tx.Where("order_id = ? AND client_id = ?", orderID, clientID).First(&o).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("order %s: %w", orderID, types.ErrNotFound)
			}
			return err
		}
		if o.Status != types.OrderPending {
			return fmt.Errorf("cannot cancel order in status %s: %w", o.Status, types.ErrInvalidState)
		}

		if o.Side == types.SideBuy {
			if err := ledger.ReleaseFunds(tx, o.AccountID, o.NetAmount); err != nil {
				return err
			}
		}

		o.Status = types.OrderCancelled
		o.SettlementStatus = types.SettlementCancelled
		o.UpdatedAt = s.clock.Now()
		if err := tx.Save(&o).Error; err != nil {
			return err
		}
		order = &o
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("service", "orders").
		Str("order_id", order.OrderID).
		Str("client_id", order.ClientID).
		Msg("order cancelled")

	s.sendNotification(order, notify.EventOrderCancelled)
	return order, nil
}

// GetOrder retrieves an order scoped to its owner.
func (s *Service) GetOrder(orderID, clientID string) (*types.Order, error) {
	order, err := s.db.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order == nil || order.ClientID != clientID {
		return nil, fmt.Errorf("order %s: %w", orderID, types.ErrNotFound)
	}
	return order, nil
}

// GetOrdersByStatus lists the client's orders, optionally filtered by
// lifecycle status.
func (s *Service) GetOrdersByStatus(clientID, status string) ([]types.Order, error) {
	switch status {
	case "", types.OrderPending, types.OrderExecuted, types.OrderSettled, types.OrderCancelled:
	default:
		return nil, fmt.Errorf("unknown status %q: %w", status, types.ErrValidation)
	}
	return s.db.GetOrdersByStatus(clientID, status)
}

// GetPortfolio returns the client's settled positions.
func (s *Service) GetPortfolio(clientID string) ([]types.PortfolioItem, error) {
	return ledger.GetPortfolio(s.db.GetDB(), clientID)
}

// GetAccount returns an account scoped to its owner.
func (s *Service) GetAccount(accountID, clientID string) (*types.Account, error) {
	acct, err := s.db.GetAccount(accountID)
	if err != nil {
		return nil, err
	}
	if acct.ClientID != clientID {
		return nil, fmt.Errorf("account %s: %w", accountID, types.ErrNotFound)
	}
	return acct, nil
}

// AdvanceToExecuted moves a PENDING order to EXECUTED: trade date is
// stamped from the trading calendar and the settlement date set T+n
// trading days out. Scheduler-only. The status re-check inside the
// transaction makes a pass over an already-advanced or just-cancelled
// order a no-op.
func (s *Service) AdvanceToExecuted(orderID string) (*types.Order, error) {
	var order *types.Order
	now := s.clock.Now()
	settlementDate := clock.AddTradingDays(now, s.offsetDays)

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var o types.Order
		if err := tx.Where("order_id = ?", orderID).First(&o).Error; err != nil {
			return err
		}
		if o.Status != types.OrderPending {
			return nil
		}

		o.Status = types.OrderExecuted
		o.SettlementStatus = types.SettlementPending
		o.TradeDate = &now
		o.SettlementDate = &settlementDate
		o.FundsReserved = true
		o.UpdatedAt = now
		if err := tx.Save(&o).Error; err != nil {
			return err
		}
		order = &o
		return nil
	})
	if err != nil || order == nil {
		return nil, err
	}

	log.Info().
		Str("service", "orders").
		Str("order_id", order.OrderID).
		Time("trade_date", now).
		Time("settlement_date", settlementDate).
		Msg("order executed")

	s.sendNotification(order, notify.EventOrderExecuted)
	return order, nil
}

// Settle finalizes an executed order once its settlement date has
// passed: the reservation side effect and the position ledger update
// commit in one transaction with the order's own fields. The re-read and
// guard re-check inside the transaction, together with PositionUpdated,
// make a replayed settle a no-op.
func (s *Service) Settle(orderID string) (*types.Order, error) {
	var order *types.Order
	now := s.clock.Now()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var o types.Order
		if err := tx.Where("order_id = ?", orderID).First(&o).Error; err != nil {
			return err
		}
		if !s.settleable(&o, now) {
			return nil
		}

		switch o.Side {
		case types.SideBuy:
			if err := ledger.SettleBuy(tx, o.AccountID); err != nil {
				return err
			}
			if err := ledger.ApplyBuy(tx, o.ClientID, o.Symbol, o.Quantity, o.Price); err != nil {
				return err
			}
		case types.SideSell:
			if err := ledger.SettleSell(tx, o.AccountID, o.NetAmount); err != nil {
				return err
			}
			if err := ledger.ApplySell(tx, o.ClientID, o.Symbol, o.Quantity); err != nil {
				return err
			}
		}

		o.Status = types.OrderSettled
		o.SettlementStatus = types.SettlementCompleted
		o.FundsReserved = false
		o.PositionUpdated = true
		o.UpdatedAt = now
		if err := tx.Save(&o).Error; err != nil {
			return err
		}
		order = &o
		return nil
	})
	if err != nil || order == nil {
		return nil, err
	}

	log.Info().
		Str("service", "orders").
		Str("order_id", order.OrderID).
		Str("side", order.Side).
		Float64("net_amount", order.NetAmount).
		Msg("order settled")

	s.sendNotification(order, notify.EventOrderSettled)
	return order, nil
}

// MarkSettlementProgress stamps the T+1/T+2 sub-status while an executed
// order waits out the settlement cycle. Progress markers only ever move
// forward and never touch balances or positions.
func (s *Service) MarkSettlementProgress(orderID, subStatus string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var o types.Order
		if err := tx.Where("order_id = ?", orderID).First(&o).Error; err != nil {
			return err
		}
		if o.Status != types.OrderExecuted || o.SettlementStatus == subStatus {
			return nil
		}
		o.SettlementStatus = subStatus
		o.UpdatedAt = s.clock.Now()
		return tx.Save(&o).Error
	})
}

func (s *Service) settleable(o *types.Order, now time.Time) bool {
	if o.Status != types.OrderExecuted || o.PositionUpdated || !o.FundsReserved {
		return false
	}
	switch o.SettlementStatus {
	case types.SettlementPending, types.SettlementT1, types.SettlementT2:
	default:
		return false
	}
	return o.SettlementDate != nil && !now.Before(*o.SettlementDate)
}

// sendNotification delivers a lifecycle event to the order's owner.
// Notification failures are logged and swallowed; they never affect
// order or ledger state.
func (s *Service) sendNotification(order *types.Order, event string) {
	recipient := order.ClientID
	if client, err := s.db.GetClient(order.ClientID); err == nil && client.Email != "" {
		recipient = client.Email
	}
	if err := s.notifier.Notify(recipient, event, order); err != nil {
		log.Error().
			Err(err).
			Str("service", "orders").
			Str("order_id", order.OrderID).
			Str("event", event).
			Msg("failed to deliver notification")
	}
}

// GetDatabase exposes the order store to the settlement scheduler.
func (s *Service) GetDatabase() *Database {
	return s.db
}
