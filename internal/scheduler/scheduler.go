package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stonefield/broker-api/internal/clock"
	"github.com/stonefield/broker-api/internal/orders"
	"github.com/stonefield/broker-api/internal/types"
)

// Processor is the settlement scheduler: a single cooperative loop woken
// on a fixed interval. Each pass runs two independent scans, advancing
// waiting orders to EXECUTED and executed orders through settlement.
// Both scans are idempotent across passes: an order advanced in one pass
// no longer matches the scan filter in the next.
type Processor struct {
	service     *orders.Service
	db          *orders.Database
	clock       clock.Clock
	interval    time.Duration
	restingTime time.Duration
}

func NewProcessor(service *orders.Service, clk clock.Clock, interval, restingTime time.Duration) *Processor {
	return &Processor{
		service:     service,
		db:          service.GetDatabase(),
		clock:       clk,
		interval:    interval,
		restingTime: restingTime,
	}
}

// Start begins the scheduling loop and blocks until ctx is cancelled.
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "settlement_scheduler").Logger()
	logger.Info().
		Dur("interval", p.interval).
		Dur("resting_time", p.restingTime).
		Msg("starting settlement scheduler")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down settlement scheduler")
			return
		case <-ticker.C:
			p.RunPass()
		}
	}
}

// RunPass performs one scheduling pass. A failure on one order is logged
// and must not prevent progress on the rest of the batch, so each order
// is handled as an independent unit of work.
func (p *Processor) RunPass() {
	p.scanWaitingOrders()
	p.scanUnsettledOrders()
}

// scanWaitingOrders advances PENDING orders whose execution condition is
// met: market orders after the minimum resting time, limit orders when
// the reference price crosses the limit.
func (p *Processor) scanWaitingOrders() {
	logger := log.With().Str("component", "settlement_scheduler").Logger()

	pending, err := p.db.GetPendingOrders()
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch pending orders")
		return
	}

	now := p.clock.Now()
	for i := range pending {
		order := &pending[i]
		ok, err := p.shouldExecute(order, now)
		if err != nil {
			logger.Error().Err(err).Str("order_id", order.OrderID).Msg("execution check failed")
			continue
		}
		if !ok {
			continue
		}
		if _, err := p.service.AdvanceToExecuted(order.OrderID); err != nil {
			logger.Error().Err(err).Str("order_id", order.OrderID).Msg("failed to execute order")
		}
	}
}

func (p *Processor) shouldExecute(order *types.Order, now time.Time) (bool, error) {
	if order.OrderType == types.TypeMarket {
		return now.Sub(order.CreatedAt) >= p.restingTime, nil
	}

	// LIMIT: buy fills when the market comes down to the limit, sell
	// when it comes up to it.
	stock, err := p.db.GetStock(order.Symbol)
	if err != nil {
		return false, err
	}
	if order.Side == types.SideBuy {
		return stock.CurrentPrice <= order.Price, nil
	}
	return stock.CurrentPrice >= order.Price, nil
}

// scanUnsettledOrders settles executed orders whose settlement date has
// passed and stamps T+1/T+2 progress on those still waiting.
func (p *Processor) scanUnsettledOrders() {
	logger := log.With().Str("component", "settlement_scheduler").Logger()

	unsettled, err := p.db.GetUnsettledOrders()
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch unsettled orders")
		return
	}
	if len(unsettled) > 0 {
		logger.Debug().Int("unsettled_count", len(unsettled)).Msg("processing unsettled orders")
	}

	now := p.clock.Now()
	for i := range unsettled {
		order := &unsettled[i]

		if order.SettlementDate != nil && !now.Before(*order.SettlementDate) {
			if _, err := p.service.Settle(order.OrderID); err != nil {
				logger.Error().Err(err).Str("order_id", order.OrderID).Msg("failed to settle order")
			}
			continue
		}

		if sub := p.progressFor(order, now); sub != "" && sub != order.SettlementStatus {
			if err := p.service.MarkSettlementProgress(order.OrderID, sub); err != nil {
				logger.Error().Err(err).Str("order_id", order.OrderID).Msg("failed to update settlement progress")
			}
		}
	}
}

func (p *Processor) progressFor(order *types.Order, now time.Time) string {
	if order.TradeDate == nil {
		return ""
	}
	switch days := clock.TradingDaysBetween(*order.TradeDate, now); {
	case days >= 2:
		return types.SettlementT2
	case days >= 1:
		return types.SettlementT1
	default:
		return ""
	}
}
