package notify

import (
	"github.com/rs/zerolog/log"

	"github.com/stonefield/broker-api/internal/types"
)

// Event kinds delivered to clients at order transitions.
const (
	EventOrderExecuted  = "ORDER_EXECUTED"
	EventOrderSettled   = "ORDER_SETTLED"
	EventOrderCancelled = "ORDER_CANCELLED"
)

// Notifier is the fire-and-forget notification sink. Implementations
// must not be relied on for correctness: callers log and swallow any
// error, and a failed notification never rolls back a transition.
type Notifier interface {
	Notify(recipient string, event string, order *types.Order) error
}

// LogNotifier writes notifications to the application log. It stands in
// for the mail delivery collaborator.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Notify(recipient string, event string, order *types.Order) error {
	log.Info().
		Str("component", "notifier").
		Str("recipient", recipient).
		Str("event", event).
		Str("order_id", order.OrderID).
		Str("symbol", order.Symbol).
		Str("side", order.Side).
		Int64("quantity", order.Quantity).
		Float64("net_amount", order.NetAmount).
		Msg("order notification")
	return nil
}
