package orders

// PreviewRequest is the order-entry payload priced at preview time.
// Price is only honored for LIMIT orders; market orders are priced from
// the instrument's current reference price.
type PreviewRequest struct {
	AccountID string  `json:"account_id" binding:"required"`
	Symbol    string  `json:"symbol" binding:"required"`
	Side      string  `json:"side" binding:"required"`
	OrderType string  `json:"order_type" binding:"required"`
	Quantity  int64   `json:"quantity" binding:"required"`
	Price     float64 `json:"price"`
}

// SubmitRequest confirms a previously previewed order by its one-time
// token.
type SubmitRequest struct {
	PreviewToken string `json:"preview_token" binding:"required"`
}
