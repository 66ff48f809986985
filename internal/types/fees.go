package types

import "github.com/shopspring/decimal"

// Fee schedule applied at preview time. Both rates are taken on the
// gross amount; buys pay fees on top, sells have them deducted.
const (
	CommissionRate     = 0.005
	TransactionTaxRate = 0.005

	// Monetary amounts are rounded half-up to cents.
	AmountScale = 2
)

// ComputeAmounts prices an order: gross, commission, transaction tax and
// the net amount that the reservation ledger moves at settlement.
func ComputeAmounts(side string, quantity int64, price float64) (gross, commission, tax, net float64) {
	p := decimal.NewFromFloat(price)
	q := decimal.NewFromInt(quantity)

	g := p.Mul(q).Round(AmountScale)
	c := g.Mul(decimal.NewFromFloat(CommissionRate)).Round(AmountScale)
	t := g.Mul(decimal.NewFromFloat(TransactionTaxRate)).Round(AmountScale)

	var n decimal.Decimal
	if side == SideSell {
		n = g.Sub(c).Sub(t)
	} else {
		n = g.Add(c).Add(t)
	}

	gross, _ = g.Float64()
	commission, _ = c.Float64()
	tax, _ = t.Float64()
	net, _ = n.Float64()
	return gross, commission, tax, net
}
