package ledger

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/stonefield/broker-api/internal/types"
)

// Balance reservation rules. Each function re-reads the account inside
// the caller's transaction, applies exactly one rule, re-asserts the
// balance invariant and saves. The buy/sell asymmetry:
//
//	BUY  submit: available -= net, balance unchanged
//	BUY  settle: balance collapses down to available
//	BUY  cancel: available += net
//	SELL submit: no effect (validated against holdings, not cash)
//	SELL settle: balance += net, available += net

func getAccount(tx *gorm.DB, accountID string) (*types.Account, error) {
	var acct types.Account
	if err := tx.Where("account_id = ?", accountID).First(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("account %s: %w", accountID, types.ErrNotFound)
		}
		return nil, err
	}
	return &acct, nil
}

// ReserveFunds applies the buy-side submit rule. It re-checks cover so a
// stale pre-submit check can never drive the available balance negative.
func ReserveFunds(tx *gorm.DB, accountID string, amount float64) error {
	acct, err := getAccount(tx, accountID)
	if err != nil {
		return err
	}
	if acct.AvailableBalance < amount {
		return fmt.Errorf("account %s has %.2f available, need %.2f: %w",
			accountID, acct.AvailableBalance, amount, types.ErrInsufficientBalance)
	}
	acct.AvailableBalance = sub(acct.AvailableBalance, amount)
	clampBalances(acct)
	return tx.Save(acct).Error
}

// ReleaseFunds reverses an earlier reservation when a pending buy is
// cancelled.
func ReleaseFunds(tx *gorm.DB, accountID string, amount float64) error {
	acct, err := getAccount(tx, accountID)
	if err != nil {
		return err
	}
	acct.AvailableBalance = add(acct.AvailableBalance, amount)
	clampBalances(acct)
	return tx.Save(acct).Error
}

// SettleBuy makes the reservation permanent: the total balance collapses
// to the available balance, releasing the funds-reserved hold.
func SettleBuy(tx *gorm.DB, accountID string) error {
	acct, err := getAccount(tx, accountID)
	if err != nil {
		return err
	}
	acct.Balance = acct.AvailableBalance
	clampBalances(acct)
	return tx.Save(acct).Error
}

// SettleSell credits the sale proceeds to both balance fields.
func SettleSell(tx *gorm.DB, accountID string, amount float64) error {
	acct, err := getAccount(tx, accountID)
	if err != nil {
		return err
	}
	acct.Balance = add(acct.Balance, amount)
	acct.AvailableBalance = add(acct.AvailableBalance, amount)
	clampBalances(acct)
	return tx.Save(acct).Error
}

// clampBalances re-asserts available <= balance and both >= 0. The
// arithmetic above preserves the invariant when applied once per order
// per transition, so a clamp firing means a data-integrity problem
// upstream; it is logged as an anomaly, never silently absorbed.
func clampBalances(acct *types.Account) {
	if acct.Balance < 0 {
		log.Warn().
			Str("component", "balance_ledger").
			Str("account_id", acct.AccountID).
			Float64("balance", acct.Balance).
			Msg("balance went negative, clamping to zero")
		acct.Balance = 0
	}
	if acct.AvailableBalance < 0 {
		log.Warn().
			Str("component", "balance_ledger").
			Str("account_id", acct.AccountID).
			Float64("available_balance", acct.AvailableBalance).
			Msg("available balance went negative, clamping to zero")
		acct.AvailableBalance = 0
	}
	if acct.AvailableBalance > acct.Balance {
		log.Warn().
			Str("component", "balance_ledger").
			Str("account_id", acct.AccountID).
			Float64("balance", acct.Balance).
			Float64("available_balance", acct.AvailableBalance).
			Msg("available balance exceeds balance, clamping")
		acct.AvailableBalance = acct.Balance
	}
}

func add(a, b float64) float64 {
	v, _ := decimal.NewFromFloat(a).Add(decimal.NewFromFloat(b)).Round(types.AmountScale).Float64()
	return v
}

func sub(a, b float64) float64 {
	v, _ := decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).Round(types.AmountScale).Float64()
	return v
}
