package orders

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/stonefield/broker-api/internal/ledger"
	"github.com/stonefield/broker-api/internal/notify"
	"github.com/stonefield/broker-api/internal/preview"
	"github.com/stonefield/broker-api/internal/types"
)

// fakeClock is a manually advanced clock anchored on a Monday so trading
// day arithmetic is predictable.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
	fail   bool
}

func (n *recordingNotifier) Notify(recipient, event string, order *types.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	if n.fail {
		return errors.New("mail gateway down")
	}
	return nil
}

type testEnv struct {
	svc      *Service
	db       *gorm.DB
	clk      *fakeClock
	notifier *recordingNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "orders.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	err = db.AutoMigrate(
		&types.Client{}, &types.Account{}, &types.Stock{},
		&types.Order{}, &types.PortfolioItem{},
	)
	if err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	seed := []interface{}{
		&types.Client{ClientID: "CLI_001", Name: "Test Client", Email: "client@example.com"},
		&types.Account{AccountID: "ACC_001", ClientID: "CLI_001", Balance: 1000, AvailableBalance: 1000},
		&types.Stock{Symbol: "AAPL", Name: "Apple Inc.", CurrentPrice: 50},
		&types.Stock{Symbol: "MSFT", Name: "Microsoft Corp.", CurrentPrice: 60},
	}
	for _, s := range seed {
		if err := db.Create(s).Error; err != nil {
			t.Fatalf("failed to seed: %v", err)
		}
	}

	cache, err := preview.NewCache(time.Minute)
	if err != nil {
		t.Fatalf("failed to create preview cache: %v", err)
	}
	clk := newFakeClock()
	notifier := &recordingNotifier{}

	return &testEnv{
		svc:      NewService(db, cache, notifier, clk, 2),
		db:       db,
		clk:      clk,
		notifier: notifier,
	}
}

func (e *testEnv) account(t *testing.T, accountID string) *types.Account {
	t.Helper()
	var acct types.Account
	if err := e.db.Where("account_id = ?", accountID).First(&acct).Error; err != nil {
		t.Fatalf("failed to load account: %v", err)
	}
	return &acct
}

func (e *testEnv) submitBuy(t *testing.T, quantity int64) *types.Order {
	t.Helper()
	p, err := e.svc.PreviewOrder("CLI_001", &PreviewRequest{
		AccountID: "ACC_001", Symbol: "AAPL",
		Side: types.SideBuy, OrderType: types.TypeMarket, Quantity: quantity,
	})
	if err != nil {
		t.Fatalf("PreviewOrder() error = %v", err)
	}
	order, err := e.svc.SubmitOrder("CLI_001", p.Token)
	if err != nil {
		t.Fatalf("SubmitOrder() error = %v", err)
	}
	return order
}

func TestSubmit_BuyReservesFunds(t *testing.T) {
	e := newTestEnv(t)

	order := e.submitBuy(t, 10)

	if order.Status != types.OrderPending {
		t.Errorf("status = %s, want PENDING", order.Status)
	}
	if order.NetAmount != 505 {
		t.Errorf("net = %.2f, want 505", order.NetAmount)
	}

	acct := e.account(t, "ACC_001")
	if acct.AvailableBalance != 495 {
		t.Errorf("available = %.2f, want 495", acct.AvailableBalance)
	}
	if acct.Balance != 1000 {
		t.Errorf("balance = %.2f, want 1000 (unchanged at submit)", acct.Balance)
	}
}

func TestSubmit_TokenSingleUse(t *testing.T) {
	e := newTestEnv(t)

	p, err := e.svc.PreviewOrder("CLI_001", &PreviewRequest{
		AccountID: "ACC_001", Symbol: "AAPL",
		Side: types.SideBuy, OrderType: types.TypeMarket, Quantity: 1,
	})
	if err != nil {
		t.Fatalf("PreviewOrder() error = %v", err)
	}

	if _, err := e.svc.SubmitOrder("CLI_001", p.Token); err != nil {
		t.Fatalf("first submit error = %v", err)
	}
	if _, err := e.svc.SubmitOrder("CLI_001", p.Token); !errors.Is(err, types.ErrValidation) {
		t.Errorf("second submit of same token: got %v, want ErrValidation", err)
	}
	if _, err := e.svc.SubmitOrder("CLI_001", "PRV_bogus"); !errors.Is(err, types.ErrValidation) {
		t.Errorf("bogus token: got %v, want ErrValidation", err)
	}
}

func TestSubmit_TokenScopedToClient(t *testing.T) {
	e := newTestEnv(t)

	p, err := e.svc.PreviewOrder("CLI_001", &PreviewRequest{
		AccountID: "ACC_001", Symbol: "AAPL",
		Side: types.SideBuy, OrderType: types.TypeMarket, Quantity: 1,
	})
	if err != nil {
		t.Fatalf("PreviewOrder() error = %v", err)
	}

	if _, err := e.svc.SubmitOrder("CLI_999", p.Token); !errors.Is(err, types.ErrValidation) {
		t.Errorf("foreign client submit: got %v, want ErrValidation", err)
	}
}

func TestPreview_Validation(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name    string
		req     PreviewRequest
		wantErr error
	}{
		{
			"bad side",
			PreviewRequest{AccountID: "ACC_001", Symbol: "AAPL", Side: "HOLD", OrderType: types.TypeMarket, Quantity: 1},
			types.ErrValidation,
		},
		{
			"bad order type",
			PreviewRequest{AccountID: "ACC_001", Symbol: "AAPL", Side: types.SideBuy, OrderType: "STOP", Quantity: 1},
			types.ErrValidation,
		},
		{
			"zero quantity",
			PreviewRequest{AccountID: "ACC_001", Symbol: "AAPL", Side: types.SideBuy, OrderType: types.TypeMarket, Quantity: 0},
			types.ErrValidation,
		},
		{
			"limit without price",
			PreviewRequest{AccountID: "ACC_001", Symbol: "AAPL", Side: types.SideBuy, OrderType: types.TypeLimit, Quantity: 1},
			types.ErrValidation,
		},
		{
			"unknown stock",
			PreviewRequest{AccountID: "ACC_001", Symbol: "NOPE", Side: types.SideBuy, OrderType: types.TypeMarket, Quantity: 1},
			types.ErrNotFound,
		},
		{
			"unknown account",
			PreviewRequest{AccountID: "ACC_404", Symbol: "AAPL", Side: types.SideBuy, OrderType: types.TypeMarket, Quantity: 1},
			types.ErrNotFound,
		},
		{
			"buy beyond available balance",
			PreviewRequest{AccountID: "ACC_001", Symbol: "AAPL", Side: types.SideBuy, OrderType: types.TypeMarket, Quantity: 100},
			types.ErrInsufficientBalance,
		},
		{
			"sell with no holdings",
			PreviewRequest{AccountID: "ACC_001", Symbol: "AAPL", Side: types.SideSell, OrderType: types.TypeMarket, Quantity: 1},
			types.ErrInsufficientHoldings,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.svc.PreviewOrder("CLI_001", &tt.req); !errors.Is(err, tt.wantErr) {
				t.Errorf("PreviewOrder() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCancel_PendingBuyRestoresBalance(t *testing.T) {
	e := newTestEnv(t)
	order := e.submitBuy(t, 10)

	cancelled, err := e.svc.CancelOrder(order.OrderID, "CLI_001")
	if err != nil {
		t.Fatalf("CancelOrder() error = %v", err)
	}
	if cancelled.Status != types.OrderCancelled || cancelled.SettlementStatus != types.SettlementCancelled {
		t.Errorf("status = %s/%s, want CANCELLED/CANCELLED", cancelled.Status, cancelled.SettlementStatus)
	}

	acct := e.account(t, "ACC_001")
	if acct.AvailableBalance != 1000 || acct.Balance != 1000 {
		t.Errorf("balances = %.2f/%.2f, want 1000/1000 restored", acct.Balance, acct.AvailableBalance)
	}

	// Second cancel is an illegal transition and mutates nothing
	if _, err := e.svc.CancelOrder(order.OrderID, "CLI_001"); !errors.Is(err, types.ErrInvalidState) {
		t.Errorf("double cancel: got %v, want ErrInvalidState", err)
	}
	acct = e.account(t, "ACC_001")
	if acct.AvailableBalance != 1000 {
		t.Errorf("failed cancel mutated balances: %.2f", acct.AvailableBalance)
	}
}

func TestCancel_ScopedToOwner(t *testing.T) {
	e := newTestEnv(t)
	order := e.submitBuy(t, 1)

	if _, err := e.svc.CancelOrder(order.OrderID, "CLI_999"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("foreign cancel: got %v, want ErrNotFound", err)
	}
	if _, err := e.svc.CancelOrder("ORD_missing", "CLI_001"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("missing order cancel: got %v, want ErrNotFound", err)
	}
}

func TestCancel_ExecutedOrderRejected(t *testing.T) {
	e := newTestEnv(t)
	order := e.submitBuy(t, 10)

	if _, err := e.svc.AdvanceToExecuted(order.OrderID); err != nil {
		t.Fatalf("AdvanceToExecuted() error = %v", err)
	}

	if _, err := e.svc.CancelOrder(order.OrderID, "CLI_001"); !errors.Is(err, types.ErrInvalidState) {
		t.Errorf("cancel after execution: got %v, want ErrInvalidState", err)
	}
}

func TestAdvanceToExecuted(t *testing.T) {
	e := newTestEnv(t)
	order := e.submitBuy(t, 10)

	executed, err := e.svc.AdvanceToExecuted(order.OrderID)
	if err != nil {
		t.Fatalf("AdvanceToExecuted() error = %v", err)
	}
	if executed.Status != types.OrderExecuted || executed.SettlementStatus != types.SettlementPending {
		t.Errorf("status = %s/%s, want EXECUTED/PENDING", executed.Status, executed.SettlementStatus)
	}
	if !executed.FundsReserved {
		t.Error("funds_reserved not set at execution")
	}
	if executed.TradeDate == nil || executed.SettlementDate == nil {
		t.Fatal("trade and settlement dates must be stamped")
	}
	// Monday trade date settles Wednesday (T+2 trading days)
	want := executed.TradeDate.AddDate(0, 0, 2)
	if !executed.SettlementDate.Equal(want) {
		t.Errorf("settlement date = %v, want %v", executed.SettlementDate, want)
	}

	// A second pass over the same order is a no-op
	again, err := e.svc.AdvanceToExecuted(order.OrderID)
	if err != nil {
		t.Fatalf("replayed AdvanceToExecuted() error = %v", err)
	}
	if again != nil {
		t.Error("replayed execution should be a no-op")
	}
}

func TestSettle_BuyLifecycle(t *testing.T) {
	e := newTestEnv(t)
	order := e.submitBuy(t, 10)

	if _, err := e.svc.AdvanceToExecuted(order.OrderID); err != nil {
		t.Fatalf("AdvanceToExecuted() error = %v", err)
	}

	// Before the settlement date, settle is a no-op
	settled, err := e.svc.Settle(order.OrderID)
	if err != nil {
		t.Fatalf("early Settle() error = %v", err)
	}
	if settled != nil {
		t.Fatal("settle before settlement date should be a no-op")
	}

	e.clk.advance(3 * 24 * time.Hour)

	settled, err = e.svc.Settle(order.OrderID)
	if err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	if settled == nil {
		t.Fatal("expected settlement to apply")
	}
	if settled.Status != types.OrderSettled || settled.SettlementStatus != types.SettlementCompleted {
		t.Errorf("status = %s/%s, want SETTLED/COMPLETED", settled.Status, settled.SettlementStatus)
	}
	if settled.FundsReserved || !settled.PositionUpdated {
		t.Errorf("flags = reserved:%v updated:%v, want false/true", settled.FundsReserved, settled.PositionUpdated)
	}

	acct := e.account(t, "ACC_001")
	if acct.Balance != 495 || acct.AvailableBalance != 495 {
		t.Errorf("balances = %.2f/%.2f, want 495/495", acct.Balance, acct.AvailableBalance)
	}

	pos, err := ledger.GetPosition(e.db, "CLI_001", "AAPL")
	if err != nil || pos == nil {
		t.Fatalf("expected position, got %v, err %v", pos, err)
	}
	if pos.Quantity != 10 || pos.AveragePrice != 50 {
		t.Errorf("position = %d @ %.2f, want 10 @ 50", pos.Quantity, pos.AveragePrice)
	}
}

func TestSettle_ReplayIsNoOp(t *testing.T) {
	e := newTestEnv(t)
	order := e.submitBuy(t, 10)

	if _, err := e.svc.AdvanceToExecuted(order.OrderID); err != nil {
		t.Fatalf("AdvanceToExecuted() error = %v", err)
	}
	e.clk.advance(3 * 24 * time.Hour)

	if _, err := e.svc.Settle(order.OrderID); err != nil {
		t.Fatalf("Settle() error = %v", err)
	}

	replay, err := e.svc.Settle(order.OrderID)
	if err != nil {
		t.Fatalf("replayed Settle() error = %v", err)
	}
	if replay != nil {
		t.Error("replayed settlement should be a no-op")
	}

	acct := e.account(t, "ACC_001")
	if acct.Balance != 495 || acct.AvailableBalance != 495 {
		t.Errorf("replay changed balances: %.2f/%.2f", acct.Balance, acct.AvailableBalance)
	}
	pos, _ := ledger.GetPosition(e.db, "CLI_001", "AAPL")
	if pos == nil || pos.Quantity != 10 {
		t.Errorf("replay changed position: %+v", pos)
	}
}

func TestSettle_SellLifecycle(t *testing.T) {
	e := newTestEnv(t)

	// Hold 10 MSFT at 55 going in
	if err := ledger.ApplyBuy(e.db, "CLI_001", "MSFT", 10, 55); err != nil {
		t.Fatalf("seed position error = %v", err)
	}

	p, err := e.svc.PreviewOrder("CLI_001", &PreviewRequest{
		AccountID: "ACC_001", Symbol: "MSFT",
		Side: types.SideSell, OrderType: types.TypeMarket, Quantity: 10,
	})
	if err != nil {
		t.Fatalf("PreviewOrder() error = %v", err)
	}
	if p.NetAmount != 594 {
		t.Fatalf("sell net = %.2f, want 594", p.NetAmount)
	}

	order, err := e.svc.SubmitOrder("CLI_001", p.Token)
	if err != nil {
		t.Fatalf("SubmitOrder() error = %v", err)
	}

	// Sells reserve nothing at submit
	acct := e.account(t, "ACC_001")
	if acct.Balance != 1000 || acct.AvailableBalance != 1000 {
		t.Errorf("sell submit touched balances: %.2f/%.2f", acct.Balance, acct.AvailableBalance)
	}

	if _, err := e.svc.AdvanceToExecuted(order.OrderID); err != nil {
		t.Fatalf("AdvanceToExecuted() error = %v", err)
	}
	e.clk.advance(3 * 24 * time.Hour)
	settled, err := e.svc.Settle(order.OrderID)
	if err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	if settled == nil {
		t.Fatal("expected settlement to apply")
	}

	acct = e.account(t, "ACC_001")
	if acct.Balance != 1594 || acct.AvailableBalance != 1594 {
		t.Errorf("balances = %.2f/%.2f, want 1594/1594", acct.Balance, acct.AvailableBalance)
	}

	pos, err := ledger.GetPosition(e.db, "CLI_001", "MSFT")
	if err != nil {
		t.Fatalf("GetPosition() error = %v", err)
	}
	if pos != nil {
		t.Errorf("exhausted position should be deleted, got %+v", pos)
	}
}

func TestSettle_NotifierFailureDoesNotBlock(t *testing.T) {
	e := newTestEnv(t)
	e.notifier.fail = true

	order := e.submitBuy(t, 10)
	if _, err := e.svc.AdvanceToExecuted(order.OrderID); err != nil {
		t.Fatalf("AdvanceToExecuted() error = %v", err)
	}
	e.clk.advance(3 * 24 * time.Hour)

	settled, err := e.svc.Settle(order.OrderID)
	if err != nil {
		t.Fatalf("Settle() must swallow notifier failures, got %v", err)
	}
	if settled == nil || settled.Status != types.OrderSettled {
		t.Errorf("order did not settle despite notifier failure: %+v", settled)
	}
}

func TestNotifications_EmittedPerTransition(t *testing.T) {
	e := newTestEnv(t)
	order := e.submitBuy(t, 10)

	if _, err := e.svc.AdvanceToExecuted(order.OrderID); err != nil {
		t.Fatalf("AdvanceToExecuted() error = %v", err)
	}
	e.clk.advance(3 * 24 * time.Hour)
	if _, err := e.svc.Settle(order.OrderID); err != nil {
		t.Fatalf("Settle() error = %v", err)
	}

	cancelled := e.submitBuy(t, 1)
	if _, err := e.svc.CancelOrder(cancelled.OrderID, "CLI_001"); err != nil {
		t.Fatalf("CancelOrder() error = %v", err)
	}

	want := []string{notify.EventOrderExecuted, notify.EventOrderSettled, notify.EventOrderCancelled}
	if len(e.notifier.events) != len(want) {
		t.Fatalf("events = %v, want %v", e.notifier.events, want)
	}
	for i := range want {
		if e.notifier.events[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, e.notifier.events[i], want[i])
		}
	}
}

func TestGetOrdersByStatus(t *testing.T) {
	e := newTestEnv(t)

	a := e.submitBuy(t, 1)
	b := e.submitBuy(t, 2)
	if _, err := e.svc.CancelOrder(b.OrderID, "CLI_001"); err != nil {
		t.Fatalf("CancelOrder() error = %v", err)
	}

	pending, err := e.svc.GetOrdersByStatus("CLI_001", types.OrderPending)
	if err != nil {
		t.Fatalf("GetOrdersByStatus() error = %v", err)
	}
	if len(pending) != 1 || pending[0].OrderID != a.OrderID {
		t.Errorf("pending = %v, want just %s", pending, a.OrderID)
	}

	all, err := e.svc.GetOrdersByStatus("CLI_001", "")
	if err != nil {
		t.Fatalf("GetOrdersByStatus() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all orders = %d, want 2", len(all))
	}

	if _, err := e.svc.GetOrdersByStatus("CLI_001", "SHIPPED"); !errors.Is(err, types.ErrValidation) {
		t.Errorf("bad status filter: got %v, want ErrValidation", err)
	}
}

func TestInvariant_HeldAcrossLifecycles(t *testing.T) {
	e := newTestEnv(t)

	check := func(step string) {
		acct := e.account(t, "ACC_001")
		if acct.AvailableBalance > acct.Balance || acct.Balance < 0 || acct.AvailableBalance < 0 {
			t.Fatalf("%s: invariant violated: balance %.2f available %.2f",
				step, acct.Balance, acct.AvailableBalance)
		}
	}

	for i := 0; i < 3; i++ {
		order := e.submitBuy(t, 2)
		check(fmt.Sprintf("submit %d", i))
		if i == 0 {
			if _, err := e.svc.CancelOrder(order.OrderID, "CLI_001"); err != nil {
				t.Fatalf("CancelOrder() error = %v", err)
			}
			check("cancel")
			continue
		}
		if _, err := e.svc.AdvanceToExecuted(order.OrderID); err != nil {
			t.Fatalf("AdvanceToExecuted() error = %v", err)
		}
		check("execute")
		e.clk.advance(3 * 24 * time.Hour)
		if _, err := e.svc.Settle(order.OrderID); err != nil {
			t.Fatalf("Settle() error = %v", err)
		}
		check("settle")
	}
}
