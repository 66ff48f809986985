package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stonefield/broker-api/internal/types"
)

const serverAddress = "http://localhost:8080"

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes min, max, mean, median and 95th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p95 = rs.durations[p95idx]

	return
}

// simulationClient handles HTTP communication with the brokerage API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

func newSimulationClient() (*simulationClient, error) {
	sc := &simulationClient{
		baseURL: serverAddress,
		client:  &http.Client{Timeout: 10 * time.Second},
		stats: map[string]*routeStats{
			"auth":      {name: "Authentication"},
			"preview":   {name: "Preview Order"},
			"submit":    {name: "Submit Order"},
			"cancel":    {name: "Cancel Order"},
			"get":       {name: "Get Order"},
			"account":   {name: "Get Account"},
			"portfolio": {name: "Get Portfolio"},
			"internal":  {name: "Internal Ops"},
		},
	}

	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

// doJSON performs an authenticated request and decodes the standard
// response envelope's data field into out.
func (sc *simulationClient) doJSON(stat, method, path string, payload, out interface{}) error {
	start := time.Now()
	defer func() {
		sc.stats[stat].addDuration(time.Since(start))
	}()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(b)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+sc.authToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats[stat].failures++
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("API response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		sc.stats[stat].failures++
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	return json.Unmarshal(envelope.Data, out)
}

func (sc *simulationClient) authenticate() (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	credentials := map[string]string{
		"api_key":    "demo-api-key",
		"api_secret": "demo-api-secret",
	}
	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(sc.baseURL+"/api/v1/auth/token", "application/json", bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var envelope struct {
		Data struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", err
	}
	return envelope.Data.Token, nil
}

func (sc *simulationClient) previewOrder(accountID, symbol, side, orderType string, quantity int64, price float64) (*types.OrderPreview, error) {
	var p types.OrderPreview
	err := sc.doJSON("preview", "POST", "/api/v1/orders/preview", map[string]interface{}{
		"account_id": accountID,
		"symbol":     symbol,
		"side":       side,
		"order_type": orderType,
		"quantity":   quantity,
		"price":      price,
	}, &p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (sc *simulationClient) submitOrder(token string) (*types.Order, error) {
	var o types.Order
	err := sc.doJSON("submit", "POST", "/api/v1/orders", map[string]string{"preview_token": token}, &o)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (sc *simulationClient) cancelOrder(orderID string) (*types.Order, error) {
	var o types.Order
	err := sc.doJSON("cancel", "POST", "/api/v1/orders/"+orderID+"/cancel", nil, &o)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (sc *simulationClient) getOrder(orderID string) (*types.Order, error) {
	var o types.Order
	if err := sc.doJSON("get", "GET", "/api/v1/orders/"+orderID, nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (sc *simulationClient) getAccount(accountID string) (*types.Account, error) {
	var a types.Account
	if err := sc.doJSON("account", "GET", "/api/v1/accounts/"+accountID, nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (sc *simulationClient) getPortfolio() ([]types.PortfolioItem, error) {
	var items []types.PortfolioItem
	if err := sc.doJSON("portfolio", "GET", "/api/v1/portfolio", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (sc *simulationClient) advanceCalendar(days int) error {
	return sc.doJSON("internal", "POST", "/api/v1/internal/calendar/advance", map[string]int{"days": days}, nil)
}

func (sc *simulationClient) runSchedulerPass() error {
	return sc.doJSON("internal", "POST", "/api/v1/internal/scheduler/run", nil, nil)
}

// waitForStatus polls an order until it reaches the wanted status or the
// attempt budget runs out, running a scheduler pass between polls.
func (sc *simulationClient) waitForStatus(orderID, want string, attempts int) (*types.Order, error) {
	for i := 0; i < attempts; i++ {
		if err := sc.runSchedulerPass(); err != nil {
			return nil, err
		}
		order, err := sc.getOrder(orderID)
		if err != nil {
			return nil, err
		}
		if order.Status == want {
			return order, nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return nil, fmt.Errorf("order %s never reached status %s", orderID, want)
}

// runLifecycle drives one order through preview, submit, execution via
// the scheduler, a T+3 calendar jump and settlement, logging balances
// and portfolio along the way.
func runLifecycle(sc *simulationClient, accountID, symbol, side string, quantity int64) error {
	before, err := sc.getAccount(accountID)
	if err != nil {
		return err
	}
	log.Info().
		Str("side", side).
		Str("symbol", symbol).
		Float64("balance", before.Balance).
		Float64("available", before.AvailableBalance).
		Msg("starting lifecycle")

	p, err := sc.previewOrder(accountID, symbol, side, types.TypeMarket, quantity, 0)
	if err != nil {
		return fmt.Errorf("preview failed: %w", err)
	}
	log.Info().
		Str("token", p.Token).
		Float64("price", p.Price).
		Float64("net_amount", p.NetAmount).
		Msg("order previewed")

	order, err := sc.submitOrder(p.Token)
	if err != nil {
		return fmt.Errorf("submit failed: %w", err)
	}
	log.Info().Str("order_id", order.OrderID).Str("status", order.Status).Msg("order submitted")

	// Market orders rest before executing; jump past the resting time.
	if err := sc.advanceCalendar(1); err != nil {
		return err
	}
	order, err = sc.waitForStatus(order.OrderID, types.OrderExecuted, 10)
	if err != nil {
		return err
	}
	log.Info().
		Str("order_id", order.OrderID).
		Str("settlement_status", order.SettlementStatus).
		Time("settlement_date", *order.SettlementDate).
		Msg("order executed")

	// Jump past T+2 and settle.
	if err := sc.advanceCalendar(4); err != nil {
		return err
	}
	order, err = sc.waitForStatus(order.OrderID, types.OrderSettled, 10)
	if err != nil {
		return err
	}

	after, err := sc.getAccount(accountID)
	if err != nil {
		return err
	}
	portfolio, err := sc.getPortfolio()
	if err != nil {
		return err
	}

	log.Info().
		Str("order_id", order.OrderID).
		Str("settlement_status", order.SettlementStatus).
		Float64("balance", after.Balance).
		Float64("available", after.AvailableBalance).
		Int("positions", len(portfolio)).
		Msg("order settled")

	return nil
}

// runCancelScenario submits a buy and cancels it while PENDING,
// verifying the reservation is released.
func runCancelScenario(sc *simulationClient, accountID, symbol string) error {
	before, err := sc.getAccount(accountID)
	if err != nil {
		return err
	}

	p, err := sc.previewOrder(accountID, symbol, types.SideBuy, types.TypeMarket, 5, 0)
	if err != nil {
		return err
	}
	order, err := sc.submitOrder(p.Token)
	if err != nil {
		return err
	}

	cancelled, err := sc.cancelOrder(order.OrderID)
	if err != nil {
		return fmt.Errorf("cancel failed: %w", err)
	}

	after, err := sc.getAccount(accountID)
	if err != nil {
		return err
	}

	log.Info().
		Str("order_id", cancelled.OrderID).
		Str("status", cancelled.Status).
		Float64("available_before", before.AvailableBalance).
		Float64("available_after", after.AvailableBalance).
		Msg("cancel scenario completed")

	if after.AvailableBalance != before.AvailableBalance {
		return fmt.Errorf("cancel did not restore available balance: %.2f != %.2f",
			after.AvailableBalance, before.AvailableBalance)
	}
	return nil
}

// printStats outputs performance statistics for all API routes
func (sc *simulationClient) printStats() {
	log.Info().Msg("=== Simulation Statistics ===")
	for _, rs := range sc.stats {
		if rs.totalCalls == 0 {
			continue
		}
		min, max, mean, median, p95 := rs.calculate()
		log.Info().
			Str("route", rs.name).
			Int("calls", rs.totalCalls).
			Int("failures", rs.failures).
			Dur("min", min).
			Dur("max", max).
			Dur("mean", mean).
			Dur("median", median).
			Dur("p95", p95).
			Msg("route statistics")
	}
}

func main() {
	sc, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create simulation client")
	}

	const accountID = "ACC_001"

	// Buy, hold through settlement, then sell the position back out.
	if err := runLifecycle(sc, accountID, "AAPL", types.SideBuy, 10); err != nil {
		log.Fatal().Err(err).Msg("buy lifecycle failed")
	}
	if err := runLifecycle(sc, accountID, "AAPL", types.SideSell, 10); err != nil {
		log.Fatal().Err(err).Msg("sell lifecycle failed")
	}
	if err := runCancelScenario(sc, accountID, "MSFT"); err != nil {
		log.Fatal().Err(err).Msg("cancel scenario failed")
	}

	sc.printStats()
	log.Info().Msg("simulation completed successfully")
}
