package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// routeStats tracks latency for one API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

func (rs *routeStats) add(d time.Duration, failed bool) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
	if failed {
		rs.failures++
	}
}

// calculate returns min, max, mean, median, p95 and p99 latencies
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sorted := append([]time.Duration(nil), rs.durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	min = sorted[0]
	max = sorted[len(sorted)-1]

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	mean = sum / time.Duration(len(sorted))
	median = sorted[len(sorted)/2]

	p95 = sorted[percentileIndex(len(sorted), 0.95)]
	p99 = sorted[percentileIndex(len(sorted), 0.99)]
	return
}

func percentileIndex(n int, p float64) int {
	idx := int(math.Ceil(float64(n)*p)) - 1
	if idx < 0 {
		return 0
	}
	return idx
}

// apiError is a non-2xx response from the server
type apiError struct {
	Status int
	Code   string
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("status %d (%s): %s", e.Status, e.Code, e.Body)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// simulationClient drives the paper trading API over HTTP
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client

	mu    sync.Mutex
	stats map[string]*routeStats
}

func newSimulationClient(baseURL string, timeout time.Duration) *simulationClient {
	return &simulationClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		stats: map[string]*routeStats{
			"auth":        {name: "Authentication"},
			"account":     {name: "Create Account"},
			"trade":       {name: "Execute Trade"},
			"get":         {name: "Get Account"},
			"performance": {name: "Performance"},
			"analytics":   {name: "Analytics"},
		},
	}
}

func (sc *simulationClient) record(route string, start time.Time, err error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.stats[route].add(time.Since(start), err != nil)
}

// do sends a request and decodes the envelope's data into out
func (sc *simulationClient) do(route, method, path string, body interface{}, headers map[string]string, out interface{}) (err error) {
	start := time.Now()
	defer func() { sc.record(route, start, err) }()

	var buf io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewBuffer(payload)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if sc.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+sc.authToken)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("route", route).Int("status", resp.StatusCode).Str("response", string(respBody)).Msg("api response")

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		apiErr := &apiError{Status: resp.StatusCode, Body: string(respBody)}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
		}
		return apiErr
	}
	if out != nil {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

func (sc *simulationClient) authenticate(apiKey, apiSecret string) error {
	var result struct {
		Token string `json:"jwt_token"`
	}
	err := sc.do("auth", http.MethodPost, "/api/v1/auth/token", map[string]string{
		"api_key":    apiKey,
		"api_secret": apiSecret,
	}, nil, &result)
	if err != nil {
		return err
	}
	sc.authToken = result.Token
	return nil
}

type accountView struct {
	AccountID     string `json:"account_id"`
	AccountType   string `json:"account_type"`
	Cash          string `json:"cash"`
	TotalValue    string `json:"total_value"`
	RealizedPnL   string `json:"realized_pnl"`
	UnrealizedPnL string `json:"unrealized_pnl"`
	DayTradeCount int    `json:"day_trade_count"`
}

func (sc *simulationClient) createAccount(accountType, initialCash string) (*accountView, error) {
	var acct accountView
	err := sc.do("account", http.MethodPost, "/api/v1/accounts", map[string]string{
		"account_type": accountType,
		"initial_cash": initialCash,
	}, nil, &acct)
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

type tradeView struct {
	TradeID    string `json:"trade_id"`
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Quantity   string `json:"quantity"`
	Price      string `json:"price"`
	Notional   string `json:"notional"`
	IsDayTrade bool   `json:"is_day_trade"`
}

func (sc *simulationClient) executeTrade(accountID, symbol, side string, quantity int) (*tradeView, error) {
	var trade tradeView
	err := sc.do("trade", http.MethodPost, "/api/v1/accounts/"+accountID+"/trades", map[string]interface{}{
		"symbol":   symbol,
		"side":     side,
		"quantity": quantity,
	}, map[string]string{"Idempotency-Key": uuid.New().String()}, &trade)
	if err != nil {
		return nil, err
	}
	return &trade, nil
}

func (sc *simulationClient) getAccount(accountID string) (*accountView, error) {
	var acct accountView
	if err := sc.do("get", http.MethodGet, "/api/v1/accounts/"+accountID, nil, nil, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

type performanceView struct {
	Stats struct {
		PeriodReturn float64 `json:"period_return"`
		Volatility   float64 `json:"volatility"`
		SharpeRatio  float64 `json:"sharpe_ratio"`
		MaxDrawdown  float64 `json:"max_drawdown"`
	} `json:"stats"`
}

func (sc *simulationClient) getPerformance(accountID string) (*performanceView, error) {
	var perf performanceView
	if err := sc.do("performance", http.MethodGet, "/api/v1/accounts/"+accountID+"/performance", nil, nil, &perf); err != nil {
		return nil, err
	}
	return &perf, nil
}

type analyticsView struct {
	ConcentrationRisk      float64           `json:"concentration_risk"`
	RebalancingSuggestions []json.RawMessage `json:"rebalancing_suggestions"`
}

func (sc *simulationClient) getAnalytics(accountID string) (*analyticsView, error) {
	var a analyticsView
	if err := sc.do("analytics", http.MethodGet, "/api/v1/accounts/"+accountID+"/analytics", nil, nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// printPerformanceStats outputs latency statistics for every endpoint
func (sc *simulationClient) printPerformanceStats(w io.Writer) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	routes := make([]string, 0, len(sc.stats))
	for route := range sc.stats {
		routes = append(routes, route)
	}
	sort.Strings(routes)

	fmt.Fprintln(w, "\nAPI Performance Statistics")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	fmt.Fprintf(w, "%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Fprintln(w, strings.Repeat("-", 100))

	for _, route := range routes {
		stats := sc.stats[route]
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Fprintf(w, "%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Fprintln(w, strings.Repeat("-", 100))
}
