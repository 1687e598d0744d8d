package performance

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/klear-paper/internal/compliance"
	apperrors "github.com/ksred/klear-paper/internal/errors"
	"github.com/ksred/klear-paper/internal/ledger"
	"github.com/ksred/klear-paper/internal/pricing"
	"github.com/ksred/klear-paper/internal/testutil"
	"github.com/ksred/klear-paper/internal/trading"
	"github.com/ksred/klear-paper/internal/types"
)

var start = time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

func trade(symbol string, side types.Side, qty, price string, at time.Time) types.Trade {
	q, p := testutil.D(qty), testutil.D(price)
	return types.Trade{
		Symbol:     symbol,
		Side:       side,
		Quantity:   q,
		Price:      p,
		Notional:   q.Mul(p),
		Status:     types.TradeStatusExecuted,
		ExecutedAt: at,
	}
}

func point(v string, at time.Time) Point {
	return Point{Timestamp: at, TotalValue: testutil.D(v), Cash: testutil.D(v)}
}

func TestReplay(t *testing.T) {
	trades := []types.Trade{
		trade("X", types.SideBuy, "10", "100", start.Add(time.Hour)),
		trade("X", types.SideBuy, "10", "110", start.Add(2*time.Hour)),
		trade("Y", types.SideBuy, "5", "40", start.Add(3*time.Hour)),
		trade("X", types.SideSell, "20", "120", start.Add(4*time.Hour)),
		{Symbol: "Y", Side: types.SideBuy, Quantity: testutil.D("1"), Price: testutil.D("1"), Status: types.TradeStatusRejected},
	}
	prices := map[string]decimal.Decimal{"X": testutil.D("130")}

	points, realized := Replay(testutil.D("10000"), start, trades, prices)
	require.Len(t, points, 5)

	assert.Equal(t, start, points[0].Timestamp)
	assert.True(t, points[0].TotalValue.Equal(testutil.D("10000")))
	assert.True(t, points[0].InvestedValue.IsZero())

	// valued at the current price of X, not the execution price
	assert.True(t, points[1].Cash.Equal(testutil.D("9000")))
	assert.True(t, points[1].InvestedValue.Equal(testutil.D("1300")))
	assert.True(t, points[1].TotalValue.Equal(testutil.D("10300")))

	assert.True(t, points[2].InvestedValue.Equal(testutil.D("2600")))

	// Y has no current price and is valued at its last trade
	assert.True(t, points[3].InvestedValue.Equal(testutil.D("2800")))

	last := points[4]
	assert.True(t, last.Cash.Equal(testutil.D("10100")))
	assert.True(t, last.InvestedValue.Equal(testutil.D("200")))
	assert.True(t, last.TotalValue.Equal(testutil.D("10300")))
	assert.True(t, realized.Equal(testutil.D("300")), "realized %s", realized)

	for i := 1; i < len(points); i++ {
		assert.False(t, points[i].Timestamp.Before(points[i-1].Timestamp))
	}
}

func TestComputeStatsZeroCases(t *testing.T) {
	assert.Equal(t, Stats{}, ComputeStats(nil, 0.02, time.UTC))
	assert.Equal(t, Stats{}, ComputeStats([]Point{point("100", start)}, 0.02, time.UTC))

	flat := ComputeStats([]Point{point("100", start), point("100", start.Add(time.Hour)), point("100", start.Add(2*time.Hour))}, 0.02, time.UTC)
	assert.Zero(t, flat.PeriodReturn)
	assert.Zero(t, flat.Volatility)
	assert.Zero(t, flat.SharpeRatio)
	assert.Zero(t, flat.SortinoRatio)
	assert.Zero(t, flat.MaxDrawdown)

	// a zero starting value never produces NaN
	zero := ComputeStats([]Point{point("0", start), point("0", start.Add(48*time.Hour))}, 0.02, time.UTC)
	assert.Equal(t, Stats{}, zero)

	// one return is not enough for a volatility
	two := ComputeStats([]Point{point("100", start), point("110", start.Add(time.Hour))}, 0.02, time.UTC)
	assert.InDelta(t, 0.1, two.PeriodReturn, 1e-12)
	assert.Zero(t, two.Volatility)
	assert.Zero(t, two.SharpeRatio)
}

func TestComputeStats(t *testing.T) {
	day := 24 * time.Hour
	points := []Point{
		point("100", start),
		point("110", start.Add(day)),
		point("99", start.Add(2*day)),
	}
	s := ComputeStats(points, 0.02, time.UTC)

	assert.InDelta(t, -0.01, s.PeriodReturn, 1e-12)
	assert.InDelta(t, annualize(-0.01, 2), s.AnnualizedReturn, 1e-12)
	assert.InDelta(t, math.Sqrt(0.02)*math.Sqrt(252), s.Volatility, 1e-9)
	assert.InDelta(t, (s.AnnualizedReturn-0.02)/s.Volatility, s.SharpeRatio, 1e-9)
	assert.InDelta(t, (s.AnnualizedReturn-0.02)/(math.Sqrt(0.005)*math.Sqrt(252)), s.SortinoRatio, 1e-9)
	assert.InDelta(t, 0.1, s.MaxDrawdown, 1e-12)
}

func TestComputeStatsUsesDailyReturns(t *testing.T) {
	var intraday []Point
	for i, v := range []string{"10000", "10100", "9900", "10100", "9900", "10000"} {
		intraday = append(intraday, point(v, start.Add(time.Duration(i)*time.Minute)))
	}
	s := ComputeStats(intraday, 0.02, time.UTC)
	assert.Zero(t, s.Volatility, "one trading day has no daily volatility")
	assert.Zero(t, s.SharpeRatio)
	assert.Zero(t, s.SortinoRatio)
	assert.InDelta(t, 200.0/10100, s.MaxDrawdown, 1e-12, "drawdown still sees intraday points")

	// intraday swings do not count; only the closes 110 and 99 do
	day := 24 * time.Hour
	noisy := []Point{
		point("100", start),
		point("150", start.Add(time.Hour)),
		point("60", start.Add(2*time.Hour)),
		point("110", start.Add(3*time.Hour)),
		point("120", start.Add(day)),
		point("99", start.Add(day+time.Hour)),
	}
	assert.InDelta(t, math.Sqrt(0.02)*math.Sqrt(252), ComputeStats(noisy, 0.02, time.UTC).Volatility, 1e-9)
}

func TestDailyCloses(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 15:00 UTC and 03:00 UTC next day are both March 4th in New York
	open := point("100", start)
	late := point("105", start.Add(12*time.Hour))
	next := point("110", start.Add(24*time.Hour))
	early := point("101", start.Add(time.Minute))
	points := []Point{open, early, late, next}

	assert.Equal(t, []Point{open, late, next}, DailyCloses(points, ny))
	assert.Equal(t, []Point{open, early, next}, DailyCloses(points, time.UTC), "03:00 UTC belongs to the next UTC day")
	assert.Nil(t, DailyCloses(nil, ny))
	assert.Equal(t, []Point{open}, DailyCloses([]Point{open}, nil))
}

func TestAnnualize(t *testing.T) {
	assert.InDelta(t, 0.21, annualize(0.1, 365.0/2), 1e-9)
	assert.Equal(t, -1.0, annualize(-1, 30))
	assert.Equal(t, 0.05, annualize(0.05, 0.5))
}

func TestMaxDrawdownUsesRunningPeak(t *testing.T) {
	points := []Point{
		point("100", start), point("80", start), point("120", start), point("90", start), point("130", start),
	}
	assert.InDelta(t, 0.25, maxDrawdown(points), 1e-12)
}

func newTradingFixture(t *testing.T) (*Service, *trading.Service, *ledger.Store, *pricing.Static, *testutil.Clock) {
	t.Helper()
	store := ledger.NewStore(testutil.NewDB(t))
	prices := pricing.NewStatic(map[string]decimal.Decimal{"X": testutil.D("100"), "Y": testutil.D("50")})
	clock := testutil.NewClock(start)
	engine := trading.NewService(store, prices, compliance.NewGate(time.UTC), nil, trading.Config{}, clock.Now)
	return NewService(store, prices, 0.02, time.UTC), engine, store, prices, clock
}

func openAccount(t *testing.T, store *ledger.Store, id, cash string) {
	t.Helper()
	c := testutil.D(cash)
	require.NoError(t, store.CreateAccount(context.Background(), &types.Account{
		AccountID: id, OwnerID: "o", AccountType: types.AccountTypeCash,
		InitialCash: c, Cash: c, TotalValue: c, Active: true,
		OpenedAt: start, LastDayTradeReset: start,
	}))
}

func TestGetPerformance(t *testing.T) {
	svc, engine, store, prices, clock := newTradingFixture(t)
	ctx := context.Background()
	openAccount(t, store, "acc-1", "10000")

	exec := func(symbol string, side types.Side, qty string) {
		clock.Advance(24 * time.Hour)
		_, err := engine.ExecuteTrade(ctx, trading.TradeRequest{AccountID: "acc-1", Symbol: symbol, Side: side, Quantity: testutil.D(qty)})
		require.NoError(t, err)
	}
	exec("X", types.SideBuy, "10")
	prices.Set("X", testutil.D("120"))
	exec("Y", types.SideBuy, "20")
	exec("X", types.SideSell, "5")

	first, err := svc.GetPerformance(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, first.History, 4)
	assert.True(t, first.Stats.TotalRealizedPnL.Equal(testutil.D("100")))

	// X at 120: 9000 cash after the buy plus 10 shares
	assert.True(t, first.History[1].TotalValue.Equal(testutil.D("10200")))

	second, err := svc.GetPerformance(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, first, second, "no trades in between, same prices")

	_, err = svc.GetPerformance(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrAccountNotFound)
}

func TestGetPerformanceEmptyAccount(t *testing.T) {
	svc, _, store, _, _ := newTradingFixture(t)
	openAccount(t, store, "acc-1", "5000")

	perf, err := svc.GetPerformance(context.Background(), "acc-1")
	require.NoError(t, err)
	require.Len(t, perf.History, 1)
	assert.Equal(t, Stats{TotalRealizedPnL: decimal.Zero}, perf.Stats)
}

func TestGetPerformanceHandler(t *testing.T) {
	svc, engine, store, _, _ := newTradingFixture(t)
	openAccount(t, store, "acc-1", "10000")
	_, err := engine.ExecuteTrade(context.Background(), trading.TradeRequest{AccountID: "acc-1", Symbol: "X", Side: types.SideBuy, Quantity: testutil.D("3")})
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/accounts/:account_id/performance", NewGinHandlers(svc).GetPerformanceHandler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/accounts/acc-1/performance", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var env struct {
		Data PerformanceResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Len(t, env.Data.History, 2)
	assert.Equal(t, "10000.00", env.Data.History[0].TotalValue)
	assert.Equal(t, "9700.00", env.Data.History[1].Cash)
	assert.Equal(t, "0.00", env.Data.Stats.TotalRealizedPnL)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/accounts/missing/performance", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
