package performance

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"github.com/ksred/klear-paper/internal/types"
)

// TradingDaysPerYear annualizes return volatility.
const TradingDaysPerYear = 252

// Point is the account value after one replayed trade.
type Point struct {
	Timestamp     time.Time       `json:"timestamp"`
	TotalValue    decimal.Decimal `json:"total_value"`
	Cash          decimal.Decimal `json:"cash"`
	InvestedValue decimal.Decimal `json:"invested_value"`
}

// Stats are derived from a history. Every ratio is zero when its
// denominator is zero or the history has fewer than two points.
type Stats struct {
	PeriodReturn     float64         `json:"period_return"`
	AnnualizedReturn float64         `json:"annualized_return"`
	Volatility       float64         `json:"volatility"`
	SharpeRatio      float64         `json:"sharpe_ratio"`
	SortinoRatio     float64         `json:"sortino_ratio"`
	MaxDrawdown      float64         `json:"max_drawdown"`
	TotalRealizedPnL decimal.Decimal `json:"total_realized_pnl"`
}

type holding struct {
	quantity    decimal.Decimal
	averageCost decimal.Decimal
}

// Replay rebuilds the value history from the opening cash and the executed
// trades, valuing holdings at prices. It reads nothing and writes nothing.
// A symbol missing from prices is valued at its last traded price.
func Replay(initialCash decimal.Decimal, openedAt time.Time, trades []types.Trade, prices map[string]decimal.Decimal) ([]Point, decimal.Decimal) {
	points := make([]Point, 0, len(trades)+1)
	points = append(points, Point{
		Timestamp:     openedAt,
		TotalValue:    initialCash,
		Cash:          initialCash,
		InvestedValue: decimal.Zero,
	})

	cash := initialCash
	realized := decimal.Zero
	holdings := make(map[string]*holding)
	lastTraded := make(map[string]decimal.Decimal)
	var order []string

	for _, t := range trades {
		if t.Status != types.TradeStatusExecuted {
			continue
		}
		lastTraded[t.Symbol] = t.Price

		h, ok := holdings[t.Symbol]
		if !ok {
			h = &holding{}
			holdings[t.Symbol] = h
			order = append(order, t.Symbol)
		}

		switch t.Side {
		case types.SideBuy:
			cash = cash.Sub(t.Notional)
			newQty := h.quantity.Add(t.Quantity)
			h.averageCost = h.quantity.Mul(h.averageCost).Add(t.Notional).Div(newQty)
			h.quantity = newQty
		case types.SideSell:
			cash = cash.Add(t.Notional)
			realized = realized.Add(t.Price.Sub(h.averageCost).Mul(t.Quantity))
			h.quantity = h.quantity.Sub(t.Quantity)
			if !h.quantity.IsPositive() {
				h.quantity = decimal.Zero
				h.averageCost = decimal.Zero
			}
		}

		invested := decimal.Zero
		for _, symbol := range order {
			h := holdings[symbol]
			if h.quantity.IsZero() {
				continue
			}
			price, ok := prices[symbol]
			if !ok {
				price = lastTraded[symbol]
			}
			invested = invested.Add(h.quantity.Mul(price))
		}

		points = append(points, Point{
			Timestamp:     t.ExecutedAt,
			TotalValue:    cash.Add(invested),
			Cash:          cash,
			InvestedValue: invested,
		})
	}
	return points, realized
}

// DailyCloses keeps the opening point as the baseline followed by the last
// point of each market day in loc, so returns between them are daily.
func DailyCloses(points []Point, loc *time.Location) []Point {
	if len(points) == 0 {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}
	closes := make([]Point, 1, len(points))
	closes[0] = points[0]
	lastDay := ""
	for _, p := range points[1:] {
		day := p.Timestamp.In(loc).Format("2006-01-02")
		if len(closes) > 1 && day == lastDay {
			closes[len(closes)-1] = p
			continue
		}
		closes = append(closes, p)
		lastDay = day
	}
	return closes
}

// Returns converts a history into returns between consecutive points. A
// zero starting value contributes a zero return.
func Returns(points []Point) []float64 {
	if len(points) < 2 {
		return nil
	}
	returns := make([]float64, len(points)-1)
	for i := 1; i < len(points); i++ {
		prev := points[i-1].TotalValue.InexactFloat64()
		if prev != 0 {
			returns[i-1] = (points[i].TotalValue.InexactFloat64() - prev) / prev
		}
	}
	return returns
}

// ComputeStats derives the return statistics of a history. Volatility and
// the Sortino ratio use daily returns between the market day closes in loc.
func ComputeStats(points []Point, riskFreeRate float64, loc *time.Location) Stats {
	var s Stats
	if len(points) < 2 {
		return s
	}

	first := points[0].TotalValue.InexactFloat64()
	last := points[len(points)-1].TotalValue.InexactFloat64()
	if first != 0 {
		s.PeriodReturn = finite((last - first) / first)
	}

	days := points[len(points)-1].Timestamp.Sub(points[0].Timestamp).Hours() / 24
	s.AnnualizedReturn = annualize(s.PeriodReturn, days)

	returns := Returns(DailyCloses(points, loc))
	if len(returns) >= 2 {
		s.Volatility = finite(stat.StdDev(returns, nil) * math.Sqrt(TradingDaysPerYear))
	}
	if s.Volatility > 0 {
		s.SharpeRatio = finite((s.AnnualizedReturn - riskFreeRate) / s.Volatility)
	}
	if downside := downsideDeviation(returns); downside > 0 {
		s.SortinoRatio = finite((s.AnnualizedReturn - riskFreeRate) / downside)
	}

	s.MaxDrawdown = maxDrawdown(points)
	return s
}

func annualize(r, days float64) float64 {
	if days < 1 {
		return r
	}
	if r <= -1 {
		return -1
	}
	return finite(math.Pow(1+r, 365/days) - 1)
}

// downsideDeviation is the annualized root mean square of negative returns.
func downsideDeviation(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	downside := make([]float64, len(returns))
	for i, r := range returns {
		if r < 0 {
			downside[i] = r * r
		}
	}
	return finite(math.Sqrt(stat.Mean(downside, nil)) * math.Sqrt(TradingDaysPerYear))
}

// maxDrawdown is the largest fall from a running peak, as a fraction of it.
func maxDrawdown(points []Point) float64 {
	peak := math.Inf(-1)
	worst := 0.0
	for _, p := range points {
		v := p.TotalValue.InexactFloat64()
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
