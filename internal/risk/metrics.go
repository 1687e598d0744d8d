package risk

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/ksred/klear-paper/internal/rules"
	"github.com/ksred/klear-paper/internal/sectors"
	"github.com/ksred/klear-paper/internal/types"
)

// Parametric z-scores and the fixed tail multiplier for expected shortfall.
const (
	Z95            = 1.65
	Z99            = 2.33
	TailMultiplier = 1.3
)

type SectorAllocation struct {
	Sector         string          `json:"sector"`
	Value          decimal.Decimal `json:"value"`
	Weight         float64         `json:"weight"`
	AverageReturn  float64         `json:"average_return"`
	BestPerformer  string          `json:"best_performer"`
	WorstPerformer string          `json:"worst_performer"`
	Symbols        []string        `json:"symbols"`
}

type RiskMetrics struct {
	Volatility          float64         `json:"volatility"`
	VaR95               decimal.Decimal `json:"var_95"`
	ExpectedShortfall95 decimal.Decimal `json:"expected_shortfall_95"`
	VaR99               decimal.Decimal `json:"var_99"`
}

type Action string

const (
	ActionReduce    Action = "reduce"
	ActionDiversify Action = "diversify"
)

// Suggestion is advisory only; nothing acts on it.
type Suggestion struct {
	Action        Action  `json:"action"`
	Symbol        string  `json:"symbol,omitempty"`
	Sector        string  `json:"sector,omitempty"`
	CurrentWeight float64 `json:"current_weight"`
	TargetWeight  float64 `json:"target_weight"`
	Reason        string  `json:"reason"`
}

// Thresholds are fractions of total account value.
type Thresholds struct {
	MaxPositionWeight      float64
	MaxSectorWeight        float64
	ConcentrationThreshold float64
}

// PositionReturn is the unrealized return of a position on its cost.
func PositionReturn(p types.Position) float64 {
	if !p.AverageCost.IsPositive() {
		return 0
	}
	return p.LastPrice.Sub(p.AverageCost).Div(p.AverageCost).InexactFloat64()
}

func weight(value, total decimal.Decimal) float64 {
	if !total.IsPositive() {
		return 0
	}
	return value.Div(total).InexactFloat64()
}

// Allocate groups positions by sector, weighting each by total account value.
// Sectors come back ordered by weight, heaviest first.
func Allocate(positions []types.Position, total decimal.Decimal, m sectors.Map) []SectorAllocation {
	bySector := make(map[string]*SectorAllocation)
	returnSums := make(map[string]float64)
	best := make(map[string]float64)
	worst := make(map[string]float64)

	for _, p := range positions {
		sector := m.SectorOf(p.Symbol)
		a, ok := bySector[sector]
		r := PositionReturn(p)
		if !ok {
			a = &SectorAllocation{Sector: sector, Value: decimal.Zero, BestPerformer: p.Symbol, WorstPerformer: p.Symbol}
			bySector[sector] = a
			best[sector], worst[sector] = r, r
		}
		a.Value = a.Value.Add(p.MarketValue)
		a.Symbols = append(a.Symbols, p.Symbol)
		returnSums[sector] += r
		if r > best[sector] {
			best[sector], a.BestPerformer = r, p.Symbol
		}
		if r < worst[sector] {
			worst[sector], a.WorstPerformer = r, p.Symbol
		}
	}

	out := make([]SectorAllocation, 0, len(bySector))
	for sector, a := range bySector {
		a.Weight = weight(a.Value, total)
		a.AverageReturn = returnSums[sector] / float64(len(a.Symbols))
		sort.Strings(a.Symbols)
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Sector < out[j].Sector
	})
	return out
}

// Concentration is the normalized Herfindahl-Hirschman index of the invested
// book: 0 for an evenly spread book, 1 for a single position, 0 when empty.
func Concentration(positions []types.Position) float64 {
	invested := decimal.Zero
	n := 0
	for _, p := range positions {
		if p.MarketValue.IsPositive() {
			invested = invested.Add(p.MarketValue)
			n++
		}
	}
	switch {
	case n == 0:
		return 0
	case n == 1:
		return 1
	}

	hhi := 0.0
	for _, p := range positions {
		if p.MarketValue.IsPositive() {
			w := weight(p.MarketValue, invested)
			hhi += w * w
		}
	}
	floor := 1 / float64(n)
	score := (hhi - floor) / (1 - floor)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// ComputeRiskMetrics applies the parametric VaR approximations to the
// annualized volatility of the account.
func ComputeRiskMetrics(volatility float64, total decimal.Decimal) RiskMetrics {
	var95 := total.Mul(decimal.NewFromFloat(volatility * Z95))
	return RiskMetrics{
		Volatility:          volatility,
		VaR95:               var95,
		ExpectedShortfall95: var95.Mul(decimal.NewFromFloat(TailMultiplier)),
		VaR99:               total.Mul(decimal.NewFromFloat(volatility * Z99)),
	}
}

// Suggest builds the rebalancing suggestions for a marked book.
func Suggest(positions []types.Position, total decimal.Decimal, allocation []SectorAllocation, concentration float64, stops []rules.StopLossRule, t Thresholds) []Suggestion {
	out := []Suggestion{}

	for _, p := range positions {
		w := weight(p.MarketValue, total)
		if w > t.MaxPositionWeight {
			out = append(out, Suggestion{
				Action:        ActionReduce,
				Symbol:        p.Symbol,
				CurrentWeight: w,
				TargetWeight:  t.MaxPositionWeight,
				Reason:        fmt.Sprintf("position exceeds %.0f%% of account value", t.MaxPositionWeight*100),
			})
		}
	}

	for _, a := range allocation {
		if a.Weight > t.MaxSectorWeight {
			out = append(out, Suggestion{
				Action:        ActionReduce,
				Sector:        a.Sector,
				CurrentWeight: a.Weight,
				TargetWeight:  t.MaxSectorWeight,
				Reason:        fmt.Sprintf("sector exceeds %.0f%% of account value", t.MaxSectorWeight*100),
			})
		}
	}

	if concentration > t.ConcentrationThreshold {
		out = append(out, Suggestion{
			Action:        ActionDiversify,
			CurrentWeight: concentration,
			TargetWeight:  t.ConcentrationThreshold,
			Reason:        "portfolio is concentrated in few positions",
		})
	}

	for _, p := range positions {
		for _, stop := range stops {
			if stop.Breached(p) {
				out = append(out, Suggestion{
					Action:        ActionReduce,
					Symbol:        p.Symbol,
					CurrentWeight: weight(p.MarketValue, total),
					TargetWeight:  0,
					Reason:        "stop loss breached",
				})
				break
			}
		}
	}
	return out
}
