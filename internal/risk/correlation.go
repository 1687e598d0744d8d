package risk

import (
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/ksred/klear-paper/internal/pricing"
	"github.com/ksred/klear-paper/internal/sectors"
)

// Estimator estimates the correlation between two instruments and names the
// estimator that produced the value, which differs from Name when an
// estimator defers to a fallback.
type Estimator interface {
	Correlation(a, b string) (float64, string)
	Name() string
}

// SectorEstimator is a placeholder: symbols in the same sector correlate at
// Same, everything else at Cross. It does not look at prices.
type SectorEstimator struct {
	Sectors sectors.Map
	Same    float64
	Cross   float64
}

func NewSectorEstimator(m sectors.Map, same, cross float64) *SectorEstimator {
	return &SectorEstimator{Sectors: m, Same: same, Cross: cross}
}

func (e *SectorEstimator) Name() string { return "sector_proxy" }

func (e *SectorEstimator) Correlation(a, b string) (float64, string) {
	if a == b {
		return 1, e.Name()
	}
	sa, sb := e.Sectors.SectorOf(a), e.Sectors.SectorOf(b)
	if sa == sb && sa != sectors.Unclassified {
		return e.Same, e.Name()
	}
	return e.Cross, e.Name()
}

// HistoricalEstimator computes the Pearson correlation of recent returns and
// falls back when either series is too short or degenerate.
type HistoricalEstimator struct {
	History    pricing.History
	MinSamples int
	Fallback   Estimator
}

func NewHistoricalEstimator(h pricing.History, minSamples int, fallback Estimator) *HistoricalEstimator {
	if minSamples < 3 {
		minSamples = 3
	}
	return &HistoricalEstimator{History: h, MinSamples: minSamples, Fallback: fallback}
}

func (e *HistoricalEstimator) Name() string { return "historical_returns" }

func (e *HistoricalEstimator) Correlation(a, b string) (float64, string) {
	if a == b {
		return 1, e.Name()
	}
	ra, rb := returns(e.History.History(a)), returns(e.History.History(b))
	n := len(ra)
	if len(rb) < n {
		n = len(rb)
	}
	if n < e.MinSamples {
		return e.Fallback.Correlation(a, b)
	}
	// align on the most recent observations
	c := stat.Correlation(ra[len(ra)-n:], rb[len(rb)-n:], nil)
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return e.Fallback.Correlation(a, b)
	}
	return math.Max(-1, math.Min(1, c)), e.Name()
}

func returns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		out = append(out, (prices[i]-prices[i-1])/prices[i-1])
	}
	return out
}

// CorrelationMatrix is a symmetric matrix over Symbols with a unit diagonal.
// Estimator lists every estimator that produced an off-diagonal value,
// joined with "+", so a matrix that fell back to the sector proxy says so.
type CorrelationMatrix struct {
	Estimator string      `json:"estimator"`
	Symbols   []string    `json:"symbols"`
	Values    [][]float64 `json:"values"`
}

// BuildMatrix estimates every pair of symbols once.
func BuildMatrix(e Estimator, symbols []string) CorrelationMatrix {
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)

	values := make([][]float64, len(sorted))
	for i := range values {
		values[i] = make([]float64, len(sorted))
		values[i][i] = 1
	}
	used := make(map[string]bool)
	for i := range sorted {
		for j := i + 1; j < len(sorted); j++ {
			c, source := e.Correlation(sorted[i], sorted[j])
			values[i][j], values[j][i] = c, c
			used[source] = true
		}
	}
	return CorrelationMatrix{Estimator: label(e.Name(), used), Symbols: sorted, Values: values}
}

// label is the configured estimator name when no pair was estimated.
func label(name string, used map[string]bool) string {
	if len(used) == 0 {
		return name
	}
	names := make([]string, 0, len(used))
	for n := range used {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, "+")
}
