// Package risk computes concentration, value at risk, sector attribution and
// rebalancing suggestions from an account's current positions.
package risk

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "github.com/ksred/klear-paper/internal/errors"
	"github.com/ksred/klear-paper/internal/ledger"
	"github.com/ksred/klear-paper/internal/logging"
	"github.com/ksred/klear-paper/internal/performance"
	"github.com/ksred/klear-paper/internal/pricing"
	"github.com/ksred/klear-paper/internal/rules"
	"github.com/ksred/klear-paper/internal/sectors"
	"github.com/ksred/klear-paper/internal/types"
)

type Config struct {
	Thresholds
	BenchmarkSymbol string
}

// BenchmarkComparison compares today's move of the book with the benchmark.
type BenchmarkComparison struct {
	Symbol          string  `json:"symbol"`
	Available       bool    `json:"available"`
	PortfolioReturn float64 `json:"portfolio_return"`
	BenchmarkReturn float64 `json:"benchmark_return"`
	ExcessReturn    float64 `json:"excess_return"`
}

// Analytics is the full risk and attribution bundle for one account.
type Analytics struct {
	AccountID              string              `json:"account_id"`
	TotalValue             decimal.Decimal     `json:"total_value"`
	SectorAllocation       []SectorAllocation  `json:"sector_allocation"`
	ConcentrationRisk      float64             `json:"concentration_risk"`
	RiskMetrics            RiskMetrics         `json:"risk_metrics"`
	Correlation            CorrelationMatrix   `json:"correlation"`
	BenchmarkComparison    BenchmarkComparison `json:"benchmark_comparison"`
	RebalancingSuggestions []Suggestion        `json:"rebalancing_suggestions"`
}

// Service computes analytics fresh on each call. It reads without the
// account lock and never writes.
type Service struct {
	store     *ledger.Store
	prices    pricing.Source
	sectors   sectors.Map
	estimator Estimator
	perf      *performance.Service
	cfg       Config
	clock     func() time.Time
	logger    zerolog.Logger
}

func NewService(store *ledger.Store, prices pricing.Source, m sectors.Map, estimator Estimator, perf *performance.Service, cfg Config, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		store:     store,
		prices:    prices,
		sectors:   m,
		estimator: estimator,
		perf:      perf,
		cfg:       cfg,
		clock:     clock,
		logger:    logging.ForService("risk"),
	}
}

func (s *Service) Analyze(ctx context.Context, accountID string) (*Analytics, error) {
	logger := s.logger.With().Str("account_id", accountID).Logger()

	account, err := s.store.GetAccountWithPositions(ctx, accountID)
	if err != nil {
		return nil, apperrors.Dependency("load account", err)
	}
	positions := account.Positions
	ledger.MarkToMarket(ctx, s.prices, account, positions, nil, s.clock(), logger)
	total := account.TotalValue

	history, _, err := s.perf.History(ctx, accountID)
	if err != nil {
		return nil, err
	}
	volatility := s.perf.Stats(history).Volatility

	ruleSet, err := rules.Decode(account.RiskRules)
	if err != nil {
		return nil, &apperrors.DependencyError{Op: "decode risk rules", Err: err}
	}

	symbols := make([]string, 0, len(positions))
	for _, p := range positions {
		symbols = append(symbols, p.Symbol)
	}

	allocation := Allocate(positions, total, s.sectors)
	concentration := Concentration(positions)

	a := &Analytics{
		AccountID:              accountID,
		TotalValue:             total,
		SectorAllocation:       allocation,
		ConcentrationRisk:      concentration,
		RiskMetrics:            ComputeRiskMetrics(volatility, total),
		Correlation:            BuildMatrix(s.estimator, symbols),
		BenchmarkComparison:    s.benchmark(ctx, positions, logger),
		RebalancingSuggestions: Suggest(positions, total, allocation, concentration, ruleSet.StopLosses(), s.cfg.Thresholds),
	}

	logger.Debug().
		Int("positions", len(positions)).
		Float64("concentration", concentration).
		Int("suggestions", len(a.RebalancingSuggestions)).
		Msg("analytics computed")
	return a, nil
}

// benchmark compares the book's move since the previous close with the
// benchmark's. Symbols without a previous close are left out of both sides
// of the portfolio return.
func (s *Service) benchmark(ctx context.Context, positions []types.Position, logger zerolog.Logger) BenchmarkComparison {
	out := BenchmarkComparison{Symbol: s.cfg.BenchmarkSymbol}
	if s.cfg.BenchmarkSymbol == "" {
		return out
	}

	price, err := s.prices.CurrentPrice(ctx, s.cfg.BenchmarkSymbol)
	if err != nil {
		logger.Warn().Err(err).Str("symbol", s.cfg.BenchmarkSymbol).Msg("benchmark price unavailable")
		return out
	}
	prevClose, err := s.prices.PreviousClose(ctx, s.cfg.BenchmarkSymbol)
	if err != nil || !prevClose.IsPositive() {
		logger.Warn().Err(err).Str("symbol", s.cfg.BenchmarkSymbol).Msg("benchmark previous close unavailable")
		return out
	}
	out.BenchmarkReturn = price.Sub(prevClose).Div(prevClose).InexactFloat64()

	current, previous := decimal.Zero, decimal.Zero
	for _, p := range positions {
		pc, err := s.prices.PreviousClose(ctx, p.Symbol)
		if err != nil || !pc.IsPositive() {
			continue
		}
		current = current.Add(p.MarketValue)
		previous = previous.Add(p.Quantity.Mul(pc))
	}
	if previous.IsPositive() {
		out.PortfolioReturn = current.Sub(previous).Div(previous).InexactFloat64()
	}
	out.ExcessReturn = out.PortfolioReturn - out.BenchmarkReturn
	out.Available = true
	return out
}
