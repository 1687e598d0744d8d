// Package performance reconstructs account value history from trades and
// derives return statistics.
package performance

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "github.com/ksred/klear-paper/internal/errors"
	"github.com/ksred/klear-paper/internal/ledger"
	"github.com/ksred/klear-paper/internal/logging"
	"github.com/ksred/klear-paper/internal/pricing"
)

// Performance is the history of an account and its statistics.
type Performance struct {
	AccountID string  `json:"account_id"`
	History   []Point `json:"history"`
	Stats     Stats   `json:"stats"`
}

// Service computes performance on demand. It reads without the account lock.
type Service struct {
	store        *ledger.Store
	prices       pricing.Source
	riskFreeRate float64
	location     *time.Location
	logger       zerolog.Logger
}

// NewService values histories with prices. Market days are counted in loc.
func NewService(store *ledger.Store, prices pricing.Source, riskFreeRate float64, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		store:        store,
		prices:       prices,
		riskFreeRate: riskFreeRate,
		location:     loc,
		logger:       logging.ForService("performance"),
	}
}

// Stats derives statistics from a history with the service's risk free
// rate and market timezone.
func (s *Service) Stats(points []Point) Stats {
	return ComputeStats(points, s.riskFreeRate, s.location)
}

// History replays the account's trades into a value series valued at
// current prices.
func (s *Service) History(ctx context.Context, accountID string) ([]Point, decimal.Decimal, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, decimal.Zero, apperrors.Dependency("load account", err)
	}
	trades, err := s.store.ListTrades(ctx, accountID)
	if err != nil {
		return nil, decimal.Zero, apperrors.Dependency("list trades", err)
	}

	prices := make(map[string]decimal.Decimal)
	for _, t := range trades {
		if _, seen := prices[t.Symbol]; seen {
			continue
		}
		price, err := s.prices.CurrentPrice(ctx, t.Symbol)
		if err != nil {
			s.logger.Warn().Err(err).
				Str("account_id", accountID).
				Str("symbol", t.Symbol).
				Msg("price unavailable, valuing at last traded price")
			continue
		}
		prices[t.Symbol] = price
	}

	points, realized := Replay(account.InitialCash, openedAt(account.OpenedAt, account.CreatedAt), trades, prices)
	return points, realized, nil
}

// GetPerformance returns the history and its derived statistics.
func (s *Service) GetPerformance(ctx context.Context, accountID string) (*Performance, error) {
	points, realized, err := s.History(ctx, accountID)
	if err != nil {
		return nil, err
	}
	stats := s.Stats(points)
	stats.TotalRealizedPnL = realized

	s.logger.Debug().
		Str("account_id", accountID).
		Int("points", len(points)).
		Float64("period_return", stats.PeriodReturn).
		Msg("performance computed")

	return &Performance{
		AccountID: accountID,
		History:   points,
		Stats:     stats,
	}, nil
}

func openedAt(opened, created time.Time) time.Time {
	if opened.IsZero() {
		return created
	}
	return opened
}
