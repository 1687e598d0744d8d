package ledger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ksred/klear-paper/internal/pricing"
	"github.com/ksred/klear-paper/internal/types"
)

// MarkToMarket revalues positions at current prices and recomputes the
// account totals from them. A symbol whose price cannot be fetched keeps its
// cached LastPrice; those symbols are returned so callers can report them.
// Overrides supply prices already fetched by the caller.
func MarkToMarket(
	ctx context.Context,
	source pricing.Source,
	account *types.Account,
	positions []types.Position,
	overrides map[string]decimal.Decimal,
	now time.Time,
	logger zerolog.Logger,
) (stale []string) {
	for i := range positions {
		p := &positions[i]
		price, ok := overrides[p.Symbol]
		if !ok {
			var err error
			price, err = source.CurrentPrice(ctx, p.Symbol)
			if err != nil {
				logger.Warn().Err(err).
					Str("account_id", account.AccountID).
					Str("symbol", p.Symbol).
					Str("cached_price", p.LastPrice.String()).
					Msg("price unavailable, using cached mark")
				stale = append(stale, p.Symbol)
				price = p.LastPrice
				if price.IsZero() {
					price = p.AverageCost
				}
				p.Revalue(price, p.PricedAt)
				continue
			}
		}
		p.Revalue(price, now)
	}
	RecomputeTotals(account, positions)
	return stale
}

// RecomputeTotals derives the account aggregates from cash and position marks.
// Nothing is carried forward from the previous totals.
func RecomputeTotals(account *types.Account, positions []types.Position) {
	marketValue := decimal.Zero
	unrealized := decimal.Zero
	for _, p := range positions {
		marketValue = marketValue.Add(p.MarketValue)
		unrealized = unrealized.Add(p.UnrealizedPnL)
	}
	account.MarketValue = marketValue
	account.TotalValue = account.Cash.Add(marketValue)
	account.UnrealizedPnL = unrealized
	account.TotalPnL = account.RealizedPnL.Add(unrealized)
}
