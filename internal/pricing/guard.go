package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/ksred/klear-paper/internal/errors"
)

// Guard bounds every call to an underlying Source by a timeout and translates
// its failures into the ledger's error taxonomy:
//   - deadline exceeded or a non-positive quote becomes ErrPriceUnavailable
//   - ErrUnknownSymbol becomes a ValidationError on the symbol
//   - anything else becomes a DependencyFailure
type Guard struct {
	source  Source
	timeout time.Duration
}

func NewGuard(source Source, timeout time.Duration) *Guard {
	return &Guard{source: source, timeout: timeout}
}

func (g *Guard) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return g.call(ctx, "current price", symbol, g.source.CurrentPrice)
}

func (g *Guard) PreviousClose(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return g.call(ctx, "previous close", symbol, g.source.PreviousClose)
}

type result struct {
	price decimal.Decimal
	err   error
}

func (g *Guard) call(ctx context.Context, op, symbol string, fn func(context.Context, string) (decimal.Decimal, error)) (decimal.Decimal, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	// the source runs in its own goroutine so one that ignores ctx still
	// cannot hold the caller past the deadline
	done := make(chan result, 1)
	go func() {
		p, err := fn(ctx, symbol)
		done <- result{price: p, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return decimal.Zero, fmt.Errorf("%s for %s timed out after %s: %w", op, symbol, g.timeout, apperrors.ErrPriceUnavailable)
	case res = <-done:
	}

	switch {
	case res.err == nil && !res.price.IsPositive():
		return decimal.Zero, fmt.Errorf("%s for %s is %s: %w", op, symbol, res.price, apperrors.ErrPriceUnavailable)
	case res.err == nil:
		return res.price, nil
	case errors.Is(res.err, ErrUnknownSymbol):
		return decimal.Zero, apperrors.NewValidationError("symbol", symbol, "unknown symbol")
	case errors.Is(res.err, context.DeadlineExceeded):
		return decimal.Zero, fmt.Errorf("%s for %s: %w", op, symbol, apperrors.ErrPriceUnavailable)
	default:
		return decimal.Zero, apperrors.Dependency(op+" for "+symbol, res.err)
	}
}
