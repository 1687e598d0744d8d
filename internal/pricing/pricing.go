// Package pricing supplies instrument prices to the ledger.
package pricing

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrUnknownSymbol is returned by a Source asked about an instrument it does
// not carry.
var ErrUnknownSymbol = errors.New("unknown symbol")

// Source quotes instruments. Implementations may block and must honor ctx.
type Source interface {
	CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	PreviousClose(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// History exposes recent observed prices for a symbol, oldest first.
type History interface {
	History(symbol string) []float64
}
