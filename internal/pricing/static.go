package pricing

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// Static is an in-memory Source with fixed quotes.
type Static struct {
	mu       sync.RWMutex
	prices   map[string]decimal.Decimal
	closes   map[string]decimal.Decimal
	failures map[string]error
	history  map[string][]float64
}

func NewStatic(prices map[string]decimal.Decimal) *Static {
	s := &Static{
		prices:   make(map[string]decimal.Decimal),
		closes:   make(map[string]decimal.Decimal),
		failures: make(map[string]error),
		history:  make(map[string][]float64),
	}
	for symbol, p := range prices {
		s.Set(symbol, p)
	}
	return s
}

// Set quotes symbol at price. The previous close defaults to the first price
// ever set.
func (s *Static) Set(symbol string, price decimal.Decimal) {
	symbol = strings.ToUpper(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
	if _, ok := s.closes[symbol]; !ok {
		s.closes[symbol] = price
	}
	s.history[symbol] = append(s.history[symbol], price.InexactFloat64())
}

func (s *Static) SetPreviousClose(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes[strings.ToUpper(symbol)] = price
}

// Fail makes every quote for symbol return err until cleared with a nil err.
func (s *Static) Fail(symbol string, err error) {
	symbol = strings.ToUpper(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, symbol)
		return
	}
	s.failures[symbol] = err
}

func (s *Static) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return s.lookup(ctx, symbol, s.prices)
}

func (s *Static) PreviousClose(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return s.lookup(ctx, symbol, s.closes)
}

func (s *Static) History(symbol string) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.history[strings.ToUpper(symbol)]
	out := make([]float64, len(h))
	copy(out, h)
	return out
}

func (s *Static) lookup(ctx context.Context, symbol string, table map[string]decimal.Decimal) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	symbol = strings.ToUpper(symbol)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err, ok := s.failures[symbol]; ok {
		return decimal.Zero, err
	}
	p, ok := table[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%s: %w", symbol, ErrUnknownSymbol)
	}
	return p, nil
}
