package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ErrFeedFailure is the simulated upstream outage.
var ErrFeedFailure = errors.New("price feed request failed")

// FeedConfig tunes the simulated feed.
type FeedConfig struct {
	MinLatency   time.Duration
	MaxLatency   time.Duration
	FailureRate  float64 // 0-1, probability a quote request fails
	Volatility   float64 // per tick standard deviation, as a fraction of price
	TickInterval time.Duration
	HistorySize  int
	Seed         int64 // zero seeds from the clock
	Location     *time.Location
}

// Instrument is a symbol and the price its random walk starts from.
type Instrument struct {
	Symbol    string
	BasePrice float64
}

var DefaultInstruments = []Instrument{
	{Symbol: "AAPL", BasePrice: 190.00},
	{Symbol: "MSFT", BasePrice: 410.00},
	{Symbol: "GOOGL", BasePrice: 140.00},
	{Symbol: "AMZN", BasePrice: 175.00},
	{Symbol: "META", BasePrice: 480.00},
	{Symbol: "NVDA", BasePrice: 880.00},
	{Symbol: "TSLA", BasePrice: 175.00},
	{Symbol: "JPM", BasePrice: 195.00},
	{Symbol: "BAC", BasePrice: 37.00},
	{Symbol: "GS", BasePrice: 460.00},
	{Symbol: "XOM", BasePrice: 115.00},
	{Symbol: "CVX", BasePrice: 155.00},
	{Symbol: "JNJ", BasePrice: 155.00},
	{Symbol: "PFE", BasePrice: 28.00},
	{Symbol: "UNH", BasePrice: 490.00},
	{Symbol: "KO", BasePrice: 60.00},
	{Symbol: "PG", BasePrice: 160.00},
	{Symbol: "WMT", BasePrice: 60.00},
	{Symbol: "SPY", BasePrice: 510.00},
}

type quote struct {
	price     float64
	prevClose float64
	day       string // market date the prevClose belongs to
	history   []float64
}

// Feed is a random walk price simulator with injected latency and failures.
// It is owned by whoever constructs it; Start and the returned context bound
// its background ticking.
type Feed struct {
	cfg    FeedConfig
	clock  func() time.Time
	logger zerolog.Logger

	mu     sync.Mutex
	rng    *rand.Rand
	quotes map[string]*quote
}

func NewFeed(cfg FeedConfig, instruments []Instrument, clock func() time.Time) *Feed {
	if clock == nil {
		clock = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 390
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = clock().UnixNano()
	}

	f := &Feed{
		cfg:    cfg,
		clock:  clock,
		logger: log.With().Str("component", "price_feed").Logger(),
		rng:    rand.New(rand.NewSource(seed)),
		quotes: make(map[string]*quote, len(instruments)),
	}

	day := f.marketDay(clock())
	for _, inst := range instruments {
		f.quotes[strings.ToUpper(inst.Symbol)] = &quote{
			price:     inst.BasePrice,
			prevClose: inst.BasePrice,
			day:       day,
			history:   []float64{inst.BasePrice},
		}
	}
	return f
}

// Start advances every symbol's random walk each tick until ctx is done.
func (f *Feed) Start(ctx context.Context) {
	if f.cfg.TickInterval <= 0 {
		return
	}
	f.logger.Info().Int("symbols", len(f.quotes)).Dur("tick", f.cfg.TickInterval).Msg("starting price feed")

	ticker := time.NewTicker(f.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.logger.Info().Msg("shutting down price feed")
			return
		case <-ticker.C:
			f.Step()
		}
	}
}

// Step moves every symbol one tick along its walk.
func (f *Feed) Step() {
	f.mu.Lock()
	defer f.mu.Unlock()

	day := f.marketDay(f.clock())
	for _, q := range f.quotes {
		f.rollDay(q, day)
		move := 1 + f.rng.NormFloat64()*f.cfg.Volatility
		q.price = math.Max(0.01, q.price*move)
		q.history = append(q.history, q.price)
		if len(q.history) > f.cfg.HistorySize {
			q.history = q.history[len(q.history)-f.cfg.HistorySize:]
		}
	}
}

func (f *Feed) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return f.quote(ctx, symbol, func(q *quote) float64 { return q.price })
}

// PreviousClose is the price the symbol held at the start of the current
// market day.
func (f *Feed) PreviousClose(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return f.quote(ctx, symbol, func(q *quote) float64 { return q.prevClose })
}

// History returns up to HistorySize recent ticks for symbol.
func (f *Feed) History(symbol string) []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quotes[strings.ToUpper(symbol)]
	if !ok {
		return nil
	}
	out := make([]float64, len(q.history))
	copy(out, q.history)
	return out
}

// Symbols lists every instrument the feed carries.
func (f *Feed) Symbols() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.quotes))
	for s := range f.quotes {
		out = append(out, s)
	}
	return out
}

func (f *Feed) quote(ctx context.Context, symbol string, pick func(*quote) float64) (decimal.Decimal, error) {
	symbol = strings.ToUpper(symbol)
	logger := f.logger.With().Str("symbol", symbol).Logger()

	f.mu.Lock()
	latency := f.cfg.MinLatency
	if spread := f.cfg.MaxLatency - f.cfg.MinLatency; spread > 0 {
		latency += time.Duration(f.rng.Int63n(int64(spread) + 1))
	}
	failed := f.rng.Float64() < f.cfg.FailureRate
	f.mu.Unlock()

	logger.Debug().Dur("latency", latency).Msg("simulated network latency")
	if latency > 0 {
		timer := time.NewTimer(latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return decimal.Zero, ctx.Err()
		case <-timer.C:
		}
	}

	if failed {
		logger.Warn().Float64("failure_rate", f.cfg.FailureRate).Msg("quote request failed")
		return decimal.Zero, fmt.Errorf("%s: %w", symbol, ErrFeedFailure)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quotes[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%s: %w", symbol, ErrUnknownSymbol)
	}
	f.rollDay(q, f.marketDay(f.clock()))

	// quotes are in whole cents
	return decimal.NewFromFloat(pick(q)).Round(2), nil
}

// rollDay fixes the previous close when the market date changes.
func (f *Feed) rollDay(q *quote, day string) {
	if q.day != day {
		q.prevClose = q.price
		q.day = day
	}
}

func (f *Feed) marketDay(t time.Time) string {
	return t.In(f.cfg.Location).Format("2006-01-02")
}
