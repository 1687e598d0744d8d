package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ksred/klear-paper/internal/errors"
)

type slowSource struct {
	delay time.Duration
}

// ignores ctx on purpose
func (s slowSource) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	time.Sleep(s.delay)
	return decimal.NewFromInt(100), nil
}

func (s slowSource) PreviousClose(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return s.CurrentPrice(ctx, symbol)
}

func TestStaticSource(t *testing.T) {
	src := NewStatic(map[string]decimal.Decimal{"aapl": decimal.NewFromInt(190)})
	ctx := context.Background()

	p, err := src.CurrentPrice(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(190)))

	src.Set("AAPL", decimal.NewFromInt(200))
	p, _ = src.CurrentPrice(ctx, "AAPL")
	assert.True(t, p.Equal(decimal.NewFromInt(200)))

	closePrice, err := src.PreviousClose(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, closePrice.Equal(decimal.NewFromInt(190)))
	assert.Equal(t, []float64{190, 200}, src.History("AAPL"))

	_, err = src.CurrentPrice(ctx, "ZZZZ")
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestGuardErrorMapping(t *testing.T) {
	src := NewStatic(map[string]decimal.Decimal{
		"AAPL": decimal.NewFromInt(190),
		"ZERO": decimal.Zero,
	})
	src.Fail("MSFT", errors.New("connection reset"))
	guard := NewGuard(src, time.Second)
	ctx := context.Background()

	tests := []struct {
		name   string
		symbol string
		want   error
	}{
		{name: "known symbol", symbol: " aapl "},
		{name: "unknown symbol", symbol: "ZZZZ", want: apperrors.ErrValidation},
		{name: "upstream failure", symbol: "MSFT", want: apperrors.ErrDependencyFailure},
		{name: "non positive quote", symbol: "ZERO", want: apperrors.ErrPriceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := guard.CurrentPrice(ctx, tt.symbol)
			if tt.want == nil {
				require.NoError(t, err)
				assert.True(t, p.Equal(decimal.NewFromInt(190)))
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestGuardTimesOut(t *testing.T) {
	guard := NewGuard(slowSource{delay: 200 * time.Millisecond}, 20*time.Millisecond)

	start := time.Now()
	_, err := guard.CurrentPrice(context.Background(), "AAPL")
	assert.ErrorIs(t, err, apperrors.ErrPriceUnavailable)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestFeedRandomWalk(t *testing.T) {
	now := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	feed := NewFeed(FeedConfig{Volatility: 0.01, HistorySize: 5, Seed: 42}, []Instrument{{Symbol: "AAPL", BasePrice: 100}}, clock)

	for i := 0; i < 10; i++ {
		feed.Step()
	}
	assert.Len(t, feed.History("AAPL"), 5)

	ctx := context.Background()
	p, err := feed.CurrentPrice(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, p.IsPositive())
	assert.True(t, p.Equal(p.Round(2)))

	prev, err := feed.PreviousClose(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, prev.Equal(decimal.NewFromInt(100)))

	_, err = feed.CurrentPrice(ctx, "NOPE")
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestFeedPreviousCloseRollsWithMarketDay(t *testing.T) {
	now := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	feed := NewFeed(FeedConfig{Volatility: 0.05, Seed: 7}, []Instrument{{Symbol: "AAPL", BasePrice: 100}}, clock)

	feed.Step()
	feed.Step()
	ctx := context.Background()
	endOfDay, err := feed.CurrentPrice(ctx, "AAPL")
	require.NoError(t, err)

	now = now.Add(24 * time.Hour)
	prev, err := feed.PreviousClose(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, prev.Equal(endOfDay), "want %s got %s", endOfDay, prev)
}

func TestFeedFailureInjection(t *testing.T) {
	feed := NewFeed(FeedConfig{FailureRate: 0.999999, Seed: 1}, DefaultInstruments, nil)
	_, err := NewGuard(feed, time.Second).CurrentPrice(context.Background(), "AAPL")
	assert.ErrorIs(t, err, apperrors.ErrDependencyFailure)
	assert.ErrorIs(t, err, ErrFeedFailure)
}
