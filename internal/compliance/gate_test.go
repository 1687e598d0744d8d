package compliance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ksred/klear-paper/internal/errors"
	"github.com/ksred/klear-paper/internal/testutil"
	"github.com/ksred/klear-paper/internal/types"
)

// Monday 4 March 2024, 10:00 in New York
var monday = time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

func TestBusinessDaysBetween(t *testing.T) {
	loc := time.UTC
	tests := []struct {
		name string
		from time.Time
		to   time.Time
		want int
	}{
		{"same day", monday, monday.Add(time.Hour), 0},
		{"next day", monday, monday.AddDate(0, 0, 1), 0},
		{"monday to friday", monday, monday.AddDate(0, 0, 4), 3},
		{"monday to next monday", monday, monday.AddDate(0, 0, 7), 4},
		{"monday to next tuesday", monday, monday.AddDate(0, 0, 8), 5},
		{"friday to monday", monday.AddDate(0, 0, 4), monday.AddDate(0, 0, 7), 0},
		{"three weeks", monday, monday.AddDate(0, 0, 21), 14},
		{"reversed", monday.AddDate(0, 0, 8), monday, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BusinessDaysBetween(tt.from, tt.to, loc))
		})
	}
	assert.Greater(t, BusinessDaysBetween(time.Time{}, monday, loc), ResetWindow)
}

func TestBusinessDaysUseMarketTimezone(t *testing.T) {
	ny := testutil.NewYork(t)
	// 01:00 UTC Tuesday is still Monday evening in New York
	from := time.Date(2024, 3, 5, 1, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 6, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, 1, BusinessDaysBetween(from, to, ny))
	assert.Equal(t, 0, BusinessDaysBetween(from, to, time.UTC))
}

func TestSameDayBuyDetection(t *testing.T) {
	gate := NewGate(testutil.NewYork(t))
	buys := []types.Trade{
		{Symbol: "AAPL", Side: types.SideBuy, Status: types.TradeStatusExecuted, ExecutedAt: monday.Add(-24 * time.Hour)},
	}
	assert.False(t, gate.HasSameDayBuy(buys, "AAPL", monday))

	buys = append(buys, types.Trade{Symbol: "AAPL", Side: types.SideBuy, Status: types.TradeStatusExecuted, ExecutedAt: monday.Add(-time.Hour)})
	assert.True(t, gate.HasSameDayBuy(buys, "AAPL", monday))
	assert.False(t, gate.HasSameDayBuy(buys, "MSFT", monday))
}

func TestEvaluate(t *testing.T) {
	gate := NewGate(time.UTC)

	tests := []struct {
		name       string
		acctType   types.AccountType
		count      int
		equity     string
		side       types.Side
		sameDayBuy bool
		wantErr    error
		wantDay    bool
		wantCount  int
	}{
		{name: "buy is never a day trade", acctType: types.AccountTypeCash, side: types.SideBuy, sameDayBuy: true, equity: "1000"},
		{name: "sell without same day buy", acctType: types.AccountTypeCash, side: types.SideSell, equity: "1000"},
		{name: "cash account day trade", acctType: types.AccountTypeCash, side: types.SideSell, sameDayBuy: true, equity: "100000",
			wantErr: apperrors.ErrDayTradingNotAllowed, wantDay: true},
		{name: "ira account day trade", acctType: types.AccountTypeIRA, side: types.SideSell, sameDayBuy: true, equity: "100000",
			wantErr: apperrors.ErrDayTradingNotAllowed, wantDay: true},
		{name: "margin below minimum", acctType: types.AccountTypeMargin, side: types.SideSell, sameDayBuy: true, equity: "24999.99",
			wantErr: apperrors.ErrBelowMinimumForDayTrading, wantDay: true},
		{name: "margin first day trade", acctType: types.AccountTypeMargin, side: types.SideSell, sameDayBuy: true, equity: "25000",
			wantDay: true, wantCount: 1},
		{name: "margin third day trade", acctType: types.AccountTypeMargin, count: 2, side: types.SideSell, sameDayBuy: true, equity: "30000",
			wantDay: true, wantCount: 3},
		{name: "margin fourth day trade", acctType: types.AccountTypeMargin, count: 3, side: types.SideSell, sameDayBuy: true, equity: "30000",
			wantErr: apperrors.ErrDayTradeLimitExceeded, wantDay: true, wantCount: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acct := &types.Account{
				AccountID:         "acc-1",
				AccountType:       tt.acctType,
				DayTradeCount:     tt.count,
				LastDayTradeReset: monday,
			}
			d, err := gate.Evaluate(Check{
				Account:    acct,
				Symbol:     "AAPL",
				Side:       tt.side,
				Equity:     testutil.D(tt.equity),
				SameDayBuy: tt.sameDayBuy,
				Now:        monday.Add(time.Hour),
			})
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				var tradeErr *apperrors.TradeError
				assert.ErrorAs(t, err, &tradeErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantDay, d.DayTrade)
			assert.Equal(t, tt.wantCount, acct.DayTradeCount)
			assert.False(t, d.Reset)
		})
	}
}

func TestEvaluateResetsBeforeDeciding(t *testing.T) {
	gate := NewGate(time.UTC)
	acct := &types.Account{
		AccountID:         "acc-1",
		AccountType:       types.AccountTypeMargin,
		DayTradeCount:     3,
		LastDayTradeReset: monday,
	}

	// one week later only four business days have passed
	d, err := gate.Evaluate(Check{Account: acct, Symbol: "AAPL", Side: types.SideSell, Equity: testutil.D("30000"), SameDayBuy: true, Now: monday.AddDate(0, 0, 7)})
	assert.ErrorIs(t, err, apperrors.ErrDayTradeLimitExceeded)
	assert.False(t, d.Reset)

	now := monday.AddDate(0, 0, 8)
	d, err = gate.Evaluate(Check{Account: acct, Symbol: "AAPL", Side: types.SideSell, Equity: testutil.D("30000"), SameDayBuy: true, Now: now})
	require.NoError(t, err)
	assert.True(t, d.Reset)
	assert.True(t, d.DayTrade)
	assert.Equal(t, 1, acct.DayTradeCount)
	assert.Equal(t, now, acct.LastDayTradeReset)
}
