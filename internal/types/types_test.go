package types

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountTypeRules(t *testing.T) {
	margin, err := AccountTypeMargin.Rules()
	require.NoError(t, err)
	assert.True(t, margin.DayTradingEnabled)
	assert.True(t, margin.MinimumBalance.Equal(decimal.NewFromInt(25000)))
	assert.Equal(t, 3, margin.MaxDayTrades)

	cash, err := AccountTypeCash.Rules()
	require.NoError(t, err)
	assert.False(t, cash.DayTradingEnabled)

	_, err = AccountType("futures").Rules()
	assert.Error(t, err)
	assert.False(t, AccountType("futures").Valid())
}

func TestPositionRevalue(t *testing.T) {
	p := Position{
		Quantity:    decimal.NewFromInt(10),
		AverageCost: decimal.NewFromInt(100),
		TotalCost:   decimal.NewFromInt(1000),
	}
	at := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	p.Revalue(decimal.NewFromInt(110), at)

	assert.True(t, p.MarketValue.Equal(decimal.NewFromInt(1100)))
	assert.True(t, p.UnrealizedPnL.Equal(decimal.NewFromInt(100)))
	assert.True(t, p.TotalCost.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, at, p.PricedAt)
}

func TestResponsesRoundAtBoundary(t *testing.T) {
	acct := &Account{
		AccountID: "acc-1",
		Cash:      decimal.RequireFromString("9999.995"),
		Positions: []Position{{
			Symbol:      "AAPL",
			Quantity:    decimal.RequireFromString("1.234567"),
			AverageCost: decimal.RequireFromString("100.3333333333333333"),
		}},
	}

	resp := NewAccountResponse(acct)
	assert.Equal(t, "10000.00", resp.Cash)
	require.Len(t, resp.Positions, 1)
	assert.Equal(t, "1.2346", resp.Positions[0].Quantity)
	assert.Equal(t, "100.33", resp.Positions[0].AverageCost)

	// the ledger value is untouched
	assert.Equal(t, "9999.995", acct.Cash.String())
}
