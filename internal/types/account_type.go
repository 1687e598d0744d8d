package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type AccountType string

const (
	AccountTypeCash   AccountType = "cash"
	AccountTypeMargin AccountType = "margin"
	AccountTypeIRA    AccountType = "ira"

	// AccountTypePaper is the simulation default: day trading is allowed
	// without the margin minimum, the day trade limit still applies.
	AccountTypePaper AccountType = "paper"
)

// AccountTypeRules governs day trading eligibility for an account type.
type AccountTypeRules struct {
	DayTradingEnabled bool
	MinimumBalance    decimal.Decimal
	// MaxDayTrades is the number of day trades permitted inside the rolling
	// window; the next one is rejected.
	MaxDayTrades int
}

var accountTypeRules = map[AccountType]AccountTypeRules{
	AccountTypeCash: {
		DayTradingEnabled: false,
		MinimumBalance:    decimal.Zero,
	},
	AccountTypeIRA: {
		DayTradingEnabled: false,
		MinimumBalance:    decimal.Zero,
	},
	AccountTypeMargin: {
		DayTradingEnabled: true,
		MinimumBalance:    decimal.NewFromInt(25000),
		MaxDayTrades:      3,
	},
	AccountTypePaper: {
		DayTradingEnabled: true,
		MinimumBalance:    decimal.Zero,
		MaxDayTrades:      3,
	},
}

// Rules returns the rules for the account type.
func (t AccountType) Rules() (AccountTypeRules, error) {
	r, ok := accountTypeRules[t]
	if !ok {
		return AccountTypeRules{}, fmt.Errorf("unknown account type %q", t)
	}
	return r, nil
}

func (t AccountType) Valid() bool {
	_, ok := accountTypeRules[t]
	return ok
}
