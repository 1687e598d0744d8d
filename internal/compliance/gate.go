// Package compliance implements the pattern day trading gate.
//
// A sell is a day trade when the account already holds an executed buy of the
// same symbol on the same market calendar day. Buys are never day trades on
// their own. The per account counter resets once five full business days
// have passed since the last reset.
package compliance

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	apperrors "github.com/ksred/klear-paper/internal/errors"
	"github.com/ksred/klear-paper/internal/types"
)

// ResetWindow is the number of business days strictly between the last reset
// and now after which the counter starts over.
const ResetWindow = 5

type Gate struct {
	loc    *time.Location
	logger zerolog.Logger
}

// NewGate evaluates calendar days in loc, the market timezone.
func NewGate(loc *time.Location) *Gate {
	if loc == nil {
		loc = time.UTC
	}
	return &Gate{
		loc:    loc,
		logger: log.With().Str("component", "compliance").Logger(),
	}
}

// Check is a prospective trade as seen by the gate.
type Check struct {
	Account    *types.Account
	Symbol     string
	Side       types.Side
	Equity     decimal.Decimal // cash plus positions at current prices
	SameDayBuy bool            // an executed buy of Symbol exists today
	Now        time.Time
}

type Decision struct {
	DayTrade bool
	Reset    bool // the counter was reset before evaluation
}

// Evaluate applies the reset rule and then decides on the trade. The account
// is modified in memory only: a reset and, for an approved day trade, the
// counter increment. The caller persists them together with the trade.
func (g *Gate) Evaluate(c Check) (Decision, error) {
	acct := c.Account
	decision := Decision{Reset: g.ApplyReset(acct, c.Now)}

	if c.Side != types.SideSell || !c.SameDayBuy {
		return decision, nil
	}
	decision.DayTrade = true

	rules, err := acct.AccountType.Rules()
	if err != nil {
		return decision, apperrors.NewValidationError("account_type", acct.AccountType, err.Error())
	}

	logger := g.logger.With().
		Str("account_id", acct.AccountID).
		Str("symbol", c.Symbol).
		Int("day_trade_count", acct.DayTradeCount).
		Logger()

	switch {
	case !rules.DayTradingEnabled:
		logger.Warn().Str("account_type", string(acct.AccountType)).Msg("day trade on ineligible account type")
		return decision, apperrors.NewTradeError(apperrors.ErrDayTradingNotAllowed, acct.AccountID, c.Symbol, string(c.Side),
			fmt.Sprintf("%s accounts cannot day trade", acct.AccountType))

	case c.Equity.LessThan(rules.MinimumBalance):
		logger.Warn().Str("equity", c.Equity.String()).Msg("equity below day trading minimum")
		return decision, apperrors.NewTradeError(apperrors.ErrBelowMinimumForDayTrading, acct.AccountID, c.Symbol, string(c.Side),
			fmt.Sprintf("equity %s below minimum %s", c.Equity.StringFixed(2), rules.MinimumBalance.StringFixed(2)))

	case acct.DayTradeCount >= rules.MaxDayTrades:
		logger.Warn().Msg("day trade limit reached")
		return decision, apperrors.NewTradeError(apperrors.ErrDayTradeLimitExceeded, acct.AccountID, c.Symbol, string(c.Side),
			fmt.Sprintf("%d day trades already in the current window", acct.DayTradeCount))
	}

	acct.DayTradeCount++
	return decision, nil
}

// ApplyReset zeroes the counter when the window has elapsed and reports
// whether it did.
func (g *Gate) ApplyReset(acct *types.Account, now time.Time) bool {
	if BusinessDaysBetween(acct.LastDayTradeReset, now, g.loc) < ResetWindow {
		return false
	}
	acct.DayTradeCount = 0
	acct.LastDayTradeReset = now
	return true
}

// HasSameDayBuy reports whether buys holds an executed buy of symbol on the
// same market day as now.
func (g *Gate) HasSameDayBuy(buys []types.Trade, symbol string, now time.Time) bool {
	for _, t := range buys {
		if t.Symbol == symbol && t.Side == types.SideBuy &&
			t.Status == types.TradeStatusExecuted && g.SameDay(t.ExecutedAt, now) {
			return true
		}
	}
	return false
}

// SameDay compares market calendar dates.
func (g *Gate) SameDay(a, b time.Time) bool {
	ay, am, ad := a.In(g.loc).Date()
	by, bm, bd := b.In(g.loc).Date()
	return ay == by && am == bm && ad == bd
}

// BusinessDaysBetween counts Monday to Friday dates strictly after from's
// date and strictly before to's date, both taken in loc.
func BusinessDaysBetween(from, to time.Time, loc *time.Location) int {
	start := dateOf(from, loc).AddDate(0, 0, 1)
	end := dateOf(to, loc)
	if !start.Before(end) {
		return 0
	}

	days := int(end.Sub(start).Hours()/24 + 0.5)
	count := (days / 7) * 5
	d := start.AddDate(0, 0, (days/7)*7)
	for d.Before(end) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			count++
		}
		d = d.AddDate(0, 0, 1)
	}
	return count
}

// dateOf is midnight UTC of t's calendar date in loc, so day arithmetic is
// unaffected by DST.
func dateOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
