// Package rules holds the optional per account pre trade risk rules.
//
// Rules are a closed set of variants. Each variant carries only its own
// parameters and is stored as {"kind": ..., "params": {...}}.
package rules

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	apperrors "github.com/ksred/klear-paper/internal/errors"
	"github.com/ksred/klear-paper/internal/types"
)

type Kind string

const (
	KindPositionSize  Kind = "position_size"
	KindStopLoss      Kind = "stop_loss"
	KindMaxOrderValue Kind = "max_order_value"
)

var hundred = decimal.NewFromInt(100)

// Rule is implemented only by the variants in this package.
type Rule interface {
	Kind() Kind
	Validate() error
	sealed()
}

// PositionSizeRule caps a single position at MaxPercent of account value
// after a buy.
type PositionSizeRule struct {
	MaxPercent decimal.Decimal `json:"max_percent"`
}

func (PositionSizeRule) Kind() Kind { return KindPositionSize }
func (PositionSizeRule) sealed()    {}

func (r PositionSizeRule) Validate() error {
	if !r.MaxPercent.IsPositive() || r.MaxPercent.GreaterThan(hundred) {
		return apperrors.NewValidationError("max_percent", r.MaxPercent.String(), "must be in (0, 100]")
	}
	return nil
}

// StopLossRule flags positions whose unrealized loss exceeds Percent of cost.
// It is advisory and never blocks an order.
type StopLossRule struct {
	Percent decimal.Decimal `json:"percent"`
}

func (StopLossRule) Kind() Kind { return KindStopLoss }
func (StopLossRule) sealed()    {}

func (r StopLossRule) Validate() error {
	if !r.Percent.IsPositive() || r.Percent.GreaterThanOrEqual(hundred) {
		return apperrors.NewValidationError("percent", r.Percent.String(), "must be in (0, 100)")
	}
	return nil
}

// Breached reports whether a position is past its stop.
func (r StopLossRule) Breached(p types.Position) bool {
	if !p.TotalCost.IsPositive() {
		return false
	}
	loss := p.UnrealizedPnL.Neg()
	return loss.Mul(hundred).GreaterThan(p.TotalCost.Mul(r.Percent))
}

// MaxOrderValueRule rejects any order whose notional exceeds MaxValue.
type MaxOrderValueRule struct {
	MaxValue decimal.Decimal `json:"max_value"`
}

func (MaxOrderValueRule) Kind() Kind { return KindMaxOrderValue }
func (MaxOrderValueRule) sealed()    {}

func (r MaxOrderValueRule) Validate() error {
	if !r.MaxValue.IsPositive() {
		return apperrors.NewValidationError("max_value", r.MaxValue.String(), "must be positive")
	}
	return nil
}

// Order is the information a rule sees about a prospective trade.
type Order struct {
	AccountID string
	Symbol    string
	Side      types.Side
	Notional  decimal.Decimal
	// ResultingPositionValue is the symbol's market value if the order fills.
	ResultingPositionValue decimal.Decimal
	AccountValue           decimal.Decimal
}

// Set is an account's rule list.
type Set []Rule

// Check returns a RiskRuleViolation for the first rule the order breaks.
func (s Set) Check(o Order) error {
	for _, rule := range s {
		var reason string
		switch r := rule.(type) {
		case PositionSizeRule:
			if o.Side != types.SideBuy || !o.AccountValue.IsPositive() {
				continue
			}
			limit := o.AccountValue.Mul(r.MaxPercent).Div(hundred)
			if o.ResultingPositionValue.GreaterThan(limit) {
				reason = fmt.Sprintf("position would be %s%% of account, limit %s%%",
					o.ResultingPositionValue.Mul(hundred).Div(o.AccountValue).StringFixed(2), r.MaxPercent)
			}
		case MaxOrderValueRule:
			if o.Notional.GreaterThan(r.MaxValue) {
				reason = fmt.Sprintf("order value %s exceeds limit %s", o.Notional.StringFixed(2), r.MaxValue.StringFixed(2))
			}
		case StopLossRule:
			// advisory
		}
		if reason != "" {
			return apperrors.NewTradeError(apperrors.ErrRiskRuleViolation, o.AccountID, o.Symbol, string(o.Side),
				fmt.Sprintf("%s: %s", rule.Kind(), reason))
		}
	}
	return nil
}

// StopLosses returns the advisory stop loss rules in the set.
func (s Set) StopLosses() []StopLossRule {
	var out []StopLossRule
	for _, rule := range s {
		if r, ok := rule.(StopLossRule); ok {
			out = append(out, r)
		}
	}
	return out
}

func (s Set) Validate() error {
	for _, rule := range s {
		if err := rule.Validate(); err != nil {
			return err
		}
	}
	return nil
}

type envelope struct {
	Kind   Kind            `json:"kind"`
	Params json.RawMessage `json:"params"`
}

func (s Set) MarshalJSON() ([]byte, error) {
	out := make([]envelope, 0, len(s))
	for _, rule := range s {
		params, err := json.Marshal(rule)
		if err != nil {
			return nil, err
		}
		out = append(out, envelope{Kind: rule.Kind(), Params: params})
	}
	return json.Marshal(out)
}

func (s *Set) UnmarshalJSON(data []byte) error {
	var raw []envelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return apperrors.NewValidationError("risk_rules", string(data), err.Error())
	}

	set := make(Set, 0, len(raw))
	for _, env := range raw {
		var rule Rule
		switch env.Kind {
		case KindPositionSize:
			var r PositionSizeRule
			if err := decodeParams(env, &r); err != nil {
				return err
			}
			rule = r
		case KindStopLoss:
			var r StopLossRule
			if err := decodeParams(env, &r); err != nil {
				return err
			}
			rule = r
		case KindMaxOrderValue:
			var r MaxOrderValueRule
			if err := decodeParams(env, &r); err != nil {
				return err
			}
			rule = r
		default:
			return apperrors.NewValidationError("kind", env.Kind, "unknown risk rule kind")
		}
		if err := rule.Validate(); err != nil {
			return err
		}
		set = append(set, rule)
	}
	*s = set
	return nil
}

func decodeParams(env envelope, into interface{}) error {
	if len(env.Params) == 0 {
		return apperrors.NewValidationError("params", env.Kind, "missing rule parameters")
	}
	if err := json.Unmarshal(env.Params, into); err != nil {
		return apperrors.NewValidationError("params", env.Kind, err.Error())
	}
	return nil
}

// Encode serializes a set for storage on the account row.
func Encode(s Set) (string, error) {
	if len(s) == 0 {
		return "", nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Decode reads a stored set. An empty string is an empty set.
func Decode(data string) (Set, error) {
	if data == "" {
		return nil, nil
	}
	var s Set
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, err
	}
	return s, nil
}
