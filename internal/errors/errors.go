// Package errors defines the ledger's error taxonomy.
//
// Every expected rejection is a sentinel that callers match with errors.Is.
// Typed errors carry context (account, symbol, field) and unwrap to their
// sentinel so the specific reason always survives wrapping.
package errors

import (
	"errors"
	"fmt"
)

// Domain sentinels
var (
	ErrValidation                = errors.New("validation failed")
	ErrInsufficientFunds         = errors.New("insufficient funds")
	ErrInsufficientShares        = errors.New("insufficient shares")
	ErrDayTradingNotAllowed      = errors.New("day trading not allowed for account type")
	ErrBelowMinimumForDayTrading = errors.New("account equity below day trading minimum")
	ErrDayTradeLimitExceeded     = errors.New("day trade limit exceeded")
	ErrRiskRuleViolation         = errors.New("risk rule violation")
	ErrPriceUnavailable          = errors.New("price unavailable")
	ErrAccountNotFound           = errors.New("account not found")
	ErrAccountInactive           = errors.New("account inactive")
	ErrDependencyFailure         = errors.New("dependency failure")
)

// Stable machine codes surfaced to API clients.
const (
	CodeValidation                = "VALIDATION_ERROR"
	CodeInsufficientFunds         = "INSUFFICIENT_FUNDS"
	CodeInsufficientShares        = "INSUFFICIENT_SHARES"
	CodeDayTradingNotAllowed      = "DAY_TRADING_NOT_ALLOWED"
	CodeBelowMinimumForDayTrading = "BELOW_MINIMUM_FOR_DAY_TRADING"
	CodeDayTradeLimitExceeded     = "DAY_TRADE_LIMIT_EXCEEDED"
	CodeRiskRuleViolation         = "RISK_RULE_VIOLATION"
	CodePriceUnavailable          = "PRICE_UNAVAILABLE"
	CodeAccountNotFound           = "ACCOUNT_NOT_FOUND"
	CodeAccountInactive           = "ACCOUNT_INACTIVE"
	CodeDependencyFailure         = "DEPENDENCY_FAILURE"
	CodeInternal                  = "INTERNAL_ERROR"
)

// ErrDependencyFailure comes first: a DependencyError classifies the failure
// even when its cause carries a domain code.
var codes = []struct {
	err  error
	code string
}{
	{ErrDependencyFailure, CodeDependencyFailure},
	{ErrValidation, CodeValidation},
	{ErrInsufficientFunds, CodeInsufficientFunds},
	{ErrInsufficientShares, CodeInsufficientShares},
	{ErrDayTradingNotAllowed, CodeDayTradingNotAllowed},
	{ErrBelowMinimumForDayTrading, CodeBelowMinimumForDayTrading},
	{ErrDayTradeLimitExceeded, CodeDayTradeLimitExceeded},
	{ErrRiskRuleViolation, CodeRiskRuleViolation},
	{ErrPriceUnavailable, CodePriceUnavailable},
	{ErrAccountNotFound, CodeAccountNotFound},
	{ErrAccountInactive, CodeAccountInactive},
}

// Code returns the machine code for err, or CodeInternal for anything
// outside the taxonomy.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// IsRejection reports whether err is a policy rejection of a trade, as opposed
// to malformed input or a system failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInsufficientShares) ||
		errors.Is(err, ErrDayTradingNotAllowed) ||
		errors.Is(err, ErrBelowMinimumForDayTrading) ||
		errors.Is(err, ErrDayTradeLimitExceeded) ||
		errors.Is(err, ErrRiskRuleViolation)
}

// TradeError is a rejection of a specific order.
type TradeError struct {
	Kind      error
	AccountID string
	Symbol    string
	Side      string
	Reason    string
}

func (e *TradeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("trade rejected [%s] %s %s: %v: %s", e.AccountID, e.Side, e.Symbol, e.Kind, e.Reason)
	}
	return fmt.Sprintf("trade rejected [%s] %s %s: %v", e.AccountID, e.Side, e.Symbol, e.Kind)
}

func (e *TradeError) Unwrap() error {
	return e.Kind
}

// NewTradeError creates a new TradeError.
func NewTradeError(kind error, accountID, symbol, side, reason string) *TradeError {
	return &TradeError{
		Kind:      kind,
		AccountID: accountID,
		Symbol:    symbol,
		Side:      side,
		Reason:    reason,
	}
}

// ValidationError represents malformed input.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// DependencyError wraps an unexpected failure from a collaborator (store,
// price feed). It matches ErrDependencyFailure and still unwraps to the cause.
type DependencyError struct {
	Op  string
	Err error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("dependency failure during %s: %v", e.Op, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

func (e *DependencyError) Is(target error) bool {
	return target == ErrDependencyFailure
}

// Dependency wraps err as a DependencyError unless it already belongs to the
// domain taxonomy, in which case it is returned unchanged.
func Dependency(op string, err error) error {
	if err == nil {
		return nil
	}
	if Code(err) != CodeInternal {
		return err
	}
	return &DependencyError{Op: op, Err: err}
}

// AccountNotFound returns ErrAccountNotFound annotated with the account id.
func AccountNotFound(accountID string) error {
	return fmt.Errorf("account %s: %w", accountID, ErrAccountNotFound)
}

// AccountInactive returns ErrAccountInactive annotated with the account id.
func AccountInactive(accountID string) error {
	return fmt.Errorf("account %s: %w", accountID, ErrAccountInactive)
}
