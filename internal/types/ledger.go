package types

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

type TradeStatus string

const (
	TradeStatusExecuted TradeStatus = "executed"
	TradeStatusRejected TradeStatus = "rejected"
)

// Account is a virtual trading book. Accounts are never deleted; closing
// clears Active.
type Account struct {
	gorm.Model        `json:"-"`
	AccountID         string          `gorm:"uniqueIndex" json:"account_id"`
	OwnerID           string          `gorm:"index" json:"owner_id"`
	AccountType       AccountType     `json:"account_type"`
	InitialCash       decimal.Decimal `gorm:"type:text" json:"initial_cash"`
	Cash              decimal.Decimal `gorm:"type:text" json:"cash"`
	MarketValue       decimal.Decimal `gorm:"type:text" json:"market_value"` // sum of position market values
	TotalValue        decimal.Decimal `gorm:"type:text" json:"total_value"`  // cash + market value
	RealizedPnL       decimal.Decimal `gorm:"column:realized_pnl;type:text" json:"realized_pnl"`
	UnrealizedPnL     decimal.Decimal `gorm:"column:unrealized_pnl;type:text" json:"unrealized_pnl"`
	TotalPnL          decimal.Decimal `gorm:"column:total_pnl;type:text" json:"total_pnl"`
	DayTradeCount     int             `json:"day_trade_count"`
	LastDayTradeReset time.Time       `json:"last_day_trade_reset"`
	RiskRules         string          `gorm:"type:text" json:"-"` // JSON encoded rules.Set
	Active            bool            `gorm:"index" json:"active"`
	OpenedAt          time.Time       `json:"opened_at"`
	ClosedAt          *time.Time      `json:"closed_at,omitempty"`
	Positions         []Position      `gorm:"-" json:"positions,omitempty"`
}

// Position is the holding of one symbol within an account. The row is removed
// when quantity reaches zero.
type Position struct {
	gorm.Model    `json:"-"`
	AccountID     string          `gorm:"uniqueIndex:idx_positions_account_symbol" json:"account_id"`
	Symbol        string          `gorm:"uniqueIndex:idx_positions_account_symbol" json:"symbol"`
	Quantity      decimal.Decimal `gorm:"type:text" json:"quantity"`
	AverageCost   decimal.Decimal `gorm:"type:text" json:"average_cost"`
	TotalCost     decimal.Decimal `gorm:"type:text" json:"total_cost"`
	LastPrice     decimal.Decimal `gorm:"type:text" json:"last_price"`
	MarketValue   decimal.Decimal `gorm:"type:text" json:"market_value"`
	UnrealizedPnL decimal.Decimal `gorm:"column:unrealized_pnl;type:text" json:"unrealized_pnl"`
	PricedAt      time.Time       `json:"priced_at"`
}

// Revalue marks the position to price. Cost fields are untouched.
func (p *Position) Revalue(price decimal.Decimal, at time.Time) {
	p.LastPrice = price
	p.MarketValue = p.Quantity.Mul(price)
	p.UnrealizedPnL = p.MarketValue.Sub(p.TotalCost)
	p.PricedAt = at
}

// Trade is an immutable execution record.
type Trade struct {
	gorm.Model  `json:"-"`
	TradeID     string          `gorm:"uniqueIndex" json:"trade_id"`
	AccountID   string          `gorm:"index" json:"account_id"`
	Symbol      string          `gorm:"index" json:"symbol"`
	Side        Side            `json:"side"`
	Quantity    decimal.Decimal `gorm:"type:text" json:"quantity"`
	Price       decimal.Decimal `gorm:"type:text" json:"price"`
	Notional    decimal.Decimal `gorm:"type:text" json:"notional"`
	RealizedPnL decimal.Decimal `gorm:"column:realized_pnl;type:text" json:"realized_pnl"`
	IsDayTrade  bool            `json:"is_day_trade"`
	Status      TradeStatus     `json:"status"`
	ExecutedAt  time.Time       `gorm:"index" json:"executed_at"`
}

// IdempotencyRecord maps a client supplied key to the resource it produced.
type IdempotencyRecord struct {
	gorm.Model
	AccountID      string    `gorm:"uniqueIndex:idx_idempotency_account_key" json:"account_id"`
	IdempotencyKey string    `gorm:"uniqueIndex:idx_idempotency_account_key" json:"idempotency_key"`
	ResourceID     string    `json:"resource_id"`
	ResourceType   string    `json:"resource_type"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// BeforeSave stores ExpiresAt in UTC so expiry can be compared in SQL.
func (r *IdempotencyRecord) BeforeSave(tx *gorm.DB) error {
	r.ExpiresAt = r.ExpiresAt.UTC()
	return nil
}
