package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Display precision. Ledger values keep full precision; rounding happens only
// when a response is built.
const (
	MoneyPlaces    = 2
	QuantityPlaces = 4
	RatioPlaces    = 6
)

func Money(d decimal.Decimal) string {
	return d.StringFixed(MoneyPlaces)
}

func Qty(d decimal.Decimal) string {
	return d.Round(QuantityPlaces).String()
}

// AccountResponse is the client facing view of an account.
type AccountResponse struct {
	AccountID         string             `json:"account_id"`
	OwnerID           string             `json:"owner_id"`
	AccountType       AccountType        `json:"account_type"`
	InitialCash       string             `json:"initial_cash"`
	Cash              string             `json:"cash"`
	MarketValue       string             `json:"market_value"`
	TotalValue        string             `json:"total_value"`
	RealizedPnL       string             `json:"realized_pnl"`
	UnrealizedPnL     string             `json:"unrealized_pnl"`
	TotalPnL          string             `json:"total_pnl"`
	DayTradeCount     int                `json:"day_trade_count"`
	LastDayTradeReset time.Time          `json:"last_day_trade_reset"`
	Active            bool               `json:"active"`
	OpenedAt          time.Time          `json:"opened_at"`
	ClosedAt          *time.Time         `json:"closed_at,omitempty"`
	Positions         []PositionResponse `json:"positions"`
}

type PositionResponse struct {
	Symbol        string    `json:"symbol"`
	Quantity      string    `json:"quantity"`
	AverageCost   string    `json:"average_cost"`
	TotalCost     string    `json:"total_cost"`
	LastPrice     string    `json:"last_price"`
	MarketValue   string    `json:"market_value"`
	UnrealizedPnL string    `json:"unrealized_pnl"`
	PricedAt      time.Time `json:"priced_at"`
}

type TradeResponse struct {
	TradeID     string      `json:"trade_id"`
	AccountID   string      `json:"account_id"`
	Symbol      string      `json:"symbol"`
	Side        Side        `json:"side"`
	Quantity    string      `json:"quantity"`
	Price       string      `json:"price"`
	Notional    string      `json:"notional"`
	RealizedPnL string      `json:"realized_pnl"`
	IsDayTrade  bool        `json:"is_day_trade"`
	Status      TradeStatus `json:"status"`
	ExecutedAt  time.Time   `json:"executed_at"`
}

func NewAccountResponse(a *Account) AccountResponse {
	resp := AccountResponse{
		AccountID:         a.AccountID,
		OwnerID:           a.OwnerID,
		AccountType:       a.AccountType,
		InitialCash:       Money(a.InitialCash),
		Cash:              Money(a.Cash),
		MarketValue:       Money(a.MarketValue),
		TotalValue:        Money(a.TotalValue),
		RealizedPnL:       Money(a.RealizedPnL),
		UnrealizedPnL:     Money(a.UnrealizedPnL),
		TotalPnL:          Money(a.TotalPnL),
		DayTradeCount:     a.DayTradeCount,
		LastDayTradeReset: a.LastDayTradeReset,
		Active:            a.Active,
		OpenedAt:          a.OpenedAt,
		ClosedAt:          a.ClosedAt,
		Positions:         make([]PositionResponse, 0, len(a.Positions)),
	}
	for i := range a.Positions {
		resp.Positions = append(resp.Positions, NewPositionResponse(&a.Positions[i]))
	}
	return resp
}

func NewPositionResponse(p *Position) PositionResponse {
	return PositionResponse{
		Symbol:        p.Symbol,
		Quantity:      Qty(p.Quantity),
		AverageCost:   Money(p.AverageCost),
		TotalCost:     Money(p.TotalCost),
		LastPrice:     Money(p.LastPrice),
		MarketValue:   Money(p.MarketValue),
		UnrealizedPnL: Money(p.UnrealizedPnL),
		PricedAt:      p.PricedAt,
	}
}

func NewTradeResponse(t *Trade) TradeResponse {
	return TradeResponse{
		TradeID:     t.TradeID,
		AccountID:   t.AccountID,
		Symbol:      t.Symbol,
		Side:        t.Side,
		Quantity:    Qty(t.Quantity),
		Price:       Money(t.Price),
		Notional:    Money(t.Notional),
		RealizedPnL: Money(t.RealizedPnL),
		IsDayTrade:  t.IsDayTrade,
		Status:      t.Status,
		ExecutedAt:  t.ExecutedAt,
	}
}
