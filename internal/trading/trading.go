// Package trading executes orders against account ledgers.
package trading

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ksred/klear-paper/internal/compliance"
	apperrors "github.com/ksred/klear-paper/internal/errors"
	"github.com/ksred/klear-paper/internal/events"
	"github.com/ksred/klear-paper/internal/ledger"
	"github.com/ksred/klear-paper/internal/logging"
	"github.com/ksred/klear-paper/internal/pricing"
	"github.com/ksred/klear-paper/internal/rules"
	"github.com/ksred/klear-paper/internal/types"
)

const resourceTypeTrade = "trade"

// Config holds execution settings.
type Config struct {
	IdempotencyTTL time.Duration
}

// Service executes trades. All mutations of one account run under that
// account's ledger lock and commit in a single transaction.
type Service struct {
	store  *ledger.Store
	prices pricing.Source
	gate   *compliance.Gate
	bus    events.Publisher
	cfg    Config
	clock  func() time.Time
	logger zerolog.Logger
}

// NewService wires the engine. prices should already be bounded by a timeout,
// see pricing.Guard.
func NewService(store *ledger.Store, prices pricing.Source, gate *compliance.Gate, bus events.Publisher, cfg Config, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	if bus == nil {
		bus = events.Nop{}
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	return &Service{
		store:  store,
		prices: prices,
		gate:   gate,
		bus:    bus,
		cfg:    cfg,
		clock:  clock,
		logger: logging.ForService("trading"),
	}
}

// TradeRequest is a market order.
type TradeRequest struct {
	AccountID      string
	Symbol         string
	Side           types.Side
	Quantity       decimal.Decimal
	IdempotencyKey string
}

// ExecuteTrade validates and applies one order. A rejected or failed order
// leaves no trade record and no change to the account.
func (s *Service) ExecuteTrade(ctx context.Context, req TradeRequest) (*types.Trade, error) {
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if err := validate(req); err != nil {
		return nil, err
	}

	logger := s.logger.With().
		Str("account_id", req.AccountID).
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Str("quantity", req.Quantity.String()).
		Logger()

	unlock := s.store.Lock(req.AccountID)
	defer unlock()

	var stale *types.IdempotencyRecord
	if req.IdempotencyKey != "" {
		trade, record, err := s.replay(ctx, req)
		if err != nil || trade != nil {
			return trade, err
		}
		stale = record
	}

	trade, err := s.execute(ctx, req, stale, logger)
	if err != nil {
		switch {
		case apperrors.IsRejection(err):
			logger.Warn().Err(err).Str("code", apperrors.Code(err)).Msg("trade rejected")
		case errors.Is(err, apperrors.ErrDependencyFailure), errors.Is(err, apperrors.ErrPriceUnavailable):
			logger.Error().Err(err).Str("code", apperrors.Code(err)).Msg("trade failed")
		default:
			logger.Info().Err(err).Str("code", apperrors.Code(err)).Msg("trade refused")
		}
		return nil, err
	}
	return trade, nil
}

// replay returns the trade an earlier request with the same key produced. An
// expired record is returned instead so the new execution can replace it.
func (s *Service) replay(ctx context.Context, req TradeRequest) (*types.Trade, *types.IdempotencyRecord, error) {
	record, err := s.store.GetIdempotencyRecord(ctx, req.AccountID, req.IdempotencyKey)
	if err != nil {
		return nil, nil, apperrors.Dependency("idempotency lookup", err)
	}
	if record == nil {
		return nil, nil, nil
	}
	if !record.ExpiresAt.After(s.clock()) {
		return nil, record, nil
	}

	trade, err := s.store.GetTrade(ctx, record.ResourceID)
	if err != nil {
		return nil, nil, apperrors.Dependency("idempotent trade lookup", err)
	}
	s.logger.Info().
		Str("account_id", req.AccountID).
		Str("idempotency_key", req.IdempotencyKey).
		Str("trade_id", trade.TradeID).
		Msg("returning previously executed trade")
	return trade, nil, nil
}

func (s *Service) execute(ctx context.Context, req TradeRequest, stale *types.IdempotencyRecord, logger zerolog.Logger) (*types.Trade, error) {
	account, err := s.store.GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, apperrors.Dependency("load account", err)
	}
	if !account.Active {
		return nil, apperrors.AccountInactive(req.AccountID)
	}

	price, err := s.prices.CurrentPrice(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}

	positions, err := s.store.ListPositions(ctx, req.AccountID)
	if err != nil {
		return nil, apperrors.Dependency("load positions", err)
	}

	now := s.clock()
	notional := price.Mul(req.Quantity)
	idx := findPosition(positions, req.Symbol)

	switch req.Side {
	case types.SideBuy:
		if account.Cash.LessThan(notional) {
			return nil, apperrors.NewTradeError(apperrors.ErrInsufficientFunds, req.AccountID, req.Symbol, string(req.Side),
				"need "+notional.StringFixed(2)+", have "+account.Cash.StringFixed(2))
		}
	case types.SideSell:
		if idx < 0 || positions[idx].Quantity.LessThan(req.Quantity) {
			held := decimal.Zero
			if idx >= 0 {
				held = positions[idx].Quantity
			}
			return nil, apperrors.NewTradeError(apperrors.ErrInsufficientShares, req.AccountID, req.Symbol, string(req.Side),
				"hold "+held.String()+", selling "+req.Quantity.String())
		}
	}

	// value the book before the trade for the equity test and rule checks
	ledger.MarkToMarket(ctx, s.prices, account, positions, map[string]decimal.Decimal{req.Symbol: price}, now, logger)
	equity := account.TotalValue

	sameDayBuy := false
	if req.Side == types.SideSell {
		buys, err := s.store.ListTradesBySide(ctx, req.AccountID, req.Symbol, types.SideBuy)
		if err != nil {
			return nil, apperrors.Dependency("load trade history", err)
		}
		sameDayBuy = s.gate.HasSameDayBuy(buys, req.Symbol, now)
	}

	decision, err := s.gate.Evaluate(compliance.Check{
		Account:    account,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Equity:     equity,
		SameDayBuy: sameDayBuy,
		Now:        now,
	})
	if err != nil {
		return nil, err
	}

	ruleSet, err := rules.Decode(account.RiskRules)
	if err != nil {
		return nil, &apperrors.DependencyError{Op: "decode risk rules", Err: err}
	}
	resulting := req.Quantity.Mul(price)
	if idx >= 0 {
		resulting = resulting.Add(positions[idx].MarketValue)
	}
	if err := ruleSet.Check(rules.Order{
		AccountID:              req.AccountID,
		Symbol:                 req.Symbol,
		Side:                   req.Side,
		Notional:               notional,
		ResultingPositionValue: resulting,
		AccountValue:           equity,
	}); err != nil {
		return nil, err
	}

	trade := &types.Trade{
		TradeID:     uuid.New().String(),
		AccountID:   req.AccountID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Quantity:    req.Quantity,
		Price:       price,
		Notional:    notional,
		RealizedPnL: decimal.Zero,
		IsDayTrade:  decision.DayTrade,
		Status:      types.TradeStatusExecuted,
		ExecutedAt:  now,
	}

	commit := ledger.Commit{Account: account, Trade: trade, StaleIdempotency: stale}
	positions, commit.Delete = apply(account, positions, idx, trade, now)
	ledger.RecomputeTotals(account, positions)
	for i := range positions {
		commit.Upserts = append(commit.Upserts, &positions[i])
	}

	if req.IdempotencyKey != "" {
		commit.Idempotency = &types.IdempotencyRecord{
			AccountID:      req.AccountID,
			IdempotencyKey: req.IdempotencyKey,
			ResourceID:     trade.TradeID,
			ResourceType:   resourceTypeTrade,
			ExpiresAt:      now.Add(s.cfg.IdempotencyTTL),
		}
	}

	if err := s.store.CommitTrade(ctx, commit); err != nil {
		return nil, apperrors.Dependency("commit trade", err)
	}

	logger.Info().
		Str("trade_id", trade.TradeID).
		Str("price", price.String()).
		Str("notional", notional.String()).
		Str("realized_pnl", trade.RealizedPnL.String()).
		Bool("day_trade", trade.IsDayTrade).
		Int("day_trade_count", account.DayTradeCount).
		Str("cash", account.Cash.String()).
		Msg("trade executed")

	if decision.Reset {
		s.bus.Publish(events.Event{Type: events.DayTradeReset, AccountID: account.AccountID, Timestamp: now})
	}
	s.bus.Publish(events.Event{Type: events.TradeExecuted, AccountID: account.AccountID, Data: types.NewTradeResponse(trade), Timestamp: now})
	account.Positions = positions
	s.bus.Publish(events.Event{Type: events.AccountUpdated, AccountID: account.AccountID, Data: types.NewAccountResponse(account), Timestamp: now})

	return trade, nil
}

// apply books the trade into cash and positions. It returns the surviving
// positions and, when a sell closes one out, the position to delete.
func apply(account *types.Account, positions []types.Position, idx int, trade *types.Trade, now time.Time) ([]types.Position, *types.Position) {
	switch trade.Side {
	case types.SideBuy:
		account.Cash = account.Cash.Sub(trade.Notional)
		if idx < 0 {
			positions = append(positions, types.Position{
				AccountID:   account.AccountID,
				Symbol:      trade.Symbol,
				Quantity:    trade.Quantity,
				AverageCost: trade.Price,
				TotalCost:   trade.Notional,
			})
			idx = len(positions) - 1
		} else {
			p := &positions[idx]
			newQty := p.Quantity.Add(trade.Quantity)
			p.AverageCost = p.TotalCost.Add(trade.Notional).Div(newQty)
			p.Quantity = newQty
			p.TotalCost = newQty.Mul(p.AverageCost)
		}
		positions[idx].Revalue(trade.Price, now)
		return positions, nil

	default:
		p := &positions[idx]
		trade.RealizedPnL = trade.Price.Sub(p.AverageCost).Mul(trade.Quantity)
		account.Cash = account.Cash.Add(trade.Notional)
		account.RealizedPnL = account.RealizedPnL.Add(trade.RealizedPnL)

		p.Quantity = p.Quantity.Sub(trade.Quantity)
		if p.Quantity.IsZero() {
			closed := *p
			return append(positions[:idx:idx], positions[idx+1:]...), &closed
		}
		p.TotalCost = p.Quantity.Mul(p.AverageCost)
		p.Revalue(trade.Price, now)
		return positions, nil
	}
}

// ListTrades returns an account's trade history in execution order.
func (s *Service) ListTrades(ctx context.Context, accountID string) ([]types.Trade, error) {
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return nil, apperrors.Dependency("load account", err)
	}
	trades, err := s.store.ListTrades(ctx, accountID)
	if err != nil {
		return nil, apperrors.Dependency("list trades", err)
	}
	return trades, nil
}

func validate(req TradeRequest) error {
	switch {
	case req.AccountID == "":
		return apperrors.NewValidationError("account_id", req.AccountID, "is required")
	case req.Symbol == "":
		return apperrors.NewValidationError("symbol", req.Symbol, "is required")
	case !req.Side.Valid():
		return apperrors.NewValidationError("side", req.Side, "must be buy or sell")
	case !req.Quantity.IsPositive():
		return apperrors.NewValidationError("quantity", req.Quantity.String(), "must be positive")
	}
	return nil
}

func findPosition(positions []types.Position, symbol string) int {
	for i := range positions {
		if positions[i].Symbol == symbol {
			return i
		}
	}
	return -1
}
