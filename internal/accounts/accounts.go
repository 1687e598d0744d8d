// Package accounts opens, reads and closes trading accounts.
package accounts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "github.com/ksred/klear-paper/internal/errors"
	"github.com/ksred/klear-paper/internal/events"
	"github.com/ksred/klear-paper/internal/ledger"
	"github.com/ksred/klear-paper/internal/logging"
	"github.com/ksred/klear-paper/internal/pricing"
	"github.com/ksred/klear-paper/internal/rules"
	"github.com/ksred/klear-paper/internal/types"
)

type Config struct {
	DefaultInitialCash decimal.Decimal
	DefaultType        types.AccountType
}

// Service manages the account lifecycle.
type Service struct {
	store  *ledger.Store
	prices pricing.Source
	bus    events.Publisher
	cfg    Config
	clock  func() time.Time
	logger zerolog.Logger
}

func NewService(store *ledger.Store, prices pricing.Source, bus events.Publisher, cfg Config, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	if bus == nil {
		bus = events.Nop{}
	}
	if cfg.DefaultType == "" {
		cfg.DefaultType = types.AccountTypePaper
	}
	return &Service{
		store:  store,
		prices: prices,
		bus:    bus,
		cfg:    cfg,
		clock:  clock,
		logger: logging.ForService("accounts"),
	}
}

// CreateRequest opens an account. A nil InitialCash takes the configured default.
type CreateRequest struct {
	OwnerID     string
	AccountType types.AccountType
	InitialCash *decimal.Decimal
	RiskRules   rules.Set
}

func (s *Service) CreateAccount(ctx context.Context, req CreateRequest) (*types.Account, error) {
	if req.OwnerID == "" {
		return nil, apperrors.NewValidationError("owner_id", req.OwnerID, "is required")
	}
	if req.AccountType == "" {
		req.AccountType = s.cfg.DefaultType
	}
	typeRules, err := req.AccountType.Rules()
	if err != nil {
		return nil, apperrors.NewValidationError("account_type", req.AccountType, "must be one of cash, ira, margin, paper")
	}

	cash := s.cfg.DefaultInitialCash
	if req.InitialCash != nil {
		cash = *req.InitialCash
	}
	if cash.IsNegative() {
		return nil, apperrors.NewValidationError("initial_cash", cash.String(), "must not be negative")
	}
	if typeRules.DayTradingEnabled && cash.LessThan(typeRules.MinimumBalance) {
		return nil, apperrors.NewValidationError("initial_cash", cash.String(),
			"must be at least "+typeRules.MinimumBalance.String()+" for "+string(req.AccountType)+" accounts")
	}

	if err := req.RiskRules.Validate(); err != nil {
		return nil, err
	}
	encoded, err := rules.Encode(req.RiskRules)
	if err != nil {
		return nil, apperrors.NewValidationError("risk_rules", nil, err.Error())
	}

	now := s.clock()
	account := &types.Account{
		AccountID:         uuid.New().String(),
		OwnerID:           req.OwnerID,
		AccountType:       req.AccountType,
		InitialCash:       cash,
		Cash:              cash,
		MarketValue:       decimal.Zero,
		TotalValue:        cash,
		RealizedPnL:       decimal.Zero,
		UnrealizedPnL:     decimal.Zero,
		TotalPnL:          decimal.Zero,
		LastDayTradeReset: now,
		RiskRules:         encoded,
		Active:            true,
		OpenedAt:          now,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return nil, apperrors.Dependency("create account", err)
	}

	s.logger.Info().
		Str("account_id", account.AccountID).
		Str("owner_id", account.OwnerID).
		Str("account_type", string(account.AccountType)).
		Str("initial_cash", cash.String()).
		Msg("account opened")
	s.bus.Publish(events.Event{Type: events.AccountUpdated, AccountID: account.AccountID, Data: types.NewAccountResponse(account), Timestamp: now})

	return account, nil
}

// GetAccount returns the account with its positions marked at current prices.
// The marks are not persisted; the maintenance job owns cached valuations.
func (s *Service) GetAccount(ctx context.Context, accountID string) (*types.Account, error) {
	account, err := s.store.GetAccountWithPositions(ctx, accountID)
	if err != nil {
		return nil, apperrors.Dependency("load account", err)
	}
	ledger.MarkToMarket(ctx, s.prices, account, account.Positions, nil, s.clock(), s.logger)
	return account, nil
}

// ListAccounts returns every account the owner holds, open or closed.
func (s *Service) ListAccounts(ctx context.Context, ownerID string) ([]types.Account, error) {
	accounts, err := s.store.ListAccountsByOwner(ctx, ownerID)
	if err != nil {
		return nil, apperrors.Dependency("list accounts", err)
	}
	return accounts, nil
}

// CloseAccount marks the account inactive. Positions and history are kept.
func (s *Service) CloseAccount(ctx context.Context, accountID string) (*types.Account, error) {
	unlock := s.store.Lock(accountID)
	defer unlock()

	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, apperrors.Dependency("load account", err)
	}
	if !account.Active {
		return nil, apperrors.AccountInactive(accountID)
	}

	now := s.clock()
	account.Active = false
	account.ClosedAt = &now
	if err := s.store.UpdateAccount(ctx, account); err != nil {
		return nil, apperrors.Dependency("close account", err)
	}

	s.logger.Info().Str("account_id", accountID).Msg("account closed")
	s.bus.Publish(events.Event{Type: events.AccountClosed, AccountID: accountID, Data: types.NewAccountResponse(account), Timestamp: now})
	return account, nil
}

// OwnerOf returns the owner of an account.
func (s *Service) OwnerOf(ctx context.Context, accountID string) (string, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return "", apperrors.Dependency("load account", err)
	}
	return account.OwnerID, nil
}
