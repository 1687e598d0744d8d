// Package ledger is the durable store for accounts, positions and trades.
package ledger

import (
	"context"
	"errors"
	"sort"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/ksred/klear-paper/internal/errors"
	"github.com/ksred/klear-paper/internal/types"
)

// Store persists ledger state through gorm and serializes writers per account.
type Store struct {
	db    *gorm.DB
	locks *Locker
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:    db,
		locks: NewLocker(),
	}
}

// Lock acquires the mutation scope for one account. Every read-modify-write
// of an account's cash, positions or day trade counter runs inside it.
func (s *Store) Lock(accountID string) (unlock func()) {
	return s.locks.Lock(accountID)
}

func (s *Store) CreateAccount(ctx context.Context, account *types.Account) error {
	return s.db.WithContext(ctx).Create(account).Error
}

// GetAccount loads an account without its positions.
func (s *Store) GetAccount(ctx context.Context, accountID string) (*types.Account, error) {
	var account types.Account
	if err := s.db.WithContext(ctx).Where("account_id = ?", accountID).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.AccountNotFound(accountID)
		}
		return nil, err
	}
	return &account, nil
}

// GetAccountWithPositions loads an account and attaches its positions.
func (s *Store) GetAccountWithPositions(ctx context.Context, accountID string) (*types.Account, error) {
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	positions, err := s.ListPositions(ctx, accountID)
	if err != nil {
		return nil, err
	}
	account.Positions = positions
	return account, nil
}

func (s *Store) UpdateAccount(ctx context.Context, account *types.Account) error {
	return s.db.WithContext(ctx).Save(account).Error
}

func (s *Store) ListAccountsByOwner(ctx context.Context, ownerID string) ([]types.Account, error) {
	var accounts []types.Account
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("id asc").
		Find(&accounts).Error
	return accounts, err
}

func (s *Store) ListActiveAccounts(ctx context.Context) ([]types.Account, error) {
	var accounts []types.Account
	err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Order("id asc").
		Find(&accounts).Error
	return accounts, err
}

// ListPositions returns an account's open positions ordered by symbol.
func (s *Store) ListPositions(ctx context.Context, accountID string) ([]types.Position, error) {
	var positions []types.Position
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("symbol asc").
		Find(&positions).Error
	return positions, err
}

// ListTrades returns an account's trades in execution order.
func (s *Store) ListTrades(ctx context.Context, accountID string) ([]types.Trade, error) {
	var trades []types.Trade
	if err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("id asc").
		Find(&trades).Error; err != nil {
		return nil, err
	}
	sortByExecution(trades)
	return trades, nil
}

// ListTradesBySide returns an account's executed trades of one symbol and side.
func (s *Store) ListTradesBySide(ctx context.Context, accountID, symbol string, side types.Side) ([]types.Trade, error) {
	var trades []types.Trade
	if err := s.db.WithContext(ctx).
		Where("account_id = ? AND symbol = ? AND side = ? AND status = ?",
			accountID, symbol, side, types.TradeStatusExecuted).
		Order("id asc").
		Find(&trades).Error; err != nil {
		return nil, err
	}
	sortByExecution(trades)
	return trades, nil
}

func (s *Store) GetTrade(ctx context.Context, tradeID string) (*types.Trade, error) {
	var trade types.Trade
	if err := s.db.WithContext(ctx).Where("trade_id = ?", tradeID).First(&trade).Error; err != nil {
		return nil, err
	}
	return &trade, nil
}

// GetIdempotencyRecord returns nil when no record exists for the key.
func (s *Store) GetIdempotencyRecord(ctx context.Context, accountID, key string) (*types.IdempotencyRecord, error) {
	var record types.IdempotencyRecord
	if err := s.db.WithContext(ctx).
		Where("account_id = ? AND idempotency_key = ?", accountID, key).
		First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// PurgeExpiredIdempotency hard deletes records that expired at or before now.
func (s *Store) PurgeExpiredIdempotency(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Unscoped().
		Where("expires_at <= ?", now.UTC()).
		Delete(&types.IdempotencyRecord{})
	return res.RowsAffected, res.Error
}

// Commit is the complete set of writes produced by one executed trade.
type Commit struct {
	Account     *types.Account
	Upserts     []*types.Position
	Delete      *types.Position
	Trade       *types.Trade
	Idempotency *types.IdempotencyRecord

	// StaleIdempotency is an expired record holding the same key; it is
	// removed before Idempotency is written.
	StaleIdempotency *types.IdempotencyRecord
}

// CommitTrade applies a trade's writes in one transaction. Either every row
// changes or none does.
func (s *Store) CommitTrade(ctx context.Context, c Commit) error {
	tx := s.db.WithContext(ctx).Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := tx.Save(c.Account).Error; err != nil {
		tx.Rollback()
		return err
	}

	for _, p := range c.Upserts {
		if err := tx.Save(p).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	// closed positions are removed, not soft deleted, so the symbol can be reopened
	if c.Delete != nil && c.Delete.ID != 0 {
		if err := tx.Unscoped().Delete(c.Delete).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Create(c.Trade).Error; err != nil {
		tx.Rollback()
		return err
	}

	if c.StaleIdempotency != nil {
		if err := tx.Unscoped().Delete(c.StaleIdempotency).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	if c.Idempotency != nil {
		if err := tx.Create(c.Idempotency).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit().Error
}

// SaveValuation persists refreshed account totals and position marks together.
func (s *Store) SaveValuation(ctx context.Context, account *types.Account, positions []types.Position) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(account).Error; err != nil {
			return err
		}
		for i := range positions {
			if err := tx.Save(&positions[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func sortByExecution(trades []types.Trade) {
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].ExecutedAt.Before(trades[j].ExecutedAt)
	})
}
