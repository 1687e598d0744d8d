package migrations

import (
	"gorm.io/gorm"
)

// AddTradeIndexes adds the composite indexes behind trade replay and day
// trade detection
func AddTradeIndexes(db *gorm.DB) error {
	indexes := []string{
		// Replay reads an account's trades in execution order
		`CREATE INDEX IF NOT EXISTS idx_trades_account_executed
		 ON trades(account_id, executed_at)`,

		// Same day buy lookup for day trade classification
		`CREATE INDEX IF NOT EXISTS idx_trades_account_symbol_side
		 ON trades(account_id, symbol, side, executed_at)`,

		// Maintenance walks active accounts
		`CREATE INDEX IF NOT EXISTS idx_accounts_active_type
		 ON accounts(active, account_type)`,

		`CREATE INDEX IF NOT EXISTS idx_idempotency_records_expires_at
		 ON idempotency_records(expires_at)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
