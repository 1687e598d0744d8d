package migrations

import (
	"github.com/ksred/klear-paper/internal/types"
	"gorm.io/gorm"
)

// AddLedgerTables creates the account, position, trade and idempotency tables
func AddLedgerTables(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.Account{},
		&types.Position{},
		&types.Trade{},
		&types.IdempotencyRecord{},
	)
}
