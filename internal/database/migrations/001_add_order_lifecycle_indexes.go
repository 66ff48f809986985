package migrations

import (
	"gorm.io/gorm"
)

// AddOrderLifecycleIndexes creates the indexes the scheduler's scans
// depend on. Using raw SQL for index creation to have more control over
// index types.
func AddOrderLifecycleIndexes(db *gorm.DB) error {
	indexes := []string{
		// Waiting-order scan filters on status
		`CREATE INDEX IF NOT EXISTS idx_orders_status
		 ON orders(status)`,

		// Settlement scan filters on status + settlement sub-status
		`CREATE INDEX IF NOT EXISTS idx_orders_status_settlement
		 ON orders(status, settlement_status)`,

		// Client order listings
		`CREATE INDEX IF NOT EXISTS idx_orders_client_status
		 ON orders(client_id, status)`,

		// Settlement date range checks
		`CREATE INDEX IF NOT EXISTS idx_orders_settlement_date
		 ON orders(settlement_date)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
