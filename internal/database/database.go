package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/stonefield/broker-api/internal/database/migrations"
	"github.com/stonefield/broker-api/internal/types"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(
		&types.Client{},
		&types.Account{},
		&types.Stock{},
		&types.Order{},
		&types.PortfolioItem{},
	)
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddOrderLifecycleIndexes(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.SeedReferenceData(db); err != nil {
		return nil, fmt.Errorf("failed to seed reference data: %w", err)
	}

	return db, nil
}
