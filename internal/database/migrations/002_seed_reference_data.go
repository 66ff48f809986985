package migrations

import (
	"gorm.io/gorm"

	"github.com/stonefield/broker-api/internal/types"
)

// SeedReferenceData inserts demo clients, accounts and stocks when the
// tables are empty, so a fresh database can serve the simulation and
// manual testing without a separate onboarding step.
func SeedReferenceData(db *gorm.DB) error {
	var count int64
	if err := db.Model(&types.Client{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	clients := []types.Client{
		{ClientID: "CLI_001", Name: "Ada Moreira", Email: "ada.moreira@example.com"},
		{ClientID: "CLI_002", Name: "Jonas Teller", Email: "jonas.teller@example.com"},
	}
	accounts := []types.Account{
		{AccountID: "ACC_001", ClientID: "CLI_001", Balance: 100000, AvailableBalance: 100000},
		{AccountID: "ACC_002", ClientID: "CLI_002", Balance: 50000, AvailableBalance: 50000},
	}
	stocks := []types.Stock{
		{Symbol: "AAPL", Name: "Apple Inc.", CurrentPrice: 182.50},
		{Symbol: "MSFT", Name: "Microsoft Corp.", CurrentPrice: 411.20},
		{Symbol: "VALE3", Name: "Vale S.A.", CurrentPrice: 61.35},
		{Symbol: "PETR4", Name: "Petrobras PN", CurrentPrice: 38.90},
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&clients).Error; err != nil {
			return err
		}
		if err := tx.Create(&accounts).Error; err != nil {
			return err
		}
		return tx.Create(&stocks).Error
	})
}
