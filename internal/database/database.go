package database

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/saiboyizhan/flip-predict-sub005/internal/types"
)

// NewDatabase initializes a GORM connection and migrates the ledger schema.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&types.Market{},
		&types.AmmPool{},
		&types.LpPosition{},
		&types.Position{},
		&types.Order{},
		&types.Fill{},
		&types.SettlementRecord{},
		&types.Account{},
		&types.Event{},
		&types.RevenueCredit{},
	); err != nil {
		return nil, err
	}

	return db, nil
}

// NewTestDatabase returns an isolated in-memory database. Each call gets its
// own named shared-cache database so parallel tests never collide.
func NewTestDatabase() (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	return NewDatabase(dsn)
}
