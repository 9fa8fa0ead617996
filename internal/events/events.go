// Package events is the durable, ordered event log. Entries are appended
// inside the same transaction as the mutation they describe, sequenced per
// market, and delivered at-least-once to downstream consumers; consumers are
// expected to be idempotent.
package events

import (
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/saiboyizhan/flip-predict-sub005/internal/types"
)

// Consumer is a downstream subscriber (indexer, revenue-share distributor).
type Consumer interface {
	Name() string
	Handle(event types.Event) error
}

// Append writes an event within the caller's transaction. The per-market
// sequence is computed inside the transaction; callers hold the market's
// write lock, so the read-increment is race-free.
func Append(tx *gorm.DB, marketID uint, eventType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	var lastSeq uint64
	row := tx.Model(&types.Event{}).
		Where("market_id = ?", marketID).
		Select("COALESCE(MAX(seq), 0)").
		Row()
	if err := row.Scan(&lastSeq); err != nil {
		return fmt.Errorf("read event sequence: %w", err)
	}

	event := types.Event{
		MarketID: marketID,
		Seq:      lastSeq + 1,
		Type:     eventType,
		Payload:  string(data),
	}
	if err := tx.Create(&event).Error; err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Database reads the log for delivery and display.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// After returns up to limit events with a global id greater than cursor, in
// append order.
func (d *Database) After(cursor uint, limit int) ([]types.Event, error) {
	var out []types.Event
	if err := d.db.Where("id > ?", cursor).Order("id ASC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ForMarket returns a market's events in sequence order.
func (d *Database) ForMarket(marketID uint) ([]types.Event, error) {
	var out []types.Event
	if err := d.db.Where("market_id = ?", marketID).Order("seq ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
