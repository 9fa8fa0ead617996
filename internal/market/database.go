package market

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/saiboyizhan/flip-predict-sub005/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetMarket retrieves a market by id.
func GetMarket(tx *gorm.DB, marketID uint) (*types.Market, error) {
	var m types.Market
	if err := tx.First(&m, marketID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: market %d", types.ErrMarketNotFound, marketID)
		}
		return nil, err
	}
	return &m, nil
}

// GetActiveMarket retrieves a market and rejects terminal states. Trading,
// liquidity and order operations all gate on this.
func GetActiveMarket(tx *gorm.DB, marketID uint) (*types.Market, error) {
	m, err := GetMarket(tx, marketID)
	if err != nil {
		return nil, err
	}
	if m.State != types.MarketActive {
		return nil, fmt.Errorf("%w: market %d is %s", types.ErrInvalidStateTransition, marketID, m.State)
	}
	return m, nil
}

// GetPool retrieves the market's AMM pool.
func GetPool(tx *gorm.DB, marketID uint) (*types.AmmPool, error) {
	var pool types.AmmPool
	if err := tx.Where("market_id = ?", marketID).First(&pool).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: pool for market %d", types.ErrMarketNotFound, marketID)
		}
		return nil, err
	}
	return &pool, nil
}

func (d *Database) GetMarket(marketID uint) (*types.Market, error) {
	return GetMarket(d.db, marketID)
}

func (d *Database) GetPool(marketID uint) (*types.AmmPool, error) {
	return GetPool(d.db, marketID)
}

// ListMarkets returns markets newest-first, optionally filtered by state.
func (d *Database) ListMarkets(state string) ([]types.Market, error) {
	q := d.db.Order("id DESC")
	if state != "" {
		q = q.Where("state = ?", state)
	}
	var out []types.Market
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// CountCreatedSince counts a creator's markets created inside the window,
// for the per-day creation cap.
func (d *Database) CountCreatedSince(creator string, since time.Time) (int64, error) {
	var n int64
	err := d.db.Model(&types.Market{}).
		Where("creator = ? AND created_at >= ?", creator, since).
		Count(&n).Error
	return n, err
}

// OpenOrders returns the market's resident orders still on the book.
func OpenOrders(tx *gorm.DB, marketID uint) ([]types.Order, error) {
	var out []types.Order
	err := tx.Where("market_id = ? AND status IN ?", marketID,
		[]string{types.OrderOpen, types.OrderPartiallyFilled}).
		Find(&out).Error
	return out, err
}

// Positions returns every trader position for a market.
func Positions(tx *gorm.DB, marketID uint) ([]types.Position, error) {
	var out []types.Position
	err := tx.Where("market_id = ?", marketID).Find(&out).Error
	return out, err
}
