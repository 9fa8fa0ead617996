// Package revshare routes a cut of AMM trading fees to market creators. It
// consumes the event log, so delivery is at-least-once; the unique trade id
// on RevenueCredit collapses redelivery into a no-op.
package revshare

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/saiboyizhan/flip-predict-sub005/internal/accounts"
	"github.com/saiboyizhan/flip-predict-sub005/internal/fixedpoint"
	"github.com/saiboyizhan/flip-predict-sub005/internal/market"
	"github.com/saiboyizhan/flip-predict-sub005/internal/types"
)

// Consumer credits a percentage of each trade's fee to the market creator.
// The share is carved out of the pool's accumulated fee surplus, so account
// totals stay conserved.
type Consumer struct {
	gormDB  *gorm.DB
	locks   *market.Locks
	percent uint64
}

func NewConsumer(gormDB *gorm.DB, locks *market.Locks, percent uint64) *Consumer {
	return &Consumer{gormDB: gormDB, locks: locks, percent: percent}
}

func (c *Consumer) Name() string {
	return "revshare"
}

// Handle credits the creator's share for one TradeExecuted event. Fee-free
// trades (order book fills) and already-credited trade ids are skipped, as
// are trades whose market has since settled: once a market leaves ACTIVE
// its collateral belongs to the settlement snapshots.
func (c *Consumer) Handle(event types.Event) error {
	if event.Type != types.EventTradeExecuted {
		return nil
	}

	var payload types.TradeExecutedPayload
	if err := json.Unmarshal([]byte(event.Payload), &payload); err != nil {
		log.Error().
			Err(err).
			Uint("market_id", event.MarketID).
			Str("consumer", "revshare").
			Msg("dropping undecodable trade payload")
		return nil
	}
	if payload.Fee.IsZero() {
		return nil
	}

	unlock := c.locks.Lock(event.MarketID)
	defer unlock()

	return c.gormDB.Transaction(func(tx *gorm.DB) error {
		var existing types.RevenueCredit
		err := tx.Where("trade_id = ?", payload.TradeID).First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		m, err := market.GetMarket(tx, event.MarketID)
		if err != nil {
			return err
		}
		if m.State != types.MarketActive {
			return nil
		}

		share, err := payload.Fee.MulDiv(fixedpoint.FromUnits(c.percent), fixedpoint.FromUnits(100))
		if err != nil {
			return err
		}

		pool, err := market.GetPool(tx, event.MarketID)
		if err != nil {
			return err
		}
		// The surplus can have been withdrawn by providers between the trade
		// and this delivery; the creator only gets what is still in the pool.
		if pool.FeeSurplus.LessThan(share) {
			share = pool.FeeSurplus
		}
		if pool.Collateral, err = pool.Collateral.Sub(share); err != nil {
			return err
		}
		if pool.FeeSurplus, err = pool.FeeSurplus.Sub(share); err != nil {
			return err
		}
		if err := tx.Save(pool).Error; err != nil {
			return err
		}

		credit := types.RevenueCredit{
			TradeID:     payload.TradeID,
			Beneficiary: m.Creator,
			Fee:         payload.Fee,
			Share:       share,
		}
		if err := tx.Create(&credit).Error; err != nil {
			return err
		}
		if err := accounts.Credit(tx, m.Creator, share); err != nil {
			return err
		}

		log.Info().
			Str("trade_id", payload.TradeID).
			Str("beneficiary", m.Creator).
			Str("share", share.String()).
			Str("consumer", "revshare").
			Msg("revenue share credited")
		return nil
	})
}

// Credits lists the credits accrued to one beneficiary, newest first.
func (c *Consumer) Credits(beneficiary string) ([]types.RevenueCredit, error) {
	var credits []types.RevenueCredit
	err := c.gormDB.Where("beneficiary = ?", beneficiary).
		Order("id DESC").
		Find(&credits).Error
	return credits, err
}
