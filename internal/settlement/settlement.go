// Package settlement pays out terminal markets. Every payout is guarded by
// a settlement record keyed on (market, holder, kind), so each claim happens
// at most once no matter how often it is retried. Payouts drain the
// snapshot counters written when the market left ACTIVE, which makes the
// totals independent of claim order.
package settlement

import (
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/saiboyizhan/flip-predict-sub005/internal/accounts"
	"github.com/saiboyizhan/flip-predict-sub005/internal/auth"
	"github.com/saiboyizhan/flip-predict-sub005/internal/events"
	"github.com/saiboyizhan/flip-predict-sub005/internal/fixedpoint"
	"github.com/saiboyizhan/flip-predict-sub005/internal/market"
	"github.com/saiboyizhan/flip-predict-sub005/internal/position"
	"github.com/saiboyizhan/flip-predict-sub005/internal/types"
	"github.com/saiboyizhan/flip-predict-sub005/pkg/response"
)

// Service pays winnings and refunds out of a settled market's pool.
type Service struct {
	gormDB *gorm.DB
	locks  *market.Locks
}

func NewService(gormDB *gorm.DB, locks *market.Locks) *Service {
	return &Service{gormDB: gormDB, locks: locks}
}

// ClaimWinnings pays a holder one collateral unit per winning token on a
// RESOLVED market. Both position legs are zeroed: losing tokens are
// worthless once the outcome is known, so a holder with only losing tokens
// settles with a zero-payout record.
func (s *Service) ClaimWinnings(marketID uint, holder string) (*types.SettlementRecord, error) {
	return s.claim(marketID, holder, types.SettlementWinnings, types.MarketResolved, types.EventWinningsClaimed,
		func(tx *gorm.DB, m *types.Market, pool *types.AmmPool) (fixedpoint.Amount, error) {
			pos, err := position.Get(tx, marketID, holder)
			if err != nil {
				return fixedpoint.Amount{}, err
			}
			held, err := pos.YesAmount.Add(pos.NoAmount)
			if err != nil {
				return fixedpoint.Amount{}, err
			}
			if held.IsZero() {
				return fixedpoint.Amount{}, fmt.Errorf("%w: no tokens held", types.ErrInsufficientPosition)
			}
			payout := pos.YesAmount
			if m.Outcome == types.SideNo {
				payout = pos.NoAmount
			}

			pos.YesAmount, pos.NoAmount = fixedpoint.Zero(), fixedpoint.Zero()
			if err := tx.Save(pos).Error; err != nil {
				return fixedpoint.Amount{}, err
			}
			if m.WinningOutstanding, err = m.WinningOutstanding.Sub(payout); err != nil {
				return fixedpoint.Amount{}, err
			}
			return payout, nil
		})
}

// LpClaimAfterResolution burns a provider's shares for a proportional slice
// of the residual collateral, the part not owed to winning token holders.
// The residual is fixed at resolution time: winners and remaining
// WinningOutstanding fall together, so claim order does not matter.
func (s *Service) LpClaimAfterResolution(marketID uint, provider string) (*types.SettlementRecord, error) {
	return s.claim(marketID, provider, types.SettlementLpClaim, types.MarketResolved, types.EventLpClaimed,
		func(tx *gorm.DB, m *types.Market, pool *types.AmmPool) (fixedpoint.Amount, error) {
			return s.burnShares(tx, m, pool, provider, m.WinningOutstanding)
		})
}

// RefundAfterCancel pays a trader half a collateral unit per outcome token
// on a CANCELLED market, both sides alike, since no outcome was ever known.
func (s *Service) RefundAfterCancel(marketID uint, holder string) (*types.SettlementRecord, error) {
	return s.claim(marketID, holder, types.SettlementTraderRefund, types.MarketCancelled, types.EventTraderRefunded,
		func(tx *gorm.DB, m *types.Market, pool *types.AmmPool) (fixedpoint.Amount, error) {
			pos, err := position.Get(tx, marketID, holder)
			if err != nil {
				return fixedpoint.Amount{}, err
			}
			total, err := pos.YesAmount.Add(pos.NoAmount)
			if err != nil {
				return fixedpoint.Amount{}, err
			}
			refund := total.Half()
			if refund.IsZero() {
				return fixedpoint.Amount{}, fmt.Errorf("%w: no tokens held", types.ErrInsufficientPosition)
			}

			pos.YesAmount, pos.NoAmount = fixedpoint.Zero(), fixedpoint.Zero()
			if err := tx.Save(pos).Error; err != nil {
				return fixedpoint.Amount{}, err
			}
			if m.RefundOutstanding, err = m.RefundOutstanding.Sub(refund); err != nil {
				return fixedpoint.Amount{}, err
			}
			return refund, nil
		})
}

// LpRefundAfterCancel burns a provider's shares for a proportional slice of
// the collateral left after trader refunds are set aside.
func (s *Service) LpRefundAfterCancel(marketID uint, provider string) (*types.SettlementRecord, error) {
	return s.claim(marketID, provider, types.SettlementLpRefund, types.MarketCancelled, types.EventLpRefunded,
		func(tx *gorm.DB, m *types.Market, pool *types.AmmPool) (fixedpoint.Amount, error) {
			return s.burnShares(tx, m, pool, provider, m.RefundOutstanding)
		})
}

// claim is the shared skeleton: state check, at-most-once guard, payout
// computation, pool drain, record, event. One transaction under the
// market's write lock.
func (s *Service) claim(marketID uint, holder, kind, requiredState, eventType string,
	payout func(tx *gorm.DB, m *types.Market, pool *types.AmmPool) (fixedpoint.Amount, error)) (*types.SettlementRecord, error) {

	logger := log.With().
		Uint("market_id", marketID).
		Str("holder", holder).
		Str("kind", kind).
		Str("service", "settlement").
		Logger()

	unlock := s.locks.Lock(marketID)
	defer unlock()

	var record *types.SettlementRecord
	err := s.gormDB.Transaction(func(tx *gorm.DB) error {
		m, err := market.GetMarket(tx, marketID)
		if err != nil {
			return err
		}
		if m.State != requiredState {
			return fmt.Errorf("%w: market is %s, claim kind %s needs %s",
				types.ErrInvalidStateTransition, m.State, kind, requiredState)
		}

		var existing types.SettlementRecord
		err = tx.Where("market_id = ? AND holder = ? AND kind = ?", marketID, holder, kind).
			First(&existing).Error
		if err == nil {
			return fmt.Errorf("%w: %s already paid for market %d", types.ErrAlreadyClaimed, kind, marketID)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		pool, err := market.GetPool(tx, marketID)
		if err != nil {
			return err
		}

		amount, err := payout(tx, m, pool)
		if err != nil {
			return err
		}

		if pool.Collateral, err = pool.Collateral.Sub(amount); err != nil {
			return err
		}
		if err := tx.Save(pool).Error; err != nil {
			return err
		}
		if err := tx.Save(m).Error; err != nil {
			return err
		}
		if err := accounts.Credit(tx, holder, amount); err != nil {
			return err
		}

		record = &types.SettlementRecord{
			MarketID:  marketID,
			Holder:    holder,
			Kind:      kind,
			Amount:    amount,
			ClaimedAt: time.Now().UTC(),
		}
		if err := tx.Create(record).Error; err != nil {
			return err
		}
		return events.Append(tx, marketID, eventType, types.ClaimPayload{
			ClaimID: uuid.New().String(),
			Holder:  holder,
			Kind:    kind,
			Amount:  amount,
		})
	})
	if err != nil {
		logger.Warn().Err(err).Msg("claim rejected")
		return nil, err
	}

	logger.Info().Str("amount", record.Amount.String()).Msg("claim paid")
	return record, nil
}

// burnShares converts all of a provider's LP shares into their slice of the
// pool collateral not reserved for holder payouts.
func (s *Service) burnShares(tx *gorm.DB, m *types.Market, pool *types.AmmPool, provider string, reserved fixedpoint.Amount) (fixedpoint.Amount, error) {
	var lp types.LpPosition
	err := tx.Where("market_id = ? AND provider = ?", m.ID, provider).First(&lp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && lp.Shares.IsZero()) {
		return fixedpoint.Amount{}, fmt.Errorf("%w: no shares held", types.ErrInsufficientPosition)
	}
	if err != nil {
		return fixedpoint.Amount{}, err
	}

	// Holder payouts come first; if rounding dust ever left the pool a hair
	// short of the reserved total, shares burn for nothing rather than fault.
	residual := fixedpoint.Zero()
	if !pool.Collateral.LessThan(reserved) {
		if residual, err = pool.Collateral.Sub(reserved); err != nil {
			return fixedpoint.Amount{}, err
		}
	}
	payout, err := residual.MulDiv(lp.Shares, pool.TotalLpShares)
	if err != nil {
		return fixedpoint.Amount{}, err
	}

	if pool.TotalLpShares, err = pool.TotalLpShares.Sub(lp.Shares); err != nil {
		return fixedpoint.Amount{}, err
	}
	lp.Shares = fixedpoint.Zero()
	if err := tx.Save(&lp).Error; err != nil {
		return fixedpoint.Amount{}, err
	}
	return payout, nil
}

// Records lists the settlement records for a market, newest first.
func (s *Service) Records(marketID uint) ([]types.SettlementRecord, error) {
	var records []types.SettlementRecord
	err := s.gormDB.Where("market_id = ?", marketID).
		Order("claimed_at DESC").
		Find(&records).Error
	return records, err
}

// GinHandlers contains HTTP handlers for claim endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// ClaimWinningsHandler handles POST requests from winning token holders.
func (h *GinHandlers) ClaimWinningsHandler() gin.HandlerFunc {
	return h.handler(func(marketID uint, holder string) (*types.SettlementRecord, error) {
		return h.service.ClaimWinnings(marketID, holder)
	})
}

// LpClaimHandler handles POST requests from providers of a resolved market.
func (h *GinHandlers) LpClaimHandler() gin.HandlerFunc {
	return h.handler(func(marketID uint, holder string) (*types.SettlementRecord, error) {
		return h.service.LpClaimAfterResolution(marketID, holder)
	})
}

// RefundHandler handles POST requests from holders of a cancelled market.
func (h *GinHandlers) RefundHandler() gin.HandlerFunc {
	return h.handler(func(marketID uint, holder string) (*types.SettlementRecord, error) {
		return h.service.RefundAfterCancel(marketID, holder)
	})
}

// LpRefundHandler handles POST requests from providers of a cancelled market.
func (h *GinHandlers) LpRefundHandler() gin.HandlerFunc {
	return h.handler(func(marketID uint, holder string) (*types.SettlementRecord, error) {
		return h.service.LpRefundAfterCancel(marketID, holder)
	})
}

// RecordsHandler handles GET requests for a market's settlement history.
func (h *GinHandlers) RecordsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var marketID uint
		if _, err := fmt.Sscanf(c.Param("market_id"), "%d", &marketID); err != nil {
			response.BadRequest(c, "invalid market id")
			return
		}
		records, err := h.service.Records(marketID)
		response.Handle(c, records, err)
	}
}

func (h *GinHandlers) handler(claim func(marketID uint, holder string) (*types.SettlementRecord, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		holder := auth.ClientIDFromContext(c)
		if holder == "" {
			response.Unauthorized(c, "missing client identity")
			return
		}
		var marketID uint
		if _, err := fmt.Sscanf(c.Param("market_id"), "%d", &marketID); err != nil {
			response.BadRequest(c, "invalid market id")
			return
		}
		record, err := claim(marketID, holder)
		response.Handle(c, record, err)
	}
}
