// Package position tracks per-holder outcome token balances and the
// split/merge primitives that convert between collateral and complete sets.
package position

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/saiboyizhan/flip-predict-sub005/internal/accounts"
	"github.com/saiboyizhan/flip-predict-sub005/internal/auth"
	"github.com/saiboyizhan/flip-predict-sub005/internal/fixedpoint"
	"github.com/saiboyizhan/flip-predict-sub005/internal/market"
	"github.com/saiboyizhan/flip-predict-sub005/internal/types"
	"github.com/saiboyizhan/flip-predict-sub005/pkg/response"
)

// Service exposes split and merge on active markets. Split deposits c
// collateral and mints c YES plus c NO; merge burns a matched pair and
// returns the collateral. The two are exact inverses.
type Service struct {
	gormDB *gorm.DB
	locks  *market.Locks
}

func NewService(gormDB *gorm.DB, locks *market.Locks) *Service {
	return &Service{gormDB: gormDB, locks: locks}
}

// SplitPosition converts collateral into a complete set held directly by the
// trader. The deposit backs the minted pair, so every outstanding set stays
// redeemable 1:1.
func (s *Service) SplitPosition(marketID uint, holder string, collateralIn fixedpoint.Amount) (*types.Position, error) {
	if collateralIn.IsZero() {
		return nil, fmt.Errorf("%w: amount required", types.ErrInvalidOrder)
	}

	unlock := s.locks.Lock(marketID)
	defer unlock()

	var pos *types.Position
	err := s.gormDB.Transaction(func(tx *gorm.DB) error {
		if _, err := market.GetActiveMarket(tx, marketID); err != nil {
			return err
		}
		pool, err := market.GetPool(tx, marketID)
		if err != nil {
			return err
		}

		if err := accounts.Debit(tx, holder, collateralIn); err != nil {
			return err
		}
		if pool.Collateral, err = pool.Collateral.Add(collateralIn); err != nil {
			return err
		}
		if err := tx.Save(pool).Error; err != nil {
			return err
		}

		if pos, err = Get(tx, marketID, holder); err != nil {
			return err
		}
		if pos.YesAmount, err = pos.YesAmount.Add(collateralIn); err != nil {
			return err
		}
		if pos.NoAmount, err = pos.NoAmount.Add(collateralIn); err != nil {
			return err
		}
		return tx.Save(pos).Error
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Uint("market_id", marketID).
		Str("holder", holder).
		Str("amount", collateralIn.String()).
		Str("service", "position").
		Msg("position split")
	return pos, nil
}

// MergePositions burns amount YES and amount NO from the holder and returns
// amount collateral. Fails with InsufficientPosition if either leg is short.
func (s *Service) MergePositions(marketID uint, holder string, amount fixedpoint.Amount) (*types.Position, error) {
	if amount.IsZero() {
		return nil, fmt.Errorf("%w: amount required", types.ErrInvalidOrder)
	}

	unlock := s.locks.Lock(marketID)
	defer unlock()

	var pos *types.Position
	err := s.gormDB.Transaction(func(tx *gorm.DB) error {
		if _, err := market.GetActiveMarket(tx, marketID); err != nil {
			return err
		}
		pool, err := market.GetPool(tx, marketID)
		if err != nil {
			return err
		}

		if pos, err = Get(tx, marketID, holder); err != nil {
			return err
		}
		if pos.YesAmount.LessThan(amount) || pos.NoAmount.LessThan(amount) {
			return fmt.Errorf("%w: merge needs %s of both sides, holds %s YES / %s NO",
				types.ErrInsufficientPosition, amount, pos.YesAmount, pos.NoAmount)
		}
		if pos.YesAmount, err = pos.YesAmount.Sub(amount); err != nil {
			return err
		}
		if pos.NoAmount, err = pos.NoAmount.Sub(amount); err != nil {
			return err
		}
		if err := tx.Save(pos).Error; err != nil {
			return err
		}

		if pool.Collateral, err = pool.Collateral.Sub(amount); err != nil {
			return err
		}
		if err := tx.Save(pool).Error; err != nil {
			return err
		}
		return accounts.Credit(tx, holder, amount)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Uint("market_id", marketID).
		Str("holder", holder).
		Str("amount", amount.String()).
		Str("service", "position").
		Msg("positions merged")
	return pos, nil
}

// GetPosition is a pure read. Unknown holders get a zero position rather
// than an error.
func (s *Service) GetPosition(marketID uint, holder string) (*types.Position, error) {
	var pos types.Position
	err := s.gormDB.Where("market_id = ? AND holder = ?", marketID, holder).First(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &types.Position{
			MarketID:  marketID,
			Holder:    holder,
			YesAmount: fixedpoint.Zero(),
			NoAmount:  fixedpoint.Zero(),
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

// GinHandlers contains HTTP handlers for position endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

type positionRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// SplitHandler handles POST requests to mint a complete set from collateral.
func (h *GinHandlers) SplitHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		holder, marketID, amount, ok := h.parse(c)
		if !ok {
			return
		}
		pos, err := h.service.SplitPosition(marketID, holder, amount)
		response.Handle(c, pos, err)
	}
}

// MergeHandler handles POST requests to burn a complete set back into
// collateral.
func (h *GinHandlers) MergeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		holder, marketID, amount, ok := h.parse(c)
		if !ok {
			return
		}
		pos, err := h.service.MergePositions(marketID, holder, amount)
		response.Handle(c, pos, err)
	}
}

// GetPositionHandler handles GET requests for a holder's balances.
func (h *GinHandlers) GetPositionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var marketID uint
		if _, err := fmt.Sscanf(c.Param("market_id"), "%d", &marketID); err != nil {
			response.BadRequest(c, "invalid market id")
			return
		}
		pos, err := h.service.GetPosition(marketID, c.Param("address"))
		response.Handle(c, pos, err)
	}
}

func (h *GinHandlers) parse(c *gin.Context) (holder string, marketID uint, amount fixedpoint.Amount, ok bool) {
	holder = auth.ClientIDFromContext(c)
	if holder == "" {
		response.Unauthorized(c, "missing client identity")
		return
	}
	if _, err := fmt.Sscanf(c.Param("market_id"), "%d", &marketID); err != nil {
		response.BadRequest(c, "invalid market id")
		return
	}
	var req positionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	var err error
	if amount, err = fixedpoint.Parse(req.Amount); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	ok = true
	return
}
