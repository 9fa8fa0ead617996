// Package liquidity mints and burns LP shares against a market's pool.
// Shares carry no intrinsic price: they are a proportional claim on the
// pool's current value, minted at the marginal-price valuation. A burn takes
// proportional slices of both reserves, settles the matched yes/no pairs as
// collateral at one unit per pair, and hands out only the excess-side tokens
// plus the provider's slice of the fee surplus. Paying matched pairs as cash
// instead of tokens keeps the pool's collateral covering every token still
// outstanding, so settlement claims can never outrun the pool.
package liquidity

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/gin-gonic/gin"
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

// AddResult reports a liquidity provision.
type AddResult struct {
	MarketID      uint              `json:"market_id"`
	Provider      string            `json:"provider"`
	SharesMinted  fixedpoint.Amount `json:"shares_minted"`
	TotalShares   fixedpoint.Amount `json:"total_shares"`
	PoolValue     fixedpoint.Amount `json:"pool_value"`
}

// RemoveResult reports a liquidity withdrawal.
type RemoveResult struct {
	MarketID      uint              `json:"market_id"`
	Provider      string            `json:"provider"`
	SharesBurned  fixedpoint.Amount `json:"shares_burned"`
	YesOut        fixedpoint.Amount `json:"yes_out"`
	NoOut         fixedpoint.Amount `json:"no_out"`
	CollateralOut fixedpoint.Amount `json:"collateral_out"`
}

// LpInfo is the pure valuation read used for display and client-side retry
// sizing.
type LpInfo struct {
	MarketID        uint              `json:"market_id"`
	Provider        string            `json:"provider"`
	Shares          fixedpoint.Amount `json:"shares"`
	TotalShares     fixedpoint.Amount `json:"total_shares"`
	PoolValue       fixedpoint.Amount `json:"pool_value"`
	RedeemableValue fixedpoint.Amount `json:"redeemable_value"`
}

// Service handles LP share accounting.
type Service struct {
	gormDB *gorm.DB
	locks  *market.Locks
}

func NewService(gormDB *gorm.DB, locks *market.Locks) *Service {
	return &Service{gormDB: gormDB, locks: locks}
}

// AddLiquidity mints shares at the current pool valuation and mints
// collateralIn complete sets into the reserves, keeping every set 1:1
// backed.
func (s *Service) AddLiquidity(marketID uint, provider string, collateralIn fixedpoint.Amount) (*AddResult, error) {
	if collateralIn.IsZero() {
		return nil, fmt.Errorf("%w: collateral required", types.ErrZeroLiquidity)
	}

	logger := log.With().
		Uint("market_id", marketID).
		Str("provider", provider).
		Str("service", "liquidity").
		Logger()

	unlock := s.locks.Lock(marketID)
	defer unlock()

	var result *AddResult
	err := s.gormDB.Transaction(func(tx *gorm.DB) error {
		if _, err := market.GetActiveMarket(tx, marketID); err != nil {
			return err
		}
		pool, err := market.GetPool(tx, marketID)
		if err != nil {
			return err
		}

		value, err := PoolValue(pool)
		if err != nil {
			return err
		}

		var shares fixedpoint.Amount
		if pool.TotalLpShares.IsZero() {
			shares = collateralIn
		} else {
			if shares, err = collateralIn.MulDiv(pool.TotalLpShares, value); err != nil {
				return err
			}
		}
		if shares.IsZero() {
			return fmt.Errorf("%w: contribution too small to mint shares", types.ErrZeroLiquidity)
		}

		if pool.YesReserve, err = pool.YesReserve.Add(collateralIn); err != nil {
			return err
		}
		if pool.NoReserve, err = pool.NoReserve.Add(collateralIn); err != nil {
			return err
		}
		if pool.Collateral, err = pool.Collateral.Add(collateralIn); err != nil {
			return err
		}
		if pool.TotalLpShares, err = pool.TotalLpShares.Add(shares); err != nil {
			return err
		}
		if err := tx.Save(pool).Error; err != nil {
			return err
		}

		if err := accounts.Debit(tx, provider, collateralIn); err != nil {
			return err
		}
		if err := creditShares(tx, marketID, provider, shares); err != nil {
			return err
		}

		result = &AddResult{
			MarketID:     marketID,
			Provider:     provider,
			SharesMinted: shares,
			TotalShares:  pool.TotalLpShares,
			PoolValue:    value,
		}
		return events.Append(tx, marketID, types.EventLiquidityAdded, types.LiquidityChangedPayload{
			Provider:      provider,
			Collateral:    collateralIn,
			Shares:        shares,
			TotalLpShares: pool.TotalLpShares,
		})
	})
	if err != nil {
		logger.Warn().Err(err).Msg("add liquidity rejected")
		return nil, err
	}

	logger.Info().
		Str("collateral_in", collateralIn.String()).
		Str("shares_minted", result.SharesMinted.String()).
		Msg("liquidity added")
	return result, nil
}

// RemoveLiquidity burns shares for a proportional slice of both reserves.
// The matched yes/no pairs in the slice are burned and paid as collateral,
// one unit per pair; the excess side is handed out as tokens. The cash leg
// additionally carries the provider's slice of the accumulated fee surplus.
// The collateral backing tokens still outstanding never leaves the pool.
// Fails with ReserveDepleted if a reserve would end below the floor; callers
// are expected to halve the share amount and retry.
func (s *Service) RemoveLiquidity(marketID uint, provider string, shares fixedpoint.Amount) (*RemoveResult, error) {
	if shares.IsZero() {
		return nil, fmt.Errorf("%w: shares required", types.ErrZeroLiquidity)
	}

	logger := log.With().
		Uint("market_id", marketID).
		Str("provider", provider).
		Str("service", "liquidity").
		Logger()

	unlock := s.locks.Lock(marketID)
	defer unlock()

	var result *RemoveResult
	err := s.gormDB.Transaction(func(tx *gorm.DB) error {
		m, err := market.GetActiveMarket(tx, marketID)
		if err != nil {
			return err
		}
		pool, err := market.GetPool(tx, marketID)
		if err != nil {
			return err
		}

		lp, err := getShares(tx, marketID, provider)
		if err != nil {
			return err
		}
		if lp.Shares.LessThan(shares) {
			return fmt.Errorf("%w: provider holds %s shares, needs %s",
				types.ErrInsufficientPosition, lp.Shares, shares)
		}

		yesSlice, err := pool.YesReserve.MulDiv(shares, pool.TotalLpShares)
		if err != nil {
			return err
		}
		noSlice, err := pool.NoReserve.MulDiv(shares, pool.TotalLpShares)
		if err != nil {
			return err
		}
		surplusSlice, err := pool.FeeSurplus.MulDiv(shares, pool.TotalLpShares)
		if err != nil {
			return err
		}

		// Matched pairs are burned and cashed out 1:1; only the imbalance
		// between the reserve slices leaves the pool as tokens.
		matched := yesSlice
		if noSlice.LessThan(matched) {
			matched = noSlice
		}
		yesOut, err := yesSlice.Sub(matched)
		if err != nil {
			return err
		}
		noOut, err := noSlice.Sub(matched)
		if err != nil {
			return err
		}
		collateralOut, err := matched.Add(surplusSlice)
		if err != nil {
			return err
		}

		newYes, err := pool.YesReserve.Sub(yesSlice)
		if err != nil {
			return err
		}
		newNo, err := pool.NoReserve.Sub(noSlice)
		if err != nil {
			return err
		}
		if newYes.LessThan(m.MinReserve) || newNo.LessThan(m.MinReserve) {
			return fmt.Errorf("%w: withdrawal would push a reserve below floor %s",
				types.ErrReserveDepleted, m.MinReserve)
		}

		pool.YesReserve, pool.NoReserve = newYes, newNo
		if pool.Collateral, err = pool.Collateral.Sub(collateralOut); err != nil {
			return err
		}
		if pool.FeeSurplus, err = pool.FeeSurplus.Sub(surplusSlice); err != nil {
			return err
		}
		if pool.TotalLpShares, err = pool.TotalLpShares.Sub(shares); err != nil {
			return err
		}
		if err := tx.Save(pool).Error; err != nil {
			return err
		}

		if lp.Shares, err = lp.Shares.Sub(shares); err != nil {
			return err
		}
		if err := tx.Save(lp).Error; err != nil {
			return err
		}

		if !yesOut.IsZero() {
			if err := position.Credit(tx, marketID, provider, types.SideYes, yesOut); err != nil {
				return err
			}
		}
		if !noOut.IsZero() {
			if err := position.Credit(tx, marketID, provider, types.SideNo, noOut); err != nil {
				return err
			}
		}
		if err := accounts.Credit(tx, provider, collateralOut); err != nil {
			return err
		}

		result = &RemoveResult{
			MarketID:      marketID,
			Provider:      provider,
			SharesBurned:  shares,
			YesOut:        yesOut,
			NoOut:         noOut,
			CollateralOut: collateralOut,
		}
		return events.Append(tx, marketID, types.EventLiquidityRemoved, types.LiquidityChangedPayload{
			Provider:      provider,
			Collateral:    collateralOut,
			Shares:        shares,
			YesOut:        yesOut,
			NoOut:         noOut,
			TotalLpShares: pool.TotalLpShares,
		})
	})
	if err != nil {
		logger.Warn().Err(err).Msg("remove liquidity rejected")
		return nil, err
	}

	logger.Info().
		Str("shares_burned", shares.String()).
		Str("collateral_out", result.CollateralOut.String()).
		Msg("liquidity removed")
	return result, nil
}

// GetLpInfo is a pure read of a provider's stake and its redeemable value at
// the current valuation. No side effects.
func (s *Service) GetLpInfo(marketID uint, provider string) (*LpInfo, error) {
	pool, err := market.GetPool(s.gormDB, marketID)
	if err != nil {
		return nil, err
	}

	var lp types.LpPosition
	err = s.gormDB.Where("market_id = ? AND provider = ?", marketID, provider).First(&lp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		lp = types.LpPosition{MarketID: marketID, Provider: provider, Shares: fixedpoint.Zero()}
	} else if err != nil {
		return nil, err
	}

	value, err := PoolValue(pool)
	if err != nil {
		return nil, err
	}

	redeemable := fixedpoint.Zero()
	if !pool.TotalLpShares.IsZero() {
		if redeemable, err = value.MulDiv(lp.Shares, pool.TotalLpShares); err != nil {
			return nil, err
		}
	}

	return &LpInfo{
		MarketID:        marketID,
		Provider:        provider,
		Shares:          lp.Shares,
		TotalShares:     pool.TotalLpShares,
		PoolValue:       value,
		RedeemableValue: redeemable,
	}, nil
}

// PoolValue computes collateral + yes*pYes + no*pNo with marginal prices
// pYes = no/(yes+no) and pNo = yes/(yes+no). The token legs reduce to
// 2*yes*no/(yes+no).
func PoolValue(pool *types.AmmPool) (fixedpoint.Amount, error) {
	yes := pool.YesReserve.BigInt()
	no := pool.NoReserve.BigInt()

	sum := new(big.Int).Add(yes, no)
	if sum.Sign() == 0 {
		return pool.Collateral, nil
	}

	tokenLeg := new(big.Int).Mul(yes, no)
	tokenLeg.Mul(tokenLeg, big.NewInt(2))
	tokenLeg.Quo(tokenLeg, sum)

	value, err := fixedpoint.FromBigInt(tokenLeg)
	if err != nil {
		return fixedpoint.Amount{}, err
	}
	return pool.Collateral.Add(value)
}

func getShares(tx *gorm.DB, marketID uint, provider string) (*types.LpPosition, error) {
	var lp types.LpPosition
	err := tx.Where("market_id = ? AND provider = ?", marketID, provider).First(&lp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &types.LpPosition{MarketID: marketID, Provider: provider, Shares: fixedpoint.Zero()}, nil
	}
	if err != nil {
		return nil, err
	}
	return &lp, nil
}

func creditShares(tx *gorm.DB, marketID uint, provider string, shares fixedpoint.Amount) error {
	var lp types.LpPosition
	err := tx.Where("market_id = ? AND provider = ?", marketID, provider).First(&lp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		lp = types.LpPosition{MarketID: marketID, Provider: provider, Shares: shares}
		return tx.Create(&lp).Error
	}
	if err != nil {
		return err
	}
	if lp.Shares, err = lp.Shares.Add(shares); err != nil {
		return err
	}
	return tx.Save(&lp).Error
}

// GinHandlers contains HTTP handlers for liquidity endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

type liquidityRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// AddLiquidityHandler handles POST requests to provide liquidity.
func (h *GinHandlers) AddLiquidityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		provider, marketID, amount, ok := h.parse(c)
		if !ok {
			return
		}
		result, err := h.service.AddLiquidity(marketID, provider, amount)
		response.Handle(c, result, err)
	}
}

// RemoveLiquidityHandler handles POST requests to withdraw liquidity.
func (h *GinHandlers) RemoveLiquidityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		provider, marketID, amount, ok := h.parse(c)
		if !ok {
			return
		}
		result, err := h.service.RemoveLiquidity(marketID, provider, amount)
		response.Handle(c, result, err)
	}
}

// GetLpInfoHandler handles GET requests for a provider's stake valuation.
func (h *GinHandlers) GetLpInfoHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var marketID uint
		if _, err := fmt.Sscanf(c.Param("market_id"), "%d", &marketID); err != nil {
			response.BadRequest(c, "invalid market id")
			return
		}
		provider := c.Param("address")
		info, err := h.service.GetLpInfo(marketID, provider)
		response.Handle(c, info, err)
	}
}

func (h *GinHandlers) parse(c *gin.Context) (provider string, marketID uint, amount fixedpoint.Amount, ok bool) {
	provider = auth.ClientIDFromContext(c)
	if provider == "" {
		response.Unauthorized(c, "missing client identity")
		return
	}
	if _, err := fmt.Sscanf(c.Param("market_id"), "%d", &marketID); err != nil {
		response.BadRequest(c, "invalid market id")
		return
	}
	var req liquidityRequest
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
