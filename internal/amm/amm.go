// Package amm implements the constant-product market maker over the two
// outcome-token reserves. Buys convert net collateral into complete sets and
// swap inside the pool so the trader leaves with a single side; sells are the
// exact inverse. Integer rounding always favors the pool, so the reserve
// product never decreases across a trade.
package amm

import (
	"fmt"
	"math/big"

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

const bpsDenominator = 10_000

// TradeResult reports the outcome of an AMM trade.
type TradeResult struct {
	TradeID       string            `json:"trade_id"`
	MarketID      uint              `json:"market_id"`
	Side          string            `json:"side"`
	Direction     string            `json:"direction"`
	CollateralIn  fixedpoint.Amount `json:"collateral_in,omitempty"`
	TokensIn      fixedpoint.Amount `json:"tokens_in,omitempty"`
	TokensOut     fixedpoint.Amount `json:"tokens_out,omitempty"`
	CollateralOut fixedpoint.Amount `json:"collateral_out,omitempty"`
	Fee           fixedpoint.Amount `json:"fee"`
	YesReserve    fixedpoint.Amount `json:"yes_reserve"`
	NoReserve     fixedpoint.Amount `json:"no_reserve"`
}

// Service executes trades against market pools.
type Service struct {
	gormDB *gorm.DB
	locks  *market.Locks
}

func NewService(gormDB *gorm.DB, locks *market.Locks) *Service {
	return &Service{gormDB: gormDB, locks: locks}
}

// Buy spends collateralIn on outcome tokens of side. A basis-point fee is
// withheld into the pool's collateral; the rest is swapped at the constant
// product. Fails with SlippageExceeded when the output is below minOut and
// with ReserveDepleted when the bought reserve would end below the floor.
func (s *Service) Buy(marketID uint, trader, side string, collateralIn, minOut fixedpoint.Amount) (*TradeResult, error) {
	if err := validSide(side); err != nil {
		return nil, err
	}
	if collateralIn.IsZero() {
		return nil, fmt.Errorf("%w: zero collateral", types.ErrZeroLiquidity)
	}

	logger := log.With().
		Uint("market_id", marketID).
		Str("trader", trader).
		Str("side", side).
		Str("service", "amm").
		Logger()

	unlock := s.locks.Lock(marketID)
	defer unlock()

	var result *TradeResult
	err := s.gormDB.Transaction(func(tx *gorm.DB) error {
		m, err := market.GetActiveMarket(tx, marketID)
		if err != nil {
			return err
		}
		pool, err := market.GetPool(tx, marketID)
		if err != nil {
			return err
		}

		fee, err := collateralIn.MulDiv(fixedpoint.FromRawUint64(uint64(m.FeeBps)), fixedpoint.FromRawUint64(bpsDenominator))
		if err != nil {
			return err
		}
		net, err := collateralIn.Sub(fee)
		if err != nil {
			return err
		}

		tokensOut, newSide, newOther, err := buyMath(pool, side, net)
		if err != nil {
			return err
		}
		if newSide.LessThan(m.MinReserve) {
			return fmt.Errorf("%w: %s reserve would fall to %s (floor %s)",
				types.ErrReserveDepleted, side, newSide, m.MinReserve)
		}
		if tokensOut.LessThan(minOut) {
			return fmt.Errorf("%w: computed output %s below minimum %s",
				types.ErrSlippageExceeded, tokensOut, minOut)
		}

		if side == types.SideYes {
			pool.YesReserve, pool.NoReserve = newSide, newOther
		} else {
			pool.NoReserve, pool.YesReserve = newSide, newOther
		}
		if pool.Collateral, err = pool.Collateral.Add(collateralIn); err != nil {
			return err
		}
		if pool.FeeSurplus, err = pool.FeeSurplus.Add(fee); err != nil {
			return err
		}
		if err := tx.Save(pool).Error; err != nil {
			return err
		}

		if err := accounts.Debit(tx, trader, collateralIn); err != nil {
			return err
		}
		if err := position.Credit(tx, marketID, trader, side, tokensOut); err != nil {
			return err
		}

		result = &TradeResult{
			TradeID:      uuid.New().String(),
			MarketID:     marketID,
			Side:         side,
			Direction:    types.DirectionBuy,
			CollateralIn: collateralIn,
			TokensOut:    tokensOut,
			Fee:          fee,
			YesReserve:   pool.YesReserve,
			NoReserve:    pool.NoReserve,
		}
		return events.Append(tx, marketID, types.EventTradeExecuted, types.TradeExecutedPayload{
			TradeID:      result.TradeID,
			Venue:        "AMM",
			Trader:       trader,
			Side:         side,
			Direction:    types.DirectionBuy,
			CollateralIn: collateralIn,
			TokensOut:    tokensOut,
			Fee:          fee,
		})
	})
	if err != nil {
		logger.Warn().Err(err).Msg("buy rejected")
		return nil, err
	}

	logger.Info().
		Str("trade_id", result.TradeID).
		Str("collateral_in", collateralIn.String()).
		Str("tokens_out", result.TokensOut.String()).
		Msg("buy executed")
	return result, nil
}

// Sell burns tokensIn of side from the trader's position and returns the
// collateral the constant product releases, minus the fee.
func (s *Service) Sell(marketID uint, trader, side string, tokensIn, minOut fixedpoint.Amount) (*TradeResult, error) {
	if err := validSide(side); err != nil {
		return nil, err
	}
	if tokensIn.IsZero() {
		return nil, fmt.Errorf("%w: zero tokens", types.ErrZeroLiquidity)
	}

	logger := log.With().
		Uint("market_id", marketID).
		Str("trader", trader).
		Str("side", side).
		Str("service", "amm").
		Logger()

	unlock := s.locks.Lock(marketID)
	defer unlock()

	var result *TradeResult
	err := s.gormDB.Transaction(func(tx *gorm.DB) error {
		m, err := market.GetActiveMarket(tx, marketID)
		if err != nil {
			return err
		}
		pool, err := market.GetPool(tx, marketID)
		if err != nil {
			return err
		}

		gross, newSide, newOther, err := sellMath(pool, side, tokensIn)
		if err != nil {
			return err
		}
		if newSide.LessThan(m.MinReserve) || newOther.LessThan(m.MinReserve) {
			return fmt.Errorf("%w: reserves would fall below floor %s",
				types.ErrReserveDepleted, m.MinReserve)
		}

		fee, err := gross.MulDiv(fixedpoint.FromRawUint64(uint64(m.FeeBps)), fixedpoint.FromRawUint64(bpsDenominator))
		if err != nil {
			return err
		}
		net, err := gross.Sub(fee)
		if err != nil {
			return err
		}
		if net.LessThan(minOut) {
			return fmt.Errorf("%w: computed output %s below minimum %s",
				types.ErrSlippageExceeded, net, minOut)
		}

		if side == types.SideYes {
			pool.YesReserve, pool.NoReserve = newSide, newOther
		} else {
			pool.NoReserve, pool.YesReserve = newSide, newOther
		}
		if pool.Collateral, err = pool.Collateral.Sub(net); err != nil {
			return err
		}
		if pool.FeeSurplus, err = pool.FeeSurplus.Add(fee); err != nil {
			return err
		}
		if err := tx.Save(pool).Error; err != nil {
			return err
		}

		if err := position.Debit(tx, marketID, trader, side, tokensIn); err != nil {
			return err
		}
		if err := accounts.Credit(tx, trader, net); err != nil {
			return err
		}

		result = &TradeResult{
			TradeID:       uuid.New().String(),
			MarketID:      marketID,
			Side:          side,
			Direction:     types.DirectionSell,
			TokensIn:      tokensIn,
			CollateralOut: net,
			Fee:           fee,
			YesReserve:    pool.YesReserve,
			NoReserve:     pool.NoReserve,
		}
		return events.Append(tx, marketID, types.EventTradeExecuted, types.TradeExecutedPayload{
			TradeID:      result.TradeID,
			Venue:        "AMM",
			Trader:       trader,
			Side:         side,
			Direction:    types.DirectionSell,
			CollateralIn: net,
			TokensOut:    tokensIn,
			Fee:          fee,
		})
	})
	if err != nil {
		logger.Warn().Err(err).Msg("sell rejected")
		return nil, err
	}

	logger.Info().
		Str("trade_id", result.TradeID).
		Str("tokens_in", tokensIn.String()).
		Str("collateral_out", result.CollateralOut.String()).
		Msg("sell executed")
	return result, nil
}

// buyMath computes the swap for a buy: net collateral mints complete sets
// into both reserves, then the bought side is swapped out until the reserve
// product returns to its pre-trade value. The bought reserve rounds up so the
// product never decreases.
func buyMath(pool *types.AmmPool, side string, net fixedpoint.Amount) (tokensOut, newSide, newOther fixedpoint.Amount, err error) {
	sideRes, otherRes := pool.YesReserve, pool.NoReserve
	if side == types.SideNo {
		sideRes, otherRes = pool.NoReserve, pool.YesReserve
	}

	k := new(big.Int).Mul(sideRes.BigInt(), otherRes.BigInt())
	newOtherRaw := new(big.Int).Add(otherRes.BigInt(), net.BigInt())

	// ceil(k / newOther)
	newSideRaw := new(big.Int)
	rem := new(big.Int)
	newSideRaw.QuoRem(k, newOtherRaw, rem)
	if rem.Sign() > 0 {
		newSideRaw.Add(newSideRaw, big.NewInt(1))
	}

	grownSide := new(big.Int).Add(sideRes.BigInt(), net.BigInt())
	outRaw := new(big.Int).Sub(grownSide, newSideRaw)
	if outRaw.Sign() <= 0 {
		return fixedpoint.Amount{}, fixedpoint.Amount{}, fixedpoint.Amount{},
			fmt.Errorf("%w: trade too small for pool state", types.ErrSlippageExceeded)
	}

	if tokensOut, err = fixedpoint.FromBigInt(outRaw); err != nil {
		return
	}
	if newSide, err = fixedpoint.FromBigInt(newSideRaw); err != nil {
		return
	}
	newOther, err = fixedpoint.FromBigInt(newOtherRaw)
	return
}

// sellMath solves for the complete sets c the pool can burn when tokensIn of
// side come back: (side + t - c)(other - c) = side*other. Rounding c down
// keeps the product non-decreasing.
func sellMath(pool *types.AmmPool, side string, tokensIn fixedpoint.Amount) (gross, newSide, newOther fixedpoint.Amount, err error) {
	sideRes, otherRes := pool.YesReserve, pool.NoReserve
	if side == types.SideNo {
		sideRes, otherRes = pool.NoReserve, pool.YesReserve
	}

	sr := sideRes.BigInt()
	or := otherRes.BigInt()
	t := tokensIn.BigInt()

	// c = (A - sqrt(A^2 - 4*t*other)) / 2, A = side + t + other
	a := new(big.Int).Add(sr, t)
	a.Add(a, or)

	disc := new(big.Int).Mul(a, a)
	four := new(big.Int).Mul(big.NewInt(4), new(big.Int).Mul(t, or))
	disc.Sub(disc, four)
	if disc.Sign() < 0 {
		return fixedpoint.Amount{}, fixedpoint.Amount{}, fixedpoint.Amount{},
			fmt.Errorf("%w: negative discriminant", fixedpoint.ErrArithmeticFault)
	}

	c := new(big.Int).Sub(a, new(big.Int).Sqrt(disc))
	c.Rsh(c, 1) // floor((A - sqrt)/2)

	newSideRaw := new(big.Int).Add(sr, t)
	newSideRaw.Sub(newSideRaw, c)
	newOtherRaw := new(big.Int).Sub(or, c)
	if newOtherRaw.Sign() <= 0 || c.Sign() <= 0 {
		return fixedpoint.Amount{}, fixedpoint.Amount{}, fixedpoint.Amount{},
			fmt.Errorf("%w: sell would drain the opposite reserve", types.ErrReserveDepleted)
	}

	if gross, err = fixedpoint.FromBigInt(c); err != nil {
		return
	}
	if newSide, err = fixedpoint.FromBigInt(newSideRaw); err != nil {
		return
	}
	newOther, err = fixedpoint.FromBigInt(newOtherRaw)
	return
}

func validSide(side string) error {
	if side != types.SideYes && side != types.SideNo {
		return fmt.Errorf("%w: side must be YES or NO", types.ErrInvalidOrder)
	}
	return nil
}

// GinHandlers contains HTTP handlers for AMM trade endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

type tradeRequest struct {
	Side   string `json:"side" binding:"required"`
	Amount string `json:"amount" binding:"required"`
	MinOut string `json:"min_out"`
}

func (r tradeRequest) amounts() (amount, minOut fixedpoint.Amount, err error) {
	if amount, err = fixedpoint.Parse(r.Amount); err != nil {
		return
	}
	if r.MinOut == "" {
		minOut = fixedpoint.Zero()
		return
	}
	minOut, err = fixedpoint.Parse(r.MinOut)
	return
}

// BuyHandler handles POST requests to buy outcome tokens from the pool.
func (h *GinHandlers) BuyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.trade(c, h.service.Buy)
	}
}

// SellHandler handles POST requests to sell outcome tokens to the pool.
func (h *GinHandlers) SellHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.trade(c, h.service.Sell)
	}
}

func (h *GinHandlers) trade(c *gin.Context, op func(uint, string, string, fixedpoint.Amount, fixedpoint.Amount) (*TradeResult, error)) {
	trader := auth.ClientIDFromContext(c)
	if trader == "" {
		response.Unauthorized(c, "missing client identity")
		return
	}

	var marketID uint
	if _, err := fmt.Sscanf(c.Param("market_id"), "%d", &marketID); err != nil {
		response.BadRequest(c, "invalid market id")
		return
	}

	var req tradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	amount, minOut, err := req.amounts()
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := op(marketID, trader, req.Side, amount, minOut)
	response.Handle(c, result, err)
}
