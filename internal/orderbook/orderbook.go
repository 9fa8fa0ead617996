// Package orderbook runs the limit order venue: escrow-backed orders on a
// single outcome token, matched with price-time priority at the resting
// order's price.
package orderbook

import (
	"errors"
	"fmt"
	"sort"
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

// PlaceResult reports an accepted order together with any immediate fills.
type PlaceResult struct {
	Order *types.Order `json:"order"`
	Fills []types.Fill `json:"fills"`
}

// Service matches orders inside one transaction per placement. Escrow is
// taken up front: buyers lock price*size collateral, sellers lock the tokens
// themselves, so a fill can always pay out without touching the order
// owner's free balance.
type Service struct {
	gormDB *gorm.DB
	locks  *market.Locks
	depth  *Depth
}

func NewService(gormDB *gorm.DB, locks *market.Locks, depth *Depth) *Service {
	return &Service{gormDB: gormDB, locks: locks, depth: depth}
}

// PlaceOrder validates, escrows, matches against resting orders, and rests
// any remainder. Fills execute at the resting order's price; a buyer whose
// limit was higher gets the difference back immediately.
func (s *Service) PlaceOrder(marketID uint, trader, side, direction string, price, size fixedpoint.Amount) (*PlaceResult, error) {
	if side != types.SideYes && side != types.SideNo {
		return nil, fmt.Errorf("%w: side must be YES or NO", types.ErrInvalidOrder)
	}
	if direction != types.DirectionBuy && direction != types.DirectionSell {
		return nil, fmt.Errorf("%w: direction must be BUY or SELL", types.ErrInvalidOrder)
	}
	if price.IsZero() || !price.LessThan(fixedpoint.Unit()) {
		return nil, fmt.Errorf("%w: price must be strictly between 0 and 1", types.ErrInvalidOrder)
	}
	if size.IsZero() {
		return nil, fmt.Errorf("%w: size required", types.ErrInvalidOrder)
	}

	logger := log.With().
		Uint("market_id", marketID).
		Str("trader", trader).
		Str("service", "orderbook").
		Logger()

	unlock := s.locks.Lock(marketID)
	defer unlock()

	var result *PlaceResult
	err := s.gormDB.Transaction(func(tx *gorm.DB) error {
		if _, err := market.GetActiveMarket(tx, marketID); err != nil {
			return err
		}

		escrow, err := s.takeEscrow(tx, marketID, trader, side, direction, price, size)
		if err != nil {
			return err
		}

		order := &types.Order{
			OrderID:         uuid.New().String(),
			MarketID:        marketID,
			Trader:          trader,
			Side:            side,
			Direction:       direction,
			Price:           price,
			Size:            size,
			Filled:          fixedpoint.Zero(),
			EscrowRemaining: escrow,
			Status:          types.OrderOpen,
		}
		if err := tx.Create(order).Error; err != nil {
			return err
		}

		fills, err := s.match(tx, order)
		if err != nil {
			return err
		}
		if err := tx.Save(order).Error; err != nil {
			return err
		}

		result = &PlaceResult{Order: order, Fills: fills}
		return nil
	})
	if err != nil {
		logger.Warn().Err(err).Msg("order rejected")
		return nil, err
	}

	if err := s.indexPlacement(result); err != nil {
		logger.Error().Err(err).Msg("depth index update failed")
	}

	logger.Info().
		Str("order_id", result.Order.OrderID).
		Str("status", result.Order.Status).
		Int("fills", len(result.Fills)).
		Msg("order placed")
	return result, nil
}

// takeEscrow moves the order's full backing out of the owner's free balance.
func (s *Service) takeEscrow(tx *gorm.DB, marketID uint, trader, side, direction string, price, size fixedpoint.Amount) (fixedpoint.Amount, error) {
	if direction == types.DirectionBuy {
		cost, err := price.MulDiv(size, fixedpoint.Unit())
		if err != nil {
			return fixedpoint.Amount{}, err
		}
		if cost.IsZero() {
			return fixedpoint.Amount{}, fmt.Errorf("%w: order value rounds to zero", types.ErrInvalidOrder)
		}
		if err := accounts.Debit(tx, trader, cost); err != nil {
			return fixedpoint.Amount{}, err
		}
		return cost, nil
	}
	if err := position.Debit(tx, marketID, trader, side, size); err != nil {
		return fixedpoint.Amount{}, err
	}
	return size, nil
}

// match walks price-compatible resting orders in price-time priority and
// settles each fill synchronously: tokens to the buyer's position, cash to
// the seller's account, escrow drawn down on both sides.
func (s *Service) match(tx *gorm.DB, taker *types.Order) ([]types.Fill, error) {
	resting, err := s.restingQueue(tx, taker)
	if err != nil {
		return nil, err
	}

	var fills []types.Fill
	remaining, err := taker.Size.Sub(taker.Filled)
	if err != nil {
		return nil, err
	}

	for i := range resting {
		if remaining.IsZero() {
			break
		}
		maker := &resting[i]
		// A trader never fills against their own resting order: wash fills
		// would churn escrow without moving anything. Deeper levels can
		// still match.
		if maker.Trader == taker.Trader {
			continue
		}

		available, err := maker.Size.Sub(maker.Filled)
		if err != nil {
			return nil, err
		}
		fillSize := remaining
		if available.LessThan(fillSize) {
			fillSize = available
		}
		cash, err := maker.Price.MulDiv(fillSize, fixedpoint.Unit())
		if err != nil {
			return nil, err
		}

		fill := types.Fill{
			FillID:       uuid.New().String(),
			MarketID:     taker.MarketID,
			Side:         taker.Side,
			TakerOrderID: taker.OrderID,
			MakerOrderID: maker.OrderID,
			Price:        maker.Price,
			Quantity:     fillSize,
		}

		if taker.Direction == types.DirectionBuy {
			fill.Buyer, fill.Seller = taker.Trader, maker.Trader
			// Taker escrowed at its own limit; execution at the maker's
			// lower price refunds the difference right away.
			cost, err := taker.Price.MulDiv(fillSize, fixedpoint.Unit())
			if err != nil {
				return nil, err
			}
			if taker.EscrowRemaining, err = taker.EscrowRemaining.Sub(cost); err != nil {
				return nil, err
			}
			refund, err := cost.Sub(cash)
			if err != nil {
				return nil, err
			}
			if !refund.IsZero() {
				if err := accounts.Credit(tx, taker.Trader, refund); err != nil {
					return nil, err
				}
			}
			if maker.EscrowRemaining, err = maker.EscrowRemaining.Sub(fillSize); err != nil {
				return nil, err
			}
			if err := position.Credit(tx, taker.MarketID, taker.Trader, taker.Side, fillSize); err != nil {
				return nil, err
			}
			if err := accounts.Credit(tx, maker.Trader, cash); err != nil {
				return nil, err
			}
		} else {
			fill.Buyer, fill.Seller = maker.Trader, taker.Trader
			if maker.EscrowRemaining, err = maker.EscrowRemaining.Sub(cash); err != nil {
				return nil, err
			}
			if taker.EscrowRemaining, err = taker.EscrowRemaining.Sub(fillSize); err != nil {
				return nil, err
			}
			if err := position.Credit(tx, taker.MarketID, maker.Trader, taker.Side, fillSize); err != nil {
				return nil, err
			}
			if err := accounts.Credit(tx, taker.Trader, cash); err != nil {
				return nil, err
			}
		}

		if taker.Filled, err = taker.Filled.Add(fillSize); err != nil {
			return nil, err
		}
		if maker.Filled, err = maker.Filled.Add(fillSize); err != nil {
			return nil, err
		}
		if remaining, err = remaining.Sub(fillSize); err != nil {
			return nil, err
		}
		advanceStatus(taker)
		advanceStatus(maker)

		if err := s.settleResidualEscrow(tx, taker); err != nil {
			return nil, err
		}
		if err := s.settleResidualEscrow(tx, maker); err != nil {
			return nil, err
		}

		if err := tx.Create(&fill).Error; err != nil {
			return nil, err
		}
		if err := tx.Save(maker).Error; err != nil {
			return nil, err
		}

		err = events.Append(tx, taker.MarketID, types.EventTradeExecuted, types.TradeExecutedPayload{
			TradeID:      fill.FillID,
			Venue:        "BOOK",
			Trader:       taker.Trader,
			Counterparty: maker.Trader,
			Side:         taker.Side,
			Direction:    taker.Direction,
			CollateralIn: cash,
			TokensOut:    fillSize,
			Fee:          fixedpoint.Zero(),
		})
		if err != nil {
			return nil, err
		}
		fills = append(fills, fill)
	}
	return fills, nil
}

// restingQueue loads the price-compatible opposite orders and sorts them by
// price then arrival. Prices persist as decimal strings, so ordering is done
// here rather than in SQL.
func (s *Service) restingQueue(tx *gorm.DB, taker *types.Order) ([]types.Order, error) {
	opposite := types.DirectionSell
	if taker.Direction == types.DirectionSell {
		opposite = types.DirectionBuy
	}

	var open []types.Order
	err := tx.Where("market_id = ? AND side = ? AND direction = ? AND status IN ?",
		taker.MarketID, taker.Side, opposite,
		[]string{types.OrderOpen, types.OrderPartiallyFilled}).
		Order("created_at ASC, id ASC").
		Find(&open).Error
	if err != nil {
		return nil, err
	}

	compatible := open[:0]
	for _, o := range open {
		if taker.Direction == types.DirectionBuy {
			if !taker.Price.LessThan(o.Price) {
				compatible = append(compatible, o)
			}
		} else if !o.Price.LessThan(taker.Price) {
			compatible = append(compatible, o)
		}
	}

	sort.SliceStable(compatible, func(i, j int) bool {
		if taker.Direction == types.DirectionBuy {
			return compatible[i].Price.LessThan(compatible[j].Price)
		}
		return compatible[j].Price.LessThan(compatible[i].Price)
	})
	return compatible, nil
}

func advanceStatus(o *types.Order) {
	if o.Filled.Equal(o.Size) {
		o.Status = types.OrderFilled
	} else if !o.Filled.IsZero() {
		o.Status = types.OrderPartiallyFilled
	}
}

// settleResidualEscrow returns per-fill rounding dust to a fully filled
// buyer. Seller escrow is tokens and divides exactly.
func (s *Service) settleResidualEscrow(tx *gorm.DB, o *types.Order) error {
	if o.Status != types.OrderFilled || o.Direction != types.DirectionBuy || o.EscrowRemaining.IsZero() {
		return nil
	}
	if err := accounts.Credit(tx, o.Trader, o.EscrowRemaining); err != nil {
		return err
	}
	o.EscrowRemaining = fixedpoint.Zero()
	return nil
}

// CancelOrder releases the remaining escrow and closes the order. Only the
// owner may cancel.
func (s *Service) CancelOrder(orderID, trader string) (*types.Order, error) {
	var found types.Order
	err := s.gormDB.Where("order_id = ?", orderID).First(&found).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", types.ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(found.MarketID)
	defer unlock()

	var order types.Order
	err = s.gormDB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("order_id = ?", orderID).First(&order).Error; err != nil {
			return err
		}
		if order.Trader != trader {
			return fmt.Errorf("%w: order %s belongs to another trader", types.ErrUnauthorized, orderID)
		}
		if order.Status != types.OrderOpen && order.Status != types.OrderPartiallyFilled {
			return fmt.Errorf("%w: order %s is %s", types.ErrOrderNotFound, orderID, order.Status)
		}

		if order.Direction == types.DirectionBuy {
			if !order.EscrowRemaining.IsZero() {
				if err := accounts.Credit(tx, order.Trader, order.EscrowRemaining); err != nil {
					return err
				}
			}
		} else {
			remaining, err := order.Size.Sub(order.Filled)
			if err != nil {
				return err
			}
			if !remaining.IsZero() {
				if err := position.Credit(tx, order.MarketID, order.Trader, order.Side, remaining); err != nil {
					return err
				}
			}
		}

		order.EscrowRemaining = fixedpoint.Zero()
		order.Status = types.OrderCancelled
		return tx.Save(&order).Error
	})
	if err != nil {
		return nil, err
	}

	remaining, derr := order.Size.Sub(order.Filled)
	if derr == nil {
		if derr = s.depth.Reduce(order.MarketID, order.Side, order.Direction, order.Price, remaining); derr != nil {
			log.Error().Err(derr).Str("order_id", orderID).Msg("depth index update failed")
		}
	}

	log.Info().
		Str("order_id", orderID).
		Str("trader", trader).
		Str("service", "orderbook").
		Msg("order cancelled")
	return &order, nil
}

// GetOrder is a pure read by public order id.
func (s *Service) GetOrder(orderID string) (*types.Order, error) {
	var order types.Order
	err := s.gormDB.Where("order_id = ?", orderID).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", types.ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// indexPlacement applies one placement's effects to the depth index:
// consumed maker volume comes off, the taker's unfilled remainder goes on.
func (s *Service) indexPlacement(result *PlaceResult) error {
	o := result.Order
	for _, fill := range result.Fills {
		makerDirection := types.DirectionSell
		if o.Direction == types.DirectionSell {
			makerDirection = types.DirectionBuy
		}
		if err := s.depth.Reduce(o.MarketID, o.Side, makerDirection, fill.Price, fill.Quantity); err != nil {
			return err
		}
	}
	remaining, err := o.Size.Sub(o.Filled)
	if err != nil {
		return err
	}
	return s.depth.Add(o.MarketID, o.Side, o.Direction, o.Price, remaining)
}

// Book is the depth snapshot returned to clients.
type Book struct {
	MarketID uint      `json:"market_id"`
	Side     string    `json:"side"`
	Bids     []Level   `json:"bids"`
	Asks     []Level   `json:"asks"`
	AsOf     time.Time `json:"as_of"`
}

// GetBook returns the aggregated depth for one outcome token.
func (s *Service) GetBook(marketID uint, side string, levels int) (*Book, error) {
	if side != types.SideYes && side != types.SideNo {
		return nil, fmt.Errorf("%w: side must be YES or NO", types.ErrInvalidOrder)
	}
	if levels <= 0 {
		levels = 20
	}
	bids, asks := s.depth.Snapshot(marketID, side, levels)
	return &Book{
		MarketID: marketID,
		Side:     side,
		Bids:     bids,
		Asks:     asks,
		AsOf:     time.Now().UTC(),
	}, nil
}

// GinHandlers contains HTTP handlers for order endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

type placeOrderRequest struct {
	Side      string `json:"side" binding:"required"`
	Direction string `json:"direction" binding:"required"`
	Price     string `json:"price" binding:"required"`
	Size      string `json:"size" binding:"required"`
}

// PlaceOrderHandler handles POST requests to place a limit order.
func (h *GinHandlers) PlaceOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
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
		var req placeOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		price, err := fixedpoint.Parse(req.Price)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		size, err := fixedpoint.Parse(req.Size)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		result, err := h.service.PlaceOrder(marketID, trader, req.Side, req.Direction, price, size)
		response.Handle(c, result, err)
	}
}

// CancelOrderHandler handles DELETE requests to cancel an order.
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		trader := auth.ClientIDFromContext(c)
		if trader == "" {
			response.Unauthorized(c, "missing client identity")
			return
		}
		order, err := h.service.CancelOrder(c.Param("order_id"), trader)
		response.Handle(c, order, err)
	}
}

// GetOrderHandler handles GET requests for a single order.
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := h.service.GetOrder(c.Param("order_id"))
		response.Handle(c, order, err)
	}
}

// GetBookHandler handles GET requests for the depth snapshot.
func (h *GinHandlers) GetBookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var marketID uint
		if _, err := fmt.Sscanf(c.Param("market_id"), "%d", &marketID); err != nil {
			response.BadRequest(c, "invalid market id")
			return
		}
		side := c.DefaultQuery("side", types.SideYes)
		levels := 20
		fmt.Sscanf(c.DefaultQuery("levels", "20"), "%d", &levels)
		book, err := h.service.GetBook(marketID, side, levels)
		response.Handle(c, book, err)
	}
}
