// Package market owns the market lifecycle state machine: creation with its
// caps and fees, and the terminal transitions to RESOLVED or CANCELLED that
// freeze trading and hand the ledger to the settlement engine.
package market

import (
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/saiboyizhan/flip-predict-sub005/internal/accounts"
	"github.com/saiboyizhan/flip-predict-sub005/internal/auth"
	"github.com/saiboyizhan/flip-predict-sub005/internal/config"
	"github.com/saiboyizhan/flip-predict-sub005/internal/events"
	"github.com/saiboyizhan/flip-predict-sub005/internal/fixedpoint"
	"github.com/saiboyizhan/flip-predict-sub005/internal/types"
	"github.com/saiboyizhan/flip-predict-sub005/pkg/response"
)

// Service governs market creation and lifecycle transitions.
type Service struct {
	gormDB *gorm.DB
	db     *Database
	locks  *Locks
	cfg    config.EngineConfig
}

func NewService(gormDB *gorm.DB, locks *Locks, cfg config.EngineConfig) *Service {
	return &Service{
		gormDB: gormDB,
		db:     NewDatabase(gormDB),
		locks:  locks,
		cfg:    cfg,
	}
}

// Locks exposes the per-market lock manager shared with the other services.
func (s *Service) Locks() *Locks {
	return s.locks
}

// CreateMarket creates a market with its AMM pool and seed LP position in
// one transaction. The creator pays the creation fee plus the initial
// collateral and receives the full initial share supply.
func (s *Service) CreateMarket(creator, title string, endTime time.Time, initialCollateral fixedpoint.Amount) (*types.Market, error) {
	logger := log.With().
		Str("creator", creator).
		Str("service", "market").
		Logger()

	if time.Until(endTime) < s.cfg.MinTimeToExpiry() {
		return nil, fmt.Errorf("%w: end time %s is inside the minimum expiry window",
			types.ErrCreationLimit, endTime.Format(time.RFC3339))
	}

	created, err := s.db.CountCreatedSince(creator, time.Now().Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("count recent markets: %w", err)
	}
	if created >= int64(s.cfg.CreationCapPerDay) {
		return nil, fmt.Errorf("%w: %d markets in the last day (cap %d)",
			types.ErrCreationLimit, created, s.cfg.CreationCapPerDay)
	}

	if initialCollateral.LessThan(s.cfg.MinLiquidity()) {
		return nil, fmt.Errorf("%w: initial collateral %s below minimum %s",
			types.ErrInsufficientLiquidity, initialCollateral, s.cfg.MinLiquidity())
	}

	creationFee := s.cfg.CreationFee()
	total, err := initialCollateral.Add(creationFee)
	if err != nil {
		return nil, err
	}

	var m types.Market
	err = s.gormDB.Transaction(func(tx *gorm.DB) error {
		if err := accounts.Debit(tx, creator, total); err != nil {
			return err
		}

		m = types.Market{
			Title:       title,
			Creator:     creator,
			EndTime:     endTime,
			State:       types.MarketActive,
			CreationFee: creationFee,
			FeeBps:      s.cfg.FeeBps,
			MinReserve:  s.cfg.ReserveFloor(),
		}
		if err := tx.Create(&m).Error; err != nil {
			return fmt.Errorf("create market: %w", err)
		}

		pool := types.AmmPool{
			MarketID:      m.ID,
			YesReserve:    initialCollateral,
			NoReserve:     initialCollateral,
			Collateral:    initialCollateral,
			FeeSurplus:    fixedpoint.Zero(),
			TotalLpShares: initialCollateral,
		}
		if err := tx.Create(&pool).Error; err != nil {
			return fmt.Errorf("create pool: %w", err)
		}

		seed := types.LpPosition{
			MarketID: m.ID,
			Provider: creator,
			Shares:   initialCollateral,
		}
		if err := tx.Create(&seed).Error; err != nil {
			return fmt.Errorf("create seed lp position: %w", err)
		}

		return events.Append(tx, m.ID, types.EventLiquidityAdded, types.LiquidityChangedPayload{
			Provider:      creator,
			Collateral:    initialCollateral,
			Shares:        initialCollateral,
			TotalLpShares: initialCollateral,
		})
	})
	if err != nil {
		logger.Error().Err(err).Msg("market creation failed")
		return nil, err
	}

	logger.Info().
		Uint("market_id", m.ID).
		Str("title", title).
		Str("initial_collateral", initialCollateral.String()).
		Msg("market created")
	return &m, nil
}

// Resolve moves an ACTIVE market to RESOLVED(outcome): open orders are
// force-cancelled with their escrow released, the winning-side outstanding
// total is snapshotted for the claims engine, and trading freezes.
func (s *Service) Resolve(marketID uint, outcome, resolver string) (*types.Market, error) {
	if outcome != types.SideYes && outcome != types.SideNo {
		return nil, fmt.Errorf("%w: outcome must be YES or NO", types.ErrInvalidStateTransition)
	}
	return s.settle(marketID, resolver, func(tx *gorm.DB, m *types.Market) error {
		outstanding := fixedpoint.Zero()
		positions, err := Positions(tx, marketID)
		if err != nil {
			return err
		}
		for _, pos := range positions {
			held := pos.YesAmount
			if outcome == types.SideNo {
				held = pos.NoAmount
			}
			if outstanding, err = outstanding.Add(held); err != nil {
				return err
			}
		}
		m.State = types.MarketResolved
		m.Outcome = outcome
		m.WinningOutstanding = outstanding
		return nil
	}, types.EventMarketResolved, outcome)
}

// Cancel moves an ACTIVE market to CANCELLED: no side wins, positions become
// refundable at half a unit per token, and trading freezes.
func (s *Service) Cancel(marketID uint, resolver string) (*types.Market, error) {
	return s.settle(marketID, resolver, func(tx *gorm.DB, m *types.Market) error {
		outstanding := fixedpoint.Zero()
		positions, err := Positions(tx, marketID)
		if err != nil {
			return err
		}
		for _, pos := range positions {
			total, err := pos.YesAmount.Add(pos.NoAmount)
			if err != nil {
				return err
			}
			if outstanding, err = outstanding.Add(total.Half()); err != nil {
				return err
			}
		}
		m.State = types.MarketCancelled
		m.RefundOutstanding = outstanding
		return nil
	}, types.EventMarketCancelled, "")
}

// settle runs a terminal transition: force-cancel resident orders first so
// released escrow is part of the snapshot the mutate step takes.
func (s *Service) settle(marketID uint, resolver string, mutate func(*gorm.DB, *types.Market) error, eventType, outcome string) (*types.Market, error) {
	logger := log.With().
		Uint("market_id", marketID).
		Str("resolver", resolver).
		Str("service", "market").
		Logger()

	unlock := s.locks.Lock(marketID)
	defer unlock()

	var m *types.Market
	var cancelled int
	err := s.gormDB.Transaction(func(tx *gorm.DB) error {
		var err error
		m, err = GetActiveMarket(tx, marketID)
		if err != nil {
			return err
		}

		cancelled, err = releaseOpenOrders(tx, marketID)
		if err != nil {
			return err
		}

		if err := mutate(tx, m); err != nil {
			return err
		}
		now := time.Now()
		m.SettledAt = &now
		if err := tx.Save(m).Error; err != nil {
			return err
		}

		return events.Append(tx, marketID, eventType, types.MarketSettledPayload{
			Outcome:         outcome,
			Resolver:        resolver,
			OrdersCancelled: cancelled,
		})
	})
	if err != nil {
		logger.Error().Err(err).Msg("settlement transition failed")
		return nil, err
	}

	logger.Info().
		Str("state", m.State).
		Str("outcome", m.Outcome).
		Int("orders_cancelled", cancelled).
		Msg("market settled")
	return m, nil
}

// releaseOpenOrders force-cancels the market's resident orders, returning
// BUY escrow to accounts and SELL escrow to positions.
func releaseOpenOrders(tx *gorm.DB, marketID uint) (int, error) {
	orders, err := OpenOrders(tx, marketID)
	if err != nil {
		return 0, err
	}
	for i := range orders {
		o := &orders[i]
		if !o.EscrowRemaining.IsZero() {
			if o.Direction == types.DirectionBuy {
				if err := accounts.Credit(tx, o.Trader, o.EscrowRemaining); err != nil {
					return 0, err
				}
			} else {
				if err := creditPosition(tx, marketID, o.Trader, o.Side, o.EscrowRemaining); err != nil {
					return 0, err
				}
			}
		}
		o.EscrowRemaining = fixedpoint.Zero()
		o.Status = types.OrderCancelled
		if err := tx.Save(o).Error; err != nil {
			return 0, err
		}
	}
	return len(orders), nil
}

// creditPosition mirrors position.Credit without importing the package (the
// position service depends on this one for lifecycle checks).
func creditPosition(tx *gorm.DB, marketID uint, holder, side string, amount fixedpoint.Amount) error {
	var pos types.Position
	err := tx.Where("market_id = ? AND holder = ?", marketID, holder).First(&pos).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		pos = types.Position{MarketID: marketID, Holder: holder}
	}
	if side == types.SideYes {
		if pos.YesAmount, err = pos.YesAmount.Add(amount); err != nil {
			return err
		}
	} else {
		if pos.NoAmount, err = pos.NoAmount.Add(amount); err != nil {
			return err
		}
	}
	return tx.Save(&pos).Error
}

// GetMarket retrieves a market by id.
func (s *Service) GetMarket(marketID uint) (*types.Market, error) {
	return s.db.GetMarket(marketID)
}

// GetPool retrieves a market's AMM pool state.
func (s *Service) GetPool(marketID uint) (*types.AmmPool, error) {
	return s.db.GetPool(marketID)
}

// ListMarkets returns markets newest-first, optionally filtered by state.
func (s *Service) ListMarkets(state string) ([]types.Market, error) {
	return s.db.ListMarkets(state)
}

// GinHandlers contains HTTP handlers for market endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

type createMarketRequest struct {
	Title             string `json:"title" binding:"required"`
	EndTime           string `json:"end_time" binding:"required"`
	InitialCollateral string `json:"initial_collateral" binding:"required"`
}

// CreateMarketHandler handles POST requests to create markets. The creator
// is the authenticated client.
func (h *GinHandlers) CreateMarketHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		creator := auth.ClientIDFromContext(c)
		if creator == "" {
			response.Unauthorized(c, "missing client identity")
			return
		}

		var req createMarketRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		endTime, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			response.BadRequest(c, "end_time must be RFC3339")
			return
		}
		initial, err := fixedpoint.Parse(req.InitialCollateral)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		m, err := h.service.CreateMarket(creator, req.Title, endTime, initial)
		response.Handle(c, m, err)
	}
}

// GetMarketHandler handles GET requests for a single market.
func (h *GinHandlers) GetMarketHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := marketIDParam(c)
		if !ok {
			return
		}
		m, err := h.service.GetMarket(id)
		response.Handle(c, m, err)
	}
}

// ListMarketsHandler handles GET requests for the market list.
func (h *GinHandlers) ListMarketsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		markets, err := h.service.ListMarkets(c.Query("state"))
		response.Handle(c, markets, err)
	}
}

// GetPoolHandler handles GET requests for a market's pool state.
func (h *GinHandlers) GetPoolHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := marketIDParam(c)
		if !ok {
			return
		}
		pool, err := h.service.GetPool(id)
		response.Handle(c, pool, err)
	}
}

type resolveRequest struct {
	Outcome string `json:"outcome" binding:"required"`
}

// ResolveHandler handles privileged POST requests to resolve a market.
func (h *GinHandlers) ResolveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		resolver := auth.ClientIDFromContext(c)
		id, ok := marketIDParam(c)
		if !ok {
			return
		}
		var req resolveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		m, err := h.service.Resolve(id, req.Outcome, resolver)
		response.Handle(c, m, err)
	}
}

// CancelMarketHandler handles privileged POST requests to cancel a market.
func (h *GinHandlers) CancelMarketHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		resolver := auth.ClientIDFromContext(c)
		id, ok := marketIDParam(c)
		if !ok {
			return
		}
		m, err := h.service.Cancel(id, resolver)
		response.Handle(c, m, err)
	}
}

func marketIDParam(c *gin.Context) (uint, bool) {
	var id uint
	if _, err := fmt.Sscanf(c.Param("market_id"), "%d", &id); err != nil {
		response.BadRequest(c, "invalid market id")
		return 0, false
	}
	return id, true
}
