package accounts

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/saiboyizhan/flip-predict-sub005/internal/auth"
	"github.com/saiboyizhan/flip-predict-sub005/internal/fixedpoint"
	"github.com/saiboyizhan/flip-predict-sub005/internal/types"
	"github.com/saiboyizhan/flip-predict-sub005/pkg/response"
)

// Service is the account-facing surface: deposits bring external collateral
// onto the ledger, balance reads serve clients. Internal transfers go
// through the package-level Debit and Credit inside engine transactions.
type Service struct {
	gormDB *gorm.DB
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{gormDB: gormDB}
}

// Deposit credits external collateral to an address.
func (s *Service) Deposit(address string, amount fixedpoint.Amount) (*types.Account, error) {
	var account *types.Account
	err := s.gormDB.Transaction(func(tx *gorm.DB) error {
		if err := Credit(tx, address, amount); err != nil {
			return err
		}
		var err error
		account, err = Get(tx, address)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("address", address).
		Str("amount", amount.String()).
		Str("service", "accounts").
		Msg("deposit credited")
	return account, nil
}

// GetBalance is a pure read. Unknown addresses report a zero balance.
func (s *Service) GetBalance(address string) (*types.Account, error) {
	var account types.Account
	err := s.gormDB.Where("address = ?", address).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &types.Account{Address: address, Balance: fixedpoint.Zero()}, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// GinHandlers contains HTTP handlers for account endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

type depositRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// DepositHandler handles POST requests crediting the caller's account.
func (h *GinHandlers) DepositHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		address := auth.ClientIDFromContext(c)
		if address == "" {
			response.Unauthorized(c, "missing client identity")
			return
		}
		var req depositRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		amount, err := fixedpoint.Parse(req.Amount)
		if err != nil || amount.IsZero() {
			response.BadRequest(c, "invalid amount")
			return
		}
		account, err := h.service.Deposit(address, amount)
		response.Handle(c, account, err)
	}
}

// GetBalanceHandler handles GET requests for an address balance.
func (h *GinHandlers) GetBalanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account, err := h.service.GetBalance(c.Param("address"))
		response.Handle(c, account, err)
	}
}
