package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/saiboyizhan/flip-predict-sub005/internal/fixedpoint"
	"github.com/saiboyizhan/flip-predict-sub005/internal/types"
)

// Response represents a standardized API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents an error response
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes
const (
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeDuplicateResource = "DUPLICATE_RESOURCE"
)

// Ledger error codes, one per taxonomy entry
const (
	ErrCodeArithmeticFault        = "ARITHMETIC_FAULT"
	ErrCodeInsufficientLiquidity  = "INSUFFICIENT_LIQUIDITY"
	ErrCodeZeroLiquidity          = "ZERO_LIQUIDITY"
	ErrCodeSlippageExceeded       = "SLIPPAGE_EXCEEDED"
	ErrCodeReserveDepleted        = "RESERVE_DEPLETED"
	ErrCodeInvalidStateTransition = "INVALID_STATE_TRANSITION"
	ErrCodeAlreadyClaimed         = "ALREADY_CLAIMED"
	ErrCodeOrderNotFound          = "ORDER_NOT_FOUND"
	ErrCodeInsufficientBalance    = "INSUFFICIENT_BALANCE"
	ErrCodeInsufficientPosition   = "INSUFFICIENT_POSITION"
	ErrCodeCreationLimit          = "CREATION_LIMIT"
)

// Handle processes the error and returns the appropriate response
func Handle(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "Resource not found")
	case errors.Is(err, gorm.ErrDuplicatedKey):
		Conflict(c, "Resource already exists")
	default:
		handleError(c, err)
	}
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}) {
	status := http.StatusOK
	if c.Request.Method == "POST" {
		status = http.StatusCreated
	}

	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// NotFound sends a 404 response
func NotFound(c *gin.Context, message string) {
	fail(c, http.StatusNotFound, ErrCodeNotFound, message)
}

// BadRequest sends a 400 response
func BadRequest(c *gin.Context, message string) {
	fail(c, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// Unauthorized sends a 401 response
func Unauthorized(c *gin.Context, message string) {
	fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// Forbidden sends a 403 response
func Forbidden(c *gin.Context, message string) {
	fail(c, http.StatusForbidden, ErrCodeForbidden, message)
}

// InternalError sends a 500 response
func InternalError(c *gin.Context, message string) {
	fail(c, http.StatusInternalServerError, ErrCodeInternalError, message)
}

// Conflict sends a 409 response
func Conflict(c *gin.Context, message string) {
	fail(c, http.StatusConflict, ErrCodeDuplicateResource, message)
}

func fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, Response{
		Success: false,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	})
}

// handleError maps the ledger error taxonomy onto HTTP responses. Anything
// unrecognized is an internal error.
func handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, fixedpoint.ErrArithmeticFault):
		fail(c, http.StatusUnprocessableEntity, ErrCodeArithmeticFault, err.Error())
	case errors.Is(err, types.ErrInsufficientLiquidity):
		fail(c, http.StatusBadRequest, ErrCodeInsufficientLiquidity, err.Error())
	case errors.Is(err, types.ErrZeroLiquidity):
		fail(c, http.StatusBadRequest, ErrCodeZeroLiquidity, err.Error())
	case errors.Is(err, types.ErrSlippageExceeded):
		fail(c, http.StatusConflict, ErrCodeSlippageExceeded, err.Error())
	case errors.Is(err, types.ErrReserveDepleted):
		fail(c, http.StatusConflict, ErrCodeReserveDepleted, err.Error())
	case errors.Is(err, types.ErrInvalidStateTransition):
		fail(c, http.StatusConflict, ErrCodeInvalidStateTransition, err.Error())
	case errors.Is(err, types.ErrAlreadyClaimed):
		fail(c, http.StatusConflict, ErrCodeAlreadyClaimed, err.Error())
	case errors.Is(err, types.ErrOrderNotFound):
		fail(c, http.StatusNotFound, ErrCodeOrderNotFound, err.Error())
	case errors.Is(err, types.ErrMarketNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, types.ErrUnauthorized):
		Forbidden(c, err.Error())
	case errors.Is(err, types.ErrInsufficientBalance):
		fail(c, http.StatusBadRequest, ErrCodeInsufficientBalance, err.Error())
	case errors.Is(err, types.ErrInsufficientPosition):
		fail(c, http.StatusBadRequest, ErrCodeInsufficientPosition, err.Error())
	case errors.Is(err, types.ErrCreationLimit):
		fail(c, http.StatusTooManyRequests, ErrCodeCreationLimit, err.Error())
	case errors.Is(err, types.ErrInvalidOrder):
		fail(c, http.StatusBadRequest, ErrCodeValidationFailed, err.Error())
	default:
		InternalError(c, "An unexpected error occurred")
	}
}
