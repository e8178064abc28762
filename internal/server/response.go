package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"EscrowSettle/internal/auth"
	"EscrowSettle/internal/escrow"
	"EscrowSettle/internal/trade"
)

// Response is the standardized API envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error is the error half of the envelope.
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
	ErrCodeAlreadySettled    = "ALREADY_SETTLED"
	ErrCodeInsufficientFunds = "INSUFFICIENT_FUNDS"
)

// Handle maps a ledger error onto the HTTP surface. Validation failures
// are 400, replay rejections 409, funding shortfalls 422, authorization
// failures 401.
func Handle(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		Unauthorized(c, err.Error())
	case errors.Is(err, trade.ErrAlreadySettled):
		Conflict(c, err.Error())
	case errors.Is(err, trade.ErrInsufficientEscrow),
		errors.Is(err, escrow.ErrInsufficientAvailable):
		UnprocessableEntity(c, err.Error())
	case errors.Is(err, trade.ErrInvalidWallet),
		errors.Is(err, trade.ErrOppositeSidesRequired),
		errors.Is(err, trade.ErrWrongChain),
		errors.Is(err, auth.ErrZeroOperator),
		errors.Is(err, escrow.ErrInvalidAmount):
		ValidationFailed(c, err.Error())
	default:
		InternalError(c, "An unexpected error occurred")
	}
}

// Success sends a successful response. POSTs report 201.
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

func NotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, Response{
		Success: false,
		Error:   &Error{Code: ErrCodeNotFound, Message: message},
	})
}

func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error:   &Error{Code: ErrCodeBadRequest, Message: message},
	})
}

func ValidationFailed(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error:   &Error{Code: ErrCodeValidationFailed, Message: message},
	})
}

func Unauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, Response{
		Success: false,
		Error:   &Error{Code: ErrCodeUnauthorized, Message: message},
	})
}

func Forbidden(c *gin.Context, message string) {
	c.JSON(http.StatusForbidden, Response{
		Success: false,
		Error:   &Error{Code: ErrCodeForbidden, Message: message},
	})
}

func Conflict(c *gin.Context, message string) {
	c.JSON(http.StatusConflict, Response{
		Success: false,
		Error:   &Error{Code: ErrCodeAlreadySettled, Message: message},
	})
}

func UnprocessableEntity(c *gin.Context, message string) {
	c.JSON(http.StatusUnprocessableEntity, Response{
		Success: false,
		Error:   &Error{Code: ErrCodeInsufficientFunds, Message: message},
	})
}

func InternalError(c *gin.Context, message string) {
	c.JSON(http.StatusInternalServerError, Response{
		Success: false,
		Error:   &Error{Code: ErrCodeInternalError, Message: message},
	})
}
