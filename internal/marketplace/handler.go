package marketplace

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"deferred-estate/settlement-backend/internal/auth"
	"deferred-estate/settlement-backend/internal/contracts"
	"deferred-estate/settlement-backend/internal/ledger"
)

type Handler struct {
	service Service
	logger  *zap.Logger
}

func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterPublicRoutes exposes prices; an authenticated caller gets a personalised quote
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.GET("/marketplace/tokens/:contract_id/:index/price", h.getPrice)
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	group := r.Group("/marketplace")
	{
		group.POST("/tokens/:contract_id/:index/buy", h.buyToken)
		group.GET("/purchases/:id", h.getPurchase)
	}
}

func (h *Handler) getPrice(c *gin.Context) {
	contractID, index, ok := tokenParams(c)
	if !ok {
		return
	}
	caller, _ := auth.CallerFromContext(c)

	quote, err := h.service.TokenPrice(c.Request.Context(), caller, contractID, index)
	if err != nil {
		h.respondError(c, "Failed to quote token", err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

func (h *Handler) buyToken(c *gin.Context) {
	caller, ok := auth.CallerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	contractID, index, ok := tokenParams(c)
	if !ok {
		return
	}
	var req BuyRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var subaccount *ledger.Subaccount
	if req.Subaccount != "" {
		var sub ledger.Subaccount
		if err := sub.UnmarshalText([]byte(req.Subaccount)); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		subaccount = &sub
	}

	purchase, err := h.service.BuyToken(c.Request.Context(), caller, contractID, index, subaccount)
	if err != nil {
		h.respondError(c, "Failed to buy token", err)
		return
	}
	c.JSON(http.StatusOK, purchase)
}

func (h *Handler) getPurchase(c *gin.Context) {
	caller, ok := auth.CallerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	purchase, err := h.service.GetPurchase(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		h.respondError(c, "Failed to get purchase", err)
		return
	}
	c.JSON(http.StatusOK, purchase)
}

func (h *Handler) respondError(c *gin.Context, msg string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// StatusFor maps marketplace errors to HTTP statuses, deferring to the contract mapping
func StatusFor(err error) int {
	var allowanceErr *AllowanceNotEnoughError
	switch {
	case errors.Is(err, ErrPurchaseNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTokenHasNoOwner), errors.Is(err, ErrCallerAlreadyOwnsToken):
		return http.StatusConflict
	case errors.As(err, &allowanceErr), errors.Is(err, ErrAllowanceExpired), errors.Is(err, ErrPaymentRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrRateUnavailable):
		return http.StatusBadGateway
	default:
		return contracts.StatusFor(err)
	}
}

func tokenParams(c *gin.Context) (uint64, uint64, bool) {
	contractID, err := strconv.ParseUint(c.Param("contract_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid contract id"})
		return 0, 0, false
	}
	index, err := strconv.ParseUint(c.Param("index"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid token index"})
		return 0, 0, false
	}
	return contractID, index, true
}
