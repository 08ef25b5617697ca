package rewards

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"deferred-estate/settlement-backend/internal/auth"
	"deferred-estate/settlement-backend/internal/ledger"
)

type Handler struct {
	service Service
	logger  *zap.Logger
}

func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	group := r.Group("/rewards")
	{
		group.GET("/liquidity", h.getLiquidity)
		group.GET("/pools/:contract_id", h.getPool)
		group.POST("/pools/:contract_id/reserve", h.reservePool)
	}
}

func (h *Handler) getLiquidity(c *gin.Context) {
	available, err := h.service.AvailableLiquidity(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": available})
}

func (h *Handler) getPool(c *gin.Context) {
	contractID, err := strconv.ParseUint(c.Param("contract_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid contract id"})
		return
	}

	balance, err := h.service.BalanceOf(c.Request.Context(), contractID)
	if err != nil {
		if errors.Is(err, ErrPoolNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"contract_id": contractID, "balance": balance})
}

// reservePool tops up a contract pool from the caller's allowance
func (h *Handler) reservePool(c *gin.Context) {
	contractID, err := strconv.ParseUint(c.Param("contract_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid contract id"})
		return
	}
	var req ReservePoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	caller, ok := auth.CallerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	account := ledger.NewAccount(caller)
	if req.Subaccount != "" {
		var sub ledger.Subaccount
		if err := sub.UnmarshalText([]byte(req.Subaccount)); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		account = ledger.WithSubaccount(caller, sub)
	}

	balance, err := h.service.ReservePool(c.Request.Context(), contractID, account, req.Amount)
	if err != nil {
		h.logger.Error("Failed to top up reward pool", zap.Uint64("contract_id", contractID), zap.Error(err))
		switch {
		case errors.Is(err, ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			var transferErr *ledger.TransferError
			if errors.As(err, &transferErr) {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"contract_id": contractID, "balance": balance})
}
