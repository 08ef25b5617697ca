package liquidity

import (
	"errors"
	"net/http"

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
	group := r.Group("/liquidity")
	{
		group.GET("/balance", h.getBalance)
		group.GET("/refunds/:principal", h.getRefund)
		group.POST("/refunds/withdraw", h.withdrawRefund)
	}
}

func (h *Handler) getBalance(c *gin.Context) {
	balance, err := h.service.Balance(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	free, err := h.service.FreeBalance(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance, "free": free})
}

func (h *Handler) getRefund(c *gin.Context) {
	amount, err := h.service.GetRefund(c.Request.Context(), c.Param("principal"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"principal": c.Param("principal"), "amount": amount})
}

func (h *Handler) withdrawRefund(c *gin.Context) {
	caller, ok := auth.CallerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var req WithdrawRefundRequest
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

	amount, err := h.service.WithdrawRefund(c.Request.Context(), caller, subaccount)
	if err != nil {
		if errors.Is(err, ErrNothingToWithdraw) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to withdraw refund", zap.String("owner", caller), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"amount": amount})
}
