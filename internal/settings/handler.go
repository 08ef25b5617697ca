package settings

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"deferred-estate/settlement-backend/internal/auth"
)

type Handler struct {
	service Service
	logger  *zap.Logger
}

func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterPublicRoutes exposes the read side of the settings
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.GET("/settings/currencies", h.getCurrencies)
	r.GET("/settings/interest-rate", h.getInterestRate)
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.PUT("/settings/currencies", h.setCurrencies)
	r.PUT("/settings/interest-rate", h.setInterestRate)
}

func (h *Handler) getCurrencies(c *gin.Context) {
	currencies, err := h.service.AllowedCurrencies(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"currencies": currencies})
}

func (h *Handler) setCurrencies(c *gin.Context) {
	caller, ok := auth.CallerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	var req SetCurrenciesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	currencies, err := h.service.SetAllowedCurrencies(c.Request.Context(), caller, req.Currencies)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"currencies": currencies})
}

func (h *Handler) getInterestRate(c *gin.Context) {
	rate, err := h.service.InterestRate(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rate": rate.String()})
}

func (h *Handler) setInterestRate(c *gin.Context) {
	caller, ok := auth.CallerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	var req SetInterestRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rate, err := decimal.NewFromString(req.Rate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.SetInterestRate(c.Request.Context(), caller, rate); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rate": rate.String()})
}

func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, ErrInvalidCurrency), errors.Is(err, ErrNoCurrencies), errors.Is(err, ErrInvalidInterestRate):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Failed to update settings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
