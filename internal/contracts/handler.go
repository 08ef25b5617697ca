package contracts

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"deferred-estate/settlement-backend/internal/auth"
	"deferred-estate/settlement-backend/internal/ledger"
	"deferred-estate/settlement-backend/pkg/security"
)

// RestrictedReadMessage is the message a caller signs to read restricted properties
// without a bearer token
func RestrictedReadMessage(id uint64) string {
	return "restricted-properties:" + strconv.FormatUint(id, 10)
}

type Handler struct {
	service   Service
	validator security.Validator
	logger    *zap.Logger
}

func NewHandler(service Service, validator security.Validator, logger *zap.Logger) *Handler {
	return &Handler{service: service, validator: validator, logger: logger}
}

// RegisterPublicRoutes registers the read-only routes
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	group := r.Group("/contracts")
	{
		group.GET("", h.listContracts)
		group.GET("/:id", h.getContract)
		group.GET("/:id/tokens", h.listTokens)
		group.GET("/:id/tokens/:index", h.getToken)
		group.GET("/:id/restricted-properties", h.getRestrictedProperties)
	}
}

// RegisterRoutes registers the routes that need an authenticated caller
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	group := r.Group("/contracts")
	{
		group.POST("", h.registerContract)
		group.POST("/:id/resume", h.resumeRegistration)
		group.POST("/:id/close", h.closeContract)
		group.POST("/:id/withdraw-deposit", h.withdrawDeposit)
		group.PUT("/:id/properties", h.updateProperty)
		group.PUT("/:id/restricted-properties", h.updateRestrictedProperty)
	}
}

func (h *Handler) registerContract(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	var req RegisterContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.service.RegisterContract(c.Request.Context(), caller, req)
	if err != nil {
		status := StatusFor(err)
		if status == http.StatusAccepted {
			c.JSON(status, gin.H{"id": id, "status": StatusPending, "error": err.Error()})
			return
		}
		h.respondError(c, "Failed to register contract", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id, "status": StatusActive})
}

func (h *Handler) resumeRegistration(c *gin.Context) {
	id, ok := contractID(c)
	if !ok {
		return
	}
	contract, err := h.service.ResumeRegistration(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "Failed to resume registration", err)
		return
	}
	c.JSON(http.StatusOK, contract)
}

func (h *Handler) listContracts(c *gin.Context) {
	ids, err := h.service.ListContracts(c.Request.Context())
	if err != nil {
		h.respondError(c, "Failed to list contracts", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contracts": ids})
}

func (h *Handler) getContract(c *gin.Context) {
	id, ok := contractID(c)
	if !ok {
		return
	}
	contract, err := h.service.GetContract(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "Failed to get contract", err)
		return
	}
	c.JSON(http.StatusOK, contract)
}

func (h *Handler) listTokens(c *gin.Context) {
	id, ok := contractID(c)
	if !ok {
		return
	}
	tokens, err := h.service.ListTokens(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "Failed to list tokens", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

func (h *Handler) getToken(c *gin.Context) {
	id, ok := contractID(c)
	if !ok {
		return
	}
	index, err := strconv.ParseUint(c.Param("index"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid token index"})
		return
	}
	token, err := h.service.GetToken(c.Request.Context(), id, index)
	if err != nil {
		h.respondError(c, "Failed to get token", err)
		return
	}
	c.JSON(http.StatusOK, token)
}

func (h *Handler) closeContract(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	id, ok := contractID(c)
	if !ok {
		return
	}
	contract, err := h.service.CloseContract(c.Request.Context(), caller, id)
	if err != nil {
		h.respondError(c, "Failed to close contract", err)
		return
	}
	c.JSON(http.StatusOK, contract)
}

func (h *Handler) withdrawDeposit(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	id, ok := contractID(c)
	if !ok {
		return
	}
	var req WithdrawDepositRequest
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

	movement, err := h.service.WithdrawDepositShare(c.Request.Context(), caller, id, subaccount)
	if err != nil {
		h.respondError(c, "Failed to withdraw deposit share", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"amount": movement.Sent(), "tx_id": movement.TxID})
}

func (h *Handler) updateProperty(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	id, ok := contractID(c)
	if !ok {
		return
	}
	var req UpdatePropertyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	contract, err := h.service.UpdateContractProperty(c.Request.Context(), caller, id, req)
	if err != nil {
		h.respondError(c, "Failed to update property", err)
		return
	}
	c.JSON(http.StatusOK, contract)
}

func (h *Handler) updateRestrictedProperty(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	id, ok := contractID(c)
	if !ok {
		return
	}
	var req UpdateRestrictedPropertyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := h.service.UpdateRestrictedContractProperty(c.Request.Context(), caller, id, req); err != nil {
		h.respondError(c, "Failed to update restricted property", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": req.Key})
}

// getRestrictedProperties identifies the caller by bearer token, or by the signer
// and signature query parameters over RestrictedReadMessage
func (h *Handler) getRestrictedProperties(c *gin.Context) {
	id, ok := contractID(c)
	if !ok {
		return
	}

	caller, authenticated := auth.CallerFromContext(c)
	if !authenticated {
		signer := c.Query("signer")
		signature := c.Query("signature")
		if signer == "" || signature == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "bearer token or signature required"})
			return
		}
		valid, err := h.validator.Verify(RestrictedReadMessage(id), signature, signer)
		if err != nil || !valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "signature does not match signer"})
			return
		}
		caller = signer
	}

	properties, err := h.service.GetRestrictedContractProperties(c.Request.Context(), caller, id)
	if err != nil {
		h.respondError(c, "Failed to get restricted properties", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"properties": properties})
}

func (h *Handler) respondError(c *gin.Context, msg string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func requireCaller(c *gin.Context) (string, bool) {
	caller, ok := auth.CallerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
	}
	return caller, ok
}

func contractID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid contract id"})
		return 0, false
	}
	return id, true
}
