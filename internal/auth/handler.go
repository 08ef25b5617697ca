package auth

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"deferred-estate/settlement-backend/pkg/security"
)

const loginPrefix = "deferred-login:"

// maxLoginSkew bounds the age of a signed login message
const maxLoginSkew = 5 * time.Minute

type Handler struct {
	service   Service
	tokens    *TokenManager
	validator security.Validator
	logger    *zap.Logger
	now       func() time.Time
}

func NewHandler(service Service, tokens *TokenManager, validator security.Validator, logger *zap.Logger) *Handler {
	return &Handler{
		service:   service,
		tokens:    tokens,
		validator: validator,
		logger:    logger,
		now:       time.Now,
	}
}

// RegisterPublicRoutes registers routes reachable without a bearer token
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.POST("/auth/token", h.issueToken)
	r.GET("/agencies/:wallet", h.getAgency)
}

// RegisterRoutes registers role and agency administration
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/auth/me", h.me)
	r.POST("/roles", h.setRole)
	r.DELETE("/roles", h.removeRole)
	r.POST("/agencies", h.registerAgency)
	r.DELETE("/agencies/:wallet", h.removeAgency)
}

// issueToken exchanges a signed "deferred-login:<unix seconds>" message for a bearer token
func (h *Handler) issueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ts, ok := strings.CutPrefix(req.Message, loginPrefix)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message must start with " + loginPrefix})
		return
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid login timestamp"})
		return
	}
	if skew := h.now().Sub(time.Unix(unix, 0)); skew > maxLoginSkew || skew < -maxLoginSkew {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "login message expired"})
		return
	}

	valid, err := h.validator.Verify(req.Message, req.Signature, req.Principal)
	if err != nil || !valid {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "signature does not match principal"})
		return
	}

	token, err := h.tokens.Issue(req.Principal)
	if err != nil {
		h.logger.Error("Failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "principal": req.Principal})
}

func (h *Handler) me(c *gin.Context) {
	caller, _ := CallerFromContext(c)
	ctx := c.Request.Context()

	roles := []Role{}
	if ok, err := h.service.IsCustodian(ctx, caller); err == nil && ok {
		roles = append(roles, RoleCustodian)
	}
	if ok, err := h.service.IsAgent(ctx, caller); err == nil && ok {
		roles = append(roles, RoleAgent)
	}
	c.JSON(http.StatusOK, gin.H{"principal": caller, "roles": roles})
}

func (h *Handler) setRole(c *gin.Context) {
	var req RoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	caller, _ := CallerFromContext(c)
	if err := h.service.SetRole(c.Request.Context(), caller, req.Principal, req.Role); err != nil {
		c.JSON(StatusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "granted"})
}

func (h *Handler) removeRole(c *gin.Context) {
	var req RoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	caller, _ := CallerFromContext(c)
	if err := h.service.RemoveRole(c.Request.Context(), caller, req.Principal, req.Role); err != nil {
		c.JSON(StatusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

func (h *Handler) registerAgency(c *gin.Context) {
	var req RegisterAgencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	caller, _ := CallerFromContext(c)
	if err := h.service.RegisterAgency(c.Request.Context(), caller, req.Wallet, req.Agency); err != nil {
		h.logger.Warn("Failed to register agency", zap.String("wallet", req.Wallet), zap.Error(err))
		c.JSON(StatusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"wallet": req.Wallet})
}

func (h *Handler) removeAgency(c *gin.Context) {
	caller, _ := CallerFromContext(c)
	if err := h.service.RemoveAgency(c.Request.Context(), caller, c.Param("wallet")); err != nil {
		c.JSON(StatusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

func (h *Handler) getAgency(c *gin.Context) {
	agency, err := h.service.GetAgency(c.Request.Context(), c.Param("wallet"))
	if err != nil {
		c.JSON(StatusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, agency)
}
