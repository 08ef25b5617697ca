package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const callerKey = "caller_principal"

// Middleware authenticates the bearer token and stores the caller principal
func Middleware(tokens *TokenManager, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		principal, err := tokens.Parse(raw)
		if err != nil {
			logger.Debug("Rejected bearer token", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(callerKey, principal)
		c.Next()
	}
}

// CallerFromContext returns the authenticated principal
func CallerFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(callerKey)
	if !ok {
		return "", false
	}
	principal, ok := v.(string)
	return principal, ok && principal != ""
}

// SetCaller is used by tests and by alternative authenticators
func SetCaller(c *gin.Context, principal string) {
	c.Set(callerKey, principal)
}

// RequireCustodian aborts unless the caller holds the custodian role
func RequireCustodian(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := CallerFromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		isCustodian, err := svc.IsCustodian(c.Request.Context(), caller)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !isCustodian {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": ErrUnauthorized.Error()})
			return
		}
		c.Next()
	}
}

// StatusFor maps auth errors to HTTP statuses
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrAgencyNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidRole), errors.Is(err, ErrInvalidPrincipal), errors.Is(err, ErrLastCustodian):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// OptionalMiddleware stores the caller when a valid bearer token is present and
// lets anonymous requests through
func OptionalMiddleware(tokens *TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok && raw != "" {
			if principal, err := tokens.Parse(raw); err == nil {
				c.Set(callerKey, principal)
			}
		}
		c.Next()
	}
}
