package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"deferred-estate/settlement-backend/pkg/security"
)

func setupRouter(t *testing.T) (*gin.Engine, *TokenManager, Service) {
	gin.SetMode(gin.TestMode)
	svc := newTestService(t)
	tokens := NewTokenManager("test-secret", "deferred", time.Hour)
	h := NewHandler(svc, tokens, security.NewValidator(), zap.NewNop())

	r := gin.New()
	api := r.Group("/api/v1")
	h.RegisterPublicRoutes(api)
	protected := api.Group("")
	protected.Use(Middleware(tokens, zap.NewNop()))
	h.RegisterRoutes(protected)
	return r, tokens, svc
}

func TestIssueToken_SignedLogin(t *testing.T) {
	r, tokens, _ := setupRouter(t)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	message := fmt.Sprintf("%s%d", loginPrefix, time.Now().Unix())
	sig, err := security.SignMessage(message, key)
	require.NoError(t, err)

	body, _ := json.Marshal(TokenRequest{Principal: address, Message: message, Signature: sig})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", bytes.NewReader(body))
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	principal, err := tokens.Parse(resp["token"])
	require.NoError(t, err)
	assert.Equal(t, address, principal)
}

func TestIssueToken_StaleMessage(t *testing.T) {
	r, _, _ := setupRouter(t)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	message := fmt.Sprintf("%s%d", loginPrefix, time.Now().Add(-time.Hour).Unix())
	sig, err := security.SignMessage(message, key)
	require.NoError(t, err)

	body, _ := json.Marshal(TokenRequest{Principal: crypto.PubkeyToAddress(key.PublicKey).Hex(), Message: message, Signature: sig})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", bytes.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProtectedRoutes(t *testing.T) {
	r, tokens, svc := setupRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/roles", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := tokens.Issue("admin")
	require.NoError(t, err)
	body, _ := json.Marshal(RoleRequest{Principal: "carol", Role: RoleAgent})
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/roles", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	ok, err := svc.IsAgent(context.Background(), "carol")
	require.NoError(t, err)
	assert.True(t, ok)

	// non custodian is forbidden
	token, err = tokens.Issue("carol")
	require.NoError(t, err)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/roles", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestTokenManager_RejectsForeignSecret(t *testing.T) {
	issued, err := NewTokenManager("one", "deferred", time.Hour).Issue("alice")
	require.NoError(t, err)

	_, err = NewTokenManager("two", "deferred", time.Hour).Parse(issued)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
