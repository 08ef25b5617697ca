package documents

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"deferred-estate/settlement-backend/internal/auth"
)

func newTestRouter(svc Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if caller := c.GetHeader("X-Test-Caller"); caller != "" {
			auth.SetCaller(c, caller)
		}
	})
	h := NewHandler(svc, zap.NewNop())
	h.RegisterPublicRoutes(r.Group("/api/v1"))
	h.RegisterRoutes(r.Group("/api/v1"))
	return r
}

func multipartBody(t *testing.T, content, access string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "deed.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	if access != "" {
		require.NoError(t, w.WriteField("access_list", access))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestHandlerUploadAndDownload(t *testing.T) {
	svc, _ := newTestService(t)
	r := newTestRouter(svc)

	body, contentType := multipartBody(t, "notary deed", "seller,buyer")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/contracts/1/documents", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Test-Caller", "alice")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var doc struct {
		ID         string   `json:"id"`
		AccessList []string `json:"access_list"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, []string{"seller", "buyer"}, doc.AccessList)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/contracts/1/documents/"+doc.ID, nil)
	req.Header.Set("X-Test-Caller", "alice")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "notary deed", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "deed.pdf")

	req = httptest.NewRequest(http.MethodGet, "/api/v1/contracts/1/documents/"+doc.ID, nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandlerUploadRequiresCaller(t *testing.T) {
	svc, _ := newTestService(t)
	r := newTestRouter(svc)

	body, contentType := multipartBody(t, "deed", "")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/contracts/1/documents", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandlerUnknownDocument(t *testing.T) {
	svc, _ := newTestService(t)
	r := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/contracts/1/documents/missing/url", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
