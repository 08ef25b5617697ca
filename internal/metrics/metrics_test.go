package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettlementMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := InitMetrics(registry).(*settlementMetrics)

	m.IncContractsRegistered("sell")
	m.IncContractsRegistered("sell")
	m.IncTokensSold()
	m.AddRewardsPaid(500)
	m.ObserveSaga("buy_token", "ok", time.Now())

	assert.Equal(t, float64(2), testutil.ToFloat64(m.contractsRegistered.WithLabelValues("sell")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.tokensSold))
	assert.Equal(t, float64(500), testutil.ToFloat64(m.rewardsPaid))
}

func TestHandlerServesRegistry(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()
	InitMetrics(registry).IncContractsClosed()

	r := gin.New()
	r.Use(HTTPMiddleware(registry))
	r.GET("/metrics", Handler(registry))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "deferred_contracts_closed_total 1")
}
