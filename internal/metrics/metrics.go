package metrics

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "deferred"

// SettlementMetrics records the outcome of the settlement sagas
type SettlementMetrics interface {
	IncContractsRegistered(kind string)
	IncRegistrationFailures(stage string)
	IncTokensSold()
	AddRewardsPaid(amount uint64)
	IncContractsClosed()
	AddRefundsCredited(amount uint64)
	AddDepositDistributed(amount uint64)
	ObserveSaga(operation, result string, started time.Time)
	SetPendingRegistrations(n int)
}

type settlementMetrics struct {
	contractsRegistered  *prometheus.CounterVec
	registrationFailures *prometheus.CounterVec
	tokensSold           prometheus.Counter
	rewardsPaid          prometheus.Counter
	contractsClosed      prometheus.Counter
	refundsCredited      prometheus.Counter
	depositDistributed   prometheus.Counter
	sagaDuration         *prometheus.HistogramVec
	pendingRegistrations prometheus.Gauge
}

func InitMetrics(registry prometheus.Registerer) SettlementMetrics {
	m := &settlementMetrics{
		contractsRegistered: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace,
			Name: "contracts_registered_total", Help: "Contracts activated for sale"}, []string{"kind"}),
		registrationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace,
			Name: "registration_failures_total", Help: "Registration saga failures by stage"}, []string{"stage"}),
		tokensSold: prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace,
			Name: "tokens_sold_total", Help: "Installment tokens sold"}),
		rewardsPaid: prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace,
			Name: "rewards_paid_e8s_total", Help: "Reward tokens paid to buyers"}),
		contractsClosed: prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace,
			Name: "contracts_closed_total", Help: "Contracts closed after expiration"}),
		refundsCredited: prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace,
			Name: "refunds_credited_e8s_total", Help: "Deposit refunds credited to buyers"}),
		depositDistributed: prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace,
			Name: "deposit_distributed_e8s_total", Help: "Deposit shares sent to sellers"}),
		sagaDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace,
			Name: "saga_duration_seconds", Help: "Duration of settlement operations",
			Buckets: prometheus.DefBuckets}, []string{"operation", "result"}),
		pendingRegistrations: prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace,
			Name: "pending_registrations", Help: "Contracts waiting for registration to complete"}),
	}

	registry.MustRegister(
		m.contractsRegistered,
		m.registrationFailures,
		m.tokensSold,
		m.rewardsPaid,
		m.contractsClosed,
		m.refundsCredited,
		m.depositDistributed,
		m.sagaDuration,
		m.pendingRegistrations,
	)
	return m
}

func (m *settlementMetrics) IncContractsRegistered(kind string) {
	m.contractsRegistered.WithLabelValues(kind).Inc()
}

func (m *settlementMetrics) IncRegistrationFailures(stage string) {
	m.registrationFailures.WithLabelValues(stage).Inc()
}

func (m *settlementMetrics) IncTokensSold() {
	m.tokensSold.Inc()
}

func (m *settlementMetrics) AddRewardsPaid(amount uint64) {
	m.rewardsPaid.Add(float64(amount))
}

func (m *settlementMetrics) IncContractsClosed() {
	m.contractsClosed.Inc()
}

func (m *settlementMetrics) AddRefundsCredited(amount uint64) {
	m.refundsCredited.Add(float64(amount))
}

func (m *settlementMetrics) AddDepositDistributed(amount uint64) {
	m.depositDistributed.Add(float64(amount))
}

func (m *settlementMetrics) ObserveSaga(operation, result string, started time.Time) {
	m.sagaDuration.WithLabelValues(operation, result).Observe(time.Since(started).Seconds())
}

func (m *settlementMetrics) SetPendingRegistrations(n int) {
	m.pendingRegistrations.Set(float64(n))
}

// Handler exposes the registry on /metrics
func Handler(registry *prometheus.Registry) gin.HandlerFunc {
	h := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}

// HTTPMiddleware counts requests by route and status
func HTTPMiddleware(registry prometheus.Registerer) gin.HandlerFunc {
	requests := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace,
		Name: "http_request_duration_seconds", Help: "HTTP request latency",
		Buckets: prometheus.DefBuckets}, []string{"method", "route", "status"})
	registry.MustRegister(requests)

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		requests.WithLabelValues(c.Request.Method, route, http.StatusText(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
