package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentsMetrics tracks ledger activity across the payment lifecycle.
type PaymentsMetrics struct {
	payments      *prometheus.CounterVec
	failures      *prometheus.CounterVec
	disputes      *prometheus.CounterVec
	withdrawals   *prometheus.CounterVec
	subscriptions prometheus.Counter
	keeperCharged prometheus.Counter
}

// OracleMetrics tracks price resolutions segmented by the source that
// ultimately answered.
type OracleMetrics struct {
	resolutions *prometheus.CounterVec
	failures    *prometheus.CounterVec
	fallbackAge prometheus.Gauge
}

// GatewayMetrics tracks the REST surface.
type GatewayMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	paymentsMetricsOnce sync.Once
	paymentsRegistry    *PaymentsMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics

	gatewayMetricsOnce sync.Once
	gatewayRegistry    *GatewayMetrics
)

// Payments returns the lazily-initialised payments metrics registry.
func Payments() *PaymentsMetrics {
	paymentsMetricsOnce.Do(func() {
		paymentsRegistry = &PaymentsMetrics{
			payments: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "scrollpay",
				Subsystem: "payments",
				Name:      "processed_total",
				Help:      "Total settled payments segmented by funding path.",
			}, []string{"path"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "scrollpay",
				Subsystem: "payments",
				Name:      "failures_total",
				Help:      "Total rejected ledger operations segmented by operation.",
			}, []string{"op"}),
			disputes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "scrollpay",
				Subsystem: "payments",
				Name:      "disputes_total",
				Help:      "Dispute lifecycle transitions segmented by action.",
			}, []string{"action"}),
			withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "scrollpay",
				Subsystem: "payments",
				Name:      "withdrawals_total",
				Help:      "Withdrawal lifecycle transitions segmented by action.",
			}, []string{"action"}),
			subscriptions: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "scrollpay",
				Subsystem: "payments",
				Name:      "subscriptions_created_total",
				Help:      "Total subscriptions registered.",
			}),
			keeperCharged: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "scrollpay",
				Subsystem: "payments",
				Name:      "subscription_charges_total",
				Help:      "Total recurring charges settled by the keeper.",
			}),
		}
		prometheus.MustRegister(
			paymentsRegistry.payments,
			paymentsRegistry.failures,
			paymentsRegistry.disputes,
			paymentsRegistry.withdrawals,
			paymentsRegistry.subscriptions,
			paymentsRegistry.keeperCharged,
		)
	})
	return paymentsRegistry
}

// RecordPayment counts a settled payment on the given funding path, either
// "token" or "native".
func (m *PaymentsMetrics) RecordPayment(path string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(path).Inc()
}

// RecordFailure counts a rejected ledger operation.
func (m *PaymentsMetrics) RecordFailure(op string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(op).Inc()
}

// RecordDispute counts a dispute transition, "raised" or "resolved".
func (m *PaymentsMetrics) RecordDispute(action string) {
	if m == nil {
		return
	}
	m.disputes.WithLabelValues(action).Inc()
}

// RecordWithdrawal counts a withdrawal transition, "requested" or "completed".
func (m *PaymentsMetrics) RecordWithdrawal(action string) {
	if m == nil {
		return
	}
	m.withdrawals.WithLabelValues(action).Inc()
}

// RecordSubscription counts a new subscription.
func (m *PaymentsMetrics) RecordSubscription() {
	if m == nil {
		return
	}
	m.subscriptions.Inc()
}

// RecordKeeperCharges counts recurring charges settled in a keeper sweep.
func (m *PaymentsMetrics) RecordKeeperCharges(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.keeperCharged.Add(float64(count))
}

// Oracle returns the lazily-initialised oracle metrics registry.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "scrollpay",
				Subsystem: "oracle",
				Name:      "resolutions_total",
				Help:      "Successful price resolutions segmented by answering source.",
			}, []string{"source"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "scrollpay",
				Subsystem: "oracle",
				Name:      "failures_total",
				Help:      "Failed price resolutions segmented by reason.",
			}, []string{"reason"}),
			fallbackAge: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "scrollpay",
				Subsystem: "oracle",
				Name:      "fallback_age_seconds",
				Help:      "Seconds since the fallback price was last updated.",
			}),
		}
		prometheus.MustRegister(
			oracleRegistry.resolutions,
			oracleRegistry.failures,
			oracleRegistry.fallbackAge,
		)
	})
	return oracleRegistry
}

// RecordResolution counts a successful resolution answered by "feed" or
// "fallback".
func (m *OracleMetrics) RecordResolution(source string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(source).Inc()
}

// RecordFailure counts a failed resolution by reason.
func (m *OracleMetrics) RecordFailure(reason string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(reason).Inc()
}

// SetFallbackAge publishes how long ago the fallback price was refreshed.
func (m *OracleMetrics) SetFallbackAge(age time.Duration) {
	if m == nil {
		return
	}
	m.fallbackAge.Set(age.Seconds())
}

// Gateway returns the lazily-initialised gateway metrics registry.
func Gateway() *GatewayMetrics {
	gatewayMetricsOnce.Do(func() {
		gatewayRegistry = &GatewayMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "scrollpay",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Total gateway requests segmented by route and status.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "scrollpay",
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for gateway handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
		}
		prometheus.MustRegister(gatewayRegistry.requests, gatewayRegistry.latency)
	})
	return gatewayRegistry
}

// Observe records a completed gateway request.
func (m *GatewayMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.requests.WithLabelValues(route, statusLabel(status)).Inc()
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
