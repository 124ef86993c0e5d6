package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scrap_layer"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	fulfillments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "industry",
			Name:      "fulfillments_total",
			Help:      "Requirement fulfillment attempts by result.",
		},
		[]string{"result"},
	)

	fulfilledKg = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "industry",
			Name:      "fulfilled_kg_total",
			Help:      "Kilograms delivered against industry requirements.",
		},
	)

	paymentTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "industry",
			Name:      "payment_tasks_total",
			Help:      "Payment task settlement attempts by outcome.",
		},
		[]string{"outcome"},
	)

	purchases = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketplace",
			Name:      "purchases_total",
			Help:      "Completed product purchases by payment method.",
		},
		[]string{"paid_with"},
	)

	pickups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pickup",
			Name:      "transitions_total",
			Help:      "Pickup request state transitions.",
		},
		[]string{"transition"},
	)

	coinsMoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coins",
			Name:      "moved_total",
			Help:      "Absolute Scrap Coins moved, by ledger type.",
		},
		[]string{"type"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		fulfillments,
		fulfilledKg,
		paymentTasks,
		purchases,
		pickups,
		coinsMoved,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		RecordHTTPRequest(r.Method, canonicalPath(r.URL.Path), rec.status, time.Since(start))
	})
}

// RecordHTTPRequest records one served request under a route template.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	method = strings.ToUpper(method)
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordFulfillment records a fulfillment attempt; kg is zero on failure.
func RecordFulfillment(result string, kg float64) {
	fulfillments.WithLabelValues(result).Inc()
	if kg > 0 {
		fulfilledKg.Add(kg)
	}
}

// RecordPaymentTask records one settlement attempt outcome.
func RecordPaymentTask(outcome string) {
	paymentTasks.WithLabelValues(outcome).Inc()
}

// RecordPurchase records a completed purchase.
func RecordPurchase(paidWith string) {
	purchases.WithLabelValues(paidWith).Inc()
}

// RecordPickup records a pickup transition ("accepted", "completed").
func RecordPickup(transition string) {
	pickups.WithLabelValues(transition).Inc()
}

// RecordCoins records coins moved under a ledger type.
func RecordCoins(ledgerType string, amount int64) {
	if amount < 0 {
		amount = -amount
	}
	if amount == 0 {
		return
	}
	coinsMoved.WithLabelValues(ledgerType).Add(float64(amount))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses ids so label cardinality stays bounded:
// /industry/requirements/abc/fulfill becomes /industry/requirements/:id/fulfill.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	for i, p := range parts {
		if i > 0 && looksLikeID(p) {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func looksLikeID(segment string) bool {
	if len(segment) >= 16 && strings.Count(segment, "-") >= 2 {
		return true
	}
	if _, err := strconv.ParseInt(segment, 10, 64); err == nil {
		return true
	}
	return false
}
