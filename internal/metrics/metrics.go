package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bridge_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	eventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_events_received_total",
			Help: "Host events received by type",
		},
		[]string{"type"},
	)

	messagesEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_messages_enqueued_total",
			Help: "Webhook messages written to the durable queue",
		},
	)

	deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_deliveries_total",
			Help: "Delivery attempts by kind (create_thread, post) and outcome",
		},
		[]string{"kind", "outcome"},
	)

	deliveryRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_delivery_retries_total",
			Help: "Failed deliveries scheduled for another attempt",
		},
	)

	messagesDiscarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_messages_discarded_total",
			Help: "Messages dropped after exhausting retries",
		},
	)

	threadsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_threads_created_total",
			Help: "Discord threads created for sessions",
		},
	)

	rateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_rate_limited_total",
			Help: "Webhook responses with status 429",
		},
	)

	webhookDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bridge_webhook_request_duration_seconds",
			Help:    "Discord webhook call latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"status"},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_queue_depth",
			Help: "Pending rows in the durable queue",
		},
	)

	alertsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_alerts_sent_total",
			Help: "User-facing alerts dispatched by variant",
		},
		[]string{"variant"},
	)

	alertsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_alerts_suppressed_total",
			Help: "Alerts skipped because their key was cooling down",
		},
	)

	rateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_ingest_rate_limit_rejections_total",
			Help: "Ingest requests rejected by the rate limiter",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func RecordEventReceived(eventType string) {
	eventsReceived.WithLabelValues(eventType).Inc()
}

func RecordMessageEnqueued() {
	messagesEnqueued.Inc()
}

// RecordDelivery records one worker delivery attempt.
func RecordDelivery(kind, outcome string) {
	deliveries.WithLabelValues(kind, outcome).Inc()
}

func RecordRetry() {
	deliveryRetries.Inc()
}

func RecordDiscard() {
	messagesDiscarded.Inc()
}

func RecordThreadCreated() {
	threadsCreated.Inc()
}

func RecordRateLimited() {
	rateLimited.Inc()
}

// RecordWebhookCall records the latency of one HTTP call to Discord.
// status is 0 for network errors.
func RecordWebhookCall(status int, duration time.Duration) {
	webhookDuration.WithLabelValues(strconv.Itoa(status)).Observe(duration.Seconds())
}

func SetQueueDepth(count int) {
	queueDepth.Set(float64(count))
}

func RecordAlert(variant string) {
	alertsSent.WithLabelValues(variant).Inc()
}

func RecordAlertSuppressed() {
	alertsSuppressed.Inc()
}

func RecordRateLimitRejection() {
	rateLimitRejections.Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
