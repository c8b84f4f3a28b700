package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	CatalogRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_requests_total",
			Help: "Total catalog API requests by outcome status",
		},
		[]string{"status"},
	)
	CatalogRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_request_duration_seconds",
			Help:    "Catalog API request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"status"},
	)

	ItemsFoundTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "items_found_total",
			Help: "Total candidate items received from scan workers",
		},
	)
	ItemsPersistedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "items_persisted_total",
			Help: "Total new items persisted by the ingestion pipeline",
		},
	)
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Total notifier deliveries by result",
		},
		[]string{"result"},
	)

	SessionRotationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_rotations_total",
			Help: "Total token session rotations by reason",
		},
		[]string{"reason"},
	)
	SessionsValid = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessions_valid",
			Help: "Number of currently valid token sessions in the pool",
		},
	)
	ProxiesHealthy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "proxies_healthy",
			Help: "Number of proxies in the healthy set",
		},
	)
	WorkersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "workers_active",
			Help: "Number of running query workers",
		},
	)

	GovernorErrors = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "governor_errors",
			Help: "Current restart governor error counters by status",
		},
		[]string{"status"},
	)
	RedeploysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redeploys_total",
			Help: "Total restart actions triggered by the governor, by action",
		},
		[]string{"action"},
	)
)

// InitMetrics registers all collectors once per process.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(CatalogRequestsTotal)
	prometheus.MustRegister(CatalogRequestDuration)
	prometheus.MustRegister(ItemsFoundTotal)
	prometheus.MustRegister(ItemsPersistedTotal)
	prometheus.MustRegister(NotificationsTotal)
	prometheus.MustRegister(SessionRotationsTotal)
	prometheus.MustRegister(SessionsValid)
	prometheus.MustRegister(ProxiesHealthy)
	prometheus.MustRegister(WorkersActive)
	prometheus.MustRegister(GovernorErrors)
	prometheus.MustRegister(RedeploysTotal)
}

// ObserveCatalogRequest records one catalog call. Status 0 means transport
// failure before any response.
func ObserveCatalogRequest(status int, dur time.Duration) {
	label := "transport_error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	CatalogRequestsTotal.WithLabelValues(label).Inc()
	CatalogRequestDuration.WithLabelValues(label).Observe(dur.Seconds())
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}
