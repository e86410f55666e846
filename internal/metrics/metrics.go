package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is the dedicated registry served at /metrics.
	Registry = prometheus.NewRegistry()

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "route", "status"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "route", "status"},
	)

	// TokenRenewals counts courier token renewals by outcome (ok, error).
	TokenRenewals = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "courier_token_renewals_total", Help: "Courier token renewals by outcome."},
		[]string{"outcome"},
	)
	// Dispatches counts confirm-order attempts by outcome.
	Dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "courier_dispatch_total", Help: "Courier order dispatch attempts by outcome."},
		[]string{"outcome"},
	)
	CourierLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "courier_request_duration_seconds", Help: "Courier API call duration in seconds.", Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15}},
		[]string{"op"},
	)
	StatusSyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "courier_status_syncs_total", Help: "Courier status sync attempts by outcome."},
		[]string{"outcome"},
	)
)

var regOnce sync.Once

// RegisterDefault registers every collector on Registry. Safe to call more than once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(TokenRenewals)
		Registry.MustRegister(Dispatches)
		Registry.MustRegister(CourierLatency)
		Registry.MustRegister(StatusSyncs)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

func Handler() http.Handler {
	RegisterDefault()
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
