// Package metrics exposes Prometheus collectors for the link checker service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	linksVerifiedTotal          *prometheus.CounterVec
	verificationDurationSeconds prometheus.Histogram
	suggestionProbesTotal       *prometheus.CounterVec
	sessionsTotal               *prometheus.CounterVec
	activeSessions              prometheus.Gauge

	once sync.Once
)

// Init registers the collectors with the default registry. Safe to call more
// than once; helpers call it lazily so tests need no setup.
func Init() {
	once.Do(func() {
		linksVerifiedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkmend_links_verified_total",
				Help: "Distinct URLs verified, labeled by status class and outcome.",
			},
			[]string{"class", "ok"},
		)
		verificationDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "linkmend_verification_duration_seconds",
				Help:    "Wall time of a single URL verification including retries.",
				Buckets: prometheus.DefBuckets,
			},
		)
		suggestionProbesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkmend_suggestion_probes_total",
				Help: "Replacement candidates probed, labeled by transformation and outcome.",
			},
			[]string{"transform", "ok"},
		)
		sessionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkmend_sessions_total",
				Help: "Finished sessions, labeled by terminal status.",
			},
			[]string{"status"},
		)
		activeSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "linkmend_active_sessions",
				Help: "Sessions currently pending or processing.",
			},
		)
	})
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveVerification records one completed URL verification.
func ObserveVerification(statusCode int, ok bool, d time.Duration) {
	Init()
	linksVerifiedTotal.WithLabelValues(statusClass(statusCode), strconv.FormatBool(ok)).Inc()
	verificationDurationSeconds.Observe(d.Seconds())
}

// ObserveSuggestionProbe records one candidate probe.
func ObserveSuggestionProbe(transform string, ok bool) {
	Init()
	suggestionProbesTotal.WithLabelValues(transform, strconv.FormatBool(ok)).Inc()
}

// SessionStarted bumps the active session gauge.
func SessionStarted() {
	Init()
	activeSessions.Inc()
}

// SessionFinished records a terminal status and releases the gauge.
func SessionFinished(status string) {
	Init()
	sessionsTotal.WithLabelValues(status).Inc()
	activeSessions.Dec()
}

func statusClass(code int) string {
	switch {
	case code == 0:
		return "none"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
