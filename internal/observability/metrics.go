package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/umredir/umredir/internal/logging"
)

// Pass results.
const (
	ResultApplied     = "applied"
	ResultCleared     = "cleared"
	ResultUnavailable = "storage_unavailable"
	ResultRejected    = "rejected"
	ResultFailed      = "failed"
)

type Metrics struct {
	syncPassesTotal       *prometheus.CounterVec
	syncDuration          prometheus.Histogram
	rulesInstalled        prometheus.Gauge
	engineRejectionsTotal prometheus.Counter
	redirectsTotal        *prometheus.CounterVec
	requestsTotal         *prometheus.CounterVec
	requestDuration       *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		syncPassesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "umredir_sync_passes_total", Help: "Total synchronization passes"},
			[]string{"trigger", "result"},
		),
		syncDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "umredir_sync_duration_seconds",
				Help:    "Synchronization pass duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		rulesInstalled: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "umredir_rules_installed", Help: "Rules installed after the last pass"},
		),
		engineRejectionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "umredir_engine_rejections_total", Help: "Rule batches refused by the engine"},
		),
		redirectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "umredir_redirects_total", Help: "Total redirected requests"},
			[]string{"rule_id", "surface"},
		),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "umredir_requests_total", Help: "Total requests seen by an enforcement surface"},
			[]string{"surface", "action", "code"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "umredir_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"surface"},
		),
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.syncPassesTotal,
		m.syncDuration,
		m.rulesInstalled,
		m.engineRejectionsTotal,
		m.redirectsTotal,
		m.requestsTotal,
		m.requestDuration,
	)

	return m
}

func (m *Metrics) Handler(reg *prometheus.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// ObservePass records one synchronization pass. installed is the number of
// rules left in the engine, or -1 when unknown.
func (m *Metrics) ObservePass(trigger, result string, installed int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.syncPassesTotal.WithLabelValues(trigger, result).Inc()
	m.syncDuration.Observe(elapsed.Seconds())
	if installed >= 0 {
		m.rulesInstalled.Set(float64(installed))
	}
	if result == ResultRejected {
		m.engineRejectionsTotal.Inc()
	}
}

func (m *Metrics) ObserveDecision(decision logging.Decision) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(decision.Surface, decision.Action, intToString(decision.StatusCode)).Inc()
	m.requestDuration.WithLabelValues(decision.Surface).Observe((time.Duration(decision.DurationMS) * time.Millisecond).Seconds())
	if decision.Action == logging.ActionRedirect {
		m.redirectsTotal.WithLabelValues(intToString(decision.RuleID), decision.Surface).Inc()
	}
}

func intToString(code int) string {
	if code == 0 {
		return "0"
	}
	return strconv.Itoa(code)
}
