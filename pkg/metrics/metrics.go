package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cartridge metrics
	CartridgesLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kitbash_cartridges_loaded",
			Help: "Total number of cartridges currently loaded",
		},
	)

	FactsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kitbash_facts_total",
			Help: "Total number of facts by cartridge",
		},
		[]string{"cartridge"},
	)

	GrainsLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kitbash_grains_loaded",
			Help: "Number of crystallised grains currently loaded",
		},
	)

	PhantomsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kitbash_phantoms_total",
			Help: "Total number of tracked phantoms by status",
		},
		[]string{"status"},
	)

	ResonancePatternsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kitbash_resonance_patterns_active",
			Help: "Number of resonance patterns currently above the cleanup threshold",
		},
	)

	HeartbeatTurn = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kitbash_heartbeat_turn",
			Help: "Current heartbeat turn number",
		},
	)

	// Query orchestrator metrics
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kitbash_queries_total",
			Help: "Total number of queries processed by winning engine",
		},
		[]string{"engine"},
	)

	QueryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kitbash_query_duration_seconds",
			Help:    "End-to-end process_query latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .2, .5, 1},
		},
		[]string{"engine"},
	)

	LayerAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kitbash_layer_attempts_total",
			Help: "Total number of per-layer cascade attempts by engine and outcome",
		},
		[]string{"engine", "outcome"},
	)

	LayerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kitbash_layer_duration_seconds",
			Help:    "Per-layer engine latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"engine"},
	)

	// Crystallisation metrics
	GrainsCrystallized = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kitbash_grains_crystallized_total",
			Help: "Total number of grains crystallised from locked phantoms",
		},
	)

	SichermanRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kitbash_sicherman_rejections_total",
			Help: "Total number of phantoms rejected by a Sicherman validation rule",
		},
		[]string{"rule"},
	)

	// Metabolism metrics
	BackgroundCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kitbash_background_cycles_total",
			Help: "Total number of background metabolism cycles by priority and outcome",
		},
		[]string{"priority", "outcome"},
	)

	BackgroundCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kitbash_background_cycle_duration_seconds",
			Help:    "Time taken for a background metabolism cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Coupling / spotlight metrics
	CouplingDeltasTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kitbash_coupling_deltas_total",
			Help: "Total number of coupling deltas recorded by severity",
		},
		[]string{"severity"},
	)

	CouplingValidationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kitbash_coupling_validation_duration_seconds",
			Help:    "Time taken for one coupling validation pass in seconds",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05},
		},
	)

	// HTTP surface metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kitbash_http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kitbash_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(CartridgesLoaded)
	prometheus.MustRegister(FactsTotal)
	prometheus.MustRegister(GrainsLoaded)
	prometheus.MustRegister(PhantomsTotal)
	prometheus.MustRegister(ResonancePatternsActive)
	prometheus.MustRegister(HeartbeatTurn)
	prometheus.MustRegister(QueriesTotal)
	prometheus.MustRegister(QueryLatency)
	prometheus.MustRegister(LayerAttemptsTotal)
	prometheus.MustRegister(LayerLatency)
	prometheus.MustRegister(GrainsCrystallized)
	prometheus.MustRegister(SichermanRejections)
	prometheus.MustRegister(BackgroundCyclesTotal)
	prometheus.MustRegister(BackgroundCycleDuration)
	prometheus.MustRegister(CouplingDeltasTotal)
	prometheus.MustRegister(CouplingValidationDuration)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
