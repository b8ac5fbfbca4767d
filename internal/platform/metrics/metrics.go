package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sweeps holds the collectors exported by the sweeps service. A nil *Sweeps is
// valid and records nothing.
type Sweeps struct {
	registry *prometheus.Registry

	trials       *prometheus.GaugeVec
	finished     *prometheus.CounterVec
	phases       *prometheus.GaugeVec
	requests     *prometheus.CounterVec
	storeErrors  prometheus.Counter
	pending      prometheus.Gauge
	tickDuration prometheus.Histogram
	httpDuration *prometheus.HistogramVec
}

func NewSweeps() *Sweeps {
	m := &Sweeps{
		registry: prometheus.NewRegistry(),
		trials: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hpo_sweep_trials",
			Help: "Number of trials per sweep and state",
		}, []string{"sweep", "state"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hpo_trials_finished_total",
			Help: "Total number of trials that reached a terminal state",
		}, []string{"state"}),
		phases: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hpo_sweeps",
			Help: "Number of sweeps per phase",
		}, []string{"phase"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hpo_sweep_requests_total",
			Help: "Total number of sweep create requests per outcome",
		}, []string{"outcome"}),
		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hpo_trial_store_errors_total",
			Help: "Total number of failed trial record inserts",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hpo_trial_records_pending",
			Help: "Terminal trial records waiting to be persisted",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hpo_tick_duration_seconds",
			Help:    "Duration of one scheduler tick across all sweeps",
			Buckets: prometheus.DefBuckets,
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hpo_http_request_duration_seconds",
			Help:    "Duration of HTTP requests served by the sweeps API",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"method", "code"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.trials,
		m.finished,
		m.phases,
		m.requests,
		m.storeErrors,
		m.pending,
		m.tickDuration,
		m.httpDuration,
	)
	return m
}

func (m *Sweeps) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Sweeps) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Sweeps) SetTrials(sweepID string, counts map[string]int) {
	if m == nil {
		return
	}
	for state, n := range counts {
		m.trials.WithLabelValues(sweepID, state).Set(float64(n))
	}
}

// ForgetSweep drops the per-sweep series of a removed sweep.
func (m *Sweeps) ForgetSweep(sweepID string) {
	if m == nil {
		return
	}
	m.trials.DeletePartialMatch(prometheus.Labels{"sweep": sweepID})
}

func (m *Sweeps) TrialFinished(state string) {
	if m == nil {
		return
	}
	m.finished.WithLabelValues(state).Inc()
}

func (m *Sweeps) SetPhases(counts map[string]int) {
	if m == nil {
		return
	}
	m.phases.Reset()
	for phase, n := range counts {
		m.phases.WithLabelValues(phase).Set(float64(n))
	}
}

func (m *Sweeps) Request(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}

func (m *Sweeps) StoreError() {
	if m == nil {
		return
	}
	m.storeErrors.Inc()
}

func (m *Sweeps) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *Sweeps) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(d.Seconds())
}

// ObserveHTTP matches httpserver.ObserveFunc.
func (m *Sweeps) ObserveHTTP(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
