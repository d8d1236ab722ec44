// File: internal/metrics/metrics.go
// Package metrics exports navigation counters to Prometheus. A nil
// *Recorder is valid and records nothing, so components never need to
// check whether metrics are enabled.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xkilldash9x/autoapply/api/schemas"
)

// Oracle call results.
const (
	OracleOK          = "ok"
	OracleMalformed   = "malformed"
	OracleUnreachable = "unreachable"
	OracleSynthetic   = "synthetic"
)

// Recorder holds the collectors.
type Recorder struct {
	obstacles         *prometheus.CounterVec
	outcomes          *prometheus.CounterVec
	iterations        prometheus.Histogram
	attemptDuration   prometheus.Histogram
	oracleCalls       *prometheus.CounterVec
	candidateAttempts *prometheus.CounterVec
	fastPath          prometheus.Counter
	strategyRetries   prometheus.Counter
	restarts          prometheus.Counter
	active            prometheus.Gauge
}

// New registers the collectors on reg under namespace.
func New(namespace string, reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	r := &Recorder{
		obstacles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "obstacles_total",
			Help:      "Obstacle labels emitted by the classifier.",
		}, []string{"label"}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "application_outcomes_total",
			Help:      "Finished application attempts by result and reason.",
		}, []string{"result", "reason"}),
		iterations: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_iterations",
			Help:      "Loop iterations spent per application attempt.",
			Buckets:   prometheus.LinearBuckets(1, 2, 10),
		}),
		attemptDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_duration_seconds",
			Help:      "Wall-clock time per application attempt.",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 8),
		}),
		oracleCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_calls_total",
			Help:      "Page oracle requests by result.",
		}, []string{"result"}),
		candidateAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidate_attempts_total",
			Help:      "Locator candidates tried by the executor, by failure reason.",
		}, []string{"reason"}),
		fastPath: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_fast_path_total",
			Help:      "Iterations that reused a remembered action instead of asking the oracle.",
		}),
		strategyRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strategy_retries_total",
			Help:      "Oracle re-asks after every candidate of a proposal failed.",
		}),
		restarts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_restarts_total",
			Help:      "Fresh browser sessions opened after a terminal failure.",
		}),
		active: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_attempts",
			Help:      "Application attempts currently running.",
		}),
	}
	for _, l := range schemas.AllObstacleLabels {
		r.obstacles.WithLabelValues(string(l))
	}
	return r
}

// Handler serves the gathered metrics.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (r *Recorder) Obstacle(label schemas.ObstacleLabel) {
	if r == nil {
		return
	}
	r.obstacles.WithLabelValues(string(label)).Inc()
}

func (r *Recorder) Outcome(o *schemas.ApplicationOutcome) {
	if r == nil || o == nil {
		return
	}
	result := "failure"
	if o.Success {
		result = "success"
	}
	r.outcomes.WithLabelValues(result, o.Reason).Inc()
	r.iterations.Observe(float64(o.Iterations))
	r.attemptDuration.Observe(o.Duration().Seconds())
}

func (r *Recorder) OracleCall(result string) {
	if r == nil {
		return
	}
	r.oracleCalls.WithLabelValues(result).Inc()
}

func (r *Recorder) Candidates(attempts []schemas.CandidateAttempt) {
	if r == nil {
		return
	}
	for _, a := range attempts {
		reason := string(a.Reason)
		if a.Success {
			reason = "success"
		}
		r.candidateAttempts.WithLabelValues(reason).Inc()
	}
}

func (r *Recorder) FastPath() {
	if r != nil {
		r.fastPath.Inc()
	}
}

func (r *Recorder) StrategyRetry() {
	if r != nil {
		r.strategyRetries.Inc()
	}
}

func (r *Recorder) Restart() {
	if r != nil {
		r.restarts.Inc()
	}
}

// AttemptStarted increments the active gauge; call the returned func when done.
func (r *Recorder) AttemptStarted() func() {
	if r == nil {
		return func() {}
	}
	r.active.Inc()
	return r.active.Dec
}
