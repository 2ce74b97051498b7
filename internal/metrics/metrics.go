package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the learning loop's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	cycles         *prometheus.CounterVec
	rewardScore    prometheus.Histogram
	runs           *prometheus.CounterVec
	runDuration    prometheus.Histogram
	logsConsumed   prometheus.Counter
	pendingLogs    prometheus.Gauge
	profileVersion prometheus.Gauge
	armExpectation *prometheus.GaugeVec
	storeLatency   *prometheus.HistogramVec
	schedulerSkips *prometheus.CounterVec
}

// New registers every collector on reg with the given constant labels.
func New(reg prometheus.Registerer, constLabels prometheus.Labels) *Metrics {
	f := promauto.With(prometheus.WrapRegistererWith(constLabels, reg))
	return &Metrics{
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_learning_cycles_total",
			Help: "Learning cycles by result (applied, deferred, log_failed, update_failed)",
		}, []string{"result"}),
		rewardScore: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "companion_reward_score",
			Help:    "Observed reward scores",
			Buckets: prometheus.LinearBuckets(-1, 0.25, 9),
		}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_consolidation_runs_total",
			Help: "Consolidation runs by outcome",
		}, []string{"outcome"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "companion_consolidation_duration_seconds",
			Help:    "Consolidation run duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		logsConsumed: f.NewCounter(prometheus.CounterOpts{
			Name: "companion_logs_consolidated_total",
			Help: "Interaction logs folded into the profile",
		}),
		pendingLogs: f.NewGauge(prometheus.GaugeOpts{
			Name: "companion_pending_logs",
			Help: "Unconsolidated interaction logs",
		}),
		profileVersion: f.NewGauge(prometheus.GaugeOpts{
			Name: "companion_profile_version",
			Help: "Current profile version",
		}),
		armExpectation: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "companion_arm_expectation",
			Help: "alpha/(alpha+beta) per action",
		}, []string{"action"}),
		storeLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "companion_store_latency_seconds",
			Help:    "Store operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		schedulerSkips: f.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_scheduler_skips_total",
			Help: "Scheduled runs skipped by reason",
		}, []string{"reason"}),
	}
}

func (m *Metrics) Cycle(result string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
}

func (m *Metrics) Reward(score float64) {
	if m == nil {
		return
	}
	m.rewardScore.Observe(score)
}

func (m *Metrics) Run(outcome string, d time.Duration, consumed int) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(d.Seconds())
	m.logsConsumed.Add(float64(consumed))
}

func (m *Metrics) Pending(n int) {
	if m == nil {
		return
	}
	m.pendingLogs.Set(float64(n))
}

// Profile publishes the version and per-arm expectations.
func (m *Metrics) Profile(version int64, names []string, expectations []float64) {
	if m == nil {
		return
	}
	m.profileVersion.Set(float64(version))
	for i := 0; i < len(names) && i < len(expectations); i++ {
		m.armExpectation.WithLabelValues(names[i]).Set(expectations[i])
	}
}

// ObserveStore is used as `defer m.ObserveStore("op", time.Now())`.
func (m *Metrics) ObserveStore(op string, start time.Time) {
	if m == nil {
		return
	}
	m.storeLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) SchedulerSkip(reason string) {
	if m == nil {
		return
	}
	m.schedulerSkips.WithLabelValues(reason).Inc()
}
