package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// RewardMetrics tracks reward issuance and network propagation.
type RewardMetrics struct {
	records      *prometheus.CounterVec
	flags        *prometheus.CounterVec
	finIssued    prometheus.Counter
	xpIssued     prometheus.Counter
	propagations *prometheus.CounterVec
	stale        prometheus.Counter
	epoch        prometheus.Gauge
	paramsVer    prometheus.Gauge
	reviewQueue  prometheus.Gauge
}

var (
	rewardsOnce     sync.Once
	rewardsRegistry *RewardMetrics
)

// Rewards returns the process-wide reward metrics.
func Rewards() *RewardMetrics {
	rewardsOnce.Do(func() {
		rewardsRegistry = &RewardMetrics{
			records: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "finova_reward_records_total",
				Help: "Count of reward records by status.",
			}, []string{"status"}),
			flags: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "finova_reward_flags_total",
				Help: "Count of reward record flags by name.",
			}, []string{"flag"}),
			finIssued: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "finova_fin_issued_micro_total",
				Help: "Total FIN issued in micro units.",
			}),
			xpIssued: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "finova_xp_issued_total",
				Help: "Total experience points issued.",
			}),
			propagations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "finova_network_propagations_total",
				Help: "Network value propagations by outcome.",
			}, []string{"outcome"}),
			stale: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "finova_network_stale_snapshots_total",
				Help: "Network writes rejected because a snapshot version drifted.",
			}),
			epoch: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "finova_epoch",
				Help: "Epoch of the active parameter snapshot.",
			}),
			paramsVer: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "finova_params_version",
				Help: "Version of the active parameter snapshot.",
			}),
			reviewQueue: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "finova_review_queue_depth",
				Help: "Open integrity reviews awaiting a decision.",
			}),
		}
		prometheus.MustRegister(
			rewardsRegistry.records,
			rewardsRegistry.flags,
			rewardsRegistry.finIssued,
			rewardsRegistry.xpIssued,
			rewardsRegistry.propagations,
			rewardsRegistry.stale,
			rewardsRegistry.epoch,
			rewardsRegistry.paramsVer,
			rewardsRegistry.reviewQueue,
		)
	})
	return rewardsRegistry
}

// ObserveRecord records one emitted reward record.
func (m *RewardMetrics) ObserveRecord(status string, flags []string, fin, xp uint64) {
	if m == nil {
		return
	}
	if status == "" {
		status = "unknown"
	}
	m.records.WithLabelValues(status).Inc()
	for _, flag := range flags {
		m.flags.WithLabelValues(flag).Inc()
	}
	m.finIssued.Add(float64(fin))
	m.xpIssued.Add(float64(xp))
}

// ObservePropagation records the outcome of a network propagation.
func (m *RewardMetrics) ObservePropagation(outcome string) {
	if m == nil {
		return
	}
	m.propagations.WithLabelValues(outcome).Inc()
}

// ObserveStale counts a network write rejected as stale.
func (m *RewardMetrics) ObserveStale() {
	if m == nil {
		return
	}
	m.stale.Inc()
}

// SetParams publishes the active epoch and parameter version.
func (m *RewardMetrics) SetParams(epoch, version uint64) {
	if m == nil {
		return
	}
	m.epoch.Set(float64(epoch))
	m.paramsVer.Set(float64(version))
}

// SetReviewQueue publishes the open review count.
func (m *RewardMetrics) SetReviewQueue(depth int) {
	if m == nil {
		return
	}
	m.reviewQueue.Set(float64(depth))
}
