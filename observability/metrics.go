// Package observability hosts the cluster's Prometheus metric registries.
// Each subsystem gets a lazily-initialised, sync.Once-guarded registry so
// that constructing a component twice in tests never double-registers
// collectors with the default Prometheus registry.
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type voteMetrics struct {
	accepted   *prometheus.CounterVec
	rejected   *prometheus.CounterVec
	thresholds prometheus.Counter
	violations *prometheus.CounterVec
	bans       prometheus.Counter
}

type sessionMetrics struct {
	proposed  *prometheus.CounterVec
	completed *prometheus.CounterVec
	aborted   *prometheus.CounterVec
	roundDur  *prometheus.HistogramVec
	active    prometheus.Gauge
}

type presigMetrics struct {
	poolSize *prometheus.GaugeVec
	taken    *prometheus.CounterVec
	expired  *prometheus.CounterVec
	refills  *prometheus.CounterVec
}

var (
	voteOnce    sync.Once
	voteReg     *voteMetrics
	sessionOnce sync.Once
	sessionReg  *sessionMetrics
	presigOnce  sync.Once
	presigReg   *presigMetrics
)

// VoteMetrics returns the lazily-initialised vote/byzantine-detector registry.
func VoteMetrics() *voteMetrics {
	voteOnce.Do(func() {
		voteReg = &voteMetrics{
			accepted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "torcus",
				Subsystem: "vote",
				Name:      "accepted_total",
				Help:      "Votes accepted by the Byzantine detector, by transaction outcome.",
			}, []string{"outcome"}),
			rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "torcus",
				Subsystem: "vote",
				Name:      "rejected_total",
				Help:      "Votes rejected by the Byzantine detector, by rejection kind.",
			}, []string{"kind"}),
			thresholds: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "torcus",
				Subsystem: "vote",
				Name:      "threshold_reached_total",
				Help:      "Number of transactions that reached vote threshold.",
			}),
			violations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "torcus",
				Subsystem: "byzantine",
				Name:      "violations_total",
				Help:      "Recorded Byzantine violations by type.",
			}, []string{"violation_type"}),
			bans: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "torcus",
				Subsystem: "byzantine",
				Name:      "bans_total",
				Help:      "Peers banned as a result of a detected violation.",
			}),
		}
		prometheus.MustRegister(
			voteReg.accepted, voteReg.rejected, voteReg.thresholds,
			voteReg.violations, voteReg.bans,
		)
	})
	return voteReg
}

// RecordAccepted increments the accepted-vote counter for an outcome label
// ("accepted", "idempotent").
func (m *voteMetrics) RecordAccepted(outcome string) {
	if m == nil {
		return
	}
	m.accepted.WithLabelValues(outcome).Inc()
}

// RecordRejected increments the rejected-vote counter for a rejection kind.
func (m *voteMetrics) RecordRejected(kind string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(kind).Inc()
}

// RecordThresholdReached increments the threshold-reached counter.
func (m *voteMetrics) RecordThresholdReached() {
	if m == nil {
		return
	}
	m.thresholds.Inc()
}

// RecordViolation increments the violation counter and, if banned is true,
// the ban counter.
func (m *voteMetrics) RecordViolation(violationType string, banned bool) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(violationType).Inc()
	if banned {
		m.bans.Inc()
	}
}

// SessionMetrics returns the lazily-initialised session-coordinator registry.
func SessionMetrics() *sessionMetrics {
	sessionOnce.Do(func() {
		sessionReg = &sessionMetrics{
			proposed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "torcus",
				Subsystem: "session",
				Name:      "proposed_total",
				Help:      "Sessions proposed, by protocol.",
			}, []string{"protocol"}),
			completed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "torcus",
				Subsystem: "session",
				Name:      "completed_total",
				Help:      "Sessions completed, by protocol.",
			}, []string{"protocol"}),
			aborted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "torcus",
				Subsystem: "session",
				Name:      "aborted_total",
				Help:      "Sessions aborted, by reason.",
			}, []string{"reason"}),
			roundDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "torcus",
				Subsystem: "session",
				Name:      "round_duration_seconds",
				Help:      "Wall-clock duration of a single MPC protocol round.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"protocol"}),
			active: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "torcus",
				Subsystem: "session",
				Name:      "active",
				Help:      "Sessions currently in Proposed/Starting/InProgress.",
			}),
		}
		prometheus.MustRegister(
			sessionReg.proposed, sessionReg.completed, sessionReg.aborted,
			sessionReg.roundDur, sessionReg.active,
		)
	})
	return sessionReg
}

func (m *sessionMetrics) RecordProposed(protocol string) {
	if m == nil {
		return
	}
	m.proposed.WithLabelValues(protocol).Inc()
	m.active.Inc()
}

func (m *sessionMetrics) RecordCompleted(protocol string) {
	if m == nil {
		return
	}
	m.completed.WithLabelValues(protocol).Inc()
	m.active.Dec()
}

func (m *sessionMetrics) RecordAborted(reason string) {
	if m == nil {
		return
	}
	m.aborted.WithLabelValues(reason).Inc()
	m.active.Dec()
}

func (m *sessionMetrics) ObserveRound(protocol string, d time.Duration) {
	if m == nil {
		return
	}
	m.roundDur.WithLabelValues(protocol).Observe(d.Seconds())
}

// PresigMetrics returns the lazily-initialised presignature pool registry.
func PresigMetrics() *presigMetrics {
	presigOnce.Do(func() {
		presigReg = &presigMetrics{
			poolSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "torcus",
				Subsystem: "presig",
				Name:      "pool_size",
				Help:      "Current presignature count per participant set key.",
			}, []string{"participant_set"}),
			taken: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "torcus",
				Subsystem: "presig",
				Name:      "taken_total",
				Help:      "Presignatures successfully taken from the pool.",
			}, []string{"participant_set"}),
			expired: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "torcus",
				Subsystem: "presig",
				Name:      "expired_total",
				Help:      "Presignatures evicted for exceeding their validity window.",
			}, []string{"participant_set"}),
			refills: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "torcus",
				Subsystem: "presig",
				Name:      "refills_total",
				Help:      "Presignatures produced by the background refill task.",
			}, []string{"participant_set"}),
		}
		prometheus.MustRegister(
			presigReg.poolSize, presigReg.taken, presigReg.expired, presigReg.refills,
		)
	})
	return presigReg
}

func (m *presigMetrics) SetPoolSize(set string, n int) {
	if m == nil {
		return
	}
	m.poolSize.WithLabelValues(set).Set(float64(n))
}

func (m *presigMetrics) RecordTaken(set string) {
	if m == nil {
		return
	}
	m.taken.WithLabelValues(set).Inc()
}

func (m *presigMetrics) RecordExpired(set string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.expired.WithLabelValues(set).Add(float64(n))
}

func (m *presigMetrics) RecordRefill(set string) {
	if m == nil {
		return
	}
	m.refills.WithLabelValues(set).Inc()
}
