package syncop

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/replisync/internal/engine"
	"github.com/roach88/replisync/internal/ir"
)

// Outcome labels of the runs counter.
const (
	OutcomeOK          = "ok"
	OutcomeConflict    = "conflict"
	OutcomeLockTimeout = "lock_timeout"
	OutcomeCancelled   = "cancelled"
	OutcomeUnsupported = "unsupported"
	OutcomeError       = "error"
)

// Metrics counts operation rounds and what they changed.
// A nil *Metrics records nothing.
type Metrics struct {
	rounds    *prometheus.CounterVec
	changes   *prometheus.CounterVec
	conflicts *prometheus.CounterVec
	cleaned   *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewMetrics creates the metrics and registers them with reg.
// Pass prometheus.NewRegistry() in tests to keep registrations isolated.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		rounds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replisync",
			Name:      "operation_rounds_total",
			Help:      "Operation rounds by outcome.",
		}, []string{"operation", "outcome"}),
		changes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replisync",
			Name:      "applied_changes_total",
			Help:      "Records changed on targets, by kind.",
		}, []string{"operation", "kind"}),
		conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replisync",
			Name:      "conflicts_total",
			Help:      "Conflicting keys detected while accepting changes.",
		}, []string{"operation"}),
		cleaned: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replisync",
			Name:      "cleaned_entries_total",
			Help:      "Ledger entries removed by metadata cleanup.",
		}, []string{"operation"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "replisync",
			Name:      "operation_round_seconds",
			Help:      "Duration of one operation round.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

func (m *Metrics) observeRound(op string, res ir.SyncResult, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.rounds.WithLabelValues(op, Outcome(err)).Inc()
	m.duration.WithLabelValues(op).Observe(elapsed.Seconds())
	m.changes.WithLabelValues(op, "inserted").Add(float64(len(res.Inserted)))
	m.changes.WithLabelValues(op, "updated").Add(float64(len(res.Updated)))
	m.changes.WithLabelValues(op, "deleted").Add(float64(len(res.Deleted)))
	m.changes.WithLabelValues(op, "absorbed").Add(float64(res.Absorbed))
	m.conflicts.WithLabelValues(op).Add(float64(res.Conflicts))
}

func (m *Metrics) observeCleanup(op string, removed int) {
	if m == nil {
		return
	}
	m.cleaned.WithLabelValues(op).Add(float64(removed))
}

// Outcome classifies a run error into one of the Outcome labels.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case engine.IsConflictError(err):
		return OutcomeConflict
	case engine.IsLockTimeout(err):
		return OutcomeLockTimeout
	case engine.IsCancelled(err):
		return OutcomeCancelled
	case engine.IsUnsupported(err):
		return OutcomeUnsupported
	default:
		return OutcomeError
	}
}
