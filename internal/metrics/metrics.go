package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Skip reasons recorded on the points-skipped counter
const (
	SkipTooRecent              = "too_recent"
	SkipNotYetRelated          = "not_yet_related"
	SkipRelationRejected       = "relation_rejected"
	SkipMeasurementUnavailable = "measurement_unavailable"
	SkipCommitFailed           = "commit_failed"
)

// Metrics holds the pipeline's operational counters
type Metrics struct {
	SchedulerTicks            prometheus.Counter
	PointsSkipped             *prometheus.CounterVec
	IssuanceRequestsEmitted   prometheus.Counter
	IssuanceRequestsDuplicate prometheus.Counter
	CommandsDispatched        prometheus.Counter
	CorrelationsResolved      *prometheus.CounterVec
	CorrelationsAbandoned     prometheus.Counter
}

// New registers the pipeline counters with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SchedulerTicks: factory.NewCounter(prometheus.CounterOpts{
			Name: "issuance_scheduler_ticks_total",
			Help: "Total number of completed scheduler ticks",
		}),
		PointsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "issuance_points_skipped_total",
			Help: "Total number of metering points skipped during a tick, by reason",
		}, []string{"reason"}),
		IssuanceRequestsEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "issuance_requests_emitted_total",
			Help: "Total number of issuance requests committed",
		}),
		IssuanceRequestsDuplicate: factory.NewCounter(prometheus.CounterOpts{
			Name: "issuance_requests_duplicate_total",
			Help: "Total number of issuance request replays suppressed by the uniqueness constraint",
		}),
		CommandsDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "issuance_registry_commands_dispatched_total",
			Help: "Total number of issue commands published to the registry",
		}),
		CorrelationsResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "issuance_correlations_resolved_total",
			Help: "Total number of registry confirmations matched to a pending certificate, by outcome",
		}, []string{"outcome"}),
		CorrelationsAbandoned: factory.NewCounter(prometheus.CounterOpts{
			Name: "issuance_correlations_abandoned_total",
			Help: "Total number of confirmations that never matched a pending certificate",
		}),
	}
}

// SkipPoint records a skipped metering point
func (m *Metrics) SkipPoint(reason string) {
	m.PointsSkipped.WithLabelValues(reason).Inc()
}

// ResolveCorrelation records a resolved correlation by outcome
func (m *Metrics) ResolveCorrelation(outcome string) {
	m.CorrelationsResolved.WithLabelValues(outcome).Inc()
}
