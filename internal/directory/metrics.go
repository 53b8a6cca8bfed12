package directory

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lookup outcomes used as the "outcome" label.
const (
	OutcomeFound    = "found"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// Metrics provides observability for user lookups. A nil *Metrics records
// nothing.
type Metrics struct {
	// Lookups by outcome
	LookupOutcome *prometheus.CounterVec

	// End-to-end lookup latency by outcome, membership included
	LookupLatency *prometheus.HistogramVec

	// Groups attached per enriched user
	MembershipGroups prometheus.Histogram
}

// NewMetrics creates the lookup metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		LookupOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "adlookup_user_lookups_total",
			Help: "Total user lookups by outcome",
		}, []string{"outcome"}),

		LookupLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "adlookup_user_lookup_duration_seconds",
			Help:    "Duration of user lookups including group membership resolution",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"outcome"}),

		MembershipGroups: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "adlookup_user_membership_groups",
			Help:    "Number of groups attached to a user when membership is requested",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
}

// ObserveLookup records a settled lookup.
func (m *Metrics) ObserveLookup(outcome string, d time.Duration) {
	if m != nil {
		m.LookupOutcome.WithLabelValues(outcome).Inc()
		m.LookupLatency.WithLabelValues(outcome).Observe(d.Seconds())
	}
}

// ObserveMembership records the group count of an enriched user.
func (m *Metrics) ObserveMembership(groups int) {
	if m != nil {
		m.MembershipGroups.Observe(float64(groups))
	}
}
