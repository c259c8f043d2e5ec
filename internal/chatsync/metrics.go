package chatsync

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tOgg1/leadsync/internal/crmapi"
	"github.com/tOgg1/leadsync/internal/models"
)

// Metrics exposes poll cycle counters. A nil *Metrics records nothing.
type Metrics struct {
	cycles           prometheus.Counter
	rejectedTicks    prometheus.Counter
	resourceFailures *prometheus.CounterVec
	cycleDuration    prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "leadsync",
			Subsystem: "poll",
			Name:      "cycles_total",
			Help:      "Completed poll cycles.",
		}),
		rejectedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "leadsync",
			Subsystem: "poll",
			Name:      "rejected_ticks_total",
			Help:      "Ticks rejected because a cycle was in flight or polling was paused.",
		}),
		resourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadsync",
			Subsystem: "poll",
			Name:      "resource_failures_total",
			Help:      "Failed resource fetches by resource class and error kind.",
		}, []string{"resource", "kind"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "leadsync",
			Subsystem: "poll",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of poll cycles.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.cycles, m.rejectedTicks, m.resourceFailures, m.cycleDuration)
	}
	return m
}

func (m *Metrics) observeCycle(seconds float64) {
	if m == nil {
		return
	}
	m.cycles.Inc()
	m.cycleDuration.Observe(seconds)
}

func (m *Metrics) rejectTick() {
	if m == nil {
		return
	}
	m.rejectedTicks.Inc()
}

func (m *Metrics) resourceFailed(class models.ResourceClass, err error) {
	if m == nil {
		return
	}
	m.resourceFailures.WithLabelValues(string(class), errorKind(err)).Inc()
}

func errorKind(err error) string {
	var shape *crmapi.DataShapeError
	switch {
	case crmapi.IsAuth(err):
		return "auth"
	case crmapi.IsNetwork(err):
		return "network"
	case crmapi.IsServer(err):
		return "server"
	case errors.As(err, &shape):
		return "data_shape"
	default:
		return "other"
	}
}
