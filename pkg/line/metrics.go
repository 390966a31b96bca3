package line

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "softphone"
	metricsSubsystem = "line"
)

// metrics счетчики менеджера линий
type metrics struct {
	linesAdded   *prometheus.CounterVec
	linesRemoved prometheus.Counter
	linesActive  prometheus.Gauge
	rejected     prometheus.Counter
	activations  prometheus.Counter
	transfers    *prometheus.CounterVec
	registers    *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		linesAdded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "added_total",
			Help:      "Total number of lines added by direction",
		}, []string{"direction"}),
		linesRemoved: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "removed_total",
			Help:      "Total number of lines removed",
		}),
		linesActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "registered",
			Help:      "Number of lines currently in the registry",
		}),
		rejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "rejected_invitations_total",
			Help:      "Incoming invitations rejected because of the line limit",
		}),
		activations: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "activations_total",
			Help:      "Total number of active line changes",
		}),
		transfers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "transfers_total",
			Help:      "Total number of transfers by kind and result",
		}, []string{"kind", "result"}),
		registers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "registrations_total",
			Help:      "Total number of registration attempts by result",
		}, []string{"result"}),
	}
}
