package dialog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	requests  *prometheus.CounterVec
	responses *prometheus.CounterVec
	dialogs   prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "softphone",
			Subsystem: "sip",
			Name:      "requests_total",
			Help:      "SIP requests by method and direction",
		}, []string{"method", "direction"}),
		responses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "softphone",
			Subsystem: "sip",
			Name:      "final_responses_total",
			Help:      "Final responses to outgoing requests by method and status class",
		}, []string{"method", "class"}),
		dialogs: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "softphone",
			Subsystem: "sip",
			Name:      "dialogs",
			Help:      "Number of dialogs in the dialog map",
		}),
	}
}
