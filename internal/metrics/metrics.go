package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Callback metrics
	CallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wecom_bridge_callbacks_total",
			Help: "Total number of callback requests by kind and response status",
		},
		[]string{"kind", "status"},
	)

	CallbackBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wecom_bridge_callback_bytes_total",
			Help: "Total bytes of callback bodies received",
		},
	)

	DuplicatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wecom_bridge_duplicates_total",
			Help: "Total number of redelivered callbacks suppressed by the replay guard",
		},
	)

	// Forward metrics
	ForwardsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wecom_bridge_forwards_total",
			Help: "Total number of forward attempts by result",
		},
		[]string{"result"},
	)

	ForwardDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wecom_bridge_forward_duration_seconds",
			Help:    "Duration of downstream forward calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)
