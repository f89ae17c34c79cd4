package purchase

import "github.com/prometheus/client_golang/prometheus"

var (
	planActivationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "creditcore",
			Subsystem: "purchase",
			Name:      "plan_activations_total",
			Help:      "Completed plan activations by plan id.",
		},
		[]string{"plan"},
	)
	packActivationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "creditcore",
			Subsystem: "purchase",
			Name:      "pack_activations_total",
			Help:      "Completed pack activations by pack id.",
		},
		[]string{"pack"},
	)
	planReplayTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "creditcore",
			Subsystem: "purchase",
			Name:      "plan_replays_total",
			Help:      "Plan activations answered from a prior committed purchase.",
		},
	)
	packReplayTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "creditcore",
			Subsystem: "purchase",
			Name:      "pack_replays_total",
			Help:      "Pack activations answered from a prior committed purchase.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		planActivationsTotal,
		packActivationsTotal,
		planReplayTotal,
		packReplayTotal,
	)
}
