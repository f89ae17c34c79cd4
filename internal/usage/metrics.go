package usage

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// creditsConsumedTotal counts credits debited by funding source.
	creditsConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "creditcore",
			Name:      "credits_consumed_total",
			Help:      "Total credits debited, by funding source (personal or shared).",
		},
		[]string{"source"},
	)

	// softLimitGrantsTotal counts consumptions granted beyond the
	// combined balances. A rising rate means tenants are under-provisioned.
	softLimitGrantsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "creditcore",
			Name:      "soft_limit_grants_total",
			Help:      "Total consumptions granted under the soft limit.",
		},
	)

	// unknownFeatureTotal counts consumptions of features missing from the
	// catalogue. Operators reconcile these against the usage log.
	unknownFeatureTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "creditcore",
			Name:      "unknown_feature_consumptions_total",
			Help:      "Total consumptions of feature names not in the catalogue.",
		},
		[]string{"feature"},
	)
)

func init() {
	prometheus.MustRegister(
		creditsConsumedTotal,
		softLimitGrantsTotal,
		unknownFeatureTotal,
	)
}
