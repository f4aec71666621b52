package businessflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Audience resolutions partitioned by target type and outcome
	audienceResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audience_resolutions_total",
			Help: "Total number of audience target resolutions",
		},
		[]string{"target_type", "outcome"},
	)

	// Delivery rows touched by materialize, partitioned by created or existed
	deliveriesMaterializedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deliveries_materialized_total",
			Help: "Total number of audience members processed by materialize",
		},
		[]string{"result"},
	)

	// Reported delivery outcomes partitioned by status
	deliveriesReportedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deliveries_reported_total",
			Help: "Total number of delivery outcomes reported",
		},
		[]string{"status"},
	)

	// Materialize calls rejected because another call holds the broadcast lock
	materializeConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deliveries_materialize_conflicts_total",
			Help: "Total number of materialize calls rejected by the broadcast lock",
		},
	)
)
