package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Broker-wide collectors, registered on the default registry and exposed
// by the HTTP server at /metrics.
var (
	// FramesDecodedTotal counts MAVLink frames decoded per vehicle.
	FramesDecodedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrifly_frames_decoded_total",
			Help: "Total number of MAVLink frames decoded.",
		},
		[]string{"vehicle"},
	)

	// FramesDroppedTotal counts frames discarded before reaching a consumer
	// (decode failures, full fan-out queues).
	FramesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrifly_frames_dropped_total",
			Help: "Total number of MAVLink frames dropped.",
		},
		[]string{"vehicle", "reason"},
	)

	// CommandsSentTotal counts commands routed to vehicles.
	CommandsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrifly_commands_sent_total",
			Help: "Total number of commands sent to vehicles.",
		},
		[]string{"vehicle", "command", "result"}, // result: accepted/rejected/timeout
	)

	// LinkUp reports link connectivity per vehicle (1=connected).
	LinkUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agrifly_link_up",
			Help: "Vehicle link connectivity (1=connected, 0=disconnected).",
		},
		[]string{"vehicle"},
	)

	// OperatorClients reports currently attached operator WebSocket clients.
	OperatorClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agrifly_operator_clients",
			Help: "Number of connected operator WebSocket clients.",
		},
	)

	// OperatorEventsDroppedTotal counts events dropped from full per-client queues.
	OperatorEventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agrifly_operator_events_dropped_total",
			Help: "Total operator events dropped due to slow clients.",
		},
	)

	// SprayDispensedLiters accumulates dispensed payload volume.
	SprayDispensedLiters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrifly_spray_dispensed_liters_total",
			Help: "Total liters dispensed across spray runs.",
		},
		[]string{"vehicle"},
	)

	// MissionUploadsTotal counts mission upload attempts by outcome.
	MissionUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrifly_mission_uploads_total",
			Help: "Total mission uploads by outcome (accepted/rejected/timeout).",
		},
		[]string{"vehicle", "outcome"},
	)
)
