package topic

import (
	"fmt"
)

// Constants defining the standard topic segments published by the broker.
// Fleet consumers (dashboards, loggers) subscribe against these; changing
// them breaks existing consumers.
const (
	// SuffixTelemetry carries periodic telemetry snapshots.
	// Structure: {root}/telemetry/{vehicleID}
	SuffixTelemetry = "telemetry"

	// SuffixDetection carries parsed payload detection reports.
	// Structure: {root}/detection/{vehicleID}
	SuffixDetection = "detection"

	// SuffixOnline carries link connectivity transitions (retained).
	// Structure: {root}/online/{vehicleID}
	SuffixOnline = "online"

	// SuffixMissionEvent carries mission lifecycle events.
	// Structure: {root}/mission/event/{vehicleID}
	SuffixMissionEvent = "mission/event"

	// SuffixSprayEvent carries spray run lifecycle events.
	// Structure: {root}/spray/event/{vehicleID}
	SuffixSprayEvent = "spray/event"
)

// Builder constructs the MQTT topic strings the fleet bridge publishes to.
// Keeping construction in one place keeps broker and consumers consistent.
type Builder struct {
	// root is the base namespace for all topics (e.g. "agrifly/v1").
	root string
}

// NewBuilder creates a Builder with the specified root namespace.
func NewBuilder(root string) *Builder {
	return &Builder{root: root}
}

// Telemetry returns the snapshot topic for a vehicle.
func (b *Builder) Telemetry(vehicleID string) string {
	return b.build(SuffixTelemetry, vehicleID)
}

// TelemetryWildcard returns the filter matching every vehicle's telemetry.
// Result: {root}/telemetry/+
func (b *Builder) TelemetryWildcard() string {
	return b.build(SuffixTelemetry, Wildcard)
}

// Detection returns the detection topic for a vehicle.
func (b *Builder) Detection(vehicleID string) string {
	return b.build(SuffixDetection, vehicleID)
}

// DetectionWildcard returns the filter matching every vehicle's detections.
func (b *Builder) DetectionWildcard() string {
	return b.build(SuffixDetection, Wildcard)
}

// Online returns the connectivity topic for a vehicle. Messages on this
// topic are published retained so late subscribers see the current state.
func (b *Builder) Online(vehicleID string) string {
	return b.build(SuffixOnline, vehicleID)
}

// OnlineWildcard returns the filter matching every vehicle's connectivity.
func (b *Builder) OnlineWildcard() string {
	return b.build(SuffixOnline, Wildcard)
}

// MissionEvent returns the mission lifecycle topic for a vehicle.
func (b *Builder) MissionEvent(vehicleID string) string {
	return b.build(SuffixMissionEvent, vehicleID)
}

// SprayEvent returns the spray lifecycle topic for a vehicle.
func (b *Builder) SprayEvent(vehicleID string) string {
	return b.build(SuffixSprayEvent, vehicleID)
}

// build constructs the final topic string.
// Pattern: {root}/{suffix}/{identifier}
func (b *Builder) build(suffix, id string) string {
	return fmt.Sprintf("%s/%s/%s", b.root, suffix, id)
}
