// Package bridge mirrors fleet events onto MQTT for off-site
// consumers: telemetry snapshots, crop detections, link online state,
// and mission/spray progress. Egress only; broker failures never
// affect vehicle links.
package bridge

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agrifly-io/agrifly/pkg/log"
	"github.com/agrifly-io/agrifly/pkg/mqtt"
	"github.com/agrifly-io/agrifly/pkg/mqtt/topic"
	"github.com/agrifly-io/agrifly/pkg/options"
)

// publishTimeout bounds each broker write.
const publishTimeout = 2 * time.Second

// DefaultTelemetryThrottle limits per-vehicle telemetry publishes.
const DefaultTelemetryThrottle = time.Second

// Bridge forwards operator events to MQTT topics.
type Bridge struct {
	logger   log.Logger
	client   mqtt.Client
	topics   *topic.Builder
	throttle time.Duration

	mu            sync.Mutex
	lastTelemetry map[int]time.Time
}

// New connects a Bridge using the configured broker.
func New(opts *options.MqttOptions) (*Bridge, error) {
	client, err := mqtt.NewClient(opts.ToClientConfig())
	if err != nil {
		return nil, err
	}
	if err := client.Start(context.Background()); err != nil {
		return nil, err
	}
	return NewWithClient(client, opts.TopicRoot, DefaultTelemetryThrottle), nil
}

// NewWithClient wires a Bridge onto an existing client.
func NewWithClient(client mqtt.Client, topicRoot string, throttle time.Duration) *Bridge {
	if throttle == 0 {
		throttle = DefaultTelemetryThrottle
	}
	return &Bridge{
		logger:        log.WithName("bridge"),
		client:        client,
		topics:        topic.NewBuilder(topicRoot),
		throttle:      throttle,
		lastTelemetry: make(map[int]time.Time),
	}
}

// Close disconnects from the broker.
func (b *Bridge) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	b.client.Disconnect(ctx)
}

// Publish routes one operator event onto its MQTT topic. Unroutable
// events are ignored; the operator channel remains the primary surface.
func (b *Bridge) Publish(event string, data any) {
	if !b.client.IsConnected() {
		return
	}

	payload, err := json.Marshal(data)
	if err != nil {
		b.logger.Debug("Bridge encode failed", "event", event, "error", err.Error())
		return
	}

	var probe struct {
		VehicleID int `json:"vehicle_id"`
	}
	_ = json.Unmarshal(payload, &probe)
	vehicle := strconv.Itoa(probe.VehicleID)

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	var pubErr error
	switch {
	case event == "drone_telemetry_update":
		if !b.telemetryDue(probe.VehicleID) {
			return
		}
		pubErr = b.client.Publish(ctx, b.topics.Telemetry(vehicle), 0, false, payload)

	case event == "crop_detection":
		pubErr = b.client.Publish(ctx, b.topics.Detection(vehicle), 1, false, payload)

	case event == "drone_connected", event == "drone_disconnected":
		online, err := json.Marshal(map[string]any{
			"vehicle_id": probe.VehicleID,
			"online":     event == "drone_connected",
			"ts":         time.Now().Unix(),
		})
		if err != nil {
			return
		}
		// Retained so late consumers see the last known link state.
		pubErr = b.client.Publish(ctx, b.topics.Online(vehicle), 1, true, online)

	case strings.HasPrefix(event, "mission_"):
		pubErr = b.client.Publish(ctx, b.topics.MissionEvent(vehicle), 1, false, b.wrap(event, payload))

	case strings.HasPrefix(event, "spray_"):
		pubErr = b.client.Publish(ctx, b.topics.SprayEvent(vehicle), 1, false, b.wrap(event, payload))

	default:
		return
	}

	if pubErr != nil {
		b.logger.Debug("Bridge publish failed", "event", event, "error", pubErr.Error())
	}
}

// wrap keeps the event name alongside its payload on shared topics.
func (b *Bridge) wrap(event string, payload []byte) []byte {
	frame, err := json.Marshal(map[string]json.RawMessage{
		"event": json.RawMessage(strconv.Quote(event)),
		"data":  payload,
	})
	if err != nil {
		return payload
	}
	return frame
}

func (b *Bridge) telemetryDue(vehicleID int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if last, ok := b.lastTelemetry[vehicleID]; ok && now.Sub(last) < b.throttle {
		return false
	}
	b.lastTelemetry[vehicleID] = now
	return true
}
