package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*LinkOptions)(nil)

// LinkOptions holds the timing knobs shared by every vehicle link.
type LinkOptions struct {
	// HeartbeatInterval is how often the broker emits its own heartbeat.
	HeartbeatInterval time.Duration `json:"heartbeat-interval" mapstructure:"heartbeat-interval"`

	// HeartbeatTimeout is the inbound-heartbeat gap after which a link is
	// considered disconnected.
	HeartbeatTimeout time.Duration `json:"heartbeat-timeout" mapstructure:"heartbeat-timeout"`

	// AckTimeout bounds the wait for a COMMAND_ACK after a command send.
	AckTimeout time.Duration `json:"ack-timeout" mapstructure:"ack-timeout"`

	// MissionItemTimeout bounds the wait for each mission-request during
	// an upload handshake.
	MissionItemTimeout time.Duration `json:"mission-item-timeout" mapstructure:"mission-item-timeout"`

	// TelemetryInterval is the push cadence toward operator clients and
	// the fleet bridge.
	TelemetryInterval time.Duration `json:"telemetry-interval" mapstructure:"telemetry-interval"`

	// StreamRateHz is the data-stream rate requested from the vehicle.
	StreamRateHz int `json:"stream-rate-hz" mapstructure:"stream-rate-hz"`
}

// NewLinkOptions creates LinkOptions with defaults matching a serial
// 57600-baud telemetry radio.
func NewLinkOptions() *LinkOptions {
	return &LinkOptions{
		HeartbeatInterval:  time.Second,
		HeartbeatTimeout:   3 * time.Second,
		AckTimeout:         3 * time.Second,
		MissionItemTimeout: 3 * time.Second,
		TelemetryInterval:  250 * time.Millisecond,
		StreamRateHz:       4,
	}
}

func (o *LinkOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.HeartbeatTimeout <= o.HeartbeatInterval {
		errors = append(errors, fmt.Errorf("link: heartbeat-timeout (%v) must exceed heartbeat-interval (%v)",
			o.HeartbeatTimeout, o.HeartbeatInterval))
	}
	if o.StreamRateHz <= 0 {
		errors = append(errors, fmt.Errorf("link: stream-rate-hz must be positive, got %d", o.StreamRateHz))
	}

	return errors
}

func (o *LinkOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.HeartbeatInterval, "link.heartbeat-interval", o.HeartbeatInterval, "Interval between outbound heartbeats.")
	fs.DurationVar(&o.HeartbeatTimeout, "link.heartbeat-timeout", o.HeartbeatTimeout, "Inbound heartbeat gap before a link is marked disconnected.")
	fs.DurationVar(&o.AckTimeout, "link.ack-timeout", o.AckTimeout, "Maximum wait for a command acknowledgement.")
	fs.DurationVar(&o.MissionItemTimeout, "link.mission-item-timeout", o.MissionItemTimeout, "Maximum wait for each mission item request during upload.")
	fs.DurationVar(&o.TelemetryInterval, "link.telemetry-interval", o.TelemetryInterval, "Telemetry push cadence toward operator clients.")
	fs.IntVar(&o.StreamRateHz, "link.stream-rate-hz", o.StreamRateHz, "Telemetry stream rate requested from the vehicle.")
}
