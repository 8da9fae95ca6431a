// Package link owns the MAVLink session with one vehicle: framing and
// decoding via gomavlib, the ground-station heartbeat, unit
// normalization, and a simulated transport for bench use.
package link

import (
	"context"
	"errors"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

var (
	// ErrOpen wraps transport open failures.
	ErrOpen = errors.New("link: open failed")

	// ErrNotOpen is returned by Send when the session is not open.
	ErrNotOpen = errors.New("link: not open")
)

// GCS source identity. The broker speaks as a ground control station.
const (
	SystemID    = 255
	ComponentID = 190

	// Peer defaults, refined on first inbound heartbeat.
	DefaultTargetSystem    = 1
	DefaultTargetComponent = 1
)

// Config describes one vehicle link.
type Config struct {
	VehicleID int

	// Endpoint is a serial device path, or "simulated".
	Endpoint string
	Baud     int

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	// StreamRateHz is requested from the vehicle after connect.
	StreamRateHz int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Baud == 0 {
		out.Baud = 57600
	}
	if out.HeartbeatInterval == 0 {
		out.HeartbeatInterval = time.Second
	}
	if out.HeartbeatTimeout == 0 {
		out.HeartbeatTimeout = 3 * time.Second
	}
	if out.StreamRateHz == 0 {
		out.StreamRateHz = 4
	}
	return out
}

// Simulated is the endpoint value selecting the in-process vehicle.
const Simulated = "simulated"

// Event is one observable link occurrence.
type Event interface {
	isLinkEvent()
}

// Connected is emitted when the first heartbeat arrives after open,
// or after a silence gap ends.
type Connected struct {
	SystemID    uint8
	ComponentID uint8
}

// Disconnected is emitted on heartbeat silence or transport failure.
type Disconnected struct {
	Reason string
}

// Message carries one decoded inbound frame.
type Message struct {
	Msg         message.Message
	SystemID    uint8
	ComponentID uint8
}

func (Connected) isLinkEvent()    {}
func (Disconnected) isLinkEvent() {}
func (Message) isLinkEvent()      {}

// Link is one bidirectional session with a vehicle. Implementations:
// Serial (gomavlib over a serial port) and Simulator.
type Link interface {
	// Open starts the session. The context bounds the session lifetime;
	// cancelling it is equivalent to Close.
	Open(ctx context.Context) error

	// Close stops the loops and the transport. Idempotent.
	Close() error

	// Send writes one outbound message, serialized with respect to other
	// senders, and advances the sequence counter.
	Send(msg message.Message) error

	// Events returns the inbound event stream. The channel closes when
	// the link is closed.
	Events() <-chan Event

	// Connected reports whether a heartbeat arrived within the timeout
	// window.
	Connected() bool

	// Target returns the peer system/component identity.
	Target() (sys, comp uint8)

	// Seq returns the current outbound sequence counter (mod 256).
	Seq() uint8

	// IsSimulated reports whether this link is the in-process vehicle.
	IsSimulated() bool
}

// New selects the implementation for the configured endpoint.
func New(cfg Config) Link {
	if cfg.Endpoint == Simulated {
		return NewSimulator(cfg)
	}
	return NewSerial(cfg)
}
