// Package registry owns the set of vehicle links: connect, disconnect,
// simulate and sync policy, plus the per-vehicle pump that feeds the
// telemetry aggregator, the status-string parser, and subscribers.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agrifly-io/agrifly/internal/link"
	"github.com/agrifly-io/agrifly/internal/statustext"
	"github.com/agrifly-io/agrifly/internal/telemetry"
	"github.com/agrifly-io/agrifly/pkg/log"
)

var (
	// ErrUnknownVehicle is returned for ids never configured or connected.
	ErrUnknownVehicle = errors.New("registry: unknown vehicle")

	// ErrNotConnected is returned when an operation needs an open link.
	ErrNotConnected = errors.New("registry: vehicle not connected")
)

// Publisher receives operator-facing events. The operator hub and the
// fleet bridge satisfy this.
type Publisher interface {
	Publish(event string, data any)
}

// nopPublisher swallows events when no channel is attached.
type nopPublisher struct{}

func (nopPublisher) Publish(string, any) {}

// VehicleStatus is one row of List.
type VehicleStatus struct {
	ID        int       `json:"id"`
	Endpoint  string    `json:"endpoint"`
	Connected bool      `json:"connected"`
	Simulated bool      `json:"simulated"`
	LastSeen  time.Time `json:"last_seen"`
}

// Registry owns the vehicle links. The map is guarded by one mutex;
// link I/O happens outside the lock.
type Registry struct {
	logger log.Logger
	agg    *telemetry.Aggregator
	parser *statustext.Parser
	pub    Publisher

	// Link timing applied to every vehicle.
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	streamRateHz      int

	baseCtx context.Context

	mu       sync.Mutex
	vehicles map[int]*vehicle
}

type vehicle struct {
	cfg link.Config
	lnk link.Link

	lastSeen time.Time

	subMu   sync.Mutex
	subs    map[int]chan link.Event
	nextSub int
}

// Options configures a Registry.
type Options struct {
	Aggregator        *telemetry.Aggregator
	Parser            *statustext.Parser
	Publisher         Publisher
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	StreamRateHz      int
}

// New creates a Registry. ctx bounds the lifetime of every link it opens.
func New(ctx context.Context, opts Options) *Registry {
	pub := opts.Publisher
	if pub == nil {
		pub = nopPublisher{}
	}
	return &Registry{
		logger:            log.WithName("registry"),
		agg:               opts.Aggregator,
		parser:            opts.Parser,
		pub:               pub,
		heartbeatInterval: opts.HeartbeatInterval,
		heartbeatTimeout:  opts.HeartbeatTimeout,
		streamRateHz:      opts.StreamRateHz,
		baseCtx:           ctx,
		vehicles:          make(map[int]*vehicle),
	}
}

// SetPublisher attaches the operator channel after construction. Must be
// called before the first Connect.
func (r *Registry) SetPublisher(pub Publisher) {
	if pub != nil {
		r.pub = pub
	}
}

// Connect creates (or refreshes) the link for a vehicle and opens it.
// The vehicle entry survives an open failure, staying disconnected.
func (r *Registry) Connect(vehicleID int, endpoint string, baud int) error {
	cfg := link.Config{
		VehicleID:         vehicleID,
		Endpoint:          endpoint,
		Baud:              baud,
		HeartbeatInterval: r.heartbeatInterval,
		HeartbeatTimeout:  r.heartbeatTimeout,
		StreamRateHz:      r.streamRateHz,
	}

	r.mu.Lock()
	v := r.vehicles[vehicleID]
	var old link.Link
	if v == nil {
		v = &vehicle{cfg: cfg, subs: make(map[int]chan link.Event)}
		r.vehicles[vehicleID] = v
	} else {
		old = v.lnk
		v.cfg = cfg
	}
	lnk := link.New(cfg)
	v.lnk = lnk
	r.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	if err := lnk.Open(r.baseCtx); err != nil {
		r.logger.Error(err, "Link open failed", "vehicle", vehicleID, "endpoint", endpoint)
		return fmt.Errorf("connect vehicle %d: %w", vehicleID, err)
	}

	go r.pump(vehicleID, v, lnk)

	r.logger.Info("Vehicle connected", "vehicle", vehicleID, "endpoint", endpoint, "baud", cfg.Baud)
	return nil
}

// Simulate switches a vehicle to the in-process simulated link.
func (r *Registry) Simulate(vehicleID int) error {
	return r.Connect(vehicleID, link.Simulated, 0)
}

// Disconnect closes the link but keeps the vehicle entry.
func (r *Registry) Disconnect(vehicleID int) error {
	r.mu.Lock()
	v := r.vehicles[vehicleID]
	r.mu.Unlock()

	if v == nil {
		return ErrUnknownVehicle
	}
	if v.lnk != nil {
		_ = v.lnk.Close()
	}
	return nil
}

// Reconnect closes and reopens the link with its retained config.
func (r *Registry) Reconnect(vehicleID int) error {
	r.mu.Lock()
	v := r.vehicles[vehicleID]
	r.mu.Unlock()

	if v == nil {
		return ErrUnknownVehicle
	}
	return r.Connect(vehicleID, v.cfg.Endpoint, v.cfg.Baud)
}

// Sync ensures a connected link for every given config, reporting the
// per-vehicle outcome. Used at startup and on config reload.
func (r *Registry) Sync(configs []link.Config) map[int]error {
	out := make(map[int]error, len(configs))
	for _, cfg := range configs {
		r.mu.Lock()
		v := r.vehicles[cfg.VehicleID]
		healthy := v != nil && v.lnk != nil && v.lnk.Connected() && v.cfg.Endpoint == cfg.Endpoint
		r.mu.Unlock()

		if healthy {
			out[cfg.VehicleID] = nil
			continue
		}
		out[cfg.VehicleID] = r.Connect(cfg.VehicleID, cfg.Endpoint, cfg.Baud)
	}
	return out
}

// List summarizes every known vehicle, ordered by id via the caller.
func (r *Registry) List() []VehicleStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]VehicleStatus, 0, len(r.vehicles))
	for id, v := range r.vehicles {
		st := VehicleStatus{
			ID:       id,
			Endpoint: v.cfg.Endpoint,
			LastSeen: v.lastSeen,
		}
		if v.lnk != nil {
			st.Connected = v.lnk.Connected()
			st.Simulated = v.lnk.IsSimulated()
		}
		out = append(out, st)
	}
	return out
}

// Link returns the open link for a vehicle.
func (r *Registry) Link(vehicleID int) (link.Link, error) {
	r.mu.Lock()
	v := r.vehicles[vehicleID]
	r.mu.Unlock()

	if v == nil {
		return nil, ErrUnknownVehicle
	}
	if v.lnk == nil || !v.lnk.Connected() {
		return nil, ErrNotConnected
	}
	return v.lnk, nil
}

// Snapshot returns the merged telemetry for one vehicle.
func (r *Registry) Snapshot(vehicleID int) (telemetry.Snapshot, bool) {
	return r.agg.Snapshot(vehicleID)
}

// Snapshots returns the merged telemetry for every vehicle.
func (r *Registry) Snapshots() []telemetry.Snapshot {
	return r.agg.Snapshots()
}

// Known reports whether a vehicle id has ever been connected or configured.
func (r *Registry) Known(vehicleID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.vehicles[vehicleID]
	return ok
}

// Close closes every link.
func (r *Registry) Close() {
	r.mu.Lock()
	links := make([]link.Link, 0, len(r.vehicles))
	for _, v := range r.vehicles {
		if v.lnk != nil {
			links = append(links, v.lnk)
		}
	}
	r.mu.Unlock()

	for _, l := range links {
		_ = l.Close()
	}
}
