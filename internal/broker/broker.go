// Package broker wires the vehicle registry, command router, mission
// and spray orchestrators, operator channel, HTTP surface, and the
// optional MQTT bridge and S3 archive into one process.
package broker

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agrifly-io/agrifly/internal/bridge"
	"github.com/agrifly-io/agrifly/internal/command"
	"github.com/agrifly-io/agrifly/internal/mission"
	"github.com/agrifly-io/agrifly/internal/operator"
	"github.com/agrifly-io/agrifly/internal/registry"
	"github.com/agrifly-io/agrifly/internal/server"
	"github.com/agrifly-io/agrifly/internal/spray"
	"github.com/agrifly-io/agrifly/internal/statustext"
	"github.com/agrifly-io/agrifly/internal/storage"
	"github.com/agrifly-io/agrifly/internal/telemetry"
	"github.com/agrifly-io/agrifly/pkg/log"
)

// Publisher is the event sink shared by every component.
type Publisher interface {
	Publish(event string, data any)
}

// fanout duplicates each event to every sink.
type fanout []Publisher

func (f fanout) Publish(event string, data any) {
	for _, p := range f {
		p.Publish(event, data)
	}
}

// Broker is the assembled ground-control process.
type Broker struct {
	logger log.Logger

	hub       *operator.Hub
	pub       Publisher
	registry  *registry.Registry
	commander *command.Router
	uploader  *mission.Uploader
	missions  *mission.Orchestrator
	sprays    *spray.Orchestrator
	bridge    *bridge.Bridge
	srv       *server.Server
	store     storage.Provider

	mu  sync.Mutex
	cfg *FileConfig
}

// New assembles a Broker from a validated configuration. ctx bounds
// the lifetime of every vehicle link the registry opens.
func New(ctx context.Context, cfg *FileConfig) (*Broker, error) {
	logger := log.WithName("broker")

	hub := operator.NewHub()
	sinks := fanout{hub}

	var mqttBridge *bridge.Bridge
	if cfg.Mqtt.Enabled() {
		b, err := bridge.New(cfg.Mqtt)
		if err != nil {
			// The fleet bridge is best effort; vehicle links must not
			// depend on broker reachability.
			logger.Warn("Fleet bridge disabled", "broker", cfg.Mqtt.Broker, "error", err.Error())
		} else {
			mqttBridge = b
			sinks = append(sinks, b)
		}
	}

	agg := telemetry.NewAggregator()
	agg.SetRingSize(cfg.StatusRingSize)

	reg := registry.New(ctx, registry.Options{
		Aggregator:        agg,
		Parser:            statustext.NewParser(cfg.DetectionDedupSize),
		Publisher:         sinks,
		HeartbeatInterval: cfg.Link.HeartbeatInterval,
		HeartbeatTimeout:  cfg.Link.HeartbeatTimeout,
		StreamRateHz:      cfg.Link.StreamRateHz,
	})

	commander := command.NewRouter(reg, cfg.Link.AckTimeout)
	uploader := mission.NewUploader(reg, cfg.Link.MissionItemTimeout)

	var store storage.Provider
	if cfg.S3.Enabled() {
		p, err := storage.NewMinIOProvider(cfg.S3)
		if err != nil {
			logger.Warn("Mission archive upload disabled", "endpoint", cfg.S3.Endpoint, "error", err.Error())
		} else {
			store = p
		}
	}
	var objectStore mission.ObjectStore
	if store != nil {
		objectStore = store
	}
	archive := mission.NewArchive(cfg.ArchiveDir, objectStore)

	missions := mission.NewOrchestrator(mission.OrchestratorOptions{
		Fleet:     reg,
		Uploader:  uploader,
		Commander: commander,
		Publisher: sinks,
		Archive:   archive,
	})
	sprays := spray.New(cfg.Spray, sinks)

	api := server.NewAPI(reg, commander, missions, uploader, sprays)
	srv := server.NewServer(cfg.Http, api, hub)

	b := &Broker{
		logger:    logger,
		hub:       hub,
		pub:       sinks,
		registry:  reg,
		commander: commander,
		uploader:  uploader,
		missions:  missions,
		sprays:    sprays,
		bridge:    mqttBridge,
		srv:       srv,
		store:     store,
		cfg:       cfg,
	}

	hub.SetDispatcher(&dispatcher{logger: log.WithName("dispatcher"), broker: b})
	hub.SetBackfiller(b.backfill)

	return b, nil
}

// Run connects the configured fleet and serves until ctx is cancelled.
func (b *Broker) Run(ctx context.Context) error {
	b.logger.Info("Starting broker", "vehicles", len(b.config().Vehicles))

	if b.store != nil {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := b.store.CheckBucket(checkCtx); err != nil {
			b.logger.Warn("Archive bucket check failed", "error", err.Error())
		}
		cancel()
	}

	b.syncFleet(b.config())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.srv.Start(ctx) })
	g.Go(func() error {
		b.telemetryLoop(ctx)
		return nil
	})

	err := g.Wait()

	b.hub.Close()
	b.registry.Close()
	if b.bridge != nil {
		b.bridge.Close()
	}
	return err
}

// Reload applies a changed configuration file: the vehicle list is
// re-synced, timing options apply to links opened afterwards.
func (b *Broker) Reload(cfg *FileConfig) {
	b.mu.Lock()
	b.cfg = cfg
	b.mu.Unlock()
	b.syncFleet(cfg)
}

func (b *Broker) config() *FileConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

func (b *Broker) syncFleet(cfg *FileConfig) {
	for id, err := range b.registry.Sync(cfg.LinkConfigs()) {
		if err != nil {
			b.logger.Warn("Vehicle connect failed", "vehicle", id, "error", err.Error())
		}
	}
}

// telemetryLoop fans the merged snapshots out to operator clients and
// the fleet bridge on the configured cadence.
func (b *Broker) telemetryLoop(ctx context.Context) {
	interval := b.config().Link.TelemetryInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, snap := range b.registry.Snapshots() {
				if !snap.Connected {
					continue
				}
				b.pub.Publish("drone_telemetry_update", snap)
			}
		}
	}
}

// backfill gives a fresh operator client the current fleet picture.
func (b *Broker) backfill() []operator.Event {
	list := b.registry.List()

	events := make([]operator.Event, 0, len(list)+1)
	if ev, ok := makeEvent("drones_status", map[string]any{"drones": list}); ok {
		events = append(events, ev)
	}
	for _, v := range list {
		name := "drone_disconnected"
		if v.Connected {
			name = "drone_connected"
		}
		if ev, ok := makeEvent(name, map[string]any{"vehicle_id": v.ID}); ok {
			events = append(events, ev)
		}
	}
	return events
}
