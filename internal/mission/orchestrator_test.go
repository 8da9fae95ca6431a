package mission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrifly-io/agrifly/internal/command"
	"github.com/agrifly-io/agrifly/internal/registry"
	"github.com/agrifly-io/agrifly/internal/statustext"
	"github.com/agrifly-io/agrifly/internal/telemetry"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *eventRecorder) Publish(event string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *registry.Registry, *eventRecorder) {
	t.Helper()

	reg := registry.New(context.Background(), registry.Options{
		Aggregator: telemetry.NewAggregator(),
		Parser:     statustext.NewParser(statustext.DefaultDedupSize),
	})
	t.Cleanup(reg.Close)
	require.NoError(t, reg.Simulate(1))

	// The position check needs real telemetry in the snapshot.
	require.Eventually(t, func() bool {
		snap, ok := reg.Snapshot(1)
		return ok && snap.Latitude != 0
	}, 5*time.Second, 20*time.Millisecond)

	rec := &eventRecorder{}
	o := NewOrchestrator(OrchestratorOptions{
		Fleet:        reg,
		Uploader:     NewUploader(reg, 0),
		Commander:    command.NewRouter(reg, 0),
		Publisher:    rec,
		PollInterval: 100 * time.Millisecond,
	})
	return o, reg, rec
}

func TestStartReachesRunning(t *testing.T) {
	o, reg, rec := newTestOrchestrator(t)

	snap, _ := reg.Snapshot(1)
	waypoints := []Waypoint{
		{Latitude: snap.Latitude, Longitude: snap.Longitude, Altitude: 20},
		{Latitude: snap.Latitude + 0.0001, Longitude: snap.Longitude, Altitude: 20},
		{Latitude: snap.Latitude + 0.0001, Longitude: snap.Longitude + 0.0001, Altitude: 20},
		{Latitude: snap.Latitude, Longitude: snap.Longitude + 0.0001, Altitude: 20},
	}

	id, err := o.Start(context.Background(), 1, waypoints, 20)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	st := o.Status(1)
	assert.Equal(t, StateRunning, st.State)
	assert.Equal(t, 7, st.Total)
	assert.False(t, st.PositionMismatch, "vehicle starts at the first waypoint")
	assert.True(t, rec.has("mission_started"))

	// A second start while running is refused.
	_, err = o.Start(context.Background(), 1, waypoints, 20)
	assert.ErrorIs(t, err, ErrMissionActive)

	require.NoError(t, o.Stop(context.Background(), 1))
	assert.Equal(t, StateStopped, o.Status(1).State)
	assert.True(t, rec.has("mission_stopped"))
}

func TestStartFlagsPositionMismatch(t *testing.T) {
	o, _, rec := newTestOrchestrator(t)

	// First waypoint a few kilometers away from the vehicle.
	waypoints := []Waypoint{
		{Latitude: 23.40, Longitude: 85.40, Altitude: 20},
		{Latitude: 23.41, Longitude: 85.41, Altitude: 20},
	}

	id, err := o.Start(context.Background(), 1, waypoints, 20)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	assert.True(t, o.Status(1).PositionMismatch)
	assert.True(t, rec.has("mission_started"))

	require.NoError(t, o.Stop(context.Background(), 1))
}

func TestPauseAndResume(t *testing.T) {
	o, reg, rec := newTestOrchestrator(t)

	snap, _ := reg.Snapshot(1)
	waypoints := []Waypoint{
		{Latitude: snap.Latitude, Longitude: snap.Longitude, Altitude: 20},
		{Latitude: snap.Latitude + 0.0001, Longitude: snap.Longitude, Altitude: 20},
	}

	_, err := o.Start(context.Background(), 1, waypoints, 20)
	require.NoError(t, err)

	require.NoError(t, o.Pause(context.Background(), 1))
	assert.Equal(t, StatePaused, o.Status(1).State)
	assert.True(t, rec.has("mission_paused"))

	require.NoError(t, o.Resume(context.Background(), 1))
	assert.Equal(t, StateRunning, o.Status(1).State)

	require.NoError(t, o.Stop(context.Background(), 1))
}

func TestStartEmptyWaypoints(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	_, err := o.Start(context.Background(), 1, nil, 20)
	assert.ErrorIs(t, err, ErrEmptyMission)
}

func TestLifecycleOpsWithoutRun(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	assert.ErrorIs(t, o.Stop(context.Background(), 1), ErrNoMission)
	assert.ErrorIs(t, o.Pause(context.Background(), 1), ErrNoMission)
	assert.ErrorIs(t, o.Resume(context.Background(), 1), ErrNoMission)
	assert.Equal(t, StateIdle, o.Status(1).State)
}

func TestHaversineKnownDistance(t *testing.T) {
	// Roughly 111 km per degree of latitude.
	d := haversineMeters(23.0, 85.0, 24.0, 85.0)
	assert.InDelta(t, 111195, d, 200)

	assert.Zero(t, haversineMeters(23.29, 85.31, 23.29, 85.31))
}
