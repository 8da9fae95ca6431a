package mission

import (
	"context"
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrifly-io/agrifly/internal/link"
	"github.com/agrifly-io/agrifly/internal/registry"
	"github.com/agrifly-io/agrifly/internal/statustext"
	"github.com/agrifly-io/agrifly/internal/telemetry"
)

func TestExpandItemsLayout(t *testing.T) {
	waypoints := []Waypoint{
		{Latitude: 23.2950, Longitude: 85.3100, Altitude: 20},
		{Latitude: 23.2951, Longitude: 85.3101, Altitude: 20},
		{Latitude: 23.2952, Longitude: 85.3102, Altitude: 20},
		{Latitude: 23.2953, Longitude: 85.3103, Altitude: 20},
	}

	items := ExpandItems(1, 1, waypoints, 20)
	require.Len(t, items, 7)

	// Low-altitude transit to the first survey point.
	assert.Equal(t, common.MAV_CMD_NAV_WAYPOINT, items[0].Command)
	assert.Equal(t, int32(232950000), items[0].X)
	assert.Equal(t, float32(2), items[0].Z)

	// Takeoff carries the real first-point coordinates, never zero.
	assert.Equal(t, common.MAV_CMD_NAV_TAKEOFF, items[1].Command)
	assert.Equal(t, int32(232950000), items[1].X)
	assert.Equal(t, int32(853100000), items[1].Y)
	assert.Equal(t, float32(20), items[1].Z)

	for i, wp := range waypoints {
		it := items[2+i]
		assert.Equal(t, common.MAV_CMD_NAV_WAYPOINT, it.Command)
		assert.Equal(t, int32(wp.Latitude*1e7), it.X)
		assert.Equal(t, int32(wp.Longitude*1e7), it.Y)
	}

	assert.Equal(t, common.MAV_CMD_NAV_RETURN_TO_LAUNCH, items[6].Command)

	for i, it := range items {
		assert.Equal(t, uint16(i), it.Seq)
	}
}

func TestExpandItemsProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("N waypoints expand to N+3 items", prop.ForAll(
		func(n int) bool {
			waypoints := make([]Waypoint, n)
			for i := range waypoints {
				waypoints[i] = Waypoint{Latitude: 23.29, Longitude: 85.31, Altitude: 15}
			}
			items := ExpandItems(1, 1, waypoints, 15)
			return len(items) == n+3 &&
				items[0].Command == common.MAV_CMD_NAV_WAYPOINT &&
				items[1].Command == common.MAV_CMD_NAV_TAKEOFF &&
				items[len(items)-1].Command == common.MAV_CMD_NAV_RETURN_TO_LAUNCH
		},
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}

func TestUploadEmptyMission(t *testing.T) {
	u := NewUploader(&stuckFleet{}, 50*time.Millisecond)

	_, err := u.Upload(context.Background(), 1, nil, 10)
	assert.ErrorIs(t, err, ErrEmptyMission)
}

func TestUploadHandshakeAgainstSimulator(t *testing.T) {
	reg := registry.New(context.Background(), registry.Options{
		Aggregator: telemetry.NewAggregator(),
		Parser:     statustext.NewParser(statustext.DefaultDedupSize),
	})
	t.Cleanup(reg.Close)
	require.NoError(t, reg.Simulate(1))

	u := NewUploader(reg, 0)

	waypoints := []Waypoint{
		{Latitude: 23.2950, Longitude: 85.3100, Altitude: 20},
		{Latitude: 23.2951, Longitude: 85.3101, Altitude: 20},
		{Latitude: 23.2952, Longitude: 85.3102, Altitude: 20},
		{Latitude: 23.2953, Longitude: 85.3103, Altitude: 20},
	}

	total, err := u.Upload(context.Background(), 1, waypoints, 20)
	require.NoError(t, err)
	assert.Equal(t, 7, total)
}

func TestUploadTimeoutAndOverlap(t *testing.T) {
	fleet := &stuckFleet{}
	u := NewUploader(fleet, 30*time.Millisecond)

	waypoints := []Waypoint{{Latitude: 23.29, Longitude: 85.31, Altitude: 10}}

	done := make(chan error, 1)
	go func() {
		_, err := u.Upload(context.Background(), 1, waypoints, 10)
		done <- err
	}()

	// Second upload overlaps the silent first one.
	require.Eventually(t, func() bool {
		_, err := u.Upload(context.Background(), 1, waypoints, 10)
		return err == ErrUploadInProgress
	}, time.Second, 5*time.Millisecond)

	select {
	case err := <-done:
		var timeout *UploadTimeoutError
		assert.ErrorAs(t, err, &timeout)
	case <-time.After(2 * time.Second):
		t.Fatal("first upload never timed out")
	}
}

func TestUploadTimeoutDespiteHeartbeats(t *testing.T) {
	fleet := &noisyFleet{stop: make(chan struct{})}
	t.Cleanup(func() { close(fleet.stop) })

	u := NewUploader(fleet, 100*time.Millisecond)

	waypoints := []Waypoint{{Latitude: 23.29, Longitude: 85.31, Altitude: 10}}

	done := make(chan error, 1)
	go func() {
		_, err := u.Upload(context.Background(), 1, waypoints, 10)
		done <- err
	}()

	// Heartbeats and telemetry keep flowing while the vehicle ignores
	// the mission handshake; the item deadline must still fire.
	select {
	case err := <-done:
		var timeout *UploadTimeoutError
		assert.ErrorAs(t, err, &timeout)
	case <-time.After(2 * time.Second):
		t.Fatal("upload never timed out against a chatty vehicle")
	}
}

// stuckFleet serves a link that accepts writes but never answers.
type stuckFleet struct{}

func (f *stuckFleet) Link(int) (link.Link, error) { return &silentLink{}, nil }

func (f *stuckFleet) Subscribe(int) (<-chan link.Event, func(), error) {
	return make(chan link.Event), func() {}, nil
}

func (f *stuckFleet) Snapshot(int) (telemetry.Snapshot, bool) {
	return telemetry.Snapshot{}, false
}

// noisyFleet serves a silent link behind a subscription that streams
// heartbeats, the shape of a vehicle whose autopilot is alive but whose
// mission handler is wedged.
type noisyFleet struct {
	stop chan struct{}
}

func (f *noisyFleet) Link(int) (link.Link, error) { return &silentLink{}, nil }

func (f *noisyFleet) Subscribe(int) (<-chan link.Event, func(), error) {
	events := make(chan link.Event)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-f.stop:
				return
			case <-ticker.C:
				select {
				case events <- link.Message{Msg: &common.MessageHeartbeat{Type: common.MAV_TYPE_QUADROTOR}, SystemID: 1, ComponentID: 1}:
				case <-f.stop:
					return
				}
			}
		}
	}()
	return events, func() {}, nil
}

func (f *noisyFleet) Snapshot(int) (telemetry.Snapshot, bool) {
	return telemetry.Snapshot{}, false
}

type silentLink struct{}

func (l *silentLink) Open(context.Context) error  { return nil }
func (l *silentLink) Close() error                { return nil }
func (l *silentLink) Send(message.Message) error  { return nil }
func (l *silentLink) Events() <-chan link.Event   { return nil }
func (l *silentLink) Connected() bool             { return true }
func (l *silentLink) Target() (uint8, uint8)      { return 1, 1 }
func (l *silentLink) Seq() uint8                  { return 0 }
func (l *silentLink) IsSimulated() bool           { return true }
