package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrifly-io/agrifly/internal/link"
	"github.com/agrifly-io/agrifly/internal/statustext"
	"github.com/agrifly-io/agrifly/internal/telemetry"
)

// recorder captures published operator events for assertions.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Publish(event string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

func newTestRegistry(t *testing.T) (*Registry, *recorder) {
	t.Helper()
	rec := &recorder{}
	r := New(context.Background(), Options{
		Aggregator: telemetry.NewAggregator(),
		Parser:     statustext.NewParser(statustext.DefaultDedupSize),
		Publisher:  rec,
	})
	t.Cleanup(r.Close)
	return r, rec
}

func TestSimulateMarksConnected(t *testing.T) {
	r, rec := newTestRegistry(t)

	require.NoError(t, r.Simulate(1))

	require.Eventually(t, func() bool {
		snap, ok := r.Snapshot(1)
		return ok && snap.Connected
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, rec.has("drone_connected"))
	assert.True(t, r.Known(1))

	list := r.List()
	require.Len(t, list, 1)
	assert.True(t, list[0].Simulated)
}

func TestDisconnectKeepsEntry(t *testing.T) {
	r, _ := newTestRegistry(t)

	require.NoError(t, r.Simulate(1))
	require.Eventually(t, func() bool {
		_, err := r.Link(1)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, r.Disconnect(1))

	require.Eventually(t, func() bool {
		snap, ok := r.Snapshot(1)
		return ok && !snap.Connected
	}, 2*time.Second, 10*time.Millisecond)

	// Entry survives so the operator can reconnect later.
	assert.True(t, r.Known(1))
	_, err := r.Link(1)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestUnknownVehicle(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Link(99)
	assert.ErrorIs(t, err, ErrUnknownVehicle)
	assert.ErrorIs(t, r.Disconnect(99), ErrUnknownVehicle)
	assert.ErrorIs(t, r.Reconnect(99), ErrUnknownVehicle)

	_, _, err = r.Subscribe(99)
	assert.ErrorIs(t, err, ErrUnknownVehicle)
}

func TestSubscribeSeesProtocolTraffic(t *testing.T) {
	r, _ := newTestRegistry(t)

	require.NoError(t, r.Simulate(1))

	events, cancel, err := r.Subscribe(1)
	require.NoError(t, err)
	defer cancel()

	lnk, err := r.Link(1)
	require.NoError(t, err)

	require.NoError(t, lnk.Send(&common.MessageCommandLong{
		Command: common.MAV_CMD_COMPONENT_ARM_DISARM,
		Param1:  1,
	}))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if m, ok := ev.(link.Message); ok {
				if ack, isAck := m.Msg.(*common.MessageCommandAck); isAck {
					assert.Equal(t, common.MAV_RESULT_ACCEPTED, ack.Result)
					return
				}
			}
		case <-deadline:
			t.Fatal("no command ack reached the subscriber")
		}
	}
}

func TestSyncSkipsHealthyLinks(t *testing.T) {
	r, _ := newTestRegistry(t)

	configs := []link.Config{{VehicleID: 1, Endpoint: link.Simulated}}

	out := r.Sync(configs)
	require.NoError(t, out[1])

	first, err := r.Link(1)
	require.NoError(t, err)

	out = r.Sync(configs)
	require.NoError(t, out[1])

	second, err := r.Link(1)
	require.NoError(t, err)
	assert.Same(t, first, second, "a healthy link must not be replaced")
}
