package broker

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrifly-io/agrifly/internal/operator"
)

func newTestBroker(t *testing.T) (*Broker, *websocket.Conn) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := newFileConfig()
	cfg.ArchiveDir = t.TempDir()

	b, err := New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(b.registry.Close)
	t.Cleanup(b.hub.Close)

	srv := httptest.NewServer(b.hub)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return b, conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	frame, err := json.Marshal(operator.Event{Event: event, Data: payload})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

// readUntil drains frames until the named event arrives.
func readUntil(t *testing.T, conn *websocket.Conn, event string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))

	for time.Now().Before(deadline) {
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)

		var ev operator.Event
		require.NoError(t, json.Unmarshal(payload, &ev))
		if ev.Event != event {
			continue
		}
		var data map[string]any
		require.NoError(t, json.Unmarshal(ev.Data, &data))
		return data
	}
	t.Fatalf("no %s event before deadline", event)
	return nil
}

// commandResult waits for the command_result answering cmd.
func commandResult(t *testing.T, conn *websocket.Conn, cmd string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		data := readUntil(t, conn, "command_result")
		if data["command"] == cmd {
			return data
		}
	}
	t.Fatalf("no command_result for %s before deadline", cmd)
	return nil
}

func TestBackfillOnConnect(t *testing.T) {
	_, conn := newTestBroker(t)

	data := readUntil(t, conn, "drones_status")
	drones, ok := data["drones"].([]any)
	require.True(t, ok)
	assert.Empty(t, drones)
}

func TestSimulateThenArm(t *testing.T) {
	b, conn := newTestBroker(t)

	send(t, conn, "simulate", map[string]any{"vehicle_id": 1})
	res := commandResult(t, conn, "simulate")
	assert.Equal(t, true, res["success"])
	assert.Equal(t, 1.0, res["vehicle_id"])
	assert.True(t, b.registry.Known(1))

	send(t, conn, "arm", map[string]any{"vehicle_id": 1})
	res = commandResult(t, conn, "arm")
	assert.Equal(t, true, res["success"])
}

func TestCommandOnUnknownVehicleFails(t *testing.T) {
	_, conn := newTestBroker(t)

	send(t, conn, "arm", map[string]any{"vehicle_id": 42})
	res := commandResult(t, conn, "arm")
	assert.Equal(t, false, res["success"])
	assert.Contains(t, res["error"], "unknown vehicle")
}

func TestRequestDroneList(t *testing.T) {
	b, conn := newTestBroker(t)
	require.NoError(t, b.registry.Simulate(1))

	// Skip the connect-time backfill frame before asking.
	readUntil(t, conn, "drones_status")

	send(t, conn, "request_drone_list", map[string]any{})
	data := readUntil(t, conn, "drones_status")
	drones, ok := data["drones"].([]any)
	require.True(t, ok)
	require.Len(t, drones, 1)
}

func TestSprayFlowOverChannel(t *testing.T) {
	_, conn := newTestBroker(t)

	targets := []map[string]any{
		{"detection_id": "d1", "lat": 23.295, "lon": 85.31},
		{"detection_id": "d2", "lat": 23.296, "lon": 85.311},
	}
	send(t, conn, "spray_queue_targets", map[string]any{"vehicle_id": 1, "targets": targets})
	res := commandResult(t, conn, "spray_queue_targets")
	assert.Equal(t, true, res["success"])

	send(t, conn, "spray_start", map[string]any{"vehicle_id": 1})
	res = commandResult(t, conn, "spray_start")
	assert.Equal(t, true, res["success"])

	started := readUntil(t, conn, "spray_mission_started")
	assert.Equal(t, 1.0, started["vehicle_id"])
	readUntil(t, conn, "spray_next_target")

	send(t, conn, "spray_stop", map[string]any{"vehicle_id": 1})
	res = commandResult(t, conn, "spray_stop")
	assert.Equal(t, true, res["success"])
	readUntil(t, conn, "spray_mission_stopped")
}

func TestStopMissionWithoutRunFails(t *testing.T) {
	_, conn := newTestBroker(t)

	send(t, conn, "stop_mission", map[string]any{"vehicle_id": 1})
	res := commandResult(t, conn, "stop_mission")
	assert.Equal(t, false, res["success"])
	assert.Contains(t, res["error"], "no active mission")
}

func TestUnknownEventIsIgnored(t *testing.T) {
	_, conn := newTestBroker(t)

	send(t, conn, "self_destruct", map[string]any{"vehicle_id": 1})

	// The channel stays usable afterwards.
	send(t, conn, "request_drone_list", map[string]any{})
	readUntil(t, conn, "drones_status")
}

func TestReloadSyncsNewVehicles(t *testing.T) {
	b, _ := newTestBroker(t)

	cfg := newFileConfig()
	cfg.Vehicles = []VehicleConfig{{ID: 7, Endpoint: "simulated"}}
	b.Reload(cfg)

	require.Eventually(t, func() bool { return b.registry.Known(7) },
		2*time.Second, 50*time.Millisecond, "vehicle 7 should be connected after reload")
	require.Len(t, b.registry.List(), 1)
	assert.Equal(t, 7, b.registry.List()[0].ID)
}
