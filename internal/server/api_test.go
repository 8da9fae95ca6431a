package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrifly-io/agrifly/internal/command"
	"github.com/agrifly-io/agrifly/internal/mission"
	"github.com/agrifly-io/agrifly/internal/registry"
	"github.com/agrifly-io/agrifly/internal/spray"
	"github.com/agrifly-io/agrifly/pkg/options"
)

type fakeFleet struct {
	known map[int]bool
	calls []string
}

func (f *fakeFleet) List() []registry.VehicleStatus {
	return []registry.VehicleStatus{{ID: 1, Connected: true, Simulated: true}}
}

func (f *fakeFleet) op(name string, vehicleID int) error {
	if !f.known[vehicleID] {
		return registry.ErrUnknownVehicle
	}
	f.calls = append(f.calls, name)
	return nil
}

func (f *fakeFleet) Connect(vehicleID int, _ string, _ int) error { return f.op("connect", vehicleID) }
func (f *fakeFleet) Disconnect(vehicleID int) error               { return f.op("disconnect", vehicleID) }
func (f *fakeFleet) Reconnect(vehicleID int) error                { return f.op("reconnect", vehicleID) }
func (f *fakeFleet) Simulate(vehicleID int) error                 { return f.op("simulate", vehicleID) }

type fakeCommander struct {
	lastReq command.Request
	err     error
}

func (f *fakeCommander) Execute(_ context.Context, _ int, req command.Request) (command.Result, error) {
	f.lastReq = req
	if f.err != nil {
		return command.Result{}, f.err
	}
	return command.Result{Command: req.Command}, nil
}

type fakeMissions struct {
	startErr error
	stopped  bool
}

func (f *fakeMissions) Start(_ context.Context, vehicleID int, _ []mission.Waypoint, _ float64) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	return "mission_1_1", nil
}

func (f *fakeMissions) Pause(context.Context, int) error  { return nil }
func (f *fakeMissions) Resume(context.Context, int) error { return nil }

func (f *fakeMissions) Stop(context.Context, int) error {
	f.stopped = true
	return nil
}

func (f *fakeMissions) Status(vehicleID int) mission.Status {
	return mission.Status{State: mission.StateRunning, VehicleID: vehicleID, Total: 7, Current: 3}
}

type fakeUploader struct{}

func (fakeUploader) Upload(_ context.Context, _ int, waypoints []mission.Waypoint, _ float64) (int, error) {
	if len(waypoints) == 0 {
		return 0, mission.ErrEmptyMission
	}
	return len(waypoints) + 3, nil
}

type fakeSprays struct {
	queued []spray.TargetSpec
}

func (f *fakeSprays) QueueTargets(_ int, specs []spray.TargetSpec) []spray.Target {
	f.queued = append(f.queued, specs...)
	out := make([]spray.Target, len(specs))
	return out
}

func (f *fakeSprays) ClearQueue(int) {}

func (f *fakeSprays) Start(int) (string, error) {
	if len(f.queued) == 0 {
		return "", spray.ErrNoTargets
	}
	return "spray_1_1", nil
}

func (f *fakeSprays) Stop(int) error           { return nil }
func (f *fakeSprays) RefillComplete(int) error { return nil }

func (f *fakeSprays) Status(vehicleID int) spray.Status {
	return spray.Status{State: spray.StatusActive, VehicleID: vehicleID}
}

type testEnv struct {
	srv    *httptest.Server
	fleet  *fakeFleet
	cmd    *fakeCommander
	runs   *fakeMissions
	sprays *fakeSprays
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		fleet:  &fakeFleet{known: map[int]bool{1: true}},
		cmd:    &fakeCommander{},
		runs:   &fakeMissions{},
		sprays: &fakeSprays{},
	}
	api := NewAPI(env.fleet, env.cmd, env.runs, fakeUploader{}, env.sprays)
	s := NewServer(options.NewHttpOptions(), api, nil)

	env.srv = httptest.NewServer(s.server.Handler)
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func TestHealthProbes(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(env.srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListDrones(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodGet, "/drones", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])

	drones, ok := body["drones"].([]any)
	require.True(t, ok)
	require.Len(t, drones, 1)
}

func TestLifecycleEndpoints(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodPost, "/drone/1/connect", `{"endpoint":"/dev/ttyUSB0","baud":57600}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "connect", body["command"])

	code, _ = env.do(t, http.MethodPost, "/drone/1/disconnect", "")
	assert.Equal(t, http.StatusOK, code)

	assert.Equal(t, []string{"connect", "disconnect"}, env.fleet.calls)
}

func TestUnknownVehicleIs404(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodPost, "/drone/99/reconnect", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["error"], "unknown vehicle")
}

func TestCommandEndpoints(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodPost, "/drone/1/arm", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "arm", body["command"])

	code, _ = env.do(t, http.MethodPost, "/drone/1/takeoff", `{"altitude":15}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, command.CmdTakeoff, env.cmd.lastReq.Command)
	assert.Equal(t, 15.0, env.cmd.lastReq.Altitude)

	code, _ = env.do(t, http.MethodPost, "/drone/1/goto", `{"latitude":23.29,"longitude":85.31,"altitude":20}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 23.29, env.cmd.lastReq.Latitude)

	code, _ = env.do(t, http.MethodPost, "/drone/1/mode", `{"mode":"LOITER"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "LOITER", env.cmd.lastReq.Mode)
}

func TestRejectedCommandIs400WithDiagnostic(t *testing.T) {
	env := newTestEnv(t)
	env.cmd.err = &command.RejectedError{Command: command.CmdArm, Diagnostic: "Vehicle safety checks failed"}

	code, body := env.do(t, http.MethodPost, "/drone/1/arm", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Vehicle safety checks failed", body["error"])
}

func TestMalformedBodyIs400(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodPost, "/drone/1/takeoff", `{"altitude":`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "invalid request body")
}

func TestMissionEndpoints(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodPost, "/drone/1/mission/upload",
		`{"waypoints":[{"lat":23.295,"lon":85.31,"alt":18}],"survey_altitude":18}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 4.0, body["total_items"])

	code, body = env.do(t, http.MethodPost, "/drone/1/mission/upload", `{"waypoints":[]}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "empty mission")

	code, body = env.do(t, http.MethodPost, "/drone/1/mission/start",
		`{"waypoints":[{"lat":23.295,"lon":85.31,"alt":18}]}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "mission_1_1", body["mission_id"])

	code, body = env.do(t, http.MethodGet, "/drone/1/mission/status", "")
	assert.Equal(t, http.StatusOK, code)
	status, ok := body["status"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, mission.StateRunning, status["state"])

	code, _ = env.do(t, http.MethodPost, "/drone/1/mission/stop", "")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.runs.stopped)
}

func TestMissionActiveIs400(t *testing.T) {
	env := newTestEnv(t)
	env.runs.startErr = mission.ErrMissionActive

	code, body := env.do(t, http.MethodPost, "/drone/1/mission/start",
		`{"waypoints":[{"lat":1,"lon":2,"alt":3}]}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "already active")
}

func TestSprayEndpoints(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodPost, "/drone/1/spray/start", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "no targets")

	code, body = env.do(t, http.MethodPost, "/drone/1/spray/queue",
		`{"targets":[{"detection_id":"d1","lat":23.29,"lon":85.31}]}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1.0, body["queued"])

	code, body = env.do(t, http.MethodPost, "/drone/1/spray/start", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "spray_1_1", body["mission_id"])

	code, body = env.do(t, http.MethodGet, "/drone/1/spray/status", "")
	assert.Equal(t, http.StatusOK, code)
	status, ok := body["status"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, spray.StatusActive, status["state"])
}

func TestDetectionEndpoints(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.do(t, http.MethodPost, "/drone/1/detection/start", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, command.CmdDetectionStart, env.cmd.lastReq.Command)

	code, _ = env.do(t, http.MethodPost, "/drone/1/detection/stats", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, command.CmdDetectionStats, env.cmd.lastReq.Command)
}
