// Package server exposes the diagnostic HTTP surface: health probes,
// Prometheus metrics, fleet listing, and per-vehicle command, mission,
// and spray endpoints. The operator WebSocket channel mounts on the
// same router.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/agrifly-io/agrifly/internal/command"
	"github.com/agrifly-io/agrifly/internal/mission"
	"github.com/agrifly-io/agrifly/internal/registry"
	"github.com/agrifly-io/agrifly/internal/spray"
	"github.com/agrifly-io/agrifly/pkg/log"
)

// Fleet is the registry surface used by the API.
type Fleet interface {
	List() []registry.VehicleStatus
	Connect(vehicleID int, endpoint string, baud int) error
	Disconnect(vehicleID int) error
	Reconnect(vehicleID int) error
	Simulate(vehicleID int) error
}

// Commander executes a single vehicle command and waits for its ack.
type Commander interface {
	Execute(ctx context.Context, vehicleID int, req command.Request) (command.Result, error)
}

// MissionService is the automated-mission surface used by the API.
type MissionService interface {
	Start(ctx context.Context, vehicleID int, waypoints []mission.Waypoint, surveyAlt float64) (string, error)
	Pause(ctx context.Context, vehicleID int) error
	Resume(ctx context.Context, vehicleID int) error
	Stop(ctx context.Context, vehicleID int) error
	Status(vehicleID int) mission.Status
}

// Uploader pushes a waypoint list without starting a run.
type Uploader interface {
	Upload(ctx context.Context, vehicleID int, waypoints []mission.Waypoint, surveyAlt float64) (int, error)
}

// SprayService is the spray-run surface used by the API.
type SprayService interface {
	QueueTargets(vehicleID int, specs []spray.TargetSpec) []spray.Target
	ClearQueue(vehicleID int)
	Start(vehicleID int) (string, error)
	Stop(vehicleID int) error
	RefillComplete(vehicleID int) error
	Status(vehicleID int) spray.Status
}

// API holds the handler dependencies.
type API struct {
	logger    log.Logger
	fleet     Fleet
	commander Commander
	missions  MissionService
	uploader  Uploader
	sprays    SprayService
}

// NewAPI wires the HTTP handlers onto the broker components.
func NewAPI(fleet Fleet, commander Commander, missions MissionService, uploader Uploader, sprays SprayService) *API {
	return &API{
		logger:    log.WithName("api"),
		fleet:     fleet,
		commander: commander,
		missions:  missions,
		uploader:  uploader,
		sprays:    sprays,
	}
}

// Register mounts every API route on the router.
func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/drones", a.handleDrones).Methods(http.MethodGet)

	d := r.PathPrefix("/drone/{id:[0-9]+}").Subrouter()

	d.HandleFunc("/connect", a.handleConnect).Methods(http.MethodPost)
	d.HandleFunc("/disconnect", a.lifecycle("disconnect", a.fleet.Disconnect)).Methods(http.MethodPost)
	d.HandleFunc("/reconnect", a.lifecycle("reconnect", a.fleet.Reconnect)).Methods(http.MethodPost)
	d.HandleFunc("/simulate", a.lifecycle("simulate", a.fleet.Simulate)).Methods(http.MethodPost)

	d.HandleFunc("/arm", a.simpleCommand(command.CmdArm)).Methods(http.MethodPost)
	d.HandleFunc("/disarm", a.simpleCommand(command.CmdDisarm)).Methods(http.MethodPost)
	d.HandleFunc("/takeoff", a.handleTakeoff).Methods(http.MethodPost)
	d.HandleFunc("/land", a.simpleCommand(command.CmdLand)).Methods(http.MethodPost)
	d.HandleFunc("/rtl", a.simpleCommand(command.CmdRTL)).Methods(http.MethodPost)
	d.HandleFunc("/goto", a.handleGoto).Methods(http.MethodPost)
	d.HandleFunc("/mode", a.handleMode).Methods(http.MethodPost)

	d.HandleFunc("/mission/upload", a.handleMissionUpload).Methods(http.MethodPost)
	d.HandleFunc("/mission/start", a.handleMissionStart).Methods(http.MethodPost)
	d.HandleFunc("/mission/pause", a.missionLifecycle("pause_mission", a.missions.Pause)).Methods(http.MethodPost)
	d.HandleFunc("/mission/resume", a.missionLifecycle("resume_mission", a.missions.Resume)).Methods(http.MethodPost)
	d.HandleFunc("/mission/stop", a.missionLifecycle("stop_mission", a.missions.Stop)).Methods(http.MethodPost)
	d.HandleFunc("/mission/status", a.handleMissionStatus).Methods(http.MethodGet)

	d.HandleFunc("/spray/queue", a.handleSprayQueue).Methods(http.MethodPost)
	d.HandleFunc("/spray/start", a.handleSprayStart).Methods(http.MethodPost)
	d.HandleFunc("/spray/stop", a.sprayLifecycle("spray_stop", a.sprays.Stop)).Methods(http.MethodPost)
	d.HandleFunc("/spray/refill-complete", a.sprayLifecycle("spray_refill_complete", a.sprays.RefillComplete)).Methods(http.MethodPost)
	d.HandleFunc("/spray/clear-queue", a.handleSprayClearQueue).Methods(http.MethodPost)
	d.HandleFunc("/spray/status", a.handleSprayStatus).Methods(http.MethodGet)

	d.HandleFunc("/detection/start", a.simpleCommand(command.CmdDetectionStart)).Methods(http.MethodPost)
	d.HandleFunc("/detection/stop", a.simpleCommand(command.CmdDetectionStop)).Methods(http.MethodPost)
	d.HandleFunc("/detection/stats", a.simpleCommand(command.CmdDetectionStats)).Methods(http.MethodPost)
}

func (a *API) handleDrones(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"drones":  a.fleet.List(),
	})
}

func (a *API) handleConnect(w http.ResponseWriter, r *http.Request) {
	id := vehicleID(r)
	var body struct {
		Endpoint string `json:"endpoint"`
		Baud     int    `json:"baud"`
	}
	if !decodeBody(w, r, "connect", &body) {
		return
	}
	if err := a.fleet.Connect(id, body.Endpoint, body.Baud); err != nil {
		writeError(w, "connect", err)
		return
	}
	writeOK(w, "connect", nil)
}

// lifecycle covers the registry operations that take only a vehicle id.
func (a *API) lifecycle(name string, op func(int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(vehicleID(r)); err != nil {
			writeError(w, name, err)
			return
		}
		writeOK(w, name, nil)
	}
}

// simpleCommand covers commands with no request parameters.
func (a *API) simpleCommand(cmd string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a.execute(w, r, command.Request{Command: cmd})
	}
}

func (a *API) handleTakeoff(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Altitude float64 `json:"altitude"`
	}
	if !decodeBody(w, r, command.CmdTakeoff, &body) {
		return
	}
	a.execute(w, r, command.Request{Command: command.CmdTakeoff, Altitude: body.Altitude})
}

func (a *API) handleGoto(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Altitude  float64 `json:"altitude"`
	}
	if !decodeBody(w, r, command.CmdGoto, &body) {
		return
	}
	a.execute(w, r, command.Request{
		Command:   command.CmdGoto,
		Latitude:  body.Latitude,
		Longitude: body.Longitude,
		Altitude:  body.Altitude,
	})
}

func (a *API) handleMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode string `json:"mode"`
	}
	if !decodeBody(w, r, command.CmdSetMode, &body) {
		return
	}
	a.execute(w, r, command.Request{Command: command.CmdSetMode, Mode: body.Mode})
}

func (a *API) execute(w http.ResponseWriter, r *http.Request, req command.Request) {
	res, err := a.commander.Execute(r.Context(), vehicleID(r), req)
	if err != nil {
		writeError(w, req.Command, err)
		return
	}
	writeOK(w, req.Command, map[string]any{"ack": res.Ack})
}

type missionBody struct {
	Waypoints      []mission.Waypoint `json:"waypoints"`
	SurveyAltitude float64            `json:"survey_altitude"`
}

func (a *API) handleMissionUpload(w http.ResponseWriter, r *http.Request) {
	var body missionBody
	if !decodeBody(w, r, "upload_mission", &body) {
		return
	}
	total, err := a.uploader.Upload(r.Context(), vehicleID(r), body.Waypoints, body.SurveyAltitude)
	if err != nil {
		writeError(w, "upload_mission", err)
		return
	}
	writeOK(w, "upload_mission", map[string]any{"total_items": total})
}

func (a *API) handleMissionStart(w http.ResponseWriter, r *http.Request) {
	var body missionBody
	if !decodeBody(w, r, "start_mission", &body) {
		return
	}
	missionID, err := a.missions.Start(r.Context(), vehicleID(r), body.Waypoints, body.SurveyAltitude)
	if err != nil {
		writeError(w, "start_mission", err)
		return
	}
	writeOK(w, "start_mission", map[string]any{"mission_id": missionID})
}

func (a *API) missionLifecycle(name string, op func(context.Context, int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(r.Context(), vehicleID(r)); err != nil {
			writeError(w, name, err)
			return
		}
		writeOK(w, name, nil)
	}
}

func (a *API) handleMissionStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  a.missions.Status(vehicleID(r)),
	})
}

func (a *API) handleSprayQueue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Targets []spray.TargetSpec `json:"targets"`
	}
	if !decodeBody(w, r, "spray_queue_targets", &body) {
		return
	}
	queued := a.sprays.QueueTargets(vehicleID(r), body.Targets)
	writeOK(w, "spray_queue_targets", map[string]any{"queued": len(queued)})
}

func (a *API) handleSprayStart(w http.ResponseWriter, r *http.Request) {
	missionID, err := a.sprays.Start(vehicleID(r))
	if err != nil {
		writeError(w, "spray_start", err)
		return
	}
	writeOK(w, "spray_start", map[string]any{"mission_id": missionID})
}

func (a *API) sprayLifecycle(name string, op func(int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(vehicleID(r)); err != nil {
			writeError(w, name, err)
			return
		}
		writeOK(w, name, nil)
	}
}

func (a *API) handleSprayClearQueue(w http.ResponseWriter, r *http.Request) {
	a.sprays.ClearQueue(vehicleID(r))
	writeOK(w, "spray_clear_queue", nil)
}

func (a *API) handleSprayStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  a.sprays.Status(vehicleID(r)),
	})
}

// vehicleID reads the path id. The route pattern guarantees digits.
func vehicleID(r *http.Request) int {
	id, _ := strconv.Atoi(mux.Vars(r)["id"])
	return id
}

func decodeBody(w http.ResponseWriter, r *http.Request, cmd string, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"command": cmd,
			"error":   "invalid request body: " + err.Error(),
		})
		return false
	}
	return true
}

func writeOK(w http.ResponseWriter, cmd string, extra map[string]any) {
	body := map[string]any{"success": true, "command": cmd}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

func writeError(w http.ResponseWriter, cmd string, err error) {
	writeJSON(w, statusFor(err), map[string]any{
		"success": false,
		"command": cmd,
		"error":   err.Error(),
	})
}

// statusFor maps component errors onto HTTP codes: unknown vehicles are
// 404, expected rejections are 400, anything else is 500.
func statusFor(err error) int {
	if errors.Is(err, registry.ErrUnknownVehicle) {
		return http.StatusNotFound
	}

	switch {
	case errors.Is(err, registry.ErrNotConnected),
		errors.Is(err, command.ErrUnknownCommand),
		errors.Is(err, command.ErrUnknownMode),
		errors.Is(err, mission.ErrEmptyMission),
		errors.Is(err, mission.ErrUploadInProgress),
		errors.Is(err, mission.ErrMissionActive),
		errors.Is(err, mission.ErrNoMission),
		errors.Is(err, spray.ErrNoTargets),
		errors.Is(err, spray.ErrMissionActive),
		errors.Is(err, spray.ErrNoMission),
		errors.Is(err, spray.ErrTankLow),
		errors.Is(err, spray.ErrWrongTarget):
		return http.StatusBadRequest
	}

	var rejected *command.RejectedError
	var cmdTimeout *command.TimeoutError
	var upRejected *mission.UploadRejectedError
	var upTimeout *mission.UploadTimeoutError
	if errors.As(err, &rejected) || errors.As(err, &cmdTimeout) ||
		errors.As(err, &upRejected) || errors.As(err, &upTimeout) {
		return http.StatusBadRequest
	}

	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
