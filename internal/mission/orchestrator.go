package mission

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/agrifly-io/agrifly/internal/command"
	fsmutil "github.com/agrifly-io/agrifly/internal/pkg/util/fsm"
	"github.com/agrifly-io/agrifly/internal/telemetry"
	"github.com/agrifly-io/agrifly/pkg/log"
)

// Run states.
const (
	StateIdle      = "idle"
	StateUploading = "uploading"
	StateArming    = "arming"
	StateGuided    = "guided"
	StateAuto      = "auto"
	StateRunning   = "running"
	StatePaused    = "paused"
	StateStopped   = "stopped"
)

// Run transitions.
const (
	eventUpload   = "upload"
	eventArm      = "arm"
	eventGuide    = "guide"
	eventAuto     = "auto_mode"
	eventRun      = "run"
	eventPause    = "pause"
	eventResume   = "resume"
	eventComplete = "complete"
	eventFail     = "fail"
	eventStop     = "stop"
)

const (
	// DefaultPollInterval is the progress polling period.
	DefaultPollInterval = 2 * time.Second

	// positionMismatchMeters flags a start far from the first waypoint.
	positionMismatchMeters = 10.0
)

// Pre-arm readiness heuristic. Failing checks warn but never block.
const (
	preArmFixType    = 3
	preArmSatellites = 8
	preArmVoltage    = 10.5
)

// Status is the externally visible state of one vehicle's mission run.
type Status struct {
	State            string  `json:"state"`
	MissionID        string  `json:"mission_id,omitempty"`
	VehicleID        int     `json:"vehicle_id"`
	Total            int     `json:"total"`
	Current          int     `json:"current"`
	ProgressPercent  float64 `json:"progress_percent"`
	PositionMismatch bool    `json:"position_mismatch"`
}

// OrchestratorOptions configures an Orchestrator.
type OrchestratorOptions struct {
	Fleet        Fleet
	Uploader     *Uploader
	Commander    Commander
	Publisher    Publisher
	Archive      *Archive
	PollInterval time.Duration
}

// Orchestrator sequences start requests into upload, arm, mode
// transitions, and progress polling.
type Orchestrator struct {
	logger       log.Logger
	fleet        Fleet
	uploader     *Uploader
	commander    Commander
	pub          Publisher
	archive      *Archive
	pollInterval time.Duration

	mu   sync.Mutex
	runs map[int]*run
}

type run struct {
	id        string
	vehicleID int
	machine   *fsm.FSM
	startedAt time.Time
	cancel    context.CancelFunc

	mu               sync.Mutex
	total            int
	current          int
	positionMismatch bool
	rows             [][]string
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	pub := opts.Publisher
	if pub == nil {
		pub = nopPublisher{}
	}
	interval := opts.PollInterval
	if interval == 0 {
		interval = DefaultPollInterval
	}
	return &Orchestrator{
		logger:       log.WithName("mission"),
		fleet:        opts.Fleet,
		uploader:     opts.Uploader,
		commander:    opts.Commander,
		pub:          pub,
		archive:      opts.Archive,
		pollInterval: interval,
		runs:         make(map[int]*run),
	}
}

func (o *Orchestrator) newMachine(r *run) *fsm.FSM {
	events := fsm.Events{
		{Name: eventUpload, Src: []string{StateIdle, StateStopped}, Dst: StateUploading},
		{Name: eventArm, Src: []string{StateUploading}, Dst: StateArming},
		{Name: eventGuide, Src: []string{StateArming}, Dst: StateGuided},
		{Name: eventAuto, Src: []string{StateGuided}, Dst: StateAuto},
		{Name: eventRun, Src: []string{StateAuto}, Dst: StateRunning},
		{Name: eventPause, Src: []string{StateRunning}, Dst: StatePaused},
		{Name: eventResume, Src: []string{StatePaused}, Dst: StateRunning},
		{Name: eventComplete, Src: []string{StateRunning, StatePaused}, Dst: StateIdle},
		{Name: eventFail, Src: []string{StateUploading, StateArming, StateGuided, StateAuto}, Dst: StateIdle},
		{Name: eventStop, Src: []string{
			StateUploading, StateArming, StateGuided, StateAuto, StateRunning, StatePaused,
		}, Dst: StateStopped},
	}

	callbacks := fsm.Callbacks{
		"enter_state": fsmutil.WrapEvent(func(ctx context.Context, e *fsm.Event) error {
			o.logger.Info("Mission state changed",
				"vehicle", r.vehicleID, "mission", r.id, "from", e.Src, "to", e.Dst)
			return nil
		}),
	}

	return fsm.NewFSM(StateIdle, events, callbacks)
}

// Start uploads the waypoints and walks the run to the running state.
// It returns the mission id once progress polling has started.
func (o *Orchestrator) Start(ctx context.Context, vehicleID int, waypoints []Waypoint, surveyAlt float64) (string, error) {
	if len(waypoints) == 0 {
		return "", ErrEmptyMission
	}

	o.mu.Lock()
	if existing := o.runs[vehicleID]; existing != nil && existing.active() {
		o.mu.Unlock()
		return "", ErrMissionActive
	}
	r := &run{
		id:        fmt.Sprintf("mission_%s_%d", time.Now().UTC().Format("20060102T150405"), vehicleID),
		vehicleID: vehicleID,
		startedAt: time.Now(),
		current:   -1,
	}
	r.machine = o.newMachine(r)
	o.runs[vehicleID] = r
	o.mu.Unlock()

	if err := r.machine.Event(ctx, eventUpload); err != nil {
		return "", err
	}
	o.publishStatus(r, "uploading waypoints")

	total, err := o.uploader.Upload(ctx, vehicleID, waypoints, surveyAlt)
	if err != nil {
		return "", o.fail(ctx, r, fmt.Errorf("upload failed: %w", err))
	}
	r.mu.Lock()
	r.total = total
	r.mu.Unlock()
	o.publishStatus(r, fmt.Sprintf("%d waypoints uploaded", len(waypoints)))

	o.preArmWarnings(vehicleID)
	o.checkPosition(r, waypoints[0])

	if err := r.machine.Event(ctx, eventArm); err != nil {
		return "", err
	}
	if _, err := o.commander.Execute(ctx, vehicleID, command.Request{Command: command.CmdArm}); err != nil {
		return "", o.fail(ctx, r, err)
	}

	if err := r.machine.Event(ctx, eventGuide); err != nil {
		return "", err
	}
	if _, err := o.commander.Execute(ctx, vehicleID, command.Request{Command: command.CmdSetMode, Mode: "GUIDED"}); err != nil {
		return "", o.fail(ctx, r, o.modeError("GUIDED", vehicleID, err))
	}

	if err := r.machine.Event(ctx, eventAuto); err != nil {
		return "", err
	}
	if _, err := o.commander.Execute(ctx, vehicleID, command.Request{Command: command.CmdSetMode, Mode: "AUTO"}); err != nil {
		return "", o.fail(ctx, r, o.modeError("AUTO", vehicleID, err))
	}

	if err := r.machine.Event(ctx, eventRun); err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go o.progressLoop(runCtx, r)

	o.pub.Publish("mission_started", map[string]any{
		"mission_id":        r.id,
		"vehicle_id":        vehicleID,
		"total":             total,
		"position_mismatch": r.mismatch(),
	})
	o.logger.Info("Mission started", "vehicle", vehicleID, "mission", r.id, "total", total)
	return r.id, nil
}

// Pause switches the vehicle to loiter and suspends progress reporting.
func (o *Orchestrator) Pause(ctx context.Context, vehicleID int) error {
	r := o.lookup(vehicleID)
	if r == nil || !r.active() {
		return ErrNoMission
	}
	if _, err := o.commander.Execute(ctx, vehicleID, command.Request{Command: command.CmdSetMode, Mode: "LOITER"}); err != nil {
		return err
	}
	if err := r.machine.Event(ctx, eventPause); err != nil {
		return err
	}
	o.pub.Publish("mission_paused", map[string]any{"mission_id": r.id, "vehicle_id": vehicleID})
	return nil
}

// Resume switches back to auto and resumes progress reporting.
func (o *Orchestrator) Resume(ctx context.Context, vehicleID int) error {
	r := o.lookup(vehicleID)
	if r == nil || r.machine.Current() != StatePaused {
		return ErrNoMission
	}
	if _, err := o.commander.Execute(ctx, vehicleID, command.Request{Command: command.CmdSetMode, Mode: "AUTO"}); err != nil {
		return err
	}
	if err := r.machine.Event(ctx, eventResume); err != nil {
		return err
	}
	o.publishStatus(r, "mission resumed")
	return nil
}

// Stop loiters the vehicle and ends the run regardless of its state.
func (o *Orchestrator) Stop(ctx context.Context, vehicleID int) error {
	r := o.lookup(vehicleID)
	if r == nil || !r.active() {
		return ErrNoMission
	}

	// Best effort: the run ends even when the mode switch fails.
	if _, err := o.commander.Execute(ctx, vehicleID, command.Request{Command: command.CmdSetMode, Mode: "LOITER"}); err != nil {
		o.logger.Warn("Loiter on stop failed", "vehicle", vehicleID, "error", err.Error())
	}

	if r.cancel != nil {
		r.cancel()
	}
	if err := r.machine.Event(ctx, eventStop); err != nil {
		return err
	}
	o.pub.Publish("mission_stopped", map[string]any{"mission_id": r.id, "vehicle_id": vehicleID})
	o.logger.Info("Mission stopped", "vehicle", vehicleID, "mission", r.id)
	return nil
}

// Status reports the current run, or an idle status when none exists.
func (o *Orchestrator) Status(vehicleID int) Status {
	r := o.lookup(vehicleID)
	if r == nil {
		return Status{State: StateIdle, VehicleID: vehicleID}
	}
	return r.status()
}

func (o *Orchestrator) lookup(vehicleID int) *run {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runs[vehicleID]
}

func (r *run) active() bool {
	state := r.machine.Current()
	return state != StateIdle && state != StateStopped
}

func (r *run) mismatch() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.positionMismatch
}

func (r *run) status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{
		State:            r.machine.Current(),
		MissionID:        r.id,
		VehicleID:        r.vehicleID,
		Total:            r.total,
		Current:          r.current,
		PositionMismatch: r.positionMismatch,
	}
	if r.total > 0 && r.current >= 0 {
		st.ProgressPercent = float64(r.current) / float64(r.total) * 100
	}
	return st
}

func (o *Orchestrator) fail(ctx context.Context, r *run, err error) error {
	if ferr := r.machine.Event(ctx, eventFail); ferr != nil {
		o.logger.Debug("Mission fail transition skipped", "error", ferr.Error())
	}
	o.pub.Publish("mission_status", map[string]any{
		"mission_id": r.id,
		"vehicle_id": r.vehicleID,
		"state":      r.machine.Current(),
		"error":      err.Error(),
	})
	o.logger.Error(err, "Mission step failed", "vehicle", r.vehicleID, "mission", r.id)
	return err
}

func (o *Orchestrator) modeError(mode string, vehicleID int, err error) error {
	current := "UNKNOWN"
	if snap, ok := o.fleet.Snapshot(vehicleID); ok && snap.Mode != "" {
		current = snap.Mode
	}
	return fmt.Errorf("set_mode %s rejected while in %s: %w", mode, current, err)
}

// preArmWarnings logs readiness issues without blocking the run.
func (o *Orchestrator) preArmWarnings(vehicleID int) {
	snap, ok := o.fleet.Snapshot(vehicleID)
	if !ok {
		o.logger.Warn("Pre-arm check skipped, no telemetry", "vehicle", vehicleID)
		return
	}
	if snap.FixType < preArmFixType {
		o.logger.Warn("Pre-arm: GPS fix below 3D", "vehicle", vehicleID, "fix", snap.FixType)
	}
	if snap.Satellites < preArmSatellites {
		o.logger.Warn("Pre-arm: low satellite count", "vehicle", vehicleID, "satellites", snap.Satellites)
	}
	if snap.Voltage < preArmVoltage {
		o.logger.Warn("Pre-arm: low battery voltage", "vehicle", vehicleID, "voltage", snap.Voltage)
	}
	if snap.Mode == "" {
		o.logger.Warn("Pre-arm: flight mode unknown", "vehicle", vehicleID)
	}
}

func (o *Orchestrator) checkPosition(r *run, first Waypoint) {
	snap, ok := o.fleet.Snapshot(r.vehicleID)
	if !ok {
		return
	}
	dist := haversineMeters(snap.Latitude, snap.Longitude, first.Latitude, first.Longitude)
	if dist > positionMismatchMeters {
		r.mu.Lock()
		r.positionMismatch = true
		r.mu.Unlock()
		o.logger.Warn("Vehicle far from first waypoint",
			"vehicle", r.vehicleID, "distance_m", fmt.Sprintf("%.1f", dist))
	}
}

func (o *Orchestrator) progressLoop(ctx context.Context, r *run) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			snap, ok := o.fleet.Snapshot(r.vehicleID)
			if !ok {
				continue
			}

			r.mu.Lock()
			r.current = snap.MissionCurrent
			r.rows = append(r.rows, telemetryRow(snap))
			total := r.total
			r.mu.Unlock()

			if r.machine.Current() == StatePaused {
				continue
			}

			st := r.status()
			o.pub.Publish("mission_status", map[string]any{
				"mission_id":        r.id,
				"vehicle_id":        r.vehicleID,
				"state":             st.State,
				"current":           st.Current,
				"total":             st.Total,
				"progress_percent":  st.ProgressPercent,
				"position_mismatch": st.PositionMismatch,
			})

			if snap.MissionCurrent >= total-1 {
				o.complete(r)
				return
			}
		}
	}
}

func (o *Orchestrator) complete(r *run) {
	ctx := context.Background()
	if err := r.machine.Event(ctx, eventComplete); err != nil {
		o.logger.Debug("Mission complete transition skipped", "error", err.Error())
	}

	o.pub.Publish("mission_status", map[string]any{
		"mission_id":       r.id,
		"vehicle_id":       r.vehicleID,
		"state":            StateIdle,
		"progress_percent": 100.0,
		"complete":         true,
	})
	o.logger.Info("Mission complete", "vehicle", r.vehicleID, "mission", r.id)

	if o.archive == nil {
		return
	}

	r.mu.Lock()
	meta := Metadata{
		ID:               r.id,
		VehicleID:        r.vehicleID,
		StartedAt:        r.startedAt,
		EndedAt:          time.Now(),
		TotalItems:       r.total,
		PositionMismatch: r.positionMismatch,
	}
	rows := make([][]string, len(r.rows))
	copy(rows, r.rows)
	r.mu.Unlock()

	downloads, err := o.archive.Write(ctx, meta, rows)
	if err != nil {
		o.logger.Error(err, "Mission archive write failed", "mission", r.id)
		return
	}
	o.pub.Publish("mission_archived", map[string]any{
		"mission_id": r.id,
		"vehicle_id": r.vehicleID,
		"downloads":  downloads,
	})
}

// telemetryRow is one sample of the per-mission telemetry log.
func telemetryRow(snap telemetry.Snapshot) []string {
	return []string{
		time.Now().UTC().Format(time.RFC3339),
		strconv.FormatFloat(snap.Latitude, 'f', 7, 64),
		strconv.FormatFloat(snap.Longitude, 'f', 7, 64),
		strconv.FormatFloat(snap.AltitudeRel, 'f', 2, 64),
		strconv.FormatFloat(snap.Heading, 'f', 1, 64),
		strconv.FormatFloat(snap.Pitch, 'f', 2, 64),
		strconv.FormatFloat(snap.Roll, 'f', 2, 64),
		strconv.FormatFloat(snap.GroundSpeed, 'f', 2, 64),
		strconv.FormatFloat(snap.Voltage, 'f', 2, 64),
		strconv.Itoa(snap.BatteryRemaining),
		snap.Mode,
		strconv.FormatBool(snap.Armed),
		strconv.Itoa(snap.Satellites),
		strconv.FormatFloat(snap.HDOP, 'f', 2, 64),
	}
}

// haversineMeters is the great-circle distance between two coordinates.
func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadius = 6371000.0

	rad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadius * math.Asin(math.Sqrt(a))
}

func (o *Orchestrator) publishStatus(r *run, message string) {
	o.pub.Publish("mission_status", map[string]any{
		"mission_id": r.id,
		"vehicle_id": r.vehicleID,
		"state":      r.machine.Current(),
		"message":    message,
	})
}
