package spray

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/agrifly-io/agrifly/internal/pkg/metrics"
	fsmutil "github.com/agrifly-io/agrifly/internal/pkg/util/fsm"
	"github.com/agrifly-io/agrifly/pkg/log"
	"github.com/agrifly-io/agrifly/pkg/options"
)

// Mission status transitions.
const (
	eventRefill   = "refill"
	eventResume   = "resume"
	eventComplete = "complete"
	eventStop     = "stop"
)

// completionGrace pads the per-target completion wait beyond loiter
// plus spray time.
const completionGrace = 5 * time.Second

type mission struct {
	id        string
	machine   *fsm.FSM
	startedAt time.Time
	endedAt   time.Time
	index     int
	completed int
	failed    int
	refills   int

	// dispatchGen invalidates stale completion timers.
	dispatchGen int
	timer       *time.Timer
}

// Orchestrator owns per-vehicle target queues, tanks, and spray
// missions. Targets are dispatched one at a time; completion is
// signalled externally by the operator channel.
type Orchestrator struct {
	logger log.Logger
	pub    Publisher
	opts   *options.SprayOptions

	mu       sync.Mutex
	nextID   int
	tanks    map[int]*Tank
	queues   map[int][]*Target
	missions map[int]*mission
}

// New creates an Orchestrator. opts nil selects the defaults.
func New(opts *options.SprayOptions, pub Publisher) *Orchestrator {
	if opts == nil {
		opts = options.NewSprayOptions()
	}
	if pub == nil {
		pub = nopPublisher{}
	}
	return &Orchestrator{
		logger:   log.WithName("spray"),
		pub:      pub,
		opts:     opts,
		tanks:    make(map[int]*Tank),
		queues:   make(map[int][]*Target),
		missions: make(map[int]*mission),
	}
}

func (o *Orchestrator) newMachine(vehicleID int, id string) *fsm.FSM {
	events := fsm.Events{
		{Name: eventRefill, Src: []string{StatusActive}, Dst: StatusRefilling},
		{Name: eventResume, Src: []string{StatusRefilling}, Dst: StatusActive},
		{Name: eventComplete, Src: []string{StatusActive}, Dst: StatusCompleted},
		{Name: eventStop, Src: []string{StatusActive, StatusRefilling}, Dst: StatusStopped},
	}
	callbacks := fsm.Callbacks{
		"enter_state": fsmutil.WrapEvent(func(ctx context.Context, e *fsm.Event) error {
			o.logger.Info("Spray mission state changed",
				"vehicle", vehicleID, "mission", id, "from", e.Src, "to", e.Dst)
			return nil
		}),
	}
	return fsm.NewFSM(StatusActive, events, callbacks)
}

// tankLocked returns the vehicle's tank, creating a full one on first
// sight.
func (o *Orchestrator) tankLocked(vehicleID int) *Tank {
	t := o.tanks[vehicleID]
	if t == nil {
		t = &Tank{Capacity: o.opts.TankCapacity, Current: o.opts.TankCapacity}
		o.tanks[vehicleID] = t
	}
	return t
}

// QueueTargets converts specs into targets and appends them FIFO.
func (o *Orchestrator) QueueTargets(vehicleID int, specs []TargetSpec) []Target {
	o.mu.Lock()

	added := make([]Target, 0, len(specs))
	for _, spec := range specs {
		o.nextID++
		tgt := &Target{
			ID:             fmt.Sprintf("tgt_%d", o.nextID),
			DetectionID:    spec.DetectionID,
			Latitude:       spec.Latitude,
			Longitude:      spec.Longitude,
			Altitude:       spec.Altitude,
			RequiredVolume: spec.Volume,
			State:          TargetQueued,
			Confidence:     spec.Confidence,
			Priority:       spec.Priority,
			QueuedAt:       time.Now(),
		}
		if tgt.Altitude == 0 {
			tgt.Altitude = o.opts.SprayAltitude
		}
		if tgt.RequiredVolume == 0 {
			tgt.RequiredVolume = o.opts.VolumePerTarget
		}
		o.queues[vehicleID] = append(o.queues[vehicleID], tgt)
		added = append(added, *tgt)
	}
	queued := len(o.queues[vehicleID])
	o.mu.Unlock()

	o.logger.Info("Spray targets queued", "vehicle", vehicleID, "added", len(added), "queued", queued)
	o.pub.Publish(evQueueUpdated, map[string]any{
		"vehicle_id": vehicleID,
		"added":      added,
		"queued":     queued,
	})
	return added
}

// ClearQueue drops all queued targets.
func (o *Orchestrator) ClearQueue(vehicleID int) {
	o.mu.Lock()
	delete(o.queues, vehicleID)
	o.mu.Unlock()

	o.logger.Info("Spray queue cleared", "vehicle", vehicleID)
	o.pub.Publish(evQueueUpdated, map[string]any{"vehicle_id": vehicleID, "queued": 0})
}

// Start creates the vehicle's spray mission and dispatches the first
// target.
func (o *Orchestrator) Start(vehicleID int) (string, error) {
	o.mu.Lock()

	if m := o.missions[vehicleID]; m != nil && m.active() {
		o.mu.Unlock()
		return "", ErrMissionActive
	}
	queue := o.queues[vehicleID]
	if len(queue) == 0 {
		o.mu.Unlock()
		return "", ErrNoTargets
	}
	tank := o.tankLocked(vehicleID)
	if tank.Current < o.opts.VolumePerTarget {
		o.mu.Unlock()
		return "", ErrTankLow
	}

	m := &mission{
		id:        fmt.Sprintf("spray_%s_%d", time.Now().UTC().Format("20060102T150405"), vehicleID),
		startedAt: time.Now(),
	}
	m.machine = o.newMachine(vehicleID, m.id)
	o.missions[vehicleID] = m
	total := len(queue)
	o.mu.Unlock()

	o.logger.Info("Spray mission started", "vehicle", vehicleID, "mission", m.id, "targets", total)
	o.pub.Publish(evMissionStarted, map[string]any{
		"mission_id": m.id,
		"vehicle_id": vehicleID,
		"total":      total,
		"tank":       o.tank(vehicleID),
	})

	o.dispatchNext(vehicleID)
	return m.id, nil
}

// Stop terminates the mission and clears the queue.
func (o *Orchestrator) Stop(vehicleID int) error {
	o.mu.Lock()
	m := o.missions[vehicleID]
	if m == nil || !m.active() {
		o.mu.Unlock()
		return ErrNoMission
	}
	m.stopTimerLocked()
	m.endedAt = time.Now()
	machine := m.machine
	id := m.id
	delete(o.queues, vehicleID)
	o.mu.Unlock()

	if err := machine.Event(context.Background(), eventStop); err != nil {
		return err
	}
	o.pub.Publish(evMissionStopped, map[string]any{"mission_id": id, "vehicle_id": vehicleID})
	return nil
}

// Complete records the externally signalled outcome of the dispensing
// target. The tank only decrements on success.
func (o *Orchestrator) Complete(vehicleID int, targetID string, success bool) error {
	o.mu.Lock()

	m := o.missions[vehicleID]
	if m == nil || m.machine.Current() != StatusActive {
		o.mu.Unlock()
		return ErrNoMission
	}
	queue := o.queues[vehicleID]
	if m.index >= len(queue) || queue[m.index].ID != targetID || queue[m.index].State != TargetDispensing {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWrongTarget, targetID)
	}

	m.stopTimerLocked()
	tgt := queue[m.index]
	tank := o.tankLocked(vehicleID)

	if success {
		tgt.State = TargetCompleted
		tgt.SprayedAt = time.Now()
		volume := o.opts.VolumePerTarget
		tank.Current -= volume
		if tank.Current < 0 {
			tank.Current = 0
		}
		tank.Dispensed += volume
		m.completed++
		metrics.SprayDispensedLiters.WithLabelValues(strconv.Itoa(vehicleID)).Add(volume)
	} else {
		tgt.State = TargetFailed
		m.failed++
	}
	m.index++
	tankCopy := *tank
	o.mu.Unlock()

	o.logger.Info("Spray target finished",
		"vehicle", vehicleID, "target", targetID, "success", success, "tank", tankCopy.Current)
	o.pub.Publish(evTargetComplete, map[string]any{
		"vehicle_id": vehicleID,
		"target_id":  targetID,
		"success":    success,
		"tank":       tankCopy,
	})

	o.dispatchNext(vehicleID)
	return nil
}

// RefillComplete resets the tank to capacity and marks the mission
// active. Dispatching resumes immediately only when automatic resume is
// enabled and manual confirmation is not required; otherwise the next
// target waits for Continue.
func (o *Orchestrator) RefillComplete(vehicleID int) error {
	o.mu.Lock()
	m := o.missions[vehicleID]
	if m == nil || m.machine.Current() != StatusRefilling {
		o.mu.Unlock()
		return ErrNoMission
	}
	tank := o.tankLocked(vehicleID)
	tank.Current = tank.Capacity
	tank.Refills++
	tank.LastRefill = time.Now()
	m.refills++
	tankCopy := *tank
	machine := m.machine
	id := m.id
	o.mu.Unlock()

	if err := machine.Event(context.Background(), eventResume); err != nil {
		return err
	}

	o.logger.Info("Spray tank refilled", "vehicle", vehicleID, "refills", tankCopy.Refills)
	o.pub.Publish(evRefillComplete, map[string]any{
		"mission_id": id,
		"vehicle_id": vehicleID,
		"tank":       tankCopy,
	})

	if o.opts.RequireManualConfirmation {
		o.logger.Info("Spray resume awaiting operator confirmation", "vehicle", vehicleID)
		return nil
	}
	if o.opts.AutoResumeAfterRefill {
		o.dispatchNext(vehicleID)
	}
	return nil
}

// Continue dispatches the pending target after a refill when manual
// confirmation is required or automatic resume is disabled.
func (o *Orchestrator) Continue(vehicleID int) error {
	o.mu.Lock()
	m := o.missions[vehicleID]
	if m == nil || m.machine.Current() != StatusActive {
		o.mu.Unlock()
		return ErrNoMission
	}
	o.mu.Unlock()

	o.dispatchNext(vehicleID)
	return nil
}

// Status reports the vehicle's spray state.
func (o *Orchestrator) Status(vehicleID int) Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := Status{
		State:     StatusStopped,
		VehicleID: vehicleID,
		Tank:      *o.tankLocked(vehicleID),
	}
	for _, tgt := range o.queues[vehicleID] {
		st.Targets = append(st.Targets, *tgt)
	}
	st.Total = len(st.Targets)

	if m := o.missions[vehicleID]; m != nil {
		st.State = m.machine.Current()
		st.MissionID = m.id
		st.CurrentIndex = m.index
		st.Completed = m.completed
		st.Failed = m.failed
	}
	return st
}

// Tank returns a copy of the vehicle's tank.
func (o *Orchestrator) tank(vehicleID int) Tank {
	o.mu.Lock()
	defer o.mu.Unlock()
	return *o.tankLocked(vehicleID)
}

// dispatchNext runs the pre-check for the target at the current index:
// finish the mission when the queue is exhausted, pause for refill when
// the tank is low, otherwise hand the target to the operator channel.
func (o *Orchestrator) dispatchNext(vehicleID int) {
	o.mu.Lock()

	m := o.missions[vehicleID]
	if m == nil || m.machine.Current() != StatusActive {
		o.mu.Unlock()
		return
	}
	queue := o.queues[vehicleID]

	if m.index >= len(queue) {
		m.endedAt = time.Now()
		machine := m.machine
		id := m.id
		completed, failed := m.completed, m.failed
		o.mu.Unlock()

		if err := machine.Event(context.Background(), eventComplete); err != nil {
			o.logger.Debug("Spray complete transition skipped", "error", err.Error())
		}
		o.logger.Info("Spray mission complete",
			"vehicle", vehicleID, "mission", id, "completed", completed, "failed", failed)
		o.pub.Publish(evMissionComplete, map[string]any{
			"mission_id": id,
			"vehicle_id": vehicleID,
			"completed":  completed,
			"failed":     failed,
		})
		return
	}

	tgt := queue[m.index]
	tank := o.tankLocked(vehicleID)

	if tank.Current < tgt.RequiredVolume || tank.Current <= o.opts.RefillThreshold {
		machine := m.machine
		id := m.id
		remaining := len(queue) - m.index
		tankCopy := *tank
		o.mu.Unlock()

		if err := machine.Event(context.Background(), eventRefill); err != nil {
			o.logger.Debug("Spray refill transition skipped", "error", err.Error())
			return
		}
		o.logger.Info("Spray refill required",
			"vehicle", vehicleID, "tank", tankCopy.Current, "targets_remaining", remaining)
		o.pub.Publish(evRefillRequired, map[string]any{
			"mission_id":        id,
			"vehicle_id":        vehicleID,
			"tank":              tankCopy,
			"targets_remaining": remaining,
		})
		return
	}

	tgt.State = TargetDispensing
	m.dispatchGen++
	gen := m.dispatchGen
	wait := o.opts.LoiterTime + o.opts.SprayDuration + completionGrace
	m.timer = time.AfterFunc(wait, func() { o.completionTimeout(vehicleID, gen) })
	tgtCopy := *tgt
	o.mu.Unlock()

	o.logger.Info("Spray target dispatched", "vehicle", vehicleID, "target", tgtCopy.ID)
	o.pub.Publish(evNextTarget, map[string]any{
		"vehicle_id": vehicleID,
		"target":     tgtCopy,
	})
}

// completionTimeout fails the dispensing target when no completion
// signal arrived within the bounded wait.
func (o *Orchestrator) completionTimeout(vehicleID, gen int) {
	o.mu.Lock()
	m := o.missions[vehicleID]
	if m == nil || m.machine.Current() != StatusActive || m.dispatchGen != gen {
		o.mu.Unlock()
		return
	}
	queue := o.queues[vehicleID]
	if m.index >= len(queue) || queue[m.index].State != TargetDispensing {
		o.mu.Unlock()
		return
	}
	tgt := queue[m.index]
	tgt.State = TargetFailed
	m.failed++
	m.index++
	id := tgt.ID
	o.mu.Unlock()

	o.logger.Warn("Spray target completion timed out", "vehicle", vehicleID, "target", id)
	o.pub.Publish(evTargetComplete, map[string]any{
		"vehicle_id": vehicleID,
		"target_id":  id,
		"success":    false,
		"timeout":    true,
	})

	o.dispatchNext(vehicleID)
}

func (m *mission) active() bool {
	state := m.machine.Current()
	return state == StatusActive || state == StatusRefilling
}

func (m *mission) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.dispatchGen++
}
