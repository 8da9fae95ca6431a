// Package spray serializes detection-derived spray targets into a
// refill-aware, per-vehicle mission with strict tank accounting.
package spray

import (
	"errors"
	"time"
)

// Target states.
const (
	TargetQueued     = "queued"
	TargetDispensing = "dispensing"
	TargetCompleted  = "completed"
	TargetFailed     = "failed"
)

// Mission states.
const (
	StatusActive    = "active"
	StatusRefilling = "refilling"
	StatusCompleted = "completed"
	StatusStopped   = "stopped"
)

// Operator event names.
const (
	evMissionStarted  = "spray_mission_started"
	evMissionStopped  = "spray_mission_stopped"
	evMissionComplete = "spray_mission_complete"
	evRefillRequired  = "spray_refill_required"
	evRefillComplete  = "spray_refill_complete"
	evNextTarget      = "spray_next_target"
	evTargetComplete  = "spray_target_complete"
	evQueueUpdated    = "spray_queue_updated"
)

var (
	// ErrNoTargets is returned by start with an empty queue.
	ErrNoTargets = errors.New("spray: no targets")

	// ErrMissionActive is returned when a mission is already running.
	ErrMissionActive = errors.New("spray: mission already active")

	// ErrNoMission is returned for completion/refill signals without a
	// running mission.
	ErrNoMission = errors.New("spray: no active mission")

	// ErrTankLow is returned by start when the tank cannot cover a
	// single target.
	ErrTankLow = errors.New("spray: tank too low to start")

	// ErrWrongTarget is returned when a completion names a target other
	// than the dispensing one.
	ErrWrongTarget = errors.New("spray: completion for a target not being dispensed")
)

// TargetSpec is the operator-supplied description of one spray target,
// typically converted from a crop detection.
type TargetSpec struct {
	DetectionID string  `json:"detection_id"`
	Latitude    float64 `json:"lat"`
	Longitude   float64 `json:"lon"`
	Altitude    float64 `json:"alt,omitempty"`
	Volume      float64 `json:"volume,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
	Priority    int     `json:"priority,omitempty"`
}

// Target is one queued spray operation.
type Target struct {
	ID             string    `json:"id"`
	DetectionID    string    `json:"detection_id"`
	Latitude       float64   `json:"lat"`
	Longitude      float64   `json:"lon"`
	Altitude       float64   `json:"alt"`
	RequiredVolume float64   `json:"required_volume"`
	State          string    `json:"state"`
	Confidence     float64   `json:"confidence"`
	Priority       int       `json:"priority"`
	QueuedAt       time.Time `json:"queued_at"`
	SprayedAt      time.Time `json:"sprayed_at,omitempty"`
}

// Tank is the per-vehicle tank accounting. Current only decreases on
// successful completions; refill resets it to capacity.
type Tank struct {
	Capacity   float64   `json:"capacity"`
	Current    float64   `json:"current"`
	Refills    int       `json:"refills"`
	LastRefill time.Time `json:"last_refill,omitempty"`
	Dispensed  float64   `json:"dispensed"`
}

// Status is the externally visible spray state of one vehicle.
type Status struct {
	State        string   `json:"state"`
	MissionID    string   `json:"mission_id,omitempty"`
	VehicleID    int      `json:"vehicle_id"`
	CurrentIndex int      `json:"current_index"`
	Total        int      `json:"total"`
	Completed    int      `json:"completed"`
	Failed       int      `json:"failed"`
	Tank         Tank     `json:"tank"`
	Targets      []Target `json:"targets,omitempty"`
}

// Publisher receives spray progress events.
type Publisher interface {
	Publish(event string, data any)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, any) {}
