// Package mission implements the waypoint upload sub-protocol and the
// automated mission workflow: upload, arm, mode transitions, progress
// polling, and the per-mission archive.
package mission

import (
	"context"
	"errors"
	"fmt"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"github.com/agrifly-io/agrifly/internal/command"
	"github.com/agrifly-io/agrifly/internal/link"
	"github.com/agrifly-io/agrifly/internal/telemetry"
)

var (
	// ErrEmptyMission is returned for a waypoint list of length zero.
	ErrEmptyMission = errors.New("mission: empty mission")

	// ErrUploadInProgress is returned when two uploads overlap for one
	// vehicle.
	ErrUploadInProgress = errors.New("mission: upload already in progress")

	// ErrMissionActive is returned by start when a run is not idle.
	ErrMissionActive = errors.New("mission: mission already active")

	// ErrNoMission is returned by pause/resume/stop without an active run.
	ErrNoMission = errors.New("mission: no active mission")
)

// UploadRejectedError carries the vehicle's non-accepted mission ack.
type UploadRejectedError struct {
	Code common.MAV_MISSION_RESULT
}

func (e *UploadRejectedError) Error() string {
	return fmt.Sprintf("mission: upload rejected by vehicle (%v)", e.Code)
}

// UploadTimeoutError is returned when the vehicle stops requesting
// items and retransmits are exhausted.
type UploadTimeoutError struct {
	Seq int
}

func (e *UploadTimeoutError) Error() string {
	return fmt.Sprintf("mission: upload timed out at item %d", e.Seq)
}

// Waypoint is one operator-supplied survey point.
type Waypoint struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Altitude  float64 `json:"alt"`
	Seq       int     `json:"seq,omitempty"`
}

// Fleet is the registry surface the mission package needs.
type Fleet interface {
	Link(vehicleID int) (link.Link, error)
	Subscribe(vehicleID int) (<-chan link.Event, func(), error)
	Snapshot(vehicleID int) (telemetry.Snapshot, bool)
}

// Commander executes symbolic commands with ack handling.
type Commander interface {
	Execute(ctx context.Context, vehicleID int, req command.Request) (command.Result, error)
}

// Publisher receives mission progress events. The operator hub
// satisfies this.
type Publisher interface {
	Publish(event string, data any)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, any) {}
