// Package command converts symbolic operator commands into MAVLink
// command-long packets and awaits the vehicle's acknowledgment.
package command

import (
	"errors"
	"fmt"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
)

// Symbolic command names accepted from the operator channel and the
// HTTP surface.
const (
	CmdArm     = "arm"
	CmdDisarm  = "disarm"
	CmdSetMode = "set_mode"
	CmdTakeoff = "takeoff"
	CmdLand    = "land"
	CmdRTL     = "rtl"
	CmdGoto    = "goto"

	// Payload detection control, routed to the companion computer.
	CmdDetectionStart = "detection_start"
	CmdDetectionStop  = "detection_stop"
	CmdDetectionStats = "detection_stats"
)

// Custom command ids understood by the onboard detection payload.
const (
	detectionStartID common.MAV_CMD = 42000
	detectionStopID  common.MAV_CMD = 42001
	detectionStatsID common.MAV_CMD = 42002
)

// DefaultAckTimeout bounds the wait for a command acknowledgment.
const DefaultAckTimeout = 3 * time.Second

var (
	// ErrUnknownCommand is returned for a symbolic name outside the table.
	ErrUnknownCommand = errors.New("command: unknown command")

	// ErrUnknownMode is returned when a mode name has no custom-mode number.
	ErrUnknownMode = errors.New("command: unknown flight mode")
)

// Request is one symbolic command with its parameters. Unused fields
// are ignored for commands that do not take them.
type Request struct {
	Command   string  `json:"command"`
	Mode      string  `json:"mode,omitempty"`
	Altitude  float64 `json:"altitude,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// Result reports the acknowledgment of an accepted command.
type Result struct {
	Command string            `json:"command"`
	Ack     common.MAV_RESULT `json:"ack"`
}

// RejectedError is returned when the vehicle acknowledges with a
// non-accepted code. For arm it carries a composed diagnostic.
type RejectedError struct {
	Command    string
	Code       common.MAV_RESULT
	Diagnostic string
}

func (e *RejectedError) Error() string {
	if e.Diagnostic != "" {
		return e.Diagnostic
	}
	return fmt.Sprintf("command %s rejected by vehicle (%v)", e.Command, e.Code)
}

// TimeoutError is returned when no matching acknowledgment arrives in
// time.
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command %s: no acknowledgment within %s", e.Command, e.Timeout)
}
