package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"github.com/agrifly-io/agrifly/internal/link"
	"github.com/agrifly-io/agrifly/internal/pkg/metrics"
	"github.com/agrifly-io/agrifly/internal/telemetry"
	"github.com/agrifly-io/agrifly/pkg/log"
)

// Arm pre-check thresholds used for the rejection diagnostic.
const (
	minArmFixType    = 3
	minArmSatellites = 8
	minArmVoltage    = 10.5
)

// armableModes are the flight modes ArduPilot will arm in from the
// ground.
var armableModes = map[string]bool{
	"STABILIZE": true,
	"ACRO":      true,
	"ALT_HOLD":  true,
	"GUIDED":    true,
	"LOITER":    true,
	"POSHOLD":   true,
}

// Fleet is the registry surface the router needs.
type Fleet interface {
	Link(vehicleID int) (link.Link, error)
	Subscribe(vehicleID int) (<-chan link.Event, func(), error)
	Snapshot(vehicleID int) (telemetry.Snapshot, bool)
}

// Router executes symbolic commands against vehicles in the fleet.
type Router struct {
	logger     log.Logger
	fleet      Fleet
	ackTimeout time.Duration
}

// NewRouter creates a Router. ackTimeout zero selects the default.
func NewRouter(fleet Fleet, ackTimeout time.Duration) *Router {
	if ackTimeout == 0 {
		ackTimeout = DefaultAckTimeout
	}
	return &Router{
		logger:     log.WithName("command"),
		fleet:      fleet,
		ackTimeout: ackTimeout,
	}
}

// Execute sends one symbolic command and waits for the vehicle's
// acknowledgment.
func (r *Router) Execute(ctx context.Context, vehicleID int, req Request) (Result, error) {
	res, err := r.execute(ctx, vehicleID, req)

	outcome := "accepted"
	switch err.(type) {
	case nil:
	case *RejectedError:
		outcome = "rejected"
	case *TimeoutError:
		outcome = "timeout"
	default:
		outcome = "error"
	}
	metrics.CommandsSentTotal.WithLabelValues(strconv.Itoa(vehicleID), req.Command, outcome).Inc()

	return res, err
}

func (r *Router) execute(ctx context.Context, vehicleID int, req Request) (Result, error) {
	lnk, err := r.fleet.Link(vehicleID)
	if err != nil {
		return Result{}, err
	}

	msg, err := buildCommand(lnk, req)
	if err != nil {
		return Result{}, err
	}

	events, cancel, err := r.fleet.Subscribe(vehicleID)
	if err != nil {
		return Result{}, err
	}
	defer cancel()

	if err := lnk.Send(msg); err != nil {
		return Result{}, fmt.Errorf("command %s: %w", req.Command, err)
	}
	r.logger.Info("Command sent", "vehicle", vehicleID, "command", req.Command, "code", msg.Command)

	timer := time.NewTimer(r.ackTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()

		case <-timer.C:
			r.logger.Warn("Command acknowledgment timed out",
				"vehicle", vehicleID, "command", req.Command, "timeout", r.ackTimeout)
			return Result{}, &TimeoutError{Command: req.Command, Timeout: r.ackTimeout}

		case ev, ok := <-events:
			if !ok {
				return Result{}, fmt.Errorf("command %s: %w", req.Command, link.ErrNotOpen)
			}
			m, isMsg := ev.(link.Message)
			if !isMsg {
				continue
			}
			ack, isAck := m.Msg.(*common.MessageCommandAck)
			if !isAck || ack.Command != msg.Command {
				continue
			}

			if ack.Result == common.MAV_RESULT_ACCEPTED || ack.Result == common.MAV_RESULT_IN_PROGRESS {
				return Result{Command: req.Command, Ack: ack.Result}, nil
			}

			rej := &RejectedError{Command: req.Command, Code: ack.Result}
			if req.Command == CmdArm {
				rej.Diagnostic = r.armDiagnostic(vehicleID)
			}
			r.logger.Warn("Command rejected",
				"vehicle", vehicleID, "command", req.Command, "ack", fmt.Sprintf("%v", ack.Result),
				"diagnostic", rej.Diagnostic)
			return Result{Command: req.Command, Ack: ack.Result}, rej
		}
	}
}

// buildCommand maps one symbolic request onto a command-long packet
// addressed at the link's current peer.
func buildCommand(lnk link.Link, req Request) (*common.MessageCommandLong, error) {
	sys, comp := lnk.Target()
	msg := &common.MessageCommandLong{
		TargetSystem:    sys,
		TargetComponent: comp,
	}

	switch req.Command {
	case CmdArm:
		msg.Command = common.MAV_CMD_COMPONENT_ARM_DISARM
		msg.Param1 = 1

	case CmdDisarm:
		msg.Command = common.MAV_CMD_COMPONENT_ARM_DISARM
		msg.Param1 = 0

	case CmdSetMode:
		mode, ok := link.ModeNumber(req.Mode)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownMode, req.Mode)
		}
		msg.Command = common.MAV_CMD_DO_SET_MODE
		msg.Param1 = float32(common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED)
		msg.Param2 = float32(mode)

	case CmdTakeoff:
		msg.Command = common.MAV_CMD_NAV_TAKEOFF
		msg.Param7 = float32(req.Altitude)

	case CmdLand:
		msg.Command = common.MAV_CMD_NAV_LAND

	case CmdRTL:
		// RTL is a mode switch, not a one-shot command.
		mode, _ := link.ModeNumber("RTL")
		msg.Command = common.MAV_CMD_DO_SET_MODE
		msg.Param1 = float32(common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED)
		msg.Param2 = float32(mode)

	case CmdGoto:
		msg.Command = common.MAV_CMD_NAV_WAYPOINT
		msg.Param5 = float32(req.Latitude)
		msg.Param6 = float32(req.Longitude)
		msg.Param7 = float32(req.Altitude)

	case CmdDetectionStart:
		msg.Command = detectionStartID

	case CmdDetectionStop:
		msg.Command = detectionStopID

	case CmdDetectionStats:
		msg.Command = detectionStatsID

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, req.Command)
	}
	return msg, nil
}

// armDiagnostic composes the human-readable arm rejection message from
// the last known telemetry.
func (r *Router) armDiagnostic(vehicleID int) string {
	snap, ok := r.fleet.Snapshot(vehicleID)
	if !ok {
		return "ARM rejected by vehicle. No telemetry available"
	}

	mode := snap.Mode
	if mode == "" {
		mode = "UNKNOWN"
	}

	var issues []string
	if snap.FixType < minArmFixType {
		issues = append(issues, "GPS fix quality low (need 3D)")
	}
	if snap.Satellites < minArmSatellites {
		issues = append(issues, "Low satellite count (recommended 8+)")
	}
	if snap.Voltage < minArmVoltage {
		issues = append(issues, "Low battery voltage")
	}
	if !armableModes[mode] {
		issues = append(issues, "Mode not armable")
	}
	if len(issues) == 0 {
		issues = append(issues, "Vehicle safety checks failed")
	}

	return fmt.Sprintf("ARM rejected by vehicle. GPS: %d fix, %d satellites; Battery: %.1fV; Mode: %s. Issues: %s",
		snap.FixType, snap.Satellites, snap.Voltage, mode, strings.Join(issues, "; "))
}
