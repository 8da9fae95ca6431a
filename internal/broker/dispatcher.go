package broker

import (
	"context"
	"encoding/json"

	"github.com/agrifly-io/agrifly/internal/command"
	"github.com/agrifly-io/agrifly/internal/mission"
	"github.com/agrifly-io/agrifly/internal/operator"
	"github.com/agrifly-io/agrifly/internal/spray"
	"github.com/agrifly-io/agrifly/pkg/log"
)

// inboundRequest is the superset of operator command payloads. Each
// event reads only the fields it needs.
type inboundRequest struct {
	VehicleID int     `json:"vehicle_id"`
	Mode      string  `json:"mode,omitempty"`
	Altitude  float64 `json:"altitude,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`

	Waypoints      []mission.Waypoint `json:"waypoints,omitempty"`
	SurveyAltitude float64            `json:"survey_altitude,omitempty"`

	Targets  []spray.TargetSpec `json:"targets,omitempty"`
	TargetID string             `json:"target_id,omitempty"`
	Success  *bool              `json:"success,omitempty"`
}

// dispatcher routes inbound operator events onto the broker components
// and answers each with a command_result.
type dispatcher struct {
	logger log.Logger
	broker *Broker
}

// vehicleCommands are the inbound events forwarded to the command
// router verbatim.
var vehicleCommands = map[string]bool{
	command.CmdArm:            true,
	command.CmdDisarm:         true,
	command.CmdSetMode:        true,
	command.CmdTakeoff:        true,
	command.CmdLand:           true,
	command.CmdRTL:            true,
	command.CmdGoto:           true,
	command.CmdDetectionStart: true,
	command.CmdDetectionStop:  true,
	command.CmdDetectionStats: true,
}

func (d *dispatcher) Dispatch(ctx context.Context, event string, data json.RawMessage) {
	var req inboundRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			d.logger.Warn("Operator request rejected", "event", event, "error", err.Error())
			d.result(req.VehicleID, event, err)
			return
		}
	}

	b := d.broker
	if vehicleCommands[event] {
		// Ack waits can take seconds; never stall the client's read loop.
		go func() {
			_, err := b.commander.Execute(context.WithoutCancel(ctx), req.VehicleID, command.Request{
				Command:   event,
				Mode:      req.Mode,
				Altitude:  req.Altitude,
				Latitude:  req.Latitude,
				Longitude: req.Longitude,
			})
			d.result(req.VehicleID, event, err)
		}()
		return
	}

	switch event {
	case "reconnect":
		d.result(req.VehicleID, event, b.registry.Reconnect(req.VehicleID))

	case "simulate":
		d.result(req.VehicleID, event, b.registry.Simulate(req.VehicleID))

	case "sync":
		b.syncFleet(b.config())
		d.result(req.VehicleID, event, nil)
		b.pub.Publish("drones_status", map[string]any{"drones": b.registry.List()})

	case "start_mission":
		// Upload handshake plus mode transitions; runs off the read loop.
		go func() {
			_, err := b.missions.Start(context.WithoutCancel(ctx), req.VehicleID, req.Waypoints, req.SurveyAltitude)
			d.result(req.VehicleID, event, err)
		}()

	case "pause_mission":
		d.result(req.VehicleID, event, b.missions.Pause(ctx, req.VehicleID))

	case "resume_mission":
		d.result(req.VehicleID, event, b.missions.Resume(ctx, req.VehicleID))

	case "stop_mission":
		d.result(req.VehicleID, event, b.missions.Stop(ctx, req.VehicleID))

	case "spray_queue_targets":
		b.sprays.QueueTargets(req.VehicleID, req.Targets)
		d.result(req.VehicleID, event, nil)

	case "spray_start":
		_, err := b.sprays.Start(req.VehicleID)
		d.result(req.VehicleID, event, err)

	case "spray_stop":
		d.result(req.VehicleID, event, b.sprays.Stop(req.VehicleID))

	case "spray_target_complete":
		success := true
		if req.Success != nil {
			success = *req.Success
		}
		d.result(req.VehicleID, event, b.sprays.Complete(req.VehicleID, req.TargetID, success))

	case "spray_refill_complete":
		d.result(req.VehicleID, event, b.sprays.RefillComplete(req.VehicleID))

	case "spray_continue":
		d.result(req.VehicleID, event, b.sprays.Continue(req.VehicleID))

	case "spray_clear_queue":
		b.sprays.ClearQueue(req.VehicleID)
		d.result(req.VehicleID, event, nil)

	case "request_drone_list":
		b.pub.Publish("drones_status", map[string]any{"drones": b.registry.List()})

	default:
		d.logger.Warn("Unknown operator event", "event", event)
	}
}

// result answers one operator request on the shared event stream.
func (d *dispatcher) result(vehicleID int, cmd string, err error) {
	payload := map[string]any{
		"success":    err == nil,
		"vehicle_id": vehicleID,
		"command":    cmd,
	}
	if err != nil {
		payload["error"] = err.Error()
		d.logger.Warn("Operator command failed", "vehicle", vehicleID, "command", cmd, "error", err.Error())
	}
	d.broker.pub.Publish("command_result", payload)
}

// makeEvent marshals a backfill frame, skipping it on encode failure.
func makeEvent(name string, data any) (operator.Event, bool) {
	payload, err := json.Marshal(data)
	if err != nil {
		return operator.Event{}, false
	}
	return operator.Event{Event: name, Data: payload}, true
}
