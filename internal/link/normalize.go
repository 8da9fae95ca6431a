package link

import (
	"math"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/agrifly-io/agrifly/internal/telemetry"
)

// Normalize converts a decoded wire message into an operator-unit
// telemetry update: 1e7-degrees to degrees, mm to m, cm/s to m/s,
// radians to degrees, mV to V, cA to A. Messages that carry no
// telemetry return false.
func Normalize(msg message.Message) (telemetry.Update, bool) {
	switch m := msg.(type) {
	case *common.MessageHeartbeat:
		return telemetry.Heartbeat{
			Armed:        m.BaseMode&common.MAV_MODE_FLAG_SAFETY_ARMED != 0,
			Mode:         ModeName(m.CustomMode),
			SystemStatus: stateName(m.SystemStatus),
		}, true

	case *common.MessageGlobalPositionInt:
		return telemetry.Position{
			Latitude:    float64(m.Lat) / 1e7,
			Longitude:   float64(m.Lon) / 1e7,
			AltitudeMSL: float64(m.Alt) / 1000.0,
			AltitudeRel: float64(m.RelativeAlt) / 1000.0,
		}, true

	case *common.MessageAttitude:
		return telemetry.Attitude{
			Roll:  float64(m.Roll) * 180.0 / math.Pi,
			Pitch: float64(m.Pitch) * 180.0 / math.Pi,
			Yaw:   float64(m.Yaw) * 180.0 / math.Pi,
		}, true

	case *common.MessageVfrHud:
		return telemetry.HUD{
			AirSpeed:    float64(m.Airspeed),
			GroundSpeed: float64(m.Groundspeed),
			ClimbRate:   float64(m.Climb),
			Heading:     float64(m.Heading),
			Throttle:    int(m.Throttle),
		}, true

	case *common.MessageGpsRawInt:
		return telemetry.GPS{
			FixType:    int(m.FixType),
			Satellites: int(m.SatellitesVisible),
			HDOP:       float64(m.Eph) / 100.0,
		}, true

	case *common.MessageSysStatus:
		return telemetry.Battery{
			Voltage:   float64(m.VoltageBattery) / 1000.0,
			Current:   float64(m.CurrentBattery) / 100.0,
			Remaining: int(m.BatteryRemaining),
		}, true

	case *common.MessageBatteryStatus:
		voltage := 0.0
		if len(m.Voltages) > 0 && m.Voltages[0] != math.MaxUint16 {
			voltage = float64(m.Voltages[0]) / 1000.0
		}
		return telemetry.Battery{
			Voltage:   voltage,
			Current:   float64(m.CurrentBattery) / 100.0,
			Remaining: int(m.BatteryRemaining),
		}, true

	case *common.MessageMissionCurrent:
		return telemetry.MissionCurrent{Seq: int(m.Seq)}, true

	case *common.MessageStatustext:
		return telemetry.StatusText{
			Severity: int(m.Severity),
			Text:     m.Text,
		}, true
	}

	return nil, false
}

func stateName(s common.MAV_STATE) string {
	switch s {
	case common.MAV_STATE_UNINIT:
		return "UNINIT"
	case common.MAV_STATE_BOOT:
		return "BOOT"
	case common.MAV_STATE_CALIBRATING:
		return "CALIBRATING"
	case common.MAV_STATE_STANDBY:
		return "STANDBY"
	case common.MAV_STATE_ACTIVE:
		return "ACTIVE"
	case common.MAV_STATE_CRITICAL:
		return "CRITICAL"
	case common.MAV_STATE_EMERGENCY:
		return "EMERGENCY"
	case common.MAV_STATE_POWEROFF:
		return "POWEROFF"
	case common.MAV_STATE_FLIGHT_TERMINATION:
		return "FLIGHT_TERMINATION"
	}
	return "UNKNOWN"
}
