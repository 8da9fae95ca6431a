// Package telemetry merges per-message vehicle state into coherent
// snapshots served to operators and the fleet bridge.
package telemetry

import (
	"time"
)

// Snapshot is the merged view of one vehicle's most recent telemetry.
// Values are in operator units: degrees, meters, m/s, volts, amps.
type Snapshot struct {
	VehicleID int  `json:"vehicle_id"`
	Connected bool `json:"connected"`

	// Position (GLOBAL_POSITION_INT)
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	AltitudeMSL float64 `json:"altitude_msl"`
	// AltitudeRel is altitude above the home position; this is the
	// operator-facing altitude.
	AltitudeRel float64 `json:"altitude"`

	// Attitude (ATTITUDE), degrees
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`

	// HUD (VFR_HUD)
	Heading     float64 `json:"heading"`
	GroundSpeed float64 `json:"ground_speed"`
	AirSpeed    float64 `json:"air_speed"`
	ClimbRate   float64 `json:"climb_rate"`
	Throttle    int     `json:"throttle"`

	// GPS (GPS_RAW_INT)
	FixType    int     `json:"fix_type"`
	Satellites int     `json:"satellites"`
	HDOP       float64 `json:"hdop"`

	// Battery (SYS_STATUS / BATTERY_STATUS)
	Voltage          float64 `json:"voltage"`
	Current          float64 `json:"current"`
	BatteryRemaining int     `json:"battery_remaining"`

	// Flight state (HEARTBEAT)
	Armed        bool   `json:"armed"`
	Mode         string `json:"mode"`
	SystemStatus string `json:"system_status"`

	// Mission progress (MISSION_CURRENT)
	MissionCurrent int `json:"mission_current"`

	LastHeartbeat time.Time `json:"last_heartbeat"`
	LastUpdate    time.Time `json:"last_update"`

	// Statuses are the most recent STATUSTEXT entries, oldest first.
	Statuses []StatusEntry `json:"statuses,omitempty"`
}

// StatusEntry is one received STATUSTEXT message.
type StatusEntry struct {
	Severity int       `json:"severity"`
	Text     string    `json:"text"`
	Time     time.Time `json:"time"`
}

// Update is one normalized telemetry fragment produced by a link.
type Update interface {
	isUpdate()
}

// Position carries GLOBAL_POSITION_INT fields.
type Position struct {
	Latitude    float64
	Longitude   float64
	AltitudeMSL float64
	AltitudeRel float64
}

// Attitude carries ATTITUDE angles in degrees.
type Attitude struct {
	Roll  float64
	Pitch float64
	Yaw   float64
}

// HUD carries VFR_HUD fields.
type HUD struct {
	AirSpeed    float64
	GroundSpeed float64
	ClimbRate   float64
	Heading     float64
	Throttle    int
}

// GPS carries GPS_RAW_INT fix quality.
type GPS struct {
	FixType    int
	Satellites int
	HDOP       float64
}

// Battery carries SYS_STATUS power fields.
type Battery struct {
	Voltage   float64
	Current   float64
	Remaining int
}

// Heartbeat carries decoded HEARTBEAT flight state.
type Heartbeat struct {
	Armed        bool
	Mode         string
	SystemStatus string
}

// MissionCurrent carries the active mission sequence number.
type MissionCurrent struct {
	Seq int
}

// StatusText carries one STATUSTEXT message.
type StatusText struct {
	Severity int
	Text     string
}

func (Position) isUpdate()       {}
func (Attitude) isUpdate()       {}
func (HUD) isUpdate()            {}
func (GPS) isUpdate()            {}
func (Battery) isUpdate()        {}
func (Heartbeat) isUpdate()      {}
func (MissionCurrent) isUpdate() {}
func (StatusText) isUpdate()     {}
