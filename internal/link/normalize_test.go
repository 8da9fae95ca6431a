package link

import (
	"math"
	"strings"
	"testing"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrifly-io/agrifly/internal/telemetry"
)

func TestNormalizePosition(t *testing.T) {
	u, ok := Normalize(&common.MessageGlobalPositionInt{
		Lat:         232950000,
		Lon:         853100000,
		Alt:         112400,
		RelativeAlt: 30000,
	})
	require.True(t, ok)

	pos := u.(telemetry.Position)
	assert.InDelta(t, 23.295, pos.Latitude, 1e-9)
	assert.InDelta(t, 85.310, pos.Longitude, 1e-9)
	assert.InDelta(t, 112.4, pos.AltitudeMSL, 1e-9)
	assert.InDelta(t, 30.0, pos.AltitudeRel, 1e-9)
}

func TestNormalizeBattery(t *testing.T) {
	u, ok := Normalize(&common.MessageSysStatus{
		VoltageBattery:   12100,
		CurrentBattery:   450,
		BatteryRemaining: 88,
	})
	require.True(t, ok)

	bat := u.(telemetry.Battery)
	assert.InDelta(t, 12.1, bat.Voltage, 1e-9)
	assert.InDelta(t, 4.5, bat.Current, 1e-9)
	assert.Equal(t, 88, bat.Remaining)
}

func TestNormalizeAttitudeDegrees(t *testing.T) {
	u, ok := Normalize(&common.MessageAttitude{
		Roll:  float32(math.Pi / 2),
		Pitch: float32(-math.Pi / 4),
		Yaw:   float32(math.Pi),
	})
	require.True(t, ok)

	att := u.(telemetry.Attitude)
	assert.InDelta(t, 90, att.Roll, 1e-3)
	assert.InDelta(t, -45, att.Pitch, 1e-3)
	assert.InDelta(t, 180, att.Yaw, 1e-3)
}

func TestNormalizeHeartbeat(t *testing.T) {
	u, ok := Normalize(&common.MessageHeartbeat{
		BaseMode:     common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED | common.MAV_MODE_FLAG_SAFETY_ARMED,
		CustomMode:   4,
		SystemStatus: common.MAV_STATE_ACTIVE,
	})
	require.True(t, ok)

	hb := u.(telemetry.Heartbeat)
	assert.True(t, hb.Armed)
	assert.Equal(t, "GUIDED", hb.Mode)
	assert.Equal(t, "ACTIVE", hb.SystemStatus)
}

func TestNormalizeIgnoresNonTelemetry(t *testing.T) {
	_, ok := Normalize(&common.MessageCommandAck{})
	assert.False(t, ok)
}

func TestNormalizedRanges(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500

	properties := gopter.NewProperties(parameters)

	properties.Property("position within physical ranges", prop.ForAll(
		func(lat int32, lon int32, alt int32) bool {
			u, ok := Normalize(&common.MessageGlobalPositionInt{Lat: lat, Lon: lon, Alt: alt})
			if !ok {
				return false
			}
			pos := u.(telemetry.Position)
			return pos.Latitude >= -90 && pos.Latitude <= 90 &&
				pos.Longitude >= -180 && pos.Longitude <= 180
		},
		gen.Int32Range(-90*1e7, 90*1e7),
		gen.Int32Range(-180*1e7, 180*1e7),
		gen.Int32Range(-100000, 10000000),
	))

	properties.Property("battery remaining within [0,100]", prop.ForAll(
		func(mv uint16, remaining int8) bool {
			u, ok := Normalize(&common.MessageSysStatus{
				VoltageBattery:   mv,
				BatteryRemaining: remaining,
			})
			if !ok {
				return false
			}
			bat := u.(telemetry.Battery)
			return bat.Remaining >= 0 && bat.Remaining <= 100 && bat.Voltage >= 0
		},
		gen.UInt16Range(0, 65000),
		gen.Int8Range(0, 100),
	))

	properties.Property("mode decodes to a symbol or MODE_<n>", prop.ForAll(
		func(mode uint32) bool {
			u, ok := Normalize(&common.MessageHeartbeat{CustomMode: mode})
			if !ok {
				return false
			}
			hb := u.(telemetry.Heartbeat)
			if _, known := ModeNumber(hb.Mode); known {
				return true
			}
			return strings.HasPrefix(hb.Mode, "MODE_")
		},
		gen.UInt32(),
	))

	properties.TestingRun(t)
}
