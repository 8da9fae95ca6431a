package link

import (
	"fmt"
	"strings"
)

// ArduPilot copter custom-mode numbers for the modes the broker speaks.
var modeNumbers = map[string]uint32{
	"STABILIZE": 0,
	"ACRO":      1,
	"ALT_HOLD":  2,
	"AUTO":      3,
	"GUIDED":    4,
	"LOITER":    5,
	"RTL":       6,
	"CIRCLE":    7,
	"LAND":      9,
	"POSHOLD":   16,
	"BRAKE":     17,
}

var modeNames = func() map[uint32]string {
	m := make(map[uint32]string, len(modeNumbers))
	for name, num := range modeNumbers {
		m[num] = name
	}
	return m
}()

// ModeNumber resolves a symbolic flight-mode name (case-insensitive).
func ModeNumber(name string) (uint32, bool) {
	num, ok := modeNumbers[strings.ToUpper(name)]
	return num, ok
}

// ModeName decodes a custom-mode number; unknown numbers become "MODE_<n>".
func ModeName(num uint32) string {
	if name, ok := modeNames[num]; ok {
		return name
	}
	return fmt.Sprintf("MODE_%d", num)
}
