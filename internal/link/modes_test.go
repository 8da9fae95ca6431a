package link

import (
	"testing"
)

func TestModeNumber(t *testing.T) {
	tests := []struct {
		name   string
		want   uint32
		wantOK bool
	}{
		{"stabilize", 0, true},
		{"GUIDED", 4, true},
		{"Loiter", 5, true},
		{"rtl", 6, true},
		{"auto", 3, true},
		{"brake", 17, true},
		{"warp", 0, false},
	}

	for _, tt := range tests {
		got, ok := ModeNumber(tt.name)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("ModeNumber(%q) = (%d, %v), want (%d, %v)", tt.name, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestModeName(t *testing.T) {
	tests := []struct {
		num  uint32
		want string
	}{
		{0, "STABILIZE"},
		{4, "GUIDED"},
		{9, "LAND"},
		{16, "POSHOLD"},
		{99, "MODE_99"},
	}

	for _, tt := range tests {
		if got := ModeName(tt.num); got != tt.want {
			t.Errorf("ModeName(%d) = %q, want %q", tt.num, got, tt.want)
		}
	}
}

func TestModeTableRoundTrip(t *testing.T) {
	for name, num := range modeNumbers {
		if got := ModeName(num); got != name {
			t.Errorf("ModeName(ModeNumber(%q)) = %q", name, got)
		}
	}
}
