package topic

import "testing"

func TestBuilder(t *testing.T) {
	b := NewBuilder("agrifly/v1")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"telemetry", b.Telemetry("7"), "agrifly/v1/telemetry/7"},
		{"telemetry wildcard", b.TelemetryWildcard(), "agrifly/v1/telemetry/+"},
		{"detection", b.Detection("3"), "agrifly/v1/detection/3"},
		{"online", b.Online("1"), "agrifly/v1/online/1"},
		{"mission event", b.MissionEvent("2"), "agrifly/v1/mission/event/2"},
		{"spray event", b.SprayEvent("2"), "agrifly/v1/spray/event/2"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}
