package mqtt

import (
	"testing"
)

func TestTopicsMatch(t *testing.T) {
	tests := []struct {
		name   string
		filter string
		topic  string
		want   bool
	}{
		{"exact", "agrifly/v1/telemetry/7", "agrifly/v1/telemetry/7", true},
		{"single wildcard", "agrifly/v1/telemetry/+", "agrifly/v1/telemetry/7", true},
		{"single wildcard depth mismatch", "agrifly/v1/telemetry/+", "agrifly/v1/telemetry/7/extra", false},
		{"multi wildcard", "agrifly/v1/#", "agrifly/v1/detection/3", true},
		{"multi wildcard at root", "#", "anything/at/all", true},
		{"no match", "agrifly/v1/online/1", "agrifly/v1/online/2", false},
		{"filter longer than topic", "a/b/c", "a/b", false},
		{"mid-level wildcard", "a/+/c", "a/b/c", true},
		{"mid-level wildcard mismatch", "a/+/c", "a/b/d", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := topicsMatch(tt.filter, tt.topic); got != tt.want {
				t.Errorf("topicsMatch(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
			}
		})
	}
}

func TestTopicFilterSharedGroup(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"$share/hub/agrifly/v1/telemetry/+", "agrifly/v1/telemetry/+"},
		{"agrifly/v1/telemetry/+", "agrifly/v1/telemetry/+"},
		{"$share/incomplete", "$share/incomplete"},
	}

	for _, tt := range tests {
		if got := topicFilter(tt.in); got != tt.want {
			t.Errorf("topicFilter(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClientConfigValidate(t *testing.T) {
	if err := (&ClientConfig{}).Validate(); err == nil {
		t.Fatal("expected error for empty broker url")
	}

	cfg := &ClientConfig{BrokerURL: "tcp://localhost:1883"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	setDefaultConfig(cfg)
	if cfg.KeepAlive != 60 {
		t.Errorf("default keep-alive = %d, want 60", cfg.KeepAlive)
	}
}
