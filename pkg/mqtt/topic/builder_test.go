package topic

import (
	"testing"
)

func TestTopicBuilder(t *testing.T) {
	b := NewTopicBuilder("1581F5BKD23CC00A1234")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"services", b.Services(), "thing/product/1581F5BKD23CC00A1234/services"},
		{"services reply", b.ServicesReply(), "thing/product/1581F5BKD23CC00A1234/services_reply"},
		{"drc up", b.DRCUp(), "thing/product/1581F5BKD23CC00A1234/drc/up"},
		{"drc down", b.DRCDown(), "thing/product/1581F5BKD23CC00A1234/drc/down"},
		{"events", b.Events(), "thing/product/1581F5BKD23CC00A1234/events"},
		{"status", b.Status(), "sys/product/1581F5BKD23CC00A1234/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}

	if b.GatewaySN() != "1581F5BKD23CC00A1234" {
		t.Errorf("GatewaySN() = %q", b.GatewaySN())
	}
}
