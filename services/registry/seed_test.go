package registry

import (
	"strings"
	"testing"
)

func TestParseSeed(t *testing.T) {
	raw := []byte(`{
  "devices": [
    {"hostname": "esp-000", "slot_index": 0, "http_port": 8100, "admin_port": 8200, "mqtt_topic": "bench/esp-000"},
    {"hostname": "esp-001", "slot_index": 1, "http_port": 8101, "admin_port": 8201}
  ]
}`)
	devices, err := parseSeed(raw)
	if err != nil {
		t.Fatalf("parseSeed: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("device count = %d", len(devices))
	}
	if devices[0].MQTTTopic != "bench/esp-000" {
		t.Fatalf("explicit topic lost: %s", devices[0].MQTTTopic)
	}
	if devices[1].MQTTTopic != "dash/esp-001" {
		t.Fatalf("default topic = %s, want dash/esp-001", devices[1].MQTTTopic)
	}
}

func TestParseSeedRejectsBadEntries(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "missing hostname",
			raw:  `{"devices":[{"slot_index":0,"http_port":8100,"admin_port":8200}]}`,
			want: "hostname",
		},
		{
			name: "duplicate hostname",
			raw:  `{"devices":[{"hostname":"a","slot_index":0,"http_port":1,"admin_port":2},{"hostname":"a","slot_index":1,"http_port":3,"admin_port":4}]}`,
			want: "duplicate hostname",
		},
		{
			name: "duplicate slot",
			raw:  `{"devices":[{"hostname":"a","slot_index":0,"http_port":1,"admin_port":2},{"hostname":"b","slot_index":0,"http_port":3,"admin_port":4}]}`,
			want: "duplicate slot_index",
		},
		{
			name: "bad port",
			raw:  `{"devices":[{"hostname":"a","slot_index":0,"http_port":0,"admin_port":2}]}`,
			want: "ports",
		},
		{
			name: "not json",
			raw:  `devices: []`,
			want: "parse",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseSeed([]byte(tt.raw))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}
