package portmap

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRewriteRequestPath(t *testing.T) {
	tests := []struct {
		name   string
		header string
		prefix string
		want   string
	}{
		{
			name:   "strips prefix",
			header: "GET /admin/status HTTP/1.1\r\nHost: x\r\n\r\n",
			prefix: "/admin",
			want:   "GET /status HTTP/1.1\r\nHost: x\r\n\r\n",
		},
		{
			name:   "bare prefix becomes root",
			header: "GET /admin HTTP/1.1\r\n\r\n",
			prefix: "/admin",
			want:   "GET / HTTP/1.1\r\n\r\n",
		},
		{
			name:   "non-matching path untouched",
			header: "POST /api/layout HTTP/1.1\r\n\r\n",
			prefix: "/admin",
			want:   "POST /api/layout HTTP/1.1\r\n\r\n",
		},
		{
			name:   "malformed request line untouched",
			header: "NONSENSE\r\n\r\n",
			prefix: "/admin",
			want:   "NONSENSE\r\n\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(rewriteRequestPath([]byte(tt.header), tt.prefix))
			if got != tt.want {
				t.Fatalf("rewriteRequestPath = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildMappings(t *testing.T) {
	mappings := BuildMappings(3, "esp-%03d.local", 80)
	if len(mappings) != 6 {
		t.Fatalf("mappings = %d, want 6", len(mappings))
	}

	if mappings[0].LocalPort != 8100 || mappings[0].TargetHost != "esp-000.local" || mappings[0].StripPrefix != "" {
		t.Fatalf("http mapping 0 = %+v", mappings[0])
	}
	if mappings[1].LocalPort != 8200 || mappings[1].StripPrefix != "/admin" {
		t.Fatalf("admin mapping 0 = %+v", mappings[1])
	}
	if mappings[4].LocalPort != 8102 || mappings[4].TargetHost != "esp-002.local" {
		t.Fatalf("http mapping 2 = %+v", mappings[4])
	}
}

// relayFixture runs one relay on an ephemeral port in front of an HTTP
// target and returns the relay's address.
func relayFixture(t *testing.T, target *httptest.Server, stripPrefix string) string {
	t.Helper()

	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(target.URL, "http://"))
	if err != nil {
		t.Fatalf("parse target addr: %v", err)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		t.Fatalf("parse target port: %v", err)
	}

	mapping := Mapping{TargetHost: host, TargetPort: port, StripPrefix: stripPrefix}
	srv := &Server{
		bindHost: "127.0.0.1",
		mappings: []Mapping{mapping},
		logger:   zerolog.Nop(),
		dialer:   net.Dialer{Timeout: 2 * time.Second},
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		_ = srv.serve(ctx, ln, mapping)
	}()

	return ln.Addr().String()
}

func TestRelayForwardsTraffic(t *testing.T) {
	var gotPath string
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, "pong")
	}))
	defer target.Close()

	addr := relayFixture(t, target, "")

	resp, err := http.Get("http://" + addr + "/api/layout")
	if err != nil {
		t.Fatalf("GET through relay: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if gotPath != "/api/layout" {
		t.Fatalf("target saw path %q", gotPath)
	}
}

func TestRelayStripsAdminPrefix(t *testing.T) {
	var gotPath string
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer target.Close()

	addr := relayFixture(t, target, "/admin")

	resp, err := http.Get("http://" + addr + "/admin/reboot")
	if err != nil {
		t.Fatalf("GET through relay: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if gotPath != "/reboot" {
		t.Fatalf("target saw path %q, want /reboot", gotPath)
	}
}
