package monitoring

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dapi-tools/portal-supervisor/pkg/logging"
)

func testLogger() logging.Logger {
	return logging.NewLogger("", logging.LogFuncs{})
}

func newHTTPProbe(t *testing.T, url string, timeout time.Duration) Probe {
	t.Helper()
	probe, err := NewProbe(&HealthCheckConfig{
		Type: HealthCheckTypeHTTP,
		HTTP: HTTPHealthCheckConfig{URL: url},
		RunOptions: HealthCheckRunOptions{
			Timeout: timeout,
		},
	}, 0, "portal", testLogger())
	require.NoError(t, err)
	return probe
}

func TestHTTPProbe_HealthyReport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","database":"connected","timestamp":"2026-08-31T12:00:00"}`))
	}))
	defer server.Close()

	result := newHTTPProbe(t, server.URL+"/health", time.Second).Check(context.Background())

	assert.True(t, result.Healthy)
	assert.Contains(t, result.Message, "database: connected")
	assert.False(t, result.Timestamp.IsZero())
}

func TestHTTPProbe_UnhealthyReport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unhealthy","error":"database is locked","timestamp":"2026-08-31T12:00:00"}`))
	}))
	defer server.Close()

	result := newHTTPProbe(t, server.URL+"/health", time.Second).Check(context.Background())

	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "database is locked")
}

func TestHTTPProbe_DegradedBodyOn2xx(t *testing.T) {
	// 200 with an unhealthy body still counts as a failure
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"unhealthy","database":"disconnected"}`))
	}))
	defer server.Close()

	result := newHTTPProbe(t, server.URL+"/health", time.Second).Check(context.Background())

	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "disconnected")
}

func TestHTTPProbe_NonJSONBodyOn2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	result := newHTTPProbe(t, server.URL+"/health", time.Second).Check(context.Background())

	assert.True(t, result.Healthy)
}

func TestHTTPProbe_Timeout(t *testing.T) {
	blocked := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer server.Close()
	// must unblock the handler before server.Close waits on it
	defer close(blocked)

	result := newHTTPProbe(t, server.URL+"/health", 50*time.Millisecond).Check(context.Background())

	assert.False(t, result.Healthy)
}

func TestHTTPProbe_ConnectionRefused(t *testing.T) {
	result := newHTTPProbe(t, "http://127.0.0.1:1/health", 200*time.Millisecond).Check(context.Background())

	assert.False(t, result.Healthy)
}

func TestTCPProbe(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	port := listener.Addr().(*net.TCPAddr).Port

	probe, err := NewProbe(&HealthCheckConfig{
		Type: HealthCheckTypeTCP,
		TCP:  TCPHealthCheckConfig{Address: "127.0.0.1", Port: port},
		RunOptions: HealthCheckRunOptions{
			Timeout: time.Second,
		},
	}, 0, "portal", testLogger())
	require.NoError(t, err)

	result := probe.Check(context.Background())
	assert.True(t, result.Healthy)

	listener.Close()

	result = probe.Check(context.Background())
	assert.False(t, result.Healthy)
}

func TestProcessProbe(t *testing.T) {
	probe, err := NewProbe(&HealthCheckConfig{
		Type: HealthCheckTypeProcess,
	}, os.Getpid(), "portal", testLogger())
	require.NoError(t, err)

	result := probe.Check(context.Background())
	assert.True(t, result.Healthy)
}

func TestNewProbe_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config *HealthCheckConfig
	}{
		{
			name:   "nil_config",
			config: nil,
		},
		{
			name:   "unknown_type",
			config: &HealthCheckConfig{Type: "carrier-pigeon"},
		},
		{
			name: "http_without_url",
			config: &HealthCheckConfig{
				Type: HealthCheckTypeHTTP,
			},
		},
		{
			name: "http_with_bad_scheme",
			config: &HealthCheckConfig{
				Type: HealthCheckTypeHTTP,
				HTTP: HTTPHealthCheckConfig{URL: "ftp://localhost/health"},
			},
		},
		{
			name: "tcp_with_bad_port",
			config: &HealthCheckConfig{
				Type: HealthCheckTypeTCP,
				TCP:  TCPHealthCheckConfig{Address: "127.0.0.1", Port: 99999},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProbe(tt.config, 0, "portal", testLogger())
			assert.Error(t, err)
		})
	}
}
