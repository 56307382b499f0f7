package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSupervisor serves a fixed snapshot for handler tests.
type stubSupervisor struct {
	snapshot Snapshot
	done     chan struct{}
}

func (s *stubSupervisor) Start(ctx context.Context) error { return nil }
func (s *stubSupervisor) Stop(ctx context.Context) error  { return nil }
func (s *stubSupervisor) Snapshot() Snapshot              { return s.snapshot }
func (s *stubSupervisor) Done() <-chan struct{}           { return s.done }

func startStatusServer(t *testing.T, snapshot Snapshot) string {
	t.Helper()

	stub := &stubSupervisor{snapshot: snapshot, done: make(chan struct{})}
	server := NewStatusServer(stub, 0, newTestLogger(t))
	require.NoError(t, server.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Stop(ctx)
	})

	return "http://" + server.Addr()
}

func TestStatusServer_Status(t *testing.T) {
	snapshot := Snapshot{
		ID: "academic-portal",
		Process: SupervisedProcess{
			PID:          1234,
			StartedAt:    time.Now(),
			RestartCount: 2,
			Status:       ProcessStatusHealthy,
		},
		LastHealthMessage: "portal healthy, database connected",
	}

	base := startStatusServer(t, snapshot)

	resp, err := http.Get(base + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var decoded Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Equal(t, "academic-portal", decoded.ID)
	assert.Equal(t, 1234, decoded.Process.PID)
	assert.Equal(t, 2, decoded.Process.RestartCount)
	assert.Equal(t, ProcessStatusHealthy, decoded.Process.Status)
}

func TestStatusServer_StatusMethodNotAllowed(t *testing.T) {
	base := startStatusServer(t, Snapshot{})

	resp, err := http.Post(base+"/status", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStatusServer_Healthz(t *testing.T) {
	tests := []struct {
		status   ProcessStatus
		expected int
	}{
		{ProcessStatusHealthy, http.StatusOK},
		{ProcessStatusStarting, http.StatusServiceUnavailable},
		{ProcessStatusUnresponsive, http.StatusServiceUnavailable},
		{ProcessStatusRestarting, http.StatusServiceUnavailable},
		{ProcessStatusFailed, http.StatusServiceUnavailable},
		{ProcessStatusStopped, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			base := startStatusServer(t, Snapshot{
				Process: SupervisedProcess{Status: tt.status},
			})

			resp, err := http.Get(base + "/healthz")
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.expected, resp.StatusCode, fmt.Sprintf("status %s", tt.status))
		})
	}
}

func TestStatusServer_Metrics(t *testing.T) {
	base := startStatusServer(t, Snapshot{})

	resp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
