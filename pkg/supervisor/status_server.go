package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dapi-tools/portal-supervisor/pkg/errors"
	"github.com/dapi-tools/portal-supervisor/pkg/logging"
)

// StatusServer exposes the supervisor state over HTTP:
//
//	GET /status  - JSON snapshot of the supervised process
//	GET /healthz - 200 while the application is healthy, 503 otherwise
//	GET /metrics - Prometheus metrics
type StatusServer struct {
	supervisor Supervisor
	server     *http.Server
	logger     logging.Logger

	mutex      sync.Mutex
	listenAddr string
}

// NewStatusServer creates a status server listening on the given port
func NewStatusServer(supervisor Supervisor, port int, logger logging.Logger) *StatusServer {
	s := &StatusServer{
		supervisor: supervisor,
		logger:     logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Start begins serving in a background goroutine
func (s *StatusServer) Start() error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return errors.NewNetworkError("failed to listen on status port", err).WithContext("addr", s.server.Addr)
	}

	s.mutex.Lock()
	s.listenAddr = listener.Addr().String()
	s.mutex.Unlock()

	s.logger.Infof("Status server listening on %s", listener.Addr().String())

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("Status server error: %v", err)
		}
	}()

	return nil
}

// Stop shuts the server down, waiting for in-flight requests
func (s *StatusServer) Stop(ctx context.Context) error {
	s.logger.Infof("Stopping status server")
	if err := s.server.Shutdown(ctx); err != nil {
		return errors.NewNetworkError("failed to shut down status server", err)
	}
	return nil
}

// Addr returns the actual listen address once the server has started,
// the configured address before that.
func (s *StatusServer) Addr() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.listenAddr != "" {
		return s.listenAddr
	}
	return s.server.Addr
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshot := s.supervisor.Snapshot()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		s.logger.Errorf("Failed to encode status response: %v", err)
	}
}

func (s *StatusServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshot := s.supervisor.Snapshot()

	w.Header().Set("Content-Type", "text/plain")
	if snapshot.Process.Status == ProcessStatusHealthy {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	fmt.Fprintln(w, string(snapshot.Process.Status))
}
