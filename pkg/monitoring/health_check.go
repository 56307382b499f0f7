package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dapi-tools/portal-supervisor/pkg/errors"
	"github.com/dapi-tools/portal-supervisor/pkg/logging"
	"github.com/dapi-tools/portal-supervisor/pkg/processstate"
)

type HealthCheckType string

const (
	HealthCheckTypeHTTP    HealthCheckType = "http"
	HealthCheckTypeGRPC    HealthCheckType = "grpc"
	HealthCheckTypeTCP     HealthCheckType = "tcp"
	HealthCheckTypeProcess HealthCheckType = "process"
)

type HTTPHealthCheckConfig struct {
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

type GRPCHealthCheckConfig struct {
	Address string `yaml:"address"`
	Service string `yaml:"service,omitempty"`
}

type TCPHealthCheckConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

type HealthCheckConfig struct {
	Type HealthCheckType `yaml:"type"`

	// HTTP health check
	HTTP HTTPHealthCheckConfig `yaml:"http,omitempty"`

	// GRPC health check
	GRPC GRPCHealthCheckConfig `yaml:"grpc,omitempty"`

	// TCP health check
	TCP TCPHealthCheckConfig `yaml:"tcp,omitempty"`

	// Run options
	RunOptions HealthCheckRunOptions `yaml:"run_options,omitempty"`
}

type HealthCheckRunOptions struct {
	Interval     time.Duration `yaml:"interval,omitempty"`
	Timeout      time.Duration `yaml:"timeout,omitempty"`
	InitialDelay time.Duration `yaml:"initial_delay,omitempty"`
}

// HealthCheckResult is the ephemeral outcome of a single probe. It is
// consumed by the supervisor loop immediately and not persisted beyond
// logging.
type HealthCheckResult struct {
	Healthy   bool
	Message   string
	Timestamp time.Time
}

// Probe performs a single health check against the supervised
// application. A timeout is treated identically to a failed probe.
type Probe interface {
	Check(ctx context.Context) HealthCheckResult
}

// NewProbe builds a probe for the configured health check type. The PID
// is bound at construction time: the supervisor rebuilds the probe on
// each restart so it always targets the current process.
func NewProbe(config *HealthCheckConfig, pid int, id string, logger logging.Logger) (Probe, error) {
	if config == nil {
		return nil, errors.NewValidationError("health check configuration is nil", nil).WithContext("id", id)
	}
	if err := ValidateHealthCheckConfig(*config); err != nil {
		return nil, errors.NewValidationError("invalid health check configuration", err).WithContext("id", id)
	}

	base := probe{config: config, id: id, logger: logger}

	switch config.Type {
	case HealthCheckTypeHTTP:
		return &httpProbe{probe: base}, nil
	case HealthCheckTypeGRPC:
		return &grpcProbe{probe: base}, nil
	case HealthCheckTypeTCP:
		return &tcpProbe{probe: base}, nil
	case HealthCheckTypeProcess:
		return &processProbe{probe: base, pid: pid}, nil
	default:
		return nil, errors.NewValidationError(
			fmt.Sprintf("unsupported health check type: %s", config.Type), nil).WithContext("id", id)
	}
}

type probe struct {
	config *HealthCheckConfig
	id     string
	logger logging.Logger
}

func (p *probe) result(healthy bool, message string) HealthCheckResult {
	return HealthCheckResult{
		Healthy:   healthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

func (p *probe) checkContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := p.config.RunOptions.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// ===== HTTP =====

// portalHealthReport is the JSON body served by the application's
// health endpoint.
type portalHealthReport struct {
	Status    string `json:"status"`
	Database  string `json:"database,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type httpProbe struct {
	probe
}

func (p *httpProbe) Check(ctx context.Context) HealthCheckResult {
	p.logger.Debugf("Performing HTTP health check, id: %s, url: %s", p.id, p.config.HTTP.URL)

	checkCtx, cancel := p.checkContext(ctx)
	defer cancel()

	method := p.config.HTTP.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(checkCtx, method, p.config.HTTP.URL, nil)
	if err != nil {
		return p.result(false, fmt.Sprintf("failed to create HTTP request: %v", err))
	}
	for key, value := range p.config.HTTP.Headers {
		req.Header.Set(key, value)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return p.result(false, fmt.Sprintf("HTTP request failed: %v", err))
	}
	defer resp.Body.Close()

	var report portalHealthReport
	decodeErr := json.NewDecoder(resp.Body).Decode(&report)

	// Non-2xx counts as failure regardless of the body
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && report.Error != "" {
			return p.result(false, fmt.Sprintf("HTTP health check failed: %s (%s)", resp.Status, report.Error))
		}
		return p.result(false, fmt.Sprintf("HTTP health check failed: %s", resp.Status))
	}

	// 2xx with a well-formed body must also report status "healthy"
	if decodeErr == nil && report.Status != "" && report.Status != "healthy" {
		return p.result(false, fmt.Sprintf("application reports status %q, database: %s", report.Status, report.Database))
	}

	if decodeErr == nil && report.Database != "" {
		return p.result(true, fmt.Sprintf("HTTP health check passed: %s, database: %s", resp.Status, report.Database))
	}
	return p.result(true, fmt.Sprintf("HTTP health check passed: %s", resp.Status))
}

// ===== gRPC =====

type grpcProbe struct {
	probe
}

func (p *grpcProbe) Check(ctx context.Context) HealthCheckResult {
	p.logger.Debugf("Performing gRPC health check, id: %s, address: %s, service: %s",
		p.id, p.config.GRPC.Address, p.config.GRPC.Service)

	checkCtx, cancel := p.checkContext(ctx)
	defer cancel()

	conn, err := grpc.DialContext(checkCtx, p.config.GRPC.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return p.result(false, fmt.Sprintf("gRPC connection failed: %v", err))
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(checkCtx, &healthpb.HealthCheckRequest{
		Service: p.config.GRPC.Service,
	})
	if err != nil {
		return p.result(false, fmt.Sprintf("gRPC health check failed: %v", err))
	}

	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		return p.result(false, fmt.Sprintf("gRPC health check reports %s", resp.Status))
	}

	return p.result(true, fmt.Sprintf("gRPC health check passed: %s", p.config.GRPC.Address))
}

// ===== TCP =====

type tcpProbe struct {
	probe
}

func (p *tcpProbe) Check(ctx context.Context) HealthCheckResult {
	address := net.JoinHostPort(p.config.TCP.Address, strconv.Itoa(p.config.TCP.Port))
	p.logger.Debugf("Performing TCP health check, id: %s, address: %s", p.id, address)

	checkCtx, cancel := p.checkContext(ctx)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(checkCtx, "tcp", address)
	if err != nil {
		return p.result(false, fmt.Sprintf("TCP connection failed: %v", err))
	}
	defer conn.Close()

	return p.result(true, fmt.Sprintf("TCP connection successful to %s", address))
}

// ===== Process =====

type processProbe struct {
	probe
	pid int
}

func (p *processProbe) Check(ctx context.Context) HealthCheckResult {
	p.logger.Debugf("Performing process health check, id: %s, PID: %d", p.id, p.pid)

	running, err := processstate.IsProcessRunning(p.pid)
	if err != nil {
		return p.result(false, fmt.Sprintf("process check failed for PID %d: %v", p.pid, err))
	}
	if !running {
		return p.result(false, fmt.Sprintf("process not running: PID %d", p.pid))
	}

	return p.result(true, fmt.Sprintf("process is running: PID %d", p.pid))
}
