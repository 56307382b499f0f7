package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dapi-tools/portal-supervisor/pkg/errors"
	"github.com/dapi-tools/portal-supervisor/pkg/logging"
	"github.com/dapi-tools/portal-supervisor/pkg/monitoring"
	"github.com/dapi-tools/portal-supervisor/pkg/process"
	"github.com/dapi-tools/portal-supervisor/pkg/processfile"
)

// ProbeFactory builds a health probe bound to the given PID. The
// supervisor calls it once per launched process.
type ProbeFactory func(pid int) (monitoring.Probe, error)

// Options configures a Supervisor instance.
type Options struct {
	// ID identifies the supervised application in logs, metrics and PID files
	ID string

	// Execution describes how to launch the application
	Execution process.ExecutionConfig

	// HealthCheck describes the periodic liveness probe
	HealthCheck monitoring.HealthCheckConfig

	// Restart is the backoff policy for failure recovery
	Restart RestartPolicy

	// GracefulTimeout is the time to wait for graceful shutdown before force kill
	GracefulTimeout time.Duration

	// ProcessFile configures PID file placement
	ProcessFile processfile.ProcessFileConfig

	// ExecuteCmd overrides the standard launcher built from Execution
	ExecuteCmd process.StdExecuteCmd

	// ProbeFactory overrides the probe built from HealthCheck
	ProbeFactory ProbeFactory
}

// Supervisor keeps exactly one instance of the application running,
// detecting failure via both process-exit and health-probe signals and
// recovering with capped exponential backoff.
type Supervisor interface {
	// Start launches the application and begins health polling. It fails
	// only if the launcher itself cannot be invoked; that error is not
	// retried at this layer.
	Start(ctx context.Context) error

	// Stop shuts the supervisor down: terminates the child gracefully,
	// force-kills after the grace period, and halts the polling loop.
	Stop(ctx context.Context) error

	// Snapshot returns a copy of the current supervisor state
	Snapshot() Snapshot

	// Done is closed when the supervisory loop exits, either because
	// Stop was called or because the supervisor reached the terminal
	// failed state.
	Done() <-chan struct{}
}

// NewSupervisor creates a supervisor for a single application instance
func NewSupervisor(options Options, logger logging.Logger) Supervisor {
	executeCmd := options.ExecuteCmd
	if executeCmd == nil {
		executeCmd = process.NewStdExecuteCmd(options.Execution, options.ID, logger)
	}

	probeFactory := options.ProbeFactory
	if probeFactory == nil {
		healthCheck := options.HealthCheck
		probeFactory = func(pid int) (monitoring.Probe, error) {
			return monitoring.NewProbe(&healthCheck, pid, options.ID, logger)
		}
	}

	return &supervisor{
		options:      options,
		executeCmd:   executeCmd,
		probeFactory: probeFactory,
		pidFiles:     processfile.NewProcessFileManager(options.ProcessFile, logger),
		logger:       logger,
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
}

type supervisor struct {
	options      Options
	executeCmd   process.StdExecuteCmd
	probeFactory ProbeFactory
	pidFiles     *processfile.ProcessFileManager
	logger       logging.Logger

	// Owned by the loop goroutine after Start; mutex guards snapshot reads
	mutex               sync.Mutex
	current             SupervisedProcess
	process             *os.Process
	stdout              io.ReadCloser
	processDone         chan error
	probe               monitoring.Probe
	rssStop             chan struct{}
	consecutiveFailures int
	consecutiveHealthy  int
	lastHealth          monitoring.HealthCheckResult
	started             bool

	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func (s *supervisor) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.NewValidationError("context cannot be nil", nil)
	}

	s.mutex.Lock()
	if s.started {
		s.mutex.Unlock()
		return errors.NewValidationError("supervisor already started", nil).WithContext("id", s.options.ID)
	}
	s.started = true
	s.mutex.Unlock()

	if err := ValidateRestartPolicy(s.options.Restart); err != nil {
		return errors.NewValidationError("invalid restart policy", err).WithContext("id", s.options.ID)
	}

	s.logger.Infof("Starting supervisor, id: %s, interval: %v, policy: base=%v max=%v max_failures=%d",
		s.options.ID, s.options.HealthCheck.RunOptions.Interval,
		s.options.Restart.BaseDelay, s.options.Restart.MaxDelay, s.options.Restart.MaxFailures)

	// A launch failure here is fatal: propagated to the caller, not retried
	if err := s.launch(ctx, 0); err != nil {
		s.logger.Errorf("Failed to launch application, id: %s, error: %v", s.options.ID, err)
		return err
	}

	s.wg.Add(1)
	go s.loop()

	return nil
}

func (s *supervisor) Stop(ctx context.Context) error {
	if ctx == nil {
		return errors.NewValidationError("context cannot be nil", nil)
	}

	s.logger.Infof("Stopping supervisor, id: %s", s.options.ID)

	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()

	collection := errors.NewErrorCollection()

	proc, done := s.releaseProcess()
	if proc != nil {
		if err := s.terminate(ctx, proc, done); err != nil {
			collection.Add(err)
		}
	}
	if err := s.pidFiles.RemovePIDFile(s.options.ID); err != nil {
		collection.Add(err)
	}

	if !s.status().Terminal() {
		s.transition(ProcessStatusStopped, "shutdown requested")
	}

	s.logger.Infof("Supervisor stopped, id: %s", s.options.ID)
	return collection.ToError()
}

func (s *supervisor) Snapshot() Snapshot {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return Snapshot{
		ID:                  s.options.ID,
		Process:             s.current,
		ConsecutiveFailures: s.consecutiveFailures,
		LastHealthMessage:   s.lastHealth.Message,
		LastHealthAt:        s.lastHealth.Timestamp,
	}
}

func (s *supervisor) Done() <-chan struct{} {
	return s.doneChan
}

// loop is the single supervisory goroutine. It owns the
// SupervisedProcess record exclusively; the probe wait and the backoff
// sleep are both interruptible by the stop signal.
func (s *supervisor) loop() {
	defer s.wg.Done()
	defer close(s.doneChan)

	if delay := s.options.HealthCheck.RunOptions.InitialDelay; delay > 0 {
		if !s.sleepInterruptible(delay) {
			return
		}
	}

	interval := s.options.HealthCheck.RunOptions.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !s.poll() {
				return
			}
		case err := <-s.processExitChan():
			if !s.handleExit(err) {
				return
			}
		case <-s.stopChan:
			return
		}
	}
}

// poll runs one health probe and reacts to the outcome. Returns false
// when the loop must stop.
func (s *supervisor) poll() bool {
	probe := s.currentProbe()
	if probe == nil {
		return true
	}

	result := probe.Check(context.Background())

	s.mutex.Lock()
	s.lastHealth = result
	s.mutex.Unlock()

	if result.Healthy {
		s.onHealthyPoll(result)
		return true
	}

	healthCheckFailuresTotal.WithLabelValues(s.options.ID).Inc()
	s.transition(ProcessStatusUnresponsive, result.Message)
	return s.restart()
}

func (s *supervisor) onHealthyPoll(result monitoring.HealthCheckResult) {
	s.transition(ProcessStatusHealthy, result.Message)

	s.mutex.Lock()
	s.consecutiveHealthy++
	healthy := s.consecutiveHealthy
	failures := s.consecutiveFailures
	threshold := s.options.Restart.HealthyThreshold
	reset := failures > 0 && healthy >= threshold
	if reset {
		s.consecutiveFailures = 0
	}
	s.mutex.Unlock()

	if reset {
		s.logger.Infof("Failure counter reset after %d consecutive healthy polls, id: %s, previous failures: %d",
			healthy, s.options.ID, failures)
	} else {
		s.logger.Debugf("Health check passed, id: %s, consecutive_successes: %d", s.options.ID, healthy)
	}
}

// handleExit reacts to the child exiting on its own. Returns false when
// the loop must stop.
func (s *supervisor) handleExit(err error) bool {
	s.mutex.Lock()
	pid := s.current.PID
	s.mutex.Unlock()

	s.logger.Warnf("Application process exited, id: %s, PID: %d, error: %v", s.options.ID, pid, err)

	// The exit notification consumed the done signal: the record is
	// retired here, termination is not needed.
	s.releaseProcess()
	if err := s.pidFiles.RemovePIDFile(s.options.ID); err != nil {
		s.logger.Warnf("Failed to remove PID file, id: %s, error: %v", s.options.ID, err)
	}

	s.transition(ProcessStatusCrashed, fmt.Sprintf("process exit: %v", err))
	return s.restart()
}

// restart retires the current process and launches a replacement after
// a backoff delay. Returns false when the supervisor gave up or was
// stopped during the wait.
func (s *supervisor) restart() bool {
	for {
		s.mutex.Lock()
		s.consecutiveFailures++
		failures := s.consecutiveFailures
		lastHealth := s.lastHealth.Message
		s.mutex.Unlock()

		if s.options.Restart.Exhausted(failures) {
			// Giving up still retires the child: an unresponsive process
			// is not left running behind a failed supervisor
			if proc, done := s.releaseProcess(); proc != nil {
				if err := s.terminate(context.Background(), proc, done); err != nil {
					s.logger.Warnf("Failed to terminate process while giving up, id: %s, PID: %d, error: %v",
						s.options.ID, proc.Pid, err)
				}
			}
			if err := s.pidFiles.RemovePIDFile(s.options.ID); err != nil {
				s.logger.Warnf("Failed to remove PID file, id: %s, error: %v", s.options.ID, err)
			}

			s.transition(ProcessStatusFailed, fmt.Sprintf(
				"%d consecutive failures exceed maximum %d, last health: %s",
				failures, s.options.Restart.MaxFailures, lastHealth))
			return false
		}

		s.transition(ProcessStatusRestarting, "")

		proc, done := s.releaseProcess()
		if proc != nil {
			if err := s.terminate(context.Background(), proc, done); err != nil {
				s.logger.Warnf("Failed to terminate process during restart, id: %s, PID: %d, error: %v",
					s.options.ID, proc.Pid, err)
			}
		}
		if err := s.pidFiles.RemovePIDFile(s.options.ID); err != nil {
			s.logger.Warnf("Failed to remove PID file, id: %s, error: %v", s.options.ID, err)
		}

		delay := s.options.Restart.Delay(failures - 1)
		s.logger.Infof("Waiting %v before restart, id: %s, consecutive_failures: %d", delay, s.options.ID, failures)
		if !s.sleepInterruptible(delay) {
			return false
		}

		restartCount := s.restartCount() + 1
		if err := s.launch(context.Background(), restartCount); err != nil {
			s.logger.Errorf("Failed to relaunch application, id: %s, consecutive_failures: %d, error: %v",
				s.options.ID, failures, err)
			continue
		}

		restartsTotal.WithLabelValues(s.options.ID).Inc()
		return true
	}
}

// launch starts a new application process and installs a fresh
// SupervisedProcess record before health polling resumes.
func (s *supervisor) launch(ctx context.Context, restartCount int) error {
	proc, stdout, err := s.executeCmd(ctx)
	if err != nil {
		return err
	}

	processDone := make(chan error, 1)
	go func() {
		state, waitErr := proc.Wait()
		if waitErr != nil {
			processDone <- errors.NewProcessError("process wait failed", waitErr).WithContext("pid", proc.Pid)
		} else if state != nil && !state.Success() {
			processDone <- errors.NewProcessError("process exited: "+state.String(), nil).WithContext("pid", proc.Pid)
		} else {
			processDone <- nil
		}
	}()

	probe, err := s.probeFactory(proc.Pid)
	if err != nil {
		proc.Kill()
		return errors.NewInternalError("failed to build health probe", err).WithContext("id", s.options.ID)
	}

	if err := s.pidFiles.WritePIDFile(s.options.ID, proc.Pid); err != nil {
		s.logger.Warnf("Failed to write PID file, id: %s, error: %v", s.options.ID, err)
	}

	rssStop := make(chan struct{})
	go monitorRss(s.options.ID, proc.Pid, rssStop)

	go s.forwardOutput(stdout, proc.Pid)

	s.mutex.Lock()
	status := s.current.Status
	s.process = proc
	s.stdout = stdout
	s.processDone = processDone
	s.probe = probe
	s.rssStop = rssStop
	s.consecutiveHealthy = 0
	s.current = SupervisedProcess{
		PID:          proc.Pid,
		StartedAt:    time.Now(),
		RestartCount: restartCount,
		Status:       status,
	}
	s.mutex.Unlock()

	s.transition(ProcessStatusStarting, "")
	return nil
}

// releaseProcess clears the current process fields and returns the
// handle and exit signal for optional termination by the caller.
func (s *supervisor) releaseProcess() (*os.Process, chan error) {
	s.mutex.Lock()
	proc := s.process
	done := s.processDone
	stdout := s.stdout
	rssStop := s.rssStop
	s.process = nil
	s.processDone = nil
	s.stdout = nil
	s.rssStop = nil
	s.probe = nil
	s.mutex.Unlock()

	if rssStop != nil {
		close(rssStop)
	}
	if stdout != nil {
		stdout.Close()
	}

	return proc, done
}

// terminate performs graceful termination with timeout: termination
// signal, grace period, force kill.
func (s *supervisor) terminate(ctx context.Context, proc *os.Process, done chan error) error {
	pid := proc.Pid

	gracefulTimeout := s.options.GracefulTimeout
	if gracefulTimeout <= 0 {
		gracefulTimeout = 30 * time.Second
	}

	s.logger.Infof("Sending termination signal to PID %d, timeout: %v", pid, gracefulTimeout)
	if err := process.SendTerminationSignal(pid, gracefulTimeout); err != nil {
		s.logger.Warnf("Failed to send termination signal to PID %d: %v", pid, err)
	}

	select {
	case exitErr := <-done:
		// A non-zero exit after SIGTERM still counts as terminated
		s.logger.Infof("Process PID %d terminated, exit: %v", pid, exitErr)
		return nil
	case <-time.After(gracefulTimeout):
		s.logger.Warnf("Process PID %d did not terminate within %v, forcing termination", pid, gracefulTimeout)
	case <-ctx.Done():
		s.logger.Warnf("Context cancelled during graceful termination of PID %d, forcing termination", pid)
	}

	if err := proc.Kill(); err != nil {
		return errors.NewProcessError("failed to kill process", err).WithContext("pid", pid)
	}

	select {
	case <-done:
		s.logger.Infof("Process PID %d force terminated", pid)
		return nil
	case <-time.After(5 * time.Second):
		return errors.NewTimeoutError("process did not terminate even after force kill", nil).WithContext("pid", pid)
	case <-ctx.Done():
		return errors.NewCancelledError("termination cancelled", ctx.Err()).WithContext("pid", pid)
	}
}

// transition applies a status change to the current record and logs it.
// Repeated transitions to the same status are no-ops.
func (s *supervisor) transition(to ProcessStatus, reason string) {
	s.mutex.Lock()
	prior := s.current.Status
	if prior == to {
		s.mutex.Unlock()
		return
	}
	if prior != "" && !CanTransition(prior, to) {
		s.logger.Warnf("Unexpected state transition, id: %s, %s -> %s", s.options.ID, prior, to)
	}
	s.current.Status = to
	restarts := s.current.RestartCount
	failures := s.consecutiveFailures
	s.mutex.Unlock()

	if to == ProcessStatusHealthy {
		healthyGauge.WithLabelValues(s.options.ID).Set(1)
	} else {
		healthyGauge.WithLabelValues(s.options.ID).Set(0)
	}

	if to == ProcessStatusFailed {
		// Terminal: surfaced for external alerting, the supervisor stops retrying
		s.logger.Errorf("Supervisor giving up, id: %s, %s -> %s, restarts: %d, consecutive_failures: %d, reason: %s",
			s.options.ID, prior, to, restarts, failures, reason)
		return
	}

	s.logger.Infof("State transition, id: %s, %s -> %s, restarts: %d, reason: %s",
		s.options.ID, prior, to, restarts, reason)
}

// forwardOutput drains the combined stdout/stderr pipe and relays it to
// the supervisor log. The child would block on a full pipe otherwise.
// Ends when the pipe closes, on process exit or retirement.
func (s *supervisor) forwardOutput(stdout io.ReadCloser, pid int) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		s.logger.Infof("Application output, id: %s, PID: %d: %s", s.options.ID, pid, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		s.logger.Debugf("Application output stream closed, id: %s, PID: %d, error: %v", s.options.ID, pid, err)
	}
}

func (s *supervisor) sleepInterruptible(delay time.Duration) bool {
	if delay <= 0 {
		return true
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.stopChan:
		return false
	}
}

func (s *supervisor) processExitChan() chan error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.processDone
}

func (s *supervisor) currentProbe() monitoring.Probe {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.probe
}

func (s *supervisor) status() ProcessStatus {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.current.Status
}

func (s *supervisor) restartCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.current.RestartCount
}
