package runner

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/dapi-tools/portal-supervisor/pkg/config"
	"github.com/dapi-tools/portal-supervisor/pkg/errors"
	"github.com/dapi-tools/portal-supervisor/pkg/logging"
	"github.com/dapi-tools/portal-supervisor/pkg/supervisor"
)

// Run loads the configuration, starts the supervisor and the status
// server, and blocks until a shutdown signal arrives or the supervisory
// loop finishes on its own. A non-nil return means the process should
// exit with a failure code.
func Run(configFile string, logger logging.Logger) error {
	logger.Infof("Supervisor runner starting...")
	logger.Infof("Using CONFIGURATION FILE: %s", configFile)

	cfg, err := config.LoadConfigFromFile(configFile)
	if err != nil {
		return err
	}

	logger.Infof("Configuration loaded successfully from %s", configFile)
	logger.Infof("Application: %s, executable: %s, health check: %s",
		cfg.Application.ID, cfg.Application.Execution.ExecutablePath, cfg.Application.HealthCheck.Type)

	sup := supervisor.NewSupervisor(supervisor.Options{
		ID:              cfg.Application.ID,
		Execution:       cfg.Application.Execution,
		HealthCheck:     cfg.Application.HealthCheck,
		Restart:         cfg.Application.Restart.Policy(),
		GracefulTimeout: cfg.Supervisor.GracefulTimeout,
		ProcessFile:     cfg.ProcessFileConfig(),
	}, logger)

	ctx := context.Background()
	if err := sup.Start(ctx); err != nil {
		return errors.NewProcessError("failed to start supervisor", err).WithContext("id", cfg.Application.ID)
	}

	var statusServer *supervisor.StatusServer
	if cfg.Supervisor.StatusPort > 0 {
		statusServer = supervisor.NewStatusServer(sup, cfg.Supervisor.StatusPort, logger)
		if err := statusServer.Start(); err != nil {
			sup.Stop(ctx)
			return err
		}
	}

	logger.Infof("Enabling signal handling...")

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}

	logger.Infof("Supervisor is running, id: %s", cfg.Application.ID)

	done := sup.Done()
waitLoop:
	for {
		select {
		case receivedSignal := <-sig:
			logger.Infof("Supervisor runner received signal: %v", receivedSignal)
			break waitLoop
		case <-done:
			if cfg.Supervisor.ExitOnFailure {
				logger.Warnf("Supervisory loop finished on its own, exiting")
				break waitLoop
			}
			// Stay up so the failed state remains observable on the
			// status server until an operator intervenes
			logger.Errorf("Supervisory loop finished on its own, staying up for status reporting, id: %s",
				cfg.Application.ID)
			done = nil
		}
	}

	// Reset context to background to enable graceful shutdown
	shutdownCtx := context.Background()

	if statusServer != nil {
		if err := statusServer.Stop(shutdownCtx); err != nil {
			logger.Warnf("Failed to stop status server: %v", err)
		}
	}

	if err := sup.Stop(shutdownCtx); err != nil {
		logger.Warnf("Failed to stop supervisor cleanly: %v", err)
	}

	final := sup.Snapshot()
	logger.Infof("Supervisor runner stopped, id: %s, final status: %s, restarts: %d",
		final.ID, final.Process.Status, final.Process.RestartCount)

	if final.Process.Status == supervisor.ProcessStatusFailed {
		return errors.NewProcessError(
			fmt.Sprintf("application failed permanently after %d restarts", final.Process.RestartCount), nil,
		).WithContext("id", final.ID)
	}

	return nil
}
