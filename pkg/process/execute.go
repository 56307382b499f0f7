package process

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/dapi-tools/portal-supervisor/pkg/errors"
	"github.com/dapi-tools/portal-supervisor/pkg/logging"
)

// ExecutionConfig describes how to launch the supervised application.
type ExecutionConfig struct {
	ExecutablePath   string   `yaml:"executable_path"`
	Args             []string `yaml:"args,omitempty"`
	Environment      []string `yaml:"environment,omitempty"`
	WorkingDirectory string   `yaml:"working_directory,omitempty"`
}

// StdExecuteCmd launches a new application process and returns its
// handle together with a combined stdout/stderr reader.
type StdExecuteCmd func(ctx context.Context) (*os.Process, io.ReadCloser, error)

// NewStdExecuteCmd builds the standard launcher for an execution config.
// A launch failure here is fatal for the caller: there is nothing to
// retry if the executable itself cannot be invoked.
func NewStdExecuteCmd(execution ExecutionConfig, id string, logger logging.Logger) StdExecuteCmd {
	return func(ctx context.Context) (*os.Process, io.ReadCloser, error) {
		if ctx == nil {
			return nil, nil, errors.NewValidationError("context cannot be nil", nil).WithContext("id", id)
		}

		if err := ValidateExecutionConfig(execution); err != nil {
			return nil, nil, errors.NewValidationError("invalid execution configuration", err).WithContext("id", id)
		}

		if err := ensureExecutable(execution.ExecutablePath); err != nil {
			return nil, nil, errors.NewPermissionError("executable is not runnable", err).
				WithContext("id", id).WithContext("executable_path", execution.ExecutablePath)
		}

		workDir := execution.WorkingDirectory
		if workDir == "" {
			absPath, err := filepath.Abs(execution.ExecutablePath)
			if err != nil {
				return nil, nil, errors.NewIOError("failed to resolve executable path", err).
					WithContext("id", id).WithContext("executable_path", execution.ExecutablePath)
			}
			workDir = filepath.Dir(absPath)
		}

		logger.Debugf("Executing process, id: %s, executable: '%s', args: %v, working directory: '%s'",
			id, execution.ExecutablePath, execution.Args, workDir)

		env := os.Environ()
		env = append(env, execution.Environment...)

		// The context covers the launch only. The child's lifetime is
		// owned by the caller, which terminates it explicitly; tying it
		// to the launch context would kill it on an unrelated cancel.
		cmd := exec.Command(execution.ExecutablePath, execution.Args...)
		cmd.Dir = workDir
		cmd.Env = env

		// Platform-specific process group setup, see execute_unix.go / execute_windows.go
		setupProcessAttributes(cmd)

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, nil, errors.NewProcessError("failed to create stdout pipe", err).
				WithContext("id", id).WithContext("executable_path", execution.ExecutablePath)
		}
		cmd.Stderr = cmd.Stdout

		if err := cmd.Start(); err != nil {
			return nil, nil, errors.NewProcessError("failed to start the process", err).
				WithContext("id", id).WithContext("executable_path", execution.ExecutablePath)
		}

		logger.Infof("Process started, id: %s, PID: %d", id, cmd.Process.Pid)

		return cmd.Process, stdout, nil
	}
}

// ensureExecutable checks that the file exists and carries an execute bit,
// setting one if possible.
func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.NewIOError("file does not exist", err).WithContext("path", path)
	}

	mode := info.Mode()
	if mode&0111 != 0 {
		return nil
	}

	if err := os.Chmod(path, mode|0111); err != nil {
		return errors.NewPermissionError("failed to make file executable", err).WithContext("path", path)
	}

	return nil
}
