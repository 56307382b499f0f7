package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/dapi-tools/portal-supervisor/pkg/errors"
	"github.com/dapi-tools/portal-supervisor/pkg/logging"
)

// Default application name used for the PID file subdirectory
const DefaultAppName = "portal-supervisor"

// ProcessFileConfig holds configuration for PID file placement
type ProcessFileConfig struct {
	// Base directory for PID files. If empty, uses an OS-appropriate default
	BaseDirectory string `yaml:"base_directory,omitempty"`

	// Application name for subdirectory creation
	AppName string `yaml:"app_name,omitempty"`
}

// ProcessFileManager writes, reads and removes the PID file of the
// supervised application so operators can locate the current child.
type ProcessFileManager struct {
	config ProcessFileConfig
	logger logging.Logger
}

// NewProcessFileManager creates a new process file manager with the given configuration
func NewProcessFileManager(config ProcessFileConfig, logger logging.Logger) *ProcessFileManager {
	if config.AppName == "" {
		config.AppName = DefaultAppName
	}

	return &ProcessFileManager{
		config: config,
		logger: logger,
	}
}

// PIDFilePath returns the PID file path for the given application ID
func (m *ProcessFileManager) PIDFilePath(id string) string {
	return filepath.Join(m.baseDirectory(), m.config.AppName, id+".pid")
}

// WritePIDFile records the PID of a freshly started application process
func (m *ProcessFileManager) WritePIDFile(id string, pid int) error {
	path := m.PIDFilePath(id)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewIOError("failed to create PID file directory", err).WithContext("pid_file", path)
	}

	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", pid)), 0o644); err != nil {
		return errors.NewIOError("failed to write PID file", err).WithContext("pid_file", path)
	}

	m.logger.Debugf("PID file written, id: %s, pid: %d, path: %s", id, pid, path)
	return nil
}

// ReadPIDFile reads the recorded PID for the given application ID
func (m *ProcessFileManager) ReadPIDFile(id string) (int, error) {
	path := m.PIDFilePath(id)

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.NewIOError("failed to read PID file", err).WithContext("pid_file", path)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, errors.NewValidationError("PID file contains invalid PID", err).WithContext("pid_file", path)
	}

	return pid, nil
}

// RemovePIDFile removes the PID file of a stopped application process.
// A missing file is not an error.
func (m *ProcessFileManager) RemovePIDFile(id string) error {
	path := m.PIDFilePath(id)

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.NewIOError("failed to remove PID file", err).WithContext("pid_file", path)
	}

	m.logger.Debugf("PID file removed, id: %s, path: %s", id, path)
	return nil
}

func (m *ProcessFileManager) baseDirectory() string {
	if m.config.BaseDirectory != "" {
		return m.config.BaseDirectory
	}

	if runtime.GOOS == "windows" {
		if programData := os.Getenv("ProgramData"); programData != "" {
			return programData
		}
	} else if os.Geteuid() == 0 {
		return "/var/run"
	}

	return os.TempDir()
}
