package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/dapi-tools/portal-supervisor/pkg/errors"
	"github.com/dapi-tools/portal-supervisor/pkg/monitoring"
	"github.com/dapi-tools/portal-supervisor/pkg/process"
	"github.com/dapi-tools/portal-supervisor/pkg/processfile"
	"github.com/dapi-tools/portal-supervisor/pkg/supervisor"
)

// envPrefix is the prefix for environment variable overrides, e.g.
// PORTAL_SUPERVISOR_LOG_LEVEL.
const envPrefix = "portal_supervisor"

// Config represents the top-level configuration file structure
type Config struct {
	Supervisor  SupervisorOptions `yaml:"supervisor"`
	Application ApplicationConfig `yaml:"application"`
}

// SupervisorOptions represents supervisor-level configuration
type SupervisorOptions struct {
	LogLevel        string        `yaml:"log_level,omitempty"`
	StatusPort      int           `yaml:"status_port,omitempty"`
	GracefulTimeout time.Duration `yaml:"graceful_timeout,omitempty"`
	PIDDirectory    string        `yaml:"pid_directory,omitempty"`

	// ExitOnFailure makes the supervisor process exit once the terminal
	// failed state is reached. Off by default: the failed state is kept
	// observable on the status server for external alerting.
	ExitOnFailure bool `yaml:"exit_on_failure,omitempty"`
}

// ApplicationConfig represents the single supervised application
type ApplicationConfig struct {
	ID          string                       `yaml:"id"`
	Execution   process.ExecutionConfig      `yaml:"execution"`
	HealthCheck monitoring.HealthCheckConfig `yaml:"health_check"`
	Restart     RestartConfig                `yaml:"restart,omitempty"`
}

// RestartConfig is the YAML shape of the restart policy. MaxFailures is
// a pointer to distinguish unset (defaulted to 5) from an explicit 0,
// which means retry forever.
type RestartConfig struct {
	BaseDelay        time.Duration `yaml:"base_delay,omitempty"`
	MaxDelay         time.Duration `yaml:"max_delay,omitempty"`
	MaxFailures      *int          `yaml:"max_failures,omitempty"`
	HealthyThreshold int           `yaml:"healthy_threshold,omitempty"`
}

// Policy converts the YAML shape into the supervisor's restart policy
func (c RestartConfig) Policy() supervisor.RestartPolicy {
	policy := supervisor.RestartPolicy{
		BaseDelay:        c.BaseDelay,
		MaxDelay:         c.MaxDelay,
		HealthyThreshold: c.HealthyThreshold,
	}
	if c.MaxFailures != nil {
		policy.MaxFailures = *c.MaxFailures
	}
	return policy
}

// envOverrides holds the supervisor-level settings that may be
// overridden through the environment.
type envOverrides struct {
	LogLevel        string        `envconfig:"LOG_LEVEL"`
	StatusPort      int           `envconfig:"STATUS_PORT"`
	GracefulTimeout time.Duration `envconfig:"GRACEFUL_TIMEOUT"`
	PIDDirectory    string        `envconfig:"PID_DIRECTORY"`
	ExitOnFailure   bool          `envconfig:"EXIT_ON_FAILURE"`
}

// LoadConfigFromFile loads supervisor configuration from a YAML file,
// applies defaults and environment overrides, and validates the result.
func LoadConfigFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err).WithContext("filename", filename)
	}

	setConfigDefaults(&config)

	if err := applyEnvOverrides(&config); err != nil {
		return nil, err
	}

	if err := ValidateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// ValidateConfigFile loads and validates a configuration file without
// using it, for the --validate CLI mode.
func ValidateConfigFile(filename string) error {
	_, err := LoadConfigFromFile(filename)
	return err
}

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if err := validateSupervisorOptions(&config.Supervisor); err != nil {
		return errors.NewValidationError("invalid supervisor configuration", err)
	}

	if err := validateApplicationConfig(&config.Application); err != nil {
		return errors.NewValidationError("invalid application configuration", err)
	}

	return nil
}

// ProcessFileConfig derives the PID file settings from the supervisor
// options.
func (c *Config) ProcessFileConfig() processfile.ProcessFileConfig {
	return processfile.ProcessFileConfig{
		BaseDirectory: c.Supervisor.PIDDirectory,
		AppName:       processfile.DefaultAppName,
	}
}

// setConfigDefaults applies default values to configuration
func setConfigDefaults(config *Config) {
	if config.Supervisor.LogLevel == "" {
		config.Supervisor.LogLevel = "info"
	}
	if config.Supervisor.GracefulTimeout == 0 {
		config.Supervisor.GracefulTimeout = 30 * time.Second
	}

	runOptions := &config.Application.HealthCheck.RunOptions
	if runOptions.Interval == 0 {
		runOptions.Interval = 30 * time.Second
	}
	if runOptions.Timeout == 0 {
		runOptions.Timeout = 5 * time.Second
	}

	restart := &config.Application.Restart
	if restart.BaseDelay == 0 {
		restart.BaseDelay = 1 * time.Second
	}
	if restart.MaxDelay == 0 {
		restart.MaxDelay = 30 * time.Second
	}
	// An explicit 0 ("retry forever") is kept; only absent gets the default
	if restart.MaxFailures == nil {
		maxFailures := 5
		restart.MaxFailures = &maxFailures
	}
	if restart.HealthyThreshold == 0 {
		restart.HealthyThreshold = 2
	}
}

// applyEnvOverrides overlays supervisor-level settings from the
// environment on top of the file values.
func applyEnvOverrides(config *Config) error {
	var overrides envOverrides
	if err := envconfig.Process(envPrefix, &overrides); err != nil {
		return errors.NewValidationError("failed to process environment overrides", err)
	}

	if overrides.LogLevel != "" {
		config.Supervisor.LogLevel = overrides.LogLevel
	}
	if overrides.StatusPort != 0 {
		config.Supervisor.StatusPort = overrides.StatusPort
	}
	if overrides.GracefulTimeout != 0 {
		config.Supervisor.GracefulTimeout = overrides.GracefulTimeout
	}
	if overrides.PIDDirectory != "" {
		config.Supervisor.PIDDirectory = overrides.PIDDirectory
	}
	if overrides.ExitOnFailure {
		config.Supervisor.ExitOnFailure = true
	}

	return nil
}

func validateSupervisorOptions(options *SupervisorOptions) error {
	if options.StatusPort < 0 || options.StatusPort > 65535 {
		return errors.NewValidationError(
			fmt.Sprintf("invalid status port: %d", options.StatusPort), nil,
		).WithContext("valid_range", "0-65535")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	valid := false
	for _, level := range validLogLevels {
		if options.LogLevel == level {
			valid = true
			break
		}
	}
	if !valid {
		return errors.NewValidationError(
			fmt.Sprintf("invalid log level: %s", options.LogLevel), nil,
		).WithContext("valid_levels", "debug, info, warn, error")
	}

	if options.GracefulTimeout < 0 {
		return errors.NewValidationError("graceful timeout cannot be negative", nil).
			WithContext("graceful_timeout", options.GracefulTimeout)
	}

	return nil
}

func validateApplicationConfig(config *ApplicationConfig) error {
	if config.ID == "" {
		return errors.NewValidationError("application id is required", nil)
	}

	if err := process.ValidateExecutionConfig(config.Execution); err != nil {
		return err
	}

	if err := monitoring.ValidateHealthCheckConfig(config.HealthCheck); err != nil {
		return err
	}

	if err := supervisor.ValidateRestartPolicy(config.Restart.Policy()); err != nil {
		return err
	}

	return nil
}
