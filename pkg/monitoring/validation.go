package monitoring

import (
	"fmt"
	"net/url"

	"github.com/dapi-tools/portal-supervisor/pkg/errors"
)

// ValidateHealthCheckConfig validates a health check configuration
func ValidateHealthCheckConfig(config HealthCheckConfig) error {
	switch config.Type {
	case HealthCheckTypeHTTP:
		if config.HTTP.URL == "" {
			return errors.NewValidationError("URL is required for HTTP health check", nil)
		}
		parsed, err := url.Parse(config.HTTP.URL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return errors.NewValidationError("HTTP health check URL must be a valid http(s) URL", err).
				WithContext("url", config.HTTP.URL)
		}

	case HealthCheckTypeGRPC:
		if config.GRPC.Address == "" {
			return errors.NewValidationError("address is required for gRPC health check", nil)
		}

	case HealthCheckTypeTCP:
		if config.TCP.Address == "" {
			return errors.NewValidationError("address is required for TCP health check", nil)
		}
		if config.TCP.Port <= 0 || config.TCP.Port > 65535 {
			return errors.NewValidationError(
				fmt.Sprintf("invalid TCP health check port: %d", config.TCP.Port), nil).
				WithContext("valid_range", "1-65535")
		}

	case HealthCheckTypeProcess:
		// No extra configuration: the PID is bound at probe construction

	default:
		return errors.NewValidationError(
			fmt.Sprintf("unsupported health check type: %s", config.Type), nil).
			WithContext("supported_types", "http, grpc, tcp, process")
	}

	if config.RunOptions.Interval < 0 {
		return errors.NewValidationError("health check interval cannot be negative", nil)
	}
	if config.RunOptions.Timeout < 0 {
		return errors.NewValidationError("health check timeout cannot be negative", nil)
	}
	if config.RunOptions.InitialDelay < 0 {
		return errors.NewValidationError("health check initial delay cannot be negative", nil)
	}

	return nil
}
