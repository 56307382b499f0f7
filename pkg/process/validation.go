package process

import (
	"strings"

	"github.com/dapi-tools/portal-supervisor/pkg/errors"
)

// ValidateExecutionConfig validates an execution configuration before launch
func ValidateExecutionConfig(config ExecutionConfig) error {
	if strings.TrimSpace(config.ExecutablePath) == "" {
		return errors.NewValidationError("executable path cannot be empty", nil)
	}

	for i, env := range config.Environment {
		if !strings.Contains(env, "=") {
			return errors.NewValidationError("environment entries must be KEY=VALUE", nil).
				WithContext("index", i).WithContext("entry", env)
		}
	}

	return nil
}
