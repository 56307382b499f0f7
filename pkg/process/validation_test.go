package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateExecutionConfig(t *testing.T) {
	tests := []struct {
		name        string
		config      ExecutionConfig
		expectError bool
	}{
		{
			name: "valid_minimal",
			config: ExecutionConfig{
				ExecutablePath: "/usr/bin/python3",
			},
			expectError: false,
		},
		{
			name: "valid_full",
			config: ExecutionConfig{
				ExecutablePath:   "/opt/portal/waitress_server.py",
				Args:             []string{"--port", "8080"},
				Environment:      []string{"PORT=8080", "SECRET_KEY=dev"},
				WorkingDirectory: "/opt/portal",
			},
			expectError: false,
		},
		{
			name:        "empty_executable",
			config:      ExecutionConfig{},
			expectError: true,
		},
		{
			name: "whitespace_executable",
			config: ExecutionConfig{
				ExecutablePath: "   ",
			},
			expectError: true,
		},
		{
			name: "malformed_environment",
			config: ExecutionConfig{
				ExecutablePath: "/usr/bin/python3",
				Environment:    []string{"PORT"},
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateExecutionConfig(tt.config)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
