package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainError_Creation(t *testing.T) {
	cause := errors.New("underlying error")

	err := NewValidationError("test validation error", cause)

	assert.Equal(t, ErrorTypeValidation, err.Type)
	assert.Equal(t, "test validation error", err.Message)
	assert.Equal(t, cause, err.Cause)
	assert.NotNil(t, err.Context)
}

func TestDomainError_WithContext(t *testing.T) {
	err := NewProcessError("test error", nil)

	err = err.WithContext("app_id", "portal")
	err = err.WithContext("pid", 12345)

	assert.Equal(t, "portal", err.Context["app_id"])
	assert.Equal(t, 12345, err.Context["pid"])
}

func TestDomainError_ErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		error    *DomainError
		expected string
	}{
		{
			name:     "error without cause",
			error:    NewValidationError("test message", nil),
			expected: "validation: test message",
		},
		{
			name:     "error with cause",
			error:    NewProcessError("test message", errors.New("cause")),
			expected: "process: test message: cause",
		},
		{
			name:     "health check error with cause",
			error:    NewHealthCheckError("probe failed", errors.New("connection refused")),
			expected: "health_check: probe failed: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.error.Error())
		})
	}
}

func TestDomainError_TypeChecking(t *testing.T) {
	validationErr := NewValidationError("validation error", nil)
	processErr := NewProcessError("process error", nil)
	healthErr := NewHealthCheckError("health error", nil)
	timeoutErr := NewTimeoutError("timeout error", nil)

	assert.True(t, IsValidationError(validationErr))
	assert.False(t, IsValidationError(processErr))

	assert.True(t, IsProcessError(processErr))
	assert.False(t, IsProcessError(validationErr))

	assert.True(t, IsHealthCheckError(healthErr))
	assert.True(t, IsTimeoutError(timeoutErr))
	assert.False(t, IsTimeoutError(healthErr))
}

func TestDomainError_TypeChecking_Wrapped(t *testing.T) {
	inner := NewTimeoutError("probe timed out", nil)
	wrapped := fmt.Errorf("poll failed: %w", inner)

	assert.True(t, IsTimeoutError(wrapped))
	assert.False(t, IsProcessError(wrapped))
}

func TestDomainError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewIOError("io failure", cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestErrorCollection(t *testing.T) {
	collection := NewErrorCollection()

	assert.False(t, collection.HasErrors())
	assert.Nil(t, collection.ToError())

	collection.Add(nil) // nil errors are ignored
	assert.False(t, collection.HasErrors())

	first := NewProcessError("terminate failed", nil)
	collection.Add(first)
	assert.True(t, collection.HasErrors())
	assert.Equal(t, first.Error(), collection.Error())

	collection.Add(NewIOError("pid file removal failed", nil))
	assert.Len(t, collection.Errors, 2)
	assert.Contains(t, collection.Error(), "2 errors occurred")
	require.Error(t, collection.ToError())
}
