package supervisor

import (
	"time"

	"github.com/dapi-tools/portal-supervisor/pkg/errors"
)

// RestartPolicy is the immutable retry configuration read by the
// supervisor loop.
type RestartPolicy struct {
	// BaseDelay is the wait before the first restart.
	BaseDelay time.Duration `yaml:"base_delay"`

	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration `yaml:"max_delay"`

	// MaxFailures is the number of consecutive failures tolerated before
	// the supervisor gives up. 0 means retry forever.
	MaxFailures int `yaml:"max_failures"`

	// HealthyThreshold is the number of consecutive healthy polls that
	// reset the failure counter. A single healthy blip between failures
	// does not reset backoff unless the threshold is 1.
	HealthyThreshold int `yaml:"healthy_threshold"`
}

// Delay returns the backoff wait before the next restart, given the
// number of consecutive failures recorded before the current one:
// min(base * 2^failures, max). Pure so it can be tested independently
// of any sleep mechanism.
func (p RestartPolicy) Delay(failures int) time.Duration {
	if failures < 0 {
		failures = 0
	}

	delay := p.BaseDelay
	for i := 0; i < failures; i++ {
		delay *= 2
		// Doubling past the cap (or overflowing) pins the delay at max
		if delay <= 0 || delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Exhausted reports whether the consecutive failure count has crossed
// the configured maximum.
func (p RestartPolicy) Exhausted(failures int) bool {
	return p.MaxFailures > 0 && failures > p.MaxFailures
}

// ValidateRestartPolicy validates restart policy values
func ValidateRestartPolicy(p RestartPolicy) error {
	if p.BaseDelay <= 0 {
		return errors.NewValidationError("base delay must be positive", nil).
			WithContext("base_delay", p.BaseDelay)
	}
	if p.MaxDelay < p.BaseDelay {
		return errors.NewValidationError("max delay cannot be smaller than base delay", nil).
			WithContext("base_delay", p.BaseDelay).WithContext("max_delay", p.MaxDelay)
	}
	if p.MaxFailures < 0 {
		return errors.NewValidationError("max failures cannot be negative", nil).
			WithContext("max_failures", p.MaxFailures)
	}
	if p.HealthyThreshold < 1 {
		return errors.NewValidationError("healthy threshold must be at least 1", nil).
			WithContext("healthy_threshold", p.HealthyThreshold)
	}
	return nil
}
