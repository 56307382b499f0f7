package supervisor

import (
	"time"
)

// ProcessStatus represents the lifecycle state of the supervised
// application instance.
type ProcessStatus string

const (
	ProcessStatusStarting     ProcessStatus = "starting"     // Launched, no healthy poll seen yet
	ProcessStatusHealthy      ProcessStatus = "healthy"      // Last poll reported healthy
	ProcessStatusUnresponsive ProcessStatus = "unresponsive" // Probe failed or timed out
	ProcessStatusCrashed      ProcessStatus = "crashed"      // Process exited on its own
	ProcessStatusRestarting   ProcessStatus = "restarting"   // Backoff wait and relaunch in progress
	ProcessStatusFailed       ProcessStatus = "failed"       // Gave up after too many consecutive failures
	ProcessStatusStopped      ProcessStatus = "stopped"      // Shut down on request
)

// Terminal reports whether no further automatic transition occurs from
// this status without external intervention.
func (s ProcessStatus) Terminal() bool {
	return s == ProcessStatusFailed || s == ProcessStatusStopped
}

var allowedTransitions = map[ProcessStatus][]ProcessStatus{
	ProcessStatusStarting:     {ProcessStatusHealthy, ProcessStatusUnresponsive, ProcessStatusCrashed, ProcessStatusStopped},
	ProcessStatusHealthy:      {ProcessStatusUnresponsive, ProcessStatusCrashed, ProcessStatusStopped},
	ProcessStatusUnresponsive: {ProcessStatusHealthy, ProcessStatusRestarting, ProcessStatusFailed, ProcessStatusStopped},
	ProcessStatusCrashed:      {ProcessStatusRestarting, ProcessStatusFailed, ProcessStatusStopped},
	ProcessStatusRestarting:   {ProcessStatusStarting, ProcessStatusFailed, ProcessStatusStopped},
	ProcessStatusFailed:       {},
	ProcessStatusStopped:      {},
}

// CanTransition reports whether the state machine permits moving from
// one status to another.
func CanTransition(from, to ProcessStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// SupervisedProcess is the record of the currently owned application
// instance. Exactly one record is active at a time; a restart retires
// the record and creates a new one with a fresh PID and start time.
type SupervisedProcess struct {
	PID          int           `json:"pid"`
	StartedAt    time.Time     `json:"started_at"`
	RestartCount int           `json:"restart_count"`
	Status       ProcessStatus `json:"status"`
}

// Snapshot is a point-in-time copy of the supervisor state for the
// status endpoint and for tests.
type Snapshot struct {
	ID                  string            `json:"id"`
	Process             SupervisedProcess `json:"process"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	LastHealthMessage   string            `json:"last_health_message,omitempty"`
	LastHealthAt        time.Time         `json:"last_health_at,omitempty"`
}
