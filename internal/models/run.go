package models

import "time"

// RunState is a state of the backup pipeline.
type RunState string

// Pipeline states, in order.
const (
	StateIdle      RunState = "idle"
	StateStaging   RunState = "staging"
	StateCapturing RunState = "capturing_targets"
	StateUploading RunState = "uploading"
	StatePruning   RunState = "pruning"
	StateCleanup   RunState = "cleanup"
	StateDone      RunState = "done"
	StateFailed    RunState = "failed"
)

// RunResult is the outcome of one pipeline execution. The run's own success
// is decided by capture and upload; pruning only affects Maintenance.
type RunResult struct {
	RunID           string
	Timestamp       string
	StartTime       time.Time
	Duration        time.Duration
	State           RunState // StateDone or StateFailed once Run returns
	FailedState     RunState // state the run was in when it failed
	NothingToBackUp bool
	Artifacts       []Artifact
	Uploaded        []RemoteObject
	Maintenance     MaintenanceResult
	Err             error
}

// Succeeded reports whether the run itself succeeded, ignoring maintenance.
func (r *RunResult) Succeeded() bool {
	return r.State == StateDone
}

// MaintenanceResult is the outcome of retention pruning after an upload.
type MaintenanceResult struct {
	Attempted bool
	Deleted   int
	Kept      int
	Err       error // non-nil is reported as a warning, never as the run's error
}
