package models

import "fmt"

// ValidationError reports a target or configuration value that cannot be used.
type ValidationError struct {
	Target string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("target %q: invalid %s: %s", e.Target, e.Field, e.Reason)
}

// NotFoundError reports a missing directory source.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("source path %s does not exist", e.Path)
}

// NotADirectoryError reports a directory source that is not a directory.
type NotADirectoryError struct {
	Path string
}

func (e *NotADirectoryError) Error() string {
	return fmt.Sprintf("source path %s is not a directory", e.Path)
}

// UnsupportedEngineError is returned for database engines other than mysql and mariadb.
type UnsupportedEngineError struct {
	Engine Engine
}

func (e *UnsupportedEngineError) Error() string {
	return fmt.Sprintf("unsupported database engine %q", string(e.Engine))
}

// DumpCommandError reports a dump tool that could not be run or exited non-zero.
// Stderr is kept for diagnostics but never part of the error text.
type DumpCommandError struct {
	Engine   Engine
	ExitCode int
	Stderr   []byte
}

func (e *DumpCommandError) Error() string {
	return fmt.Sprintf("%s dump: command execution failed (exit code %d)", e.Engine, e.ExitCode)
}

// UploadError reports a failed artifact upload.
type UploadError struct {
	ArtifactName string
	Err          error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload of %q failed: %v", e.ArtifactName, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// PruneError reports a failed retention pass. Deleted is how many objects
// were removed before the failure.
type PruneError struct {
	Key     string
	Deleted int
	Err     error
}

func (e *PruneError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("prune failed: %v", e.Err)
	}
	return fmt.Sprintf("prune failed deleting %s: %v", e.Key, e.Err)
}

func (e *PruneError) Unwrap() error { return e.Err }

// TargetError wraps a component failure with the target it belongs to.
type TargetError struct {
	Name string
	Kind TargetKind
	Err  error
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("%s target %q: %v", e.Kind, e.Name, e.Err)
}

func (e *TargetError) Unwrap() error { return e.Err }
