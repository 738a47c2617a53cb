package models

import (
	"fmt"
	"time"
)

// RunTimestampLayout is the layout of the timestamp embedded in artifact names.
const RunTimestampLayout = "2006-01-02_15-04-05"

// FormatRunTimestamp formats the single timestamp shared by every artifact of a run.
func FormatRunTimestamp(t time.Time) string {
	return t.UTC().Format(RunTimestampLayout)
}

// ArtifactFilename returns "{name}_{ts}.tar.gz".
func ArtifactFilename(name, ts string) string {
	return fmt.Sprintf("%s_%s.tar.gz", name, ts)
}

// DumpEntryName returns "{name}_{ts}.sql", the single entry of a database archive.
func DumpEntryName(name, ts string) string {
	return fmt.Sprintf("%s_%s.sql", name, ts)
}

// Artifact is a finished, compressed archive waiting in the staging root.
type Artifact struct {
	Name      string
	LocalPath string
	SizeBytes int64
}

// RemoteObject is what the object store reports about a stored archive.
type RemoteObject struct {
	Key          string
	Location     string
	LastModified time.Time
	SizeBytes    int64
}

// PruneResult holds the outcome of a retention pass.
type PruneResult struct {
	Scanned  int
	Deleted  int
	Kept     int
	Duration time.Duration
}
