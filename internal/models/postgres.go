package models

import "time"

// DumpResult holds the result of a single dump invocation.
type DumpResult struct {
	Database   string // empty for cluster-wide dumps
	OutputPath string
	SizeBytes  int64
	Duration   time.Duration
	Error      error
}

// BackupReport summarizes a backup run.
type BackupReport struct {
	RunID       string
	Directory   string
	FullDump    *DumpResult
	GlobalsDump *DumpResult
	Databases   []DumpResult
	KeyArchive  *KeyArchiveResult
	Offsite     *BackupResult
	StartTime   time.Time
	Duration    time.Duration
}

// FailedDatabases returns the names of databases whose dump failed.
func (r *BackupReport) FailedDatabases() []string {
	var failed []string
	for _, d := range r.Databases {
		if d.Error != nil {
			failed = append(failed, d.Database)
		}
	}
	return failed
}

// RestoreOptions selects what a restore run does.
type RestoreOptions struct {
	File   string
	Commit bool
}

// RestoreReport summarizes a restore run.
type RestoreReport struct {
	File      string
	Committed bool
	Steps     []string // steps actually executed, in order
	Duration  time.Duration
}
