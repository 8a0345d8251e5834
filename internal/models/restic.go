package models

import "time"

// ResticConfig holds the optional off-host restic repository configuration.
type ResticConfig struct {
	Repository   string
	Password     string
	RestUser     string // optional, for REST server auth
	RestPassword string // optional, for REST server auth
	Host         string
	Tags         []string
	Retention    RetentionPolicy
}

// RetentionPolicy defines how many snapshots to keep.
type RetentionPolicy struct {
	KeepDaily   int
	KeepWeekly  int
	KeepMonthly int
}

// BackupResult holds the result of a restic backup of one backup directory.
type BackupResult struct {
	SnapshotID          string
	FilesNew            int
	FilesChanged        int
	DataAdded           int64
	TotalFilesProcessed int
	TotalBytesProcessed int64
	Duration            time.Duration
	Error               error
}

// ForgetResult holds the result of a forget operation.
type ForgetResult struct {
	SnapshotsRemoved int
	SnapshotsKept    int
	Duration         time.Duration
	Error            error
}
