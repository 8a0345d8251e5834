// Package models contains the data structures used throughout clc-backup.
package models

// Config holds the complete, resolved configuration for a single run.
// All paths are absolute once the config parser has applied the installation root.
type Config struct {
	EucaHome string
	Database DatabaseConfig
	Tools    ToolPaths
	Accounts Accounts
	Backup   BackupSettings
	Service  ServiceSettings
	Keys     KeyArchiveConfig
	Restic   *ResticConfig   // nil if not configured
	Telegram *TelegramConfig // nil if not configured
}

// DatabaseConfig describes the controller's PostgreSQL cluster.
type DatabaseConfig struct {
	Port          int
	User          string
	DataDir       string
	RootDir       string
	SocketFile    string
	ListenAddress string
	Catalog       string // "psql" (default) or "driver"
}

// ToolPaths locates the external programs the orchestrator drives.
type ToolPaths struct {
	PgDumpAll string
	PgDump    string
	Psql      string
	PgCtl     string
	EucaConf  string
	Privilege string // privilege switch program, e.g. sudo
}

// Accounts names the operating-system accounts commands run under.
type Accounts struct {
	Privileged string // account for dumps and setup, usually root
	Service    string // account owning the database engine
}

// BackupSettings holds backup destination settings.
type BackupSettings struct {
	Directory string
}

// ServiceSettings identifies the higher-level cloud service.
type ServiceSettings struct {
	ProcessName string
}

// KeyArchiveConfig controls archiving of the key directory.
type KeyArchiveConfig struct {
	Enabled       bool
	Directory     string
	AgeRecipients []string // optional; archive is age-encrypted when set
}
