package models

import "time"

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// TelegramMessage holds the data for a run notification.
type TelegramMessage struct {
	Operation string // "backup" or "restore"
	Success   bool
	Host      string
	StartTime time.Time
	Duration  time.Duration

	// Backup details (if successful).
	Directory  string
	Databases  int
	TotalBytes int64
	SnapshotID string

	// Restore details.
	RestoreFile string

	// Error info (if failed).
	ErrorMessage string
	FailedStep   string
}

// TelegramResult holds the result of a Telegram notification.
type TelegramResult struct {
	MessageSent bool
	Error       error
}
