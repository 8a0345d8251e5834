package models

import "time"

// KeyArchiveResult holds the result of archiving the key directory.
type KeyArchiveResult struct {
	OutputPath string
	Files      int
	SizeBytes  int64
	Encrypted  bool
	Duration   time.Duration
}
