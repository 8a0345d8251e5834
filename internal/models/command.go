package models

import "time"

// CommandResult holds the outcome of one external program invocation.
type CommandResult struct {
	Command  []string // argv as executed, including any privilege switch
	ExitCode int
	Stdout   string // empty when stdout was redirected
	Stderr   string
	Duration time.Duration
}
