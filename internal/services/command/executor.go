// Package command runs external programs and reports their outcome.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/user"
	"strings"
	"time"

	"github.com/fgeck/clc-backup/internal/models"
	"github.com/kballard/go-shellquote"
)

// DefaultPrivilegeProgram is used when no privilege switch is configured.
const DefaultPrivilegeProgram = "sudo"

// cancelGrace bounds how long Run waits for output pipes after cancellation.
const cancelGrace = 5 * time.Second

// Command describes one invocation as a program plus discrete arguments.
type Command struct {
	Name string
	Args []string
	Env  []string // appended to the current environment
	User string   // run as this account through the privilege switch; empty runs as the caller

	// Stdout receives the program's standard output when set; otherwise it is
	// captured into the result.
	Stdout io.Writer
}

// Executor allows mocking exec.Command in tests.
type Executor interface {
	Run(ctx context.Context, cmd Command) (*models.CommandResult, error)
}

// ExitError reports a program that ran but did not succeed.
type ExitError struct {
	Result *models.CommandResult
	Err    error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Result.Command[0], e.Result.ExitCode)
	if stderr := strings.TrimSpace(e.Result.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct {
	privilege   string
	currentUser string
}

// NewExecutor creates an executor that switches accounts with the given program.
func NewExecutor(privilege string) *DefaultExecutor {
	if privilege == "" {
		privilege = DefaultPrivilegeProgram
	}
	current := ""
	if u, err := user.Current(); err == nil {
		current = u.Username
	}
	return &DefaultExecutor{
		privilege:   privilege,
		currentUser: current,
	}
}

// Argv returns the full argument vector for cmd, including the privilege switch.
func (e *DefaultExecutor) Argv(cmd Command) []string {
	if cmd.User == "" || cmd.User == e.currentUser {
		return append([]string{cmd.Name}, cmd.Args...)
	}
	argv := []string{e.privilege, "-n", "-u", cmd.User, "--", cmd.Name}
	return append(argv, cmd.Args...)
}

// Run executes cmd, waits for it to finish and returns its result.
// A non-zero exit status is returned as an *ExitError alongside the result.
// When ctx ends first the process group is terminated and the context
// error is returned.
func (e *DefaultExecutor) Run(ctx context.Context, cmd Command) (*models.CommandResult, error) {
	argv := e.Argv(cmd)
	c := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec // argv is built from configuration, never a shell string
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	setCancel(c)
	c.WaitDelay = cancelGrace

	var stdout, stderr bytes.Buffer
	if cmd.Stdout != nil {
		c.Stdout = cmd.Stdout
	} else {
		c.Stdout = &stdout
	}
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()

	result := &models.CommandResult{
		Command:  argv,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if c.ProcessState != nil {
		result.ExitCode = c.ProcessState.ExitCode()
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, fmt.Errorf("%s interrupted: %w", argv[0], ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return result, &ExitError{Result: result, Err: err}
		}
		result.ExitCode = -1
		return result, fmt.Errorf("failed to run %s: %w", argv[0], err)
	}

	return result, nil
}

// String renders cmd for log output. The rendering is for humans only;
// commands are never executed through a shell.
func String(cmd Command) string {
	s := shellquote.Join(append([]string{cmd.Name}, cmd.Args...)...)
	if cmd.User != "" {
		s += " (as " + cmd.User + ")"
	}
	return s
}
