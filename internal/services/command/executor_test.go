package command

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgv_NoUser(t *testing.T) {
	e := &DefaultExecutor{privilege: "sudo", currentUser: "operator"}

	argv := e.Argv(Command{Name: "pg_dump", Args: []string{"-C", "my db"}})

	assert.Equal(t, []string{"pg_dump", "-C", "my db"}, argv)
}

func TestArgv_SwitchesUser(t *testing.T) {
	e := &DefaultExecutor{privilege: "sudo", currentUser: "operator"}

	argv := e.Argv(Command{Name: "/usr/pgsql-9.1/bin/pg_ctl", Args: []string{"stop", "-D", "/data"}, User: "eucalyptus"})

	assert.Equal(t, []string{
		"sudo", "-n", "-u", "eucalyptus", "--",
		"/usr/pgsql-9.1/bin/pg_ctl", "stop", "-D", "/data",
	}, argv)
}

func TestArgv_SameUserSkipsSwitch(t *testing.T) {
	e := &DefaultExecutor{privilege: "sudo", currentUser: "root"}

	argv := e.Argv(Command{Name: "pg_dumpall", Args: []string{"-g"}, User: "root"})

	assert.Equal(t, []string{"pg_dumpall", "-g"}, argv)
}

func TestNewExecutor_DefaultPrivilege(t *testing.T) {
	e := NewExecutor("")
	assert.Equal(t, DefaultPrivilegeProgram, e.privilege)
}

func TestRun_CapturesStdout(t *testing.T) {
	e := NewExecutor("")

	result, err := e.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo hello"}})

	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "hello\n", result.Stdout)
	assert.Equal(t, []string{"sh", "-c", "echo hello"}, result.Command)
}

func TestRun_StreamsStdout(t *testing.T) {
	e := NewExecutor("")
	var buf bytes.Buffer

	result, err := e.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo streamed"}, Stdout: &buf})

	require.NoError(t, err)
	assert.Empty(t, result.Stdout)
	assert.Equal(t, "streamed\n", buf.String())
}

func TestRun_NonZeroExit(t *testing.T) {
	e := NewExecutor("")

	result, err := e.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo 'error message' >&2; exit 3"}})

	require.Error(t, err)
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, result.ExitCode)
	assert.Contains(t, err.Error(), "exited with status 3")
	assert.Contains(t, err.Error(), "error message")
}

func TestRun_ArgumentsAreNotShellExpanded(t *testing.T) {
	e := NewExecutor("")

	result, err := e.Run(context.Background(), Command{Name: "echo", Args: []string{"$(id)", "a;b"}})

	require.NoError(t, err)
	assert.Equal(t, "$(id) a;b\n", result.Stdout)
}

func TestRun_MissingProgram(t *testing.T) {
	e := NewExecutor("")

	result, err := e.Run(context.Background(), Command{Name: "/nonexistent/clc-backup-tool"})

	require.Error(t, err)
	assert.Equal(t, -1, result.ExitCode)
	assert.Contains(t, err.Error(), "failed to run")
}

func TestRun_Env(t *testing.T) {
	e := NewExecutor("")

	result, err := e.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo $CLC_TEST_VALUE"},
		Env:  []string{"CLC_TEST_VALUE=42"},
	})

	require.NoError(t, err)
	assert.Equal(t, "42\n", result.Stdout)
}

// fakeSwitch writes a privilege switch that drops its own flags and runs the
// target as a child process, the way sudo does.
func fakeSwitch(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fakesudo")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nshift 4\n\"$@\"\n"), 0o700)) //nolint:gosec // test script must be executable
	return path
}

func TestRun_SwitchedUser(t *testing.T) {
	e := &DefaultExecutor{privilege: fakeSwitch(t), currentUser: "operator"}

	result, err := e.Run(context.Background(), Command{Name: "echo", Args: []string{"as eucalyptus"}, User: "eucalyptus"})

	require.NoError(t, err)
	assert.Equal(t, "as eucalyptus\n", result.Stdout)
}

func TestRun_CancelStopsSwitchedTarget(t *testing.T) {
	e := &DefaultExecutor{privilege: fakeSwitch(t), currentUser: "operator"}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := e.Run(ctx, Command{Name: "sleep", Args: []string{"10"}, User: "eucalyptus"})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	var exitErr *ExitError
	assert.False(t, errors.As(err, &exitErr))
	assert.Less(t, elapsed, 3*time.Second)
}

func TestRun_CancelStopsStreamingTarget(t *testing.T) {
	e := NewExecutor("")
	ctx, cancel := context.WithCancel(context.Background())
	var buf bytes.Buffer

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := e.Run(ctx, Command{Name: "sh", Args: []string{"-c", "sleep 10; echo late"}, Stdout: &buf})

	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Empty(t, buf.String())
}

func TestString(t *testing.T) {
	s := String(Command{Name: "psql", Args: []string{"-c", "select datname from pg_database"}, User: "root"})

	assert.Equal(t, "psql -c 'select datname from pg_database' (as root)", s)
}
