// Package process inspects the process table.
package process

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"
)

// Info describes one entry of the process table.
type Info struct {
	PID     int32
	Name    string
	Cmdline string
}

// Service defines the interface for process lookups.
type Service interface {
	// Find returns the PIDs of processes whose name or command line contains pattern.
	Find(ctx context.Context, pattern string) ([]int32, error)
}

// Lister allows mocking the process table in tests.
type Lister interface {
	List(ctx context.Context) ([]Info, error)
}

// DefaultLister reads the process table using gopsutil.
type DefaultLister struct{}

// List returns every process visible to the caller.
func (l *DefaultLister) List(ctx context.Context) ([]Info, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read process table: %w", err)
	}

	infos := make([]Info, 0, len(procs))
	for _, p := range procs {
		// Processes may exit while we walk the table.
		name, _ := p.NameWithContext(ctx)
		cmdline, _ := p.CmdlineWithContext(ctx)
		infos = append(infos, Info{PID: p.Pid, Name: name, Cmdline: cmdline})
	}
	return infos, nil
}

// Impl implements the process Service interface.
type Impl struct {
	lister Lister
	self   int32
	logger zerolog.Logger
}

// New creates a new process service.
func New(logger zerolog.Logger) *Impl {
	return NewWithLister(logger, &DefaultLister{})
}

// NewWithLister creates a new process service with a custom lister (for testing).
func NewWithLister(logger zerolog.Logger, lister Lister) *Impl {
	return &Impl{
		lister: lister,
		self:   int32(os.Getpid()), //nolint:gosec // pids fit in int32
		logger: logger,
	}
}

// Find returns the PIDs of matching processes, excluding the current one.
func (s *Impl) Find(ctx context.Context, pattern string) ([]int32, error) {
	infos, err := s.lister.List(ctx)
	if err != nil {
		return nil, err
	}

	var pids []int32
	for _, info := range infos {
		if info.PID == s.self {
			continue
		}
		if strings.Contains(info.Name, pattern) || strings.Contains(info.Cmdline, pattern) {
			pids = append(pids, info.PID)
		}
	}

	s.logger.Debug().
		Str("pattern", pattern).
		Int("scanned", len(infos)).
		Ints32("matches", pids).
		Msg("process table scanned")

	return pids, nil
}
