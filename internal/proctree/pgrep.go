package proctree

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/worldland/gpustats/internal/domain"
)

// CommandRunner runs a helper binary and returns its stdout
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// PgrepLister lists children with `pgrep -P <pid>`, one short-lived helper
// process per query.
type PgrepLister struct {
	binary     string
	run        CommandRunner
	retryDelay time.Duration
	maxRetries uint64
}

func NewPgrepLister() *PgrepLister {
	return &PgrepLister{
		binary:     "pgrep",
		run:        execRunner,
		retryDelay: 10 * time.Millisecond,
		maxRetries: 2,
	}
}

// NewPgrepListerWithRunner creates a PgrepLister with a provided runner (for testing)
func NewPgrepListerWithRunner(run CommandRunner) *PgrepLister {
	l := NewPgrepLister()
	l.run = run
	l.retryDelay = time.Millisecond
	return l
}

// Children returns the direct children of pid. pgrep exits with status 1
// when nothing matched, which is an empty result rather than a failure.
// Only failures to start the helper are retried.
func (l *PgrepLister) Children(ctx context.Context, pid uint32) ([]uint32, error) {
	var out []byte
	operation := func() error {
		var err error
		out, err = l.run(ctx, l.binary, "-P", strconv.FormatUint(uint64(pid), 10))
		if err == nil {
			return nil
		}
		var exit interface{ ExitCode() int }
		if errors.As(err, &exit) {
			if exit.ExitCode() == 1 {
				out = nil
				return nil
			}
			return backoff.Permanent(err)
		}
		if errors.Is(err, exec.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(l.retryDelay), l.maxRetries), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		return nil, fmt.Errorf("pgrep -P %d: %w", pid, err)
	}
	return parsePIDs(string(out)), nil
}

// parsePIDs reads one pid per line; malformed lines are skipped
func parsePIDs(out string) []uint32 {
	var pids []uint32
	for _, field := range strings.Fields(out) {
		pid, err := strconv.ParseUint(field, 10, 32)
		if err != nil {
			continue
		}
		pids = append(pids, uint32(pid))
	}
	return pids
}

var _ domain.ChildLister = (*PgrepLister)(nil)
