package proctree

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exitStatus mimics *exec.ExitError
type exitStatus int

func (e exitStatus) Error() string { return "exit status" }
func (e exitStatus) ExitCode() int { return int(e) }

func TestPgrepLister_ParsesOutput(t *testing.T) {
	var gotName string
	var gotArgs []string
	l := NewPgrepListerWithRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		gotName = name
		gotArgs = args
		return []byte("101\n102\n\n"), nil
	})

	pids, err := l.Children(context.Background(), 100)

	require.NoError(t, err)
	assert.Equal(t, []uint32{101, 102}, pids)
	assert.Equal(t, "pgrep", gotName)
	assert.Equal(t, []string{"-P", "100"}, gotArgs)
}

func TestPgrepLister_ExitStatusOneMeansNoChildren(t *testing.T) {
	l := NewPgrepListerWithRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, exitStatus(1)
	})

	pids, err := l.Children(context.Background(), 100)

	require.NoError(t, err)
	assert.Empty(t, pids)
}

func TestPgrepLister_OtherExitStatusIsNotRetried(t *testing.T) {
	calls := 0
	l := NewPgrepListerWithRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		calls++
		return nil, exitStatus(2)
	})

	_, err := l.Children(context.Background(), 100)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestPgrepLister_MissingBinaryIsNotRetried(t *testing.T) {
	calls := 0
	l := NewPgrepListerWithRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		calls++
		return nil, &exec.Error{Name: name, Err: exec.ErrNotFound}
	})

	_, err := l.Children(context.Background(), 100)

	assert.ErrorIs(t, err, exec.ErrNotFound)
	assert.Equal(t, 1, calls)
}

func TestPgrepLister_RetriesStartFailure(t *testing.T) {
	calls := 0
	l := NewPgrepListerWithRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		calls++
		if calls < 3 {
			return nil, syscall.EAGAIN
		}
		return []byte("7\n"), nil
	})

	pids, err := l.Children(context.Background(), 1)

	require.NoError(t, err)
	assert.Equal(t, []uint32{7}, pids)
	assert.Equal(t, 3, calls)
}

func TestPgrepLister_GivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	l := NewPgrepListerWithRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		calls++
		return nil, syscall.EAGAIN
	})

	_, err := l.Children(context.Background(), 1)

	assert.True(t, errors.Is(err, syscall.EAGAIN))
	assert.Equal(t, 3, calls)
}

func TestParsePIDs_SkipsGarbage(t *testing.T) {
	assert.Equal(t, []uint32{1, 3}, parsePIDs("1\nabc\n3\n-4\n"))
	assert.Empty(t, parsePIDs(""))
}

func TestBuildTable_IndexesByParent(t *testing.T) {
	table := buildTable([]tableEntry{
		{pid: 1, ppid: 0},
		{pid: 2, ppid: 0},
		{pid: 10, ppid: 1},
		{pid: 11, ppid: 1},
		{pid: 20, ppid: 10},
	})

	children, err := table.Children(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []uint32{10, 11}, children)

	children, _ = table.Children(context.Background(), 0)
	assert.Equal(t, []uint32{1, 2}, children)

	children, _ = table.Children(context.Background(), 20)
	assert.Empty(t, children)
}

// startChild spawns a sleeping child of the test process
func startChild(t *testing.T) uint32 {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process tree tests need a POSIX system")
	}
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot spawn child: %v", err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})
	return uint32(cmd.Process.Pid)
}

func TestPgrepLister_RealProcessTree(t *testing.T) {
	if _, err := exec.LookPath("pgrep"); err != nil {
		t.Skip("pgrep not installed")
	}
	child := startChild(t)

	set := NewResolver(NewPgrepLister(), nil).Resolve(context.Background(), uint32(os.Getpid()))

	assert.True(t, set.Contains(uint32(os.Getpid())))
	assert.True(t, set.Contains(child))
}

func TestTableLister_RealProcessTree(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("process table test runs on linux")
	}
	child := startChild(t)

	set := NewResolver(NewTableLister(), nil).Resolve(context.Background(), uint32(os.Getpid()))

	assert.True(t, set.Contains(child))
}

func TestNewLister_Sources(t *testing.T) {
	lister, err := NewLister(SourcePgrep)
	require.NoError(t, err)
	assert.IsType(t, &PgrepLister{}, lister)

	lister, err = NewLister("")
	require.NoError(t, err)
	assert.IsType(t, &PgrepLister{}, lister)

	lister, err = NewLister(SourceTable)
	require.NoError(t, err)
	assert.IsType(t, &TableLister{}, lister)

	_, err = NewLister("ps")
	assert.Error(t, err)
}
