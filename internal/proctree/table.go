package proctree

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/worldland/gpustats/internal/domain"
)

// TableLister reads the whole process table through gopsutil and answers
// children queries from a ppid index. Resolver takes one snapshot per call.
type TableLister struct {
	list func(ctx context.Context) ([]*process.Process, error)
}

func NewTableLister() *TableLister {
	return &TableLister{list: process.ProcessesWithContext}
}

// Snapshot indexes the current process table by parent pid
func (l *TableLister) Snapshot(ctx context.Context) (domain.ChildLister, error) {
	procs, err := l.list(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	entries := make([]tableEntry, 0, len(procs))
	for _, p := range procs {
		ppid, err := p.PpidWithContext(ctx)
		if err != nil {
			// Process exited between listing and inspection
			continue
		}
		entries = append(entries, tableEntry{pid: uint32(p.Pid), ppid: uint32(ppid)})
	}
	return buildTable(entries), nil
}

// Children takes a fresh snapshot and returns the direct children of pid
func (l *TableLister) Children(ctx context.Context, pid uint32) ([]uint32, error) {
	snap, err := l.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Children(ctx, pid)
}

type tableEntry struct {
	pid  uint32
	ppid uint32
}

// childTable maps a parent pid to its direct children
type childTable map[uint32][]uint32

func buildTable(entries []tableEntry) childTable {
	table := make(childTable)
	for _, e := range entries {
		if e.pid == e.ppid {
			continue
		}
		table[e.ppid] = append(table[e.ppid], e.pid)
	}
	return table
}

func (t childTable) Children(_ context.Context, pid uint32) ([]uint32, error) {
	return t[pid], nil
}

var (
	_ domain.ChildLister = (*TableLister)(nil)
	_ Snapshotter        = (*TableLister)(nil)
)
