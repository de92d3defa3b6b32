// Package proctree resolves a process and all of its descendants from the
// OS process table.
package proctree

import (
	"context"

	"go.uber.org/zap"

	"github.com/worldland/gpustats/internal/domain"
)

// Snapshotter is implemented by sources that can freeze the whole process
// table once and answer every Children query from that view.
type Snapshotter interface {
	Snapshot(ctx context.Context) (domain.ChildLister, error)
}

// Resolver expands a root pid into its process tree
type Resolver struct {
	lister domain.ChildLister
	logger *zap.Logger
}

func NewResolver(lister domain.ChildLister, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{lister: lister, logger: logger}
}

// Resolve returns root plus every transitive child, breadth first. A failed
// children query counts as no children; the root is always a member.
func (r *Resolver) Resolve(ctx context.Context, root uint32) Set {
	set := NewSet(root)

	lister := r.lister
	if s, ok := lister.(Snapshotter); ok {
		snap, err := s.Snapshot(ctx)
		if err != nil {
			r.logger.Debug("process table snapshot failed", zap.Error(err))
			return set
		}
		lister = snap
	}

	queue := []uint32{root}
	for len(queue) > 0 {
		if ctx.Err() != nil {
			break
		}
		pid := queue[0]
		queue = queue[1:]

		children, err := lister.Children(ctx, pid)
		if err != nil {
			r.logger.Debug("listing child processes failed", zap.Uint32("pid", pid), zap.Error(err))
			continue
		}
		for _, child := range children {
			if set.Contains(child) {
				continue
			}
			set.Add(child)
			queue = append(queue, child)
		}
	}
	return set
}
