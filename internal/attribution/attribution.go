// Package attribution decides whether a process tree is using a device.
package attribution

import (
	"go.uber.org/zap"

	"github.com/worldland/gpustats/internal/domain"
	"github.com/worldland/gpustats/internal/proctree"
)

// Intersects reports whether any pid in compute or graphics belongs to set
func Intersects(set proctree.Set, compute, graphics []uint32) bool {
	if len(set) == 0 {
		return false
	}
	for _, pid := range compute {
		if set.Contains(pid) {
			return true
		}
	}
	for _, pid := range graphics {
		if set.Contains(pid) {
			return true
		}
	}
	return false
}

// Engine attributes devices to a resolved process set. A device that cannot
// report its process lists is treated as running nothing.
type Engine struct {
	logger *zap.Logger
}

func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// Attributed reports whether set is using device
func (e *Engine) Attributed(device domain.Device, set proctree.Set) bool {
	compute, err := device.ComputeProcesses()
	if err != nil {
		e.logger.Debug("compute process list unavailable", zap.Error(err))
		compute = nil
	}
	graphics, err := device.GraphicsProcesses()
	if err != nil {
		e.logger.Debug("graphics process list unavailable", zap.Error(err))
		graphics = nil
	}
	return Intersects(set, compute, graphics)
}
