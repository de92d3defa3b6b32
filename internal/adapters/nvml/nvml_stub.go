//go:build nonvml
// +build nonvml

package nvml

import (
	"fmt"

	"github.com/worldland/gpustats/internal/domain"
)

// NVMLLibrary stub - used when building without NVIDIA libraries
type NVMLLibrary struct{}

func NewNVMLLibrary() *NVMLLibrary {
	return &NVMLLibrary{}
}

func (l *NVMLLibrary) Init() error {
	return fmt.Errorf("%w: built with nonvml tag", domain.ErrLibraryUnavailable)
}

func (l *NVMLLibrary) Shutdown() error {
	return nil
}

func (l *NVMLLibrary) CudaDriverVersion() (int, error) {
	return 0, domain.ErrLibraryUnavailable
}

func (l *NVMLLibrary) DeviceCount() (int, error) {
	return 0, domain.ErrLibraryUnavailable
}

func (l *NVMLLibrary) DeviceByIndex(index int) (domain.Device, error) {
	return nil, domain.ErrLibraryUnavailable
}

// Compile-time interface check
var _ domain.DeviceLibrary = (*NVMLLibrary)(nil)
