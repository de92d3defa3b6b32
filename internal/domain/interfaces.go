package domain

import "context"

// DeviceLibrary abstracts the device management library (NVML or mock)
type DeviceLibrary interface {
	// Init initializes the library. A failure is permanent for the process lifetime.
	Init() error
	// Shutdown releases the library handle
	Shutdown() error
	// CudaDriverVersion returns the driver's CUDA version as major*1000 + minor*10
	CudaDriverVersion() (int, error)
	// DeviceCount returns the number of installed devices
	DeviceCount() (int, error)
	// DeviceByIndex returns a handle for the device at index
	DeviceByIndex(index int) (Device, error)
}

// Device exposes one read-only query per metric. Every method reports its own
// failure so one missing metric never hides the others.
type Device interface {
	Name() (string, error)
	Brand() (string, error)
	FanSpeed() (uint32, error)
	EncoderUtilization() (uint32, error)
	UtilizationRates() (Utilization, error)
	MemoryInfo() (MemoryInfo, error)
	// Temperature returns the GPU core temperature in degrees Celsius
	Temperature() (uint32, error)
	// PowerUsage returns the current draw in milliwatts
	PowerUsage() (uint32, error)
	// EnforcedPowerLimit returns the active power cap in milliwatts
	EnforcedPowerLimit() (uint32, error)
	GraphicsClock() (uint32, error)
	MemoryClock() (uint32, error)
	CurrentPcieLinkGeneration() (int, error)
	MaxPcieLinkGeneration() (int, error)
	CurrentPcieLinkWidth() (int, error)
	MaxPcieLinkWidth() (int, error)
	// PcieLinkSpeed returns the per-lane link speed in MB/s
	PcieLinkSpeed() (int, error)
	CoreCount() (int, error)
	Architecture() (string, error)
	// ComputeProcesses returns the pids of compute workloads on the device
	ComputeProcesses() ([]uint32, error)
	// GraphicsProcesses returns the pids of graphics workloads on the device
	GraphicsProcesses() ([]uint32, error)
}

// ChildLister lists the direct children of a process
type ChildLister interface {
	Children(ctx context.Context, pid uint32) ([]uint32, error)
}
