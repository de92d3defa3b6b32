package sampler

import "fmt"

// Global record keys
const (
	KeyCudaVersion        = "cuda_version"
	KeyGPUCount           = "gpu.count"
	KeySamplingDurationMs = "_sampling_duration_ms"
)

// Per-device field names under gpu.<index>.
const (
	FieldName                    = "name"
	FieldBrand                   = "brand"
	FieldFanSpeed                = "fanSpeed"
	FieldEncoderUtilization      = "encoderUtilization"
	FieldGPU                     = "gpu"
	FieldMemory                  = "memory"
	FieldMemoryTotal             = "memoryTotal"
	FieldMemoryAllocated         = "memoryAllocated"
	FieldMemoryAllocatedBytes    = "memoryAllocatedBytes"
	FieldTemp                    = "temp"
	FieldPowerWatts              = "powerWatts"
	FieldEnforcedPowerLimitWatts = "enforcedPowerLimitWatts"
	FieldPowerPercent            = "powerPercent"
	FieldGraphicsClock           = "graphicsClock"
	FieldMemoryClock             = "memoryClock"
	FieldPcieLinkGen             = "pcieLinkGen"
	FieldPcieLinkSpeed           = "pcieLinkSpeed"
	FieldPcieLinkWidth           = "pcieLinkWidth"
	FieldMaxPcieLinkGen          = "maxPcieLinkGen"
	FieldMaxPcieLinkWidth        = "maxPcieLinkWidth"
	FieldCudaCores               = "cudaCores"
	FieldArchitecture            = "architecture"
)

// attributableFields are duplicated under gpu.process.<index>. when the
// target process tree uses the device
var attributableFields = []string{
	FieldGPU,
	FieldMemory,
	FieldMemoryAllocated,
	FieldMemoryAllocatedBytes,
	FieldTemp,
	FieldPowerWatts,
	FieldEnforcedPowerLimitWatts,
	FieldPowerPercent,
}

// DevicePrefix returns the key prefix for device index, e.g. "gpu.0."
func DevicePrefix(index int) string {
	return fmt.Sprintf("gpu.%d.", index)
}

// ProcessPrefix returns the key prefix for fields attributed to the target
// process tree on device index, e.g. "gpu.process.0."
func ProcessPrefix(index int) string {
	return fmt.Sprintf("gpu.process.%d.", index)
}
