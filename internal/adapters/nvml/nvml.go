//go:build !nonvml
// +build !nonvml

package nvml

import (
	"errors"
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/worldland/gpustats/internal/domain"
)

// NVMLLibrary is the DeviceLibrary backed by libnvidia-ml
type NVMLLibrary struct{}

func NewNVMLLibrary() *NVMLLibrary {
	return &NVMLLibrary{}
}

func (l *NVMLLibrary) Init() error {
	ret := nvml.Init()
	if !errors.Is(ret, nvml.SUCCESS) {
		return fmt.Errorf("%w: NVML init failed: %v", domain.ErrLibraryUnavailable, nvml.ErrorString(ret))
	}
	return nil
}

func (l *NVMLLibrary) Shutdown() error {
	ret := nvml.Shutdown()
	if !errors.Is(ret, nvml.SUCCESS) {
		return fmt.Errorf("NVML shutdown failed: %v", nvml.ErrorString(ret))
	}
	return nil
}

func (l *NVMLLibrary) CudaDriverVersion() (int, error) {
	version, ret := nvml.SystemGetCudaDriverVersion()
	return version, check("get cuda driver version", ret)
}

func (l *NVMLLibrary) DeviceCount() (int, error) {
	count, ret := nvml.DeviceGetCount()
	return count, check("get device count", ret)
}

func (l *NVMLLibrary) DeviceByIndex(index int) (domain.Device, error) {
	device, ret := nvml.DeviceGetHandleByIndex(index)
	if err := check(fmt.Sprintf("get device handle %d", index), ret); err != nil {
		return nil, err
	}
	return &nvmlDevice{device: device}, nil
}

// check converts an NVML return code into an error, nil on success
func check(op string, ret nvml.Return) error {
	if errors.Is(ret, nvml.SUCCESS) {
		return nil
	}
	return fmt.Errorf("%s: %w", op, ret)
}

type nvmlDevice struct {
	device nvml.Device
}

func (d *nvmlDevice) Name() (string, error) {
	name, ret := d.device.GetName()
	return name, check("get name", ret)
}

func (d *nvmlDevice) Brand() (string, error) {
	brand, ret := d.device.GetBrand()
	if err := check("get brand", ret); err != nil {
		return "", err
	}
	return brandName(brand), nil
}

func (d *nvmlDevice) FanSpeed() (uint32, error) {
	speed, ret := d.device.GetFanSpeed()
	return speed, check("get fan speed", ret)
}

func (d *nvmlDevice) EncoderUtilization() (uint32, error) {
	util, _, ret := d.device.GetEncoderUtilization()
	return util, check("get encoder utilization", ret)
}

func (d *nvmlDevice) UtilizationRates() (domain.Utilization, error) {
	util, ret := d.device.GetUtilizationRates()
	if err := check("get utilization rates", ret); err != nil {
		return domain.Utilization{}, err
	}
	return domain.Utilization{GPU: util.Gpu, Memory: util.Memory}, nil
}

func (d *nvmlDevice) MemoryInfo() (domain.MemoryInfo, error) {
	mem, ret := d.device.GetMemoryInfo()
	if err := check("get memory info", ret); err != nil {
		return domain.MemoryInfo{}, err
	}
	return domain.MemoryInfo{Total: mem.Total, Used: mem.Used}, nil
}

func (d *nvmlDevice) Temperature() (uint32, error) {
	temp, ret := d.device.GetTemperature(nvml.TEMPERATURE_GPU)
	return temp, check("get temperature", ret)
}

func (d *nvmlDevice) PowerUsage() (uint32, error) {
	power, ret := d.device.GetPowerUsage()
	return power, check("get power usage", ret)
}

func (d *nvmlDevice) EnforcedPowerLimit() (uint32, error) {
	limit, ret := d.device.GetEnforcedPowerLimit()
	return limit, check("get enforced power limit", ret)
}

func (d *nvmlDevice) GraphicsClock() (uint32, error) {
	clock, ret := d.device.GetClockInfo(nvml.CLOCK_GRAPHICS)
	return clock, check("get graphics clock", ret)
}

func (d *nvmlDevice) MemoryClock() (uint32, error) {
	clock, ret := d.device.GetClockInfo(nvml.CLOCK_MEM)
	return clock, check("get memory clock", ret)
}

func (d *nvmlDevice) CurrentPcieLinkGeneration() (int, error) {
	gen, ret := d.device.GetCurrPcieLinkGeneration()
	return gen, check("get pcie link generation", ret)
}

func (d *nvmlDevice) MaxPcieLinkGeneration() (int, error) {
	gen, ret := d.device.GetMaxPcieLinkGeneration()
	return gen, check("get max pcie link generation", ret)
}

func (d *nvmlDevice) CurrentPcieLinkWidth() (int, error) {
	width, ret := d.device.GetCurrPcieLinkWidth()
	return width, check("get pcie link width", ret)
}

func (d *nvmlDevice) MaxPcieLinkWidth() (int, error) {
	width, ret := d.device.GetMaxPcieLinkWidth()
	return width, check("get max pcie link width", ret)
}

func (d *nvmlDevice) PcieLinkSpeed() (int, error) {
	speed, ret := d.device.GetPcieSpeed()
	return speed, check("get pcie link speed", ret)
}

func (d *nvmlDevice) CoreCount() (int, error) {
	cores, ret := d.device.GetNumGpuCores()
	return cores, check("get core count", ret)
}

func (d *nvmlDevice) Architecture() (string, error) {
	arch, ret := d.device.GetArchitecture()
	if err := check("get architecture", ret); err != nil {
		return "", err
	}
	return architectureName(arch), nil
}

func (d *nvmlDevice) ComputeProcesses() ([]uint32, error) {
	procs, ret := d.device.GetComputeRunningProcesses()
	if err := check("get compute processes", ret); err != nil {
		return nil, err
	}
	return pids(procs), nil
}

func (d *nvmlDevice) GraphicsProcesses() ([]uint32, error) {
	procs, ret := d.device.GetGraphicsRunningProcesses()
	if err := check("get graphics processes", ret); err != nil {
		return nil, err
	}
	return pids(procs), nil
}

func pids(procs []nvml.ProcessInfo) []uint32 {
	out := make([]uint32, 0, len(procs))
	for _, p := range procs {
		out = append(out, p.Pid)
	}
	return out
}

func architectureName(arch nvml.DeviceArchitecture) string {
	names := map[nvml.DeviceArchitecture]string{
		nvml.DEVICE_ARCH_KEPLER:    "Kepler",
		nvml.DEVICE_ARCH_MAXWELL:   "Maxwell",
		nvml.DEVICE_ARCH_PASCAL:    "Pascal",
		nvml.DEVICE_ARCH_VOLTA:     "Volta",
		nvml.DEVICE_ARCH_TURING:    "Turing",
		nvml.DEVICE_ARCH_AMPERE:    "Ampere",
		nvml.DEVICE_ARCH_ADA:       "Ada",
		nvml.DEVICE_ARCH_HOPPER:    "Hopper",
		nvml.DEVICE_ARCH_BLACKWELL: "Blackwell",
	}
	if name, ok := names[arch]; ok {
		return name
	}
	return "Unknown"
}

func brandName(brand nvml.BrandType) string {
	names := map[nvml.BrandType]string{
		nvml.BRAND_QUADRO:              "Quadro",
		nvml.BRAND_TESLA:               "Tesla",
		nvml.BRAND_NVS:                 "NVS",
		nvml.BRAND_GRID:                "GRID",
		nvml.BRAND_GEFORCE:             "GeForce",
		nvml.BRAND_TITAN:               "Titan",
		nvml.BRAND_NVIDIA_VAPPS:        "vApps",
		nvml.BRAND_NVIDIA_VPC:          "VPC",
		nvml.BRAND_NVIDIA_VCS:          "VCS",
		nvml.BRAND_NVIDIA_VWS:          "VWS",
		nvml.BRAND_NVIDIA_CLOUD_GAMING: "CloudGaming",
		nvml.BRAND_QUADRO_RTX:          "QuadroRTX",
		nvml.BRAND_NVIDIA_RTX:          "NvidiaRTX",
		nvml.BRAND_NVIDIA:              "Nvidia",
		nvml.BRAND_GEFORCE_RTX:         "GeForceRTX",
		nvml.BRAND_TITAN_RTX:           "TitanRTX",
	}
	if name, ok := names[brand]; ok {
		return name
	}
	return "Unknown"
}

// Compile-time interface checks
var (
	_ domain.DeviceLibrary = (*NVMLLibrary)(nil)
	_ domain.Device        = (*nvmlDevice)(nil)
)
