package nvml

import (
	"fmt"

	"github.com/worldland/gpustats/internal/domain"
)

// MockLibrary provides scripted device data for testing and --mock mode
type MockLibrary struct {
	Devices     []*MockDevice
	CudaVersion int

	InitErr   error
	CudaErr   error
	CountErr  error
	HandleErr map[int]error

	// Call tracking
	InitCalls     int
	ShutdownCalls int
	CountCalls    int
}

func NewMockLibrary(devices ...*MockDevice) *MockLibrary {
	return &MockLibrary{
		Devices:     devices,
		CudaVersion: 12020,
		HandleErr:   make(map[int]error),
	}
}

func (l *MockLibrary) Init() error {
	l.InitCalls++
	return l.InitErr
}

func (l *MockLibrary) Shutdown() error {
	l.ShutdownCalls++
	return nil
}

func (l *MockLibrary) CudaDriverVersion() (int, error) {
	if l.CudaErr != nil {
		return 0, l.CudaErr
	}
	return l.CudaVersion, nil
}

func (l *MockLibrary) DeviceCount() (int, error) {
	l.CountCalls++
	if l.CountErr != nil {
		return 0, l.CountErr
	}
	return len(l.Devices), nil
}

func (l *MockLibrary) DeviceByIndex(index int) (domain.Device, error) {
	if err := l.HandleErr[index]; err != nil {
		return nil, err
	}
	if index < 0 || index >= len(l.Devices) {
		return nil, fmt.Errorf("device index %d out of range", index)
	}
	return l.Devices[index], nil
}

// MockDevice answers every query from its fields unless Fail holds an error
// for that query. Fail is keyed by method name, e.g. "FanSpeed".
type MockDevice struct {
	DeviceName      string
	BrandName       string
	Fan             uint32
	Encoder         uint32
	Util            domain.Utilization
	Memory          domain.MemoryInfo
	Temp            uint32
	PowerMilliwatts uint32
	LimitMilliwatts uint32
	GraphicsMHz     uint32
	MemoryMHz       uint32
	LinkGen         int
	MaxLinkGen      int
	LinkWidth       int
	MaxLinkWidth    int
	LinkSpeedMBps   int
	Cores           int
	Arch            string
	ComputePIDs     []uint32
	GraphicsPIDs    []uint32

	Fail map[string]error

	// Calls records every query in order
	Calls []string
}

// NewDemoDevice returns a plausible mid-range device used by --mock mode
func NewDemoDevice() *MockDevice {
	return &MockDevice{
		DeviceName:      "Mock GPU",
		BrandName:       "GeForce",
		Fan:             35,
		Encoder:         0,
		Util:            domain.Utilization{GPU: 50, Memory: 33},
		Memory:          domain.MemoryInfo{Total: 24 << 30, Used: 8 << 30},
		Temp:            60,
		PowerMilliwatts: 180000,
		LimitMilliwatts: 450000,
		GraphicsMHz:     2520,
		MemoryMHz:       10501,
		LinkGen:         4,
		MaxLinkGen:      4,
		LinkWidth:       16,
		MaxLinkWidth:    16,
		LinkSpeedMBps:   16000,
		Cores:           16384,
		Arch:            "Ada",
	}
}

func (d *MockDevice) call(method string) error {
	d.Calls = append(d.Calls, method)
	if d.Fail == nil {
		return nil
	}
	return d.Fail[method]
}

func (d *MockDevice) Name() (string, error) {
	if err := d.call("Name"); err != nil {
		return "", err
	}
	return d.DeviceName, nil
}

func (d *MockDevice) Brand() (string, error) {
	if err := d.call("Brand"); err != nil {
		return "", err
	}
	return d.BrandName, nil
}

func (d *MockDevice) FanSpeed() (uint32, error) {
	if err := d.call("FanSpeed"); err != nil {
		return 0, err
	}
	return d.Fan, nil
}

func (d *MockDevice) EncoderUtilization() (uint32, error) {
	if err := d.call("EncoderUtilization"); err != nil {
		return 0, err
	}
	return d.Encoder, nil
}

func (d *MockDevice) UtilizationRates() (domain.Utilization, error) {
	if err := d.call("UtilizationRates"); err != nil {
		return domain.Utilization{}, err
	}
	return d.Util, nil
}

func (d *MockDevice) MemoryInfo() (domain.MemoryInfo, error) {
	if err := d.call("MemoryInfo"); err != nil {
		return domain.MemoryInfo{}, err
	}
	return d.Memory, nil
}

func (d *MockDevice) Temperature() (uint32, error) {
	if err := d.call("Temperature"); err != nil {
		return 0, err
	}
	return d.Temp, nil
}

func (d *MockDevice) PowerUsage() (uint32, error) {
	if err := d.call("PowerUsage"); err != nil {
		return 0, err
	}
	return d.PowerMilliwatts, nil
}

func (d *MockDevice) EnforcedPowerLimit() (uint32, error) {
	if err := d.call("EnforcedPowerLimit"); err != nil {
		return 0, err
	}
	return d.LimitMilliwatts, nil
}

func (d *MockDevice) GraphicsClock() (uint32, error) {
	if err := d.call("GraphicsClock"); err != nil {
		return 0, err
	}
	return d.GraphicsMHz, nil
}

func (d *MockDevice) MemoryClock() (uint32, error) {
	if err := d.call("MemoryClock"); err != nil {
		return 0, err
	}
	return d.MemoryMHz, nil
}

func (d *MockDevice) CurrentPcieLinkGeneration() (int, error) {
	if err := d.call("CurrentPcieLinkGeneration"); err != nil {
		return 0, err
	}
	return d.LinkGen, nil
}

func (d *MockDevice) MaxPcieLinkGeneration() (int, error) {
	if err := d.call("MaxPcieLinkGeneration"); err != nil {
		return 0, err
	}
	return d.MaxLinkGen, nil
}

func (d *MockDevice) CurrentPcieLinkWidth() (int, error) {
	if err := d.call("CurrentPcieLinkWidth"); err != nil {
		return 0, err
	}
	return d.LinkWidth, nil
}

func (d *MockDevice) MaxPcieLinkWidth() (int, error) {
	if err := d.call("MaxPcieLinkWidth"); err != nil {
		return 0, err
	}
	return d.MaxLinkWidth, nil
}

func (d *MockDevice) PcieLinkSpeed() (int, error) {
	if err := d.call("PcieLinkSpeed"); err != nil {
		return 0, err
	}
	return d.LinkSpeedMBps, nil
}

func (d *MockDevice) CoreCount() (int, error) {
	if err := d.call("CoreCount"); err != nil {
		return 0, err
	}
	return d.Cores, nil
}

func (d *MockDevice) Architecture() (string, error) {
	if err := d.call("Architecture"); err != nil {
		return "", err
	}
	return d.Arch, nil
}

func (d *MockDevice) ComputeProcesses() ([]uint32, error) {
	if err := d.call("ComputeProcesses"); err != nil {
		return nil, err
	}
	return d.ComputePIDs, nil
}

func (d *MockDevice) GraphicsProcesses() ([]uint32, error) {
	if err := d.call("GraphicsProcesses"); err != nil {
		return nil, err
	}
	return d.GraphicsPIDs, nil
}

// Compile-time interface checks
var (
	_ domain.DeviceLibrary = (*MockLibrary)(nil)
	_ domain.Device        = (*MockDevice)(nil)
)
