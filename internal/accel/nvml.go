//go:build nvml

package accel

import (
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

func openNVML() (Library, error) { return nvmlLibrary{}, nil }

// nvmlLibrary binds libnvidia-ml through go-nvml. Requires cgo.
type nvmlLibrary struct{}

func (nvmlLibrary) Name() string    { return BackendNVML }
func (nvmlLibrary) Init() error     { return nvmlErr(nvml.Init()) }
func (nvmlLibrary) Shutdown() error { return nvmlErr(nvml.Shutdown()) }

func (nvmlLibrary) DeviceCount() (int, error) {
	n, ret := nvml.DeviceGetCount()
	return n, nvmlErr(ret)
}

func (nvmlLibrary) Device(index int) (Device, error) {
	dev, ret := nvml.DeviceGetHandleByIndex(index)
	if err := nvmlErr(ret); err != nil {
		return nil, err
	}
	return nvmlDevice{dev: dev}, nil
}

type nvmlDevice struct {
	dev nvml.Device
}

func (d nvmlDevice) Utilization() (uint32, error) {
	u, ret := d.dev.GetUtilizationRates()
	return u.Gpu, nvmlErr(ret)
}

func (d nvmlDevice) Memory() (used, total uint64, err error) {
	m, ret := d.dev.GetMemoryInfo()
	return m.Used, m.Total, nvmlErr(ret)
}

func (d nvmlDevice) Temperature() (uint32, error) {
	t, ret := d.dev.GetTemperature(nvml.TEMPERATURE_GPU)
	return t, nvmlErr(ret)
}

func (d nvmlDevice) PowerMilliwatts() (uint32, error) {
	mw, ret := d.dev.GetPowerUsage()
	return mw, nvmlErr(ret)
}

func (d nvmlDevice) Processes() ([]DeviceProcess, error) {
	infos, ret := d.dev.GetComputeRunningProcesses()
	if err := nvmlErr(ret); err != nil {
		return nil, err
	}
	procs := make([]DeviceProcess, 0, len(infos))
	for _, info := range infos {
		procs = append(procs, DeviceProcess{PID: info.Pid, UsedMemoryBytes: info.UsedGpuMemory})
	}
	return procs, nil
}

func nvmlErr(ret nvml.Return) error {
	if ret == nvml.SUCCESS {
		return nil
	}
	return fmt.Errorf("nvml: %s", nvml.ErrorString(ret))
}
