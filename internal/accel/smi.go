package accel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

const smiTimeout = 400 * time.Millisecond

var errNotSupported = errors.New("not supported by device")

// smiLibrary reads device state from the nvidia-smi CLI. One query per
// refresh cycle (in DeviceCount) fills a cache the Device handles read.
type smiLibrary struct {
	path string
	run  func(ctx context.Context, name string, args ...string) (string, error)

	mu      sync.Mutex
	devices []*smiDevice
}

func openSMI() (Library, error) {
	path, err := exec.LookPath("nvidia-smi")
	if err != nil {
		return nil, fmt.Errorf("nvidia-smi: %v: %w", err, ErrBackendAbsent)
	}
	return &smiLibrary{path: path, run: runCmd}, nil
}

func (l *smiLibrary) Name() string { return BackendSMI }

func (l *smiLibrary) Init() error {
	_, err := l.query()
	return err
}

func (l *smiLibrary) Shutdown() error { return nil }

func (l *smiLibrary) DeviceCount() (int, error) {
	devices, err := l.query()
	if err != nil {
		return 0, err
	}
	l.mu.Lock()
	l.devices = devices
	l.mu.Unlock()
	return len(devices), nil
}

func (l *smiLibrary) Device(index int) (Device, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 0 || index >= len(l.devices) {
		return nil, fmt.Errorf("nvidia-smi: no device at index %d", index)
	}
	return l.devices[index], nil
}

func (l *smiLibrary) query() ([]*smiDevice, error) {
	out, err := l.runTimed(
		"--query-gpu=index,pci.bus_id,utilization.gpu,memory.used,memory.total,temperature.gpu,power.draw",
		"--format=csv,noheader,nounits")
	if err != nil {
		return nil, fmt.Errorf("nvidia-smi query-gpu: %w", err)
	}
	devices := parseGPUQuery(out)

	apps, appsErr := l.runTimed(
		"--query-compute-apps=gpu_bus_id,pid,used_memory",
		"--format=csv,noheader,nounits")
	byBus := parseAppsQuery(apps)
	for _, d := range devices {
		if appsErr != nil {
			d.procsErr = fmt.Errorf("nvidia-smi query-compute-apps: %w", appsErr)
			continue
		}
		d.procs = byBus[strings.ToLower(d.busID)]
	}
	return devices, nil
}

// runTimed runs one nvidia-smi invocation with its own smiTimeout.
func (l *smiLibrary) runTimed(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), smiTimeout)
	defer cancel()
	return l.run(ctx, l.path, args...)
}

// smiDevice holds one parsed --query-gpu row. Fields nvidia-smi could
// not report ("[N/A]", "[Not Supported]") are nil.
type smiDevice struct {
	busID       string
	utilization *uint32
	memUsedMiB  *uint64
	memTotalMiB *uint64
	temperature *uint32
	powerWatts  *float64
	procs       []DeviceProcess
	procsErr    error
}

func (d *smiDevice) Utilization() (uint32, error) {
	if d.utilization == nil {
		return 0, errNotSupported
	}
	return *d.utilization, nil
}

func (d *smiDevice) Memory() (used, total uint64, err error) {
	if d.memUsedMiB == nil || d.memTotalMiB == nil {
		return 0, 0, errNotSupported
	}
	return *d.memUsedMiB << 20, *d.memTotalMiB << 20, nil
}

func (d *smiDevice) Temperature() (uint32, error) {
	if d.temperature == nil {
		return 0, errNotSupported
	}
	return *d.temperature, nil
}

func (d *smiDevice) PowerMilliwatts() (uint32, error) {
	if d.powerWatts == nil {
		return 0, errNotSupported
	}
	return uint32(*d.powerWatts*1000 + 0.5), nil
}

func (d *smiDevice) Processes() ([]DeviceProcess, error) {
	return d.procs, d.procsErr
}

// parseGPUQuery parses rows ordered by the index column nvidia-smi
// prints first; rows are returned in output order.
func parseGPUQuery(out string) []*smiDevice {
	var devices []*smiDevice
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		parts := strings.Split(sc.Text(), ",")
		if len(parts) < 7 {
			continue
		}
		devices = append(devices, &smiDevice{
			busID:       strings.TrimSpace(parts[1]),
			utilization: parseUint32(parts[2]),
			memUsedMiB:  parseUint64(parts[3]),
			memTotalMiB: parseUint64(parts[4]),
			temperature: parseUint32(parts[5]),
			powerWatts:  parseFloat(parts[6]),
		})
	}
	return devices
}

// parseAppsQuery groups compute processes by lower-cased PCI bus id.
func parseAppsQuery(out string) map[string][]DeviceProcess {
	byBus := make(map[string][]DeviceProcess)
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		parts := strings.Split(sc.Text(), ",")
		if len(parts) < 3 {
			continue
		}
		pid, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 32)
		if err != nil {
			continue
		}
		var used uint64
		if mib := parseUint64(parts[2]); mib != nil {
			used = *mib << 20
		}
		bus := strings.ToLower(strings.TrimSpace(parts[0]))
		byBus[bus] = append(byBus[bus], DeviceProcess{PID: uint32(pid), UsedMemoryBytes: used})
	}
	return byBus
}

// Helpers
func parseFloat(s string) *float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return &f
}

func parseUint64(s string) *uint64 {
	f := parseFloat(s)
	if f == nil || *f < 0 {
		return nil
	}
	v := uint64(*f)
	return &v
}

func parseUint32(s string) *uint32 {
	v := parseUint64(s)
	if v == nil {
		return nil
	}
	u := uint32(*v)
	return &u
}

func runCmd(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if ctx.Err() == context.DeadlineExceeded {
		return "", ctx.Err()
	}
	return string(out), err
}
