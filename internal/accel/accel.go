// Package accel samples GPU devices and the processes holding memory on
// them. The vendor library is an optional capability: when it is not
// compiled in or fails to initialize, Open returns a Noop source and the
// exporter keeps running without accelerator metrics.
package accel

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Dicklesworthstone/node_metrics_exporter/internal/model"
)

// Backend names accepted by Open.
const (
	BackendAuto = "auto"
	BackendNVML = "nvml"
	BackendSMI  = "smi"
	BackendNone = "none"
)

// Backends lists every accepted backend name.
var Backends = []string{BackendAuto, BackendNVML, BackendSMI, BackendNone}

// ErrBackendAbsent means the requested backend is not available in this
// build or on this host.
var ErrBackendAbsent = errors.New("accelerator backend absent")

// Source produces one accelerator snapshot list per refresh cycle.
type Source interface {
	Sample(ctx context.Context) []model.AcceleratorSnapshot
	Name() string
	Close() error
}

// Library is the vendor management library: initialize, query, shut down.
type Library interface {
	Name() string
	Init() error
	Shutdown() error
	DeviceCount() (int, error)
	Device(index int) (Device, error)
}

// Device is one accelerator handle. Each query fails independently.
type Device interface {
	Utilization() (uint32, error)
	Memory() (used, total uint64, err error)
	Temperature() (uint32, error)
	PowerMilliwatts() (uint32, error)
	Processes() ([]DeviceProcess, error)
}

// DeviceProcess is a compute process running on a device.
type DeviceProcess struct {
	PID             uint32
	UsedMemoryBytes uint64
}

// Noop is the source used when no accelerator backend is available.
type Noop struct{}

func (Noop) Sample(context.Context) []model.AcceleratorSnapshot { return nil }
func (Noop) Name() string                                       { return BackendNone }
func (Noop) Close() error                                       { return nil }

// Open selects and initializes a backend. It never fails: any problem
// is logged once and yields a Noop source.
func Open(logger *zap.Logger, backend string) Source {
	logger = logger.Named("accel")

	var (
		lib Library
		err error
	)
	switch backend {
	case BackendNone:
		logger.Info("accelerator sampling disabled")
		return Noop{}
	case BackendNVML:
		lib, err = openNVML()
	case BackendSMI:
		lib, err = openSMI()
	case BackendAuto, "":
		if nv, nvErr := openNVML(); nvErr == nil {
			initErr := nv.Init()
			if initErr == nil {
				logger.Info("accelerator backend initialized", zap.String("backend", nv.Name()))
				return NewLibrarySource(nv, "/proc", logger)
			}
			logger.Info("nvml init failed; trying nvidia-smi", zap.Error(initErr))
		}
		lib, err = openSMI()
	default:
		err = fmt.Errorf("unknown accelerator backend %q", backend)
	}

	if err != nil {
		if errors.Is(err, ErrBackendAbsent) {
			logger.Info("no accelerator backend; running in CPU-only mode", zap.Error(err))
		} else {
			logger.Warn("accelerator backend unavailable", zap.Error(err))
		}
		return Noop{}
	}
	return initSource(logger, lib, "/proc")
}

func initSource(logger *zap.Logger, lib Library, procRoot string) Source {
	if err := lib.Init(); err != nil {
		logger.Warn("accelerator init failed; disabling accelerator metrics",
			zap.String("backend", lib.Name()), zap.Error(err))
		return Noop{}
	}
	logger.Info("accelerator backend initialized", zap.String("backend", lib.Name()))
	return NewLibrarySource(lib, procRoot, logger)
}
