package accel

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/Dicklesworthstone/node_metrics_exporter/internal/model"
)

// LibrarySource samples every device a Library reports. A failing
// device or process is skipped; it never aborts the whole sample.
type LibrarySource struct {
	lib      Library
	procRoot string
	logger   *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewLibrarySource wraps an initialized Library. Cgroup membership of
// device processes is read from procRoot.
func NewLibrarySource(lib Library, procRoot string, logger *zap.Logger) *LibrarySource {
	return &LibrarySource{lib: lib, procRoot: procRoot, logger: logger}
}

func (s *LibrarySource) Name() string { return s.lib.Name() }

func (s *LibrarySource) Sample(ctx context.Context) []model.AcceleratorSnapshot {
	count, err := s.lib.DeviceCount()
	if err != nil {
		s.logger.Warn("failed to get device count", zap.Error(err))
		return nil
	}

	out := make([]model.AcceleratorSnapshot, 0, count)
	for i := 0; i < count; i++ {
		if ctx.Err() != nil {
			break
		}
		dev, err := s.lib.Device(i)
		if err != nil {
			s.logger.Warn("failed to get device handle", zap.Int("index", i), zap.Error(err))
			continue
		}
		out = append(out, s.sampleDevice(i, dev))
	}
	return out
}

func (s *LibrarySource) sampleDevice(index int, dev Device) model.AcceleratorSnapshot {
	snap := model.AcceleratorSnapshot{Index: uint(index)}

	if util, err := dev.Utilization(); err == nil {
		snap.UtilizationPercent = uint(util)
	}
	if used, total, err := dev.Memory(); err == nil {
		snap.MemoryUsedBytes, snap.MemoryTotalBytes = used, total
	}
	if temp, err := dev.Temperature(); err == nil {
		snap.TemperatureC = uint(temp)
	}
	if mw, err := dev.PowerMilliwatts(); err == nil {
		watts := float64(mw) / 1000
		snap.PowerWatts = &watts
	}

	procs, err := dev.Processes()
	if err != nil {
		s.logger.Debug("failed to list device processes", zap.Int("index", index), zap.Error(err))
		return snap
	}
	for _, p := range procs {
		contents := readCgroupFile(s.procRoot, p.PID)
		snap.Processes = append(snap.Processes, model.AcceleratorProcess{
			PID:             uint(p.PID),
			UsedMemoryBytes: p.UsedMemoryBytes,
			CgroupPath:      CgroupPathFromFile(contents),
			ContainerID:     ContainerIDFromCgroup(contents),
		})
	}
	return snap
}

// Close shuts the library down. Later calls return the first result.
func (s *LibrarySource) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.lib.Shutdown() })
	return s.closeErr
}
