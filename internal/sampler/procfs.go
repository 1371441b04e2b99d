package sampler

import (
	"context"

	"github.com/prometheus/procfs"
	"github.com/shirou/gopsutil/v3/common"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/Dicklesworthstone/node_metrics_exporter/internal/model"
)

// LinuxProcSampler reads host counters from a procfs tree.
type LinuxProcSampler struct {
	root   string
	diff   *Differencer
	logger *zap.Logger
}

// NewLinuxProcSampler reads from root, which is "/proc" in production
// and a synthetic tree in tests.
func NewLinuxProcSampler(root string, logger *zap.Logger) *LinuxProcSampler {
	return &LinuxProcSampler{root: root, diff: &Differencer{}, logger: logger}
}

func (s *LinuxProcSampler) Name() string { return "procfs" }

func (s *LinuxProcSampler) Sample(ctx context.Context) model.HostSnapshot {
	var snap model.HostSnapshot
	ctx = context.WithValue(ctx, common.EnvKey, common.EnvMap{common.HostProcEnvKey: s.root})

	if avg, err := load.AvgWithContext(ctx); err != nil {
		s.logger.Debug("load average unavailable", zap.Error(err))
	} else {
		snap.Load1 = avg.Load1
	}

	if times, err := cpu.TimesWithContext(ctx, false); err != nil || len(times) == 0 {
		s.logger.Debug("cpu times unavailable", zap.Error(err))
	} else {
		total, idle := ticksFromTimes(times[0])
		snap.CPUUtilization = s.diff.Update(total, idle)
	}

	snap.CPUPressureAvg10, snap.MemoryPressureAvg10 = s.pressure()

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		s.logger.Debug("meminfo unavailable", zap.Error(err))
	} else {
		snap.MemTotalBytes, snap.MemAvailableBytes = vm.Total, vm.Available
	}

	if degenerate(snap) {
		s.logger.Warn("host metrics unavailable; procfs not readable?", zap.String("root", s.root))
	}
	return snap
}

// pressure returns the "some" avg10 stall percentage for cpu and memory.
// Kernels without PSI report 0.
func (s *LinuxProcSampler) pressure() (cpuAvg10, memAvg10 float64) {
	fs, err := procfs.NewFS(s.root)
	if err != nil {
		s.logger.Debug("pressure stats unavailable", zap.Error(err))
		return 0, 0
	}
	return s.someAvg10(fs, "cpu"), s.someAvg10(fs, "memory")
}

func (s *LinuxProcSampler) someAvg10(fs procfs.FS, resource string) float64 {
	stats, err := fs.PSIStatsForResource(resource)
	if err != nil || stats.Some == nil {
		s.logger.Debug("pressure stats unavailable", zap.String("resource", resource), zap.Error(err))
		return 0
	}
	return stats.Some.Avg10
}
