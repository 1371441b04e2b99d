//go:build darwin

package sampler

import (
	"context"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/Dicklesworthstone/node_metrics_exporter/internal/model"
)

func newPlatformSampler(logger *zap.Logger) HostSampler {
	return NewDarwinSysctlSampler(logger)
}

// DarwinSysctlSampler reads host counters through sysctl and mach host
// statistics. Pressure stall information does not exist on darwin.
type DarwinSysctlSampler struct {
	diff   *Differencer
	logger *zap.Logger
}

func NewDarwinSysctlSampler(logger *zap.Logger) *DarwinSysctlSampler {
	return &DarwinSysctlSampler{diff: &Differencer{}, logger: logger}
}

func (s *DarwinSysctlSampler) Name() string { return "sysctl" }

func (s *DarwinSysctlSampler) Sample(ctx context.Context) model.HostSnapshot {
	var snap model.HostSnapshot

	if avg, err := load.AvgWithContext(ctx); err != nil {
		s.logger.Debug("load average unavailable", zap.Error(err))
	} else {
		snap.Load1 = avg.Load1
	}

	if total, err := unix.SysctlUint64("hw.memsize"); err != nil {
		s.logger.Debug("hw.memsize unavailable", zap.Error(err))
	} else {
		snap.MemTotalBytes = total
	}

	// "available" approximated as free + inactive pages.
	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		s.logger.Debug("vm statistics unavailable", zap.Error(err))
	} else {
		snap.MemAvailableBytes = vm.Free + vm.Inactive
	}

	if times, err := cpu.TimesWithContext(ctx, false); err != nil || len(times) == 0 {
		s.logger.Debug("cpu times unavailable", zap.Error(err))
	} else {
		total, idle := ticksFromTimes(times[0])
		snap.CPUUtilization = s.diff.Update(total, idle)
	}

	if degenerate(snap) {
		s.logger.Warn("host metrics unavailable; sysctl/mach calls failed?")
	}
	return snap
}
