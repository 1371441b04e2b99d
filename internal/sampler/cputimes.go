package sampler

import (
	"context"
	"math"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
)

// ticksPerSecond matches USER_HZ, the unit /proc/stat reports in and
// the divisor gopsutil applies to it.
const ticksPerSecond = 100

// ticksFromTimes converts gopsutil's per-state seconds back into tick
// counters with the same busy/idle split as /proc/stat.
func ticksFromTimes(t cpu.TimesStat) (total, idle uint64) {
	toTicks := func(sec float64) uint64 {
		if sec <= 0 {
			return 0
		}
		return uint64(math.Round(sec * ticksPerSecond))
	}
	idle = toTicks(t.Idle) + toTicks(t.Iowait)
	busy := toTicks(t.User) + toTicks(t.Nice) + toTicks(t.System) +
		toTicks(t.Irq) + toTicks(t.Softirq) + toTicks(t.Steal)
	return idle + busy, idle
}

// CoreCount returns the number of logical CPUs. Callers query it once
// at startup and treat it as static.
func CoreCount(ctx context.Context) int {
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		return n
	}
	if n := runtime.NumCPU(); n > 0 {
		return n
	}
	return 1
}
