// Package health maps a host snapshot to a single 0-10 headroom score.
package health

import "github.com/Dicklesworthstone/node_metrics_exporter/internal/model"

// MaxScore is the score of an idle host with no memory or stall pressure.
const MaxScore = 10.0

// Score weighs CPU headroom (utilization and load per core), available
// memory and pressure stall into [0, MaxScore]. cores <= 0 counts as 1.
func Score(h model.HostSnapshot, cores int) float64 {
	if cores <= 0 {
		cores = 1
	}
	cpuUtilScore := clamp(1-h.CPUUtilization, 0, 1)
	cpuLoadScore := clamp(1-h.Load1/float64(cores), 0, 1)

	memScore := 0.0
	if h.MemTotalBytes > 0 {
		memScore = float64(h.MemAvailableBytes) / float64(h.MemTotalBytes)
	}
	memScore = clamp(memScore, 0, 1)

	cpuPressurePenalty := clamp(h.CPUPressureAvg10/100, 0, 1)
	memPressurePenalty := clamp(h.MemoryPressureAvg10/100, 0, 1)

	cpuScore := 0.6*cpuUtilScore + 0.4*cpuLoadScore
	weighted := 0.5*cpuScore + 0.3*memScore +
		0.1*(1-cpuPressurePenalty) +
		0.1*(1-memPressurePenalty)
	return clamp(weighted, 0, 1) * MaxScore
}

// Scorer binds Score to the core count read once at startup.
type Scorer struct {
	Cores int
}

func (s Scorer) Score(h model.HostSnapshot) float64 { return Score(h, s.Cores) }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
