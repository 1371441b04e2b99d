package model

import "time"

// HostSnapshot holds point-in-time host counters for one refresh cycle.
type HostSnapshot struct {
	Load1               float64
	CPUUtilization      float64 // ratio 0-1
	CPUPressureAvg10    float64 // percent, from PSI
	MemoryPressureAvg10 float64 // percent, from PSI
	MemTotalBytes       uint64
	MemAvailableBytes   uint64
}

// ProcessSample is a lightweight top entry ranked by cumulative CPU time.
type ProcessSample struct {
	PID            int
	Name           string
	CPUTimeSeconds float64 // user+system since process start
	RSSBytes       uint64
}

// AcceleratorProcess is a process holding memory on an accelerator.
type AcceleratorProcess struct {
	PID             uint
	UsedMemoryBytes uint64
	CgroupPath      string
	ContainerID     string // best-effort, see accel.ContainerIDFromCgroup
}

// AcceleratorSnapshot holds a single device snapshot.
type AcceleratorSnapshot struct {
	Index              uint
	UtilizationPercent uint
	MemoryUsedBytes    uint64
	MemoryTotalBytes   uint64
	TemperatureC       uint
	PowerWatts         *float64 // nil when the device reports no power telemetry
	Processes          []AcceleratorProcess
}

// Snapshot is the full cycle exchanged between exporter, formatter, and UI.
type Snapshot struct {
	Timestamp    time.Time
	Host         HostSnapshot
	HealthScore  float64
	Processes    []ProcessSample
	Accelerators []AcceleratorSnapshot
}

// Zero returns an empty snapshot for initialization.
func Zero() Snapshot { return Snapshot{Timestamp: time.Now()} }
