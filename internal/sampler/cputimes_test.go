package sampler

import (
	"context"
	"testing"

	"github.com/shirou/gopsutil/v3/cpu"
)

func TestTicksFromTimes(t *testing.T) {
	total, idle := ticksFromTimes(cpu.TimesStat{
		User: 10, Nice: 1, System: 4, Idle: 80, Iowait: 5,
		Irq: 0.5, Softirq: 0.5, Steal: 0, Guest: 3,
	})
	if idle != 8500 {
		t.Errorf("idle = %d, want 8500", idle)
	}
	if total != 10100 {
		t.Errorf("total = %d, want 10100", total)
	}
}

func TestTicksFromTimesRoundsSeconds(t *testing.T) {
	// 0.29*100 is 28.999... in floating point.
	total, idle := ticksFromTimes(cpu.TimesStat{User: 0.29, Idle: 1.3})
	if idle != 130 || total != 159 {
		t.Errorf("total, idle = %d, %d; want 159, 130", total, idle)
	}
}

func TestCoreCountPositive(t *testing.T) {
	if n := CoreCount(context.Background()); n < 1 {
		t.Fatalf("CoreCount = %d, want >= 1", n)
	}
}
