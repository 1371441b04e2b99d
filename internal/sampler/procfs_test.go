package sampler

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"
)

// writeProcTree writes files relative to a fresh temp root.
func writeProcTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	return root
}

const meminfoFixture = `MemTotal:       16318464 kB
MemFree:         1234567 kB
MemAvailable:    8159232 kB
Buffers:          123456 kB
Cached:           234567 kB
`

const cpuPressureFixture = `some avg10=2.50 avg60=1.10 avg300=0.40 total=123456
full avg10=0.00 avg60=0.00 avg300=0.00 total=0
`

const memoryPressureFixture = `some avg10=12.75 avg60=3.00 avg300=1.00 total=42
full avg10=1.00 avg60=0.50 avg300=0.10 total=7
`

func fullProcTree(t *testing.T) string {
	return writeProcTree(t, map[string]string{
		"loadavg":         "1.50 0.75 0.25 2/345 6789\n",
		"stat":            "cpu  100 0 0 80 0 0 0 0 0 0\ncpu0 100 0 0 80 0 0 0 0 0 0\n",
		"meminfo":         meminfoFixture,
		"pressure/cpu":    cpuPressureFixture,
		"pressure/memory": memoryPressureFixture,
	})
}

func TestLinuxProcSamplerSample(t *testing.T) {
	root := fullProcTree(t)
	s := NewLinuxProcSampler(root, zaptest.NewLogger(t))

	snap := s.Sample(context.Background())
	if snap.Load1 != 1.5 {
		t.Errorf("Load1 = %v, want 1.5", snap.Load1)
	}
	if snap.CPUUtilization != 0 {
		t.Errorf("first CPUUtilization = %v, want 0", snap.CPUUtilization)
	}
	if snap.CPUPressureAvg10 != 2.5 {
		t.Errorf("CPUPressureAvg10 = %v, want 2.5", snap.CPUPressureAvg10)
	}
	if snap.MemoryPressureAvg10 != 12.75 {
		t.Errorf("MemoryPressureAvg10 = %v, want 12.75", snap.MemoryPressureAvg10)
	}
	if snap.MemTotalBytes != 16318464*1024 {
		t.Errorf("MemTotalBytes = %d", snap.MemTotalBytes)
	}
	if snap.MemAvailableBytes != 8159232*1024 {
		t.Errorf("MemAvailableBytes = %d", snap.MemAvailableBytes)
	}

	// user 100->130, idle 80->150: total delta 100, idle delta 70.
	if err := os.WriteFile(filepath.Join(root, "stat"), []byte("cpu  130 0 0 150 0 0 0 0 0 0\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	snap = s.Sample(context.Background())
	if math.Abs(snap.CPUUtilization-0.30) > 1e-12 {
		t.Errorf("second CPUUtilization = %v, want 0.30", snap.CPUUtilization)
	}
}

func TestLinuxProcSamplerExcludesGuest(t *testing.T) {
	root := fullProcTree(t)
	s := NewLinuxProcSampler(root, zaptest.NewLogger(t))
	s.Sample(context.Background())

	// guest ticks are already part of user; only idle moves.
	if err := os.WriteFile(filepath.Join(root, "stat"), []byte("cpu  100 0 0 180 0 0 0 0 500 0\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if got := s.Sample(context.Background()).CPUUtilization; got != 0 {
		t.Errorf("CPUUtilization = %v, want 0", got)
	}
}

func TestLinuxProcSamplerDegradedSources(t *testing.T) {
	tests := []struct {
		name   string
		remove string
		write  map[string]string
		check  func(t *testing.T, s *LinuxProcSampler)
	}{
		{
			name:   "no pressure directory",
			remove: "pressure",
			check: func(t *testing.T, s *LinuxProcSampler) {
				snap := s.Sample(context.Background())
				if snap.CPUPressureAvg10 != 0 || snap.MemoryPressureAvg10 != 0 {
					t.Errorf("pressure = %v/%v, want 0/0", snap.CPUPressureAvg10, snap.MemoryPressureAvg10)
				}
				if snap.MemTotalBytes == 0 {
					t.Error("memory lost with pressure")
				}
			},
		},
		{
			name:  "malformed pressure",
			write: map[string]string{"pressure/cpu": "garbage\n"},
			check: func(t *testing.T, s *LinuxProcSampler) {
				snap := s.Sample(context.Background())
				if snap.CPUPressureAvg10 != 0 {
					t.Errorf("CPUPressureAvg10 = %v, want 0", snap.CPUPressureAvg10)
				}
				if snap.MemoryPressureAvg10 != 12.75 {
					t.Errorf("MemoryPressureAvg10 = %v, want 12.75", snap.MemoryPressureAvg10)
				}
			},
		},
		{
			name:   "no stat",
			remove: "stat",
			check: func(t *testing.T, s *LinuxProcSampler) {
				s.Sample(context.Background())
				if got := s.Sample(context.Background()).CPUUtilization; got != 0 {
					t.Errorf("CPUUtilization = %v, want 0", got)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := fullProcTree(t)
			if tt.remove != "" {
				if err := os.RemoveAll(filepath.Join(root, tt.remove)); err != nil {
					t.Fatal(err)
				}
			}
			for name, content := range tt.write {
				if err := os.WriteFile(filepath.Join(root, name), []byte(content), 0o644); err != nil {
					t.Fatal(err)
				}
			}
			tt.check(t, NewLinuxProcSampler(root, zaptest.NewLogger(t)))
		})
	}
}

func TestLinuxProcSamplerMissingRoot(t *testing.T) {
	s := NewLinuxProcSampler(filepath.Join(t.TempDir(), "missing"), zaptest.NewLogger(t))
	s.Sample(context.Background())
	snap := s.Sample(context.Background())

	// Load1 may still come from sysinfo(2), so it is not checked here.
	if snap.CPUUtilization != 0 || snap.CPUPressureAvg10 != 0 || snap.MemoryPressureAvg10 != 0 {
		t.Errorf("expected zero cpu and pressure, got %+v", snap)
	}
	if snap.MemTotalBytes != 0 || snap.MemAvailableBytes != 0 {
		t.Errorf("expected zero memory, got %+v", snap)
	}
}
