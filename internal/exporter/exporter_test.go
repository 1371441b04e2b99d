package exporter

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/Dicklesworthstone/node_metrics_exporter/internal/accel"
	"github.com/Dicklesworthstone/node_metrics_exporter/internal/health"
	"github.com/Dicklesworthstone/node_metrics_exporter/internal/model"
	"github.com/Dicklesworthstone/node_metrics_exporter/internal/sampler"
)

type fakeHost struct {
	mu    sync.Mutex
	calls int
	snap  model.HostSnapshot
}

func (f *fakeHost) Name() string { return "fake" }

func (f *fakeHost) Sample(context.Context) model.HostSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	s := f.snap
	s.Load1 = float64(f.calls)
	return s
}

type staticTable map[int32]model.ProcessSample

func (t staticTable) Pids(context.Context) ([]int32, error) {
	var pids []int32
	for pid := range t {
		pids = append(pids, pid)
	}
	return pids, nil
}

func (t staticTable) Read(_ context.Context, pid int32) (model.ProcessSample, error) {
	return t[pid], nil
}

func newTestExporter(t *testing.T) (*Exporter, *fakeHost) {
	host := &fakeHost{snap: model.HostSnapshot{MemTotalBytes: 1000, MemAvailableBytes: 400}}
	procs := &sampler.TopCollector{
		Table: staticTable{
			10: {PID: 10, Name: "busy", CPUTimeSeconds: 50},
			11: {PID: 11, Name: "idle", CPUTimeSeconds: 1},
		},
		Budget: time.Second,
	}
	e := New(Options{
		Host:     host,
		Procs:    procs,
		Accel:    accel.Noop{},
		Scorer:   health.Scorer{Cores: 4},
		TopN:     DefaultTopProcesses,
		Interval: 10 * time.Millisecond,
		Logger:   zaptest.NewLogger(t),
	})
	return e, host
}

func TestExpositionBeforeFirstRefresh(t *testing.T) {
	e, _ := newTestExporter(t)
	if e.Latest() != nil {
		t.Fatal("Latest should be nil before the first refresh")
	}
	body := string(e.Exposition())
	if !strings.Contains(body, "\ncpu_load_1m 0\n") {
		t.Errorf("zero body missing cpu_load_1m:\n%s", body)
	}
	if !strings.Contains(body, "\nnode_memory_total_bytes 0\n") {
		t.Errorf("zero body missing memory total:\n%s", body)
	}
}

func TestRefreshPublishes(t *testing.T) {
	e, _ := newTestExporter(t)
	p := e.Refresh(context.Background())

	if e.Latest() != p {
		t.Fatal("Refresh did not publish its result")
	}
	if !bytes.Equal(e.Exposition(), p.Body) {
		t.Fatal("Exposition does not return the published body")
	}
	body := string(p.Body)
	for _, want := range []string{
		"\ncpu_load_1m 1\n",
		"\nnode_memory_available_bytes 400\n",
		`cpu_process_cpu_seconds_total{pid="10",name="busy"} 50`,
		"\nexporter_refresh_cycles_total 1\n",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
	if strings.Index(body, `name="busy"`) > strings.Index(body, `name="idle"`) {
		t.Error("processes not ranked by CPU time")
	}
	for _, l := range strings.Split(body, "\n") {
		if strings.HasPrefix(l, "gpu_") || strings.HasPrefix(l, "# TYPE gpu_") {
			t.Errorf("unexpected accelerator line %q without a backend", l)
		}
	}
	if p.Snapshot.HealthScore <= 0 || p.Snapshot.HealthScore > health.MaxScore {
		t.Errorf("health score %v out of range", p.Snapshot.HealthScore)
	}
	if got := testutil.ToFloat64(e.cycles); got != 1 {
		t.Errorf("cycles = %v, want 1", got)
	}
}

func TestZeroTopN(t *testing.T) {
	e, _ := newTestExporter(t)
	e.topN = 0
	p := e.Refresh(context.Background())
	if len(p.Snapshot.Processes) != 0 {
		t.Fatalf("got %d processes with topN 0", len(p.Snapshot.Processes))
	}
	if bytes.Contains(p.Body, []byte("cpu_process_")) {
		t.Error("process families rendered with topN 0")
	}
}

func TestRunRefreshesUntilCancelled(t *testing.T) {
	e, host := newTestExporter(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		host.mu.Lock()
		calls := host.calls
		host.mu.Unlock()
		if calls >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d refreshes before deadline", calls)
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestConcurrentReaders(t *testing.T) {
	e, _ := newTestExporter(t)
	e.Refresh(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.Run(ctx) }()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				body := e.Exposition()
				if !bytes.HasPrefix(body, []byte("# HELP cpu_load_1m")) {
					t.Errorf("torn or empty body: %q", body)
					return
				}
			}
		}()
	}
	wg.Wait()
}
