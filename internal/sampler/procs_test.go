package sampler

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/Dicklesworthstone/node_metrics_exporter/internal/model"
)

type fakeTable struct {
	procs   map[int32]model.ProcessSample
	order   []int32
	pidsErr error
	onRead  func()
}

func (f *fakeTable) Pids(context.Context) ([]int32, error) {
	if f.pidsErr != nil {
		return nil, f.pidsErr
	}
	return f.order, nil
}

func (f *fakeTable) Read(_ context.Context, pid int32) (model.ProcessSample, error) {
	if f.onRead != nil {
		f.onRead()
	}
	p, ok := f.procs[pid]
	if !ok {
		return model.ProcessSample{}, errors.New("process vanished")
	}
	return p, nil
}

func newFakeTable(samples ...model.ProcessSample) *fakeTable {
	f := &fakeTable{procs: make(map[int32]model.ProcessSample)}
	for _, s := range samples {
		f.procs[int32(s.PID)] = s
		f.order = append(f.order, int32(s.PID))
	}
	return f
}

func newTestCollector(t *testing.T, table ProcessTable) *TopCollector {
	return &TopCollector{Table: table, Budget: DefaultProcessBudget, now: time.Now, logger: zaptest.NewLogger(t)}
}

func TestCollectTopSortsAndTruncates(t *testing.T) {
	table := newFakeTable(
		model.ProcessSample{PID: 1, Name: "init", CPUTimeSeconds: 5},
		model.ProcessSample{PID: 2, Name: "db", CPUTimeSeconds: 50},
		model.ProcessSample{PID: 3, Name: "web", CPUTimeSeconds: 20},
		model.ProcessSample{PID: 4, Name: "cron", CPUTimeSeconds: 0.5},
	)
	c := newTestCollector(t, table)

	got := c.CollectTop(context.Background(), 3)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	wantPIDs := []int{2, 3, 1}
	for i, p := range got {
		if p.PID != wantPIDs[i] {
			t.Errorf("got[%d].PID = %d, want %d", i, p.PID, wantPIDs[i])
		}
		if i > 0 && got[i-1].CPUTimeSeconds < p.CPUTimeSeconds {
			t.Errorf("not sorted descending at %d", i)
		}
	}
}

func TestCollectTopStableTies(t *testing.T) {
	table := newFakeTable(
		model.ProcessSample{PID: 10, CPUTimeSeconds: 1},
		model.ProcessSample{PID: 11, CPUTimeSeconds: 1},
		model.ProcessSample{PID: 12, CPUTimeSeconds: 1},
	)
	got := newTestCollector(t, table).CollectTop(context.Background(), 10)
	for i, want := range []int{10, 11, 12} {
		if got[i].PID != want {
			t.Fatalf("got[%d].PID = %d, want %d", i, got[i].PID, want)
		}
	}
}

func TestCollectTopSkipsVanishedProcesses(t *testing.T) {
	table := newFakeTable(
		model.ProcessSample{PID: 1, CPUTimeSeconds: 1},
		model.ProcessSample{PID: 2, CPUTimeSeconds: 2},
	)
	table.order = []int32{1, 99, 2, 0, -3}
	got := newTestCollector(t, table).CollectTop(context.Background(), 10)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
}

func TestCollectTopEnumerationFailure(t *testing.T) {
	table := &fakeTable{pidsErr: errors.New("permission denied")}
	if got := newTestCollector(t, table).CollectTop(context.Background(), 10); len(got) != 0 {
		t.Fatalf("expected empty result, got %d entries", len(got))
	}
}

func TestCollectTopZeroMax(t *testing.T) {
	table := newFakeTable(model.ProcessSample{PID: 1, CPUTimeSeconds: 1})
	if got := newTestCollector(t, table).CollectTop(context.Background(), 0); len(got) != 0 {
		t.Fatalf("expected empty result, got %d entries", len(got))
	}
}

func TestCollectStopsAtBudget(t *testing.T) {
	var samples []model.ProcessSample
	for pid := 1; pid <= 10; pid++ {
		samples = append(samples, model.ProcessSample{PID: pid, CPUTimeSeconds: float64(pid)})
	}
	table := newFakeTable(samples...)

	// Each read costs 60ms of fake time against a 200ms budget.
	current := time.Unix(1700000000, 0)
	table.onRead = func() { current = current.Add(60 * time.Millisecond) }
	c := newTestCollector(t, table)
	c.now = func() time.Time { return current }

	res := c.Collect(context.Background(), 100)
	if !res.BudgetExhausted {
		t.Fatal("expected budget exhaustion")
	}
	if res.Scanned != 4 {
		t.Errorf("Scanned = %d, want 4", res.Scanned)
	}
	if len(res.Processes) != 4 {
		t.Errorf("len(Processes) = %d, want 4", len(res.Processes))
	}
	if res.Processes[0].PID != 4 {
		t.Errorf("top PID = %d, want 4", res.Processes[0].PID)
	}
}
