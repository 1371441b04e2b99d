package sampler

import (
	"context"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/Dicklesworthstone/node_metrics_exporter/internal/model"
)

// DefaultProcessBudget bounds one process table walk so a huge or slow
// table cannot stall the refresh cadence.
const DefaultProcessBudget = 200 * time.Millisecond

// ProcessTable enumerates live processes. Read returns an error for a
// process that vanished or cannot be inspected; the collector skips it.
type ProcessTable interface {
	Pids(ctx context.Context) ([]int32, error)
	Read(ctx context.Context, pid int32) (model.ProcessSample, error)
}

// TopResult is one walk of the process table.
type TopResult struct {
	Processes       []model.ProcessSample
	Scanned         int
	BudgetExhausted bool
}

// TopCollector ranks processes by cumulative CPU time.
type TopCollector struct {
	Table  ProcessTable
	Budget time.Duration

	now    func() time.Time
	logger *zap.Logger
}

// NewTopCollector walks the OS process table through gopsutil.
func NewTopCollector(logger *zap.Logger) *TopCollector {
	return &TopCollector{
		Table:  psutilTable{},
		Budget: DefaultProcessBudget,
		now:    time.Now,
		logger: logger.Named("procs"),
	}
}

// CollectTop returns at most maxCount processes, highest CPU time first.
func (c *TopCollector) CollectTop(ctx context.Context, maxCount int) []model.ProcessSample {
	return c.Collect(ctx, maxCount).Processes
}

// Collect walks the table until it is exhausted or the budget runs out,
// then ranks and truncates what it gathered.
func (c *TopCollector) Collect(ctx context.Context, maxCount int) TopResult {
	var res TopResult
	if maxCount <= 0 {
		return res
	}
	now := c.now
	if now == nil {
		now = time.Now
	}
	logger := c.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	budget := c.Budget
	if budget <= 0 {
		budget = DefaultProcessBudget
	}
	deadline := now().Add(budget)
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	pids, err := c.Table.Pids(ctx)
	if err != nil {
		logger.Warn("process enumeration failed", zap.Error(err))
		return res
	}

	procs := make([]model.ProcessSample, 0, len(pids))
	for _, pid := range pids {
		if now().After(deadline) || ctx.Err() != nil {
			res.BudgetExhausted = true
			break
		}
		if pid <= 0 {
			continue
		}
		res.Scanned++
		p, err := c.Table.Read(ctx, pid)
		if err != nil {
			continue
		}
		procs = append(procs, p)
	}
	if res.BudgetExhausted {
		logger.Debug("process scan budget exhausted",
			zap.Int("scanned", res.Scanned), zap.Int("total", len(pids)), zap.Duration("budget", budget))
	}

	res.Processes = rankTop(procs, maxCount)
	return res
}

// rankTop sorts descending by CPU time, keeping enumeration order for
// ties, and truncates to maxCount.
func rankTop(procs []model.ProcessSample, maxCount int) []model.ProcessSample {
	sort.SliceStable(procs, func(i, j int) bool { return procs[i].CPUTimeSeconds > procs[j].CPUTimeSeconds })
	if len(procs) > maxCount {
		procs = procs[:maxCount]
	}
	return procs
}

// psutilTable reads processes through gopsutil, which converts clock
// ticks to seconds with the platform's tick rate.
type psutilTable struct{}

func (psutilTable) Pids(ctx context.Context) ([]int32, error) {
	return process.PidsWithContext(ctx)
}

func (psutilTable) Read(ctx context.Context, pid int32) (model.ProcessSample, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return model.ProcessSample{}, err
	}
	name, err := p.NameWithContext(ctx)
	if err != nil {
		return model.ProcessSample{}, err
	}
	times, err := p.TimesWithContext(ctx)
	if err != nil {
		return model.ProcessSample{}, err
	}
	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return model.ProcessSample{}, err
	}
	return model.ProcessSample{
		PID:            int(pid),
		Name:           name,
		CPUTimeSeconds: times.User + times.System,
		RSSBytes:       mem.RSS,
	}, nil
}
