// Package exporter runs the refresh cycle: sample the host, processes
// and accelerators, score, format, and publish the rendered body for
// concurrent readers.
package exporter

import (
	"bytes"
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Dicklesworthstone/node_metrics_exporter/internal/accel"
	"github.com/Dicklesworthstone/node_metrics_exporter/internal/exposition"
	"github.com/Dicklesworthstone/node_metrics_exporter/internal/health"
	"github.com/Dicklesworthstone/node_metrics_exporter/internal/model"
	"github.com/Dicklesworthstone/node_metrics_exporter/internal/sampler"
)

const (
	DefaultInterval     = 2 * time.Second
	DefaultTopProcesses = 100
)

// Published is one completed refresh cycle. It is never mutated after
// it has been stored.
type Published struct {
	Body     []byte
	Snapshot model.Snapshot
	Duration time.Duration
}

// Options wires the collaborators of an Exporter.
type Options struct {
	Host     sampler.HostSampler
	Procs    *sampler.TopCollector
	Accel    accel.Source
	Scorer   health.Scorer
	TopN     int
	Interval time.Duration
	Logger   *zap.Logger
}

// Exporter owns the refresh loop and the latest published cycle.
type Exporter struct {
	host     sampler.HostSampler
	procs    *sampler.TopCollector
	accel    accel.Source
	scorer   health.Scorer
	topN     int
	interval time.Duration
	logger   *zap.Logger

	registry *prometheus.Registry
	cycles   prometheus.Counter
	duration prometheus.Histogram
	budget   prometheus.Counter

	latest atomic.Pointer[Published]
}

func New(opts Options) *Exporter {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Accel == nil {
		opts.Accel = accel.Noop{}
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.TopN < 0 {
		opts.TopN = 0
	}

	e := &Exporter{
		host:     opts.Host,
		procs:    opts.Procs,
		accel:    opts.Accel,
		scorer:   opts.Scorer,
		topN:     opts.TopN,
		interval: opts.Interval,
		logger:   opts.Logger.Named("exporter"),
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exporter_refresh_cycles_total",
			Help: "Completed refresh cycles.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "exporter_refresh_duration_seconds",
			Help:    "Wall time of one refresh cycle.",
			Buckets: []float64{.01, .025, .05, .1, .2, .3, .5, 1, 2},
		}),
		budget: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exporter_process_scan_budget_exhausted_total",
			Help: "Refresh cycles whose process scan stopped at the time budget.",
		}),
	}
	e.registry.MustRegister(e.cycles, e.duration, e.budget)
	return e
}

// Registry holds the exporter's own metrics. The HTTP layer registers
// its request counter here too.
func (e *Exporter) Registry() *prometheus.Registry { return e.registry }

// Interval is the refresh period.
func (e *Exporter) Interval() time.Duration { return e.interval }

// Refresh runs one full cycle and publishes it.
func (e *Exporter) Refresh(ctx context.Context) *Published {
	start := time.Now()

	var snap model.Snapshot
	snap.Timestamp = start
	if e.host != nil {
		snap.Host = e.host.Sample(ctx)
	}
	if e.procs != nil && e.topN > 0 {
		res := e.procs.Collect(ctx, e.topN)
		snap.Processes = res.Processes
		if res.BudgetExhausted {
			e.budget.Inc()
			e.logger.Debug("process scan budget exhausted",
				zap.Int("scanned", res.Scanned), zap.Int("kept", len(res.Processes)))
		}
	}
	snap.Accelerators = e.accel.Sample(ctx)
	snap.HealthScore = e.scorer.Score(snap.Host)

	body := exposition.Format(snap.Host, snap.HealthScore, snap.Processes, snap.Accelerators)

	elapsed := time.Since(start)
	e.cycles.Inc()
	e.duration.Observe(elapsed.Seconds())

	buf := bytes.NewBuffer(body)
	if err := exposition.AppendFamilies(buf, e.registry); err != nil {
		e.logger.Warn("failed to render self metrics", zap.Error(err))
		buf.Truncate(len(body))
	}

	p := &Published{Body: buf.Bytes(), Snapshot: snap, Duration: elapsed}
	e.latest.Store(p)
	e.logger.Debug("refreshed",
		zap.Duration("took", elapsed),
		zap.Int("processes", len(snap.Processes)),
		zap.Int("accelerators", len(snap.Accelerators)),
		zap.Float64("health", snap.HealthScore))
	return p
}

// Run refreshes every interval until ctx is done.
func (e *Exporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.Refresh(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// Latest returns the most recent cycle, or nil before the first one.
func (e *Exporter) Latest() *Published { return e.latest.Load() }

// Exposition returns the most recent body. Before the first cycle it
// renders an all-zero snapshot, so readers never see an empty response.
func (e *Exporter) Exposition() []byte {
	if p := e.latest.Load(); p != nil {
		return p.Body
	}
	z := model.Zero()
	return exposition.Format(z.Host, z.HealthScore, nil, nil)
}
