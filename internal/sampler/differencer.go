package sampler

import "sync"

// Differencer turns cumulative CPU tick counters into a utilization
// ratio by comparing each reading with the previous one. A single
// instance lives as long as the sampler that owns it.
type Differencer struct {
	mu        sync.Mutex
	prevTotal uint64
	prevIdle  uint64
	primed    bool
}

// Update records (total, idle) and returns the busy ratio since the
// previous call, in [0, 1]. The first call, a counter that went
// backwards, or an idle delta larger than the total delta all yield 0;
// the current reading is stored either way.
func (d *Differencer) Update(total, idle uint64) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	prevTotal, prevIdle, primed := d.prevTotal, d.prevIdle, d.primed
	d.prevTotal, d.prevIdle, d.primed = total, idle, true

	if !primed || total <= prevTotal || idle < prevIdle {
		return 0
	}
	dt := total - prevTotal
	di := idle - prevIdle
	if di > dt {
		return 0
	}
	return clamp01(float64(dt-di) / float64(dt))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
