// Package cpuload implements an advisory CPU-usage gauge that stage
// workers may consult between heavy steps, per spec §5's "CPU throttle
// (auxiliary): an advisory shared gauge ... not a correctness mechanism."
// It samples goroutine scheduling latency as a cheap, dependency-free
// proxy for CPU pressure rather than shelling out to an OS-specific
// sampler.
package cpuload

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"
)

// Gauge tracks a recent CPU-pressure estimate in the range [0, 100].
// WaitIfNeeded lets a caller cooperatively back off when the process is
// already saturated; none of the stage workers in this module call it.
// The zero value is a gauge with throttling disabled; construct with New
// to set a limit.
type Gauge struct {
	percent atomic.Int64
	limit   int64
}

// New constructs a Gauge with the given throttle limit (0-100): once the
// sampled load meets or exceeds limit, WaitIfNeeded pauses briefly before
// returning. A limit of 0 disables throttling (WaitIfNeeded never waits).
func New(limit int) *Gauge {
	if limit < 0 {
		limit = 0
	}
	if limit > 100 {
		limit = 100
	}
	return &Gauge{limit: int64(limit)}
}

// Run samples scheduling latency every interval until ctx is cancelled,
// updating the gauge. A goroutine that asks to be woken after a short
// sleep and measures the overshoot approximates how saturated the Go
// scheduler (and by extension the CPU) currently is — no /proc reads, no
// cgo, works identically on every platform the toolchain targets.
func (g *Gauge) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	const sampleSleep = 20 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sample(sampleSleep)
		}
	}
}

func (g *Gauge) sample(sleep time.Duration) {
	start := time.Now()
	runtime.Gosched()
	time.Sleep(sleep)
	overshoot := time.Since(start) - sleep
	pct := int64(overshoot * 100 / sleep)
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	g.percent.Store(pct)
}

// Percent reports the last sampled load estimate.
func (g *Gauge) Percent() int {
	return int(g.percent.Load())
}

// WaitIfNeeded pauses briefly if the gauge's last sample met or exceeded
// the configured limit, and returns immediately otherwise. Never a
// correctness mechanism: callers must not rely on it for back-pressure,
// only for being a better citizen of shared CPU.
func (g *Gauge) WaitIfNeeded(ctx context.Context) {
	if g.limit == 0 || g.percent.Load() < g.limit {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(50 * time.Millisecond):
	}
}
