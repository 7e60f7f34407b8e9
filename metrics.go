package credkit

import "sync/atomic"

// Metrics counts security-relevant engine events. Counters are plain
// monotonic atomics; callers scrape them into whatever metrics system they
// run via Snapshot.
type Metrics struct {
	logins          atomic.Uint64
	refreshes       atomic.Uint64
	reuseDetections atomic.Uint64
	stepUpsStarted  atomic.Uint64
	stepUpsPassed   atomic.Uint64
	lockouts        atomic.Uint64
	resetsCompleted atomic.Uint64
	linksCreated    atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	Logins          uint64
	Refreshes       uint64
	ReuseDetections uint64
	StepUpsStarted  uint64
	StepUpsPassed   uint64
	Lockouts        uint64
	ResetsCompleted uint64
	LinksCreated    uint64
}

// Metrics exposes the engine's counters.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Logins:          m.logins.Load(),
		Refreshes:       m.refreshes.Load(),
		ReuseDetections: m.reuseDetections.Load(),
		StepUpsStarted:  m.stepUpsStarted.Load(),
		StepUpsPassed:   m.stepUpsPassed.Load(),
		Lockouts:        m.lockouts.Load(),
		ResetsCompleted: m.resetsCompleted.Load(),
		LinksCreated:    m.linksCreated.Load(),
	}
}
