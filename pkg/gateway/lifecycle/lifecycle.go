package lifecycle

import (
	"sync/atomic"
	"time"
)

// Lifecycle is a tiny process lifecycle state holder shared across
// handlers: readiness draining during graceful shutdown plus process
// uptime for health reporting.
type Lifecycle struct {
	draining  atomic.Bool
	startedAt time.Time
}

func New() *Lifecycle {
	return &Lifecycle{startedAt: time.Now()}
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}

func (l *Lifecycle) Uptime() time.Duration {
	if l == nil || l.startedAt.IsZero() {
		return 0
	}
	return time.Since(l.startedAt)
}
