// Package ratelimit provides the process-wide per-source limiter used on
// the privacy and spatial endpoints.
package ratelimit

import (
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

type Config struct {
	// RPM is the sustained request budget per source per minute.
	RPM int
	// Burst above the refill rate; defaults to RPM when zero.
	Burst int

	// MaxConcurrentRequests bounds in-flight requests per source.
	MaxConcurrentRequests int

	// Operational bounds for the in-memory map (single-process only).
	MaxEntries int
	EntryTTL   time.Duration
}

type Limiter struct {
	cfg Config

	mu sync.Mutex
	m  map[string]*sourceLimiter
}

type sourceLimiter struct {
	mu sync.Mutex

	tb tokenBucket

	reqSem chan struct{}

	// lastSeen is unix nanos; written by every Acquire and read by the
	// GC sweep, so it stays atomic rather than sharing either mutex.
	lastSeen atomic.Int64
}

type tokenBucket struct {
	perSecond float64
	capacity  float64

	tokens float64
	last   time.Time
}

func New(cfg Config) *Limiter {
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RPM
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	return &Limiter{
		cfg: cfg,
		m:   make(map[string]*sourceLimiter),
	}
}

// SourceKey reduces a remote address to its host so all ports from one
// client share a budget.
func SourceKey(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		return remoteAddr
	}
	return host
}

type Permit struct {
	release func()
}

func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.release()
	p.release = nil
}

type Decision struct {
	Allowed      bool
	RetryAfterMS int
	Permit       *Permit
}

// Acquire charges one request against the source's budget.
func (l *Limiter) Acquire(source string, now time.Time) Decision {
	if source == "" {
		source = "unknown"
	}

	sl := l.getOrCreate(source, now)
	sl.touch(now)

	if l.cfg.RPM > 0 {
		ok, retryAfterMS := sl.allowToken(now, float64(l.cfg.RPM)/60.0, l.cfg.Burst)
		if !ok {
			return Decision{Allowed: false, RetryAfterMS: retryAfterMS}
		}
	}

	if l.cfg.MaxConcurrentRequests > 0 {
		select {
		case sl.reqSem <- struct{}{}:
			return Decision{
				Allowed: true,
				Permit:  &Permit{release: func() { <-sl.reqSem }},
			}
		default:
			return Decision{Allowed: false, RetryAfterMS: 1000}
		}
	}

	return Decision{Allowed: true, Permit: &Permit{release: func() {}}}
}

func (l *Limiter) getOrCreate(source string, now time.Time) *sourceLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.m) >= l.cfg.MaxEntries {
		l.gcLocked(now)
		// If still too big, drop one arbitrary entry (bounded memory > perfect fairness).
		if len(l.m) >= l.cfg.MaxEntries {
			for k := range l.m {
				delete(l.m, k)
				break
			}
		}
	}

	if sl, ok := l.m[source]; ok {
		return sl
	}
	sl := &sourceLimiter{
		reqSem: make(chan struct{}, maxInt(1, l.cfg.MaxConcurrentRequests)),
	}
	sl.lastSeen.Store(now.UnixNano())
	l.m[source] = sl
	return sl
}

func (l *Limiter) gcLocked(now time.Time) {
	ttl := l.cfg.EntryTTL
	for k, v := range l.m {
		if now.Sub(time.Unix(0, v.lastSeen.Load())) > ttl {
			delete(l.m, k)
		}
	}
}

func (sl *sourceLimiter) touch(now time.Time) {
	sl.lastSeen.Store(now.UnixNano())
}

func (sl *sourceLimiter) allowToken(now time.Time, perSecond float64, burst int) (bool, int) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if burst <= 0 || perSecond <= 0 {
		return true, 0
	}
	capacity := float64(burst)
	if sl.tb.capacity == 0 {
		sl.tb = tokenBucket{
			perSecond: perSecond,
			capacity:  capacity,
			tokens:    capacity,
			last:      now,
		}
	}

	// If config changes at runtime (rare), adapt.
	sl.tb.perSecond = perSecond
	sl.tb.capacity = capacity

	elapsed := now.Sub(sl.tb.last).Seconds()
	if elapsed > 0 {
		sl.tb.tokens = math.Min(sl.tb.capacity, sl.tb.tokens+(elapsed*sl.tb.perSecond))
		sl.tb.last = now
	}

	if sl.tb.tokens >= 1.0 {
		sl.tb.tokens -= 1.0
		return true, 0
	}

	needed := 1.0 - sl.tb.tokens
	seconds := needed / sl.tb.perSecond
	retryAfterMS := int(math.Ceil(seconds * 1000))
	if retryAfterMS < 1 {
		retryAfterMS = 1
	}
	return false, retryAfterMS
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
