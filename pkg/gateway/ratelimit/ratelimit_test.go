package ratelimit

import (
	"sync"
	"testing"
	"time"
)

func TestAcquire_NPlusOneWithinMinuteDenied(t *testing.T) {
	l := New(Config{RPM: 10, Burst: 10})
	now := time.Now()

	for i := 0; i < 10; i++ {
		dec := l.Acquire("203.0.113.7", now)
		if !dec.Allowed {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
	}

	dec := l.Acquire("203.0.113.7", now)
	if dec.Allowed {
		t.Fatal("11th request within the minute should be denied")
	}
	if dec.RetryAfterMS <= 0 {
		t.Fatalf("RetryAfterMS=%d, want > 0", dec.RetryAfterMS)
	}
}

func TestAcquire_RefillsOverTime(t *testing.T) {
	l := New(Config{RPM: 60, Burst: 1})
	now := time.Now()

	if dec := l.Acquire("s", now); !dec.Allowed {
		t.Fatal("first request should pass")
	}
	if dec := l.Acquire("s", now); dec.Allowed {
		t.Fatal("second immediate request should be denied")
	}
	// 60 RPM refills one token per second.
	if dec := l.Acquire("s", now.Add(1100*time.Millisecond)); !dec.Allowed {
		t.Fatal("request after refill should pass")
	}
}

func TestAcquire_SourcesAreIndependent(t *testing.T) {
	l := New(Config{RPM: 1, Burst: 1})
	now := time.Now()

	if dec := l.Acquire("a", now); !dec.Allowed {
		t.Fatal("source a should pass")
	}
	if dec := l.Acquire("b", now); !dec.Allowed {
		t.Fatal("source b has its own budget")
	}
}

func TestAcquire_ConcurrencyCap(t *testing.T) {
	l := New(Config{RPM: 100, Burst: 100, MaxConcurrentRequests: 1})
	now := time.Now()

	first := l.Acquire("s", now)
	if !first.Allowed || first.Permit == nil {
		t.Fatalf("first allowed=%v permit=%v", first.Allowed, first.Permit)
	}
	if dec := l.Acquire("s", now); dec.Allowed {
		t.Fatal("second in-flight request should be denied")
	}
	first.Permit.Release()
	if dec := l.Acquire("s", now); !dec.Allowed {
		t.Fatal("request after release should be allowed")
	}
}

func TestSourceKey_StripsPort(t *testing.T) {
	if got := SourceKey("198.51.100.4:61234"); got != "198.51.100.4" {
		t.Fatalf("SourceKey=%q", got)
	}
	if got := SourceKey("[2001:db8::1]:443"); got != "2001:db8::1" {
		t.Fatalf("SourceKey=%q", got)
	}
	if got := SourceKey("no-port"); got != "no-port" {
		t.Fatalf("SourceKey=%q", got)
	}
}

func TestAcquire_ConcurrentSameSource(t *testing.T) {
	l := New(Config{RPM: 100000, Burst: 100000, MaxEntries: 1, EntryTTL: time.Nanosecond})
	now := time.Now()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				// MaxEntries 1 with a nanosecond TTL forces the GC
				// sweep to read lastSeen while other goroutines write
				// it.
				dec := l.Acquire("1.2.3.4", now.Add(time.Duration(i)))
				dec.Permit.Release()
				l.Acquire("other", now.Add(time.Duration(i))).Permit.Release()
			}
		}()
	}
	wg.Wait()
}
