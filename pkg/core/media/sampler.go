package media

import (
	"context"
	"sync"
	"time"
)

// SamplerMetrics receives drop/emit counts from a Sampler. Implementations
// must be safe for concurrent use.
type SamplerMetrics interface {
	StillSampled()
	StillDropped()
}

type nopSamplerMetrics struct{}

func (nopSamplerMetrics) StillSampled() {}
func (nopSamplerMetrics) StillDropped() {}

// Sampler decouples the ingest cadence of a video track from the upstream
// cadence: at most one StillFrame per sampling interval, newest-wins.
//
// Video frames are offered as they are decoded; on every tick the most
// recently offered frame is emitted. If the downstream stage has not
// consumed the previous still by the next tick, the older still is
// replaced (dropped and counted) rather than queued.
type Sampler struct {
	interval time.Duration
	metrics  SamplerMetrics

	mu      sync.Mutex
	latest  *StillFrame
	lastSeq uint64

	out chan StillFrame
}

// NewSampler creates a sampler emitting at most one still per interval.
func NewSampler(interval time.Duration, metrics SamplerMetrics) *Sampler {
	if interval <= 0 {
		interval = time.Second
	}
	if metrics == nil {
		metrics = nopSamplerMetrics{}
	}
	return &Sampler{
		interval: interval,
		metrics:  metrics,
		out:      make(chan StillFrame, 1),
	}
}

// Offer records a decoded video frame as the sampling candidate. Frames
// offered between ticks overwrite each other; only the newest survives.
func (s *Sampler) Offer(frame Frame) {
	if frame.Kind != TrackVideo || len(frame.Image) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Seq ids are monotonic per track; ignore any out-of-order offer.
	if frame.Seq <= s.lastSeq {
		return
	}
	s.lastSeq = frame.Seq
	s.latest = &StillFrame{
		Seq:        frame.Seq,
		TrackID:    frame.TrackID,
		CapturedAt: frame.CaptureTS,
		JPEG:       frame.Image,
	}
}

// Stills yields the sampled frames. The channel is closed when Run returns.
func (s *Sampler) Stills() <-chan StillFrame {
	return s.out
}

// Run emits stills at the sampling cadence until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	defer close(s.out)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.emit()
		}
	}
}

func (s *Sampler) emit() {
	s.mu.Lock()
	still := s.latest
	s.latest = nil
	s.mu.Unlock()

	if still == nil {
		return
	}

	select {
	case s.out <- *still:
		s.metrics.StillSampled()
	default:
		// Downstream is still busy with the previous still: replace it.
		select {
		case <-s.out:
			s.metrics.StillDropped()
		default:
		}
		select {
		case s.out <- *still:
			s.metrics.StillSampled()
		default:
			s.metrics.StillDropped()
		}
	}
}
