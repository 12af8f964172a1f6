package media

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingMetrics struct {
	sampled atomic.Int64
	dropped atomic.Int64
}

func (m *countingMetrics) StillSampled() { m.sampled.Add(1) }
func (m *countingMetrics) StillDropped() { m.dropped.Add(1) }

func videoFrame(seq uint64, payload byte) Frame {
	return Frame{
		Seq:       seq,
		Kind:      TrackVideo,
		TrackID:   "video-0",
		CaptureTS: time.Now(),
		Image:     []byte{payload},
	}
}

func TestSampler_OnePerInterval(t *testing.T) {
	m := &countingMetrics{}
	s := NewSampler(20*time.Millisecond, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// Two frames inside the same interval: only the newest must come out.
	s.Offer(videoFrame(1, 0xA))
	s.Offer(videoFrame(2, 0xB))

	select {
	case still := <-s.Stills():
		if still.Seq != 2 {
			t.Fatalf("seq=%d, want 2 (newest wins)", still.Seq)
		}
		if still.JPEG[0] != 0xB {
			t.Fatalf("payload=%x, want 0xB", still.JPEG[0])
		}
	case <-time.After(time.Second):
		t.Fatal("no still emitted")
	}
}

func TestSampler_IgnoresNonVideoAndStaleSeq(t *testing.T) {
	s := NewSampler(10*time.Millisecond, nil)

	s.Offer(Frame{Seq: 5, Kind: TrackAudio, PCM: []byte{1}})
	s.Offer(videoFrame(7, 0x1))
	s.Offer(videoFrame(6, 0x2)) // stale, must not replace seq 7

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	select {
	case still := <-s.Stills():
		if still.Seq != 7 {
			t.Fatalf("seq=%d, want 7", still.Seq)
		}
	case <-time.After(time.Second):
		t.Fatal("no still emitted")
	}
}

func TestSampler_NewestWinsWhenDownstreamBusy(t *testing.T) {
	m := &countingMetrics{}
	s := NewSampler(10*time.Millisecond, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// Never consume; keep offering fresh frames so ticks keep replacing
	// the unconsumed still.
	for seq := uint64(1); seq <= 6; seq++ {
		s.Offer(videoFrame(seq, byte(seq)))
		time.Sleep(15 * time.Millisecond)
	}

	if m.dropped.Load() == 0 {
		t.Fatal("expected drops while downstream is busy")
	}

	// The still available now must be one of the later frames.
	select {
	case still := <-s.Stills():
		if still.Seq < 2 {
			t.Fatalf("seq=%d, expected a newer frame after drops", still.Seq)
		}
	case <-time.After(time.Second):
		t.Fatal("no still available")
	}
}

func TestSampler_ClosesOutputOnCancel(t *testing.T) {
	s := NewSampler(10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if _, ok := <-s.Stills(); ok {
		t.Fatal("stills channel not closed")
	}
}
