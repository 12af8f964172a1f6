// Package media holds the value types and stages of the per-session media
// pipeline: decoded frames, PCM audio, sampling, and image normalization.
package media

import (
	"sync/atomic"
	"time"
)

// TrackKind distinguishes ingress track payloads.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// Frame is an immutable unit flowing out of the codec stage. Exactly one of
// Image or PCM is set, matching Kind. Frames move by handoff between stages;
// the receiving stage owns the payload.
type Frame struct {
	Seq       uint64
	Kind      TrackKind
	TrackID   string
	CaptureTS time.Time

	// Image is a JPEG-encoded video frame (Kind == TrackVideo).
	Image []byte
	// PCM is 16 kHz mono PCM16 audio (Kind == TrackAudio).
	PCM []byte
}

// StillFrame is a video Frame selected by the sampler for downstream
// privacy classification and upstream forwarding.
type StillFrame struct {
	Seq        uint64
	TrackID    string
	CapturedAt time.Time
	JPEG       []byte
}

// AudioChunk is a 20 ms framing of 16 kHz mono PCM16.
type AudioChunk struct {
	Seq        uint64
	CapturedAt time.Time
	PCM        []byte
}

// SampleRate is the fixed ingest/upstream audio rate in Hz.
const SampleRate = 16000

// ChunkDuration is the fixed audio framing.
const ChunkDuration = 20 * time.Millisecond

// ChunkBytes is the byte size of one AudioChunk (PCM16 mono).
const ChunkBytes = SampleRate / 50 * 2

// SeqCounter issues monotonic per-track sequence ids.
type SeqCounter struct {
	n atomic.Uint64
}

// Next returns the next sequence id, starting at 1.
func (c *SeqCounter) Next() uint64 {
	return c.n.Add(1)
}

// Current returns the last issued id (0 before the first Next).
func (c *SeqCounter) Current() uint64 {
	return c.n.Load()
}
