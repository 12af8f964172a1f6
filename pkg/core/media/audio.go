package media

import (
	"math"
	"sync"
)

// RMSEnergy computes the root-mean-square energy of PCM audio.
// Input is 16-bit signed little-endian PCM. Returns a value in [0.0, 1.0].
func RMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(samples))
}

// AudioBuffer accumulates PCM chunks up to a maximum duration, discarding
// the oldest data first when full. Used to absorb ingress audio during
// upstream reconnects (drop-oldest policy).
type AudioBuffer struct {
	mu       sync.Mutex
	data     []byte
	maxBytes int
}

// NewAudioBuffer creates a buffer holding up to maxDurationMS of 16 kHz
// mono PCM16 audio.
func NewAudioBuffer(maxDurationMS int) *AudioBuffer {
	maxBytes := BytesForDuration(maxDurationMS)
	return &AudioBuffer{
		data:     make([]byte, 0, maxBytes),
		maxBytes: maxBytes,
	}
}

// BytesForDuration converts a millisecond duration to a PCM16 mono byte
// count at the fixed 16 kHz rate.
func BytesForDuration(ms int) int {
	return SampleRate * 2 * ms / 1000
}

// DurationMS converts a PCM16 mono byte count back to milliseconds.
func DurationMS(nbytes int) int {
	return nbytes * 1000 / (SampleRate * 2)
}

// Write appends audio, trimming the oldest bytes when over capacity.
func (b *AudioBuffer) Write(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, data...)
	if len(b.data) > b.maxBytes {
		excess := len(b.data) - b.maxBytes
		b.data = b.data[excess:]
	}
}

// Drain returns all buffered audio and empties the buffer.
func (b *AudioBuffer) Drain() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, len(b.data))
	copy(out, b.data)
	b.data = b.data[:0]
	return out
}

// Len returns the current buffer size in bytes.
func (b *AudioBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// BufferedMS returns the current buffer duration in milliseconds.
func (b *AudioBuffer) BufferedMS() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return DurationMS(len(b.data))
}
