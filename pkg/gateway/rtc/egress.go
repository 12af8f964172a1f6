package rtc

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hraban/opus"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/atelierlive/atelier/pkg/core"
	"github.com/atelierlive/atelier/pkg/core/media"
)

// maxOpusPacketBytes bounds one encoded opus packet.
const maxOpusPacketBytes = 1275

// maxEgressBufferBytes caps queued PCM at two seconds; beyond that the
// oldest audio is discarded.
const maxEgressBufferBytes = media.ChunkBytes * 100

type sampleWriter interface {
	WriteSample(pionmedia.Sample) error
}

// egress paces upstream PCM onto the client audio track. One opus frame
// goes out every 20 ms; silence fills the gaps so the track never stalls.
type egress struct {
	track  sampleWriter
	enc    *opus.Encoder
	logger *slog.Logger

	mu      sync.Mutex
	pending []byte
}

func newEgress(track sampleWriter, logger *slog.Logger) (*egress, error) {
	enc, err := opus.NewEncoder(media.SampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, core.NewInternalError("failed to init audio encoder")
	}
	return &egress{track: track, enc: enc, logger: logger}, nil
}

// Write queues PCM16 for playout, dropping oldest on overflow.
func (e *egress) Write(pcm []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = append(e.pending, pcm...)
	if over := len(e.pending) - maxEgressBufferBytes; over > 0 {
		e.pending = e.pending[over:]
		e.logger.Warn("egress buffer overflow, dropped oldest audio", "bytes", over)
	}
}

// Flush discards everything queued but not yet played.
func (e *egress) Flush() {
	e.mu.Lock()
	e.pending = nil
	e.mu.Unlock()
}

// nextChunk pops one 20 ms chunk, padding a short tail with silence.
func (e *egress) nextChunk() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pending) == 0 {
		return media.Silence()
	}
	chunk := make([]byte, media.ChunkBytes)
	n := copy(chunk, e.pending)
	e.pending = e.pending[n:]
	return chunk
}

// Run encodes and writes one sample per frame interval until ctx ends.
func (e *egress) Run(ctx context.Context) {
	ticker := time.NewTicker(media.ChunkDuration)
	defer ticker.Stop()

	buf := make([]byte, maxOpusPacketBytes)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := e.enc.Encode(pcm16ToSamples(e.nextChunk()), buf)
			if err != nil {
				e.logger.Debug("opus encode failed", "error", err)
				continue
			}
			sample := pionmedia.Sample{
				Data:     append([]byte(nil), buf[:n]...),
				Duration: media.ChunkDuration,
			}
			if err := e.track.WriteSample(sample); err != nil {
				e.logger.Debug("egress write failed", "error", err)
			}
		}
	}
}
