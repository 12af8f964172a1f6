package media

import (
	"encoding/binary"
	"time"
)

// ResamplePCM16 converts mono PCM16 from one sample rate to another using
// linear interpolation. The browser may negotiate any audio clock; the
// upstream contract is fixed at 16 kHz mono.
func ResamplePCM16(pcm []byte, fromRate, toRate int) []byte {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 {
		out := make([]byte, len(pcm))
		copy(out, pcm)
		return out
	}

	inSamples := len(pcm) / 2
	if inSamples == 0 {
		return nil
	}
	outSamples := inSamples * toRate / fromRate
	if outSamples == 0 {
		return nil
	}

	out := make([]byte, outSamples*2)
	ratio := float64(inSamples-1) / float64(outSamples)
	for i := 0; i < outSamples; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := int16(binary.LittleEndian.Uint16(pcm[idx*2:]))
		s1 := s0
		if idx+1 < inSamples {
			s1 = int16(binary.LittleEndian.Uint16(pcm[(idx+1)*2:]))
		}
		sample := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sample))
	}
	return out
}

// Chunker reframes an arbitrary PCM16 stream into fixed 20 ms AudioChunks
// at 16 kHz mono. Partial tails are held until the next write.
type Chunker struct {
	seq     SeqCounter
	pending []byte
}

// Push appends PCM and returns every complete 20 ms chunk now available.
// Chunk sequence ids are monotonic for the lifetime of the Chunker.
func (c *Chunker) Push(pcm []byte, capturedAt time.Time) []AudioChunk {
	c.pending = append(c.pending, pcm...)

	var out []AudioChunk
	for len(c.pending) >= ChunkBytes {
		chunk := make([]byte, ChunkBytes)
		copy(chunk, c.pending[:ChunkBytes])
		c.pending = c.pending[ChunkBytes:]
		out = append(out, AudioChunk{
			Seq:        c.seq.Next(),
			CapturedAt: capturedAt,
			PCM:        chunk,
		})
	}
	return out
}

// PendingBytes reports how much of a partial chunk is held back.
func (c *Chunker) PendingBytes() int {
	return len(c.pending)
}

// Silence returns a zeroed 20 ms PCM16 chunk, used to keep the egress
// track at frame cadence when no upstream audio is available.
func Silence() []byte {
	return make([]byte, ChunkBytes)
}
