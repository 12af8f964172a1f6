package media

import (
	"testing"
	"time"
)

func TestResamplePCM16_SameRateCopies(t *testing.T) {
	in := pcmFromSamples([]int16{1, 2, 3, 4})
	out := ResamplePCM16(in, 16000, 16000)
	if len(out) != len(in) {
		t.Fatalf("len=%d, want %d", len(out), len(in))
	}
	out[0] = 0xFF
	if in[0] == 0xFF {
		t.Fatalf("output aliases input")
	}
}

func TestResamplePCM16_Downsample(t *testing.T) {
	// 480 samples at 48 kHz (10 ms) should become 160 samples at 16 kHz.
	in := make([]int16, 480)
	for i := range in {
		in[i] = int16(i)
	}
	out := ResamplePCM16(pcmFromSamples(in), 48000, 16000)
	if got := len(out) / 2; got != 160 {
		t.Fatalf("output samples=%d, want 160", got)
	}
}

func TestChunker_Reframes20MS(t *testing.T) {
	var c Chunker
	now := time.Now()

	// 30 ms of audio: one complete chunk plus a 10 ms tail.
	chunks := c.Push(make([]byte, BytesForDuration(30)), now)
	if len(chunks) != 1 {
		t.Fatalf("chunks=%d, want 1", len(chunks))
	}
	if len(chunks[0].PCM) != ChunkBytes {
		t.Fatalf("chunk size=%d, want %d", len(chunks[0].PCM), ChunkBytes)
	}
	if c.PendingBytes() != BytesForDuration(10) {
		t.Fatalf("pending=%d, want %d", c.PendingBytes(), BytesForDuration(10))
	}

	// Another 10 ms completes the second chunk.
	chunks = c.Push(make([]byte, BytesForDuration(10)), now)
	if len(chunks) != 1 {
		t.Fatalf("chunks=%d, want 1", len(chunks))
	}
	if chunks[0].Seq != 2 {
		t.Fatalf("seq=%d, want 2", chunks[0].Seq)
	}
}

func TestChunker_SequenceMonotonic(t *testing.T) {
	var c Chunker
	chunks := c.Push(make([]byte, ChunkBytes*3), time.Now())
	if len(chunks) != 3 {
		t.Fatalf("chunks=%d, want 3", len(chunks))
	}
	for i, ch := range chunks {
		if ch.Seq != uint64(i+1) {
			t.Fatalf("chunk %d seq=%d", i, ch.Seq)
		}
	}
}

func TestSilence(t *testing.T) {
	s := Silence()
	if len(s) != ChunkBytes {
		t.Fatalf("len=%d, want %d", len(s), ChunkBytes)
	}
	if RMSEnergy(s) != 0 {
		t.Fatalf("silence has energy")
	}
}
