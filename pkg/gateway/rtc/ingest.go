package rtc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"strings"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/rtcp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
	"golang.org/x/image/vp8"

	"github.com/atelierlive/atelier/pkg/core/media"
)

// maxOpusFrameSamples is the largest opus frame (120 ms) at the pipeline
// rate.
const maxOpusFrameSamples = media.SampleRate * 120 / 1000

// ingestAudio decodes the browser's opus track straight to 16 kHz mono
// PCM16 and reframes it into 20 ms chunks.
func (p *Peer) ingestAudio(track *webrtc.TrackRemote) {
	codec := track.Codec()
	if !strings.EqualFold(codec.MimeType, webrtc.MimeTypeOpus) {
		p.logger.Warn("ignoring audio track with unsupported codec", "mime_type", codec.MimeType)
		return
	}

	// libopus resamples internally, so decoding at the pipeline rate
	// avoids a separate resample stage.
	dec, err := opus.NewDecoder(media.SampleRate, 1)
	if err != nil {
		p.logger.Error("opus decoder init failed", "error", err)
		return
	}

	samples := make([]int16, maxOpusFrameSamples)
	var chunker media.Chunker
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := dec.Decode(pkt.Payload, samples)
		if err != nil {
			p.logger.Debug("opus decode failed, skipping packet", "seq", pkt.SequenceNumber, "error", err)
			continue
		}
		for _, chunk := range chunker.Push(samplesToPCM16(samples[:n]), time.Now()) {
			p.emit(media.Frame{
				Seq:       p.audioSeq.Next(),
				Kind:      media.TrackAudio,
				TrackID:   track.ID(),
				CaptureTS: chunk.CapturedAt,
				PCM:       chunk.PCM,
			})
		}
	}
}

// ingestVideo reassembles VP8 frames from RTP and decodes keyframes to
// JPEG. Interframes are skipped; the keyframe loop keeps intra frames
// arriving at sampling cadence.
func (p *Peer) ingestVideo(track *webrtc.TrackRemote) {
	codec := track.Codec()
	if !strings.EqualFold(codec.MimeType, webrtc.MimeTypeVP8) {
		p.logger.Warn("ignoring video track with unsupported codec", "mime_type", codec.MimeType)
		return
	}

	go p.keyframeLoop(uint32(track.SSRC()))

	sb := samplebuilder.New(64, &codecs.VP8Packet{}, codec.ClockRate)
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		sb.Push(pkt)
		for sample := sb.Pop(); sample != nil; sample = sb.Pop() {
			img, err := decodeVP8Keyframe(sample.Data)
			if err != nil {
				continue
			}
			jpeg, err := media.EncodeJPEG(img, media.DefaultJPEGQuality)
			if err != nil {
				p.logger.Debug("jpeg encode failed", "error", err)
				continue
			}
			p.emit(media.Frame{
				Seq:       p.videoSeq.Next(),
				Kind:      media.TrackVideo,
				TrackID:   track.ID(),
				CaptureTS: time.Now(),
				Image:     jpeg,
			})
		}
	}
}

// keyframeLoop asks the browser for an intra frame once per sampling
// interval, starting immediately.
func (p *Peer) keyframeLoop(ssrc uint32) {
	pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}}
	if err := p.pc.WriteRTCP(pli); err != nil {
		return
	}
	ticker := time.NewTicker(p.keyframeEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := p.pc.WriteRTCP(pli); err != nil {
				return
			}
		case <-p.done:
			return
		}
	}
}

var errInterframe = errors.New("vp8 interframe")

// decodeVP8Keyframe decodes a complete VP8 frame. Only intra frames
// decode standalone; anything else errors.
func decodeVP8Keyframe(frame []byte) (image.Image, error) {
	if len(frame) == 0 {
		return nil, errInterframe
	}
	dec := vp8.NewDecoder()
	dec.Init(bytes.NewReader(frame), len(frame))
	fh, err := dec.DecodeFrameHeader()
	if err != nil {
		return nil, err
	}
	if !fh.KeyFrame {
		return nil, errInterframe
	}
	return dec.DecodeFrame()
}

func samplesToPCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func pcm16ToSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}
