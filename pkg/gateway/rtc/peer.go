// Package rtc terminates the browser-facing WebRTC leg of a session:
// offer/answer negotiation, trickled ICE, decoded ingress media, and the
// synthesized-audio egress track.
package rtc

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/atelierlive/atelier/pkg/core"
	"github.com/atelierlive/atelier/pkg/core/media"
)

// Config tunes one peer connection.
type Config struct {
	// STUNURLs seed the ICE agent. Empty means host candidates only.
	STUNURLs []string

	// KeyframeInterval is the cadence of picture-loss-indication requests
	// on the ingress video track. Intra frames are the only frames the
	// still pipeline can decode, so this should match the sampling
	// interval.
	KeyframeInterval time.Duration

	// OnStateChange, when set, observes peer connection state moves. The
	// session manager uses it to reap dead peers.
	OnStateChange func(webrtc.PeerConnectionState)
}

// Peer wraps one pion PeerConnection. Ingress tracks are decoded into
// media.Frames on a single channel; egress audio goes out through an
// opus-encoded local track.
type Peer struct {
	pc     *webrtc.PeerConnection
	egress *egress
	logger *slog.Logger

	keyframeEvery time.Duration

	frames   chan media.Frame
	outCands chan webrtc.ICECandidateInit

	audioSeq media.SeqCounter
	videoSeq media.SeqCounter

	closeOnce sync.Once
	done      chan struct{}
}

// NewPeer allocates the peer connection and its egress audio track. No
// network activity happens until Negotiate.
func NewPeer(cfg Config, logger *slog.Logger) (*Peer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.KeyframeInterval <= 0 {
		cfg.KeyframeInterval = time.Second
	}

	var pcCfg webrtc.Configuration
	if len(cfg.STUNURLs) > 0 {
		pcCfg.ICEServers = []webrtc.ICEServer{{URLs: cfg.STUNURLs}}
	}
	pc, err := webrtc.NewPeerConnection(pcCfg)
	if err != nil {
		return nil, core.NewInternalError("failed to allocate peer connection")
	}

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, "audio", "atelier-egress")
	if err != nil {
		_ = pc.Close()
		return nil, core.NewInternalError("failed to allocate egress track")
	}
	if _, err := pc.AddTrack(track); err != nil {
		_ = pc.Close()
		return nil, core.NewInternalError("failed to attach egress track")
	}

	eg, err := newEgress(track, logger)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}

	p := &Peer{
		pc:            pc,
		egress:        eg,
		logger:        logger,
		keyframeEvery: cfg.KeyframeInterval,
		frames:        make(chan media.Frame, 64),
		outCands:      make(chan webrtc.ICECandidateInit, 16),
		done:          make(chan struct{}),
	}

	pc.OnTrack(p.handleTrack)
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		select {
		case p.outCands <- c.ToJSON():
		case <-p.done:
		default:
			p.logger.Warn("local candidate dropped, signal channel backed up")
		}
	})
	if cfg.OnStateChange != nil {
		pc.OnConnectionStateChange(cfg.OnStateChange)
	}
	return p, nil
}

// Negotiate applies the browser's offer and returns the local answer.
// ICE candidates trickle separately over the signal channel.
func (p *Peer) Negotiate(offerSDP string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return "", core.NewBadRequestErrorWithParam("malformed SDP offer", "sdp")
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", core.NewInternalError("failed to create answer")
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", core.NewInternalError("failed to set local description")
	}
	return p.pc.LocalDescription().SDP, nil
}

// AddCandidate applies one trickled remote ICE candidate. Candidates are
// applied in arrival order; the caller serializes.
func (p *Peer) AddCandidate(c webrtc.ICECandidateInit) error {
	if err := p.pc.AddICECandidate(c); err != nil {
		return core.NewBadRequestErrorWithParam("invalid ICE candidate", "candidate")
	}
	return nil
}

// Frames is the decoded ingress stream: 20 ms PCM chunks and JPEG video
// keyframes, interleaved, each with a per-track monotonic sequence id.
func (p *Peer) Frames() <-chan media.Frame {
	return p.frames
}

// LocalCandidates carries gathered local candidates for trickling to the
// browser.
func (p *Peer) LocalCandidates() <-chan webrtc.ICECandidateInit {
	return p.outCands
}

// WriteAudio queues upstream PCM16 for egress encoding.
func (p *Peer) WriteAudio(pcm []byte) {
	p.egress.Write(pcm)
}

// FlushEgress discards queued egress audio. Used on barge-in so stale
// model speech is not played over the user.
func (p *Peer) FlushEgress() {
	p.egress.Flush()
}

// RunEgress drives the egress track at frame cadence until ctx ends.
func (p *Peer) RunEgress(ctx context.Context) {
	p.egress.Run(ctx)
}

// ConnectionState reports the live peer connection state.
func (p *Peer) ConnectionState() webrtc.PeerConnectionState {
	return p.pc.ConnectionState()
}

// Close tears the peer connection down and releases the ingress readers.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.pc.Close()
	})
	return err
}

func (p *Peer) handleTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	switch track.Kind() {
	case webrtc.RTPCodecTypeAudio:
		go p.ingestAudio(track)
	case webrtc.RTPCodecTypeVideo:
		go p.ingestVideo(track)
	default:
		p.logger.Warn("unsupported track kind", "kind", track.Kind().String())
	}
}

// emit hands a frame to the pipeline. Blocks rather than drops: the
// sampler downstream owns the drop policy.
func (p *Peer) emit(f media.Frame) {
	select {
	case p.frames <- f:
	case <-p.done:
	}
}
