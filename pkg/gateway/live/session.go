package live

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"golang.org/x/sync/errgroup"

	"github.com/atelierlive/atelier/pkg/core/media"
	"github.com/atelierlive/atelier/pkg/privacy"
	"github.com/atelierlive/atelier/pkg/upstream"
)

// mediaPeer is the slice of the WebRTC peer the session loop drives.
type mediaPeer interface {
	Frames() <-chan media.Frame
	WriteAudio(pcm []byte)
	FlushEgress()
	RunEgress(ctx context.Context)
	Negotiate(offerSDP string) (string, error)
	AddCandidate(c webrtc.ICECandidateInit) error
	LocalCandidates() <-chan webrtc.ICECandidateInit
	Close() error
}

// turnBridge is the slice of the upstream bridge the session loop
// drives.
type turnBridge interface {
	Run(ctx context.Context) error
	Events() <-chan upstream.Event
	SendAudio(ctx context.Context, chunk media.AudioChunk) error
	OfferStill(still media.StillFrame)
	CancelTurn(ctx context.Context) error
}

// frameShield classifies one still.
type frameShield interface {
	Process(ctx context.Context, jpegBytes []byte) (privacy.Verdict, error)
}

// Metrics observes session-level events. Implementations must be safe
// for concurrent use.
type Metrics interface {
	SessionOpened()
	SessionClosed()
	BargeIn()
}

type nopMetrics struct{}

func (nopMetrics) SessionOpened() {}
func (nopMetrics) SessionClosed() {}
func (nopMetrics) BargeIn()       {}

// SessionConfig tunes one session's pipeline.
type SessionConfig struct {
	BargeInEnergy float64
	BargeInHold   time.Duration
}

// Session is one browser ↔ live-service relationship: the WebRTC leg,
// the frame pipeline, the privacy gate, and the upstream bridge, all
// arbitrated by the conversation FSM.
type Session struct {
	ID        string
	CreatedAt time.Time

	peer    mediaPeer
	bridge  turnBridge
	shield  frameShield
	sampler *media.Sampler
	fsm     *FSM
	barge   *BargeInDetector
	logger  *slog.Logger
	metrics Metrics

	lastMedia atomic.Int64
}

func newSession(id string, peer mediaPeer, bridge turnBridge, shield frameShield, sampler *media.Sampler, cfg SessionConfig, logger *slog.Logger, metrics Metrics) *Session {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	s := &Session{
		ID:        id,
		CreatedAt: time.Now(),
		peer:      peer,
		bridge:    bridge,
		shield:    shield,
		sampler:   sampler,
		fsm:       NewFSM(),
		barge:     NewBargeInDetector(cfg.BargeInEnergy, cfg.BargeInHold),
		logger:    logger,
		metrics:   metrics,
	}
	s.lastMedia.Store(time.Now().UnixNano())
	return s
}

// Negotiate applies the browser offer. Part of the signaling surface.
func (s *Session) Negotiate(offerSDP string) (string, error) {
	return s.peer.Negotiate(offerSDP)
}

// AddCandidate applies one trickled remote candidate.
func (s *Session) AddCandidate(c webrtc.ICECandidateInit) error {
	return s.peer.AddCandidate(c)
}

// LocalCandidates carries local candidates for the signal channel.
func (s *Session) LocalCandidates() <-chan webrtc.ICECandidateInit {
	return s.peer.LocalCandidates()
}

// State reports the conversation phase.
func (s *Session) State() State {
	return s.fsm.State()
}

// AudioHalted reports whether the privacy-wide gate has paused audio
// forwarding.
func (s *Session) AudioHalted() bool {
	return s.fsm.AudioHalted()
}

// IdleFor reports time since the last ingress media.
func (s *Session) IdleFor() time.Duration {
	return time.Since(time.Unix(0, s.lastMedia.Load()))
}

// Age reports time since creation.
func (s *Session) Age() time.Duration {
	return time.Since(s.CreatedAt)
}

// MarkAnalyzing records a client-signalled spatial query against this
// session's conversation.
func (s *Session) MarkAnalyzing() {
	s.fsm.OnAnalyze(time.Now())
}

// Interrupt is the explicit client interrupt; it follows the same
// tie-break window as detected barge-in.
func (s *Session) Interrupt() {
	s.fsm.OnInterrupt(time.Now())
	s.scheduleInterruptCommit()
}

func (s *Session) touch() {
	s.lastMedia.Store(time.Now().UnixNano())
}

// Run drives all session loops until ctx ends, a fatal upstream error,
// or the peer goes away.
func (s *Session) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.bridge.Run(gctx) })
	g.Go(func() error { s.peer.RunEgress(gctx); return nil })
	g.Go(func() error { s.sampler.Run(gctx); return nil })
	g.Go(func() error { return s.ingestLoop(gctx) })
	g.Go(func() error { return s.stillLoop(gctx) })
	g.Go(func() error { return s.eventLoop(gctx) })

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("session ended with error", "error", err)
		return err
	}
	return nil
}

// ingestLoop dispatches decoded ingress frames: video to the sampler,
// audio through barge-in detection and the forwarding gate.
func (s *Session) ingestLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-s.peer.Frames():
			if !ok {
				return nil
			}
			s.touch()
			switch frame.Kind {
			case media.TrackVideo:
				s.sampler.Offer(frame)
			case media.TrackAudio:
				s.onIngressAudio(ctx, frame)
			}
		}
	}
}

func (s *Session) onIngressAudio(ctx context.Context, frame media.Frame) {
	now := time.Now()
	if s.fsm.OnUserAudio(now) == ActionOpenTurn {
		s.logger.Debug("turn opened", "seq", frame.Seq)
	}

	if s.fsm.State() == StateSpeaking {
		if s.barge.Observe(frame.PCM) {
			s.logger.Info("barge-in detected")
			s.metrics.BargeIn()
			s.fsm.OnInterrupt(now)
			s.scheduleInterruptCommit()
		}
	} else {
		s.barge.Reset()
	}

	if !s.fsm.ForwardAudio() {
		return
	}
	chunk := media.AudioChunk{Seq: frame.Seq, CapturedAt: frame.CaptureTS, PCM: frame.PCM}
	if err := s.bridge.SendAudio(ctx, chunk); err != nil {
		if ctx.Err() == nil && !errors.Is(err, upstream.ErrBridgeClosed) {
			s.logger.Warn("audio forward failed", "error", err)
		}
	}
}

// scheduleInterruptCommit arms the tie-break window: if no turn
// completion lands first, the interruption commits and the turn is
// cancelled.
func (s *Session) scheduleInterruptCommit() {
	deadline, ok := s.fsm.PendingInterruptDeadline()
	if !ok {
		return
	}
	time.AfterFunc(time.Until(deadline)+time.Millisecond, func() {
		if s.fsm.CommitInterrupt(time.Now()) != ActionCancelTurn {
			return
		}
		s.logger.Info("turn cancelled by interruption")
		s.peer.FlushEgress()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.bridge.CancelTurn(ctx); err != nil {
			s.logger.Warn("turn cancel failed", "error", err)
		}
	})
}

// stillLoop classifies sampled stills and forwards the permitted ones
// upstream, resized to the upstream image cap.
func (s *Session) stillLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case still, ok := <-s.sampler.Stills():
			if !ok {
				return nil
			}
			verdict, err := s.shield.Process(ctx, still.JPEG)
			if err != nil {
				s.logger.Warn("privacy classification failed", "seq", still.Seq, "error", err)
				continue
			}
			s.fsm.OnVerdict(verdict.Kind)
			if !verdict.Forwardable() {
				s.logger.Debug("still blocked", "seq", still.Seq, "reason", verdict.Reason)
				continue
			}
			payload := still.JPEG
			if verdict.Kind == privacy.VerdictBlurred {
				payload = verdict.Processed
			}
			normalized, err := normalizeStill(payload)
			if err != nil {
				s.logger.Warn("still normalization failed", "seq", still.Seq, "error", err)
				continue
			}
			still.JPEG = normalized
			s.bridge.OfferStill(still)
		}
	}
}

func normalizeStill(jpegBytes []byte) ([]byte, error) {
	img, err := media.DecodeImage(jpegBytes)
	if err != nil {
		return nil, err
	}
	return media.NormalizeUpstreamJPEG(img, media.DefaultJPEGQuality)
}

// eventLoop routes upstream events: audio to egress, state moves to the
// FSM. Returns the fatal error when the bridge reports one.
func (s *Session) eventLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-s.bridge.Events():
			if !ok {
				return nil
			}
			now := time.Now()
			switch ev.Kind {
			case upstream.EventAudioChunk:
				// Residual audio of a cancelled turn keeps arriving
				// until its turn_complete; the client already heard
				// the stop, so it never reaches egress.
				if s.fsm.State() == StateInterrupted {
					continue
				}
				s.fsm.OnUpstreamAudio(now)
				s.peer.WriteAudio(media.ResamplePCM16(ev.PCM, upstream.OutputSampleRate, media.SampleRate))
			case upstream.EventTextDelta:
				s.fsm.OnAnalyze(now)
			case upstream.EventInterrupted:
				// The service cut its own turn short; drop queued
				// playout so the user hears the stop.
				s.peer.FlushEgress()
			case upstream.EventTurnComplete:
				if s.fsm.OnTurnComplete(now) == ActionCloseTurn {
					s.logger.Debug("turn complete")
				}
			case upstream.EventError:
				s.fsm.OnFatal()
				return ev.Err
			}
		}
	}
}
