package upstream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/atelierlive/atelier/pkg/core"
	"github.com/atelierlive/atelier/pkg/core/media"
)

// BridgeConfig carries the reconnect and buffering policy. Zero values
// fall back to the documented defaults.
type BridgeConfig struct {
	ReconnectBase  time.Duration // default 500ms
	ReconnectCap   time.Duration // default 10s
	MaxReconnects  int           // default 5
	ConnectTimeout time.Duration // default 10s
	AudioBufferMS  int           // default 2000
}

func (c *BridgeConfig) applyDefaults() {
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = 500 * time.Millisecond
	}
	if c.ReconnectCap <= 0 {
		c.ReconnectCap = 10 * time.Second
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = 5
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.AudioBufferMS <= 0 {
		c.AudioBufferMS = 2000
	}
}

// BridgeMetrics counts reconnects and dropped media. Implementations
// must be safe for concurrent use.
type BridgeMetrics interface {
	Reconnect()
	AudioDropped(bytes int)
	ImageDropped()
}

type nopBridgeMetrics struct{}

func (nopBridgeMetrics) Reconnect()       {}
func (nopBridgeMetrics) AudioDropped(int) {}
func (nopBridgeMetrics) ImageDropped()    {}

// ErrBridgeClosed is returned by Send methods after the bridge stopped.
var ErrBridgeClosed = errors.New("upstream: bridge closed")

// Bridge maintains one live upstream session per client session, hiding
// reconnects from the stages around it. Audio is forwarded in capture
// order and blocks the producer; while disconnected it is buffered up
// to the configured window and dropped oldest-first beyond it. Stills
// never queue: the newest offered frame wins. Received events are
// delivered in source order on Events().
type Bridge struct {
	client  LiveClient
	cfg     BridgeConfig
	logger  *slog.Logger
	metrics BridgeMetrics

	audioIn chan media.AudioChunk
	stillIn chan media.StillFrame
	events  chan Event

	sessMu sync.Mutex
	sess   LiveSession

	// draining is set while a cancelled turn's residual events are
	// discarded; cleared on the next turn_complete.
	draining atomic.Bool
	closed   atomic.Bool
}

// NewBridge creates a bridge; Run must be called to start it.
func NewBridge(client LiveClient, cfg BridgeConfig, logger *slog.Logger, metrics BridgeMetrics) *Bridge {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = nopBridgeMetrics{}
	}
	return &Bridge{
		client:  client,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		audioIn: make(chan media.AudioChunk, 32),
		stillIn: make(chan media.StillFrame, 1),
		events:  make(chan Event, 256),
	}
}

// Events yields upstream events in source order. Closed when Run
// returns.
func (b *Bridge) Events() <-chan Event {
	return b.events
}

// SendAudio forwards one chunk upstream, blocking when the send queue
// is full (block-the-producer backpressure).
func (b *Bridge) SendAudio(ctx context.Context, chunk media.AudioChunk) error {
	if b.closed.Load() {
		return ErrBridgeClosed
	}
	select {
	case b.audioIn <- chunk:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OfferStill hands the bridge a still for upstream; if the previous
// still has not been sent yet it is replaced (newest-wins).
func (b *Bridge) OfferStill(still media.StillFrame) {
	if b.closed.Load() {
		return
	}
	select {
	case b.stillIn <- still:
	default:
		select {
		case <-b.stillIn:
			b.metrics.ImageDropped()
		default:
		}
		select {
		case b.stillIn <- still:
		default:
			b.metrics.ImageDropped()
		}
	}
}

// CancelTurn signals end of turn upstream and discards the cancelled
// turn's remaining response events until its turn_complete arrives.
func (b *Bridge) CancelTurn(ctx context.Context) error {
	b.draining.Store(true)

	b.sessMu.Lock()
	sess := b.sess
	b.sessMu.Unlock()
	if sess == nil {
		return nil
	}
	return sess.EndTurn(ctx)
}

// Run drives the bridge until ctx is cancelled or the reconnect budget
// is exhausted. It always closes Events before returning; on a fatal
// upstream failure the last event carries kind error.
func (b *Bridge) Run(ctx context.Context) error {
	defer func() {
		b.closed.Store(true)
		close(b.events)
	}()

	backlog := media.NewAudioBuffer(b.cfg.AudioBufferMS)
	attempts := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		connectCtx, cancel := context.WithTimeout(ctx, b.cfg.ConnectTimeout)
		sess, err := b.client.Connect(connectCtx)
		cancel()
		if err != nil {
			attempts++
			if attempts > b.cfg.MaxReconnects {
				b.fatal(err)
				return err
			}
			b.metrics.Reconnect()
			b.logger.Warn("upstream connect failed, retrying",
				"attempt", attempts, "error", err)
			if !b.waitBackoff(ctx, attempts, backlog) {
				return nil
			}
			continue
		}
		attempts = 0

		b.sessMu.Lock()
		b.sess = sess
		b.sessMu.Unlock()

		err = b.pump(ctx, sess, backlog)

		b.sessMu.Lock()
		b.sess = nil
		b.sessMu.Unlock()
		_ = sess.Close()

		if ctx.Err() != nil {
			return nil
		}
		attempts++
		if attempts > b.cfg.MaxReconnects {
			b.fatal(err)
			return err
		}
		b.metrics.Reconnect()
		b.logger.Warn("upstream session broke, reconnecting",
			"attempt", attempts, "error", err)
		if !b.waitBackoff(ctx, attempts, backlog) {
			return nil
		}
	}
}

// pump runs the send and receive loops over one session until either
// fails or ctx is cancelled.
func (b *Bridge) pump(ctx context.Context, sess LiveSession, backlog *media.AudioBuffer) error {
	// Flush audio buffered during the outage in capture order.
	if buffered := backlog.Drain(); len(buffered) > 0 {
		if err := sess.SendAudio(ctx, buffered); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case chunk := <-b.audioIn:
				if err := sess.SendAudio(gctx, chunk.PCM); err != nil {
					return err
				}
			case still := <-b.stillIn:
				if err := sess.SendImage(gctx, still.JPEG); err != nil {
					return err
				}
			}
		}
	})

	g.Go(func() error {
		for {
			ev, err := sess.Receive(gctx)
			if err != nil {
				return err
			}
			if b.draining.Load() {
				if ev.Kind != EventTurnComplete {
					continue
				}
				b.draining.Store(false)
			}
			select {
			case b.events <- ev:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	return g.Wait()
}

// waitBackoff sleeps the exponential backoff for the given attempt
// while spooling incoming audio into the backlog (drop-oldest beyond
// capacity). Returns false when ctx ended during the wait.
func (b *Bridge) waitBackoff(ctx context.Context, attempt int, backlog *media.AudioBuffer) bool {
	delay := b.cfg.ReconnectBase << (attempt - 1)
	if delay > b.cfg.ReconnectCap || delay <= 0 {
		delay = b.cfg.ReconnectCap
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case chunk := <-b.audioIn:
			before := backlog.Len()
			backlog.Write(chunk.PCM)
			if lost := before + len(chunk.PCM) - backlog.Len(); lost > 0 {
				b.metrics.AudioDropped(lost)
				b.logger.Debug("outage backlog full, oldest audio dropped",
					"lost_bytes", lost, "buffered_ms", backlog.BufferedMS())
			}
		case <-b.stillIn:
			// Stills are dropped outright while disconnected.
			b.metrics.ImageDropped()
		}
	}
}

// fatal emits the terminal error event before the channel closes.
func (b *Bridge) fatal(cause error) {
	b.logger.Error("upstream bridge fatal", "error", cause)
	ev := Event{
		Kind: EventError,
		Err:  core.NewUpstreamUnavailableError("live service unavailable", int(b.cfg.ReconnectCap/time.Millisecond)),
	}
	select {
	case b.events <- ev:
	default:
	}
}
