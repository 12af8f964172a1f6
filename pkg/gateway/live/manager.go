package live

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/atelierlive/atelier/pkg/core"
	"github.com/atelierlive/atelier/pkg/core/media"
	"github.com/atelierlive/atelier/pkg/gateway/rtc"
	"github.com/atelierlive/atelier/pkg/upstream"
)

// ManagerConfig tunes session construction and the watchdog.
type ManagerConfig struct {
	STUNURLs       []string
	SampleInterval time.Duration
	BargeInEnergy  float64
	BargeInHold    time.Duration
	IdleTimeout    time.Duration
	MaxDuration    time.Duration
	Bridge         upstream.BridgeConfig
	SamplerMetrics media.SamplerMetrics
	BridgeMetrics  upstream.BridgeMetrics
	SessionMetrics Metrics
}

// Manager is the single owner of Sessions: it creates them on
// negotiation, hands them to the signaling surface by id, and reaps
// them on idle timeout, wall-clock cap, or peer death.
type Manager struct {
	client upstream.LiveClient
	shield frameShield
	cfg    ManagerConfig
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	sess   *Session
	peer   *rtc.Peer
	cancel context.CancelFunc
}

// NewManager builds a manager; Run starts the watchdog.
func NewManager(client upstream.LiveClient, shield frameShield, cfg ManagerConfig, logger *slog.Logger) *Manager {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = time.Hour
	}
	if cfg.SessionMetrics == nil {
		cfg.SessionMetrics = nopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		client:  client,
		shield:  shield,
		cfg:     cfg,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Create allocates a Session with a fresh peer connection and starts
// its pipeline. The session lives until Close or the watchdog reaps it;
// it is not bound to the lifetime of the negotiate request.
func (m *Manager) Create() (*Session, error) {
	id := uuid.NewString()

	peer, err := rtc.NewPeer(rtc.Config{
		STUNURLs:         m.cfg.STUNURLs,
		KeyframeInterval: m.cfg.SampleInterval,
		OnStateChange: func(st webrtc.PeerConnectionState) {
			switch st {
			case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
				m.Close(id, "peer "+st.String())
			}
		},
	}, m.logger.With("session_id", id))
	if err != nil {
		return nil, err
	}

	bridge := upstream.NewBridge(m.client, m.cfg.Bridge, m.logger.With("session_id", id), m.cfg.BridgeMetrics)
	sampler := media.NewSampler(m.cfg.SampleInterval, m.cfg.SamplerMetrics)
	sess := newSession(id, peer, bridge, m.shield, sampler, SessionConfig{
		BargeInEnergy: m.cfg.BargeInEnergy,
		BargeInHold:   m.cfg.BargeInHold,
	}, m.logger.With("session_id", id), m.cfg.SessionMetrics)

	runCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.entries[id] = &entry{sess: sess, peer: peer, cancel: cancel}
	m.mu.Unlock()
	m.cfg.SessionMetrics.SessionOpened()

	go func() {
		if err := sess.Run(runCtx); err != nil {
			m.logger.Warn("session pipeline ended", "session_id", id, "error", err)
		}
		m.Close(id, "pipeline ended")
	}()

	m.logger.Info("session created", "session_id", id)
	return sess, nil
}

// Get returns the session for an id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, core.NewSessionNotFoundError("unknown session id")
	}
	return e.sess, nil
}

// Close tears one session down: cancel the pipeline, close the peer,
// drop the entry. Idempotent.
func (m *Manager) Close(id, reason string) {
	m.mu.Lock()
	e, ok := m.entries[id]
	if ok {
		delete(m.entries, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	e.cancel()
	_ = e.peer.Close()
	m.cfg.SessionMetrics.SessionClosed()
	m.logger.Info("session closed", "session_id", id, "reason", reason)
}

// Count reports live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Run is the watchdog: it reaps idle and over-age sessions until ctx
// ends, then closes everything.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.closeAll("shutdown")
			return
		case <-ticker.C:
			m.reap()
		}
	}
}

func (m *Manager) reap() {
	m.mu.Lock()
	type victim struct{ id, reason string }
	var victims []victim
	for id, e := range m.entries {
		switch {
		case e.sess.IdleFor() > m.cfg.IdleTimeout:
			victims = append(victims, victim{id, "idle timeout"})
		case e.sess.Age() > m.cfg.MaxDuration:
			victims = append(victims, victim{id, "max session duration"})
		}
	}
	m.mu.Unlock()

	for _, v := range victims {
		m.Close(v.id, v.reason)
	}
}

func (m *Manager) closeAll(reason string) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Close(id, reason)
	}
}
