package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	pionwebrtc "github.com/pion/webrtc/v4"

	"github.com/atelierlive/atelier/pkg/core"
	"github.com/atelierlive/atelier/pkg/gateway/apierror"
	"github.com/atelierlive/atelier/pkg/gateway/lifecycle"
	"github.com/atelierlive/atelier/pkg/gateway/live"
	"github.com/atelierlive/atelier/pkg/gateway/mw"
)

type sessionManager interface {
	Create() (*live.Session, error)
	Get(id string) (*live.Session, error)
	Close(id, reason string)
}

// OfferRequest is the body of POST /webrtc.
type OfferRequest struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// AnswerResponse returns the local answer plus the session id the
// client uses on the signal channel.
type AnswerResponse struct {
	SDP       string `json:"sdp"`
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type signalMessage struct {
	Type      string                       `json:"type"`
	Candidate *pionwebrtc.ICECandidateInit `json:"candidate,omitempty"`
}

// Signal terminates the signaling surface: the offer/answer exchange on
// POST /webrtc and the candidate trickle on WS /ws.
type Signal struct {
	sessions sessionManager
	lc       *lifecycle.Lifecycle
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewSignal(sessions sessionManager, lc *lifecycle.Lifecycle, checkOrigin func(*http.Request) bool, logger *slog.Logger) *Signal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Signal{
		sessions: sessions,
		lc:       lc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		logger: logger,
	}
}

// Negotiate handles POST /webrtc: a new Session per offer, answered
// synchronously. Candidates trickle over the signal channel afterwards.
func (h *Signal) Negotiate(w http.ResponseWriter, r *http.Request) {
	if h.lc.IsDraining() {
		reqID, _ := mw.RequestIDFrom(r.Context())
		coreErr, _ := apierror.FromError(core.NewUpstreamUnavailableError("gateway is shutting down", 5000), reqID)
		writeJSON(w, http.StatusServiceUnavailable, apierror.Envelope{Error: coreErr})
		return
	}

	var req OfferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Type != "offer" || req.SDP == "" {
		writeError(w, r, core.NewBadRequestErrorWithParam("body must carry an SDP offer", "type"))
		return
	}

	sess, err := h.sessions.Create()
	if err != nil {
		writeError(w, r, err)
		return
	}
	answer, err := sess.Negotiate(req.SDP)
	if err != nil {
		// Partial session is torn down; the client may retry.
		h.sessions.Close(sess.ID, "negotiation failed")
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, AnswerResponse{SDP: answer, Type: "answer", SessionID: sess.ID})
}

// Channel handles WS /ws?session_id=: candidates in both directions,
// plus explicit client interrupts.
func (h *Signal) Channel(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")
	sess, err := h.sessions.Get(id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	done := make(chan struct{})

	// Single writer: local candidates out.
	go func() {
		for {
			select {
			case <-done:
				return
			case c, ok := <-sess.LocalCandidates():
				if !ok {
					return
				}
				msg := signalMessage{Type: "candidate", Candidate: &c}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWSDeadline))
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			}
		}
	}()
	defer close(done)

	conn.SetReadLimit(64 * 1024)
	for {
		var msg signalMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "candidate":
			if msg.Candidate == nil {
				continue
			}
			if err := sess.AddCandidate(*msg.Candidate); err != nil {
				h.logger.Warn("candidate rejected", "session_id", id, "error", err)
			}
		case "interrupt":
			sess.Interrupt()
		default:
			h.logger.Debug("unknown signal message", "type", msg.Type)
		}
	}
}

// writeWSDeadline is the per-message write deadline on the signal
// channel.
const writeWSDeadline = 10 * time.Second
