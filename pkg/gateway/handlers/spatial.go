package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/atelierlive/atelier/pkg/gateway/live"
	"github.com/atelierlive/atelier/pkg/upstream"
)

type sessionDirectory interface {
	Get(id string) (*live.Session, error)
}

// SpatialRequest is one click-to-surface query. Coordinates are pixels
// in the submitted image.
type SpatialRequest struct {
	Image     string `json:"image"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
}

// Spatial serves POST /spatial by delegating to the model-backed
// analyzer.
type Spatial struct {
	analyzer upstream.SurfaceAnalyzer
	sessions sessionDirectory
	logger   *slog.Logger
}

func NewSpatial(analyzer upstream.SurfaceAnalyzer, sessions sessionDirectory, logger *slog.Logger) *Spatial {
	if logger == nil {
		logger = slog.Default()
	}
	return &Spatial{analyzer: analyzer, sessions: sessions, logger: logger}
}

func (h *Spatial) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req SpatialRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	img, err := decodeImage("image", req.Image)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// A spatial query suspends the session's audio forwarding until the
	// conversation resumes.
	if req.SessionID != "" && h.sessions != nil {
		if sess, err := h.sessions.Get(req.SessionID); err == nil {
			sess.MarkAnalyzing()
		}
	}

	kind := upstream.AnalysisKind(req.Type)
	if kind == "" {
		kind = upstream.AnalysisIdentifySurface
	}
	analysis, err := h.analyzer.Analyze(r.Context(), upstream.AnalysisRequest{
		JPEG:   img,
		Kind:   kind,
		X:      req.X,
		Y:      req.Y,
		Width:  req.Width,
		Height: req.Height,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	switch kind {
	case upstream.AnalysisAnalyzeRoom:
		writeJSON(w, http.StatusOK, map[string]json.RawMessage{"analysis": analysis.Raw})
	default:
		writeJSON(w, http.StatusOK, map[string]upstream.Surface{"surface": analysis.Surface})
	}
}
