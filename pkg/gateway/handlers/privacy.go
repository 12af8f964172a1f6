package handlers

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/atelierlive/atelier/pkg/privacy"
)

type shieldProcessor interface {
	Process(ctx context.Context, jpegBytes []byte) (privacy.Verdict, error)
}

// frameIDWindow is how long a frame_id pins its original response.
const frameIDWindow = 5 * time.Minute

// ProcessFrameRequest is the privacy-shield request body.
type ProcessFrameRequest struct {
	ImageData string `json:"image_data"`
	FrameID   string `json:"frame_id"`
	Timestamp int64  `json:"timestamp"`
}

// ProcessFrameResponse is the verdict for one frame. ProcessedImage is
// only present for blurred verdicts.
type ProcessFrameResponse struct {
	ProcessedImage string `json:"processed_image,omitempty"`
	BlurApplied    bool   `json:"blur_applied"`
	FaceCount      int    `json:"face_count"`
	Verdict        string `json:"verdict"`
	Reason         string `json:"reason,omitempty"`
}

type cachedVerdict struct {
	resp ProcessFrameResponse
	at   time.Time
}

// Privacy serves POST /process-frame. Responses are idempotent per
// frame_id within a sliding window: a replayed id returns the original
// bytes without re-running detection.
type Privacy struct {
	shield shieldProcessor
	logger *slog.Logger

	mu   sync.Mutex
	seen map[string]cachedVerdict
}

func NewPrivacy(shield shieldProcessor, logger *slog.Logger) *Privacy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Privacy{
		shield: shield,
		logger: logger,
		seen:   make(map[string]cachedVerdict),
	}
}

func (h *Privacy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req ProcessFrameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	img, err := decodeImage("image_data", req.ImageData)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if resp, ok := h.lookup(req.FrameID); ok {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	verdict, err := h.shield.Process(r.Context(), img)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := ProcessFrameResponse{
		FaceCount: verdict.FaceCount,
		Verdict:   string(verdict.Kind),
		Reason:    verdict.Reason,
	}
	if verdict.Kind == privacy.VerdictBlurred {
		resp.BlurApplied = true
		resp.ProcessedImage = base64.StdEncoding.EncodeToString(verdict.Processed)
	}

	h.remember(req.FrameID, resp)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Privacy) lookup(frameID string) (ProcessFrameResponse, bool) {
	if frameID == "" {
		return ProcessFrameResponse{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.seen[frameID]
	if !ok || time.Since(c.at) > frameIDWindow {
		return ProcessFrameResponse{}, false
	}
	return c.resp, true
}

func (h *Privacy) remember(frameID string, resp ProcessFrameResponse) {
	if frameID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.seen {
		if time.Since(c.at) > frameIDWindow {
			delete(h.seen, id)
		}
	}
	h.seen[frameID] = cachedVerdict{resp: resp, at: time.Now()}
}
