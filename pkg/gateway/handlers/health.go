package handlers

import (
	"net/http"
	"time"

	"github.com/atelierlive/atelier/pkg/gateway/lifecycle"
)

type sessionCounter interface {
	Count() int
}

// Health reports process liveness.
type Health struct {
	lc       *lifecycle.Lifecycle
	sessions sessionCounter
}

func NewHealth(lc *lifecycle.Lifecycle, sessions sessionCounter) *Health {
	return &Health{lc: lc, sessions: sessions}
}

type healthResponse struct {
	Status         string  `json:"status"`
	UptimeSeconds  int64   `json:"uptime_s"`
	ActiveSessions int     `json:"active_sessions"`
	ResponseTimeMS float64 `json:"response_time_ms"`
}

func (h *Health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	resp := healthResponse{
		Status:        "ok",
		UptimeSeconds: int64(h.lc.Uptime().Seconds()),
	}
	if h.sessions != nil {
		resp.ActiveSessions = h.sessions.Count()
	}

	status := http.StatusOK
	if h.lc.IsDraining() {
		resp.Status = "draining"
		status = http.StatusServiceUnavailable
	}
	resp.ResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000

	writeJSON(w, status, resp)
}
