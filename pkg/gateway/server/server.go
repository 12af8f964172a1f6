// Package server assembles the HTTP surface: routes, middleware chain,
// and the http.Server lifecycle.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/atelierlive/atelier/pkg/gateway/config"
	"github.com/atelierlive/atelier/pkg/gateway/handlers"
	"github.com/atelierlive/atelier/pkg/gateway/lifecycle"
	"github.com/atelierlive/atelier/pkg/gateway/mw"
	"github.com/atelierlive/atelier/pkg/gateway/ratelimit"
)

// Deps are the constructed handlers and shared infrastructure the
// server mounts.
type Deps struct {
	Health  *handlers.Health
	Privacy *handlers.Privacy
	Spatial *handlers.Spatial
	Gallery *handlers.Gallery
	Signal  *handlers.Signal

	Metrics   http.Handler
	Recorder  mw.RequestRecorder
	Limiter   *ratelimit.Limiter
	Lifecycle *lifecycle.Lifecycle
}

// Server is the gateway's HTTP front.
type Server struct {
	cfg    config.Config
	logger *slog.Logger
	lc     *lifecycle.Lifecycle
	http   *http.Server
}

// New wires routes and middleware. Rate limiting applies only to the
// frame-processing and spatial endpoints; the signal channel skips the
// body limit so long-lived WebSocket reads are unaffected.
func New(cfg config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	mux.Handle("GET /health", deps.Health)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}

	mux.Handle("POST /process-frame", mw.RateLimit(deps.Limiter, withTimeout(cfg.HandlerTimeout, deps.Privacy)))
	mux.Handle("POST /spatial", mw.RateLimit(deps.Limiter, withTimeout(cfg.HandlerTimeout, deps.Spatial)))

	mux.Handle("POST /snapshot", withTimeout(cfg.HandlerTimeout, http.HandlerFunc(deps.Gallery.Snapshot)))
	mux.Handle("GET /gallery", withTimeout(cfg.HandlerTimeout, http.HandlerFunc(deps.Gallery.List)))
	mux.Handle("GET /gallery/{id}", withTimeout(cfg.HandlerTimeout, http.HandlerFunc(deps.Gallery.Get)))
	mux.Handle("GET /gallery/{id}/refresh", withTimeout(cfg.HandlerTimeout, http.HandlerFunc(deps.Gallery.Refresh)))
	mux.Handle("POST /gallery/{id}/like", withTimeout(cfg.HandlerTimeout, http.HandlerFunc(deps.Gallery.Like)))

	mux.Handle("POST /webrtc", withTimeout(cfg.NegotiateTimeout, http.HandlerFunc(deps.Signal.Negotiate)))
	mux.Handle("GET /ws", http.HandlerFunc(deps.Signal.Channel))

	var handler http.Handler = mux
	handler = mw.BodyLimit(cfg.MaxBodyBytes, handler)
	handler = mw.CORS(cfg, handler)
	handler = mw.Requests(deps.Recorder, handler)
	handler = mw.Recover(logger, handler)
	handler = mw.AccessLog(logger, handler)
	handler = mw.RequestID(handler)

	return &Server{
		cfg:    cfg,
		logger: logger,
		lc:     deps.Lifecycle,
		http: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			ReadTimeout:       cfg.ReadTimeout,
		},
	}
}

// withTimeout bounds a handler's work through its request context.
func withTimeout(d time.Duration, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), d)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.cfg.Addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests. New negotiations are refused once
// draining is set.
func (s *Server) Shutdown(ctx context.Context) error {
	s.lc.SetDraining(true)
	s.logger.Info("http server draining")
	return s.http.Shutdown(ctx)
}
