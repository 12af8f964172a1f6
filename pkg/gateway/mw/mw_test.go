package mw

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/atelierlive/atelier/pkg/gateway/apierror"
	"github.com/atelierlive/atelier/pkg/gateway/config"
	"github.com/atelierlive/atelier/pkg/gateway/ratelimit"
)

func TestRequestID_GeneratesWhenMissing(t *testing.T) {
	var got string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = RequestIDFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if got == "" {
		t.Fatal("request id not set on context")
	}
	if rec.Header().Get("X-Request-ID") != got {
		t.Fatalf("header=%q, ctx=%q", rec.Header().Get("X-Request-ID"), got)
	}
}

func TestRequestID_PropagatesCallerID(t *testing.T) {
	var got string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = RequestIDFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req_caller")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got != "req_caller" {
		t.Fatalf("request id=%q, want req_caller", got)
	}
}

func TestRecover_TurnsPanicInto500(t *testing.T) {
	h := Recover(slog.Default(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want 500", rec.Code)
	}
	var env apierror.Envelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Error == nil || env.Error.Kind != "internal" {
		t.Fatalf("envelope=%+v, want kind internal", env.Error)
	}
}

func TestRateLimit_DeniedRequestCarriesRetryHint(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{RPM: 1, Burst: 1})
	h := RateLimit(limiter, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/process-frame", nil)
	req.RemoteAddr = "203.0.113.9:40000"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status=%d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status=%d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}

	var env apierror.Envelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Error == nil || env.Error.Kind != "rate_limited" {
		t.Fatalf("envelope=%+v", env.Error)
	}
	if env.Error.RetryAfterMS == nil || *env.Error.RetryAfterMS <= 0 {
		t.Fatalf("retry_after_ms=%v", env.Error.RetryAfterMS)
	}
}

func TestCORS_PreflightDeniedWithoutAllowlist(t *testing.T) {
	h := CORS(config.Config{CORSAllowedOrigins: map[string]struct{}{}}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodOptions, "/process-frame", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status=%d, want 403", rec.Code)
	}
}

func TestCORS_AllowlistedOriginGetsHeaders(t *testing.T) {
	cfg := config.Config{CORSAllowedOrigins: map[string]struct{}{"https://app.example.com": {}}}
	h := CORS(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/process-frame", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status=%d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("allow-origin=%q", rec.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest(http.MethodGet, "/gallery", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatal("simple request missing CORS headers")
	}
}

type captureRecorder struct {
	path, status string
}

func (c *captureRecorder) RecordRequest(path, status string) {
	c.path, c.status = path, status
}

func TestRequests_CollapsesGalleryItemPaths(t *testing.T) {
	rec := &captureRecorder{}
	h := Requests(rec, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/gallery/abc-123/refresh", nil))
	if rec.path != "/gallery/{id}/refresh" {
		t.Fatalf("path=%q", rec.path)
	}
	if rec.status != "404" {
		t.Fatalf("status=%q", rec.status)
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/gallery/abc-123", nil))
	if rec.path != "/gallery/{id}" {
		t.Fatalf("path=%q", rec.path)
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.path != "/health" {
		t.Fatalf("path=%q", rec.path)
	}
}
