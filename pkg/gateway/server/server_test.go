package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/atelierlive/atelier/pkg/gateway/config"
	"github.com/atelierlive/atelier/pkg/gateway/handlers"
	"github.com/atelierlive/atelier/pkg/gateway/lifecycle"
	"github.com/atelierlive/atelier/pkg/gateway/ratelimit"
	"github.com/atelierlive/atelier/pkg/privacy"
)

type stubShield struct{}

func (stubShield) Process(context.Context, []byte) (privacy.Verdict, error) {
	return privacy.Verdict{Kind: privacy.VerdictSafe}, nil
}

func testConfig() config.Config {
	return config.Config{
		Addr:              ":0",
		RateLimitRPM:      2,
		MaxBodyBytes:      1 << 20,
		NegotiateTimeout:  15 * time.Second,
		HandlerTimeout:    30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
	}
}

func testServer(t *testing.T) *Server {
	t.Helper()
	lc := lifecycle.New()
	cfg := testConfig()
	return New(cfg, Deps{
		Health:    handlers.NewHealth(lc, nil),
		Privacy:   handlers.NewPrivacy(stubShield{}, nil),
		Limiter:   ratelimit.New(ratelimit.Config{RPM: cfg.RateLimitRPM}),
		Lifecycle: lc,
	}, nil)
}

func TestServer_HealthRouteCarriesRequestID(t *testing.T) {
	s := testServer(t)

	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID")
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("body=%s", rec.Body.String())
	}
}

func TestServer_ProcessFrameIsRateLimited(t *testing.T) {
	s := testServer(t)

	body := func() *strings.Reader {
		raw, _ := json.Marshal(handlers.ProcessFrameRequest{
			ImageData: base64.StdEncoding.EncodeToString([]byte("img")),
		})
		return strings.NewReader(string(raw))
	}

	var last int
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/process-frame", body())
		req.RemoteAddr = "203.0.113.9:1234"
		s.http.Handler.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("third call status=%d, want 429", last)
	}
}

func TestServer_UnknownRouteIs404(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rec.Code)
	}
}
