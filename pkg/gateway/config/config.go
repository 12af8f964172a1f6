// Package config loads the gateway configuration from the environment.
// Every key may also be supplied with the ATELIER_ prefix, which wins
// over the bare name; unrecognized ATELIER_ keys are startup errors.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// Upstream generative service.
	LiveAPIKey   string
	LiveModel    string
	SpatialModel string

	// Face-detection collaborator.
	FaceDetectorURL string
	DetectorTimeout time.Duration

	// Gallery collaborator stores.
	BlobBucket      string
	BlobRegion      string
	BlobEndpoint    string // optional, for S3-compatible stores
	RecordDSN       string
	RecordNamespace string

	// Media pipeline.
	SampleInterval time.Duration
	CrowdThreshold int
	BlurRadiusMin  int
	SignedURLTTL   time.Duration

	// Conversation tuning.
	BargeInEnergy   float64
	BargeInDuration time.Duration

	// Session lifecycle.
	SessionIdleTimeout time.Duration
	SessionMaxDuration time.Duration

	// WebRTC.
	STUNURLs []string

	// HTTP surface.
	RateLimitRPM       int
	CORSAllowedOrigins map[string]struct{} // empty => cross-origin disallowed
	MaxBodyBytes       int64

	// Operational defaults.
	NegotiateTimeout       time.Duration
	HandlerTimeout         time.Duration
	UpstreamConnectTimeout time.Duration
	ReadHeaderTimeout      time.Duration
	ReadTimeout            time.Duration
	ShutdownGracePeriod    time.Duration

	LogLevel string
}

const envPrefix = "ATELIER_"

// knownKeys is every environment key the gateway reads.
var knownKeys = []string{
	"ADDR",
	"LIVE_API_KEY",
	"LIVE_MODEL",
	"SPATIAL_MODEL",
	"FACE_DETECTOR_URL",
	"FACE_DETECTOR_TIMEOUT",
	"BLOB_BUCKET",
	"BLOB_REGION",
	"BLOB_ENDPOINT",
	"RECORD_DSN",
	"RECORD_NAMESPACE",
	"SAMPLE_INTERVAL_MS",
	"CROWD_THRESHOLD",
	"BLUR_RADIUS_MIN",
	"SIGNED_URL_TTL_SECS",
	"BARGE_IN_ENERGY",
	"BARGE_IN_MS",
	"SESSION_IDLE_SECS",
	"SESSION_MAX_SECS",
	"STUN_URLS",
	"RATE_LIMIT_RPM",
	"CORS_ALLOWED_ORIGINS",
	"MAX_BODY_BYTES",
	"NEGOTIATE_TIMEOUT",
	"HANDLER_TIMEOUT",
	"UPSTREAM_CONNECT_TIMEOUT",
	"READ_HEADER_TIMEOUT",
	"READ_TIMEOUT",
	"SHUTDOWN_GRACE_PERIOD",
	"LOG_LEVEL",
}

// env collects every configuration problem instead of stopping at the
// first, so a bad deployment reports all of its mistakes at once.
type env struct {
	errs []string
}

func (e *env) fail(key, problem string) {
	e.errs = append(e.errs, key+" "+problem)
}

func (e *env) raw(key string) string {
	if v := strings.TrimSpace(os.Getenv(envPrefix + key)); v != "" {
		return v
	}
	return strings.TrimSpace(os.Getenv(key))
}

func (e *env) str(key, def string) string {
	if v := e.raw(key); v != "" {
		return v
	}
	return def
}

func (e *env) integer(key string, def int) int {
	raw := e.raw(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		e.fail(key, fmt.Sprintf("must be an integer, got %q", raw))
		return def
	}
	return n
}

func (e *env) integer64(key string, def int64) int64 {
	raw := e.raw(key)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		e.fail(key, fmt.Sprintf("must be an integer, got %q", raw))
		return def
	}
	return n
}

func (e *env) float(key string, def float64) float64 {
	raw := e.raw(key)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.fail(key, fmt.Sprintf("must be a number, got %q", raw))
		return def
	}
	return n
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	raw := e.raw(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		e.fail(key, fmt.Sprintf("must be a duration such as 10s, got %q", raw))
		return def
	}
	return d
}

// rejectUnknown flags ATELIER_-prefixed variables that match no known
// key. Bare names are left alone; the process environment is shared.
func (e *env) rejectUnknown() {
	known := make(map[string]struct{}, len(knownKeys))
	for _, k := range knownKeys {
		known[k] = struct{}{}
	}
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		suffix, ok := strings.CutPrefix(name, envPrefix)
		if !ok {
			continue
		}
		if _, ok := known[suffix]; !ok {
			e.fail(name, "is not a recognized configuration key")
		}
	}
}

func LoadFromEnv() (Config, error) {
	e := &env{}
	e.rejectUnknown()

	cfg := Config{
		Addr:                   e.str("ADDR", ":8080"),
		LiveAPIKey:             e.raw("LIVE_API_KEY"),
		LiveModel:              e.str("LIVE_MODEL", "gemini-2.0-flash-live-001"),
		SpatialModel:           e.str("SPATIAL_MODEL", "gemini-1.5-pro"),
		FaceDetectorURL:        e.raw("FACE_DETECTOR_URL"),
		DetectorTimeout:        e.duration("FACE_DETECTOR_TIMEOUT", 2*time.Second),
		BlobBucket:             e.raw("BLOB_BUCKET"),
		BlobRegion:             e.str("BLOB_REGION", "us-east-1"),
		BlobEndpoint:           e.raw("BLOB_ENDPOINT"),
		RecordDSN:              e.raw("RECORD_DSN"),
		RecordNamespace:        e.str("RECORD_NAMESPACE", "gallery"),
		SampleInterval:         time.Duration(e.integer("SAMPLE_INTERVAL_MS", 1000)) * time.Millisecond,
		CrowdThreshold:         e.integer("CROWD_THRESHOLD", 3),
		BlurRadiusMin:          e.integer("BLUR_RADIUS_MIN", 15),
		SignedURLTTL:           time.Duration(e.integer("SIGNED_URL_TTL_SECS", 900)) * time.Second,
		BargeInEnergy:          e.float("BARGE_IN_ENERGY", 0.02),
		BargeInDuration:        time.Duration(e.integer("BARGE_IN_MS", 200)) * time.Millisecond,
		SessionIdleTimeout:     time.Duration(e.integer("SESSION_IDLE_SECS", 300)) * time.Second,
		SessionMaxDuration:     time.Duration(e.integer("SESSION_MAX_SECS", 3600)) * time.Second,
		RateLimitRPM:           e.integer("RATE_LIMIT_RPM", 10),
		CORSAllowedOrigins:     make(map[string]struct{}),
		MaxBodyBytes:           e.integer64("MAX_BODY_BYTES", 8<<20), // 8 MiB
		NegotiateTimeout:       e.duration("NEGOTIATE_TIMEOUT", 15*time.Second),
		HandlerTimeout:         e.duration("HANDLER_TIMEOUT", 30*time.Second),
		UpstreamConnectTimeout: e.duration("UPSTREAM_CONNECT_TIMEOUT", 10*time.Second),
		ReadHeaderTimeout:      e.duration("READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:            e.duration("READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:    e.duration("SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		LogLevel:               e.str("LOG_LEVEL", "info"),
	}

	cfg.STUNURLs = splitCSV(e.str("STUN_URLS", "stun:stun.l.google.com:19302"))

	for _, origin := range splitCSV(e.raw("CORS_ALLOWED_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.LiveAPIKey == "" {
		e.fail("LIVE_API_KEY", "must be set")
	}
	if cfg.LiveModel == "" {
		e.fail("LIVE_MODEL", "must not be empty")
	}
	if cfg.SpatialModel == "" {
		e.fail("SPATIAL_MODEL", "must not be empty")
	}
	if cfg.FaceDetectorURL == "" {
		e.fail("FACE_DETECTOR_URL", "must be set")
	}
	if cfg.DetectorTimeout <= 0 {
		e.fail("FACE_DETECTOR_TIMEOUT", "must be > 0")
	}
	if cfg.BlobBucket == "" {
		e.fail("BLOB_BUCKET", "must be set")
	}
	if cfg.RecordDSN == "" {
		e.fail("RECORD_DSN", "must be set")
	}
	if cfg.RecordNamespace == "" {
		e.fail("RECORD_NAMESPACE", "must not be empty")
	}
	if cfg.SampleInterval <= 0 {
		e.fail("SAMPLE_INTERVAL_MS", "must be > 0")
	}
	if cfg.CrowdThreshold <= 0 {
		e.fail("CROWD_THRESHOLD", "must be > 0")
	}
	if cfg.BlurRadiusMin <= 0 {
		e.fail("BLUR_RADIUS_MIN", "must be > 0")
	}
	if cfg.SignedURLTTL <= 0 {
		e.fail("SIGNED_URL_TTL_SECS", "must be > 0")
	}
	if cfg.BargeInEnergy <= 0 || cfg.BargeInEnergy >= 1 {
		e.fail("BARGE_IN_ENERGY", "must be in (0, 1)")
	}
	if cfg.BargeInDuration <= 0 {
		e.fail("BARGE_IN_MS", "must be > 0")
	}
	if cfg.SessionIdleTimeout <= 0 {
		e.fail("SESSION_IDLE_SECS", "must be > 0")
	}
	if cfg.SessionMaxDuration <= 0 {
		e.fail("SESSION_MAX_SECS", "must be > 0")
	}
	if cfg.SessionMaxDuration < cfg.SessionIdleTimeout {
		e.fail("SESSION_MAX_SECS", "must be >= SESSION_IDLE_SECS")
	}
	if len(cfg.STUNURLs) == 0 {
		e.fail("STUN_URLS", "must not be empty")
	}
	if cfg.RateLimitRPM <= 0 {
		e.fail("RATE_LIMIT_RPM", "must be > 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		e.fail("MAX_BODY_BYTES", "must be > 0")
	}
	if cfg.NegotiateTimeout <= 0 {
		e.fail("NEGOTIATE_TIMEOUT", "must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		e.fail("HANDLER_TIMEOUT", "must be > 0")
	}
	if cfg.UpstreamConnectTimeout <= 0 {
		e.fail("UPSTREAM_CONNECT_TIMEOUT", "must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		e.fail("READ_HEADER_TIMEOUT", "must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		e.fail("READ_TIMEOUT", "must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		e.fail("SHUTDOWN_GRACE_PERIOD", "must be > 0")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		e.fail("LOG_LEVEL", "must be one of debug|info|warn|error")
	}

	if len(e.errs) > 0 {
		return Config{}, fmt.Errorf("%s", strings.Join(e.errs, "; "))
	}
	return cfg, nil
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
