package main

import (
	"log/slog"
	"net/http/httptest"
	"testing"
)

func TestOriginChecker(t *testing.T) {
	deny := originChecker(nil)
	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	if deny(req) {
		t.Fatal("empty allow list should refuse cross-origin upgrades")
	}

	allowed := originChecker(map[string]struct{}{"https://app.example": {}})
	if allowed(req) {
		t.Fatal("unlisted origin should be rejected")
	}
	req.Header.Set("Origin", "https://app.example")
	if !allowed(req) {
		t.Fatal("listed origin should be permitted")
	}
	req.Header.Del("Origin")
	if !allowed(req) {
		t.Fatal("same-origin request without Origin header should pass")
	}
}

func TestLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	}
	for name, want := range cases {
		if got := logLevel(name); got != want {
			t.Fatalf("logLevel(%q) = %v, want %v", name, got, want)
		}
	}
}
