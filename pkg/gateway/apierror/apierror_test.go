package apierror

import (
	"context"
	"errors"
	"testing"

	"github.com/atelierlive/atelier/pkg/core"
)

func TestFromError_ContextCanceled_Is408(t *testing.T) {
	ce, status := FromError(context.Canceled, "req_test")
	if status != 408 {
		t.Fatalf("status=%d", status)
	}
	if ce.Kind != core.KindTimeout {
		t.Fatalf("kind=%q", ce.Kind)
	}
	if ce.RequestID != "req_test" {
		t.Fatalf("request_id=%q", ce.RequestID)
	}
}

func TestFromError_DeadlineExceeded_Is504(t *testing.T) {
	_, status := FromError(context.DeadlineExceeded, "req_test")
	if status != 504 {
		t.Fatalf("status=%d", status)
	}
}

func TestFromError_CanonicalKindsKeepStatus(t *testing.T) {
	cases := []struct {
		kind core.ErrorKind
		want int
	}{
		{core.KindBadRequest, 400},
		{core.KindUnauthorized, 401},
		{core.KindRateLimited, 429},
		{core.KindUpstreamUnavailable, 502},
		{core.KindAnalysisFailed, 502},
		{core.KindStorageFailed, 502},
		{core.KindSessionNotFound, 404},
		{core.KindPrivacyBlock, 403},
		{core.KindTimeout, 504},
		{core.KindInternal, 500},
	}
	for _, tc := range cases {
		ce, status := FromError(&core.Error{Kind: tc.kind, Message: "m"}, "req_1")
		if status != tc.want {
			t.Errorf("kind %s: status=%d, want %d", tc.kind, status, tc.want)
		}
		if ce.RequestID != "req_1" {
			t.Errorf("kind %s: request_id=%q", tc.kind, ce.RequestID)
		}
	}
}

func TestFromError_UnknownErrorDoesNotLeak(t *testing.T) {
	ce, status := FromError(errors.New("pgx: connection refused to 10.0.0.8"), "req_test")
	if status != 500 {
		t.Fatalf("status=%d", status)
	}
	if ce.Kind != core.KindInternal {
		t.Fatalf("kind=%q", ce.Kind)
	}
	if ce.Message != "internal error" {
		t.Fatalf("message leaked: %q", ce.Message)
	}
}
