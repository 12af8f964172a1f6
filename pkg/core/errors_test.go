package core

import "testing"

func TestErrorString(t *testing.T) {
	err := NewBadRequestErrorWithParam("image data is required", "image_data")
	want := "bad_request: image data is required (param: image_data)"
	if got := err.Error(); got != want {
		t.Fatalf("Error()=%q, want %q", got, want)
	}

	plain := NewInternalError("internal error")
	if got := plain.Error(); got != "internal: internal error" {
		t.Fatalf("Error()=%q", got)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  *Error
		want bool
	}{
		{NewRateLimitedError("slow down", 1000), true},
		{NewUpstreamUnavailableError("live backend unreachable", 500), true},
		{NewTimeoutError("request timeout"), true},
		{NewBadRequestError("missing field"), false},
		{NewPrivacyBlockError("too many faces"), false},
		{NewStorageFailedError("blob write failed"), false},
	}
	for _, tc := range cases {
		if got := tc.err.IsRetryable(); got != tc.want {
			t.Errorf("%s: IsRetryable()=%v, want %v", tc.err.Kind, got, tc.want)
		}
	}
}

func TestRateLimitedCarriesRetryHint(t *testing.T) {
	err := NewRateLimitedError("too many requests", 6000)
	if err.RetryAfterMS == nil || *err.RetryAfterMS != 6000 {
		t.Fatalf("RetryAfterMS=%v, want 6000", err.RetryAfterMS)
	}
}
