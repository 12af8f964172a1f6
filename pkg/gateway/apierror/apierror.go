// Package apierror converts internal errors into the single JSON error
// envelope the HTTP surface exposes.
package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/atelierlive/atelier/pkg/core"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

// FromError maps any error to the canonical envelope and HTTP status.
// Unknown errors are reported as internal without leaking detail.
func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	// Context timeouts/cancellation.
	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{
			Kind:      core.KindTimeout,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{
			Kind:      core.KindTimeout,
			Message:   "request cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Already canonical.
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		return &out, StatusFromKind(coreErr.Kind)
	}

	return &core.Error{
		Kind:      core.KindInternal,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

// StatusFromKind maps an error kind to its HTTP status code.
func StatusFromKind(kind core.ErrorKind) int {
	switch kind {
	case core.KindBadRequest:
		return http.StatusBadRequest
	case core.KindUnauthorized:
		return http.StatusUnauthorized
	case core.KindRateLimited:
		return http.StatusTooManyRequests
	case core.KindUpstreamUnavailable:
		return http.StatusBadGateway
	case core.KindAnalysisFailed:
		return http.StatusBadGateway
	case core.KindStorageFailed:
		return http.StatusBadGateway
	case core.KindSessionNotFound:
		return http.StatusNotFound
	case core.KindPrivacyBlock:
		return http.StatusForbidden
	case core.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
