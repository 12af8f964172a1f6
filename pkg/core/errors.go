package core

import (
	"fmt"
)

// Error is the canonical error carried across package boundaries and
// surfaced to HTTP callers. Internal detail never crosses this boundary;
// Message is always safe to show to a client.
type Error struct {
	Kind         ErrorKind `json:"kind"`
	Message      string    `json:"message"`
	Param        string    `json:"param,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
	RetryAfterMS *int      `json:"retry_after_ms,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (param: %s)", e.Kind, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ErrorKind categorizes errors.
type ErrorKind string

const (
	KindBadRequest          ErrorKind = "bad_request"
	KindUnauthorized        ErrorKind = "unauthorized"
	KindRateLimited         ErrorKind = "rate_limited"
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	KindAnalysisFailed      ErrorKind = "analysis_failed"
	KindStorageFailed       ErrorKind = "storage_failed"
	KindSessionNotFound     ErrorKind = "session_not_found"
	KindPrivacyBlock        ErrorKind = "privacy_block"
	KindTimeout             ErrorKind = "timeout"
	KindInternal            ErrorKind = "internal"
)

// NewBadRequestError creates a bad request error.
func NewBadRequestError(message string) *Error {
	return &Error{Kind: KindBadRequest, Message: message}
}

// NewBadRequestErrorWithParam creates a bad request error naming the offending parameter.
func NewBadRequestErrorWithParam(message, param string) *Error {
	return &Error{Kind: KindBadRequest, Message: message, Param: param}
}

// NewUnauthorizedError creates an unauthorized error.
func NewUnauthorizedError(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

// NewRateLimitedError creates a rate limited error with a retry hint in milliseconds.
func NewRateLimitedError(message string, retryAfterMS int) *Error {
	return &Error{Kind: KindRateLimited, Message: message, RetryAfterMS: &retryAfterMS}
}

// NewUpstreamUnavailableError creates an upstream unavailable error with a retry hint.
func NewUpstreamUnavailableError(message string, retryAfterMS int) *Error {
	return &Error{Kind: KindUpstreamUnavailable, Message: message, RetryAfterMS: &retryAfterMS}
}

// NewAnalysisFailedError creates an analysis failed error.
func NewAnalysisFailedError(message string) *Error {
	return &Error{Kind: KindAnalysisFailed, Message: message}
}

// NewStorageFailedError creates a storage failed error.
func NewStorageFailedError(message string) *Error {
	return &Error{Kind: KindStorageFailed, Message: message}
}

// NewSessionNotFoundError creates a session not found error.
func NewSessionNotFoundError(message string) *Error {
	return &Error{Kind: KindSessionNotFound, Message: message}
}

// NewSessionNotFoundErrorWithParam creates a not found error naming the
// offending parameter.
func NewSessionNotFoundErrorWithParam(message, param string) *Error {
	return &Error{Kind: KindSessionNotFound, Message: message, Param: param}
}

// NewPrivacyBlockError creates a privacy block error.
func NewPrivacyBlockError(message string) *Error {
	return &Error{Kind: KindPrivacyBlock, Message: message}
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(message string) *Error {
	return &Error{Kind: KindTimeout, Message: message}
}

// NewInternalError creates an internal error. The message must already be
// scrubbed of internal identifiers.
func NewInternalError(message string) *Error {
	return &Error{Kind: KindInternal, Message: message}
}

// IsRetryable returns true if the error is worth retrying by the caller.
func (e *Error) IsRetryable() bool {
	switch e.Kind {
	case KindRateLimited, KindUpstreamUnavailable, KindTimeout:
		return true
	default:
		return false
	}
}
