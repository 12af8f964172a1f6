package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/atelierlive/atelier/pkg/core"
	"github.com/atelierlive/atelier/pkg/gateway/ratelimit"
)

// RateLimit charges the request against the per-source budget. It is
// mounted only on the privacy and spatial endpoints; health, signaling,
// and gallery reads stay unmetered.
func RateLimit(limiter *ratelimit.Limiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		source := ratelimit.SourceKey(r.RemoteAddr)
		dec := limiter.Acquire(source, time.Now())
		if !dec.Allowed {
			reqID, _ := RequestIDFrom(r.Context())
			if dec.RetryAfterMS > 0 {
				// Retry-After is whole seconds; round up.
				w.Header().Set("Retry-After", strconv.Itoa((dec.RetryAfterMS+999)/1000))
			}
			err := core.NewRateLimitedError("rate limit exceeded", dec.RetryAfterMS)
			err.RequestID = reqID
			writeJSONError(w, http.StatusTooManyRequests, err)
			return
		}
		if dec.Permit != nil {
			defer dec.Permit.Release()
		}

		next.ServeHTTP(w, r)
	})
}
