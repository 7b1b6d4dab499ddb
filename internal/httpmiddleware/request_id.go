// Package httpmiddleware holds small chi-compatible HTTP middleware.
package httpmiddleware

import (
	"net/http"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/mediahls/internal/observability"
)

// RequestIDHeader is the HTTP header carrying the per-request correlation ID.
const RequestIDHeader = "X-Request-ID"

// RequestID injects a ULID-based request ID into the request context and
// response headers. If the caller already supplied one via RequestIDHeader,
// it is reused rather than replaced.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = ulid.Make().String()
		}

		w.Header().Set(RequestIDHeader, requestID)
		ctx := observability.ContextWithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
