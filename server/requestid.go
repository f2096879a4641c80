package server

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type logRequestKey string

// RequestKeyRequestID is the context key the request-ID middleware
// stores the generated ID under.
const RequestKeyRequestID logRequestKey = "request_id"

// WithRequestID attaches a fresh request ID to ctx.
func WithRequestID(ctx context.Context) context.Context {
	return context.WithValue(ctx, RequestKeyRequestID, uuid.NewString())
}

// RequestIDFromContext returns the request ID stored by WithRequestID,
// or "" if none was set.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(RequestKeyRequestID).(string)
	return id
}

// requestID wraps h to generate a request ID for every inbound
// request, echoing it back as X-Request-Id so a caller can correlate
// its request against server-side logs.
func requestID(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithRequestID(r.Context())
		w.Header().Set("X-Request-Id", RequestIDFromContext(ctx))
		h.ServeHTTP(w, r.WithContext(ctx))
	})
}
