package middleware

import (
	"context"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const (
	RequestIDHeader = "X-Request-ID"
	// ClientRequestIDHeader is the correlation header Graph clients already send.
	ClientRequestIDHeader = "client-request-id"
)

type requestIDContextKey string

const RequestIDContextKey requestIDContextKey = "request_id"

const maxRequestIDLength = 128

// incomingRequestID returns the first usable caller-supplied id.
func incomingRequestID(r *http.Request) string {
	for _, candidate := range []string{
		chimw.GetReqID(r.Context()),
		r.Header.Get(RequestIDHeader),
		r.Header.Get(ClientRequestIDHeader),
	} {
		if candidate != "" && len(candidate) <= maxRequestIDLength {
			return candidate
		}
	}
	return ""
}

// RequestID stores a request id on the context and echoes it in the
// X-Request-ID response header. Oversized ids are replaced.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := incomingRequestID(r)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), RequestIDContextKey, id)))
	})
}

func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDContextKey).(string); ok {
		return id
	}
	return chimw.GetReqID(ctx)
}
