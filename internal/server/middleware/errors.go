package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/intunectl/intunectl/internal/metrics"
	"github.com/intunectl/intunectl/internal/observability"
)

// ErrorResponse mirrors the API error body; internal/errors imports this
// package, so it cannot be shared.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

const panicCode = "INTERNAL_ERROR"

// Recovery answers a handler panic with a 500 envelope carrying only the
// request id. http.ErrAbortHandler is re-raised so net/http can drop the
// connection.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			recovered := recover()
			switch recovered {
			case nil:
				return
			case http.ErrAbortHandler:
				panic(recovered)
			}
			metrics.RecordPanic()
			writePanic(w, r, recovered, debug.Stack())
		}()
		next.ServeHTTP(w, r)
	})
}

func writePanic(w http.ResponseWriter, r *http.Request, recovered any, stack []byte) {
	requestID := GetRequestID(r.Context())
	envelope, _ := errors.NewErrorEnvelope(panicCode, "internal server error").
		WithCorrelationID(requestID).
		WithSeverity(errors.SeverityCritical)

	if log := observability.ServerLogger; log != nil {
		log.Error("Handler panic",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID),
			zap.String("panic", fmt.Sprint(recovered)),
			zap.ByteString("stack_trace", stack))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: ErrorDetail{
		Code:      envelope.Code,
		Message:   envelope.Message,
		RequestID: envelope.CorrelationID,
	}})
}
