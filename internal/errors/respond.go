package errors

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/intunectl/intunectl/internal/metrics"
	"github.com/intunectl/intunectl/internal/observability"
)

// HTTPErrorDetail is the error body returned to API callers.
type HTTPErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// HTTPErrorResponse wraps HTTPErrorDetail as {"error": ...}.
type HTTPErrorResponse struct {
	Error HTTPErrorDetail `json:"error"`
}

// ResponseDetails merges envelope details and context into the API body.
// Details win on key collisions.
func ResponseDetails(envelope *errors.ErrorEnvelope) map[string]interface{} {
	if envelope == nil || len(envelope.Details)+len(envelope.Context) == 0 {
		return nil
	}
	merged := make(map[string]interface{}, len(envelope.Details)+len(envelope.Context))
	maps.Copy(merged, envelope.Context)
	maps.Copy(merged, envelope.Details)
	return merged
}

// RespondWithError normalizes err and writes it as JSON.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	RespondWithEnvelope(w, r, EnsureEnvelope(err))
}

// RespondWithEnvelope logs the envelope, records error metrics and writes
// the response.
func RespondWithEnvelope(w http.ResponseWriter, r *http.Request, envelope *errors.ErrorEnvelope) {
	if w == nil {
		return
	}
	ctx := context.Background()
	if r != nil {
		ctx = r.Context()
	}
	envelope = EnsureCorrelationID(envelope, ctx)
	status := HTTPStatusFromEnvelope(envelope)

	logEnvelope(envelope, status)
	metrics.RecordError(envelope.Code, status)
	if r != nil {
		metrics.RecordErrorByEndpoint(r.URL.Path, envelope.Code)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: HTTPErrorDetail{
		Code:      envelope.Code,
		Message:   envelope.Message,
		Details:   ResponseDetails(envelope),
		RequestID: envelope.CorrelationID,
	}})
}

func logEnvelope(envelope *errors.ErrorEnvelope, status int) {
	log := observability.ServerLogger
	if log == nil || envelope == nil {
		return
	}
	fields := make([]zap.Field, 0, 4+len(envelope.Context))
	fields = append(fields,
		zap.String("error_code", envelope.Code),
		zap.Int("http_status", status),
		zap.String("request_id", envelope.CorrelationID))
	if envelope.Severity != "" {
		fields = append(fields, zap.String("severity", string(envelope.Severity)))
	}
	for key, value := range envelope.Context {
		fields = append(fields, zap.Any(key, value))
	}

	switch envelope.Severity {
	case errors.SeverityCritical, errors.SeverityHigh:
		log.Error(envelope.Message, fields...)
	case errors.SeverityMedium:
		log.Warn(envelope.Message, fields...)
	default:
		log.Info(envelope.Message, fields...)
	}
}
