// Package errors builds gofulmen error envelopes for the API and maps Graph
// executor failures onto envelope codes and HTTP statuses.
package errors

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/google/uuid"

	"github.com/intunectl/intunectl/internal/server/middleware"
)

// Envelope codes. Graph failures use the last block; see WrapGraph.
const (
	CodeInvalidInput     = "INVALID_INPUT"
	CodeValidation       = "VALIDATION_FAILED"
	CodeNotFound         = "NOT_FOUND"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeConflict         = "CONFLICT"

	CodeInternal        = "INTERNAL_ERROR"
	CodeDatabase        = "DATABASE_ERROR"
	CodeExternalService = "EXTERNAL_SERVICE_ERROR"
	CodeTimeout         = "TIMEOUT"
	CodeCanceled        = "CANCELED"
	CodeDataProcessing  = "DATA_PROCESSING_ERROR"
	CodeConfigInvalid   = "CONFIG_INVALID"
	CodeUnavailable     = "SERVICE_UNAVAILABLE"

	CodeRateLimited      = "RATE_LIMITED"
	CodeNetworkFailure   = "NETWORK_FAILURE"
	CodeRetriesExhausted = "RETRIES_EXHAUSTED"
)

// statusClientClosed is nginx's convention for a caller that went away.
const statusClientClosed = 499

var statusByCode = map[string]int{
	CodeInvalidInput:     http.StatusBadRequest,
	CodeValidation:       http.StatusBadRequest,
	CodeNotFound:         http.StatusNotFound,
	CodeUnauthorized:     http.StatusUnauthorized,
	CodeForbidden:        http.StatusForbidden,
	CodeMethodNotAllowed: http.StatusMethodNotAllowed,
	CodeConflict:         http.StatusConflict,
	CodeRateLimited:      http.StatusTooManyRequests,
	CodeTimeout:          http.StatusGatewayTimeout,
	CodeCanceled:         statusClientClosed,
	CodeExternalService:  http.StatusBadGateway,
	CodeNetworkFailure:   http.StatusBadGateway,
	CodeUnavailable:      http.StatusServiceUnavailable,
	CodeRetriesExhausted: http.StatusServiceUnavailable,
}

// HTTPStatusFromCode resolves the HTTP status for a code; unknown codes are 500.
func HTTPStatusFromCode(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func HTTPStatusFromEnvelope(envelope *errors.ErrorEnvelope) int {
	if envelope == nil {
		return http.StatusInternalServerError
	}
	return HTTPStatusFromCode(envelope.Code)
}

func NewInvalidInputError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeInvalidInput, message)
}

func NewNotFoundError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeNotFound, message)
}

func NewMethodNotAllowedError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeMethodNotAllowed, message)
}

func NewInternalError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeInternal, message)
}

// NewExternalServiceError reports a Graph-side failure with no more
// specific code.
func NewExternalServiceError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeExternalService, message)
}

func NewConfigInvalidError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeConfigInvalid, message)
}

// The Wrap helpers stamp the request id onto the envelope and keep the
// cause under "wrapped_error".

func WrapInvalidInput(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeInvalidInput, err, message)
}

func WrapInternal(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeInternal, err, message)
}

func WrapDatabaseError(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeDatabase, err, message)
}

func WrapDataProcessing(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeDataProcessing, err, message)
}

func WrapConfigInvalid(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeConfigInvalid, err, message)
}

func wrap(ctx context.Context, code string, err error, message string) *errors.ErrorEnvelope {
	return withCause(stamp(ctx, errors.NewErrorEnvelope(code, message)), err)
}

// stamp sets the correlation id from the request, or a fresh uuid. There is
// no tracer; the trace id follows the correlation id.
func stamp(ctx context.Context, envelope *errors.ErrorEnvelope) *errors.ErrorEnvelope {
	id := requestID(ctx)
	if id == "" {
		id = uuid.NewString()
	}
	return envelope.WithCorrelationID(id).WithTraceID(id)
}

func requestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	return middleware.GetRequestID(ctx)
}

func withCause(envelope *errors.ErrorEnvelope, err error) *errors.ErrorEnvelope {
	if envelope == nil || err == nil {
		return envelope
	}
	if updated, ctxErr := envelope.WithContext(map[string]interface{}{"wrapped_error": err.Error()}); ctxErr == nil {
		return updated
	}
	return envelope
}

// EnsureEnvelope normalizes any error into an envelope. Graph and executor
// errors keep their failure kind; anything else is a high-severity 500.
func EnsureEnvelope(err error) *errors.ErrorEnvelope {
	if err == nil {
		env, _ := errors.NewErrorEnvelope(CodeInternal, "unexpected nil error").WithSeverity(errors.SeverityCritical)
		return env
	}
	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) && envelope != nil {
		return envelope
	}
	if code, _ := graphCode(err); code != CodeInternal {
		return WrapGraph(context.Background(), err)
	}
	env, _ := withCause(errors.NewErrorEnvelope(CodeInternal, "unexpected error"), err).WithSeverity(errors.SeverityHigh)
	return env
}

// EnsureCorrelationID attaches the request id when the envelope has none.
func EnsureCorrelationID(envelope *errors.ErrorEnvelope, ctx context.Context) *errors.ErrorEnvelope {
	if envelope == nil || envelope.CorrelationID != "" {
		return envelope
	}
	id := requestID(ctx)
	if id == "" {
		id = "fallback-" + errors.GenerateCorrelationID()
	}
	return envelope.WithCorrelationID(id)
}
