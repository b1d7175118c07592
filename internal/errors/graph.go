package errors

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/fulmenhq/gofulmen/errors"

	"github.com/intunectl/intunectl/internal/graph"
)

// WrapGraph converts an executor or Graph response failure into an envelope
// whose code reflects the failure kind.
func WrapGraph(ctx context.Context, err error) *errors.ErrorEnvelope {
	if err == nil {
		return nil
	}
	if envelope, ok := err.(*errors.ErrorEnvelope); ok && envelope != nil {
		return envelope
	}

	code, high := graphCode(err)
	envelope := stamp(ctx, errors.NewErrorEnvelope(code, err.Error()))
	severity := errors.SeverityMedium
	if high {
		severity = errors.SeverityHigh
	}
	if withSeverity, sevErr := envelope.WithSeverity(severity); sevErr == nil {
		envelope = withSeverity
	}

	var respErr *graph.ResponseError
	if stderrors.As(err, &respErr) {
		updated, ctxErr := envelope.WithContext(map[string]interface{}{
			"graph_status": respErr.StatusCode,
			"graph_code":   respErr.Code,
		})
		if ctxErr == nil {
			envelope = updated
		}
	}
	return envelope
}

// graphCode reports the envelope code and whether the failure is high severity.
func graphCode(err error) (string, bool) {
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return CodeTimeout, false
	case stderrors.Is(err, context.Canceled):
		return CodeCanceled, false
	}

	switch graph.Classify(nil, err) {
	case graph.KindRetriesExhausted:
		return CodeRetriesExhausted, true
	case graph.KindNetwork:
		return CodeNetworkFailure, true
	case graph.KindNoSession, graph.KindUnauthorized:
		return CodeUnauthorized, false
	case graph.KindRateLimited:
		return CodeRateLimited, false
	}

	var respErr *graph.ResponseError
	if stderrors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusBadRequest:
			return CodeInvalidInput, false
		case http.StatusForbidden:
			return CodeForbidden, false
		case http.StatusNotFound:
			return CodeNotFound, false
		case http.StatusConflict:
			return CodeConflict, false
		}
		return CodeExternalService, true
	}
	return CodeInternal, true
}
