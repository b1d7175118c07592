package handlers

import (
	"net/http"
	"sync/atomic"

	apperrors "github.com/intunectl/intunectl/internal/errors"
)

// ErrorResponder writes err to w as an API error body.
type ErrorResponder func(http.ResponseWriter, *http.Request, error)

var responder atomic.Pointer[ErrorResponder]

// SetHTTPErrorResponder routes handler errors through fn. A nil fn restores
// apperrors.RespondWithError.
func SetHTTPErrorResponder(fn func(http.ResponseWriter, *http.Request, error)) {
	if fn == nil {
		responder.Store(nil)
		return
	}
	r := ErrorResponder(fn)
	responder.Store(&r)
}

func ResetHTTPErrorResponder() { responder.Store(nil) }

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	if fn := responder.Load(); fn != nil {
		(*fn)(w, r, err)
		return
	}
	apperrors.RespondWithError(w, r, err)
}
