package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	// ErrNoSession is returned once the session has been closed.
	ErrNoSession = errors.New("graph session is not signed in")

	// ErrRetriesExhausted marks a failure surfaced after the retry ceiling.
	ErrRetriesExhausted = errors.New("graph request retries exhausted")

	// ErrRateLimited matches responses with status 429.
	ErrRateLimited = errors.New("graph request rate limited")

	// ErrUnauthorized matches responses with status 401.
	ErrUnauthorized = errors.New("graph request unauthorized")
)

// NetworkError is a transport failure that happened before any response.
type NetworkError struct {
	Method  string
	URL     string
	Attempt int
	Err     error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s (attempt %d): %v", e.Method, e.URL, e.Attempt+1, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// RetriesExhaustedError wraps the last failure once retries are spent.
type RetriesExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("graph request failed after %d attempt(s): %v", e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() []error {
	return []error{ErrRetriesExhausted, e.Last}
}

// ResponseError is a non-2xx Graph response, carrying Graph's error message
// when the body has one.
type ResponseError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ResponseError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// Is lets errors.Is match ErrRateLimited and ErrUnauthorized.
func (e *ResponseError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	}
	return false
}

// CheckResponse returns nil for 2xx responses and a *ResponseError
// otherwise. The body is consumed on error.
func CheckResponse(resp *http.Response) error {
	if resp == nil {
		return errors.New("graph response is nil")
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return ParseResponseError(resp.StatusCode, body)
}

// ParseResponseError prefers error.message, then message, then the raw body.
func ParseResponseError(status int, body []byte) *ResponseError {
	out := &ResponseError{StatusCode: status}

	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		out.Code = payload.Error.Code
		switch {
		case payload.Error.Message != "":
			out.Message = payload.Error.Message
		case payload.Message != "":
			out.Message = payload.Message
		}
	}
	if out.Message == "" {
		out.Message = strings.TrimSpace(string(body))
	}
	return out
}

// ErrorKind classifies an executor outcome.
type ErrorKind string

const (
	KindNone             ErrorKind = ""
	KindRateLimited      ErrorKind = "rate_limited"
	KindUnauthorized     ErrorKind = "unauthorized"
	KindNetwork          ErrorKind = "network_failure"
	KindRetriesExhausted ErrorKind = "retries_exhausted"
	KindNoSession        ErrorKind = "no_session"
	KindOther            ErrorKind = "other"
)

// Classify maps an executor result onto the transient failure taxonomy.
// Statuses other than 401 and 429 are not interpreted.
func Classify(resp *http.Response, err error) ErrorKind {
	if err != nil {
		var netErr *NetworkError
		switch {
		case errors.Is(err, ErrRetriesExhausted):
			return KindRetriesExhausted
		case errors.As(err, &netErr):
			return KindNetwork
		case errors.Is(err, ErrNoSession):
			return KindNoSession
		case errors.Is(err, ErrRateLimited):
			return KindRateLimited
		case errors.Is(err, ErrUnauthorized):
			return KindUnauthorized
		}
		return KindOther
	}
	if resp == nil {
		return KindNone
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return KindRateLimited
	case http.StatusUnauthorized:
		return KindUnauthorized
	}
	return KindNone
}
