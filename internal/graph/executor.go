package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/intunectl/intunectl/internal/metrics"
)

const (
	// DefaultMaxRetries bounds retries after 429s and transport failures.
	DefaultMaxRetries = 3

	// DefaultMaxAuthRetries bounds retries after a 401.
	DefaultMaxAuthRetries = 1

	// ClientRequestIDHeader correlates every attempt of one call in Graph's
	// diagnostics. It stays the same across retries.
	ClientRequestIDHeader = "client-request-id"
)

// RateLimitRecorder persists request counts and 429 backoff per host.
type RateLimitRecorder interface {
	Record(ctx context.Context, endpoint string) error
	Record429(ctx context.Context, endpoint string, retryAfter time.Duration) error
}

// RateLimitGate is implemented by recorders that can hold a call back until
// a persisted backoff window has passed.
type RateLimitGate interface {
	Allow(ctx context.Context, endpoint string) (bool, time.Duration, error)
}

// Request is one logical Graph call. Body is replayed on every attempt.
type Request struct {
	Method string
	URL    string
	Body   []byte
	Header http.Header

	// Idempotent marks a POST or PATCH as safe to replay after a transport
	// failure. GET, HEAD, OPTIONS, PUT and DELETE are always replayable.
	Idempotent bool
}

// NewJSONRequest encodes v as the request body.
func NewJSONRequest(method, rawURL string, v any) (Request, error) {
	req := Request{Method: method, URL: rawURL}
	if v == nil {
		return req, nil
	}
	body, err := json.Marshal(v)
	if err != nil {
		return Request{}, err
	}
	req.Body = body
	return req, nil
}

// Executor issues Graph requests with bounded recovery from throttling,
// token expiry and transport failures.
type Executor struct {
	Session        *Session
	Client         *http.Client
	MaxRetries     int
	MaxAuthRetries int
	Recorder       RateLimitRecorder
	Logger         *logging.Logger
	Sleep          func(ctx context.Context, d time.Duration) error
	Clock          func() time.Time
}

// Do performs req. It returns the response whatever its status, or an error
// when no response could be obtained within the retry ceiling.
func (e *Executor) Do(ctx context.Context, req Request) (*http.Response, error) {
	if e == nil || e.Session == nil {
		return nil, ErrNoSession
	}
	if ctx == nil {
		ctx = context.Background()
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	endpoint := hostOf(req.URL)
	requestID := req.Header.Get(ClientRequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	maxRetries := e.maxRetries()
	maxAuthRetries := e.maxAuthRetries()

	if err := e.awaitGate(ctx, endpoint); err != nil {
		return nil, err
	}

	refreshed := false
	for attempt := 0; ; attempt++ {
		httpReq, err := e.build(ctx, method, requestID, req)
		if err != nil {
			return nil, err
		}

		if e.Recorder != nil && endpoint != "" {
			_ = e.Recorder.Record(ctx, endpoint)
		}

		resp, err := e.client().Do(httpReq)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			netErr := &NetworkError{Method: method, URL: req.URL, Attempt: attempt, Err: err}
			metrics.RecordGraphRequest(method, 0)

			if attempt >= maxRetries || !replayable(method, req.Idempotent) {
				e.warn("Graph request failed", zap.String("method", method), zap.String("url", req.URL), zap.String("client_request_id", requestID), zap.Int("attempts", attempt+1), zap.Error(err))
				return nil, &RetriesExhaustedError{Attempts: attempt + 1, Last: netErr}
			}

			wait := Backoff(attempt)
			metrics.RecordGraphRetry(string(KindNetwork))
			e.debug("Network failure, retrying", zap.String("url", req.URL), zap.String("client_request_id", requestID), zap.Int("attempt", attempt+1), zap.Duration("wait", wait), zap.Error(err))
			if err := e.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		metrics.RecordGraphRequest(method, resp.StatusCode)

		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			wait := RetryAfter(resp.Header, e.now(), Backoff(attempt))
			e.Session.Pacer().Penalize()
			if e.Recorder != nil && endpoint != "" {
				_ = e.Recorder.Record429(ctx, endpoint, wait)
			}
			if attempt >= maxRetries {
				e.warn("Rate limit retries exhausted", zap.String("url", req.URL), zap.String("client_request_id", requestID), zap.Int("attempts", attempt+1))
				return resp, nil
			}

			metrics.RecordGraphRetry(string(KindRateLimited))
			e.debug("Rate limited, retrying", zap.String("url", req.URL), zap.String("client_request_id", requestID), zap.Int("attempt", attempt+1), zap.Duration("wait", wait))
			discard(resp)
			if err := e.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue

		case http.StatusUnauthorized:
			// One refresh per call, whatever the attempt. Only a first
			// attempt is retried with the new token.
			if refreshed {
				break
			}
			refreshed = true
			if err := e.Session.Refresh(ctx); err != nil {
				e.warn("Token refresh failed", zap.String("client_request_id", requestID), zap.Error(err))
				break
			}
			if attempt >= maxAuthRetries {
				break
			}

			metrics.RecordGraphRetry(string(KindUnauthorized))
			e.debug("Unauthorized, retrying with refreshed token", zap.String("url", req.URL), zap.String("client_request_id", requestID))
			discard(resp)
			continue
		}

		e.Session.Pacer().Relax()
		return resp, nil
	}
}

// Get issues a GET.
func (e *Executor) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	return e.Do(ctx, Request{Method: http.MethodGet, URL: rawURL})
}

// Delete issues a DELETE.
func (e *Executor) Delete(ctx context.Context, rawURL string) (*http.Response, error) {
	return e.Do(ctx, Request{Method: http.MethodDelete, URL: rawURL})
}

// PostJSON issues a POST with v encoded as the body.
func (e *Executor) PostJSON(ctx context.Context, rawURL string, v any) (*http.Response, error) {
	req, err := NewJSONRequest(http.MethodPost, rawURL, v)
	if err != nil {
		return nil, err
	}
	return e.Do(ctx, req)
}

// GetJSON issues a GET and decodes a 2xx body into out.
func (e *Executor) GetJSON(ctx context.Context, rawURL string, out any) error {
	resp, err := e.Get(ctx, rawURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	if err := CheckResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (e *Executor) build(ctx context.Context, method, requestID string, req Request) (*http.Request, error) {
	token, err := e.Session.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(ClientRequestIDHeader, requestID)
	for key, values := range req.Header {
		httpReq.Header.Del(key)
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	return httpReq, nil
}

// awaitGate waits out a backoff recorded by an earlier run before the first
// attempt. Gate errors are ignored.
func (e *Executor) awaitGate(ctx context.Context, endpoint string) error {
	gate, ok := e.Recorder.(RateLimitGate)
	if !ok || endpoint == "" {
		return nil
	}
	allowed, wait, err := gate.Allow(ctx, endpoint)
	if err != nil || allowed || wait <= 0 {
		return nil
	}
	e.debug("Waiting for recorded backoff", zap.String("endpoint", endpoint), zap.Duration("wait", wait))
	return e.sleep(ctx, wait)
}

func (e *Executor) client() *http.Client {
	if e.Client != nil {
		return e.Client
	}
	return &http.Client{Timeout: 60 * time.Second}
}

func (e *Executor) maxRetries() int {
	if e.MaxRetries > 0 {
		return e.MaxRetries
	}
	return DefaultMaxRetries
}

func (e *Executor) maxAuthRetries() int {
	if e.MaxAuthRetries > 0 {
		return e.MaxAuthRetries
	}
	return DefaultMaxAuthRetries
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

func (e *Executor) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now().UTC()
}

func (e *Executor) debug(msg string, fields ...zap.Field) {
	if e.Logger != nil {
		e.Logger.Debug(msg, fields...)
	}
}

func (e *Executor) warn(msg string, fields ...zap.Field) {
	if e.Logger != nil {
		e.Logger.Warn(msg, fields...)
	}
}

func replayable(method string, idempotent bool) bool {
	if idempotent {
		return true
	}
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func discard(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}

// IsRetriesExhausted reports whether err surfaced after the retry ceiling.
func IsRetriesExhausted(err error) bool {
	return errors.Is(err, ErrRetriesExhausted)
}
