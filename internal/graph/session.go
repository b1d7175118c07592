package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// Credential produces token sources. Each call must return a source that
// fetches a fresh token rather than replaying a cached one;
// *clientcredentials.Config satisfies this.
type Credential interface {
	TokenSource(ctx context.Context) oauth2.TokenSource
}

// Session carries the bearer token and adaptive delay for one signed-in
// principal. It is created on sign-in and closed on sign-out.
type Session struct {
	mu        sync.RWMutex
	cred      Credential
	token     *oauth2.Token
	pacer     *Pacer
	closed    bool
	refreshes int
	clock     func() time.Time
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithPacer installs a specific pacer instead of a default one.
func WithPacer(p *Pacer) SessionOption {
	return func(s *Session) {
		if p != nil {
			s.pacer = p
		}
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(clock func() time.Time) SessionOption {
	return func(s *Session) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewSession signs in by acquiring an initial token from cred.
func NewSession(ctx context.Context, cred Credential, opts ...SessionOption) (*Session, error) {
	if cred == nil {
		return nil, errors.New("graph credential is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s := &Session{cred: cred}
	for _, opt := range opts {
		opt(s)
	}
	if s.pacer == nil {
		s.pacer = NewPacer(DefaultPacerConfig)
	}

	token, err := cred.TokenSource(ctx).Token()
	if err != nil {
		return nil, fmt.Errorf("acquire graph token: %w", err)
	}
	if token == nil || strings.TrimSpace(token.AccessToken) == "" {
		return nil, errors.New("acquire graph token: empty access token")
	}
	s.token = token
	return s, nil
}

// AccessToken returns the current bearer token, refreshing it first when it
// has expired.
func (s *Session) AccessToken(ctx context.Context) (string, error) {
	if s == nil {
		return "", ErrNoSession
	}

	s.mu.RLock()
	closed := s.closed
	token := s.token
	s.mu.RUnlock()

	if closed {
		return "", ErrNoSession
	}
	if token != nil && !s.expired(token) {
		return token.AccessToken, nil
	}

	return s.renew(ctx)
}

// Refresh replaces the bearer token with a freshly acquired one.
func (s *Session) Refresh(ctx context.Context) error {
	_, err := s.renew(ctx)
	return err
}

// renew acquires a token and returns it while still holding the lock, so a
// concurrent Close cannot clear it first.
func (s *Session) renew(ctx context.Context) (string, error) {
	if s == nil {
		return "", ErrNoSession
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrNoSession
	}
	s.refreshes++

	token, err := s.cred.TokenSource(ctx).Token()
	if err != nil {
		return "", fmt.Errorf("refresh graph token: %w", err)
	}
	if token == nil || strings.TrimSpace(token.AccessToken) == "" {
		return "", errors.New("refresh graph token: empty access token")
	}
	s.token = token
	return token.AccessToken, nil
}

// Refreshes reports how many refresh attempts have been made.
func (s *Session) Refreshes() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshes
}

// ExpiresAt returns the expiry of the current token; zero means unknown.
func (s *Session) ExpiresAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return time.Time{}
	}
	return s.token.Expiry
}

// Pacer returns the session's adaptive delay estimate.
func (s *Session) Pacer() *Pacer {
	if s == nil {
		return nil
	}
	return s.pacer
}

// Close signs out. The token is discarded and later requests fail with
// ErrNoSession.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.token = nil
	return nil
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	if s == nil {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Session) expired(token *oauth2.Token) bool {
	if token.Expiry.IsZero() {
		return false
	}
	return !token.Expiry.After(s.now())
}

func (s *Session) now() time.Time {
	if s.clock != nil {
		return s.clock()
	}
	return time.Now().UTC()
}
