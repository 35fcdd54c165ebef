package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hirewire/inboxsync/internal/api"
)

// Sentinel errors for terminal handshake outcomes.
var (
	ErrTimeout = errors.New("authorization timeout exceeded")
	ErrAborted = errors.New("authorization window closed before completion")
)

// Outcome is the terminal state of one handshake session.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeSuccess
	OutcomeError
	OutcomeTimeout
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeError:
		return "error"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeAborted:
		return "aborted"
	default:
		return "pending"
	}
}

// Result is delivered exactly once per session.
type Result struct {
	Outcome Outcome
	Email   string
	Err     error
}

// Backend is the slice of the REST service a handshake needs. *api.Client
// satisfies it.
type Backend interface {
	RequestAuthURL(ctx context.Context, providerKind string) (*api.AuthURL, error)
	HandshakeStatus(ctx context.Context, state string) (*api.HandshakeStatus, error)
	EnsureConnected(ctx context.Context, providerKind, email string) (*api.Provider, error)
}

// Options tunes a handshake session. The zero value gets the defaults.
type Options struct {
	// PollInterval is the cadence of backend status checks while awaiting
	// a result. Default 500ms.
	PollInterval time.Duration
	// GraceDelay is how long to wait after an observed abort before the
	// one fallback finalization attempt. The abort and the provider-side
	// completion are not ordered events, so the handshake gives a late
	// completion this one chance to land. Default 2s.
	GraceDelay time.Duration
	// Timeout is the overall ceiling for the handshake. Default 5m.
	Timeout time.Duration
	// OpenURL navigates the user to the authorization URL. Nil prints it.
	OpenURL func(url string) error

	Logger *log.Logger
}

func (o *Options) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.GraceDelay <= 0 {
		o.GraceDelay = 2 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Minute
	}
	if o.OpenURL == nil {
		o.OpenURL = func(url string) error {
			fmt.Printf("\nAuthorization required\n")
			fmt.Printf("1. Open this link: %s\n", url)
			fmt.Printf("2. Grant access to the application\n")
			fmt.Printf("\nWaiting for authorization...\n")
			return nil
		}
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard, "", 0)
	}
}

// Session is one OAuth handshake from authorization-URL request to terminal
// outcome. Exactly one of success, error, timeout or abort resolves it; the
// instant it resolves, the callback registration is detached and the watch
// goroutine is told to stop, so nothing fires on a resolved session.
type Session struct {
	provider string
	backend  Backend
	opts     Options
	state    string

	detach func()
	done   chan struct{}
	result chan Result
	once   sync.Once

	mu        sync.Mutex
	lastEmail string
}

// Start begins a handshake for the given provider kind: requests an
// authorization URL, registers for the callback, opens the URL, and watches
// for an outcome. A failure to even open the URL is returned directly; the
// session never starts.
func Start(ctx context.Context, backend Backend, listener *Listener, providerKind string, opts Options) (*Session, error) {
	opts.applyDefaults()

	authURL, err := backend.RequestAuthURL(ctx, providerKind)
	if err != nil {
		return nil, fmt.Errorf("failed to request authorization URL: %w", err)
	}

	s := &Session{
		provider: providerKind,
		backend:  backend,
		opts:     opts,
		state:    authURL.State,
		done:     make(chan struct{}),
		result:   make(chan Result, 1),
	}
	if s.state == "" {
		s.state = uuid.NewString()
	}

	target := authURL.URL
	if target == "" {
		if authURL.ClientConfig == nil {
			return nil, fmt.Errorf("authorization response carried neither URL nor client config")
		}
		target = BuildAuthURL(*authURL.ClientConfig, s.state, listener.URL())
	}

	s.detach = listener.Register(s.state, s.onMessage)

	if err := opts.OpenURL(target); err != nil {
		s.detach()
		return nil, fmt.Errorf("failed to open authorization URL: %w", err)
	}

	go s.watch(ctx)
	return s, nil
}

// State returns the session's state token.
func (s *Session) State() string { return s.state }

// Result returns the channel the terminal outcome is delivered on.
func (s *Session) Result() <-chan Result { return s.result }

// Wait blocks for the terminal outcome or context cancellation.
func (s *Session) Wait(ctx context.Context) (Result, error) {
	select {
	case r := <-s.result:
		return r, nil
	case <-ctx.Done():
		s.Cancel()
		return Result{}, ctx.Err()
	}
}

// Cancel aborts the session locally. Harmless on a resolved session.
func (s *Session) Cancel() {
	s.resolve(Result{Outcome: OutcomeAborted, Err: ErrAborted})
}

// resolve performs the single terminal transition: detach the callback
// registration, stop the watch goroutine, then deliver the result.
func (s *Session) resolve(r Result) {
	s.once.Do(func() {
		s.detach()
		close(s.done)
		s.result <- r
	})
}

// onMessage handles a typed callback message. Runs on the listener's
// serving goroutine.
func (s *Session) onMessage(m Message) {
	switch {
	case m.IsSuccess():
		s.resolve(Result{Outcome: OutcomeSuccess, Email: m.Email})
	case m.IsError():
		msg := m.ErrorMessage
		if msg == "" {
			msg = "provider reported an authorization error"
		}
		s.resolve(Result{Outcome: OutcomeError, Err: errors.New(msg)})
	}
}

// watch polls the backend for the handshake state and enforces the overall
// timeout. The callback message is the fast path; the poll catches aborted
// and completed handshakes whose message never arrived.
func (s *Session) watch(ctx context.Context) {
	timeout := time.NewTimer(s.opts.Timeout)
	defer timeout.Stop()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			s.Cancel()
			return
		case <-timeout.C:
			s.resolve(Result{Outcome: OutcomeTimeout, Err: ErrTimeout})
			return
		case <-ticker.C:
			st, err := s.backend.HandshakeStatus(ctx, s.state)
			if err != nil {
				// Transient; the next tick retries.
				continue
			}
			switch st.State {
			case api.HandshakeConnected:
				s.resolve(Result{Outcome: OutcomeSuccess, Email: st.Email})
				return
			case api.HandshakeFailed:
				msg := st.Message
				if msg == "" {
					msg = "authorization failed"
				}
				s.resolve(Result{Outcome: OutcomeError, Err: errors.New(msg)})
				return
			case api.HandshakeAborted:
				s.abortWithFallback(ctx, st.Email)
				return
			default:
				if st.Email != "" {
					s.mu.Lock()
					s.lastEmail = st.Email
					s.mu.Unlock()
				}
			}
		}
	}
}

// abortWithFallback handles the observed-abort path. The user closing the
// authorization window and the provider finishing the grant are unordered,
// so after a short grace delay the session makes one idempotent attempt to
// finalize the connection from whatever the backend already holds before
// giving up.
func (s *Session) abortWithFallback(ctx context.Context, email string) {
	select {
	case <-time.After(s.opts.GraceDelay):
	case <-s.done:
		return
	case <-ctx.Done():
		s.Cancel()
		return
	}

	if email == "" {
		s.mu.Lock()
		email = s.lastEmail
		s.mu.Unlock()
	}

	p, err := s.backend.EnsureConnected(ctx, s.provider, email)
	if err == nil && p != nil && p.IsConnected {
		s.resolve(Result{Outcome: OutcomeSuccess, Email: p.Email})
		return
	}
	if err != nil {
		s.opts.Logger.Printf("auth: abort fallback did not connect %s: %v", s.provider, err)
	}
	s.resolve(Result{Outcome: OutcomeAborted, Err: ErrAborted})
}
