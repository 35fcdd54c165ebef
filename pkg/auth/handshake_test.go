package auth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hirewire/inboxsync/internal/api"
)

type fakeBackend struct {
	authURL *api.AuthURL
	authErr error

	status      func() (*api.HandshakeStatus, error)
	statusCalls atomic.Int32

	ensure      func(kind, email string) (*api.Provider, error)
	ensureCalls atomic.Int32
}

func (b *fakeBackend) RequestAuthURL(ctx context.Context, kind string) (*api.AuthURL, error) {
	if b.authErr != nil {
		return nil, b.authErr
	}
	if b.authURL != nil {
		return b.authURL, nil
	}
	return &api.AuthURL{URL: "https://provider.example/auth", State: "st-test"}, nil
}

func (b *fakeBackend) HandshakeStatus(ctx context.Context, state string) (*api.HandshakeStatus, error) {
	b.statusCalls.Add(1)
	if b.status != nil {
		return b.status()
	}
	return &api.HandshakeStatus{State: api.HandshakePending}, nil
}

func (b *fakeBackend) EnsureConnected(ctx context.Context, kind, email string) (*api.Provider, error) {
	b.ensureCalls.Add(1)
	if b.ensure != nil {
		return b.ensure(kind, email)
	}
	return nil, errors.New("nothing to finalize")
}

func fastOptions() Options {
	return Options{
		PollInterval: 10 * time.Millisecond,
		GraceDelay:   10 * time.Millisecond,
		Timeout:      5 * time.Second,
		OpenURL:      func(string) error { return nil },
	}
}

func startSession(t *testing.T, backend Backend, opts Options) (*Session, *Listener) {
	t.Helper()
	l := newTestListener(t)
	s, err := Start(context.Background(), backend, l, "gmail", opts)
	require.NoError(t, err)
	return s, l
}

func waitResult(t *testing.T, s *Session) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := s.Wait(ctx)
	require.NoError(t, err)
	return r
}

func TestHandshakeSuccessViaCallbackMessage(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	s, l := startSession(t, &fakeBackend{}, fastOptions())

	deliver(t, l, url.Values{
		"type":  {"GMAIL_OAUTH_SUCCESS"},
		"state": {s.State()},
		"email": {"user@example.com"},
	})

	r := waitResult(t, s)
	assert.Equal(t, OutcomeSuccess, r.Outcome)
	assert.Equal(t, "user@example.com", r.Email)
	assert.NoError(t, r.Err)

	// The registration is gone the instant the session resolves; a late
	// duplicate message lands nowhere.
	res := deliver(t, l, url.Values{
		"type":  {"GMAIL_OAUTH_SUCCESS"},
		"state": {s.State()},
	})
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Empty(t, s.Result(), "no second terminal result may be produced")
}

func TestHandshakeErrorViaCallbackMessage(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	s, l := startSession(t, &fakeBackend{}, fastOptions())

	deliver(t, l, url.Values{
		"type":    {"GMAIL_OAUTH_ERROR"},
		"state":   {s.State()},
		"message": {"access denied"},
	})

	r := waitResult(t, s)
	assert.Equal(t, OutcomeError, r.Outcome)
	assert.EqualError(t, r.Err, "access denied")
}

func TestHandshakeSuccessViaStatusPoll(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	backend := &fakeBackend{
		status: func() (*api.HandshakeStatus, error) {
			return &api.HandshakeStatus{State: api.HandshakeConnected, Email: "polled@example.com"}, nil
		},
	}
	s, _ := startSession(t, backend, fastOptions())

	r := waitResult(t, s)
	assert.Equal(t, OutcomeSuccess, r.Outcome)
	assert.Equal(t, "polled@example.com", r.Email)
}

func TestHandshakeAbortFallbackFinalizes(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	backend := &fakeBackend{
		status: func() (*api.HandshakeStatus, error) {
			return &api.HandshakeStatus{State: api.HandshakeAborted, Email: "partial@example.com"}, nil
		},
		ensure: func(kind, email string) (*api.Provider, error) {
			return &api.Provider{ID: "p-1", Kind: kind, Email: email, IsConnected: true}, nil
		},
	}
	s, _ := startSession(t, backend, fastOptions())

	r := waitResult(t, s)
	assert.Equal(t, OutcomeSuccess, r.Outcome, "a completed grant whose message never arrived must still connect")
	assert.Equal(t, "partial@example.com", r.Email)
	assert.Equal(t, int32(1), backend.ensureCalls.Load(), "exactly one fallback attempt")
}

func TestHandshakeAbortWithoutCompletionGivesUp(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	backend := &fakeBackend{
		status: func() (*api.HandshakeStatus, error) {
			return &api.HandshakeStatus{State: api.HandshakeAborted}, nil
		},
	}
	s, _ := startSession(t, backend, fastOptions())

	r := waitResult(t, s)
	assert.Equal(t, OutcomeAborted, r.Outcome)
	assert.ErrorIs(t, r.Err, ErrAborted)
	assert.Equal(t, int32(1), backend.ensureCalls.Load())
}

func TestHandshakeTimeout(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	opts := fastOptions()
	opts.Timeout = 50 * time.Millisecond
	backend := &fakeBackend{}
	s, _ := startSession(t, backend, opts)

	r := waitResult(t, s)
	assert.Equal(t, OutcomeTimeout, r.Outcome)
	assert.ErrorIs(t, r.Err, ErrTimeout)

	// Nothing may fire after the terminal transition.
	calls := backend.statusCalls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, backend.statusCalls.Load(), "status polling must stop at resolution")
}

func TestHandshakeCancel(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	s, _ := startSession(t, &fakeBackend{}, fastOptions())

	s.Cancel()
	s.Cancel() // idempotent

	r := waitResult(t, s)
	assert.Equal(t, OutcomeAborted, r.Outcome)
}

func TestHandshakeExactlyOneTerminalState(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	// Both resolution paths race: the status poll reports connected while
	// a callback message arrives.
	backend := &fakeBackend{
		status: func() (*api.HandshakeStatus, error) {
			return &api.HandshakeStatus{State: api.HandshakeConnected, Email: "poll@example.com"}, nil
		},
	}
	s, l := startSession(t, backend, fastOptions())
	deliver(t, l, url.Values{
		"type":  {"GMAIL_OAUTH_SUCCESS"},
		"state": {s.State()},
		"email": {"message@example.com"},
	})

	r := waitResult(t, s)
	assert.Equal(t, OutcomeSuccess, r.Outcome)

	select {
	case extra, ok := <-s.Result():
		if ok {
			t.Fatalf("second terminal result delivered: %+v", extra)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHandshakeOpenURLFailureNeverStarts(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	l := newTestListener(t)
	opts := fastOptions()
	opts.OpenURL = func(string) error { return errors.New("browser unavailable") }

	s, err := Start(context.Background(), &fakeBackend{}, l, "gmail", opts)
	require.Error(t, err)
	assert.Nil(t, s)
	assert.Contains(t, err.Error(), "failed to open authorization URL")

	// The state registration must not survive the failed start.
	res := deliver(t, l, url.Values{
		"type":  {"GMAIL_OAUTH_SUCCESS"},
		"state": {"st-test"},
	})
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
}

func TestHandshakeAuthURLRequestFailure(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	l := newTestListener(t)

	s, err := Start(context.Background(), &fakeBackend{authErr: errors.New("backend down")}, l, "gmail", fastOptions())
	require.Error(t, err)
	assert.Nil(t, s)
}

func TestHandshakeBuildsURLFromClientConfig(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	l := newTestListener(t)

	var opened string
	opts := fastOptions()
	opts.OpenURL = func(u string) error { opened = u; return nil }

	backend := &fakeBackend{
		authURL: &api.AuthURL{
			State: "st-cfg",
			ClientConfig: &api.OAuthClientConfig{
				ClientID:     "client-1",
				AuthEndpoint: "https://provider.example/o/authorize",
				Scopes:       []string{"mail.read"},
			},
		},
	}
	s, err := Start(context.Background(), backend, l, "gmail", opts)
	require.NoError(t, err)
	defer s.Cancel()

	u, err := url.Parse(opened)
	require.NoError(t, err)
	assert.Equal(t, "provider.example", u.Host)
	q := u.Query()
	assert.Equal(t, "client-1", q.Get("client_id"))
	assert.Equal(t, "st-cfg", q.Get("state"))
	assert.Equal(t, l.URL(), q.Get("redirect_uri"))
	assert.Equal(t, "mail.read", q.Get("scope"))
}
