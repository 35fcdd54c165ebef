package auth

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/mux"
)

// Message is the typed payload delivered to the callback endpoint when an
// OAuth handshake completes on the provider side. Only the two recognized
// type shapes are ever forwarded to a session; anything else is dropped at
// the boundary before it reaches application logic.
type Message struct {
	Type         string `json:"type"`
	Email        string `json:"email,omitempty"`
	ErrorMessage string `json:"message,omitempty"`
	State        string `json:"state,omitempty"`
}

// IsSuccess reports whether the message carries a success type tag, e.g.
// "GMAIL_OAUTH_SUCCESS".
func (m Message) IsSuccess() bool {
	return strings.HasSuffix(m.Type, "_OAUTH_SUCCESS")
}

// IsError reports whether the message carries an error type tag, e.g.
// "GMAIL_OAUTH_ERROR".
func (m Message) IsError() bool {
	return strings.HasSuffix(m.Type, "_OAUTH_ERROR")
}

// Listener is the local endpoint OAuth redirects land on. Sessions register
// under their state token; a message whose state is unknown or whose type is
// unrecognized is ignored without side effects.
type Listener struct {
	srv    *http.Server
	ln     net.Listener
	logger *log.Logger

	mu       sync.Mutex
	sessions map[string]func(Message)
}

// NewListener starts the callback endpoint on addr. An empty addr binds an
// ephemeral loopback port.
func NewListener(addr string, logger *log.Logger) (*Listener, error) {
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	l := &Listener{
		ln:       ln,
		logger:   logger,
		sessions: make(map[string]func(Message)),
	}

	r := mux.NewRouter()
	r.HandleFunc("/oauth/callback", l.handleCallback).Methods(http.MethodGet, http.MethodPost)

	l.srv = &http.Server{Handler: r}
	go func() {
		if err := l.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Printf("auth: callback listener stopped: %v", err)
		}
	}()
	return l, nil
}

// URL returns the callback endpoint, suitable as an OAuth redirect URI.
func (l *Listener) URL() string {
	return "http://" + l.ln.Addr().String() + "/oauth/callback"
}

// Register attaches fn to the given state token. The returned func detaches
// it; calling it more than once is safe, and no message is delivered after
// it returns.
func (l *Listener) Register(state string, fn func(Message)) func() {
	l.mu.Lock()
	l.sessions[state] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.sessions, state)
		l.mu.Unlock()
	}
}

// Close shuts the endpoint down.
func (l *Listener) Close(ctx context.Context) error {
	return l.srv.Shutdown(ctx)
}

func (l *Listener) handleCallback(w http.ResponseWriter, r *http.Request) {
	m, ok := parseMessage(r)
	if !ok {
		// Unrecognized shape: expected noise, not an application error.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	l.mu.Lock()
	fn := l.sessions[m.State]
	l.mu.Unlock()
	if fn == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if m.IsError() {
		_, _ = w.Write([]byte(`
			<html>
				<body>
                    <h2>Authorization error</h2>
                    <p>The connection could not be completed. You can close this window.</p>
				</body>
			</html>
		`))
	} else {
		_, _ = w.Write([]byte(`
			<html>
				<body>
                    <h2>Authorization successful</h2>
                    <p>You can close this window and return to the application.</p>
				</body>
			</html>
		`))
	}

	fn(m)
}

// parseMessage extracts a recognized message from the request: JSON body for
// POST, query parameters for GET. A missing state or unknown type tag fails
// the parse.
func parseMessage(r *http.Request) (Message, bool) {
	var m Message
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&m); err != nil {
			return Message{}, false
		}
	} else {
		q := r.URL.Query()
		m = Message{
			Type:         q.Get("type"),
			Email:        q.Get("email"),
			ErrorMessage: q.Get("message"),
			State:        q.Get("state"),
		}
	}
	if m.State == "" {
		m.State = r.URL.Query().Get("state")
	}
	if m.State == "" || (!m.IsSuccess() && !m.IsError()) {
		return Message{}, false
	}
	return m, true
}
