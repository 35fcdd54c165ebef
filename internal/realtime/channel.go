package realtime

import (
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/websocket"
)

// Config holds the connection settings for the update channel.
type Config struct {
	// URL is the event stream endpoint, http(s) or ws(s) scheme.
	URL string

	// Reconnect backoff. Defaults: 2s min, 30s max, reset after a
	// connection that stayed up for 60s.
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	StableReset  time.Duration

	DialTimeout time.Duration

	// OnStateChange, when set, is invoked from the channel's delivery
	// goroutine whenever the transport flips between connected and
	// disconnected. Duplicate states are suppressed.
	OnStateChange func(connected bool)

	Logger *log.Logger
}

func (c *Config) applyDefaults() {
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = 2 * time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}
	if c.StableReset <= 0 {
		c.StableReset = 60 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
}

// Channel is one authenticated persistent connection to the server-pushed
// event stream, scoped by (mailbox identity, auth token). It reconnects on
// its own with backoff; consumers only observe the IsConnected flip and the
// event feed. A channel with no auth token never connects and never errors.
type Channel struct {
	cfg        Config
	providerID string
	token      string

	events    chan Event
	connected atomic.Bool

	mu   sync.Mutex
	conn *websocket.Conn

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial opens the update channel for a mailbox identity. With an empty
// token the returned channel is a silent no-op: it never connects, emits
// nothing, and Close is still required to release the event feed.
func Dial(cfg Config, providerID, authToken string) *Channel {
	cfg.applyDefaults()
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	ch := &Channel{
		cfg:        cfg,
		providerID: providerID,
		token:      authToken,
		events:     make(chan Event, 64),
		done:       make(chan struct{}),
	}
	if authToken == "" {
		return ch
	}
	ch.wg.Add(1)
	go ch.run()
	return ch
}

// Events returns the event feed. The channel is closed by Close; no event
// is ever delivered after Close returns.
func (ch *Channel) Events() <-chan Event {
	return ch.events
}

// IsConnected reports whether the transport is currently up.
func (ch *Channel) IsConnected() bool {
	return ch.connected.Load()
}

func (ch *Channel) setConnected(up bool) {
	if ch.connected.Swap(up) == up {
		return
	}
	if ch.cfg.OnStateChange != nil {
		ch.cfg.OnStateChange(up)
	}
}

// Close tears the connection down and stops reconnection. It blocks until
// the delivery goroutine has exited, then closes the event feed.
func (ch *Channel) Close() {
	ch.closeOnce.Do(func() {
		close(ch.done)
		ch.mu.Lock()
		if ch.conn != nil {
			_ = ch.conn.Close()
		}
		ch.mu.Unlock()
		ch.wg.Wait()
		close(ch.events)
	})
}

func (ch *Channel) run() {
	defer ch.wg.Done()
	backoff := ch.cfg.ReconnectMin
	for {
		select {
		case <-ch.done:
			return
		default:
		}

		start := time.Now()
		err := ch.runOnce()
		ch.setConnected(false)

		select {
		case <-ch.done:
			return
		default:
		}

		// Reset backoff after a connection that was stable for a while.
		if time.Since(start) > ch.cfg.StableReset {
			backoff = ch.cfg.ReconnectMin
		}
		ch.cfg.Logger.Printf("realtime: disconnected (%v), reconnecting in %s", err, backoff)

		select {
		case <-time.After(backoff):
		case <-ch.done:
			return
		}
		if backoff *= 2; backoff > ch.cfg.ReconnectMax {
			backoff = ch.cfg.ReconnectMax
		}
	}
}

// runOnce dials, then receives frames until the connection drops.
func (ch *Channel) runOnce() error {
	loc, origin, err := streamURL(ch.cfg.URL, ch.providerID)
	if err != nil {
		return err
	}
	wsCfg, err := websocket.NewConfig(loc, origin)
	if err != nil {
		return fmt.Errorf("configure stream: %w", err)
	}
	wsCfg.Header = http.Header{}
	wsCfg.Header.Set("Authorization", "Bearer "+ch.token)
	wsCfg.Dialer = &net.Dialer{Timeout: ch.cfg.DialTimeout}

	conn, err := websocket.DialConfig(wsCfg)
	if err != nil {
		return fmt.Errorf("dial stream: %w", err)
	}

	ch.mu.Lock()
	ch.conn = conn
	ch.mu.Unlock()
	select {
	case <-ch.done:
		_ = conn.Close()
		return nil
	default:
	}
	ch.setConnected(true)

	for {
		var data []byte
		if err := websocket.Message.Receive(conn, &data); err != nil {
			_ = conn.Close()
			return err
		}
		ev, ok := ParseEvent(data)
		if !ok {
			continue
		}
		select {
		case ch.events <- ev:
		case <-ch.done:
			_ = conn.Close()
			return nil
		}
	}
}

// streamURL converts the configured endpoint to its ws(s) form and returns
// the matching http(s) origin. The mailbox identity travels as a query
// parameter so the server can scope the subscription.
func streamURL(raw, providerID string) (string, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse stream URL: %w", err)
	}
	origin := *u
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
		origin.Scheme = "https"
	default:
		u.Scheme = "ws"
		origin.Scheme = "http"
	}
	if providerID != "" {
		q := u.Query()
		q.Set("providerId", providerID)
		u.RawQuery = q.Encode()
	}
	origin.Path = "/"
	origin.RawQuery = ""
	return u.String(), origin.String(), nil
}
