package realtime

import (
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/net/websocket"
)

// streamServer serves a websocket endpoint that pushes the given frames to
// every connection, then holds the connection open until the peer drops it.
func streamServer(t *testing.T, frames []string, gotAuth *atomic.Value, dials *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(websocket.Handler(func(conn *websocket.Conn) {
		if dials != nil {
			dials.Add(1)
		}
		if gotAuth != nil {
			gotAuth.Store(conn.Request().Header.Get("Authorization"))
		}
		for _, f := range frames {
			if err := websocket.Message.Send(conn, []byte(f)); err != nil {
				return
			}
		}
		var discard []byte
		for websocket.Message.Receive(conn, &discard) == nil {
		}
	}))
}

func TestChannelDeliversParsedEvents(t *testing.T) {
	defer goleak.VerifyNone(t)

	var auth atomic.Value
	srv := streamServer(t, []string{
		`{"event":"connected"}`,
		`garbage`,
		`{"event":"mailboxRenamed","providerId":"acct-1"}`,
		`{"event":"newEmail","providerId":"acct-1","messageId":"m-1"}`,
	}, &auth, nil)
	defer srv.Close()

	ch := Dial(Config{URL: srv.URL}, "acct-1", "tok-123")
	defer ch.Close()

	var got []Event
	timeout := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-ch.Events():
			got = append(got, ev)
		case <-timeout:
			t.Fatal("timed out waiting for events")
		}
	}

	require.Len(t, got, 2)
	assert.Equal(t, KindConnected, got[0].Kind)
	assert.Equal(t, KindNewEmail, got[1].Kind)
	assert.Equal(t, "acct-1", got[1].ProviderID)
	assert.Equal(t, "m-1", got[1].MessageID)
	assert.Equal(t, "Bearer tok-123", auth.Load())
	assert.True(t, ch.IsConnected())
}

func TestChannelWithoutTokenNeverConnects(t *testing.T) {
	defer goleak.VerifyNone(t)

	var dials atomic.Int32
	srv := streamServer(t, nil, nil, &dials)
	defer srv.Close()

	ch := Dial(Config{URL: srv.URL}, "acct-1", "")
	time.Sleep(50 * time.Millisecond)

	assert.False(t, ch.IsConnected())
	assert.Equal(t, int32(0), dials.Load())

	ch.Close()
	_, open := <-ch.Events()
	assert.False(t, open, "event feed should be closed after Close")
}

func TestChannelCloseStopsDelivery(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := httptest.NewServer(websocket.Handler(func(conn *websocket.Conn) {
		for {
			if err := websocket.Message.Send(conn, []byte(`{"event":"newEmail","providerId":"a"}`)); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ch := Dial(Config{URL: srv.URL}, "a", "tok")

	select {
	case <-ch.Events():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first event")
	}

	ch.Close()

	// After Close returns the feed is closed; drain whatever was already
	// buffered and confirm it terminates.
	for range ch.Events() {
	}
	assert.False(t, ch.IsConnected())
}

func TestChannelReconnectsAfterDrop(t *testing.T) {
	defer goleak.VerifyNone(t)

	var dials atomic.Int32
	srv := httptest.NewServer(websocket.Handler(func(conn *websocket.Conn) {
		dials.Add(1)
		_ = websocket.Message.Send(conn, []byte(`{"event":"connected"}`))
		_ = conn.Close()
	}))
	defer srv.Close()

	ch := Dial(Config{URL: srv.URL, ReconnectMin: 10 * time.Millisecond, ReconnectMax: 50 * time.Millisecond}, "a", "tok")
	defer ch.Close()

	timeout := time.After(5 * time.Second)
	for seen := 0; seen < 2; {
		select {
		case ev := <-ch.Events():
			if ev.Kind == KindConnected {
				seen++
			}
		case <-timeout:
			t.Fatal("channel did not reconnect")
		}
	}
	assert.GreaterOrEqual(t, dials.Load(), int32(2))
}
