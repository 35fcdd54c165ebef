package syncer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirewire/inboxsync/internal/realtime"
)

type recordingNotifier struct {
	expired []string
	reasons []string
}

func (n *recordingNotifier) NotifyProviderExpired(providerID, reason string) {
	n.expired = append(n.expired, providerID)
	n.reasons = append(n.reasons, reason)
}

func TestDispatchMailEventsInvalidateScopedViews(t *testing.T) {
	cases := []struct {
		name string
		kind realtime.Kind
	}{
		{"new email", realtime.KindNewEmail},
		{"email updated", realtime.KindEmailUpdated},
		{"email sent", realtime.KindEmailSent},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			views := NewViewCache()
			d := NewDispatcher(views, nil, nil)

			d.Dispatch(realtime.Event{Kind: tc.kind, ProviderID: "acct-1"})

			assert.True(t, views.IsStale(MessagesView("acct-1")))
			assert.True(t, views.IsStale(ViewProviders))
			assert.True(t, views.IsStale(ViewStats))
			assert.False(t, views.IsStale(MessagesView("acct-2")), "other mailboxes are untouched")
		})
	}
}

func TestDispatchProviderExpiredFlagsWithoutTouchingOtherMailboxes(t *testing.T) {
	views := NewViewCache()
	notifier := &recordingNotifier{}
	d := NewDispatcher(views, notifier, nil)

	// Viewing acct-b while acct-a expires.
	d.Dispatch(realtime.Event{Kind: realtime.KindProviderExpired, ProviderID: "acct-a", Reason: "refresh token revoked"})

	reason, ok := d.ExpiredReason("acct-a")
	require.True(t, ok)
	assert.Equal(t, "refresh token revoked", reason)

	assert.True(t, views.IsStale(ViewProviders), "provider list must refetch")
	assert.False(t, views.IsStale(MessagesView("acct-b")), "must not force a refetch of the viewed mailbox")
	assert.False(t, views.IsStale(MessagesView("acct-a")))

	require.Equal(t, []string{"acct-a"}, notifier.expired)
	assert.Equal(t, []string{"refresh token revoked"}, notifier.reasons)

	d.AcknowledgeExpired("acct-a")
	_, ok = d.ExpiredReason("acct-a")
	assert.False(t, ok)
}

func TestDispatchConnectedTriggersCatchUp(t *testing.T) {
	views := NewViewCache()
	d := NewDispatcher(views, nil, nil)

	d.Dispatch(realtime.Event{Kind: realtime.KindConnected})

	assert.True(t, views.IsStale(ViewProviders))
	assert.True(t, views.IsStale(ViewStats))
}

func TestDispatchErrorEventHasNoViewEffect(t *testing.T) {
	views := NewViewCache()
	d := NewDispatcher(views, nil, nil)

	d.Dispatch(realtime.Event{Kind: realtime.KindError, ProviderID: "acct-1", Reason: "stream hiccup"})

	assert.False(t, views.IsStale(MessagesView("acct-1")))
	assert.False(t, views.IsStale(ViewProviders))
	assert.False(t, views.IsStale(ViewStats))
}

func TestDispatchIsIdempotentUnderReplay(t *testing.T) {
	views := NewViewCache()
	d := NewDispatcher(views, nil, nil)

	notifs := 0
	cancel := views.Watch(func(View) { notifs++ })
	defer cancel()

	ev := realtime.Event{Kind: realtime.KindNewEmail, ProviderID: "acct-1"}
	d.Dispatch(ev)
	d.Dispatch(ev)
	d.Dispatch(ev)

	assert.Equal(t, 3, notifs, "one notification per affected view, not per replay")
}
