package syncer

import (
	"io"
	"log"
	"sync"

	"github.com/hirewire/inboxsync/internal/realtime"
)

// Notifier surfaces events that must reach the user rather than just the
// view cache. Expired-credential notices stay visible until acknowledged.
type Notifier interface {
	NotifyProviderExpired(providerID, reason string)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) NotifyProviderExpired(string, string) {}

// Dispatcher maps stream events to view invalidations. Events are treated
// strictly as "refetch" signals; payload fields beyond the scoping keys are
// never applied to cached data, so event/REST ordering cannot corrupt a view.
type Dispatcher struct {
	views    *ViewCache
	notifier Notifier
	logger   *log.Logger

	mu      sync.Mutex
	expired map[string]string // providerID -> reason
}

func NewDispatcher(views *ViewCache, notifier Notifier, logger *log.Logger) *Dispatcher {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Dispatcher{
		views:    views,
		notifier: notifier,
		logger:   logger,
		expired:  make(map[string]string),
	}
}

// Dispatch routes one event. Safe to call from the channel's delivery
// goroutine; replaying an event is harmless.
func (d *Dispatcher) Dispatch(ev realtime.Event) {
	switch ev.Kind {
	case realtime.KindConnected:
		// Catch-up after a (re)connect: anything could have changed
		// while the stream was down.
		d.views.Invalidate(ViewProviders, ViewStats)

	case realtime.KindNewEmail, realtime.KindEmailUpdated, realtime.KindEmailSent:
		d.views.Invalidate(MessagesView(ev.ProviderID), ViewProviders, ViewStats)

	case realtime.KindProviderExpired:
		d.markExpired(ev.ProviderID, ev.Reason)
		d.notifier.NotifyProviderExpired(ev.ProviderID, ev.Reason)
		// Only the provider list needs refetching; other providers'
		// message views are untouched.
		d.views.Invalidate(ViewProviders)

	case realtime.KindError:
		d.logger.Printf("syncer: stream error event: provider=%s reason=%s", ev.ProviderID, ev.Reason)
	}
}

func (d *Dispatcher) markExpired(providerID, reason string) {
	d.mu.Lock()
	d.expired[providerID] = reason
	d.mu.Unlock()
}

// ExpiredReason reports whether the provider has been flagged as expired
// and, if so, the carried reason.
func (d *Dispatcher) ExpiredReason(providerID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	reason, ok := d.expired[providerID]
	return reason, ok
}

// AcknowledgeExpired clears the expired flag once the user has seen the
// notice, typically after a reconnect handshake.
func (d *Dispatcher) AcknowledgeExpired(providerID string) {
	d.mu.Lock()
	delete(d.expired, providerID)
	d.mu.Unlock()
}
