package syncer

import (
	"io"
	"log"
	"sync"
	"time"

	"github.com/hirewire/inboxsync/internal/realtime"
)

// Options configures an Engine.
type Options struct {
	// StreamURL is the realtime event endpoint.
	StreamURL string

	// PollInterval for the fallback scheduler. Zero means the default.
	PollInterval time.Duration

	// Notifier receives user-facing notices. Nil discards them.
	Notifier Notifier

	Logger *log.Logger

	// dial is swapped out in tests.
	dial func(cfg realtime.Config, providerID, token string) *realtime.Channel
}

// Engine wires one mailbox view into the synchronization machinery: a
// realtime channel feeding the dispatcher, and a polling scheduler that
// takes over whenever the channel is down. Selecting a mailbox replaces
// the previous subscription wholesale.
type Engine struct {
	opts       Options
	views      *ViewCache
	dispatcher *Dispatcher
	poller     *Poller
	logger     *log.Logger

	mu         sync.Mutex
	channel    *realtime.Channel
	providerID string
	wg         sync.WaitGroup
}

func NewEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.dial == nil {
		opts.dial = func(cfg realtime.Config, providerID, token string) *realtime.Channel {
			return realtime.Dial(cfg, providerID, token)
		}
	}

	e := &Engine{
		opts:   opts,
		views:  NewViewCache(),
		logger: opts.Logger,
	}
	e.dispatcher = NewDispatcher(e.views, opts.Notifier, opts.Logger)
	e.poller = NewPoller(opts.PollInterval, func(providerID string) {
		// A poll tick is just a forced invalidation; consumers refetch.
		e.views.Invalidate(MessagesView(providerID), ViewStats)
	})
	return e
}

// Views exposes the staleness cache consumers watch and refetch against.
func (e *Engine) Views() *ViewCache { return e.views }

// Dispatcher exposes the expired-provider registry.
func (e *Engine) Dispatcher() *Dispatcher { return e.dispatcher }

// SelectMailbox subscribes to the given mailbox identity, tearing down any
// previous subscription first. An empty providerID deselects and shuts the
// subsystem down. An empty authToken gives a channel that never connects,
// which leaves the poller as the sole refresh source.
func (e *Engine) SelectMailbox(providerID, authToken string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.teardownLocked()
	e.providerID = providerID
	e.poller.SetMailbox(providerID)
	if providerID == "" {
		return
	}

	cfg := realtime.Config{
		URL:    e.opts.StreamURL,
		Logger: e.logger,
		OnStateChange: func(up bool) {
			e.poller.SetRealtimeConnected(up)
			if up {
				// Catch up on whatever happened while disconnected.
				e.views.Invalidate(MessagesView(providerID), ViewProviders, ViewStats)
			}
		},
	}
	ch := e.opts.dial(cfg, providerID, authToken)
	e.channel = ch

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for ev := range ch.Events() {
			e.dispatcher.Dispatch(ev)
		}
	}()
}

// Close tears down the active subscription and stops the poller. No event
// is dispatched after Close returns.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.teardownLocked()
	e.providerID = ""
	e.poller.Stop()
}

func (e *Engine) teardownLocked() {
	if e.channel == nil {
		return
	}
	e.channel.Close()
	e.wg.Wait()
	e.channel = nil
	e.poller.SetRealtimeConnected(false)
}
