package syncer

import (
	"sync"
	"time"
)

// DefaultPollInterval is the fallback refresh cadence when the realtime
// stream is down.
const DefaultPollInterval = 30 * time.Second

// timerFactory schedules fn after d and returns a cancel func. Swapped out
// in tests for a fake clock.
type timerFactory func(d time.Duration, fn func()) func() bool

func realTimer(d time.Duration, fn func()) func() bool {
	t := time.AfterFunc(d, fn)
	return t.Stop
}

// Poller is the fallback refresh scheduler. It has exactly two states:
// it polls while a mailbox is selected and the realtime stream is down,
// and is off otherwise. Flipping to connected cancels any pending tick
// immediately rather than letting it lapse.
type Poller struct {
	interval time.Duration
	refresh  func(providerID string)
	newTimer timerFactory

	mu         sync.Mutex
	providerID string
	connected  bool
	cancel     func() bool
	gen        int
}

func NewPoller(interval time.Duration, refresh func(providerID string)) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		interval: interval,
		refresh:  refresh,
		newTimer: realTimer,
	}
}

// SetMailbox switches the scheduler to a new mailbox identity. An empty
// identity means no mailbox is selected and disables polling entirely.
func (p *Poller) SetMailbox(providerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.providerID = providerID
	p.reconcile()
}

// SetRealtimeConnected tells the scheduler whether the push stream is up.
func (p *Poller) SetRealtimeConnected(up bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = up
	p.reconcile()
}

// Stop disables the scheduler. Equivalent to deselecting the mailbox.
func (p *Poller) Stop() {
	p.SetMailbox("")
}

// reconcile applies the single transition rule. Callers hold p.mu.
func (p *Poller) reconcile() {
	want := p.providerID != "" && !p.connected
	running := p.cancel != nil
	if want == running {
		return
	}
	if !want {
		p.cancel()
		p.cancel = nil
		p.gen++
		return
	}
	p.schedule()
}

// schedule arms the next tick. Callers hold p.mu. The generation counter
// keeps a tick that raced with cancellation from firing a refresh.
func (p *Poller) schedule() {
	gen := p.gen
	p.cancel = p.newTimer(p.interval, func() { p.tick(gen) })
}

func (p *Poller) tick(gen int) {
	p.mu.Lock()
	if gen != p.gen || p.cancel == nil {
		p.mu.Unlock()
		return
	}
	providerID := p.providerID
	p.schedule()
	p.mu.Unlock()

	p.refresh(providerID)
}
