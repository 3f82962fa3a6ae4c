package mesh

import (
	"sync"
	"time"

	"github.com/SHlok06majmundar/nexus-meet-sub000/internal/protocol"
)

// DefaultAnnounceDelays is the rebroadcast schedule after the immediate
// announce. Repetition heals rooms where the first broadcast raced ahead of
// a listener; receivers apply updates idempotently so duplicates are free.
var DefaultAnnounceDelays = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	3500 * time.Millisecond,
	5 * time.Second,
}

// presenceRoster tracks the display names of room members. Updates apply
// last-real-value-wins: a placeholder never overwrites a real name, so an
// out-of-order or duplicated announce cannot regress anyone's identity.
type presenceRoster struct {
	mu    sync.Mutex
	names map[string]string
}

func newPresenceRoster() *presenceRoster {
	return &presenceRoster{names: make(map[string]string)}
}

// Apply records a name for a member and reports whether anything changed.
func (p *presenceRoster) Apply(memberID, name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	current, known := p.names[memberID]
	if known && protocol.IsPlaceholderName(name) && !protocol.IsPlaceholderName(current) {
		return false
	}
	if known && current == name {
		return false
	}
	if name == "" {
		if known {
			return false
		}
		name = protocol.PlaceholderName(memberID)
	}
	p.names[memberID] = name
	return true
}

// Name returns the member's current display name, falling back to the
// placeholder for members whose identity has not arrived yet.
func (p *presenceRoster) Name(memberID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if name, ok := p.names[memberID]; ok {
		return name
	}
	return protocol.PlaceholderName(memberID)
}

// HasRealName reports whether a non-placeholder name is known for memberID.
func (p *presenceRoster) HasRealName(memberID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !protocol.IsPlaceholderName(p.names[memberID])
}

func (p *presenceRoster) Forget(memberID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.names, memberID)
}

// announcer broadcasts the local identity on join and again on a fixed
// schedule. The schedule hook is swappable so tests run it synchronously.
type announcer struct {
	delays   []time.Duration
	schedule func(d time.Duration, fn func()) (cancel func())

	mu      sync.Mutex
	cancels []func()
}

func newAnnouncer(delays []time.Duration) *announcer {
	if delays == nil {
		delays = DefaultAnnounceDelays
	}
	return &announcer{
		delays: delays,
		schedule: func(d time.Duration, fn func()) func() {
			t := time.AfterFunc(d, fn)
			return func() { t.Stop() }
		},
	}
}

// Start fires announce immediately and at each configured delay.
func (a *announcer) Start(announce func()) {
	announce()
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, d := range a.delays {
		a.cancels = append(a.cancels, a.schedule(d, announce))
	}
}

func (a *announcer) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, cancel := range a.cancels {
		cancel()
	}
	a.cancels = nil
}
