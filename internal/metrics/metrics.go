package metrics

import "sync"

// Counter names used across the relay. Targeted-signal drops and broadcast
// drops are separate counters on purpose: a dropped targeted signal is an
// accepted race (the target already left), while a dropped broadcast usually
// means a slow consumer.
const (
	RoomsCreated   = "rooms_created"
	RoomsDestroyed = "rooms_destroyed"
	MemberJoins    = "member_joins"
	MemberLeaves   = "member_leaves"

	SignalsRelayed     = "signals_relayed"
	SignalsDroppedGone = "signals_dropped_target_gone"

	BroadcastsSent       = "broadcasts_sent"
	BroadcastDropsSlow   = "broadcast_drops_slow_consumer"
	ChatMessages         = "chat_messages"
	PresenceNameUpdates  = "presence_name_updates"
	PresenceNameRequests = "presence_name_requests"
	MediaToggles         = "media_state_toggles"

	DropReasonRateLimited = "rate_limited"
	AuthFailure           = "auth_failure"
	BadMessages           = "bad_messages"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// It exists so relay behavior (silent drops in particular) stays observable
// and testable without pulling a metrics SDK into the module.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
