package mesh

import (
	"sync"

	"github.com/SHlok06majmundar/nexus-meet-sub000/internal/protocol"
)

// MemberMediaState is the projected media state of one remote member, fed
// into whatever renders that member.
type MemberMediaState struct {
	MicrophoneMuted bool
	CameraEnabled   bool
	HandRaised      bool
}

type bufferedToggle struct {
	eventType protocol.EventType
	state     bool
}

// mediaProjector applies absolute-state toggle events to a per-member model.
// Toggle events can arrive before the member itself is known (broadcasts and
// join snapshots race); those are buffered and replayed in order on join.
// Values are absolute, so duplicates and replays are idempotent.
type mediaProjector struct {
	mu      sync.Mutex
	known   map[string]*MemberMediaState
	pending map[string][]bufferedToggle
}

func newMediaProjector() *mediaProjector {
	return &mediaProjector{
		known:   make(map[string]*MemberMediaState),
		pending: make(map[string][]bufferedToggle),
	}
}

// AddMember seeds a member's state from the join snapshot and replays any
// toggles that arrived ahead of it.
func (m *mediaProjector) AddMember(info protocol.MemberInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &MemberMediaState{
		MicrophoneMuted: info.MicrophoneMuted,
		CameraEnabled:   info.CameraEnabled,
		HandRaised:      info.HandRaised,
	}
	m.known[info.ID] = st
	for _, t := range m.pending[info.ID] {
		applyToggle(st, t.eventType, t.state)
	}
	delete(m.pending, info.ID)
}

func (m *mediaProjector) RemoveMember(memberID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.known, memberID)
	delete(m.pending, memberID)
}

// Apply projects one toggle event. Unknown members are buffered, not
// dropped: the member's join is in flight somewhere behind this event.
func (m *mediaProjector) Apply(memberID string, eventType protocol.EventType, state bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.known[memberID]
	if !ok {
		m.pending[memberID] = append(m.pending[memberID], bufferedToggle{eventType, state})
		return
	}
	applyToggle(st, eventType, state)
}

// State returns the projected state for a member, and whether it is known.
func (m *mediaProjector) State(memberID string) (MemberMediaState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.known[memberID]
	if !ok {
		return MemberMediaState{}, false
	}
	return *st, true
}

func applyToggle(st *MemberMediaState, eventType protocol.EventType, state bool) {
	switch eventType {
	case protocol.EventToggleAudio:
		st.MicrophoneMuted = state
	case protocol.EventToggleVideo:
		st.CameraEnabled = state
	case protocol.EventToggleHand:
		st.HandRaised = state
	}
}
