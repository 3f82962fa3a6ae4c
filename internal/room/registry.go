// Package room tracks which members are connected to which room.
//
// The registry is the relay's single source of truth for membership: a room
// exists exactly while it has members, and a member is listed exactly while
// its transport is connected. Media flags are cached here only so that late
// joiners receive each member's current state in the join snapshot; the
// owning client remains authoritative and updates flow one way, inward.
package room

import (
	"errors"
	"sync"

	"github.com/SHlok06majmundar/nexus-meet-sub000/internal/metrics"
	"github.com/SHlok06majmundar/nexus-meet-sub000/internal/protocol"
)

var (
	ErrRoomFull     = errors.New("room is full")
	ErrTooManyRooms = errors.New("too many rooms")
	ErrNotInRoom    = errors.New("member not in room")
)

// Member is the registry's record of one connected participant.
type Member struct {
	ID              string
	DisplayName     string
	MicrophoneMuted bool
	CameraEnabled   bool
	HandRaised      bool
}

func (m Member) Info() protocol.MemberInfo {
	return protocol.MemberInfo{
		ID:              m.ID,
		DisplayName:     m.DisplayName,
		MicrophoneMuted: m.MicrophoneMuted,
		CameraEnabled:   m.CameraEnabled,
		HandRaised:      m.HandRaised,
	}
}

type state struct {
	mu sync.Mutex

	// order preserves join order; byID gives O(1) lookup and removal.
	order []string
	byID  map[string]*Member
}

// Registry maps room ids to their member sets. Rooms are created implicitly
// on first join and destroyed implicitly when the last member leaves.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*state

	// Limits; <= 0 means unlimited.
	maxRooms          int
	maxMembersPerRoom int

	metrics *metrics.Metrics
}

type Option func(*Registry)

func WithMaxRooms(n int) Option {
	return func(r *Registry) { r.maxRooms = n }
}

func WithMaxMembersPerRoom(n int) Option {
	return func(r *Registry) { r.maxMembersPerRoom = n }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		rooms: make(map[string]*state),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) inc(name string) {
	if r.metrics != nil {
		r.metrics.Inc(name)
	}
}

// Join adds member m to roomID and returns a snapshot of the other members
// already present, in join order. The caller becomes the initiator toward
// each of them.
func (r *Registry) Join(roomID string, m Member) ([]Member, error) {
	r.mu.Lock()
	rs, ok := r.rooms[roomID]
	if !ok {
		if r.maxRooms > 0 && len(r.rooms) >= r.maxRooms {
			r.mu.Unlock()
			return nil, ErrTooManyRooms
		}
		rs = &state{byID: make(map[string]*Member)}
		r.rooms[roomID] = rs
		r.inc(metrics.RoomsCreated)
	}
	rs.mu.Lock()
	r.mu.Unlock()
	defer rs.mu.Unlock()

	if r.maxMembersPerRoom > 0 && len(rs.order) >= r.maxMembersPerRoom {
		return nil, ErrRoomFull
	}

	others := make([]Member, 0, len(rs.order))
	for _, id := range rs.order {
		others = append(others, *rs.byID[id])
	}

	stored := m
	rs.order = append(rs.order, m.ID)
	rs.byID[m.ID] = &stored
	r.inc(metrics.MemberJoins)
	return others, nil
}

// Leave removes memberID from roomID and returns the ids of the remaining
// members (for the user-left broadcast). The room is destroyed when the
// last member leaves. Leaving a room one is not in is a no-op returning
// ErrNotInRoom; disconnect races make that path normal, not exceptional.
func (r *Registry) Leave(roomID, memberID string) ([]string, error) {
	r.mu.Lock()
	rs, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrNotInRoom
	}
	rs.mu.Lock()

	if _, ok := rs.byID[memberID]; !ok {
		rs.mu.Unlock()
		r.mu.Unlock()
		return nil, ErrNotInRoom
	}

	delete(rs.byID, memberID)
	for i, id := range rs.order {
		if id == memberID {
			rs.order = append(rs.order[:i], rs.order[i+1:]...)
			break
		}
	}
	r.inc(metrics.MemberLeaves)

	remaining := append([]string(nil), rs.order...)
	if len(remaining) == 0 {
		delete(r.rooms, roomID)
		r.inc(metrics.RoomsDestroyed)
	}
	rs.mu.Unlock()
	r.mu.Unlock()
	return remaining, nil
}

// Members returns a snapshot of the room's members in join order.
func (r *Registry) Members(roomID string) []Member {
	rs := r.room(roomID)
	if rs == nil {
		return nil
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make([]Member, 0, len(rs.order))
	for _, id := range rs.order {
		out = append(out, *rs.byID[id])
	}
	return out
}

// MemberIDs returns the ids of the room's members in join order.
func (r *Registry) MemberIDs(roomID string) []string {
	rs := r.room(roomID)
	if rs == nil {
		return nil
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]string(nil), rs.order...)
}

// Contains reports whether memberID is currently in roomID.
func (r *Registry) Contains(roomID, memberID string) bool {
	rs := r.room(roomID)
	if rs == nil {
		return false
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	_, ok := rs.byID[memberID]
	return ok
}

// UpdateDisplayName records a member's display name and reports whether the
// update was accepted. Placeholder values never overwrite a real name
// (last-real-value-wins); those are rejected. Re-announcing the name already
// on record is accepted: the announce schedule and request-username responses
// deliberately repeat names, and receivers dedupe, not the relay.
func (r *Registry) UpdateDisplayName(roomID, memberID, name string) bool {
	rs := r.room(roomID)
	if rs == nil {
		return false
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	m, ok := rs.byID[memberID]
	if !ok {
		return false
	}
	if protocol.IsPlaceholderName(name) && !protocol.IsPlaceholderName(m.DisplayName) {
		return false
	}
	m.DisplayName = name
	return true
}

// MediaFlag selects which member flag a state update applies to.
type MediaFlag int

const (
	FlagMicrophoneMuted MediaFlag = iota
	FlagCameraEnabled
	FlagHandRaised
)

// SetMediaFlag caches a member's broadcast media state so join snapshots
// stay current. Values are absolute; reapplying the same value is a no-op.
func (r *Registry) SetMediaFlag(roomID, memberID string, flag MediaFlag, value bool) bool {
	rs := r.room(roomID)
	if rs == nil {
		return false
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	m, ok := rs.byID[memberID]
	if !ok {
		return false
	}
	switch flag {
	case FlagMicrophoneMuted:
		m.MicrophoneMuted = value
	case FlagCameraEnabled:
		m.CameraEnabled = value
	case FlagHandRaised:
		m.HandRaised = value
	}
	return true
}

// RoomCount returns the number of live rooms.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

func (r *Registry) room(roomID string) *state {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[roomID]
}
