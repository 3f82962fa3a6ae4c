package mesh

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SHlok06majmundar/nexus-meet-sub000/internal/protocol"
)

// ChatMessage is one room chat message as received from the relay.
type ChatMessage struct {
	SenderID   string
	SenderName string
	Text       string
	SentAt     time.Time
}

type Config struct {
	Logger    *slog.Logger
	Transport Transport
	Links     LinkFactory

	RoomID      string
	DisplayName string

	// Media defaults to a synthetic source when nil.
	Media *LocalMedia

	// AnnounceDelays overrides the identity rebroadcast schedule.
	AnnounceDelays []time.Duration

	OnChat          func(ChatMessage)
	OnPeerConnected func(memberID string)
	OnPeerLeft      func(memberID string)
}

// Engine joins one room and maintains the mesh toward every other member.
// All relay events are applied by the single Run goroutine in arrival
// order; exported operations only touch concurrency-safe collaborators.
type Engine struct {
	logger    *slog.Logger
	transport Transport
	links     LinkFactory

	roomID      string
	displayName string

	roster    *presenceRoster
	media     *mediaProjector
	local     *LocalMedia
	announcer *announcer

	onChat          func(ChatMessage)
	onPeerConnected func(string)
	onPeerLeft      func(string)

	mu    sync.Mutex
	self  string
	peers map[string]*peerState
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if cfg.Links == nil {
		return nil, fmt.Errorf("link factory is required")
	}
	if cfg.RoomID == "" {
		return nil, fmt.Errorf("room id is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	local := cfg.Media
	if local == nil {
		local = NewLocalMedia(SyntheticSource{})
	}
	return &Engine{
		logger:          logger.With("room_id", cfg.RoomID),
		transport:       cfg.Transport,
		links:           cfg.Links,
		roomID:          cfg.RoomID,
		displayName:     cfg.DisplayName,
		roster:          newPresenceRoster(),
		media:           newMediaProjector(),
		local:           local,
		announcer:       newAnnouncer(cfg.AnnounceDelays),
		onChat:          cfg.OnChat,
		onPeerConnected: cfg.OnPeerConnected,
		onPeerLeft:      cfg.OnPeerLeft,
		peers:           make(map[string]*peerState),
	}, nil
}

// Run joins the room and processes relay events until the transport closes
// or ctx is cancelled. A closed transport is the normal end of a session.
func (e *Engine) Run(ctx context.Context) error {
	defer e.announcer.Stop()
	defer e.closeAllPeers()

	if err := e.transport.Send(protocol.Event{
		Type:        protocol.EventJoinRoom,
		RoomID:      e.roomID,
		DisplayName: e.displayName,
	}); err != nil {
		return fmt.Errorf("join room: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-e.transport.Events():
			if !ok {
				return nil
			}
			if err := e.handle(ev); err != nil {
				return err
			}
		}
	}
}

func (e *Engine) handle(ev protocol.Event) error {
	switch ev.Type {
	case protocol.EventRoomJoined:
		e.handleRoomJoined(ev)
	case protocol.EventUserJoined:
		e.handleUserJoined(ev)
	case protocol.EventReturnedSignal:
		e.handleReturnedSignal(ev)
	case protocol.EventUserLeft:
		e.handleUserLeft(ev)
	case protocol.EventNewMessage:
		if e.onChat != nil {
			e.onChat(ChatMessage{
				SenderID:   ev.MemberID,
				SenderName: ev.SenderName,
				Text:       ev.Text,
				SentAt:     time.UnixMilli(ev.SentAtMs),
			})
		}
	case protocol.EventToggleAudio, protocol.EventToggleVideo, protocol.EventToggleHand:
		e.media.Apply(ev.MemberID, ev.Type, *ev.State)
	case protocol.EventUpdateUserName:
		e.roster.Apply(ev.MemberID, ev.DisplayName)
	case protocol.EventRequestUserName:
		// A peer still sees our placeholder; answer with the current name.
		_ = e.transport.Send(protocol.Event{
			Type:        protocol.EventUpdateUserName,
			DisplayName: e.roster.Name(e.Self()),
		})
	case protocol.EventError:
		e.logger.Error("relay error", "code", ev.Code, "message", ev.Message)
		return fmt.Errorf("relay error %s: %s", ev.Code, ev.Message)
	default:
		e.logger.Warn("unexpected event from relay", "type", ev.Type)
	}
	return nil
}

// handleRoomJoined seeds the roster from the snapshot and initiates one
// link toward every member that was already present.
func (e *Engine) handleRoomJoined(ev protocol.Event) {
	e.mu.Lock()
	e.self = ev.Self
	e.mu.Unlock()

	e.roster.Apply(ev.Self, e.displayName)

	for _, member := range ev.Members {
		e.roster.Apply(member.ID, member.DisplayName)
		e.media.AddMember(member)
		peer, err := e.addPeer(member.ID, true)
		if err != nil {
			e.logger.Error("create initiator link", "peer_id", member.ID, "err", err)
			continue
		}
		if err := peer.link.StartOffer(); err != nil {
			e.logger.Error("start offer", "peer_id", member.ID, "err", err)
			e.abandonPeer(member.ID)
		}
	}

	e.announcer.Start(func() {
		_ = e.transport.Send(protocol.Event{
			Type:        protocol.EventUpdateUserName,
			DisplayName: e.roster.Name(ev.Self),
		})
	})
	e.logger.Info("joined room", "self", ev.Self, "peers", len(ev.Members))
}

// handleUserJoined is the answerer path. The first signal from an unknown
// member creates the link; later ones are trickle payloads for it.
func (e *Engine) handleUserJoined(ev protocol.Event) {
	e.mu.Lock()
	peer, known := e.peers[ev.MemberID]
	e.mu.Unlock()

	if !known {
		if ev.Member != nil {
			e.roster.Apply(ev.Member.ID, ev.Member.DisplayName)
			e.media.AddMember(*ev.Member)
		}
		var err error
		peer, err = e.addPeer(ev.MemberID, false)
		if err != nil {
			e.logger.Error("create answerer link", "peer_id", ev.MemberID, "err", err)
			return
		}
	}

	if err := peer.link.Signal(ev.Signal); err != nil {
		e.logger.Error("apply signal", "peer_id", ev.MemberID, "err", err)
		e.abandonPeer(ev.MemberID)
	}
}

func (e *Engine) handleReturnedSignal(ev protocol.Event) {
	e.mu.Lock()
	peer, known := e.peers[ev.MemberID]
	e.mu.Unlock()
	if !known {
		// The peer left between our offer and its answer; the user-left
		// event already tore the link down.
		e.logger.Debug("returned signal for unknown peer", "peer_id", ev.MemberID)
		return
	}
	if err := peer.link.Signal(ev.Signal); err != nil {
		e.logger.Error("apply returned signal", "peer_id", ev.MemberID, "err", err)
		e.abandonPeer(ev.MemberID)
	}
}

func (e *Engine) handleUserLeft(ev protocol.Event) {
	e.abandonPeer(ev.MemberID)
	e.roster.Forget(ev.MemberID)
	e.media.RemoveMember(ev.MemberID)
	if e.onPeerLeft != nil {
		e.onPeerLeft(ev.MemberID)
	}
}

// addPeer creates and registers the link toward one remote member.
func (e *Engine) addPeer(memberID string, initiator bool) (*peerState, error) {
	link, err := e.links(memberID, initiator)
	if err != nil {
		return nil, err
	}

	outType := protocol.EventReturningSignal
	if initiator {
		outType = protocol.EventSendingSignal
	}
	link.OnSignal(func(payload json.RawMessage) {
		_ = e.transport.Send(protocol.Event{
			Type:   outType,
			Target: memberID,
			Signal: payload,
		})
	})
	link.OnConnected(func() {
		e.markConnected(memberID)
		if !e.roster.HasRealName(memberID) {
			_ = e.transport.Send(protocol.Event{
				Type:   protocol.EventRequestUserName,
				Target: memberID,
			})
		}
		if e.onPeerConnected != nil {
			e.onPeerConnected(memberID)
		}
	})

	peer := &peerState{id: memberID, initiator: initiator, link: link}
	e.mu.Lock()
	e.peers[memberID] = peer
	e.mu.Unlock()
	return peer, nil
}

// abandonPeer tears down one link. Negotiation failures land here too:
// the link is closed and never retried, the rest of the mesh is unaffected.
func (e *Engine) abandonPeer(memberID string) {
	e.mu.Lock()
	peer, ok := e.peers[memberID]
	delete(e.peers, memberID)
	e.mu.Unlock()
	if ok {
		_ = peer.link.Close()
	}
}

func (e *Engine) markConnected(memberID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if peer, ok := e.peers[memberID]; ok {
		peer.connected = true
	}
}

func (e *Engine) closeAllPeers() {
	e.mu.Lock()
	peers := e.peers
	e.peers = make(map[string]*peerState)
	e.mu.Unlock()
	for _, peer := range peers {
		_ = peer.link.Close()
	}
}

// Self returns the relay-assigned member id, empty until room-joined.
func (e *Engine) Self() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.self
}

// PeerCount reports the number of live links.
func (e *Engine) PeerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.peers)
}

// ConnectedPeerCount reports links that completed negotiation.
func (e *Engine) ConnectedPeerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, peer := range e.peers {
		if peer.connected {
			n++
		}
	}
	return n
}

// PeerIDs returns the ids of all current links.
func (e *Engine) PeerIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.peers))
	for id := range e.peers {
		out = append(out, id)
	}
	return out
}

// PeerDisplayName returns the current name projected for a member.
func (e *Engine) PeerDisplayName(memberID string) string {
	return e.roster.Name(memberID)
}

// PeerMediaState returns the projected media state for a member.
func (e *Engine) PeerMediaState(memberID string) (MemberMediaState, bool) {
	return e.media.State(memberID)
}

// SendChat broadcasts a chat message to the room.
func (e *Engine) SendChat(text string) error {
	return e.transport.Send(protocol.Event{
		Type: protocol.EventSendMessage,
		Text: text,
	})
}

// SetDisplayName updates the local identity and announces it.
func (e *Engine) SetDisplayName(name string) error {
	e.roster.Apply(e.Self(), name)
	return e.transport.Send(protocol.Event{
		Type:        protocol.EventUpdateUserName,
		DisplayName: name,
	})
}

// SetMicrophoneMuted toggles the local audio track and broadcasts the
// absolute state.
func (e *Engine) SetMicrophoneMuted(muted bool) error {
	if err := e.local.SetMicrophoneMuted(muted); err != nil {
		return err
	}
	return e.transport.Send(protocol.Event{
		Type:  protocol.EventToggleAudio,
		State: &muted,
	})
}

func (e *Engine) SetCameraEnabled(enabled bool) error {
	if err := e.local.SetCameraEnabled(enabled); err != nil {
		return err
	}
	return e.transport.Send(protocol.Event{
		Type:  protocol.EventToggleVideo,
		State: &enabled,
	})
}

func (e *Engine) SetHandRaised(raised bool) error {
	e.local.SetHandRaised(raised)
	return e.transport.Send(protocol.Event{
		Type:  protocol.EventToggleHand,
		State: &raised,
	})
}

// LocalMediaState reports the local flags as last broadcast.
func (e *Engine) LocalMediaState() MemberMediaState {
	return e.local.State()
}
