package relay

import (
	"errors"

	"github.com/SHlok06majmundar/nexus-meet-sub000/internal/metrics"
	"github.com/SHlok06majmundar/nexus-meet-sub000/internal/protocol"
	"github.com/SHlok06majmundar/nexus-meet-sub000/internal/room"
)

// dispatch handles one validated inbound event. It returns false when the
// connection should be torn down.
func (c *client) dispatch(ev protocol.Event) bool {
	switch ev.Type {
	case protocol.EventJoinRoom:
		return c.handleJoin(ev)
	case protocol.EventSendingSignal:
		c.handleSignal(ev)
	case protocol.EventReturningSignal:
		c.handleReturnedSignal(ev)
	case protocol.EventSendMessage:
		c.handleChat(ev)
	case protocol.EventToggleAudio:
		c.handleToggle(ev, room.FlagMicrophoneMuted)
	case protocol.EventToggleVideo:
		c.handleToggle(ev, room.FlagCameraEnabled)
	case protocol.EventToggleHand:
		c.handleToggle(ev, room.FlagHandRaised)
	case protocol.EventUpdateUserName:
		c.handleUpdateName(ev)
	case protocol.EventRequestUserName:
		c.handleRequestName(ev)
	default:
		// Validate admits relay-to-client types too; a client sending one
		// is misbehaving.
		c.server.metrics.Inc(metrics.BadMessages)
		c.sendError("bad-message", "unexpected event direction")
		return false
	}
	return true
}

func (c *client) handleJoin(ev protocol.Event) bool {
	if c.roomID != "" {
		c.sendError("already-joined", "connection is already in a room")
		return false
	}

	if ev.DisplayName != "" && c.verifiedName == "" {
		c.displayName = ev.DisplayName
	}

	member := room.Member{
		ID:          c.memberID,
		DisplayName: c.displayName,
	}
	others, err := c.server.registry.Join(ev.RoomID, member)
	if err != nil {
		switch {
		case errors.Is(err, room.ErrRoomFull):
			c.sendError("room-full", "room is at capacity")
		case errors.Is(err, room.ErrTooManyRooms):
			c.sendError("relay-full", "relay is at room capacity")
		default:
			c.sendError("join-failed", "could not join room")
		}
		return false
	}
	c.roomID = ev.RoomID

	members := make([]protocol.MemberInfo, 0, len(others))
	for _, m := range others {
		members = append(members, m.Info())
	}
	c.enqueueEvent(protocol.Event{
		Type:    protocol.EventRoomJoined,
		RoomID:  c.roomID,
		Self:    c.memberID,
		Members: members,
	})
	c.logger.Info("member joined", "room_id", c.roomID, "peers", len(members))
	return true
}

// handleSignal forwards a joiner's offer to one existing member. The target
// learns of the new member through this event, so it carries the sender's
// presence snapshot alongside the opaque payload.
func (c *client) handleSignal(ev protocol.Event) {
	if c.roomID == "" {
		c.sendError("not-joined", "join a room first")
		return
	}
	info := c.memberInfo()
	c.forward(ev.Target, protocol.Event{
		Type:     protocol.EventUserJoined,
		MemberID: c.memberID,
		Member:   &info,
		Signal:   ev.Signal,
	})
}

func (c *client) handleReturnedSignal(ev protocol.Event) {
	if c.roomID == "" {
		c.sendError("not-joined", "join a room first")
		return
	}
	c.forward(ev.Target, protocol.Event{
		Type:     protocol.EventReturnedSignal,
		MemberID: c.memberID,
		Signal:   ev.Signal,
	})
}

// forward routes an event to a single member of the sender's room. A target
// that already left is dropped silently; the sender will see the departure
// through user-left instead.
func (c *client) forward(target string, out protocol.Event) {
	if !c.server.registry.Contains(c.roomID, target) {
		c.server.metrics.Inc(metrics.SignalsDroppedGone)
		return
	}
	peer := c.server.client(target)
	if peer == nil {
		c.server.metrics.Inc(metrics.SignalsDroppedGone)
		return
	}
	c.server.metrics.Inc(metrics.SignalsRelayed)
	peer.enqueueEvent(out)
}

func (c *client) handleChat(ev protocol.Event) {
	if c.roomID == "" {
		c.sendError("not-joined", "join a room first")
		return
	}
	c.server.metrics.Inc(metrics.ChatMessages)
	c.broadcast(protocol.Event{
		Type:       protocol.EventNewMessage,
		MemberID:   c.memberID,
		SenderName: c.displayName,
		Text:       ev.Text,
		SentAtMs:   c.server.clock.Now().UnixMilli(),
	})
}

func (c *client) handleToggle(ev protocol.Event, flag room.MediaFlag) {
	if c.roomID == "" {
		c.sendError("not-joined", "join a room first")
		return
	}
	c.server.metrics.Inc(metrics.MediaToggles)
	c.server.registry.SetMediaFlag(c.roomID, c.memberID, flag, *ev.State)
	c.broadcast(protocol.Event{
		Type:     ev.Type,
		MemberID: c.memberID,
		State:    ev.State,
	})
}

// handleUpdateName records and rebroadcasts a member's display name. Every
// accepted announce fans out, repeats included: the announce schedule and
// request-username responses rely on redelivery, and receivers apply names
// idempotently. Only a placeholder trying to overwrite a real name is
// dropped without broadcast.
func (c *client) handleUpdateName(ev protocol.Event) {
	if c.roomID == "" {
		c.sendError("not-joined", "join a room first")
		return
	}
	name := ev.DisplayName
	if c.verifiedName != "" {
		name = c.verifiedName
	}
	if !c.server.registry.UpdateDisplayName(c.roomID, c.memberID, name) {
		return
	}
	c.displayName = name
	c.server.metrics.Inc(metrics.PresenceNameUpdates)
	c.broadcast(protocol.Event{
		Type:        protocol.EventUpdateUserName,
		MemberID:    c.memberID,
		DisplayName: name,
	})
}

func (c *client) handleRequestName(ev protocol.Event) {
	if c.roomID == "" {
		c.sendError("not-joined", "join a room first")
		return
	}
	c.server.metrics.Inc(metrics.PresenceNameRequests)
	c.forward(ev.Target, protocol.Event{
		Type:     protocol.EventRequestUserName,
		MemberID: c.memberID,
		Target:   ev.Target,
	})
}

// broadcast fans an event out to every other member of the sender's room.
func (c *client) broadcast(out protocol.Event) {
	for _, id := range c.server.registry.MemberIDs(c.roomID) {
		if id == c.memberID {
			continue
		}
		if peer := c.server.client(id); peer != nil {
			peer.enqueueEvent(out)
		}
	}
}

func (c *client) memberInfo() protocol.MemberInfo {
	for _, m := range c.server.registry.Members(c.roomID) {
		if m.ID == c.memberID {
			return m.Info()
		}
	}
	return protocol.MemberInfo{ID: c.memberID, DisplayName: c.displayName}
}

// leaveRoom runs once on disconnect. Remaining members receive user-left so
// each can close its side of the pairwise connection.
func (c *client) leaveRoom() {
	if c.roomID == "" {
		return
	}
	remaining, err := c.server.registry.Leave(c.roomID, c.memberID)
	if err != nil {
		return
	}
	out := protocol.Event{
		Type:     protocol.EventUserLeft,
		MemberID: c.memberID,
	}
	for _, id := range remaining {
		if peer := c.server.client(id); peer != nil {
			peer.enqueueEvent(out)
		}
	}
	c.logger.Info("member left", "room_id", c.roomID, "remaining", len(remaining))
}
