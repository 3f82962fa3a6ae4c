// Package protocol defines the signaling wire protocol shared by the relay
// and mesh clients: one tagged JSON event per message, a closed set of event
// types, and strict decoding (unknown fields and trailing data rejected).
//
// Negotiation payloads (Signal) are opaque to the relay; it routes them by
// member id without inspecting their contents.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

type EventType string

// Client -> relay.
const (
	EventJoinRoom        EventType = "join-room"
	EventSendingSignal   EventType = "sending-signal"
	EventReturningSignal EventType = "returning-signal"
	EventSendMessage     EventType = "send-message"
	EventToggleAudio     EventType = "user-toggle-audio"
	EventToggleVideo     EventType = "user-toggle-video"
	EventToggleHand      EventType = "user-toggle-hand"
	EventUpdateUserName  EventType = "update-user-name"
	EventRequestUserName EventType = "request-username"
)

// Relay -> client.
const (
	EventRoomJoined      EventType = "room-joined"
	EventUserJoined      EventType = "user-joined"
	EventReturnedSignal  EventType = "receiving-returned-signal"
	EventNewMessage      EventType = "new-message"
	EventUserLeft        EventType = "user-left"
	EventError           EventType = "error"
)

// MemberInfo is the presence snapshot of one room member.
type MemberInfo struct {
	ID              string `json:"id"`
	DisplayName     string `json:"displayName"`
	MicrophoneMuted bool   `json:"microphoneMuted"`
	CameraEnabled   bool   `json:"cameraEnabled"`
	HandRaised      bool   `json:"handRaised"`
}

// Event is the wire envelope. Which fields are set depends on Type; Validate
// matches exhaustively so a malformed event never reaches a handler.
type Event struct {
	Type EventType `json:"type"`

	// join-room.
	RoomID      string `json:"roomId,omitempty"`
	DisplayName string `json:"displayName,omitempty"`

	// Signal routing. Target addresses the recipient; MemberID names the
	// member an inbound event is about (signal sender, toggler, leaver).
	Target   string          `json:"target,omitempty"`
	MemberID string          `json:"memberId,omitempty"`
	Signal   json.RawMessage `json:"signal,omitempty"`
	Member   *MemberInfo     `json:"member,omitempty"`

	// room-joined.
	Self    string       `json:"self,omitempty"`
	Members []MemberInfo `json:"members,omitempty"`

	// Chat.
	Text       string `json:"text,omitempty"`
	SenderName string `json:"senderName,omitempty"`
	SentAtMs   int64  `json:"sentAtMs,omitempty"`

	// Media/hand toggles carry absolute state, never deltas, so duplicated
	// or reordered delivery converges on the sender's actual state.
	State *bool `json:"state,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Parse decodes and validates a single wire event.
func Parse(data []byte) (Event, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var ev Event
	if err := dec.Decode(&ev); err != nil {
		return Event{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Event{}, fmt.Errorf("unexpected trailing data")
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

func (e Event) Validate() error {
	switch e.Type {
	case EventJoinRoom:
		if e.RoomID == "" {
			return fmt.Errorf("join-room missing roomId")
		}
		if e.Target != "" || e.Signal != nil || e.State != nil {
			return fmt.Errorf("join-room has unexpected fields")
		}
	case EventSendingSignal:
		if e.Target == "" {
			return fmt.Errorf("sending-signal missing target")
		}
		if len(e.Signal) == 0 {
			return fmt.Errorf("sending-signal missing signal")
		}
	case EventReturningSignal:
		if e.Target == "" {
			return fmt.Errorf("returning-signal missing target")
		}
		if len(e.Signal) == 0 {
			return fmt.Errorf("returning-signal missing signal")
		}
	case EventSendMessage:
		if e.Text == "" {
			return fmt.Errorf("send-message missing text")
		}
	case EventToggleAudio, EventToggleVideo, EventToggleHand:
		if e.State == nil {
			return fmt.Errorf("%s missing state", e.Type)
		}
	case EventUpdateUserName:
		if e.DisplayName == "" {
			return fmt.Errorf("update-user-name missing displayName")
		}
	case EventRequestUserName:
		if e.Target == "" {
			return fmt.Errorf("request-username missing target")
		}
	case EventRoomJoined:
		if e.Self == "" {
			return fmt.Errorf("room-joined missing self")
		}
	case EventUserJoined:
		if e.MemberID == "" {
			return fmt.Errorf("user-joined missing memberId")
		}
		if len(e.Signal) == 0 {
			return fmt.Errorf("user-joined missing signal")
		}
	case EventReturnedSignal:
		if e.MemberID == "" {
			return fmt.Errorf("receiving-returned-signal missing memberId")
		}
		if len(e.Signal) == 0 {
			return fmt.Errorf("receiving-returned-signal missing signal")
		}
	case EventNewMessage:
		if e.MemberID == "" || e.Text == "" {
			return fmt.Errorf("new-message missing sender/text")
		}
	case EventUserLeft:
		if e.MemberID == "" {
			return fmt.Errorf("user-left missing memberId")
		}
	case EventError:
		if e.Code == "" || e.Message == "" {
			return fmt.Errorf("error missing code/message")
		}
	default:
		return fmt.Errorf("unsupported event type %q", e.Type)
	}
	return nil
}

const placeholderPrefix = "Guest-"

// PlaceholderName derives the provisional display name of a member from its
// transport id. A member keeps this name until its real identity propagates.
func PlaceholderName(memberID string) string {
	short := memberID
	if len(short) > 8 {
		short = short[:8]
	}
	return placeholderPrefix + short
}

// IsPlaceholderName reports whether name is a relay-derived placeholder.
// Real names never overwrite with placeholders: presence updates apply
// last-real-value-wins, not last-write-wins.
func IsPlaceholderName(name string) bool {
	return name == "" || strings.HasPrefix(name, placeholderPrefix)
}
