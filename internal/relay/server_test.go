package relay

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SHlok06majmundar/nexus-meet-sub000/internal/config"
	"github.com/SHlok06majmundar/nexus-meet-sub000/internal/metrics"
	"github.com/SHlok06majmundar/nexus-meet-sub000/internal/protocol"
	"github.com/SHlok06majmundar/nexus-meet-sub000/internal/room"
)

const testTimeout = 5 * time.Second

func testConfig() config.Config {
	return config.Config{
		AuthMode:                      config.AuthModeNone,
		SignalingAuthTimeout:          config.DefaultSignalingAuthTimeout,
		WSIdleTimeout:                 config.DefaultWSIdleTimeout,
		WSPingInterval:                config.DefaultWSPingInterval,
		MaxSignalingMessageBytes:      config.DefaultMaxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: config.DefaultMaxSignalingMessagesPerSecond,
		MaxMembersPerRoom:             config.DefaultMaxMembersPerRoom,
		SendQueueMessages:             config.DefaultSendQueueMessages,
	}
}

type testRelay struct {
	server *Server
	m      *metrics.Metrics
	wsURL  string
}

func newTestRelay(t *testing.T, cfg config.Config) *testRelay {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	registry := room.NewRegistry(
		room.WithMaxRooms(cfg.MaxRooms),
		room.WithMaxMembersPerRoom(cfg.MaxMembersPerRoom),
		room.WithMetrics(m),
	)
	srv, err := NewServer(cfg, logger, registry, m)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	return &testRelay{
		server: srv,
		m:      m,
		wsURL:  "ws" + strings.TrimPrefix(ts.URL, "http"),
	}
}

func (tr *testRelay) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(tr.wsURL, header)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func sendEvent(t *testing.T, ws *websocket.Conn, ev protocol.Event) {
	t.Helper()
	payload, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	_ = ws.SetWriteDeadline(time.Now().Add(testTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write event: %v", err)
	}
}

func readEvent(t *testing.T, ws *websocket.Conn) protocol.Event {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(testTimeout))
	_, payload, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	ev, err := protocol.Parse(payload)
	if err != nil {
		t.Fatalf("parse event %s: %v", payload, err)
	}
	return ev
}

// join sends join-room and returns the assigned member id and the snapshot
// of members already present.
func join(t *testing.T, ws *websocket.Conn, roomID, name string) (string, []protocol.MemberInfo) {
	t.Helper()
	sendEvent(t, ws, protocol.Event{Type: protocol.EventJoinRoom, RoomID: roomID, DisplayName: name})
	ev := readEvent(t, ws)
	if ev.Type != protocol.EventRoomJoined {
		t.Fatalf("expected room-joined, got %+v", ev)
	}
	return ev.Self, ev.Members
}

func TestJoinReturnsSnapshotOfEarlierMembers(t *testing.T) {
	tr := newTestRelay(t, testConfig())

	wsA := tr.dial(t, nil)
	idA, members := join(t, wsA, "standup", "Alice")
	if len(members) != 0 {
		t.Fatalf("first joiner snapshot = %v, want empty", members)
	}

	wsB := tr.dial(t, nil)
	_, members = join(t, wsB, "standup", "Bob")
	if len(members) != 1 || members[0].ID != idA || members[0].DisplayName != "Alice" {
		t.Fatalf("second joiner snapshot = %v, want [Alice]", members)
	}
}

func TestSignalHandshakeRelayedBothWays(t *testing.T) {
	tr := newTestRelay(t, testConfig())

	wsA := tr.dial(t, nil)
	idA, _ := join(t, wsA, "standup", "Alice")

	wsB := tr.dial(t, nil)
	idB, _ := join(t, wsB, "standup", "Bob")

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0 fake"}`)
	sendEvent(t, wsB, protocol.Event{Type: protocol.EventSendingSignal, Target: idA, Signal: offer})

	got := readEvent(t, wsA)
	if got.Type != protocol.EventUserJoined {
		t.Fatalf("expected user-joined, got %+v", got)
	}
	if got.MemberID != idB || got.Member == nil || got.Member.DisplayName != "Bob" {
		t.Fatalf("user-joined sender info wrong: %+v", got)
	}
	if string(got.Signal) != string(offer) {
		t.Fatalf("signal payload altered: %s", got.Signal)
	}

	answer := json.RawMessage(`{"type":"answer","sdp":"v=0 fake"}`)
	sendEvent(t, wsA, protocol.Event{Type: protocol.EventReturningSignal, Target: idB, Signal: answer})

	got = readEvent(t, wsB)
	if got.Type != protocol.EventReturnedSignal || got.MemberID != idA {
		t.Fatalf("expected receiving-returned-signal from A, got %+v", got)
	}
	if string(got.Signal) != string(answer) {
		t.Fatalf("signal payload altered: %s", got.Signal)
	}
}

func TestSignalToDepartedTargetDropsSilently(t *testing.T) {
	tr := newTestRelay(t, testConfig())

	wsA := tr.dial(t, nil)
	join(t, wsA, "standup", "Alice")

	sendEvent(t, wsA, protocol.Event{
		Type:   protocol.EventSendingSignal,
		Target: "gone-member",
		Signal: json.RawMessage(`{"type":"offer"}`),
	})

	// No error event comes back and the connection stays usable.
	sendEvent(t, wsA, protocol.Event{Type: protocol.EventSendMessage, Text: "still here"})

	deadline := time.Now().Add(testTimeout)
	for tr.m.Get(metrics.SignalsDroppedGone) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("dropped-signal counter never incremented")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_ = wsA.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, payload, err := wsA.ReadMessage(); err == nil {
		t.Fatalf("unexpected event after silent drop: %s", payload)
	}
}

func TestDisconnectBroadcastsUserLeft(t *testing.T) {
	tr := newTestRelay(t, testConfig())

	wsA := tr.dial(t, nil)
	join(t, wsA, "standup", "Alice")
	wsB := tr.dial(t, nil)
	join(t, wsB, "standup", "Bob")
	wsC := tr.dial(t, nil)
	idC, _ := join(t, wsC, "standup", "Carol")

	wsC.Close()

	for _, ws := range []*websocket.Conn{wsA, wsB} {
		ev := readEvent(t, ws)
		if ev.Type != protocol.EventUserLeft || ev.MemberID != idC {
			t.Fatalf("expected user-left for Carol, got %+v", ev)
		}
	}
}

func TestChatBroadcastExcludesSender(t *testing.T) {
	tr := newTestRelay(t, testConfig())

	wsA := tr.dial(t, nil)
	idA, _ := join(t, wsA, "standup", "Alice")
	wsB := tr.dial(t, nil)
	join(t, wsB, "standup", "Bob")

	sendEvent(t, wsA, protocol.Event{Type: protocol.EventSendMessage, Text: "hello"})

	ev := readEvent(t, wsB)
	if ev.Type != protocol.EventNewMessage {
		t.Fatalf("expected new-message, got %+v", ev)
	}
	if ev.MemberID != idA || ev.SenderName != "Alice" || ev.Text != "hello" {
		t.Fatalf("chat fields wrong: %+v", ev)
	}
	if ev.SentAtMs == 0 {
		t.Fatal("chat timestamp missing")
	}

	_ = wsA.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, payload, err := wsA.ReadMessage(); err == nil {
		t.Fatalf("sender received own chat message: %s", payload)
	}
}

func TestToggleBroadcastAndJoinSnapshotCarryState(t *testing.T) {
	tr := newTestRelay(t, testConfig())

	wsA := tr.dial(t, nil)
	join(t, wsA, "standup", "Alice")
	wsB := tr.dial(t, nil)
	idB, _ := join(t, wsB, "standup", "Bob")

	muted := true
	sendEvent(t, wsB, protocol.Event{Type: protocol.EventToggleAudio, State: &muted})

	ev := readEvent(t, wsA)
	if ev.Type != protocol.EventToggleAudio || ev.MemberID != idB {
		t.Fatalf("expected user-toggle-audio from Bob, got %+v", ev)
	}
	if ev.State == nil || !*ev.State {
		t.Fatalf("toggle state not absolute true: %+v", ev)
	}

	// A later joiner sees Bob's current state in the snapshot.
	wsC := tr.dial(t, nil)
	_, members := join(t, wsC, "standup", "Carol")
	var bob *protocol.MemberInfo
	for i := range members {
		if members[i].ID == idB {
			bob = &members[i]
		}
	}
	if bob == nil || !bob.MicrophoneMuted {
		t.Fatalf("late joiner snapshot missing Bob's mute state: %v", members)
	}
}

func TestDisplayNameNeverRegressesToPlaceholder(t *testing.T) {
	tr := newTestRelay(t, testConfig())

	wsA := tr.dial(t, nil)
	join(t, wsA, "standup", "Alice")
	wsB := tr.dial(t, nil)
	idB, _ := join(t, wsB, "standup", "")

	sendEvent(t, wsB, protocol.Event{Type: protocol.EventUpdateUserName, DisplayName: "Bob"})

	ev := readEvent(t, wsA)
	if ev.Type != protocol.EventUpdateUserName || ev.MemberID != idB || ev.DisplayName != "Bob" {
		t.Fatalf("expected name update to Bob, got %+v", ev)
	}

	// A placeholder update after a real name is a no-op: no broadcast.
	sendEvent(t, wsB, protocol.Event{Type: protocol.EventUpdateUserName, DisplayName: protocol.PlaceholderName(idB)})

	_ = wsA.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, payload, err := wsA.ReadMessage(); err == nil {
		t.Fatalf("placeholder regression was broadcast: %s", payload)
	}

	wsC := tr.dial(t, nil)
	_, members := join(t, wsC, "standup", "Carol")
	for _, m := range members {
		if m.ID == idB && m.DisplayName != "Bob" {
			t.Fatalf("registry regressed Bob's name to %q", m.DisplayName)
		}
	}
}

func TestRequestUserNameForwarded(t *testing.T) {
	tr := newTestRelay(t, testConfig())

	wsA := tr.dial(t, nil)
	idA, _ := join(t, wsA, "standup", "Alice")
	wsB := tr.dial(t, nil)
	idB, _ := join(t, wsB, "standup", "Bob")

	sendEvent(t, wsA, protocol.Event{Type: protocol.EventRequestUserName, Target: idB})

	ev := readEvent(t, wsB)
	if ev.Type != protocol.EventRequestUserName || ev.MemberID != idA {
		t.Fatalf("expected forwarded request-username from A, got %+v", ev)
	}
}

// The response to a name request repeats a name the registry already holds.
// The relay must still deliver it, or the requester stays on the placeholder.
func TestNameRequestResponseReachesRequester(t *testing.T) {
	tr := newTestRelay(t, testConfig())

	wsA := tr.dial(t, nil)
	idA, _ := join(t, wsA, "standup", "Alice")
	wsB := tr.dial(t, nil)
	idB, _ := join(t, wsB, "standup", "Bob")

	// A re-announces the name it joined with; B must receive the repeat.
	sendEvent(t, wsA, protocol.Event{Type: protocol.EventUpdateUserName, DisplayName: "Alice"})
	ev := readEvent(t, wsB)
	if ev.Type != protocol.EventUpdateUserName || ev.MemberID != idA || ev.DisplayName != "Alice" {
		t.Fatalf("expected re-announced name, got %+v", ev)
	}

	sendEvent(t, wsB, protocol.Event{Type: protocol.EventRequestUserName, Target: idA})
	ev = readEvent(t, wsA)
	if ev.Type != protocol.EventRequestUserName || ev.MemberID != idB {
		t.Fatalf("expected forwarded request-username from B, got %+v", ev)
	}

	// A answers with its current, unchanged name.
	sendEvent(t, wsA, protocol.Event{Type: protocol.EventUpdateUserName, DisplayName: "Alice"})
	ev = readEvent(t, wsB)
	if ev.Type != protocol.EventUpdateUserName || ev.MemberID != idA || ev.DisplayName != "Alice" {
		t.Fatalf("request-username response never reached requester, got %+v", ev)
	}
}

func TestRoomFullRejectsJoin(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMembersPerRoom = 1
	tr := newTestRelay(t, cfg)

	wsA := tr.dial(t, nil)
	join(t, wsA, "standup", "Alice")

	wsB := tr.dial(t, nil)
	sendEvent(t, wsB, protocol.Event{Type: protocol.EventJoinRoom, RoomID: "standup", DisplayName: "Bob"})
	ev := readEvent(t, wsB)
	if ev.Type != protocol.EventError || ev.Code != "room-full" {
		t.Fatalf("expected room-full error, got %+v", ev)
	}
}

func TestEventBeforeJoinRejected(t *testing.T) {
	tr := newTestRelay(t, testConfig())

	ws := tr.dial(t, nil)
	sendEvent(t, ws, protocol.Event{Type: protocol.EventSendMessage, Text: "too early"})

	ev := readEvent(t, ws)
	if ev.Type != protocol.EventError || ev.Code != "not-joined" {
		t.Fatalf("expected not-joined error, got %+v", ev)
	}
}

func TestMalformedEventClosesConnection(t *testing.T) {
	tr := newTestRelay(t, testConfig())

	ws := tr.dial(t, nil)
	_ = ws.SetWriteDeadline(time.Now().Add(testTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"join-room"`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	ev := readEvent(t, ws)
	if ev.Type != protocol.EventError || ev.Code != "bad-message" {
		t.Fatalf("expected bad-message error, got %+v", ev)
	}

	_ = ws.SetReadDeadline(time.Now().Add(testTimeout))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Fatal("connection stayed open after malformed event")
	}
	if got := tr.m.Get(metrics.BadMessages); got != 1 {
		t.Fatalf("bad message counter = %d, want 1", got)
	}
}

func TestAPIKeyAuthGatesHandshake(t *testing.T) {
	cfg := testConfig()
	cfg.AuthMode = config.AuthModeAPIKey
	cfg.APIKey = "sesame"
	tr := newTestRelay(t, cfg)

	if _, resp, err := websocket.DefaultDialer.Dial(tr.wsURL, nil); err == nil {
		t.Fatal("dial without credentials succeeded")
	} else if resp == nil || resp.StatusCode != 401 {
		t.Fatalf("expected 401, got %+v", resp)
	}

	header := http.Header{"X-API-Key": []string{"sesame"}}
	ws := tr.dial(t, header)
	join(t, ws, "standup", "Alice")
}

func TestDisallowedOriginRejected(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://meet.example.com"}
	tr := newTestRelay(t, cfg)

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	if _, _, err := websocket.DefaultDialer.Dial(tr.wsURL, header); err == nil {
		t.Fatal("dial from disallowed origin succeeded")
	}

	header = http.Header{"Origin": []string{"https://meet.example.com"}}
	ws := tr.dial(t, header)
	join(t, ws, "standup", "Alice")
}

func TestRateLimitClosesConnection(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSignalingMessagesPerSecond = 2
	tr := newTestRelay(t, cfg)

	ws := tr.dial(t, nil)
	join(t, ws, "standup", "Alice")

	for i := 0; i < 10; i++ {
		payload, _ := json.Marshal(protocol.Event{Type: protocol.EventSendMessage, Text: "spam"})
		_ = ws.SetWriteDeadline(time.Now().Add(testTimeout))
		if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
			break
		}
	}

	deadline := time.Now().Add(testTimeout)
	for tr.m.Get(metrics.DropReasonRateLimited) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("rate limit counter never incremented")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
