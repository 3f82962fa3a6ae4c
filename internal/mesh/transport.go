// Package mesh implements the client side of the meeting core: one engine
// per participant that joins a room through the relay, maintains a full mesh
// of pairwise peer links, and projects presence and media state received
// from the room.
package mesh

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SHlok06majmundar/nexus-meet-sub000/internal/protocol"
)

const (
	transportWriteWait  = 10 * time.Second
	transportReadLimit  = 64 * 1024
	transportIdleExtend = 90 * time.Second
)

// Transport is the event channel to the relay. Events delivers relay events
// in arrival order and is closed when the connection drops; Send is safe for
// concurrent use.
type Transport interface {
	Events() <-chan protocol.Event
	Send(ev protocol.Event) error
	Close() error
}

// WSTransport is the production Transport over a relay WebSocket.
type WSTransport struct {
	conn   *websocket.Conn
	events chan protocol.Event
	done   chan struct{}

	writeMu sync.Mutex

	closeOnce sync.Once
}

// Dial connects to the relay signaling endpoint. The header carries
// credentials (X-API-Key or Authorization) when the relay requires them.
func Dial(ctx context.Context, url string, header http.Header) (*WSTransport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	t := &WSTransport{
		conn:   conn,
		events: make(chan protocol.Event, 16),
		done:   make(chan struct{}),
	}

	conn.SetReadLimit(transportReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(transportIdleExtend))
	// The relay pings on its interval; each ping extends our read deadline.
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(transportIdleExtend))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(transportWriteWait))
	})

	go t.readPump()
	return t, nil
}

func (t *WSTransport) readPump() {
	defer func() {
		t.conn.Close()
		close(t.events)
	}()
	for {
		_, payload, err := t.conn.ReadMessage()
		if err != nil {
			return
		}
		ev, err := protocol.Parse(payload)
		if err != nil {
			// A relay speaking a different protocol is not recoverable.
			return
		}
		// A consumer that stopped reading must not pin this goroutine past
		// Close; the event is lost, but the session is over anyway.
		select {
		case t.events <- ev:
		case <-t.done:
			return
		}
	}
}

func (t *WSTransport) Events() <-chan protocol.Event {
	return t.events
}

func (t *WSTransport) Send(ev protocol.Event) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(transportWriteWait))
	return t.conn.WriteJSON(ev)
}

func (t *WSTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		t.writeMu.Lock()
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(transportWriteWait))
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}
