package rtc

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestNewAPICreatesPeerConnections(t *testing.T) {
	api, err := NewAPI(Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatalf("new api: %v", err)
	}

	pc, err := api.NewPeerConnection(PeerConfiguration(nil))
	if err != nil {
		t.Fatalf("new peer connection: %v", err)
	}
	t.Cleanup(func() { _ = pc.Close() })

	if pc.ConnectionState() != webrtc.PeerConnectionStateNew {
		t.Fatalf("connection state = %v, want new", pc.ConnectionState())
	}
}

func TestSlogLoggerFactoryRoutesLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	factory := &slogLoggerFactory{logger: logger}

	l := factory.NewLogger("ice")
	l.Trace("trace line")
	l.Debugf("debug %d", 1)
	l.Info("info line")
	l.Warnf("warn %s", "x")
	l.Error("error line")

	out := buf.String()
	for _, want := range []string{"scope=ice", "trace line", "debug 1", "info line", "warn x", "error line"} {
		if !bytes.Contains([]byte(out), []byte(want)) {
			t.Fatalf("log output missing %q:\n%s", want, out)
		}
	}
}
