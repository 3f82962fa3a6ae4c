package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/SHlok06majmundar/nexus-meet-sub000/internal/mesh"
	"github.com/SHlok06majmundar/nexus-meet-sub000/internal/rtc"
)

var joinCmd = &cobra.Command{
	Use:   "join <room-id>",
	Short: "Join a room and hold a seat in the mesh",
	Args:  cobra.ExactArgs(1),
	RunE:  runJoin,
}

func init() {
	joinCmd.Flags().String("name", "", "display name announced to the room")
	joinCmd.Flags().Duration("duration", 0, "leave after this long (0 = until interrupted)")
	joinCmd.Flags().Bool("mic-muted", false, "join with the microphone muted")
	joinCmd.Flags().Bool("camera-off", false, "join with the camera off")

	_ = viper.BindPFlag("name", joinCmd.Flags().Lookup("name"))
	_ = viper.BindPFlag("duration", joinCmd.Flags().Lookup("duration"))
	_ = viper.BindPFlag("mic-muted", joinCmd.Flags().Lookup("mic-muted"))
	_ = viper.BindPFlag("camera-off", joinCmd.Flags().Lookup("camera-off"))

	rootCmd.AddCommand(joinCmd)
}

func runJoin(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(viper.GetString("log-format"), viper.GetString("log-level"))
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	roomID := args[0]
	relayURL := viper.GetString("relay-url")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if d := viper.GetDuration("duration"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	iceServers, err := fetchICEServers(ctx, relayURL)
	if err != nil {
		logger.Warn("ice bootstrap failed, continuing with host candidates only", "err", err)
	}

	api, err := rtc.NewAPI(rtc.Config{ICEServers: iceServers, Logger: logger})
	if err != nil {
		return fmt.Errorf("configure webrtc: %w", err)
	}

	media := mesh.NewLocalMedia(mesh.SyntheticSource{})
	links := func(remoteID string, initiator bool) (mesh.PeerLink, error) {
		return mesh.NewPionLink(api, rtc.PeerConfiguration(iceServers), media.Tracks())
	}

	transport, err := mesh.Dial(ctx, relayURL, authHeader())
	if err != nil {
		return err
	}
	defer transport.Close()

	engine, err := mesh.NewEngine(mesh.Config{
		Logger:      logger,
		Transport:   transport,
		Links:       links,
		RoomID:      roomID,
		DisplayName: viper.GetString("name"),
		Media:       media,
		OnChat: func(msg mesh.ChatMessage) {
			logger.Info("chat", "sender", msg.SenderName, "text", msg.Text)
		},
		OnPeerConnected: func(memberID string) {
			logger.Info("peer connected", "peer_id", memberID)
		},
		OnPeerLeft: func(memberID string) {
			logger.Info("peer left", "peer_id", memberID)
		},
	})
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	// Apply the initial flag state once the join settles.
	if viper.GetBool("mic-muted") {
		if err := engine.SetMicrophoneMuted(true); err != nil {
			logger.Warn("initial mute failed", "err", err)
		}
	}
	if viper.GetBool("camera-off") {
		if err := engine.SetCameraEnabled(false); err != nil {
			logger.Warn("initial camera-off failed", "err", err)
		}
	}

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("session ended: %w", err)
			}
			logger.Info("session ended")
			return nil
		case <-ticker.C:
			logger.Info("mesh status",
				"self", engine.Self(),
				"peers", engine.PeerCount(),
				"connected", engine.ConnectedPeerCount(),
			)
		}
	}
}

// authHeader builds the credential header for the configured auth flags.
func authHeader() http.Header {
	header := http.Header{}
	if key := viper.GetString("api-key"); key != "" {
		header.Set("X-API-Key", key)
	}
	if token := viper.GetString("token"); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	if len(header) == 0 {
		return nil
	}
	return header
}

// fetchICEServers asks the relay's HTTP surface for STUN/TURN servers,
// including ephemeral TURN credentials when the relay has them enabled.
func fetchICEServers(ctx context.Context, relayURL string) ([]webrtc.ICEServer, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = "/webrtc/ice"

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ice endpoint returned %s", resp.Status)
	}

	var body struct {
		ICEServers []struct {
			URLs       []string `json:"urls"`
			Username   string   `json:"username"`
			Credential string   `json:"credential"`
		} `json:"iceServers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode ice response: %w", err)
	}

	out := make([]webrtc.ICEServer, 0, len(body.ICEServers))
	for _, s := range body.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
		}
		out = append(out, server)
	}
	return out, nil
}

func newLogger(format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level %q", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}
