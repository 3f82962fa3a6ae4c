package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envVarListenAddr      = "NEXUS_RELAY_LISTEN_ADDR"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"
	envVarLogFormat       = "NEXUS_RELAY_LOG_FORMAT"
	envVarLogLevel        = "NEXUS_RELAY_LOG_LEVEL"
	envVarShutdownTimeout = "NEXUS_RELAY_SHUTDOWN_TIMEOUT"

	// Signaling WebSocket auth + hardening.
	envVarAuthMode                      = "AUTH_MODE"
	envVarAPIKey                        = "API_KEY"
	envVarJWTSecret                     = "JWT_SECRET"
	envVarSignalingAuthTimeout          = "SIGNALING_AUTH_TIMEOUT"
	envVarWSIdleTimeout                 = "WS_IDLE_TIMEOUT"
	envVarWSPingInterval                = "WS_PING_INTERVAL"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"

	// Room quotas.
	envVarMaxRooms          = "MAX_ROOMS"
	envVarMaxMembersPerRoom = "MAX_MEMBERS_PER_ROOM"
	envVarSendQueueMessages = "SEND_QUEUE_MESSAGES"

	// ICE bootstrap for browser peers (served at GET /webrtc/ice).
	envVarSTUNURLs = "STUN_URLS"
	envVarTURNURLs = "TURN_URLS"

	// coturn TURN REST (ephemeral) credentials.
	envVarTURNRESTSharedSecret   = "TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTLSeconds     = "TURN_REST_TTL_SECONDS"
	envVarTURNRESTUsernamePrefix = "TURN_REST_USERNAME_PREFIX"
	envVarTURNRESTRealm          = "TURN_REST_REALM"

	DefaultListenAddr      = "127.0.0.1:8000"
	DefaultShutdownTimeout = 15 * time.Second

	DefaultSignalingAuthTimeout = 2 * time.Second
	DefaultWSIdleTimeout        = 60 * time.Second
	DefaultWSPingInterval       = 25 * time.Second

	DefaultMaxSignalingMessageBytes      = 64 * 1024
	DefaultMaxSignalingMessagesPerSecond = 50

	DefaultMaxMembersPerRoom = 16
	DefaultSendQueueMessages = 64

	DefaultTURNRESTTTLSeconds     = 600
	DefaultTURNRESTUsernamePrefix = "nexus"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type AuthMode string

const (
	AuthModeNone   AuthMode = "none"
	AuthModeAPIKey AuthMode = "api_key"
	AuthModeJWT    AuthMode = "jwt"
)

type TURNRESTConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
	Realm          string
	URLs           []string
}

func (c TURNRESTConfig) Enabled() bool {
	return strings.TrimSpace(c.SharedSecret) != ""
}

type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	AuthMode  AuthMode
	APIKey    string
	JWTSecret string

	SignalingAuthTimeout time.Duration
	WSIdleTimeout        time.Duration
	WSPingInterval       time.Duration

	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int

	// A value <= 0 means unlimited.
	MaxRooms int
	// MaxMembersPerRoom bounds mesh fan-out: every member holds one peer
	// connection per other member, so large rooms degrade quadratically.
	MaxMembersPerRoom int
	SendQueueMessages int

	// STUNURLs are advertised to clients at GET /webrtc/ice.
	STUNURLs []string

	TURNREST TURNRESTConfig
}

// Load builds the relay configuration from environment variables, then
// applies command-line flag overrides.
func Load(args []string) (Config, error) {
	cfg := Config{
		ListenAddr:      DefaultListenAddr,
		LogFormat:       LogFormatText,
		LogLevel:        slog.LevelInfo,
		ShutdownTimeout: DefaultShutdownTimeout,

		AuthMode: AuthModeNone,

		SignalingAuthTimeout: DefaultSignalingAuthTimeout,
		WSIdleTimeout:        DefaultWSIdleTimeout,
		WSPingInterval:       DefaultWSPingInterval,

		MaxSignalingMessageBytes:      DefaultMaxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: DefaultMaxSignalingMessagesPerSecond,

		MaxMembersPerRoom: DefaultMaxMembersPerRoom,
		SendQueueMessages: DefaultSendQueueMessages,

		TURNREST: TURNRESTConfig{
			TTLSeconds:     DefaultTURNRESTTTLSeconds,
			UsernamePrefix: DefaultTURNRESTUsernamePrefix,
		},
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := applyFlags(&cfg, args); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv(envVarListenAddr); ok {
		cfg.ListenAddr = v
	}
	if v, ok := os.LookupEnv(envVarAllowedOrigins); ok {
		cfg.AllowedOrigins = splitCommaList(v)
	}
	if v, ok := os.LookupEnv(envVarLogFormat); ok {
		lf, err := parseLogFormat(v)
		if err != nil {
			return err
		}
		cfg.LogFormat = lf
	}
	if v, ok := os.LookupEnv(envVarLogLevel); ok {
		lvl, err := parseLogLevel(v)
		if err != nil {
			return err
		}
		cfg.LogLevel = lvl
	}
	if v, ok := os.LookupEnv(envVarShutdownTimeout); ok {
		d, err := parseDurationEnv(envVarShutdownTimeout, v)
		if err != nil {
			return err
		}
		cfg.ShutdownTimeout = d
	}

	if v, ok := os.LookupEnv(envVarAuthMode); ok {
		mode, err := parseAuthMode(v)
		if err != nil {
			return err
		}
		cfg.AuthMode = mode
	}
	cfg.APIKey = os.Getenv(envVarAPIKey)
	cfg.JWTSecret = os.Getenv(envVarJWTSecret)

	if v, ok := os.LookupEnv(envVarSignalingAuthTimeout); ok {
		d, err := parseDurationEnv(envVarSignalingAuthTimeout, v)
		if err != nil {
			return err
		}
		cfg.SignalingAuthTimeout = d
	}
	if v, ok := os.LookupEnv(envVarWSIdleTimeout); ok {
		d, err := parseDurationEnv(envVarWSIdleTimeout, v)
		if err != nil {
			return err
		}
		cfg.WSIdleTimeout = d
	}
	if v, ok := os.LookupEnv(envVarWSPingInterval); ok {
		d, err := parseDurationEnv(envVarWSPingInterval, v)
		if err != nil {
			return err
		}
		cfg.WSPingInterval = d
	}

	if v, ok := os.LookupEnv(envVarMaxSignalingMessageBytes); ok {
		n, err := parseIntEnv(envVarMaxSignalingMessageBytes, v)
		if err != nil {
			return err
		}
		cfg.MaxSignalingMessageBytes = int64(n)
	}
	if v, ok := os.LookupEnv(envVarMaxSignalingMessagesPerSecond); ok {
		n, err := parseIntEnv(envVarMaxSignalingMessagesPerSecond, v)
		if err != nil {
			return err
		}
		cfg.MaxSignalingMessagesPerSecond = n
	}

	if v, ok := os.LookupEnv(envVarMaxRooms); ok {
		n, err := parseIntEnv(envVarMaxRooms, v)
		if err != nil {
			return err
		}
		cfg.MaxRooms = n
	}
	if v, ok := os.LookupEnv(envVarMaxMembersPerRoom); ok {
		n, err := parseIntEnv(envVarMaxMembersPerRoom, v)
		if err != nil {
			return err
		}
		cfg.MaxMembersPerRoom = n
	}
	if v, ok := os.LookupEnv(envVarSendQueueMessages); ok {
		n, err := parseIntEnv(envVarSendQueueMessages, v)
		if err != nil {
			return err
		}
		cfg.SendQueueMessages = n
	}

	if v, ok := os.LookupEnv(envVarSTUNURLs); ok {
		cfg.STUNURLs = splitCommaList(v)
	}
	if v, ok := os.LookupEnv(envVarTURNURLs); ok {
		cfg.TURNREST.URLs = splitCommaList(v)
	}
	cfg.TURNREST.SharedSecret = os.Getenv(envVarTURNRESTSharedSecret)
	if v, ok := os.LookupEnv(envVarTURNRESTTTLSeconds); ok {
		n, err := parseIntEnv(envVarTURNRESTTTLSeconds, v)
		if err != nil {
			return err
		}
		cfg.TURNREST.TTLSeconds = int64(n)
	}
	if v, ok := os.LookupEnv(envVarTURNRESTUsernamePrefix); ok {
		cfg.TURNREST.UsernamePrefix = v
	}
	if v, ok := os.LookupEnv(envVarTURNRESTRealm); ok {
		cfg.TURNREST.Realm = v
	}

	return nil
}

func applyFlags(cfg *Config, args []string) error {
	fs := flag.NewFlagSet("nexus-relay", flag.ContinueOnError)

	listenAddr := fs.String("listen-addr", cfg.ListenAddr, "TCP address to listen on")
	logFormat := fs.String("log-format", string(cfg.LogFormat), "log format (text or json)")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error)")
	allowedOrigins := fs.String("allowed-origins", "", "comma-separated browser Origin allowlist")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected positional arguments: %v", fs.Args())
	}

	cfg.ListenAddr = *listenAddr

	lf, err := parseLogFormat(*logFormat)
	if err != nil {
		return err
	}
	cfg.LogFormat = lf

	if *logLevel != "" {
		lvl, err := parseLogLevel(*logLevel)
		if err != nil {
			return err
		}
		cfg.LogLevel = lvl
	}
	if *allowedOrigins != "" {
		cfg.AllowedOrigins = splitCommaList(*allowedOrigins)
	}

	return nil
}

func (c Config) validate() error {
	switch c.AuthMode {
	case AuthModeNone:
	case AuthModeAPIKey:
		if strings.TrimSpace(c.APIKey) == "" {
			return fmt.Errorf("%s=api_key requires %s to be set", envVarAuthMode, envVarAPIKey)
		}
	case AuthModeJWT:
		if strings.TrimSpace(c.JWTSecret) == "" {
			return fmt.Errorf("%s=jwt requires %s to be set", envVarAuthMode, envVarJWTSecret)
		}
	default:
		return fmt.Errorf("invalid %s %q (expected none, api_key, jwt)", envVarAuthMode, c.AuthMode)
	}

	if c.TURNREST.Enabled() {
		if c.TURNREST.TTLSeconds <= 0 {
			return fmt.Errorf("%s must be > 0", envVarTURNRESTTTLSeconds)
		}
		if strings.Contains(c.TURNREST.UsernamePrefix, ":") {
			return fmt.Errorf("%s must not contain ':'", envVarTURNRESTUsernamePrefix)
		}
		if len(c.TURNREST.URLs) == 0 {
			return fmt.Errorf("%s requires %s to be set", envVarTURNRESTSharedSecret, envVarTURNURLs)
		}
	}

	if c.MaxSignalingMessageBytes <= 0 {
		return fmt.Errorf("%s must be > 0", envVarMaxSignalingMessageBytes)
	}
	if c.WSPingInterval > 0 && c.WSIdleTimeout > 0 && c.WSPingInterval >= c.WSIdleTimeout {
		return fmt.Errorf("%s must be shorter than %s", envVarWSPingInterval, envVarWSIdleTimeout)
	}

	return nil
}

// NewLogger constructs the process-wide slog logger described by cfg.
func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.LogFormat)
	}
	return slog.New(handler), nil
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "text", "":
		return LogFormatText, nil
	case "json":
		return LogFormatJSON, nil
	}
	return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
}

func parseAuthMode(raw string) (AuthMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "none", "":
		return AuthModeNone, nil
	case "api_key":
		return AuthModeAPIKey, nil
	case "jwt":
		return AuthModeJWT, nil
	}
	return "", fmt.Errorf("invalid %s %q (expected none, api_key, jwt)", envVarAuthMode, raw)
}

func parseDurationEnv(name, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", name, raw)
	}
	return d, nil
}

func parseIntEnv(name, raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return n, nil
}

func splitCommaList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
