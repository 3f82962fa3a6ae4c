// Package rtc builds the pion WebRTC API used by mesh peers. Construction is
// centralized so tests can swap the network stack for a vnet and so pion's
// internal logging lands in the process logger.
package rtc

import (
	"fmt"
	"log/slog"

	"github.com/pion/logging"
	"github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"
)

type Config struct {
	// ICEServers as fetched from the relay's /webrtc/ice endpoint.
	ICEServers []webrtc.ICEServer

	// Net overrides the network stack; tests inject a vnet here.
	Net transport.Net

	// Logger receives pion's internal logs. Defaults to slog.Default.
	Logger *slog.Logger
}

// NewAPI constructs a webrtc.API with default codecs registered.
func NewAPI(cfg Config) (*webrtc.API, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	se := webrtc.SettingEngine{
		LoggerFactory: &slogLoggerFactory{logger: logger},
	}
	if cfg.Net != nil {
		se.SetNet(cfg.Net)
	}

	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(me),
	), nil
}

// PeerConfiguration is the webrtc.Configuration for one mesh connection.
func PeerConfiguration(iceServers []webrtc.ICEServer) webrtc.Configuration {
	return webrtc.Configuration{ICEServers: iceServers}
}

// slogLoggerFactory adapts pion's logging to slog. Pion is chatty at trace
// and debug; those map to slog debug so normal runs stay quiet.
type slogLoggerFactory struct {
	logger *slog.Logger
}

var _ logging.LoggerFactory = (*slogLoggerFactory)(nil)

func (f *slogLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &slogLeveledLogger{logger: f.logger.With("scope", scope)}
}

type slogLeveledLogger struct {
	logger *slog.Logger
}

func (l *slogLeveledLogger) Trace(msg string) { l.logger.Debug(msg) }
func (l *slogLeveledLogger) Tracef(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
func (l *slogLeveledLogger) Debug(msg string) { l.logger.Debug(msg) }
func (l *slogLeveledLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
func (l *slogLeveledLogger) Info(msg string) { l.logger.Info(msg) }
func (l *slogLeveledLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}
func (l *slogLeveledLogger) Warn(msg string) { l.logger.Warn(msg) }
func (l *slogLeveledLogger) Warnf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}
func (l *slogLeveledLogger) Error(msg string) { l.logger.Error(msg) }
func (l *slogLeveledLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}
