// Package relay implements the WebSocket signaling relay. The relay tracks
// room membership and routes negotiation payloads between members; it never
// inspects signal contents and never touches media.
package relay

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/SHlok06majmundar/nexus-meet-sub000/internal/auth"
	"github.com/SHlok06majmundar/nexus-meet-sub000/internal/config"
	"github.com/SHlok06majmundar/nexus-meet-sub000/internal/httpserver"
	"github.com/SHlok06majmundar/nexus-meet-sub000/internal/metrics"
	"github.com/SHlok06majmundar/nexus-meet-sub000/internal/ratelimit"
	"github.com/SHlok06majmundar/nexus-meet-sub000/internal/room"
)

// Server accepts signaling WebSocket connections at a single endpoint and
// runs one reader goroutine per connection. Membership lives in the injected
// registry; the server itself only maps member ids to live connections.
type Server struct {
	cfg      config.Config
	logger   *slog.Logger
	verifier auth.Verifier
	registry *room.Registry
	metrics  *metrics.Metrics
	clock    ratelimit.Clock
	upgrader websocket.Upgrader

	// newMemberID is swappable so tests get deterministic ids.
	newMemberID func() string

	mu      sync.Mutex
	clients map[string]*client
}

type Option func(*Server)

func WithClock(c ratelimit.Clock) Option {
	return func(s *Server) { s.clock = c }
}

func WithMemberIDSource(fn func() string) Option {
	return func(s *Server) { s.newMemberID = fn }
}

func NewServer(cfg config.Config, logger *slog.Logger, registry *room.Registry, m *metrics.Metrics, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:         cfg,
		logger:      logger,
		registry:    registry,
		metrics:     m,
		clock:       ratelimit.RealClock{},
		newMemberID: uuid.NewString,
		clients:     make(map[string]*client),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return httpserver.OriginAllowed(origin, cfg.AllowedOrigins)
		},
	}

	if cfg.AuthMode != config.AuthModeNone {
		verifier, err := auth.NewVerifier(cfg)
		if err != nil {
			return nil, err
		}
		s.verifier = verifier
	}

	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := s.authenticate(r)
	if err != nil {
		s.metrics.Inc(metrics.AuthFailure)
		status := http.StatusUnauthorized
		if errors.Is(err, auth.ErrMissingCredentials) {
			w.Header().Set("WWW-Authenticate", "Bearer")
		}
		http.Error(w, "invalid credentials", status)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response, including the 403
		// for a disallowed Origin.
		return
	}

	c := s.newClient(conn, identity)
	s.register(c)

	go c.writePump()
	c.readLoop()
}

func (s *Server) authenticate(r *http.Request) (auth.Identity, error) {
	if s.cfg.AuthMode == config.AuthModeNone {
		return auth.Identity{}, nil
	}
	cred, err := auth.CredentialFromRequest(s.cfg.AuthMode, r)
	if err != nil {
		return auth.Identity{}, err
	}
	return s.verifier.Verify(cred)
}

func (s *Server) register(c *client) {
	s.mu.Lock()
	s.clients[c.memberID] = c
	s.mu.Unlock()
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	delete(s.clients, c.memberID)
	s.mu.Unlock()
}

func (s *Server) client(memberID string) *client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clients[memberID]
}

// ClientCount reports the number of live connections, joined or not.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
