package ws

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"chat-relay/auth"
	"chat-relay/errors"
	"chat-relay/observability"
	"chat-relay/runtime"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"golang.org/x/time/rate"
)

// ServerConfig carries the transport tunables. Zero values get sensible
// defaults from NewServer.
type ServerConfig struct {
	Addr              string
	AllowedOrigins    []string // empty slice allows any origin
	SendBuffer        int
	MaxMessageSize    int64
	MessagesPerSecond float64 // per-connection inbound throttle, 0 disables
	MessageBurst      int
}

// Server terminates websocket connections: it gates each attempt on the
// address limiter and the authenticator, upgrades survivors, and runs
// the read/write pumps until the peer goes away.
type Server struct {
	cfg      ServerConfig
	auth     *auth.Authenticator
	limiter  *auth.AddressLimiter
	router   *runtime.Router
	registry *runtime.ConnectionRegistry
	metrics  *observability.Metrics
	log      *slog.Logger
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

func NewServer(cfg ServerConfig, authenticator *auth.Authenticator, limiter *auth.AddressLimiter,
	router *runtime.Router, registry *runtime.ConnectionRegistry,
	metrics *observability.Metrics, log *slog.Logger) *Server {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 64 * 1024
	}
	if cfg.MessageBurst <= 0 {
		cfg.MessageBurst = 10
	}

	s := &Server{
		cfg:      cfg,
		auth:     authenticator,
		limiter:  limiter,
		router:   router,
		registry: registry,
		metrics:  metrics,
		log:      log,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the HTTP surface, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.log.Info("websocket gateway listening", "addr", s.cfg.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener, then closes every live session; hijacked
// websocket connections are invisible to http.Server.Shutdown, so they
// are told to go away explicitly.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpSrv.Shutdown(ctx)
	for _, session := range s.registry.Sessions() {
		session.Sink.Close(websocket.CloseGoingAway, "server shutting down")
	}
	return err
}

// handleWS is the admission pipeline: rate limit by address, then
// authenticate, then upgrade. The order matters, a throttled address
// never costs a token verification or a directory lookup.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	addr := clientAddr(r)

	if err := s.limiter.Allow(addr); err != nil {
		s.metrics.IncrConnectionsRejected()
		s.log.Warn("connection rejected", "remote_addr", addr, "reason", "rate_limited")
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	user, err := s.auth.Authenticate(r.Context(), bearerToken(r))
	if err != nil {
		s.metrics.IncrConnectionsRejected()
		s.log.Warn("connection rejected", "remote_addr", addr, "reason", rejectionReason(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.metrics.IncrConnectionsRejected()
		s.log.Warn("upgrade failed", "remote_addr", addr, "err", err)
		return
	}

	var inbound *rate.Limiter
	if s.cfg.MessagesPerSecond > 0 {
		inbound = rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.MessageBurst)
	}
	conn := newConn(wsConn, s.cfg.SendBuffer, s.cfg.MaxMessageSize, inbound, s.log)

	session := &runtime.Session{
		ConnectionID: conn.ID(),
		User:         user,
		RemoteAddr:   addr,
		ConnectedAt:  time.Now().UTC(),
		Sink:         conn,
	}

	s.metrics.IncrConnectionsAccepted()

	ctx := context.WithoutCancel(r.Context())
	s.router.HandleConnect(ctx, session)

	go conn.writePump()
	conn.readPump(ctx, session, s.router)

	s.router.HandleDisconnect(ctx, session)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return lo.Contains(s.cfg.AllowedOrigins, origin)
}

// bearerToken extracts the credential from the Authorization header,
// falling back to the token query parameter for browser clients that
// cannot set headers on a websocket dial.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return token
		}
		return h
	}
	return r.URL.Query().Get("token")
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func rejectionReason(err error) string {
	switch {
	case stderrors.Is(err, errors.ErrMissingCredential):
		return "missing_credential"
	case stderrors.Is(err, errors.ErrInvalidCredential):
		return "invalid_credential"
	case stderrors.Is(err, errors.ErrUnknownUser):
		return "unknown_user"
	default:
		return "error"
	}
}
