// Package ws handles WebSocket connection management: upgrading HTTP
// connections, tracking live clients, and dispatching incoming frames to
// registered handlers. Each connection gets a dedicated read goroutine.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/crosstalk/chat-server/internal/metrics"
	"github.com/crosstalk/chat-server/internal/protocol"
)

// IPGate is consulted before upgrading a connection. A banned IP is
// rejected at the door; no session work happens for it.
type IPGate interface {
	Check(ctx context.Context, ip string) (banned bool, remaining time.Duration, err error)
}

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr        string
	MaxConnections    int
	WriteTimeout      time.Duration
	HeartbeatInterval time.Duration
	FrameRate         float64 // sustained inbound frames per second per connection
	FrameBurst        int     // burst allowance per connection
}

// DefaultServerConfig returns production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:        ":8080",
		MaxConnections:    100000,
		WriteTimeout:      10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		FrameRate:         10,
		FrameBurst:        20,
	}
}

// Server upgrades HTTP connections to WebSocket with the gobwas/ws
// zero-copy upgrader and runs one read goroutine per connection.
type Server struct {
	config       ServerConfig
	conns        *Manager
	ipGate       IPGate
	onMessage    func(conn *Connection, data []byte)
	onDisconnect func(conn *Connection)
	httpServer   *http.Server
	log          zerolog.Logger
	done         chan struct{}
	closeOnce    sync.Once
	wg           sync.WaitGroup
	startedAt    time.Time
}

// NewServer creates a Server. onMessage is invoked from the connection's
// read goroutine for every complete text frame.
func NewServer(config ServerConfig, ipGate IPGate, log zerolog.Logger, onMessage func(conn *Connection, data []byte)) *Server {
	return &Server{
		config:    config,
		conns:     NewManager(),
		ipGate:    ipGate,
		onMessage: onMessage,
		log:       log.With().Str("component", "ws").Logger(),
		done:      make(chan struct{}),
	}
}

// SetOnDisconnect registers a callback invoked when a connection is
// removed, before its network socket is closed.
func (s *Server) SetOnDisconnect(fn func(conn *Connection)) {
	s.onDisconnect = fn
}

// Handler returns the mux serving /ws and /health, so the caller can
// mount additional routes on the same listener.
func (s *Server) Handler() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start begins accepting WebSocket connections and blocks until the HTTP
// listener stops.
func (s *Server) Start(handler http.Handler) error {
	s.startedAt = time.Now()
	if handler == nil {
		handler = s.Handler()
	}
	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: handler,
	}

	hb := DefaultHeartbeatConfig()
	if s.config.HeartbeatInterval > 0 {
		hb.Interval = s.config.HeartbeatInterval
	}
	StartHeartbeat(s, hb)

	s.log.Info().
		Str("addr", s.config.ListenAddr).
		Int("max_conns", s.config.MaxConnections).
		Msg("listening")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ws: http server: %w", err)
	}
	return nil
}

// clientIP extracts the peer IP, honoring X-Forwarded-For from a fronting
// proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			fwd = fwd[:idx]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	ip := clientIP(r)
	if s.ipGate != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		banned, remaining, err := s.ipGate.Check(ctx, ip)
		cancel()
		if err != nil {
			s.log.Warn().Err(err).Str("ip", ip).Msg("ip gate check failed, allowing")
		} else if banned {
			s.log.Info().Str("ip", ip).Dur("remaining", remaining).Msg("rejected banned ip")
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Debug().Err(err).Msg("upgrade failed")
		return
	}

	c := &Connection{
		ID:        uuid.NewString(),
		Conn:      conn,
		IP:        ip,
		CreatedAt: time.Now(),
		limiter:   rate.NewLimiter(rate.Limit(s.config.FrameRate), s.config.FrameBurst),
	}
	c.Touch()

	s.conns.Add(c)
	metrics.ConnectionsTotal.Inc()
	s.log.Debug().Str("conn", c.ID).Str("ip", ip).Int("total", s.conns.Count()).Msg("connected")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readLoop(c)
	}()
}

// readLoop reads frames until the connection dies. Control frames are
// handled inline; data frames are throttled and passed to onMessage.
func (s *Server) readLoop(c *Connection) {
	defer s.RemoveConnection(c)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		header, reader, err := wsutil.NextReader(c.Conn, ws.StateServerSide)
		if err != nil {
			return
		}
		c.Touch()

		if header.OpCode.IsControl() {
			if header.OpCode == ws.OpClose {
				return
			}
			if header.OpCode == ws.OpPing {
				if err := s.writePong(c, header, reader); err != nil {
					return
				}
				continue
			}
			// Pong: drain and continue.
			_, _ = io.Copy(io.Discard, reader)
			continue
		}

		data := make([]byte, header.Length)
		if header.Length > 0 {
			if _, err := io.ReadFull(reader, data); err != nil {
				return
			}
		}
		if len(data) == 0 {
			continue
		}

		if !c.Allow() {
			s.sendRateLimited(c)
			continue
		}

		if s.onMessage != nil {
			s.onMessage(c, data)
		}
	}
}

func (s *Server) writePong(c *Connection, header ws.Header, reader io.Reader) error {
	payload := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := io.ReadFull(reader, payload); err != nil {
			return err
		}
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPongFrame(payload))
}

func (s *Server) sendRateLimited(c *Connection) {
	data, err := protocol.NewServerMessage(protocol.TypeRateLimited, protocol.RateLimitedMsg{
		Scope: "frames",
	})
	if err != nil {
		return
	}
	_ = c.WriteMessage(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// RemoveConnection removes a connection from the manager and closes its
// socket. Exported so the heartbeat can evict dead connections. Safe to
// call more than once.
func (s *Server) RemoveConnection(c *Connection) {
	if !s.conns.Remove(c.ID) {
		return
	}
	metrics.ConnectionsTotal.Dec()

	if s.onDisconnect != nil {
		s.onDisconnect(c)
	}
	s.log.Debug().Str("conn", c.ID).Int("total", s.conns.Count()).Msg("disconnected")
}

// Send writes a frame to the connection identified by connID.
func (s *Server) Send(connID string, data []byte) error {
	c := s.conns.Get(connID)
	if c == nil {
		return fmt.Errorf("ws: connection %s not found", connID)
	}
	if s.config.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
	err := c.WriteMessage(data)
	_ = c.Conn.SetWriteDeadline(time.Time{})
	return err
}

// Connections exposes the manager for fanout and heartbeat use.
func (s *Server) Connections() *Manager {
	return s.conns
}

// Shutdown stops the listener, closes every connection, and waits for the
// read goroutines to drain.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down")
	s.closeOnce.Do(func() { close(s.done) })

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.Warn().Err(err).Msg("http shutdown error")
		}
	}

	for _, c := range s.conns.All() {
		s.RemoveConnection(c)
	}

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info().Msg("stopped")
	return nil
}

// Done exposes the shutdown signal for background workers.
func (s *Server) Done() <-chan struct{} {
	return s.done
}
