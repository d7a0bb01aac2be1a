// Package ws handles WebSocket connection management, including upgrading
// HTTP connections, maintaining active client sessions, delivering room
// events, and dispatching incoming messages to the appropriate handlers.
package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/whisper/roomchat/internal/metrics"
	"github.com/whisper/roomchat/internal/protocol"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	WorkerPoolSize  int           // max concurrent read-worker goroutines
	MaxConnections  int           // hard cap on total connections
	MaxMessageBytes int64         // largest accepted data frame
	ReadTimeout     time.Duration // timeout for WebSocket read operations
	WriteTimeout    time.Duration // timeout for WebSocket write operations
	SendQueueSize   int           // outbound frames buffered per connection
	Heartbeat       HeartbeatConfig
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		WorkerPoolSize:  256,
		MaxConnections:  100000,
		MaxMessageBytes: 8192,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		SendQueueSize:   256,
		Heartbeat:       DefaultHeartbeatConfig(),
	}
}

// Server is the WebSocket server built on gobwas/ws and Linux epoll. It
// upgrades HTTP connections to WebSocket, registers them with an epoll
// instance for I/O readiness notifications, and dispatches ready connections
// to a bounded worker pool for frame reading. The HTTP listener itself is
// owned by the caller, which mounts HandleUpgrade and HandleHealth.
type Server struct {
	config       ServerConfig
	epoll        *Epoll
	conns        *ConnectionManager
	groups       *Groups
	workerPool   chan struct{}                        // semaphore limiting concurrent read workers
	onMessage    func(conn *Connection, data []byte) // message handler callback
	onDisconnect func(connID string)                 // called once when a connection is removed
	logger       *zap.Logger
	done         chan struct{}
	stopOnce     sync.Once
	startedAt    time.Time
}

// NewServer creates a Server with the given configuration and message
// callback. The onMessage function is called from a worker goroutine
// whenever a complete WebSocket text frame is received from a client.
func NewServer(config ServerConfig, logger *zap.Logger, onMessage func(conn *Connection, data []byte)) *Server {
	if config.WorkerPoolSize < 1 {
		config.WorkerPoolSize = 1
	}
	conns := NewConnectionManager()
	return &Server{
		config:     config,
		conns:      conns,
		groups:     NewGroups(conns, logger),
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		onMessage:  onMessage,
		logger:     logger,
		done:       make(chan struct{}),
		startedAt:  time.Now(),
	}
}

// Start initializes the epoll instance and starts the event loop and the
// heartbeat monitor in the background.
func (s *Server) Start() error {
	var err error
	s.epoll, err = NewEpoll()
	if err != nil {
		return fmt.Errorf("ws: failed to create epoll: %w", err)
	}
	s.startedAt = time.Now()

	go s.startEventLoop()
	StartHeartbeat(s, s.config.Heartbeat)

	s.logger.Info("ws: server started",
		zap.Int("workers", s.config.WorkerPoolSize),
		zap.Int("max_conns", s.config.MaxConnections),
	)
	return nil
}

// HandleUpgrade upgrades an HTTP request to a WebSocket connection using
// the gobwas/ws zero-copy upgrader, registers it and greets the client with
// its session id.
func (s *Server) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Debug("ws: upgrade failed", zap.Error(err))
		return
	}

	c := newConnection(uuid.New().String(), conn, s.config.SendQueueSize, s.config.WriteTimeout)
	s.conns.Add(c)
	go c.writeLoop(s.logger)

	if err := s.epoll.Add(conn); err != nil {
		s.logger.Error("ws: epoll add failed", zap.String("session", c.ID), zap.Error(err))
		s.conns.Remove(c.ID)
		return
	}
	metrics.ConnectionsTotal.Inc()

	if err := c.Send(protocol.TypeSessionCreated, protocol.SessionCreatedMsg{SessionID: c.ID}); err != nil {
		s.logger.Warn("ws: failed to queue session_created", zap.String("session", c.ID), zap.Error(err))
	}

	s.logger.Debug("ws: new connection",
		zap.String("session", c.ID),
		zap.Int("fd", c.Fd),
		zap.Int("total", s.conns.Count()),
	)
}

// HandleHealth responds with the server's health status as JSON, including
// the current connection count and uptime.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
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

// startEventLoop runs the epoll wait loop. For each batch of ready
// connections, it dispatches each to a worker goroutine (bounded by the
// worker pool semaphore) that reads and processes the WebSocket frame.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.epoll.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("ws: epoll wait error", zap.Error(err))
			continue
		}

		for _, conn := range conns {
			s.workerPool <- struct{}{}

			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
				s.epoll.Resume(conn)
			}()
		}
	}
}

// handleConn reads a single WebSocket frame from a ready connection using
// wsutil.NextReader so that control frames (ping, pong) are handled without
// blocking on a data frame that may never arrive. If the read fails the
// connection is removed.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}

	// Guard against duplicate dispatch from level-triggered epoll, which also
	// keeps each connection's events in order.
	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.processing, 0)

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// A read timeout means no data was available (stale epoll dispatch).
		// The heartbeat handles dead connections.
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}

	_ = netConn.SetReadDeadline(time.Time{})

	// Any frame proves the connection is alive.
	c.Touch()

	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.RemoveConnection(c)
		}
		return
	}

	if s.config.MaxMessageBytes > 0 && header.Length > s.config.MaxMessageBytes {
		if _, err := io.CopyN(io.Discard, reader, header.Length); err != nil {
			s.RemoveConnection(c)
			return
		}
		_ = c.Send(protocol.TypeError, protocol.ErrorMsg{
			Code:    "message_too_large",
			Message: "message exceeds the maximum frame size",
		})
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := io.ReadFull(reader, data); err != nil {
			s.RemoveConnection(c)
			return
		}
	}

	if len(data) == 0 {
		return
	}

	if s.onMessage != nil {
		s.onMessage(c, data)
	}
}

// SetOnDisconnect registers a callback invoked exactly once when a
// connection is removed (read error, heartbeat timeout or close frame).
func (s *Server) SetOnDisconnect(fn func(connID string)) {
	s.onDisconnect = fn
}

// RemoveConnection removes a connection from both epoll and the connection
// manager and closes it. Concurrent removals of the same connection are
// collapsed by the connection manager.
func (s *Server) RemoveConnection(c *Connection) {
	if s.epoll != nil {
		_ = s.epoll.Remove(c.Conn)
	}

	if !s.conns.Remove(c.ID) {
		return
	}
	metrics.ConnectionsTotal.Dec()

	if s.onDisconnect != nil {
		s.onDisconnect(c.ID)
	}
	s.groups.Forget(c.ID)

	s.logger.Debug("ws: connection closed",
		zap.String("session", c.ID),
		zap.Int("total", s.conns.Count()),
	)
}

// Connections returns the ConnectionManager.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Groups returns the room group table, which implements hub.Broadcaster.
func (s *Server) Groups() *Groups {
	return s.groups
}

// Shutdown signals the event loop to exit, closes all active connections
// and releases the epoll instance. The HTTP listener is shut down by its
// owner.
func (s *Server) Shutdown() error {
	s.stopOnce.Do(func() {
		close(s.done)

		for _, c := range s.conns.All() {
			s.RemoveConnection(c)
		}

		if s.epoll != nil {
			_ = s.epoll.Close()
		}
		s.logger.Info("ws: server stopped, all connections closed")
	})
	return nil
}
