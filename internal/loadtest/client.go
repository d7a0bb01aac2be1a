// Package loadtest drives simulated chat participants against a running
// server. It speaks the same WebSocket protocol as the browser client and
// records connect and delivery latencies.
package loadtest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/whisper/roomchat/internal/protocol"
)

// Metrics is a snapshot of one client's counters.
type Metrics struct {
	ConnectLatency   time.Duration
	MessagesSent     int64
	MessagesReceived int64
	RateLimited      int64
	Errors           int64
}

// Client is one simulated participant.
type Client struct {
	conn    net.Conn
	rw      io.ReadWriter // conn, preceded by bytes buffered during the handshake
	writeMu sync.Mutex

	connectLatency time.Duration
	sent           atomic.Int64
	received       atomic.Int64
	rateLimited    atomic.Int64
	errors         atomic.Int64

	sessionID string
	session   chan struct{}

	mu          sync.Mutex
	handlers    map[string]func(json.RawMessage)
	pending     map[string]time.Time
	seq         int64
	onDelivered func(time.Duration)

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to url and starts reading server events.
func Dial(ctx context.Context, url string) (*Client, error) {
	start := time.Now()
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("loadtest: dial: %w", err)
	}

	// The server greets right after the upgrade, so the greeting may
	// already sit in the handshake reader.
	var rw io.ReadWriter = conn
	if br != nil {
		rw = struct {
			io.Reader
			io.Writer
		}{io.MultiReader(br, conn), conn}
	}

	c := &Client{
		conn:           conn,
		rw:             rw,
		connectLatency: time.Since(start),
		session:        make(chan struct{}),
		handlers:       make(map[string]func(json.RawMessage)),
		pending:        make(map[string]time.Time),
		done:           make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// On registers handler for a server event type, replacing any previous one.
// Handlers run on the read goroutine.
func (c *Client) On(event string, handler func(json.RawMessage)) {
	c.mu.Lock()
	c.handlers[event] = handler
	c.mu.Unlock()
}

// OnDelivered sets the callback invoked with the round trip of every
// acknowledged SendMessage.
func (c *Client) OnDelivered(fn func(time.Duration)) {
	c.mu.Lock()
	c.onDelivered = fn
	c.mu.Unlock()
}

// WaitForSession blocks until session_created arrived.
func (c *Client) WaitForSession(ctx context.Context) error {
	select {
	case <-c.session:
		return nil
	case <-c.done:
		return fmt.Errorf("loadtest: connection closed before session was created")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SessionID returns the id from session_created, or "" before it arrived.
func (c *Client) SessionID() string {
	select {
	case <-c.session:
		return c.sessionID
	default:
		return ""
	}
}

// Join sends user_join.
func (c *Client) Join(username, room string) error {
	return c.send(protocol.TypeUserJoin, protocol.UserJoinMsg{Username: username, Room: room})
}

// SwitchRoom sends join_room.
func (c *Client) SwitchRoom(room string) error {
	return c.send(protocol.TypeJoinRoom, protocol.JoinRoomMsg{RoomName: room})
}

// SendMessage posts text to the current room. The delivery latency is
// reported through OnDelivered when the server acknowledges it.
func (c *Client) SendMessage(text string) error {
	c.mu.Lock()
	c.seq++
	tempID := fmt.Sprintf("lt-%d", c.seq)
	c.pending[tempID] = time.Now()
	c.mu.Unlock()

	if err := c.send(protocol.TypeSendMessage, protocol.SendMessageMsg{Message: text, TempID: tempID}); err != nil {
		c.mu.Lock()
		delete(c.pending, tempID)
		c.mu.Unlock()
		return err
	}
	return nil
}

// Typing sends a typing indicator.
func (c *Client) Typing(isTyping bool) error {
	return c.send(protocol.TypeTyping, protocol.TypingMsg{IsTyping: isTyping})
}

// Metrics returns a snapshot of the client's counters.
func (c *Client) Metrics() Metrics {
	return Metrics{
		ConnectLatency:   c.connectLatency,
		MessagesSent:     c.sent.Load(),
		MessagesReceived: c.received.Load(),
		RateLimited:      c.rateLimited.Load(),
		Errors:           c.errors.Load(),
	}
}

// Done is closed when the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close ends the connection. It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) send(event string, payload any) error {
	// NewServerMessage only merges the type key, so it serves outbound
	// client frames too.
	data, err := protocol.NewServerMessage(event, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsutil.WriteClientMessage(c.conn, ws.OpText, data); err != nil {
		return fmt.Errorf("loadtest: write %s: %w", event, err)
	}
	c.sent.Add(1)
	return nil
}

func (c *Client) readLoop() {
	defer c.Close()

	for {
		data, err := wsutil.ReadServerText(c.rw)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.errors.Add(1)
			}
			return
		}
		c.received.Add(1)

		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			c.errors.Add(1)
			continue
		}
		c.handle(env.Type, data)
	}
}

func (c *Client) handle(event string, data []byte) {
	switch event {
	case protocol.TypeSessionCreated:
		var m protocol.SessionCreatedMsg
		if err := json.Unmarshal(data, &m); err == nil && c.sessionID == "" {
			c.sessionID = m.SessionID
			close(c.session)
		}
	case protocol.TypeMessageDelivered:
		var m struct {
			TempID string `json:"tempId"`
		}
		if err := json.Unmarshal(data, &m); err == nil {
			c.delivered(m.TempID)
		}
	case protocol.TypeRateLimited:
		c.rateLimited.Add(1)
	case protocol.TypeError:
		c.errors.Add(1)
	}

	c.mu.Lock()
	handler := c.handlers[event]
	c.mu.Unlock()
	if handler != nil {
		handler(json.RawMessage(data))
	}
}

func (c *Client) delivered(tempID string) {
	c.mu.Lock()
	sentAt, ok := c.pending[tempID]
	delete(c.pending, tempID)
	fn := c.onDelivered
	c.mu.Unlock()

	if ok && fn != nil {
		fn(time.Since(sentAt))
	}
}
