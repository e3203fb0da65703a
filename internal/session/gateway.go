package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/nfrund/collegeos/internal/domain"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second
	// Outbound frames buffered per connection before frames are dropped.
	sendBuffer = 256
)

var errConnClosed = errors.New("connection closed")

// Gateway upgrades authenticated requests to websockets and runs one
// Session per connection.
type Gateway struct {
	deps   Deps
	opts   Options
	accept *websocket.AcceptOptions
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[*Session]*client
}

// NewGateway creates a gateway. acceptOpts may be nil.
func NewGateway(deps Deps, opts Options, acceptOpts *websocket.AcceptOptions) *Gateway {
	return &Gateway{
		deps:     deps,
		opts:     opts,
		accept:   acceptOpts,
		logger:   slog.Default().With("component", "session_gateway"),
		sessions: make(map[*Session]*client),
	}
}

// ServeHTTP implements http.Handler. The user must already be on the request
// context (see domain.WithUser).
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, ok := domain.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "User not authenticated", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, g.accept)
	if err != nil {
		g.logger.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}

	client := newClient(conn, user.ID)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := New(ctx, user, g.deps, client, g.opts)
	if err := sess.Start(); err != nil {
		g.logger.Error("Failed to start session", "user_id", user.ID, "error", err)
		conn.Close(websocket.StatusInternalError, "session unavailable")
		return
	}
	g.track(sess, client)

	go client.writePump(ctx)
	g.readPump(ctx, client, sess)

	g.untrack(sess)
	sess.Close()
	client.close()
}

// Sessions reports how many sessions are connected.
func (g *Gateway) Sessions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// Shutdown closes every connected session and its connection.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	conns := make(map[*Session]*client, len(g.sessions))
	for s, c := range g.sessions {
		conns[s] = c
	}
	g.mu.Unlock()

	for s, c := range conns {
		s.Close()
		c.conn.Close(websocket.StatusGoingAway, "Server shutting down")
	}
}

func (g *Gateway) track(s *Session, c *client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[s] = c
}

func (g *Gateway) untrack(s *Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessions, s)
}

// readPump feeds frames from the connection to the session until the
// connection or the session ends.
func (g *Gateway) readPump(ctx context.Context, c *client, sess *Session) {
	defer c.conn.Close(websocket.StatusNormalClosure, "Client disconnected")

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			switch {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				g.logger.Info("WebSocket closed normally by client", "user_id", c.userID)
			case errors.Is(err, io.EOF) || errors.Is(err, context.Canceled):
			default:
				g.logger.Warn("WebSocket read error", "user_id", c.userID, "error", err)
			}
			return
		}

		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			g.logger.Warn("Ignoring undecodable frame", "user_id", c.userID, "error", err)
			continue
		}
		if err := sess.Handle(ctx, in); err != nil {
			g.logger.Warn("Frame rejected", "user_id", c.userID, "type", in.Type, "error", err)
		}
	}
}

// client is the write side of one connection.
type client struct {
	conn   *websocket.Conn
	userID string

	mu   sync.RWMutex
	send chan []byte
}

func newClient(conn *websocket.Conn, userID string) *client {
	return &client{conn: conn, userID: userID, send: make(chan []byte, sendBuffer)}
}

// Send implements Sink. Frames are dropped when the buffer is full.
func (c *client) Send(frame Outbound) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.send == nil {
		return errConnClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		slog.Warn("Client send channel full, dropping frame", "user_id", c.userID, "type", frame.Type)
		return errors.New("send buffer full")
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.send != nil {
		close(c.send)
		c.send = nil
	}
}

func (c *client) writePump(ctx context.Context) {
	c.mu.RLock()
	send := c.send
	c.mu.RUnlock()

	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-send:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(wctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				slog.Warn("WebSocket write error", "user_id", c.userID, "error", err)
				return
			}
		}
	}
}
