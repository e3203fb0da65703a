package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nfrund/collegeos/internal/database"
	"github.com/nfrund/collegeos/internal/domain"
	"github.com/nfrund/collegeos/internal/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wireFrame struct {
	Type    string          `json:"type"`
	Target  string          `json:"target"`
	Payload json.RawMessage `json:"payload"`
}

func setupGateway(t *testing.T) (*Gateway, *memFeed, string) {
	t.Helper()
	feed := newMemFeed()
	bus := pubsub.NewWatermillBridge()
	gw := NewGateway(Deps{
		Messages:   &memMessages{},
		Typing:     newMemTyping(),
		Members:    newMemMembers("user:ana", "g1"),
		Feed:       feed,
		Publisher:  bus,
		Subscriber: bus,
	}, Options{}, nil)

	withUser := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Test-User") == "" {
			gw.ServeHTTP(w, r)
			return
		}
		user := &domain.User{ID: r.Header.Get("X-Test-User"), DisplayName: "Tester"}
		gw.ServeHTTP(w, r.WithContext(domain.WithUser(r.Context(), user)))
	})
	srv := httptest.NewServer(withUser)
	t.Cleanup(func() {
		gw.Shutdown()
		srv.Close()
		_ = bus.Close()
	})
	return gw, feed, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url, userID string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("X-Test-User", userID)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	require.NoError(t, err, "failed to connect to websocket")
	t.Cleanup(func() {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	})
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wireFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, p, err := conn.ReadMessage()
	require.NoError(t, err, "failed to read frame")
	var f wireFrame
	require.NoError(t, json.Unmarshal(p, &f))
	return f
}

func TestGateway_RejectsAnonymous(t *testing.T) {
	_, _, url := setupGateway(t)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGateway_OpenAndSendRoundTrip(t *testing.T) {
	gw, feed, url := setupGateway(t)
	conn := dial(t, url, "user:ana")

	require.Eventually(t, func() bool { return gw.Sessions() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, feed.count(database.MessageTable))

	require.NoError(t, conn.WriteJSON(Inbound{Type: FrameOpen, ConversationID: "g1"}))
	f := readFrame(t, conn)
	assert.Equal(t, FrameMessages, f.Type)
	assert.Equal(t, "g1", f.Target)

	require.NoError(t, conn.WriteJSON(Inbound{Type: FrameSend, ConversationID: "g1", Content: "hello"}))

	var sawPending, sawRecord bool
	for i := 0; i < 5 && !(sawPending && sawRecord); i++ {
		f := readFrame(t, conn)
		if f.Type != FrameMessages {
			continue
		}
		var p MessagesPayload
		require.NoError(t, json.Unmarshal(f.Payload, &p))
		require.Len(t, p.Messages, 1, "one entry per logical send")
		if p.Messages[0].Pending {
			sawPending = true
		} else {
			sawRecord = true
			assert.Equal(t, "message:1", p.Messages[0].ID)
		}
	}
	assert.True(t, sawPending, "placeholder frame")
	assert.True(t, sawRecord, "reconciled frame")
}

func TestGateway_UndecodableFrameKeepsConnection(t *testing.T) {
	_, _, url := setupGateway(t)
	conn := dial(t, url, "user:ana")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteJSON(Inbound{Type: FrameOpen, ConversationID: "g1"}))

	f := readFrame(t, conn)
	assert.Equal(t, FrameMessages, f.Type)
}

func TestGateway_DisconnectClosesSession(t *testing.T) {
	gw, feed, url := setupGateway(t)
	conn := dial(t, url, "user:ana")

	require.NoError(t, conn.WriteJSON(Inbound{Type: FrameOpen, ConversationID: "g1"}))
	readFrame(t, conn)
	require.Equal(t, 1, feed.count(database.TypingTable))

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	assert.Eventually(t, func() bool {
		return gw.Sessions() == 0 && feed.count(database.TypingTable) == 0 && feed.count(database.MessageTable) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
