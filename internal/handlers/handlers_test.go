package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/nfrund/collegeos/internal/domain"
	"github.com/nfrund/collegeos/internal/middleware"
	"github.com/nfrund/collegeos/internal/notify"
	"github.com/nfrund/collegeos/internal/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubUsers struct {
	tokens map[string]*domain.User
	err    error
}

func (s *stubUsers) Authenticate(_ context.Context, token string) (*domain.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	if u, ok := s.tokens[token]; ok {
		return u, nil
	}
	return nil, domain.ErrUnauthenticated
}

func (s *stubUsers) FindUserByID(context.Context, string) (*domain.User, error) {
	return nil, domain.ErrNotFound
}

type stubReader struct {
	rows  []domain.TypingStatus
	err   error
	since time.Time
}

func (r *stubReader) ListActive(_ context.Context, _ string, since time.Time) ([]domain.TypingStatus, error) {
	r.since = since
	return r.rows, r.err
}

// stubMembers knows memberships as "conversation|user" keys.
type stubMembers struct {
	member map[string]bool
	err    error
}

func membersOf(userID string, convs ...string) *stubMembers {
	m := &stubMembers{member: map[string]bool{}}
	for _, c := range convs {
		m.member[c+"|"+userID] = true
	}
	return m
}

func (m *stubMembers) ConversationsOf(context.Context, string) ([]string, error) {
	return nil, m.err
}

func (m *stubMembers) IsMember(_ context.Context, conv, userID string) (bool, error) {
	return m.member[conv+"|"+userID], m.err
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []pubsub.Message
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, msg pubsub.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func newTestEcho() *echo.Echo {
	e := echo.New()
	e.Validator = NewValidator()
	e.Use(session.Middleware(sessions.NewCookieStore([]byte("test-secret-test-secret-32-bytes"))))
	return e
}

func withUser(u *domain.User) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(middleware.UserContextKey, u)
			return next(c)
		}
	}
}

func TestAuthHandler_SignIn(t *testing.T) {
	users := &stubUsers{tokens: map[string]*domain.User{
		"good": {ID: "user:ana", Email: "ana@example.edu", DisplayName: "Ana"},
	}}
	e := newTestEcho()
	h := NewAuthHandler(users)
	e.POST("/api/session", h.SignIn)
	e.DELETE("/api/session", h.SignOut)

	t.Run("valid token stores the session", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/session", strings.NewReader(`{"token":"good"}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()

		e.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var got UserResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "user:ana", got.ID)
		assert.Equal(t, "Ana", got.DisplayName)

		var found bool
		for _, ck := range rec.Result().Cookies() {
			if ck.Name == middleware.SessionName {
				found = true
			}
		}
		assert.True(t, found, "session cookie should be set")
	})

	t.Run("missing token fails validation", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/session", strings.NewReader(`{}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()

		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "validation_failed")
	})

	t.Run("rejected token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/session", strings.NewReader(`{"token":"bad"}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()

		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("sign out expires the cookie", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/session", nil))

		assert.Equal(t, http.StatusNoContent, rec.Code)
		cookies := rec.Result().Cookies()
		require.NotEmpty(t, cookies)
		assert.Less(t, cookies[0].MaxAge, 0)
	})
}

func TestAuthHandler_SignInBackendDown(t *testing.T) {
	e := newTestEcho()
	e.POST("/api/session", NewAuthHandler(&stubUsers{err: errors.Join(domain.ErrBackend, errors.New("refused"))}).SignIn)

	req := httptest.NewRequest(http.MethodPost, "/api/session", strings.NewReader(`{"token":"any"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTypingHandler_List(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	clk := clock.NewMock()
	clk.Set(now)

	reader := &stubReader{rows: []domain.TypingStatus{
		{ConversationID: "c1", UserID: "user:cy", DisplayName: "Cy", IsTyping: true, LastUpdatedAt: now.Add(-time.Second)},
		{ConversationID: "c1", UserID: "user:bo", DisplayName: "Bo", IsTyping: true, LastUpdatedAt: now.Add(-2 * time.Second)},
		{ConversationID: "c1", UserID: "user:ana", DisplayName: "Ana", IsTyping: true, LastUpdatedAt: now},
		{ConversationID: "c1", UserID: "user:old", DisplayName: "Old", IsTyping: true, LastUpdatedAt: now.Add(-11 * time.Second)},
	}}

	e := newTestEcho()
	h := NewTypingHandler(reader, membersOf("user:ana", "c1"), 0, clk)
	e.GET("/api/conversations/:id/typing", h.List, withUser(&domain.User{ID: "user:ana", DisplayName: "Ana"}))

	t.Run("json", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations/c1/typing", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var got TypingResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "c1", got.ConversationID)
		require.Len(t, got.Users, 2)
		assert.Equal(t, "user:bo", got.Users[0].UserID)
		assert.Equal(t, "user:cy", got.Users[1].UserID)
		assert.Equal(t, "Bo and Cy are typing", got.Text)
		assert.Equal(t, now.Add(-domain.DefaultTypingStaleWindow), reader.since)
	})

	t.Run("htmx fragment", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/conversations/c1/typing", nil)
		req.Header.Set("HX-Request", "true")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "text/html")
		assert.Contains(t, rec.Body.String(), "Bo and Cy are typing")
	})
}

func TestTypingHandler_ListDegradesOnError(t *testing.T) {
	e := newTestEcho()
	h := NewTypingHandler(&stubReader{err: domain.ErrBackend}, membersOf("user:ana", "c1"), time.Second, clock.NewMock())
	e.GET("/api/conversations/:id/typing", h.List, withUser(&domain.User{ID: "user:ana"}))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations/c1/typing", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got TypingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Empty(t, got.Users)
	assert.Empty(t, got.Text)
}

func TestTypingHandler_RequiresUser(t *testing.T) {
	e := newTestEcho()
	e.GET("/api/conversations/:id/typing", NewTypingHandler(&stubReader{}, membersOf("user:ana", "c1"), 0, nil).List)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations/c1/typing", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTypingHandler_RequiresMembership(t *testing.T) {
	reader := &stubReader{rows: []domain.TypingStatus{
		{ConversationID: "dm:alice-bob", UserID: "user:alice", DisplayName: "Alice", IsTyping: true, LastUpdatedAt: time.Now()},
	}}

	tests := []struct {
		name    string
		members *stubMembers
		want    int
	}{
		{"non member", membersOf("user:mallory", "c1"), http.StatusForbidden},
		{"backend down", &stubMembers{err: domain.ErrBackend}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEcho()
			e.GET("/api/conversations/:id/typing", NewTypingHandler(reader, tt.members, 0, nil).List,
				withUser(&domain.User{ID: "user:mallory"}))

			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations/dm:alice-bob/typing", nil))

			assert.Equal(t, tt.want, rec.Code)
			assert.NotContains(t, rec.Body.String(), "Alice")
		})
	}
}

func TestPushHandler_Receive(t *testing.T) {
	pub := &recordingPublisher{}
	e := newTestEcho()
	e.POST("/api/push/:userID", NewPushHandler(pub, "s3cret").Receive)

	post := func(secret, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/push/user:ana", strings.NewReader(body))
		if secret != "" {
			req.Header.Set(PushSecretHeader, secret)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	t.Run("wrong secret", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, post("nope", `{"title":"x"}`).Code)
		assert.Empty(t, pub.msgs)
	})

	t.Run("payload is published to the user", func(t *testing.T) {
		rec := post("s3cret", `{"title":"Exam moved","body":"Room 204","tag":"exam"}`)
		require.Equal(t, http.StatusAccepted, rec.Code)

		require.Len(t, pub.msgs, 1)
		msg := pub.msgs[0]
		assert.Equal(t, notify.PushEvent.Name(), msg.Topic)
		assert.Equal(t, "user:ana", msg.UserID)

		var wm notify.WorkerMessage
		require.NoError(t, json.Unmarshal(msg.Payload, &wm))
		assert.Equal(t, notify.MessageShowNotification, wm.Type)
		assert.Equal(t, "Exam moved", wm.Payload.Title)
		assert.Equal(t, "Room 204", wm.Payload.Body)
		assert.Equal(t, notify.DefaultIcon, wm.Payload.Icon)
	})

	t.Run("malformed body delivers the default notification", func(t *testing.T) {
		pub.msgs = nil
		rec := post("s3cret", `not json`)
		require.Equal(t, http.StatusAccepted, rec.Code)

		require.Len(t, pub.msgs, 1)
		var wm notify.WorkerMessage
		require.NoError(t, json.Unmarshal(pub.msgs[0].Payload, &wm))
		assert.Equal(t, notify.DefaultTitle, wm.Payload.Title)
		assert.Equal(t, notify.DefaultBody, wm.Payload.Body)
	})
}

func TestPushHandler_DisabledWithoutSecret(t *testing.T) {
	e := newTestEcho()
	e.POST("/api/push/:userID", NewPushHandler(&recordingPublisher{}, "").Receive)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/push/user:ana", strings.NewReader(`{}`)))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPushHandler_PublishFailure(t *testing.T) {
	e := newTestEcho()
	e.POST("/api/push/:userID", NewPushHandler(&recordingPublisher{err: errors.New("bus closed")}, "k").Receive)

	req := httptest.NewRequest(http.MethodPost, "/api/push/user:ana", strings.NewReader(`{"title":"x"}`))
	req.Header.Set(PushSecretHeader, "k")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"healthy", nil, http.StatusOK},
		{"database down", errors.New("not connected"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEcho()
			e.GET("/healthz", NewHealthHandler(stubPinger{err: tt.err}).Check)

			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			assert.Equal(t, tt.code, rec.Code)
		})
	}
}
