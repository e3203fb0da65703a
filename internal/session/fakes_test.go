package session

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nfrund/collegeos/internal/database"
	"github.com/nfrund/collegeos/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memMessages is an in-memory message store.
type memMessages struct {
	mu        sync.Mutex
	messages  []domain.Message
	next      int
	insertErr error
	listErr   error
}

func (s *memMessages) Insert(_ context.Context, d domain.MessageDraft) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrBackend, s.insertErr)
	}
	s.next++
	m := domain.Message{
		ID:             fmt.Sprintf("message:%d", s.next),
		ConversationID: d.ConversationID,
		Sender:         d.Sender,
		Content:        d.Content,
		CreatedAt:      time.Now().UTC(),
		Kind:           domain.KindText,
	}
	s.messages = append(s.messages, m)
	return &m, nil
}

func (s *memMessages) ListRecent(_ context.Context, conv string, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []domain.Message
	for _, m := range s.messages {
		if m.ConversationID == conv {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memMessages) LastMessage(ctx context.Context, conv string) (*domain.Message, error) {
	recent, err := s.ListRecent(ctx, conv, 1)
	if err != nil || len(recent) == 0 {
		return nil, err
	}
	return &recent[0], nil
}

func (s *memMessages) add(m domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
}

// memTyping is an in-memory typing_status table.
type memTyping struct {
	mu   sync.Mutex
	rows map[string]domain.TypingStatus
	ops  []string
}

func newMemTyping() *memTyping {
	return &memTyping{rows: make(map[string]domain.TypingStatus)}
}

func (s *memTyping) Upsert(_ context.Context, st domain.TypingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[st.ConversationID+"|"+st.UserID] = st
	s.ops = append(s.ops, "upsert:"+st.UserID)
	return nil
}

func (s *memTyping) Delete(_ context.Context, conv, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, conv+"|"+user)
	s.ops = append(s.ops, "delete:"+user)
	return nil
}

func (s *memTyping) ListActive(_ context.Context, conv string, since time.Time) ([]domain.TypingStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TypingStatus
	for _, st := range s.rows {
		if st.ConversationID == conv && st.IsTyping && st.LastUpdatedAt.After(since) {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *memTyping) history() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.ops)
}

// memMembers is an in-memory conversation_member table.
type memMembers struct {
	mu    sync.Mutex
	convs map[string][]string
	err   error
}

func newMemMembers(userID string, convs ...string) *memMembers {
	return &memMembers{convs: map[string][]string{userID: convs}}
}

func (m *memMembers) ConversationsOf(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return slices.Clone(m.convs[userID]), nil
}

func (m *memMembers) IsMember(_ context.Context, conv, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	return slices.Contains(m.convs[userID], conv), nil
}

func (m *memMembers) join(userID, conv string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs[userID] = append(m.convs[userID], conv)
}

func (m *memMembers) leave(userID, conv string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs[userID] = slices.DeleteFunc(m.convs[userID], func(c string) bool { return c == conv })
}

type feedSub struct {
	table   string
	filter  *database.LiveQueryFilter
	handler database.LiveQueryHandler
}

// memFeed is an in-memory change feed. emit delivers synchronously.
type memFeed struct {
	mu   sync.Mutex
	next int
	subs map[string]feedSub
}

func newMemFeed() *memFeed {
	return &memFeed{subs: make(map[string]feedSub)}
}

func (f *memFeed) Subscribe(_ context.Context, table string, filter *database.LiveQueryFilter, h database.LiveQueryHandler) (*database.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := fmt.Sprintf("sub-%d", f.next)
	f.subs[id] = feedSub{table: table, filter: filter, handler: h}
	return &database.Subscription{ID: id, Table: table, Active: true}, nil
}

func (f *memFeed) Unsubscribe(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, id)
	return nil
}

func (f *memFeed) emit(table string, action database.LiveQueryAction, data any) {
	f.mu.Lock()
	var handlers []database.LiveQueryHandler
	for _, s := range f.subs {
		if s.table == table {
			handlers = append(handlers, s.handler)
		}
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(context.Background(), action, data)
	}
}

// filters returns the filters of the live subscriptions on table.
func (f *memFeed) filters(table string) []*database.LiveQueryFilter {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*database.LiveQueryFilter
	for _, s := range f.subs {
		if s.table == table {
			out = append(out, s.filter)
		}
	}
	return out
}

func (f *memFeed) count(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.subs {
		if s.table == table {
			n++
		}
	}
	return n
}

// recordingSink collects outbound frames.
type recordingSink struct {
	mu     sync.Mutex
	frames []Outbound
	err    error
}

func (s *recordingSink) Send(f Outbound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *recordingSink) all() []Outbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.frames)
}

func (s *recordingSink) ofType(typ string) []Outbound {
	var out []Outbound
	for _, f := range s.all() {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

// waitFor blocks until a frame matching match has been sent and returns it.
func (s *recordingSink) waitFor(t *testing.T, match func(Outbound) bool) Outbound {
	t.Helper()
	var found Outbound
	require.Eventually(t, func() bool {
		for _, f := range s.all() {
			if match(f) {
				found = f
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "frames: %s", s.dump())
	return found
}

func (s *recordingSink) dump() string {
	var b strings.Builder
	for _, f := range s.all() {
		data, _ := json.Marshal(f)
		b.Write(data)
		b.WriteByte('\n')
	}
	return b.String()
}

func ofType(typ string) func(Outbound) bool {
	return func(f Outbound) bool { return f.Type == typ }
}

func messagesWith(conv string, match func([]domain.Message) bool) func(Outbound) bool {
	return func(f Outbound) bool {
		p, ok := f.Payload.(MessagesPayload)
		return ok && f.Type == FrameMessages && p.ConversationID == conv && match(p.Messages)
	}
}

func feedRecord(id, conv, senderID, senderName, content string) map[string]any {
	return map[string]any{
		"id":              id,
		"conversation_id": conv,
		"sender_id":       senderID,
		"sender_name":     senderName,
		"content":         content,
		"kind":            "text",
		"created_at":      time.Now().UTC(),
	}
}

func assertNoFrame(t *testing.T, s *recordingSink, typ string) {
	t.Helper()
	assert.Never(t, func() bool { return len(s.ofType(typ)) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}
