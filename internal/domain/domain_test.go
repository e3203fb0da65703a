package domain

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypingStatus_IsActive(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	window := DefaultTypingStaleWindow

	tests := []struct {
		name   string
		status TypingStatus
		want   bool
	}{
		{"fresh", TypingStatus{IsTyping: true, LastUpdatedAt: now.Add(-2 * time.Second)}, true},
		{"just under window", TypingStatus{IsTyping: true, LastUpdatedAt: now.Add(-window + time.Millisecond)}, true},
		{"exactly at window", TypingStatus{IsTyping: true, LastUpdatedAt: now.Add(-window)}, false},
		{"stale row never deleted", TypingStatus{IsTyping: true, LastUpdatedAt: now.Add(-time.Minute)}, false},
		{"not typing", TypingStatus{IsTyping: false, LastUpdatedAt: now}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.IsActive(now, window))
		})
	}
}

func TestActiveTypists_ExcludesSelfAndStale(t *testing.T) {
	now := time.Now()
	statuses := []TypingStatus{
		{UserID: "me", IsTyping: true, LastUpdatedAt: now},
		{UserID: "alice", IsTyping: true, LastUpdatedAt: now.Add(-time.Second)},
		{UserID: "bob", IsTyping: true, LastUpdatedAt: now.Add(-11 * time.Second)},
	}

	active := ActiveTypists(statuses, now, DefaultTypingStaleWindow, "me")
	require.Len(t, active, 1)
	assert.Equal(t, "alice", active[0].UserID)
}

func TestUser_Profile(t *testing.T) {
	assert.Equal(t, "Alice", User{ID: "user:1", DisplayName: "Alice"}.Profile().DisplayName)
	assert.Equal(t, "bob", User{ID: "user:2", Email: "bob@example.com"}.Profile().DisplayName)
	assert.Equal(t, "user:3", User{ID: "user:3"}.Profile().DisplayName)
}

func TestContextIdentity(t *testing.T) {
	_, err := ContextIdentity{}.CurrentUser(context.Background())
	assert.ErrorIs(t, err, ErrUnauthenticated)

	ctx := WithUser(context.Background(), &User{ID: "user:1"})
	u, err := ContextIdentity{}.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user:1", u.ID)
}

func TestAttachment_Kind(t *testing.T) {
	var none *Attachment
	assert.Equal(t, KindText, none.Kind())
	assert.Equal(t, KindImage, (&Attachment{MIMEType: "image/png"}).Kind())
	assert.Equal(t, KindVoice, (&Attachment{MIMEType: "audio/webm"}).Kind())
	assert.Equal(t, KindFile, (&Attachment{MIMEType: "application/pdf"}).Kind())
}

func TestMessage_IsPlaceholder(t *testing.T) {
	assert.True(t, Message{ID: PendingIDPrefix + "x", Pending: true}.IsPlaceholder())
	assert.False(t, Message{ID: PendingIDPrefix + "x"}.IsPlaceholder())
	assert.False(t, Message{ID: "message:1", Pending: true}.IsPlaceholder())
}

func TestSummaryOf_Truncates(t *testing.T) {
	m := Message{ConversationID: "c1", Content: strings.Repeat("a", 200), Sender: Sender{DisplayName: "Al"}}
	s := SummaryOf(m)
	assert.Len(t, []rune(s.Preview), 80)
	assert.Equal(t, "Al", s.SenderName)

	voice := SummaryOf(Message{Kind: KindVoice})
	assert.Equal(t, "[voice]", voice.Preview)
}

func TestValidate_WrapsInvalidRecord(t *testing.T) {
	err := Validate(Message{ID: "message:1"})
	assert.True(t, errors.Is(err, ErrInvalidRecord))

	err = Validate(Message{
		ID:             "message:1",
		ConversationID: "c1",
		Sender:         Sender{ID: "user:1"},
		CreatedAt:      time.Now(),
		Kind:           KindText,
	})
	assert.NoError(t, err)
}
