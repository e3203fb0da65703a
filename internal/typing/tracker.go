// Package typing tracks and reports "is typing" presence per conversation.
//
// The write side (Tracker) keeps one row per (conversation, user) fresh while
// the local user types and deletes it after a short idle period. The read
// side (Watcher) follows the conversation's rows and reports who is typing,
// ignoring rows that were never cleaned up.
package typing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nfrund/collegeos/internal/domain"
	"github.com/nfrund/collegeos/internal/metrics"
)

// DefaultIdleTimeout is how long after the last keystroke the row is deleted.
const DefaultIdleTimeout = 3 * time.Second

// Store is the write side of the typing_status table.
type Store interface {
	Upsert(ctx context.Context, status domain.TypingStatus) error
	Delete(ctx context.Context, conversationID, userID string) error
}

// State is the tracker's view of the local user.
type State int

const (
	Idle State = iota
	TypingActive
)

func (s State) String() string {
	if s == TypingActive {
		return "typing"
	}
	return "idle"
}

type opKind int

const (
	opUpsert opKind = iota
	opDelete
)

type writeOp struct {
	ctx    context.Context
	kind   opKind
	status domain.TypingStatus
}

// TrackerOptions tune a Tracker. Zero values select the defaults.
type TrackerOptions struct {
	IdleTimeout time.Duration
	Clock       clock.Clock
}

// Tracker runs the typing state machine for one (conversation, user).
//
// Writes go through a single writer goroutine in the order they were issued
// and are best-effort: failures are logged and counted, never returned.
type Tracker struct {
	store          Store
	conversationID string
	user           domain.Sender
	idle           time.Duration
	clock          clock.Clock
	logger         *slog.Logger

	mu     sync.Mutex
	state  State
	timer  *clock.Timer
	gen    uint64
	closed bool
	queue  []writeOp

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewTracker starts a tracker in the Idle state.
func NewTracker(store Store, conversationID string, user domain.Sender, opts TrackerOptions) *Tracker {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	t := &Tracker{
		store:          store,
		conversationID: conversationID,
		user:           user,
		idle:           opts.IdleTimeout,
		clock:          opts.Clock,
		logger: slog.Default().With("component", "typing_tracker",
			"conversation_id", conversationID, "user_id", user.ID),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go t.writer()
	return t
}

// Signal records a keystroke: the row is refreshed and the idle countdown
// restarts. Every signal writes.
func (t *Tracker) Signal(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	t.state = TypingActive
	t.gen++
	gen := t.gen
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = t.clock.AfterFunc(t.idle, func() { t.expire(gen) })

	t.enqueueLocked(writeOp{
		ctx:  context.WithoutCancel(ctx),
		kind: opUpsert,
		status: domain.TypingStatus{
			ConversationID: t.conversationID,
			UserID:         t.user.ID,
			DisplayName:    t.user.DisplayName,
			IsTyping:       true,
			LastUpdatedAt:  t.clock.Now(),
		},
	})
}

// MessageSent clears the typing state right away.
func (t *Tracker) MessageSent(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.state != TypingActive {
		return
	}
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.toIdleLocked(context.WithoutCancel(ctx))
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Close cancels the countdown and stops all further writes. A countdown that
// is already firing finds a stale generation and does nothing.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.queue = nil
	t.mu.Unlock()

	t.closeOnce.Do(func() { close(t.done) })
}

func (t *Tracker) expire(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || gen != t.gen || t.state != TypingActive {
		return
	}
	t.timer = nil
	t.toIdleLocked(context.Background())
}

func (t *Tracker) toIdleLocked(ctx context.Context) {
	t.state = Idle
	t.enqueueLocked(writeOp{
		ctx:  ctx,
		kind: opDelete,
		status: domain.TypingStatus{
			ConversationID: t.conversationID,
			UserID:         t.user.ID,
		},
	})
}

func (t *Tracker) enqueueLocked(op writeOp) {
	t.queue = append(t.queue, op)
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Tracker) next() (writeOp, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || len(t.queue) == 0 {
		return writeOp{}, false
	}
	op := t.queue[0]
	t.queue = t.queue[1:]
	return op, true
}

func (t *Tracker) writer() {
	for {
		select {
		case <-t.done:
			return
		case <-t.wake:
		}
		for {
			op, ok := t.next()
			if !ok {
				break
			}
			t.apply(op)
		}
	}
}

func (t *Tracker) apply(op writeOp) {
	var err error
	name := "upsert"
	switch op.kind {
	case opUpsert:
		err = t.store.Upsert(op.ctx, op.status)
	case opDelete:
		name = "delete"
		err = t.store.Delete(op.ctx, op.status.ConversationID, op.status.UserID)
	}
	metrics.RecordTypingWrite(name, err)
	if err != nil {
		t.logger.Warn("Typing status write failed", "op", name, "error", err)
	}
}
