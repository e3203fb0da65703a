// Package messaging implements optimistic sending: a message shows up in the
// sender's view immediately as a pending placeholder and is reconciled with
// the stored record once the backend answers.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/nfrund/collegeos/internal/domain"
	"github.com/nfrund/collegeos/internal/metrics"
	"github.com/nfrund/collegeos/internal/pubsub"
)

// DefaultSendTimeout bounds a persist call when none is configured.
const DefaultSendTimeout = 15 * time.Second

// Identity resolves the signed-in user.
type Identity interface {
	CurrentUser(ctx context.Context) (*domain.User, error)
}

// Store persists a message and returns the authoritative record.
type Store interface {
	Insert(ctx context.Context, draft domain.MessageDraft) (*domain.Message, error)
}

// Options tune a Pipeline. Zero values select the defaults.
type Options struct {
	// SessionID tags failure events so only the originating session reacts.
	SessionID   string
	SendTimeout time.Duration
	Clock       clock.Clock
}

// Pipeline performs optimistic sends for one session.
type Pipeline struct {
	store     Store
	identity  Identity
	cache     *Cache
	summaries *Summaries
	publisher pubsub.Publisher

	sessionID string
	timeout   time.Duration
	clock     clock.Clock
	seq       *sequencer
	inflight  sync.WaitGroup
	logger    *slog.Logger
}

// NewPipeline wires a pipeline over the session's cache and summaries.
// publisher may be nil when nobody listens for send events.
func NewPipeline(store Store, identity Identity, cache *Cache, summaries *Summaries, publisher pubsub.Publisher, opts Options) *Pipeline {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Pipeline{
		store:     store,
		identity:  identity,
		cache:     cache,
		summaries: summaries,
		publisher: publisher,
		sessionID: opts.SessionID,
		timeout:   opts.SendTimeout,
		clock:     opts.Clock,
		seq:       newSequencer(),
		logger:    slog.Default().With("component", "send_pipeline", "session_id", opts.SessionID),
	}
}

// Ticket tracks one send from placeholder to outcome.
type Ticket struct {
	ConversationID string
	PlaceholderID  string
	Seq            uint64

	done   chan struct{}
	record *domain.Message
	err    error
}

// Done is closed once the outcome has been applied to the cache.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the outcome has been applied or ctx ends. It returns
// the authoritative record on success.
func (t *Ticket) Wait(ctx context.Context) (*domain.Message, error) {
	select {
	case <-t.done:
		return t.record, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send appends a pending placeholder to the conversation before returning,
// then persists the message in the background. The outcome is applied to
// the cache in submission order for the conversation.
//
// Calls are independent: sending the same content twice produces two
// messages.
func (p *Pipeline) Send(ctx context.Context, conversationID, content string, attachment *domain.Attachment) (*Ticket, error) {
	user, err := p.identity.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" && attachment == nil {
		return nil, domain.ErrEmptyMessage
	}
	if attachment != nil {
		if err := domain.Validate(attachment); err != nil {
			return nil, err
		}
	}

	placeholderID, err := newPlaceholderID()
	if err != nil {
		return nil, err
	}

	sender := user.Profile()
	kind := attachment.Kind()
	placeholder := domain.Message{
		ID:             placeholderID,
		ConversationID: conversationID,
		Sender:         sender,
		Content:        content,
		CreatedAt:      p.clock.Now(),
		Kind:           kind,
		Pending:        true,
		Seq:            p.seq.reserve(conversationID),
	}
	if attachment != nil {
		placeholder.AttachmentRef = attachment.Ref
	}

	ticket := &Ticket{
		ConversationID: conversationID,
		PlaceholderID:  placeholderID,
		Seq:            placeholder.Seq,
		done:           make(chan struct{}),
	}

	p.cache.Append(placeholder)
	metrics.RecordSendStarted()

	draft := domain.MessageDraft{
		ConversationID: conversationID,
		Sender:         sender,
		Content:        content,
		Kind:           kind,
		Attachment:     attachment,
	}

	// The request outlives the caller: in-flight sends are never canceled.
	persistCtx := context.WithoutCancel(ctx)
	p.inflight.Add(1)
	go p.persist(persistCtx, ticket, draft)

	return ticket, nil
}

func (p *Pipeline) persist(ctx context.Context, ticket *Ticket, draft domain.MessageDraft) {
	defer p.inflight.Done()

	started := p.clock.Now()
	opCtx, cancel := context.WithTimeout(ctx, p.timeout)
	record, err := p.store.Insert(opCtx, draft)
	cancel()
	if err == nil && record == nil {
		err = errors.New("store returned no record")
	}
	if err != nil && !errors.Is(err, domain.ErrBackend) {
		err = fmt.Errorf("%w: %w", domain.ErrBackend, err)
	}

	p.seq.complete(ticket.ConversationID, ticket.Seq, func() {
		if err != nil {
			p.rollback(ctx, ticket, draft, err)
		} else {
			p.reconcile(ctx, ticket, *record)
		}
		metrics.RecordSendFinished(err == nil, p.clock.Since(started).Seconds())
		close(ticket.done)
	})
}

func (p *Pipeline) reconcile(ctx context.Context, ticket *Ticket, record domain.Message) {
	if !p.cache.Reconcile(ticket.ConversationID, ticket.PlaceholderID, record) {
		p.logger.Warn("Placeholder vanished before reconciliation",
			"conversation_id", ticket.ConversationID, "placeholder_id", ticket.PlaceholderID)
	}
	record.Pending = false
	ticket.record = &record

	if p.summaries != nil {
		p.summaries.Invalidate(ticket.ConversationID)
	}
	p.publish(ctx, func(ctx context.Context) error {
		return pubsub.Publish(ctx, p.publisher, SummaryInvalidatedEvent, record.Sender.ID, SummaryInvalidated{
			ConversationID: ticket.ConversationID,
			MessageID:      record.ID,
		})
	})
	p.logger.Debug("Message sent", "conversation_id", ticket.ConversationID, "message_id", record.ID)
}

func (p *Pipeline) rollback(ctx context.Context, ticket *Ticket, draft domain.MessageDraft, cause error) {
	p.cache.Remove(ticket.ConversationID, ticket.PlaceholderID)
	ticket.err = cause

	p.logger.Warn("Message send failed",
		"conversation_id", ticket.ConversationID,
		"placeholder_id", ticket.PlaceholderID,
		"error", cause)

	p.publish(ctx, func(ctx context.Context) error {
		return pubsub.Publish(ctx, p.publisher, SendFailedEvent, draft.Sender.ID, SendFailed{
			SessionID:      p.sessionID,
			ConversationID: ticket.ConversationID,
			PlaceholderID:  ticket.PlaceholderID,
			Content:        draft.Content,
			Reason:         cause.Error(),
		})
	})
}

func (p *Pipeline) publish(ctx context.Context, fn func(context.Context) error) {
	if p.publisher == nil {
		return
	}
	if err := fn(ctx); err != nil {
		p.logger.Error("Failed to publish send event", "error", err)
	}
}

// Drain waits for every in-flight send to be applied.
func (p *Pipeline) Drain() {
	p.inflight.Wait()
}

// Outstanding reports how many sends for the conversation are unresolved.
func (p *Pipeline) Outstanding(conversationID string) int {
	return p.seq.outstanding(conversationID)
}

func newPlaceholderID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate placeholder id: %w", err)
	}
	return domain.PendingIDPrefix + id.String(), nil
}
