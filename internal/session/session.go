// Package session holds the per-connection state of a signed-in user: the
// message cache and send pipeline, typing presence for the open
// conversation, and notification dispatch. A Gateway binds a Session to a
// websocket.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/nfrund/collegeos/internal/database"
	"github.com/nfrund/collegeos/internal/domain"
	"github.com/nfrund/collegeos/internal/messaging"
	"github.com/nfrund/collegeos/internal/metrics"
	"github.com/nfrund/collegeos/internal/notify"
	"github.com/nfrund/collegeos/internal/pubsub"
	"github.com/nfrund/collegeos/internal/typing"
)

// DefaultPermissionTimeout bounds how long a permission prompt is awaited.
const DefaultPermissionTimeout = 10 * time.Second

// DefaultHistoryLimit is how many messages are loaded when a conversation opens.
const DefaultHistoryLimit = 50

// MessageStore is the message persistence a session needs.
type MessageStore interface {
	messaging.Store
	messaging.LastMessageLoader
	ListRecent(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
}

// TypingStore is the typing_status access a session needs.
type TypingStore interface {
	typing.Store
	typing.Reader
}

// Sink delivers outbound frames. Send must not block.
type Sink interface {
	Send(frame Outbound) error
}

// Deps are the shared services every session uses.
type Deps struct {
	Messages   MessageStore
	Typing     TypingStore
	Members    domain.MembershipRepository
	Feed       database.LiveQueryService
	Publisher  pubsub.Publisher
	Subscriber pubsub.Subscriber
}

// Options tune a Session. Zero values select the defaults.
type Options struct {
	HistoryLimit      int
	SendTimeout       time.Duration
	IdleTimeout       time.Duration
	StaleWindow       time.Duration
	DismissAfter      time.Duration
	PermissionTimeout time.Duration
	Clock             clock.Clock
}

func (o Options) withDefaults() Options {
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = DefaultHistoryLimit
	}
	if o.PermissionTimeout <= 0 {
		o.PermissionTimeout = DefaultPermissionTimeout
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	return o
}

// openConversation holds everything acquired while a conversation is on
// screen.
type openConversation struct {
	id        string
	tracker   *typing.Tracker
	watcher   *typing.Watcher
	unobserve func()
}

func (oc *openConversation) release() {
	oc.unobserve()
	oc.tracker.Close()
	if err := oc.watcher.Close(); err != nil {
		slog.Warn("Failed to stop typing watcher", "conversation_id", oc.id, "error", err)
	}
}

// Session is one browser connection of a signed-in user.
type Session struct {
	id     string
	user   *domain.User
	deps   Deps
	opts   Options
	sink   Sink
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	cache      *messaging.Cache
	summaries  *messaging.Summaries
	pipeline   *messaging.Pipeline
	dispatcher *notify.Dispatcher

	mu          sync.Mutex
	view        notify.View
	open        *openConversation
	permission  notify.Permission
	waiters     []chan notify.Permission
	members     map[string]bool
	feedSubID   string
	memberSubID string
	started     bool
	closed      bool

	// feedMu serializes message feed swaps; feedGen names the live one.
	feedMu  sync.Mutex
	feedGen atomic.Uint64

	notifying sync.WaitGroup
	closeOnce sync.Once
}

// New creates a session for user. Frames for the browser go to sink. The
// session lives until Close or until ctx ends.
func New(ctx context.Context, user *domain.User, deps Deps, sink Sink, opts Options) *Session {
	opts = opts.withDefaults()
	id := uuid.NewString()

	ctx, cancel := context.WithCancel(domain.WithUser(ctx, user))
	s := &Session{
		id:         id,
		user:       user,
		deps:       deps,
		opts:       opts,
		sink:       sink,
		logger:     slog.Default().With("component", "session", "session_id", id, "user_id", user.ID),
		ctx:        ctx,
		cancel:     cancel,
		cache:      messaging.NewCache(),
		summaries:  messaging.NewSummaries(deps.Messages),
		permission: notify.PermissionDefault,
	}
	s.pipeline = messaging.NewPipeline(deps.Messages, domain.ContextIdentity{}, s.cache, s.summaries, deps.Publisher, messaging.Options{
		SessionID:   id,
		SendTimeout: opts.SendTimeout,
		Clock:       opts.Clock,
	})
	s.dispatcher = notify.NewDispatcher(s, s, notify.Options{
		DismissAfter: opts.DismissAfter,
		Clock:        opts.Clock,
	})
	return s
}

// ID identifies the session in send events.
func (s *Session) ID() string { return s.id }

// User returns the signed-in user.
func (s *Session) User() *domain.User { return s.user }

// Start subscribes the session to its membership rows, the messages of its
// conversations and the event bus.
func (s *Session) Start() error {
	sub, err := s.deps.Feed.Subscribe(s.ctx, database.MemberTable, &database.LiveQueryFilter{
		Where:  "user_id = $user",
		Params: map[string]any{"user": s.user.ID},
	}, s.onMembershipEvent)
	if err != nil {
		return fmt.Errorf("subscribe to memberships: %w", err)
	}
	s.mu.Lock()
	s.memberSubID = sub.ID
	s.mu.Unlock()

	if err := s.syncMemberships(s.ctx); err != nil {
		s.Close()
		return err
	}

	if s.deps.Subscriber != nil {
		if err := s.subscribeEvents(); err != nil {
			s.Close()
			return err
		}
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	metrics.RecordSessionOpened()
	s.logger.Info("Session started")
	return nil
}

// syncMemberships reloads the user's conversations and points the message
// feed at exactly those. The new feed is live before the old one is dropped,
// and the old one stops delivering as soon as the new one takes over.
func (s *Session) syncMemberships(ctx context.Context) error {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()

	convs, err := s.deps.Members.ConversationsOf(ctx, s.user.ID)
	if err != nil {
		return fmt.Errorf("load memberships: %w", err)
	}
	slices.Sort(convs)
	convs = slices.Compact(convs)
	set := make(map[string]bool, len(convs))
	for _, c := range convs {
		set[c] = true
	}

	gen := s.feedGen.Load() + 1
	sub, err := s.deps.Feed.Subscribe(s.ctx, database.MessageTable, &database.LiveQueryFilter{
		Where:  "conversation_id IN $conversations",
		Params: map[string]any{"conversations": convs},
	}, func(ctx context.Context, action database.LiveQueryAction, data any) {
		if s.feedGen.Load() != gen {
			return
		}
		s.onMessageEvent(ctx, action, data)
	})
	if err != nil {
		return fmt.Errorf("subscribe to messages: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = s.deps.Feed.Unsubscribe(sub.ID)
		return nil
	}
	s.members = set
	old := s.feedSubID
	s.feedSubID = sub.ID
	s.feedGen.Store(gen)
	s.mu.Unlock()

	if old != "" {
		if err := s.deps.Feed.Unsubscribe(old); err != nil {
			s.logger.Warn("Failed to drop previous message feed", "error", err)
		}
	}
	s.logger.Debug("Message feed scoped to memberships", "conversations", len(convs))
	return nil
}

// onMembershipEvent rescopes the message feed when the user joins or leaves a
// conversation. Leaving the conversation on screen closes it.
func (s *Session) onMembershipEvent(_ context.Context, _ database.LiveQueryAction, _ any) {
	if err := s.syncMemberships(s.ctx); err != nil {
		s.logger.Warn("Failed to refresh memberships", "error", err)
		return
	}
	s.mu.Lock()
	var gone string
	if s.open != nil && !s.members[s.open.id] {
		gone = s.open.id
	}
	s.mu.Unlock()
	if gone != "" {
		s.closeConversation(gone)
		_ = s.sink.Send(toastFrame("warning", "You are no longer a member of this conversation."))
	}
}

func (s *Session) isMember(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members[conversationID]
}

// ensureMember checks the cached memberships and falls back to the store for
// conversations joined since the last sync.
func (s *Session) ensureMember(ctx context.Context, conversationID string) bool {
	if s.isMember(conversationID) {
		return true
	}
	ok, err := s.deps.Members.IsMember(ctx, conversationID, s.user.ID)
	if err != nil {
		s.logger.Warn("Membership check failed", "conversation_id", conversationID, "error", err)
		return false
	}
	if !ok {
		return false
	}
	if err := s.syncMemberships(s.ctx); err != nil {
		s.logger.Warn("Failed to refresh memberships", "error", err)
	}
	return true
}

func (s *Session) subscribeEvents() error {
	err := pubsub.Subscribe(s.ctx, s.deps.Subscriber, messaging.SendFailedEvent, func(_ context.Context, _ string, ev messaging.SendFailed) error {
		if ev.SessionID != s.id {
			return nil
		}
		return s.sink.Send(toastFrame("error", "Your message could not be sent. Please try again."))
	})
	if err != nil {
		return fmt.Errorf("subscribe to send failures: %w", err)
	}

	err = pubsub.Subscribe(s.ctx, s.deps.Subscriber, messaging.SummaryInvalidatedEvent, func(ctx context.Context, userID string, ev messaging.SummaryInvalidated) error {
		if userID != s.user.ID {
			return nil
		}
		s.summaries.Invalidate(ev.ConversationID)
		s.refreshSummary(ctx, ev.ConversationID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribe to summary invalidation: %w", err)
	}

	err = pubsub.Subscribe(s.ctx, s.deps.Subscriber, notify.PushEvent, func(ctx context.Context, userID string, msg notify.WorkerMessage) error {
		if userID != s.user.ID {
			return nil
		}
		s.dispatcher.Push(ctx, msg)
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribe to push notifications: %w", err)
	}
	return nil
}

// Handle applies one inbound frame. Frames from one connection must be
// handled one at a time.
func (s *Session) Handle(ctx context.Context, in Inbound) error {
	if err := domain.Validate(in); err != nil {
		return err
	}
	ctx = domain.WithUser(ctx, s.user)

	switch in.Type {
	case FrameOpen:
		return s.openConversation(ctx, in.ConversationID)
	case FrameClose:
		s.closeConversation(in.ConversationID)
	case FrameTyping:
		if oc := s.current(in.ConversationID); oc != nil {
			oc.tracker.Signal(ctx)
		}
	case FrameSend:
		return s.send(ctx, in)
	case FrameVisibility:
		s.mu.Lock()
		s.view.Hidden = in.Hidden
		s.mu.Unlock()
	case FramePermission:
		if in.Permission != "" {
			s.setPermission(in.Permission)
		}
	case FrameNotificationClick:
		s.dispatcher.Click(ctx, in.Tag, in.Action)
	}
	return nil
}

// View returns the view state notifications are checked against.
func (s *Session) View() notify.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Snapshot returns the cached messages of a conversation.
func (s *Session) Snapshot(conversationID string) []domain.Message {
	return s.cache.Snapshot(conversationID)
}

func (s *Session) current(conversationID string) *openConversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open == nil || s.open.id != conversationID {
		return nil
	}
	return s.open
}

// openConversation switches the view to conversationID and acquires its
// history, cache observer, typing tracker and typing watcher. The previously
// open conversation is released first.
func (s *Session) openConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	skip := s.closed || (s.open != nil && s.open.id == conversationID)
	s.mu.Unlock()
	if skip {
		return nil
	}
	if !s.ensureMember(ctx, conversationID) {
		return s.sink.Send(toastFrame("error", "You are not a member of this conversation."))
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	prev := s.open
	if prev != nil && prev.id == conversationID {
		s.mu.Unlock()
		return nil
	}
	s.open = nil
	s.view.ActiveConversationID = conversationID
	s.mu.Unlock()

	if prev != nil {
		prev.release()
		s.cache.Drop(prev.id)
	}

	if !s.cache.Loaded(conversationID) {
		history, err := s.deps.Messages.ListRecent(ctx, conversationID, s.opts.HistoryLimit)
		if err != nil {
			s.logger.Warn("Failed to load conversation history", "conversation_id", conversationID, "error", err)
			_ = s.sink.Send(toastFrame("error", "Could not load messages."))
		} else {
			s.cache.Load(conversationID, history)
		}
	}

	oc := &openConversation{id: conversationID}
	oc.unobserve = s.cache.Observe(conversationID, func(messages []domain.Message) {
		_ = s.sink.Send(messagesFrame(conversationID, messages))
	})
	oc.tracker = typing.NewTracker(s.deps.Typing, conversationID, s.user.Profile(), typing.TrackerOptions{
		IdleTimeout: s.opts.IdleTimeout,
		Clock:       s.opts.Clock,
	})
	oc.watcher = typing.NewWatcher(s.deps.Feed, s.deps.Typing, conversationID, s.user.ID, func(active []domain.TypingStatus) {
		s.sendIndicator(active)
	}, typing.WatcherOptions{
		StaleWindow: s.opts.StaleWindow,
		Clock:       s.opts.Clock,
	})
	if err := oc.watcher.Start(s.ctx); err != nil {
		s.logger.Warn("Typing indicator unavailable", "conversation_id", conversationID, "error", err)
	}

	s.mu.Lock()
	if s.closed || s.view.ActiveConversationID != conversationID {
		s.mu.Unlock()
		oc.release()
		return nil
	}
	s.open = oc
	s.mu.Unlock()

	return s.sink.Send(messagesFrame(conversationID, s.cache.Snapshot(conversationID)))
}

func (s *Session) closeConversation(conversationID string) {
	s.mu.Lock()
	oc := s.open
	if oc == nil || (conversationID != "" && oc.id != conversationID) {
		s.mu.Unlock()
		return
	}
	s.open = nil
	s.view.ActiveConversationID = ""
	s.mu.Unlock()

	oc.release()
	s.cache.Drop(oc.id)
}

func (s *Session) send(ctx context.Context, in Inbound) error {
	if !s.ensureMember(ctx, in.ConversationID) {
		return s.sink.Send(toastFrame("error", "You are not a member of this conversation."))
	}
	_, err := s.pipeline.Send(ctx, in.ConversationID, in.Content, in.Attachment)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrEmptyMessage):
			return s.sink.Send(toastFrame("warning", "Type a message first."))
		case errors.Is(err, domain.ErrInvalidRecord):
			return s.sink.Send(toastFrame("warning", "That attachment can't be sent."))
		default:
			s.logger.Warn("Send rejected", "conversation_id", in.ConversationID, "error", err)
			return s.sink.Send(toastFrame("error", "Your message could not be sent."))
		}
	}
	if oc := s.current(in.ConversationID); oc != nil {
		oc.tracker.MessageSent(ctx)
	}
	return nil
}

func (s *Session) sendIndicator(active []domain.TypingStatus) {
	var b strings.Builder
	if err := typing.Indicator(typing.Describe(typing.Names(active))).Render(&b); err != nil {
		s.logger.Error("Failed to render typing indicator", "error", err)
		return
	}
	_ = s.sink.Send(Outbound{Type: FrameHTML, Target: typing.IndicatorTarget, Payload: b.String()})
}

func (s *Session) refreshSummary(ctx context.Context, conversationID string) {
	sum, err := s.summaries.Get(ctx, conversationID)
	if err != nil {
		s.logger.Warn("Failed to load conversation summary", "conversation_id", conversationID, "error", err)
		return
	}
	_ = s.sink.Send(Outbound{Type: FrameSummary, Target: conversationID, Payload: sum})
}

// onMessageEvent handles one change on the message table.
func (s *Session) onMessageEvent(ctx context.Context, action database.LiveQueryAction, data any) {
	if action != database.ActionCreate {
		return
	}
	m, err := database.DecodeMessage(data)
	if err != nil {
		s.logger.Warn("Dropping malformed message record", "error", err)
		return
	}
	if !s.isMember(m.ConversationID) {
		s.logger.Debug("Ignoring message outside memberships", "conversation_id", m.ConversationID)
		return
	}

	if s.cache.Loaded(m.ConversationID) {
		s.cache.Append(*m)
	}
	s.summaries.Invalidate(m.ConversationID)
	s.refreshSummary(s.ctx, m.ConversationID)

	if m.Sender.ID == s.user.ID {
		return
	}

	// The view is captured now; the permission prompt may take a while.
	view := s.View()
	ev := notify.Event{
		ConversationID: m.ConversationID,
		Title:          m.Sender.DisplayName,
		Body:           domain.SummaryOf(*m).Preview,
		Icon:           m.Sender.AvatarURL,
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.notifying.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.notifying.Done()
		s.dispatcher.Notify(s.ctx, ev, view)
	}()
}

// Permission implements notify.Permissions.
func (s *Session) Permission() notify.Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permission
}

// RequestPermission implements notify.Permissions by prompting the browser
// and waiting for its permission frame.
func (s *Session) RequestPermission(ctx context.Context) (notify.Permission, error) {
	s.mu.Lock()
	if s.permission != notify.PermissionDefault {
		p := s.permission
		s.mu.Unlock()
		return p, nil
	}
	ch := make(chan notify.Permission, 1)
	first := len(s.waiters) == 0
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()

	if first {
		if err := s.sink.Send(Outbound{Type: FrameRequestPermission}); err != nil {
			s.dropWaiter(ch)
			return notify.PermissionDefault, err
		}
	}

	timer := s.opts.Clock.Timer(s.opts.PermissionTimeout)
	defer timer.Stop()

	select {
	case p := <-ch:
		return p, nil
	case <-timer.C:
		s.dropWaiter(ch)
		return s.Permission(), fmt.Errorf("%w: no answer to permission prompt", domain.ErrPermissionDenied)
	case <-ctx.Done():
		s.dropWaiter(ch)
		return s.Permission(), ctx.Err()
	}
}

func (s *Session) setPermission(p notify.Permission) {
	s.mu.Lock()
	s.permission = p
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	for _, ch := range waiters {
		ch <- p
	}
}

func (s *Session) dropWaiter(ch chan notify.Permission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.waiters {
		if w == ch {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

// PlaySound implements notify.Presenter.
func (s *Session) PlaySound(context.Context) {
	_ = s.sink.Send(Outbound{Type: FrameSound})
}

// Show implements notify.Presenter.
func (s *Session) Show(_ context.Context, msg notify.WorkerMessage, opts notify.DisplayOptions) error {
	return s.sink.Send(Outbound{
		Type:    FrameNotification,
		Payload: NotificationPayload{Message: msg, Options: opts},
	})
}

// Dismiss implements notify.Presenter.
func (s *Session) Dismiss(_ context.Context, tag string) {
	_ = s.sink.Send(Outbound{Type: FrameDismiss, Payload: TagPayload{Tag: tag}})
}

// Navigate implements notify.Presenter.
func (s *Session) Navigate(_ context.Context, url string) {
	_ = s.sink.Send(Outbound{Type: FrameNavigate, Payload: NavigatePayload{URL: url}})
}

// Close releases everything the session acquired. It returns once in-flight
// sends have been applied, so nothing outlives it on the bus or the store.
// Close is idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		oc := s.open
		s.open = nil
		subs := []string{s.feedSubID, s.memberSubID}
		started := s.started
		s.mu.Unlock()

		if oc != nil {
			oc.release()
		}
		for _, id := range subs {
			if id == "" {
				continue
			}
			if err := s.deps.Feed.Unsubscribe(id); err != nil {
				s.logger.Warn("Failed to unsubscribe feed", "sub_id", id, "error", err)
			}
		}
		s.pipeline.Drain()
		s.cancel()
		s.dispatcher.Close()
		s.notifying.Wait()

		if started {
			metrics.RecordSessionClosed()
		}
		s.logger.Info("Session closed")
	})
}
