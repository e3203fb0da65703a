package typing

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nfrund/collegeos/internal/database"
	"github.com/nfrund/collegeos/internal/domain"
)

// Reader lists a conversation's typing rows refreshed after since.
type Reader interface {
	ListActive(ctx context.Context, conversationID string, since time.Time) ([]domain.TypingStatus, error)
}

// WatcherOptions tune a Watcher. Zero values select the defaults.
type WatcherOptions struct {
	StaleWindow time.Duration
	Clock       clock.Clock
}

// Watcher reports who else is typing in one conversation.
//
// Every change event triggers a full re-fetch of the conversation's rows,
// and the staleness filter is applied again in process. A row that stops
// being refreshed drops out once it is older than the stale window, even if
// no further event arrives.
type Watcher struct {
	feed           database.LiveQueryService
	reader         Reader
	conversationID string
	selfID         string
	window         time.Duration
	clock          clock.Clock
	onChange       func([]domain.TypingStatus)
	logger         *slog.Logger

	mu      sync.Mutex
	subID   string
	closed  bool
	issued  uint64 // fetches started
	applied uint64 // newest fetch whose rows are in fetched
	fetched []domain.TypingStatus
	current []domain.TypingStatus
	recheck *clock.Timer
}

// NewWatcher creates a watcher; Start begins following the conversation.
// onChange receives the active typists, excluding selfID, whenever the set
// changes. It runs with the watcher locked and must not call back into it.
func NewWatcher(feed database.LiveQueryService, reader Reader, conversationID, selfID string, onChange func([]domain.TypingStatus), opts WatcherOptions) *Watcher {
	if opts.StaleWindow <= 0 {
		opts.StaleWindow = domain.DefaultTypingStaleWindow
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Watcher{
		feed:           feed,
		reader:         reader,
		conversationID: conversationID,
		selfID:         selfID,
		window:         opts.StaleWindow,
		clock:          opts.Clock,
		onChange:       onChange,
		logger:         slog.Default().With("component", "typing_watcher", "conversation_id", conversationID),
	}
}

// Start subscribes to the conversation's typing rows and loads the current set.
func (w *Watcher) Start(ctx context.Context) error {
	sub, err := w.feed.Subscribe(ctx, database.TypingTable, &database.LiveQueryFilter{
		Where:  "conversation_id = $conversation",
		Params: map[string]any{"conversation": w.conversationID},
	}, w.onFeedEvent)
	if err != nil {
		return fmt.Errorf("subscribe to typing status: %w", err)
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return w.feed.Unsubscribe(sub.ID)
	}
	w.subID = sub.ID
	w.mu.Unlock()

	if _, err := w.Refresh(ctx); err != nil {
		w.logger.Warn("Initial typing fetch failed", "error", err)
	}
	return nil
}

// onFeedEvent re-fetches on a row change. Changes to our own row never alter
// what we display, so they are skipped. A row that does not decode still
// triggers the fetch; the table is the source of truth.
func (w *Watcher) onFeedEvent(ctx context.Context, action database.LiveQueryAction, data any) {
	if action != database.ActionDelete {
		st, err := database.DecodeTypingStatus(data)
		switch {
		case err != nil:
			w.logger.Warn("Malformed typing row in change feed", "error", err)
		case st.ConversationID != w.conversationID || st.UserID == w.selfID:
			return
		}
	}
	if _, err := w.Refresh(ctx); err != nil {
		w.logger.Warn("Typing refresh failed", "error", err)
	}
}

// Refresh re-fetches the conversation's rows and returns the active typists.
// A fetch that completes after a newer one is discarded.
func (w *Watcher) Refresh(ctx context.Context) ([]domain.TypingStatus, error) {
	w.mu.Lock()
	w.issued++
	gen := w.issued
	w.mu.Unlock()

	now := w.clock.Now()
	rows, err := w.reader.ListActive(ctx, w.conversationID, now.Add(-w.window))
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, nil
	}
	if gen < w.applied {
		return slices.Clone(w.current), nil
	}
	w.applied = gen
	w.fetched = rows
	return w.evaluateLocked(), nil
}

// Active returns the last reported set of typists.
func (w *Watcher) Active() []domain.TypingStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.current)
}

// Close unsubscribes and stops reporting. It is safe to call more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	subID := w.subID
	if w.recheck != nil {
		w.recheck.Stop()
		w.recheck = nil
	}
	w.mu.Unlock()

	if subID == "" {
		return nil
	}
	return w.feed.Unsubscribe(subID)
}

// evaluateLocked filters the fetched rows, reports a changed set and arms
// a timer for the moment the oldest active row goes stale.
func (w *Watcher) evaluateLocked() []domain.TypingStatus {
	now := w.clock.Now()
	active := domain.ActiveTypists(w.fetched, now, w.window, w.selfID)
	slices.SortFunc(active, func(a, b domain.TypingStatus) int {
		return strings.Compare(a.UserID, b.UserID)
	})

	if w.recheck != nil {
		w.recheck.Stop()
		w.recheck = nil
	}
	if len(active) > 0 {
		oldest := slices.MinFunc(active, func(a, b domain.TypingStatus) int {
			return a.LastUpdatedAt.Compare(b.LastUpdatedAt)
		})
		w.recheck = w.clock.AfterFunc(oldest.LastUpdatedAt.Add(w.window).Sub(now), w.onRecheck)
	}

	if !sameTypists(w.current, active) {
		w.current = active
		if w.onChange != nil {
			w.onChange(slices.Clone(active))
		}
	}
	return slices.Clone(active)
}

func (w *Watcher) onRecheck() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.evaluateLocked()
}

func sameTypists(a, b []domain.TypingStatus) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].UserID != b[i].UserID || a[i].DisplayName != b[i].DisplayName {
			return false
		}
	}
	return true
}

// Names returns the display names of statuses, falling back to user IDs.
func Names(statuses []domain.TypingStatus) []string {
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		if s.DisplayName != "" {
			names = append(names, s.DisplayName)
		} else {
			names = append(names, s.UserID)
		}
	}
	return names
}
