package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/models"
)

// LiveQueryAction is the kind of row change a notification carries.
type LiveQueryAction string

const (
	ActionCreate LiveQueryAction = "CREATE"
	ActionUpdate LiveQueryAction = "UPDATE"
	ActionDelete LiveQueryAction = "DELETE"
)

// LiveQueryHandler receives one row change. data is the row as decoded by
// the driver.
type LiveQueryHandler func(ctx context.Context, action LiveQueryAction, data any)

// LiveQueryFilter narrows a feed. Where is a SurrealQL predicate whose
// placeholders are bound from Params. Fields limits the projected columns.
type LiveQueryFilter struct {
	Where  string
	Params map[string]any
	Fields []string
}

// Subscription identifies a running feed.
type Subscription struct {
	ID     string
	Table  string
	Active bool
}

// LiveQueryService is the realtime change feed: row-level notifications for a
// table, optionally narrowed by an equality predicate.
type LiveQueryService interface {
	Subscribe(ctx context.Context, table string, filter *LiveQueryFilter, handler LiveQueryHandler) (*Subscription, error)
	// Unsubscribe stops a feed. Unknown IDs are ignored.
	Unsubscribe(subID string) error
}

// killTimeout bounds the server-side KILL issued when a feed stops.
const killTimeout = 5 * time.Second

// SurrealLiveQueryService runs feeds as SurrealDB LIVE SELECT queries.
type SurrealLiveQueryService struct {
	db     DBConnection
	logger *slog.Logger

	mu    sync.Mutex
	feeds map[string]*feed
}

type feed struct {
	id      string
	table   string
	liveID  string
	handler LiveQueryHandler
	stop    context.CancelFunc
}

// NewSurrealLiveQueryService creates a live query service over db.
func NewSurrealLiveQueryService(db DBConnection) *SurrealLiveQueryService {
	return &SurrealLiveQueryService{
		db:     db,
		logger: slog.Default().With("component", "live_query"),
		feeds:  make(map[string]*feed),
	}
}

// Subscribe starts a feed for table. Notifications for one subscription reach
// handler sequentially, in arrival order.
func (s *SurrealLiveQueryService) Subscribe(ctx context.Context, table string, filter *LiveQueryFilter, handler LiveQueryHandler) (*Subscription, error) {
	if handler == nil {
		return nil, NewDBError(ErrInvalidInput, "handler cannot be nil")
	}
	if table == "" {
		return nil, NewDBError(ErrInvalidInput, "table cannot be empty")
	}

	var params map[string]any
	if filter != nil {
		params = filter.Params
	}
	if params == nil {
		params = map[string]any{}
	}

	runCtx, stop := context.WithCancel(context.Background())
	f := &feed{id: uuid.NewString(), table: table, handler: handler, stop: stop}
	query := buildLiveQuery(table, filter)

	err := s.db.WithConnection(ctx, func(db *surrealdb.DB) error {
		return s.start(ctx, runCtx, db, f, query, params)
	})
	if err != nil {
		stop()
		return nil, fmt.Errorf("%w: %w", NewDBError(ErrQueryFailed, "start live query").WithQuery(query), err)
	}

	s.logger.Info("Live query established", "sub_id", f.id, "table", table, "live_id", f.liveID)
	return &Subscription{ID: f.id, Table: table, Active: true}, nil
}

// buildLiveQuery renders the LIVE SELECT statement for a table and filter.
func buildLiveQuery(table string, filter *LiveQueryFilter) string {
	var b strings.Builder
	b.WriteString("LIVE SELECT ")
	if filter != nil && len(filter.Fields) > 0 {
		b.WriteString(strings.Join(filter.Fields, ", "))
	} else {
		b.WriteString("*")
	}
	b.WriteString(" FROM ")
	b.WriteString(table)
	if filter != nil && filter.Where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(filter.Where)
	}
	return b.String()
}

// start issues the LIVE SELECT, registers the feed and launches its reader.
func (s *SurrealLiveQueryService) start(ctx, runCtx context.Context, db *surrealdb.DB, f *feed, query string, params map[string]any) error {
	results, err := surrealdb.Query[any](ctx, db, query, params)
	if err != nil {
		return err
	}
	if results == nil || len(*results) == 0 {
		return fmt.Errorf("live query returned no results")
	}
	first := (*results)[0]
	if first.Status != "OK" {
		return fmt.Errorf("live query status %s", first.Status)
	}

	f.liveID, err = extractLiveQueryID(first.Result)
	if err != nil {
		return err
	}
	notifications, err := db.LiveNotifications(f.liveID)
	if err != nil {
		return fmt.Errorf("notification channel: %w", err)
	}

	s.mu.Lock()
	s.feeds[f.id] = f
	s.mu.Unlock()

	go s.read(runCtx, f, notifications)
	go s.killOnStop(runCtx, db, f)
	return nil
}

// killOnStop closes the notification channel and kills the query on the
// server once the feed stops.
func (s *SurrealLiveQueryService) killOnStop(runCtx context.Context, db *surrealdb.DB, f *feed) {
	<-runCtx.Done()

	if err := db.CloseLiveNotifications(f.liveID); err != nil {
		s.logger.Warn("Failed to close live notifications", "live_id", f.liveID, "error", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), killTimeout)
	defer cancel()
	if _, err := surrealdb.Query[any](ctx, db, "KILL $live", map[string]any{"live": f.liveID}); err != nil {
		s.logger.Warn("Failed to kill live query", "live_id", f.liveID, "error", err)
		return
	}
	s.logger.Debug("Killed live query", "live_id", f.liveID)
}

// extractLiveQueryID pulls the live query UUID out of a LIVE SELECT result,
// which the driver may surface as a string, a models.UUID or a map.
func extractLiveQueryID(result any) (string, error) {
	if m, ok := result.(map[string]any); ok {
		inner, found := m["id"]
		if !found {
			return "", fmt.Errorf("live query result has no id: %+v", m)
		}
		result = inner
	}

	var id string
	switch v := result.(type) {
	case nil:
		return "", fmt.Errorf("live query returned nil result")
	case string:
		id = v
	case models.UUID:
		id = v.String()
	default:
		return "", fmt.Errorf("unexpected live query result type: %T", result)
	}
	if id == "" {
		return "", fmt.Errorf("live query returned empty UUID")
	}
	return id, nil
}

// Unsubscribe stops a feed. Unknown IDs are ignored so callers can release
// unconditionally on every exit path.
func (s *SurrealLiveQueryService) Unsubscribe(subID string) error {
	s.mu.Lock()
	f, ok := s.feeds[subID]
	delete(s.feeds, subID)
	s.mu.Unlock()

	if ok {
		f.stop()
		s.logger.Debug("Live query subscription removed", "sub_id", subID)
	}
	return nil
}

// Active reports how many feeds are running.
func (s *SurrealLiveQueryService) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.feeds)
}

func (s *SurrealLiveQueryService) read(ctx context.Context, f *feed, notifications <-chan connection.Notification) {
	defer func() {
		s.mu.Lock()
		delete(s.feeds, f.id)
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notifications:
			if !ok {
				s.logger.Debug("Live query channel closed", "sub_id", f.id)
				return
			}
			action, known := mapAction(n)
			if !known {
				s.logger.Warn("Unknown notification action", "sub_id", f.id, "action", n.Action)
				continue
			}
			s.deliver(ctx, f, action, n.Result)
		}
	}
}

// deliver runs the handler; a panicking handler does not end the feed.
func (s *SurrealLiveQueryService) deliver(ctx context.Context, f *feed, action LiveQueryAction, data any) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic in live query handler", "sub_id", f.id, "panic", r)
		}
	}()
	f.handler(ctx, action, data)
}

func mapAction(n connection.Notification) (LiveQueryAction, bool) {
	switch n.Action {
	case connection.CreateAction:
		return ActionCreate, true
	case connection.UpdateAction:
		return ActionUpdate, true
	case connection.DeleteAction:
		return ActionDelete, true
	}
	return "", false
}
