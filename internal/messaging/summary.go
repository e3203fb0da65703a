package messaging

import (
	"context"
	"sync"

	"github.com/nfrund/collegeos/internal/domain"
)

// LastMessageLoader fetches the newest message of a conversation, or nil.
type LastMessageLoader interface {
	LastMessage(ctx context.Context, conversationID string) (*domain.Message, error)
}

// Summaries caches the last-message preview of each conversation until it
// is invalidated.
type Summaries struct {
	loader  LastMessageLoader
	mu      sync.Mutex
	entries map[string]domain.Summary
	gens    map[string]uint64
}

// NewSummaries creates an empty summary cache.
func NewSummaries(loader LastMessageLoader) *Summaries {
	return &Summaries{
		loader:  loader,
		entries: make(map[string]domain.Summary),
		gens:    make(map[string]uint64),
	}
}

// Get returns the preview, loading it on first use after an invalidation.
func (s *Summaries) Get(ctx context.Context, conversationID string) (domain.Summary, error) {
	s.mu.Lock()
	if sum, ok := s.entries[conversationID]; ok {
		s.mu.Unlock()
		return sum, nil
	}
	gen := s.gens[conversationID]
	s.mu.Unlock()

	last, err := s.loader.LastMessage(ctx, conversationID)
	if err != nil {
		return domain.Summary{}, err
	}
	sum := domain.Summary{ConversationID: conversationID}
	if last != nil {
		sum = domain.SummaryOf(*last)
	}

	s.mu.Lock()
	// An invalidation during the load makes the result stale; keep it
	// out of the cache.
	if s.gens[conversationID] == gen {
		s.entries[conversationID] = sum
	}
	s.mu.Unlock()
	return sum, nil
}

// Invalidate drops the cached preview so the next Get reloads it.
func (s *Summaries) Invalidate(conversationID string) {
	s.mu.Lock()
	delete(s.entries, conversationID)
	s.gens[conversationID]++
	s.mu.Unlock()
}

// Cached reports whether a preview is currently held.
func (s *Summaries) Cached(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[conversationID]
	return ok
}
