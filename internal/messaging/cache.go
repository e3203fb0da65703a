package messaging

import (
	"slices"
	"sync"
	"time"

	"github.com/nfrund/collegeos/internal/domain"
)

// clockSkewAllowance widens the parking window on Load: placeholders are
// stamped by the process clock, stored records by the database clock.
const clockSkewAllowance = 5 * time.Second

// Cache is a session's view of the messages of each conversation it has
// touched. Each conversation is an ordered sequence: authoritative records
// followed by the session's own pending placeholders.
//
// While a sender has placeholders in flight, records by that sender arriving
// from the feed are parked rather than shown, so a send can never appear as
// both a placeholder and its own record.
type Cache struct {
	mu        sync.Mutex
	convs     map[string]*conversation
	observers map[string]map[int]func([]domain.Message)
	nextObsID int
}

type conversation struct {
	loaded   bool
	messages []domain.Message
	parked   []domain.Message
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		convs:     make(map[string]*conversation),
		observers: make(map[string]map[int]func([]domain.Message)),
	}
}

func (c *Cache) conv(id string) *conversation {
	cv, ok := c.convs[id]
	if !ok {
		cv = &conversation{}
		c.convs[id] = cv
	}
	return cv
}

// Load installs the authoritative history of a conversation. Placeholders
// already in flight are kept after it. History records that may be the
// stored copy of one of those placeholders are parked, exactly as Append
// parks them, until the sender has nothing in flight.
func (c *Cache) Load(conversationID string, history []domain.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cv := c.conv(conversationID)
	pending := placeholders(cv.messages)
	oldest := oldestPendingBySender(pending)

	messages := make([]domain.Message, 0, len(history)+len(pending))
	visible := make(map[string]bool, len(history))
	var park []domain.Message
	for _, m := range history {
		if visible[m.ID] || slices.ContainsFunc(park, func(p domain.Message) bool { return p.ID == m.ID }) {
			continue
		}
		m.Pending = false
		if since, ok := oldest[m.Sender.ID]; ok && !m.CreatedAt.Before(since.Add(-clockSkewAllowance)) {
			park = append(park, m)
			continue
		}
		visible[m.ID] = true
		messages = append(messages, m)
	}

	cv.parked = slices.DeleteFunc(cv.parked, func(m domain.Message) bool { return visible[m.ID] })
	for _, m := range park {
		if !slices.ContainsFunc(cv.parked, func(p domain.Message) bool { return p.ID == m.ID }) {
			cv.parked = append(cv.parked, m)
		}
	}
	cv.messages = append(messages, pending...)
	cv.loaded = true

	c.notify(conversationID, cv)
}

// Loaded reports whether Load has run for the conversation.
func (c *Cache) Loaded(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cv, ok := c.convs[conversationID]
	return ok && cv.loaded
}

// Append adds a message to its conversation. Authoritative records whose ID
// is already present are ignored; the return value reports whether the cache
// changed.
func (c *Cache) Append(m domain.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cv := c.conv(m.ConversationID)
	if !m.IsPlaceholder() {
		if cv.contains(m.ID) || slices.ContainsFunc(cv.parked, func(p domain.Message) bool { return p.ID == m.ID }) {
			return false
		}
		if cv.hasPendingFrom(m.Sender.ID) {
			cv.parked = append(cv.parked, m)
			return false
		}
	}
	cv.messages = append(cv.messages, m)
	c.notify(m.ConversationID, cv)
	return true
}

// Reconcile replaces the placeholder with its authoritative record, in
// place. The placeholder is matched by ID and pending flag only. If the
// record is already present, the placeholder is removed instead.
func (c *Cache) Reconcile(conversationID, placeholderID string, record domain.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cv, ok := c.convs[conversationID]
	if !ok {
		return false
	}
	idx := cv.placeholderIndex(placeholderID)
	if idx < 0 {
		return false
	}

	record.Pending = false
	record.Seq = 0
	cv.parked = slices.DeleteFunc(cv.parked, func(m domain.Message) bool { return m.ID == record.ID })
	if cv.contains(record.ID) {
		cv.messages = slices.Delete(cv.messages, idx, idx+1)
	} else {
		cv.messages[idx] = record
	}
	cv.releaseParked()
	c.notify(conversationID, cv)
	return true
}

// Remove deletes a pending placeholder. Authoritative records are never
// removed through it.
func (c *Cache) Remove(conversationID, placeholderID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cv, ok := c.convs[conversationID]
	if !ok {
		return false
	}
	idx := cv.placeholderIndex(placeholderID)
	if idx < 0 {
		return false
	}
	cv.messages = slices.Delete(cv.messages, idx, idx+1)
	cv.releaseParked()
	c.notify(conversationID, cv)
	return true
}

// Snapshot returns a copy of the conversation's sequence.
func (c *Cache) Snapshot(conversationID string) []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cv, ok := c.convs[conversationID]; ok {
		return slices.Clone(cv.messages)
	}
	return nil
}

// PendingCount returns how many placeholders the conversation holds.
func (c *Cache) PendingCount(conversationID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cv, ok := c.convs[conversationID]; ok {
		return len(placeholders(cv.messages))
	}
	return 0
}

// Observe registers fn to receive a snapshot after every change to the
// conversation. fn runs with the cache locked and must not call back into
// it. The returned function unregisters fn.
func (c *Cache) Observe(conversationID string, fn func([]domain.Message)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextObsID
	c.nextObsID++
	if c.observers[conversationID] == nil {
		c.observers[conversationID] = make(map[int]func([]domain.Message))
	}
	c.observers[conversationID][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.observers[conversationID], id)
			if len(c.observers[conversationID]) == 0 {
				delete(c.observers, conversationID)
			}
		})
	}
}

// Drop forgets a conversation's authoritative history. Pending placeholders
// survive so their outcomes still have somewhere to land.
func (c *Cache) Drop(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cv, ok := c.convs[conversationID]
	if !ok {
		return
	}
	pending := placeholders(cv.messages)
	if len(pending) == 0 {
		delete(c.convs, conversationID)
		return
	}
	cv.messages = pending
	cv.loaded = false
}

func (c *Cache) notify(conversationID string, cv *conversation) {
	obs := c.observers[conversationID]
	if len(obs) == 0 {
		return
	}
	snapshot := slices.Clone(cv.messages)
	for _, fn := range obs {
		fn(snapshot)
	}
}

func (cv *conversation) contains(id string) bool {
	return slices.ContainsFunc(cv.messages, func(m domain.Message) bool { return m.ID == id })
}

func (cv *conversation) placeholderIndex(id string) int {
	return slices.IndexFunc(cv.messages, func(m domain.Message) bool {
		return m.ID == id && m.IsPlaceholder()
	})
}

func (cv *conversation) hasPendingFrom(senderID string) bool {
	return slices.ContainsFunc(cv.messages, func(m domain.Message) bool {
		return m.IsPlaceholder() && m.Sender.ID == senderID
	})
}

// releaseParked moves parked records whose sender has nothing in flight any
// more into the visible sequence, in timestamp order and ahead of the
// remaining placeholders.
func (cv *conversation) releaseParked() {
	if len(cv.parked) == 0 {
		return
	}
	var keep, release []domain.Message
	for _, m := range cv.parked {
		switch {
		case cv.contains(m.ID):
		case cv.hasPendingFrom(m.Sender.ID):
			keep = append(keep, m)
		default:
			release = append(release, m)
		}
	}
	cv.parked = keep

	slices.SortStableFunc(release, func(a, b domain.Message) int { return a.CreatedAt.Compare(b.CreatedAt) })
	for _, m := range release {
		at := slices.IndexFunc(cv.messages, func(x domain.Message) bool {
			return x.IsPlaceholder() || x.CreatedAt.After(m.CreatedAt)
		})
		if at < 0 {
			cv.messages = append(cv.messages, m)
			continue
		}
		cv.messages = slices.Insert(cv.messages, at, m)
	}
}

func oldestPendingBySender(pending []domain.Message) map[string]time.Time {
	oldest := make(map[string]time.Time)
	for _, m := range pending {
		if t, ok := oldest[m.Sender.ID]; !ok || m.CreatedAt.Before(t) {
			oldest[m.Sender.ID] = m.CreatedAt
		}
	}
	return oldest
}

func placeholders(messages []domain.Message) []domain.Message {
	var out []domain.Message
	for _, m := range messages {
		if m.IsPlaceholder() {
			out = append(out, m)
		}
	}
	return out
}
