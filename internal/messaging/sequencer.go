package messaging

import "sync"

// sequencer hands out per-conversation sequence numbers and applies
// completions strictly in that order, whatever order they finish in.
type sequencer struct {
	mu    sync.Mutex
	convs map[string]*convSeq
}

type convSeq struct {
	reserved uint64
	applied  uint64
	ready    map[uint64]func()
}

func newSequencer() *sequencer {
	return &sequencer{convs: make(map[string]*convSeq)}
}

// reserve returns the next sequence number for the conversation, starting at 1.
func (s *sequencer) reserve(conversationID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.convs[conversationID]
	if !ok {
		cs = &convSeq{ready: make(map[uint64]func())}
		s.convs[conversationID] = cs
	}
	cs.reserved++
	return cs.reserved
}

// complete records apply for seq and runs every consecutive ready apply.
// Applies run one at a time under the sequencer lock.
func (s *sequencer) complete(conversationID string, seq uint64, apply func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.convs[conversationID]
	if !ok || seq <= cs.applied {
		return
	}
	cs.ready[seq] = apply

	for {
		next, ok := cs.ready[cs.applied+1]
		if !ok {
			break
		}
		delete(cs.ready, cs.applied+1)
		cs.applied++
		next()
	}

	if cs.applied == cs.reserved && len(cs.ready) == 0 {
		delete(s.convs, conversationID)
	}
}

// outstanding returns how many reserved numbers have not been applied yet.
func (s *sequencer) outstanding(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cs, ok := s.convs[conversationID]; ok {
		return int(cs.reserved - cs.applied)
	}
	return 0
}
