package roomsync

import (
	"sort"
	"sync"

	"github.com/npezzotti/symposium/internal/types"
)

// MessageSet is a room's local message list, keyed by message id and kept
// in sequence order. Merging a known id is a no-op, so a message that
// arrives both in the baseline and on the insert stream is shown once.
type MessageSet struct {
	mu   sync.RWMutex
	ids  map[int]struct{}
	msgs []types.Message
}

func NewMessageSet() *MessageSet {
	return &MessageSet{ids: make(map[int]struct{})}
}

// Merge inserts msg in sequence order and reports whether it was new.
func (s *MessageSet) Merge(msg types.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[msg.Id]; ok {
		return false
	}

	s.ids[msg.Id] = struct{}{}

	i := sort.Search(len(s.msgs), func(i int) bool {
		return s.msgs[i].SeqId > msg.SeqId
	})
	s.msgs = append(s.msgs, types.Message{})
	copy(s.msgs[i+1:], s.msgs[i:])
	s.msgs[i] = msg

	return true
}

// Reset replaces the set with a baseline snapshot.
func (s *MessageSet) Reset(baseline []types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ids = make(map[int]struct{}, len(baseline))
	s.msgs = make([]types.Message, 0, len(baseline))

	for _, msg := range baseline {
		if _, ok := s.ids[msg.Id]; ok {
			continue
		}
		s.ids[msg.Id] = struct{}{}
		s.msgs = append(s.msgs, msg)
	}

	sort.SliceStable(s.msgs, func(i, j int) bool {
		return s.msgs[i].SeqId < s.msgs[j].SeqId
	})
}

func (s *MessageSet) Contains(id int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.ids[id]
	return ok
}

func (s *MessageSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.msgs)
}

// LastSeq returns the highest sequence number held, or 0 when empty.
func (s *MessageSet) LastSeq() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.msgs) == 0 {
		return 0
	}

	return s.msgs[len(s.msgs)-1].SeqId
}

// Messages returns a copy of the list in sequence order.
func (s *MessageSet) Messages() []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}
