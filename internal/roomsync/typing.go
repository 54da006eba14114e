package roomsync

import (
	"sort"
	"sync"
	"time"

	"github.com/npezzotti/symposium/internal/types"
)

// TypingQuietPeriod is how long input must stay unchanged before a
// typing-stop is sent.
const TypingQuietPeriod = time.Second

// TypingSet tracks who is typing in a room, keyed by user id. Events from
// the local user are ignored.
type TypingSet struct {
	mu     sync.RWMutex
	selfId int
	names  map[int]string
}

func NewTypingSet(selfId int) *TypingSet {
	return &TypingSet{
		selfId: selfId,
		names:  make(map[int]string),
	}
}

// Apply records ev and reports whether the set changed.
func (s *TypingSet) Apply(ev types.TypingEvent) bool {
	if ev.UserId == s.selfId {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name, ok := s.names[ev.UserId]
	if !ev.IsTyping {
		delete(s.names, ev.UserId)
		return ok
	}

	s.names[ev.UserId] = ev.UserName
	return !ok || name != ev.UserName
}

// Remove drops a user, e.g. after they left the room.
func (s *TypingSet) Remove(userId int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.names, userId)
}

func (s *TypingSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.names = make(map[int]string)
}

// Names returns the display names of everyone typing, sorted.
func (s *TypingSet) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.names))
	for _, n := range s.names {
		names = append(names, n)
	}
	sort.Strings(names)

	return names
}

// TypingNotifier turns input changes into typing start and stop signals.
// Start is sent when non-empty input appears while idle. Stop is sent once
// the input has not changed for the quiet period, when it is cleared, or on
// Submit.
type TypingNotifier struct {
	mu     sync.Mutex
	send   func(isTyping bool)
	quiet  time.Duration
	timer  *time.Timer
	typing bool
	// gen invalidates timers that fired after a newer input change
	gen int
}

func NewTypingNotifier(send func(isTyping bool)) *TypingNotifier {
	return newTypingNotifier(send, TypingQuietPeriod)
}

func newTypingNotifier(send func(isTyping bool), quiet time.Duration) *TypingNotifier {
	return &TypingNotifier{
		send:  send,
		quiet: quiet,
	}
}

func (n *TypingNotifier) InputChanged(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if text == "" {
		n.stopLocked()
		return
	}

	if !n.typing {
		n.typing = true
		n.send(true)
	}

	n.gen++
	gen := n.gen
	if n.timer != nil {
		n.timer.Stop()
	}
	n.timer = time.AfterFunc(n.quiet, func() {
		n.mu.Lock()
		defer n.mu.Unlock()

		if gen == n.gen {
			n.stopLocked()
		}
	})
}

// Submit ends typing immediately, as when a message is sent.
func (n *TypingNotifier) Submit() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.stopLocked()
}

// Typing reports whether a start has been sent without a matching stop.
func (n *TypingNotifier) Typing() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.typing
}

func (n *TypingNotifier) stopLocked() {
	n.gen++
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}

	if n.typing {
		n.typing = false
		n.send(false)
	}
}
