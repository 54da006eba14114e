package roomsync

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/npezzotti/symposium/internal/types"
)

// Room is a client's live view of one chat room: its messages, the active
// participants and who is typing. It keeps the view consistent across the
// baseline snapshot and the event stream.
type Room struct {
	sub      *Subscription
	self     types.User
	messages *MessageSet
	typing   *TypingSet
	notifier *TypingNotifier
	log      *log.Logger
	// onEvent is called after an event changed the view
	onEvent func(Event)

	mu           sync.RWMutex
	info         types.Room
	participants map[int]types.Participant
}

// NewRoom builds a room view for self. onEvent may be nil.
func NewRoom(roomId string, self types.User, dialer Dialer, logger *log.Logger, onEvent func(Event)) *Room {
	r := &Room{
		self:         self,
		messages:     NewMessageSet(),
		typing:       NewTypingSet(self.Id),
		log:          logger,
		onEvent:      onEvent,
		participants: make(map[int]types.Participant),
	}

	r.sub = NewSubscription(roomId, dialer, r, logger)
	r.notifier = NewTypingNotifier(func(isTyping bool) {
		if err := r.sub.Typing(isTyping); err != nil {
			r.log.Printf("room %q: typing: %v", roomId, err)
		}
	})

	return r
}

// Enter subscribes to the room and loads its baseline.
func (r *Room) Enter(ctx context.Context) error {
	return r.sub.Subscribe(ctx)
}

func (r *Room) Retry(ctx context.Context) error {
	return r.sub.Retry(ctx)
}

// Close releases the subscription. The user stays a participant.
func (r *Room) Close() error {
	r.notifier.Submit()
	return r.sub.Close()
}

// Unsubscribe leaves the room for good.
func (r *Room) Unsubscribe(ctx context.Context) error {
	r.notifier.Submit()
	return r.sub.Unsubscribe(ctx)
}

func (r *Room) State() (State, error) {
	return r.sub.State()
}

// InputChanged feeds the composer text to the typing notifier.
func (r *Room) InputChanged(text string) {
	r.notifier.InputChanged(text)
}

// Send publishes a message. The stored copy is merged at once; its echo on
// the insert stream is then ignored.
func (r *Room) Send(ctx context.Context, content, model string) (types.Message, error) {
	r.notifier.Submit()

	msg, err := r.sub.Publish(ctx, content, model)
	if err != nil {
		return types.Message{}, err
	}

	if msg.UserName == "" {
		msg.UserName = types.DisplayName(r.self.Username, r.self.EmailAddress)
	}

	if r.messages.Merge(msg) && r.onEvent != nil {
		r.onEvent(InsertEvent{Message: msg})
	}

	return msg, nil
}

func (r *Room) Messages() []types.Message {
	return r.messages.Messages()
}

func (r *Room) TypingNames() []string {
	return r.typing.Names()
}

func (r *Room) Info() types.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.info
}

// Participants returns the active participants ordered by join time.
func (r *Room) Participants() []types.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].User.Id < out[j].User.Id
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})

	return out
}

func (r *Room) HandleEvent(ev Event) {
	if !r.apply(ev) {
		return
	}

	if r.onEvent != nil {
		r.onEvent(ev)
	}
}

// apply updates the view and reports whether anything changed.
func (r *Room) apply(ev Event) bool {
	switch e := ev.(type) {
	case BaselineEvent:
		r.messages.Reset(e.Messages)
		r.typing.Clear()

		r.mu.Lock()
		r.info = e.Room
		r.participants = make(map[int]types.Participant, len(e.Room.Participants))
		for _, p := range e.Room.Participants {
			r.participants[p.User.Id] = p
		}
		r.mu.Unlock()
	case InsertEvent:
		return r.messages.Merge(e.Message)
	case ParticipantEvent:
		p := e.Participant

		r.mu.Lock()
		if p.IsActive {
			r.participants[p.User.Id] = p
		} else {
			delete(r.participants, p.User.Id)
		}
		r.mu.Unlock()

		if !p.IsActive {
			r.typing.Remove(p.User.Id)
		}
	case PresenceEvent:
		r.mu.Lock()
		if p, ok := r.participants[e.UserId]; ok {
			p.IsPresent = e.Present
			r.participants[e.UserId] = p
		}
		r.mu.Unlock()

		if !e.Present {
			r.typing.Remove(e.UserId)
		}
	case TypingEvent:
		return r.typing.Apply(e.TypingEvent)
	}

	return true
}
