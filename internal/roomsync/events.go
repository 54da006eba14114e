package roomsync

import "github.com/npezzotti/symposium/internal/types"

// Event is anything a Subscription delivers to its Handler.
type Event interface {
	roomEvent()
}

// BaselineEvent carries the room snapshot loaded on every (re)subscribe.
type BaselineEvent struct {
	Room     types.Room
	Messages []types.Message
}

// InsertEvent is a message newly stored in the room.
type InsertEvent struct {
	Message types.Message
}

// ParticipantEvent is a participant row that changed, e.g. after a join or
// an unsubscribe.
type ParticipantEvent struct {
	Participant types.Participant
}

// PresenceEvent reports a user connecting to or disconnecting from the room.
type PresenceEvent struct {
	UserId  int
	Present bool
}

type TypingEvent struct {
	types.TypingEvent
}

// FailureEvent is an error response the server sent outside a pending
// request, such as a failed assistant turn.
type FailureEvent struct {
	RequestId int
	Code      int
	Message   string
}

// StateEvent is sent on every state transition.
type StateEvent struct {
	State State
	Err   error
}

func (BaselineEvent) roomEvent()    {}
func (InsertEvent) roomEvent()      {}
func (ParticipantEvent) roomEvent() {}
func (PresenceEvent) roomEvent()    {}
func (TypingEvent) roomEvent()      {}
func (FailureEvent) roomEvent()     {}
func (StateEvent) roomEvent()       {}

// Handler receives events in the order the server sent them. It is called
// from the subscription's read goroutine and must not block for long.
type Handler interface {
	HandleEvent(Event)
}

type HandlerFunc func(Event)

func (f HandlerFunc) HandleEvent(ev Event) {
	f(ev)
}
