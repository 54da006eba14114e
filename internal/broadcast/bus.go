package broadcast

import (
	"context"
	"errors"

	"github.com/npezzotti/symposium/internal/types"
)

var ErrClosed = errors.New("bus closed")

// Event is a typing event delivered for a room.
type Event struct {
	RoomId int
	Typing types.TypingEvent
}

// Bus carries ephemeral typing events between server instances. Delivery
// is best effort and unordered.
type Bus interface {
	Publish(ctx context.Context, roomId int, ev types.TypingEvent) error
	// Run delivers events until ctx is cancelled or the bus is closed.
	Run(ctx context.Context, deliver func(Event)) error
	Close() error
}
