package broadcast

import (
	"context"
	"sync"

	"github.com/npezzotti/symposium/internal/types"
)

// LocalBus fans events out inside a single process.
type LocalBus struct {
	events    chan Event
	closeOnce sync.Once
	closed    chan struct{}
}

var _ Bus = (*LocalBus)(nil)

func NewLocalBus(size int) *LocalBus {
	return &LocalBus{
		events: make(chan Event, size),
		closed: make(chan struct{}),
	}
}

// Publish drops the event when the buffer is full.
func (b *LocalBus) Publish(ctx context.Context, roomId int, ev types.TypingEvent) error {
	select {
	case <-b.closed:
		return ErrClosed
	default:
	}

	select {
	case b.events <- Event{RoomId: roomId, Typing: ev}:
	default:
	}

	return nil
}

func (b *LocalBus) Run(ctx context.Context, deliver func(Event)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.closed:
			return nil
		case ev := <-b.events:
			deliver(ev)
		}
	}
}

func (b *LocalBus) Close() error {
	b.closeOnce.Do(func() { close(b.closed) })
	return nil
}
