package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
)

const (
	ChannelMessageInserted    = "message_inserted"
	ChannelParticipantChanged = "participant_changed"
	// ChannelResync is delivered after the listener reconnects. Notifications
	// sent while it was disconnected are lost, so subscribers must catch up.
	ChannelResync = "resync"

	listenerPingInterval = 90 * time.Second
)

// Notification identifies a row changed in a room.
type Notification struct {
	Channel string
	RoomId  int `json:"room_id"`
	Id      int `json:"id"`
}

// Listener relays Postgres notifications raised by the message and
// participant triggers.
type Listener struct {
	dsn    string
	log    *log.Logger
	minRec time.Duration
	maxRec time.Duration
}

func NewListener(dsn string, logger *log.Logger) *Listener {
	return &Listener{
		dsn:    dsn,
		log:    logger,
		minRec: 1 * time.Second,
		maxRec: 30 * time.Second,
	}
}

// Run listens until ctx is cancelled, calling deliver for every
// notification in the order the server sent them.
func (l *Listener) Run(ctx context.Context, deliver func(Notification)) error {
	pl := pq.NewListener(l.dsn, l.minRec, l.maxRec, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			l.log.Printf("listener event %d: %v", ev, err)
		}
	})
	defer pl.Close()

	for _, ch := range []string{ChannelMessageInserted, ChannelParticipantChanged} {
		if err := pl.Listen(ch); err != nil {
			return fmt.Errorf("listen %s: %w", ch, err)
		}
	}

	ticker := time.NewTicker(listenerPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-pl.Notify:
			if n == nil {
				// connection was re-established
				deliver(Notification{Channel: ChannelResync})
				continue
			}

			notif, err := parseNotification(n.Channel, n.Extra)
			if err != nil {
				l.log.Println("parse notification:", err)
				continue
			}
			deliver(notif)
		case <-ticker.C:
			go func() {
				if err := pl.Ping(); err != nil {
					l.log.Println("listener ping:", err)
				}
			}()
		}
	}
}

func parseNotification(channel, extra string) (Notification, error) {
	var n Notification
	if err := json.Unmarshal([]byte(extra), &n); err != nil {
		return n, fmt.Errorf("decode %q payload: %w", channel, err)
	}

	if n.RoomId <= 0 || n.Id <= 0 {
		return n, fmt.Errorf("invalid %q payload: %s", channel, extra)
	}
	n.Channel = channel

	return n, nil
}
