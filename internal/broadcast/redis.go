package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/npezzotti/symposium/internal/types"
	"github.com/redis/go-redis/v9"
)

const (
	channelPrefix = "symposium:room:"
	channelSuffix = ":typing"
)

// RedisBus shares typing events across server instances over Redis pub/sub.
type RedisBus struct {
	client *redis.Client
	log    *log.Logger
}

var _ Bus = (*RedisBus)(nil)

func NewRedisBus(url string, logger *log.Logger) (*RedisBus, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}

	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return &RedisBus{client: c, log: logger}, nil
}

func typingChannel(roomId int) string {
	return channelPrefix + strconv.Itoa(roomId) + channelSuffix
}

func parseTypingChannel(channel string) (int, error) {
	s, ok := strings.CutPrefix(channel, channelPrefix)
	if !ok {
		return 0, fmt.Errorf("unexpected channel %q", channel)
	}
	s, ok = strings.CutSuffix(s, channelSuffix)
	if !ok {
		return 0, fmt.Errorf("unexpected channel %q", channel)
	}

	return strconv.Atoi(s)
}

func (b *RedisBus) Publish(ctx context.Context, roomId int, ev types.TypingEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	return b.client.Publish(ctx, typingChannel(roomId), payload).Err()
}

func (b *RedisBus) Run(ctx context.Context, deliver func(Event)) error {
	pubsub := b.client.PSubscribe(ctx, channelPrefix+"*"+channelSuffix)
	defer pubsub.Close()

	// wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis: psubscribe: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			roomId, err := parseTypingChannel(msg.Channel)
			if err != nil {
				b.log.Println("typing event:", err)
				continue
			}

			var ev types.TypingEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.log.Println("decode typing event:", err)
				continue
			}

			deliver(Event{RoomId: roomId, Typing: ev})
		}
	}
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
