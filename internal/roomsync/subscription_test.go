package roomsync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/symposium/internal/server"
	"github.com/npezzotti/symposium/internal/testutil"
	"github.com/npezzotti/symposium/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = time.Second

// fakeConn is an in-memory Conn. The test plays the server through send
// and next.
type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadJSON(v any) error {
	select {
	case raw := <-c.in:
		return json.Unmarshal(raw, v)
	case <-c.closed:
		return io.EOF
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}

	select {
	case <-c.closed:
		return errors.New("use of closed connection")
	default:
	}

	select {
	case c.out <- raw:
		return nil
	case <-c.closed:
		return errors.New("use of closed connection")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) send(t *testing.T, msg *server.ServerMessage) {
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	c.in <- raw
}

func (c *fakeConn) next(t *testing.T) server.ClientMessage {
	t.Helper()

	select {
	case raw := <-c.out:
		var msg server.ClientMessage
		require.NoError(t, json.Unmarshal(raw, &msg))
		return msg
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a client message")
		return server.ClientMessage{}
	}
}

// acceptJoin answers the next join with a baseline snapshot.
func (c *fakeConn) acceptJoin(t *testing.T, room types.Room, msgs ...types.Message) {
	t.Helper()

	join := c.next(t)
	require.NotNil(t, join.Join, "expected a join request")
	assert.Equal(t, room.ExternalId, join.Join.RoomId)

	c.send(t, server.NoErrOK(join.Id, &server.Baseline{Room: room, Messages: msgs}))
}

type dialerFunc func(ctx context.Context) (Conn, error)

func (f dialerFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}

// connDialer hands out the given connections in order.
func connDialer(conns ...*fakeConn) Dialer {
	var mu sync.Mutex
	return dialerFunc(func(ctx context.Context) (Conn, error) {
		mu.Lock()
		defer mu.Unlock()

		if len(conns) == 0 {
			return nil, errors.New("connection refused")
		}
		c := conns[0]
		conns = conns[1:]
		return c, nil
	})
}

type recorder struct {
	events chan Event
}

func newRecorder() *recorder {
	return &recorder{events: make(chan Event, 128)}
}

func (r *recorder) HandleEvent(ev Event) {
	r.events <- ev
}

// waitFor returns the next event of type T, skipping others.
func waitFor[T Event](t *testing.T, r *recorder) T {
	t.Helper()

	deadline := time.After(waitTimeout)
	for {
		select {
		case ev := <-r.events:
			if e, ok := ev.(T); ok {
				return e
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

// waitState returns the next state event with the given state.
func waitState(t *testing.T, r *recorder, state State) StateEvent {
	t.Helper()

	deadline := time.After(waitTimeout)
	for {
		select {
		case ev := <-r.events:
			if e, ok := ev.(StateEvent); ok && e.State == state {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", state)
			return StateEvent{}
		}
	}
}

var testRoom = types.Room{Id: 1, ExternalId: "abc123", Name: "Planning"}

// connected returns a subscription that completed its join on conn.
func connected(t *testing.T, conn *fakeConn, rec *recorder, msgs ...types.Message) *Subscription {
	t.Helper()

	sub := NewSubscription(testRoom.ExternalId, connDialer(conn), rec, testutil.TestLogger(t))

	go conn.acceptJoin(t, testRoom, msgs...)
	require.NoError(t, sub.Subscribe(context.Background()))

	return sub
}

func TestState_String(t *testing.T) {
	tcases := []struct {
		state    State
		expected string
	}{
		{StateIdle, "idle"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateError, "error"},
		{StateClosed, "closed"},
		{State(42), "State(42)"},
	}

	for _, tc := range tcases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.state.String())
		})
	}
}

func TestSubscription_Subscribe(t *testing.T) {
	conn := newFakeConn()
	rec := newRecorder()
	baseline := []types.Message{{Id: 1, SeqId: 1, Content: "hi"}}

	sub := connected(t, conn, rec, baseline...)

	assert.Equal(t, StateConnecting, waitFor[StateEvent](t, rec).State)
	b := waitFor[BaselineEvent](t, rec)
	assert.Equal(t, testRoom.ExternalId, b.Room.ExternalId)
	assert.Equal(t, baseline, b.Messages)
	assert.Equal(t, StateConnected, waitFor[StateEvent](t, rec).State, "expected connected after the baseline")

	state, err := sub.State()
	assert.Equal(t, StateConnected, state)
	assert.NoError(t, err)
	assert.NotEmpty(t, sub.Id)
	assert.Equal(t, testRoom.ExternalId, sub.RoomId())

	assert.NoError(t, sub.Subscribe(context.Background()), "expected subscribe to be a no-op when connected")
}

func TestSubscription_DialFailureAndRetry(t *testing.T) {
	conn := newFakeConn()
	rec := newRecorder()

	attempts := 0
	dialer := dialerFunc(func(ctx context.Context) (Conn, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("connection refused")
		}
		return conn, nil
	})

	logger, logs := testutil.CaptureLogger(t)
	sub := NewSubscription(testRoom.ExternalId, dialer, rec, logger)

	err := sub.Subscribe(context.Background())
	assert.ErrorContains(t, err, "connection refused")
	assert.Contains(t, logs.String(), "error: connection refused")

	state, stateErr := sub.State()
	assert.Equal(t, StateError, state)
	assert.Equal(t, err, stateErr)
	assert.Equal(t, StateError, waitState(t, rec, StateError).State)

	go conn.acceptJoin(t, testRoom)
	assert.NoError(t, sub.Retry(context.Background()))

	state, _ = sub.State()
	assert.Equal(t, StateConnected, state)
	assert.Equal(t, 2, attempts)

	assert.ErrorContains(t, sub.Retry(context.Background()), "cannot retry", "expected retry only from error")
}

func TestSubscription_JoinRejected(t *testing.T) {
	conn := newFakeConn()
	rec := newRecorder()
	sub := NewSubscription(testRoom.ExternalId, connDialer(conn), rec, testutil.TestLogger(t))

	go func() {
		join := conn.next(t)
		conn.send(t, server.ErrRoomFull(join.Id))
	}()

	err := sub.Subscribe(context.Background())

	var reqErr *RequestError
	if assert.ErrorAs(t, err, &reqErr) {
		assert.Equal(t, http.StatusForbidden, reqErr.Code)
		assert.Equal(t, "room is full", reqErr.Message)
	}

	state, _ := sub.State()
	assert.Equal(t, StateError, state)
	assert.True(t, conn.isClosed(), "expected the failed connection to be released")
}

func TestSubscription_JoinTimeout(t *testing.T) {
	conn := newFakeConn()
	rec := newRecorder()
	sub := NewSubscription(testRoom.ExternalId, connDialer(conn), rec, testutil.TestLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := sub.Subscribe(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	state, _ := sub.State()
	assert.Equal(t, StateError, state)
}

func TestSubscription_ConnectionLost(t *testing.T) {
	conn := newFakeConn()
	rec := newRecorder()
	sub := connected(t, conn, rec)
	waitState(t, rec, StateConnected)

	publishErr := make(chan error, 1)
	go func() {
		_, err := sub.Publish(context.Background(), "hello", "")
		publishErr <- err
	}()

	// the publish reaches the server, then the connection drops
	pub := conn.next(t)
	require.NotNil(t, pub.Publish)
	conn.Close()

	ev := waitState(t, rec, StateError)
	assert.ErrorIs(t, ev.Err, ErrConnLost)

	select {
	case err := <-publishErr:
		assert.ErrorIs(t, err, ErrConnLost)
	case <-time.After(waitTimeout):
		t.Fatal("expected pending publish to fail")
	}

	_, err := sub.Publish(context.Background(), "again", "")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSubscription_Events(t *testing.T) {
	conn := newFakeConn()
	rec := newRecorder()
	connected(t, conn, rec)
	waitState(t, rec, StateConnected)

	uid := 2
	conn.send(t, &server.ServerMessage{Message: &types.Message{Id: 5, SeqId: 3, UserId: &uid, Content: "yo"}})
	conn.send(t, &server.ServerMessage{Notification: &server.Notification{
		Presence: &server.Presence{Present: true, UserId: 2, RoomId: testRoom.ExternalId},
	}})
	conn.send(t, &server.ServerMessage{Notification: &server.Notification{
		ParticipantChange: &server.ParticipantChange{
			RoomId:      testRoom.ExternalId,
			Participant: types.Participant{Id: 9, User: types.User{Id: 2, Username: "bob"}, IsActive: true},
		},
	}})
	conn.send(t, &server.ServerMessage{Notification: &server.Notification{
		Typing: &server.TypingNotice{
			RoomId:      testRoom.ExternalId,
			TypingEvent: types.TypingEvent{UserId: 2, UserName: "bob", IsTyping: true},
		},
	}})
	conn.send(t, server.ErrTurnFailed(7, "failed to generate reply"))

	insert := waitFor[InsertEvent](t, rec)
	assert.Equal(t, 5, insert.Message.Id)
	assert.Equal(t, 3, insert.Message.SeqId)

	presence := waitFor[PresenceEvent](t, rec)
	assert.Equal(t, PresenceEvent{UserId: 2, Present: true}, presence)

	participant := waitFor[ParticipantEvent](t, rec)
	assert.Equal(t, "bob", participant.Participant.User.Username)
	assert.True(t, participant.Participant.IsActive)

	typing := waitFor[TypingEvent](t, rec)
	assert.Equal(t, types.TypingEvent{UserId: 2, UserName: "bob", IsTyping: true}, typing.TypingEvent)

	failure := waitFor[FailureEvent](t, rec)
	assert.Equal(t, FailureEvent{RequestId: 7, Code: http.StatusInternalServerError, Message: "failed to generate reply"}, failure)
}

func TestSubscription_PublishAndTyping(t *testing.T) {
	conn := newFakeConn()
	rec := newRecorder()
	sub := connected(t, conn, rec)

	go func() {
		pub := conn.next(t)
		conn.send(t, server.NoErrAccepted(pub.Id, types.Message{Id: 10, SeqId: 4, Content: pub.Publish.Content}))
	}()

	msg, err := sub.Publish(context.Background(), "@ai hello", "gpt-4.1-mini")
	require.NoError(t, err)
	assert.Equal(t, 10, msg.Id)
	assert.Equal(t, "@ai hello", msg.Content)

	require.NoError(t, sub.Typing(true))
	typing := conn.next(t)
	if assert.NotNil(t, typing.Typing) {
		assert.Equal(t, testRoom.ExternalId, typing.Typing.RoomId)
		assert.True(t, typing.Typing.IsTyping)
	}

	go func() {
		pub := conn.next(t)
		conn.send(t, server.ErrInternalError(pub.Id))
	}()

	_, err = sub.Publish(context.Background(), "boom", "")
	var reqErr *RequestError
	if assert.ErrorAs(t, err, &reqErr) {
		assert.Equal(t, http.StatusInternalServerError, reqErr.Code)
	}
}

func TestSubscription_NotConnected(t *testing.T) {
	sub := NewSubscription(testRoom.ExternalId, connDialer(), newRecorder(), testutil.TestLogger(t))

	_, err := sub.Publish(context.Background(), "hi", "")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, sub.Typing(true), ErrNotConnected)
}

func TestSubscription_Close(t *testing.T) {
	conn := newFakeConn()
	rec := newRecorder()
	sub := connected(t, conn, rec)

	require.NoError(t, sub.Close())

	leave := conn.next(t)
	if assert.NotNil(t, leave.Leave, "expected a leave on close") {
		assert.False(t, leave.Leave.Unsubscribe)
	}
	assert.True(t, conn.isClosed())

	state, _ := sub.State()
	assert.Equal(t, StateClosed, state)
	waitState(t, rec, StateClosed)

	assert.NoError(t, sub.Close(), "expected close to be idempotent")
	assert.ErrorIs(t, sub.Subscribe(context.Background()), ErrClosed)
	assert.ErrorIs(t, sub.Typing(false), ErrClosed)
}

func TestSubscription_Unsubscribe(t *testing.T) {
	conn := newFakeConn()
	rec := newRecorder()
	sub := connected(t, conn, rec)

	go func() {
		leave := conn.next(t)
		if assert.NotNil(t, leave.Leave) {
			assert.True(t, leave.Leave.Unsubscribe)
		}
		conn.send(t, server.NoErrOK(leave.Id, nil))
	}()

	require.NoError(t, sub.Unsubscribe(context.Background()))

	state, _ := sub.State()
	assert.Equal(t, StateClosed, state)
}

func TestSubscription_RoomDeleted(t *testing.T) {
	conn := newFakeConn()
	rec := newRecorder()
	sub := connected(t, conn, rec)
	waitState(t, rec, StateConnected)

	conn.send(t, &server.ServerMessage{Notification: &server.Notification{
		RoomDeleted: &server.RoomDeleted{RoomId: testRoom.ExternalId},
	}})

	ev := waitState(t, rec, StateClosed)
	assert.ErrorIs(t, ev.Err, ErrRoomDeleted)

	state, err := sub.State()
	assert.Equal(t, StateClosed, state)
	assert.ErrorIs(t, err, ErrRoomDeleted)
	assert.True(t, conn.isClosed())
}
