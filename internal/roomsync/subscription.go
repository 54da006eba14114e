package roomsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/symposium/internal/server"
	"github.com/npezzotti/symposium/internal/types"
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateError
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	ErrClosed       = errors.New("subscription closed")
	ErrNotConnected = errors.New("subscription not connected")
	ErrConnLost     = errors.New("connection lost")
	ErrRoomDeleted  = errors.New("room deleted")
)

// RequestError is an error response from the chat server.
type RequestError struct {
	Code    int
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("server responded %d: %s", e.Code, e.Message)
}

// Conn is a JSON message connection to the chat server. *websocket.Conn
// satisfies it.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WebsocketDialer dials the chat server's websocket endpoint. Header should
// carry the session cookie.
type WebsocketDialer struct {
	URL    string
	Header http.Header
	Dialer *websocket.Dialer
}

func (d *WebsocketDialer) Dial(ctx context.Context) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", d.URL, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}

	return conn, nil
}

type frame struct {
	Id           int                  `json:"id"`
	Response     *frameResponse       `json:"response"`
	Message      *types.Message       `json:"message"`
	Notification *server.Notification `json:"notification"`
}

type frameResponse struct {
	ResponseCode int             `json:"response_code"`
	Error        string          `json:"error"`
	Data         json.RawMessage `json:"data"`
}

func (r *frameResponse) err() error {
	if r.ResponseCode >= http.StatusBadRequest {
		return &RequestError{Code: r.ResponseCode, Message: r.Error}
	}
	return nil
}

// session is one connection attempt. A retry always builds a new one.
type session struct {
	conn    Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int]chan *frameResponse
	joinId  int
	done    chan struct{}
	once    sync.Once
}

func newSession(conn Conn) *session {
	return &session{
		conn:    conn,
		pending: make(map[int]chan *frameResponse),
		done:    make(chan struct{}),
	}
}

func (ss *session) write(v any) error {
	ss.writeMu.Lock()
	defer ss.writeMu.Unlock()

	return ss.conn.WriteJSON(v)
}

func (ss *session) register(id int, join bool) chan *frameResponse {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	ch := make(chan *frameResponse, 1)
	ss.pending[id] = ch
	if join {
		ss.joinId = id
	}

	return ch
}

func (ss *session) unregister(id int) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	delete(ss.pending, id)
}

func (ss *session) take(id int) (chan *frameResponse, bool, bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	ch, ok := ss.pending[id]
	if ok {
		delete(ss.pending, id)
	}

	return ch, ok && id == ss.joinId, ok
}

// failPending wakes every waiter with a closed channel.
func (ss *session) failPending() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	for id, ch := range ss.pending {
		close(ch)
		delete(ss.pending, id)
	}
}

func (ss *session) close() {
	ss.once.Do(func() {
		ss.conn.Close()
	})
}

// Subscription keeps one room's live event stream. Subscribe dials, joins
// the room and loads the baseline; events then flow to the Handler until
// the connection fails or Close is called. A failed subscription stays in
// StateError until Retry.
type Subscription struct {
	Id      string
	roomId  string
	dialer  Dialer
	handler Handler
	log     *log.Logger
	nextId  atomic.Int64

	mu    sync.Mutex
	state State
	err   error
	sess  *session
}

func NewSubscription(roomId string, dialer Dialer, handler Handler, logger *log.Logger) *Subscription {
	return &Subscription{
		Id:      uuid.NewString(),
		roomId:  roomId,
		dialer:  dialer,
		handler: handler,
		log:     logger,
	}
}

func (s *Subscription) RoomId() string {
	return s.roomId
}

// State returns the current state and, in StateError, the cause.
func (s *Subscription) State() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state, s.err
}

func (s *Subscription) requestId() int {
	return int(s.nextId.Add(1))
}

func (s *Subscription) emitState(state State, err error) {
	if err != nil {
		s.log.Printf("subscription %s: room %q: %s: %v", s.Id, s.roomId, state, err)
	}
	s.handler.HandleEvent(StateEvent{State: state, Err: err})
}

// Subscribe runs the full connect sequence. It is a no-op when already
// connected.
func (s *Subscription) Subscribe(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return ErrClosed
	case StateConnected:
		s.mu.Unlock()
		return nil
	case StateConnecting:
		s.mu.Unlock()
		return fmt.Errorf("subscribe already in progress")
	}

	old := s.sess
	s.sess = nil
	s.state, s.err = StateConnecting, nil
	s.mu.Unlock()

	if old != nil {
		old.close()
		<-old.done
	}
	s.emitState(StateConnecting, nil)

	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		return s.fail(nil, err)
	}

	sess := newSession(conn)

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		sess.close()
		return ErrClosed
	}
	s.sess = sess
	s.mu.Unlock()

	go s.readLoop(sess)

	id := s.requestId()
	ch := sess.register(id, true)
	_, err = s.await(ctx, sess, id, ch, server.ClientMessage{
		BaseMessage: server.BaseMessage{Id: id},
		Join:        &server.Join{RoomId: s.roomId},
	})
	if err != nil {
		return s.fail(sess, fmt.Errorf("join: %w", err))
	}

	s.mu.Lock()
	if s.sess != sess || s.state != StateConnecting {
		state := s.state
		s.mu.Unlock()
		if state == StateClosed {
			return ErrClosed
		}
		return ErrConnLost
	}
	s.state = StateConnected
	s.mu.Unlock()

	s.emitState(StateConnected, nil)
	return nil
}

// Retry re-runs Subscribe after a failure.
func (s *Subscription) Retry(ctx context.Context) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state != StateError {
		return fmt.Errorf("cannot retry a subscription in state %s", state)
	}

	return s.Subscribe(ctx)
}

// fail moves to StateError unless the subscription was closed meanwhile.
func (s *Subscription) fail(sess *session, err error) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		if sess != nil {
			sess.close()
		}
		return ErrClosed
	}

	if sess == nil || s.sess == sess {
		s.sess = nil
		s.state, s.err = StateError, err
	}
	s.mu.Unlock()

	if sess != nil {
		sess.close()
	}
	s.emitState(StateError, err)

	return err
}

func (s *Subscription) current() (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state == StateClosed:
		return nil, ErrClosed
	case s.state != StateConnected || s.sess == nil:
		return nil, ErrNotConnected
	}

	return s.sess, nil
}

func (s *Subscription) await(ctx context.Context, sess *session, id int, ch chan *frameResponse, msg server.ClientMessage) (*frameResponse, error) {
	defer sess.unregister(id)

	if err := sess.write(msg); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrConnLost
		}
		if err := resp.err(); err != nil {
			return nil, err
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Subscription) request(ctx context.Context, msg server.ClientMessage) (*frameResponse, error) {
	sess, err := s.current()
	if err != nil {
		return nil, err
	}

	id := s.requestId()
	msg.Id = id
	ch := sess.register(id, false)

	return s.await(ctx, sess, id, ch, msg)
}

// Publish stores a user message in the room and returns it as persisted.
// The same message also arrives later as an InsertEvent.
func (s *Subscription) Publish(ctx context.Context, content, model string) (types.Message, error) {
	resp, err := s.request(ctx, server.ClientMessage{
		Publish: &server.Publish{RoomId: s.roomId, Content: content, AiModel: model},
	})
	if err != nil {
		return types.Message{}, err
	}

	var msg types.Message
	if err := json.Unmarshal(resp.Data, &msg); err != nil {
		return types.Message{}, fmt.Errorf("decode message: %w", err)
	}

	return msg, nil
}

// Typing broadcasts a typing start or stop. Delivery is best effort.
func (s *Subscription) Typing(isTyping bool) error {
	sess, err := s.current()
	if err != nil {
		return err
	}

	return sess.write(server.ClientMessage{
		Typing: &server.Typing{RoomId: s.roomId, IsTyping: isTyping},
	})
}

// Unsubscribe leaves the room as a participant, then closes.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	_, err := s.request(ctx, server.ClientMessage{
		Leave: &server.Leave{RoomId: s.roomId, Unsubscribe: true},
	})
	if err != nil {
		return fmt.Errorf("leave: %w", err)
	}

	return s.Close()
}

// Close releases the connection. The subscription cannot be reused. Close
// must not be called from the Handler.
func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	sess := s.sess
	s.sess = nil
	s.state, s.err = StateClosed, nil
	s.mu.Unlock()

	if sess != nil {
		// best effort so the server drops the connection from the room at once
		sess.write(server.ClientMessage{Leave: &server.Leave{RoomId: s.roomId}})
		sess.close()
		<-sess.done
	}

	s.emitState(StateClosed, nil)
	return nil
}

// terminate closes from inside the read loop, without waiting for it.
func (s *Subscription) terminate(sess *session, err error) {
	s.mu.Lock()
	if s.sess != sess || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.sess = nil
	s.state, s.err = StateClosed, err
	s.mu.Unlock()

	sess.close()
	s.emitState(StateClosed, err)
}

func (s *Subscription) readLoop(sess *session) {
	defer close(sess.done)

	for {
		var f frame
		if err := sess.conn.ReadJSON(&f); err != nil {
			sess.failPending()
			s.connectionLost(sess, err)
			return
		}

		s.dispatch(sess, &f)
	}
}

func (s *Subscription) connectionLost(sess *session, err error) {
	s.mu.Lock()
	if s.sess != sess || s.state != StateConnected {
		// closed, failed, or still joining; the joiner reports its own error
		s.mu.Unlock()
		return
	}
	s.sess = nil
	s.state, s.err = StateError, fmt.Errorf("%w: %v", ErrConnLost, err)
	cause := s.err
	s.mu.Unlock()

	sess.close()
	s.emitState(StateError, cause)
}

func (s *Subscription) dispatch(sess *session, f *frame) {
	switch {
	case f.Response != nil:
		ch, isJoin, ok := sess.take(f.Id)
		if !ok {
			if err := f.Response.err(); err != nil {
				s.handler.HandleEvent(FailureEvent{RequestId: f.Id, Code: f.Response.ResponseCode, Message: f.Response.Error})
			}
			return
		}

		if isJoin && f.Response.err() == nil {
			var baseline server.Baseline
			if err := json.Unmarshal(f.Response.Data, &baseline); err != nil {
				ch <- &frameResponse{ResponseCode: http.StatusInternalServerError, Error: "invalid baseline: " + err.Error()}
				return
			}
			s.handler.HandleEvent(BaselineEvent{Room: baseline.Room, Messages: baseline.Messages})
		}

		ch <- f.Response
	case f.Message != nil:
		s.handler.HandleEvent(InsertEvent{Message: *f.Message})
	case f.Notification != nil:
		n := f.Notification
		switch {
		case n.Presence != nil:
			s.handler.HandleEvent(PresenceEvent{UserId: n.Presence.UserId, Present: n.Presence.Present})
		case n.ParticipantChange != nil:
			s.handler.HandleEvent(ParticipantEvent{Participant: n.ParticipantChange.Participant})
		case n.Typing != nil:
			s.handler.HandleEvent(TypingEvent{TypingEvent: n.Typing.TypingEvent})
		case n.RoomDeleted != nil:
			s.terminate(sess, ErrRoomDeleted)
		}
	}
}
