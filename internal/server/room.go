package server

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/npezzotti/symposium/internal/assistant"
	"github.com/npezzotti/symposium/internal/broadcast"
	"github.com/npezzotti/symposium/internal/database"
	"github.com/npezzotti/symposium/internal/types"
)

const (
	idleRoomTimeout = time.Second * 5
	dbTimeout       = time.Second * 10
)

type exitReq struct {
	deleted bool
	done    chan string
}

type Room struct {
	id         int
	externalId string
	// info is the room configuration used for assistant turns
	info database.Room
	// lastSeq is the highest message seq delivered to clients
	lastSeq       int
	cs            *ChatServer
	db            database.ChatRepository
	joinChan      chan *ClientMessage
	leaveChan     chan *ClientMessage
	clientMsgChan chan *ClientMessage
	notifyChan    chan database.Notification
	typingChan    chan broadcast.Event
	clients       map[*Client]struct{}
	userMap       map[int]map[*Client]struct{}
	clientLock    sync.RWMutex
	log           *log.Logger
	// killTimer is used to automatically unload the room when it is no longer active
	killTimer *time.Timer
	// exit is used to signal the room to exit
	exit chan exitReq
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.externalId)
	r.killTimer = time.NewTimer(idleRoomTimeout)
	r.killTimer.Stop()

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case leaveMsg := <-r.leaveChan:
			r.handleLeave(leaveMsg)
		case msg := <-r.clientMsgChan:
			if msg.Publish != nil {
				r.handlePublish(msg)
			}
		case n := <-r.notifyChan:
			r.handleNotification(n)
		case ev := <-r.typingChan:
			r.handleTyping(ev)
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case e := <-r.exit:
			r.handleRoomExit(e)
			return
		}
	}
}

func (r *Room) queueNotification(n database.Notification) {
	select {
	case r.notifyChan <- n:
	default:
		// a later insert notification detects the gap and catches up
		r.log.Printf("notify channel full on room %q, dropping %s %d", r.externalId, n.Channel, n.Id)
	}
}

func (r *Room) handleRoomTimeout() {
	r.log.Printf("room %q timed out", r.externalId)
	select {
	case r.cs.unloadRoomChan <- unloadRoomRequest{roomId: r.externalId}:
	default:
		r.log.Printf("unload channel full, retrying room %q later", r.externalId)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleRoomExit(e exitReq) {
	r.log.Printf("room %q is exiting", r.externalId)
	if e.deleted {
		// notify all clients that the room is deleted
		r.broadcast(&ServerMessage{
			Notification: &Notification{
				RoomDeleted: &RoomDeleted{RoomId: r.externalId},
			},
		})
	}

	r.clientLock.Lock()
	for c := range r.clients {
		c.delRoom(r.externalId)
		delete(r.clients, c)
	}
	r.userMap = make(map[int]map[*Client]struct{})
	r.clientLock.Unlock()

	if r.killTimer != nil {
		r.killTimer.Stop()
	}

	// notify the chat server the room is done cleaning up
	if e.done != nil {
		e.done <- r.externalId
	}
}

func (r *Room) handleJoin(join *ClientMessage) {
	// stop the kill timer since we have a new client
	if r.killTimer != nil {
		r.killTimer.Stop()
	}

	c := join.client
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	if err := r.admit(ctx, c.user.Id); err != nil {
		r.resetIdleTimer()
		if errors.Is(err, errRoomFull) {
			c.queueMessage(ErrRoomFull(join.Id))
			return
		}
		r.log.Println("admit:", err)
		c.queueMessage(ErrInternalError(join.Id))
		return
	}

	baseline, err := r.loadBaseline(ctx)
	if err != nil {
		r.resetIdleTimer()
		r.log.Println("loadBaseline:", err)
		c.queueMessage(ErrInternalError(join.Id))
		return
	}

	r.addClient(c)

	// send the room snapshot to the client
	c.queueMessage(NoErrOK(join.Id, baseline))

	// notify clients that the user has joined
	r.broadcast(&ServerMessage{
		Notification: &Notification{
			Presence: &Presence{
				Present: true,
				RoomId:  r.externalId,
				UserId:  c.user.Id,
			},
		},
		SkipClient: c,
	})
}

var errRoomFull = errors.New("room is full")

// admit makes the user an active participant. Re-joining never counts
// against the room's capacity.
func (r *Room) admit(ctx context.Context, userId int) error {
	active, err := r.db.IsActiveParticipant(ctx, r.id, userId)
	if err != nil {
		return err
	}

	if !active && r.info.MaxParticipants > 0 {
		count, err := r.db.CountActiveParticipants(ctx, r.id)
		if err != nil {
			return err
		}
		if count >= r.info.MaxParticipants {
			return errRoomFull
		}
	}

	_, err = r.db.UpsertParticipant(ctx, r.id, userId)
	return err
}

func (r *Room) loadBaseline(ctx context.Context) (*Baseline, error) {
	dbRoom, err := r.db.GetRoomById(ctx, r.id)
	if err != nil {
		return nil, err
	}
	r.info = dbRoom

	participants, err := r.db.ListActiveParticipants(ctx, r.id)
	if err != nil {
		return nil, err
	}
	dbRoom.Participants = participants

	msgs, err := r.db.ListMessagesAfter(ctx, r.id, 0)
	if err != nil {
		return nil, err
	}

	baseline := &Baseline{
		Room:     dbRoom.ToAPI(),
		Messages: make([]types.Message, 0, len(msgs)),
	}

	r.clientLock.RLock()
	for i, p := range baseline.Room.Participants {
		baseline.Room.Participants[i].IsPresent = r.userMap[p.User.Id] != nil
	}
	r.clientLock.RUnlock()

	for _, m := range msgs {
		baseline.Messages = append(baseline.Messages, m.ToAPI())
	}

	// bring current clients up to the snapshot before the joiner is added
	for _, m := range msgs {
		if m.SeqId > r.lastSeq {
			r.deliver(m)
		}
	}

	return baseline, nil
}

func (r *Room) handleLeave(leaveMsg *ClientMessage) {
	client := leaveMsg.client

	if leaveMsg.Leave.Unsubscribe {
		r.log.Printf("unsubscribing user %d from room %q", leaveMsg.GetUserId(), r.externalId)
		ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
		defer cancel()

		if err := r.db.DeactivateParticipant(ctx, r.id, leaveMsg.GetUserId()); err != nil {
			r.log.Println("DeactivateParticipant:", err)
			client.queueMessage(ErrInternalError(leaveMsg.Id))
			return
		}

		// remove every session of the user; the participant change
		// notification reaches the remaining clients
		r.removeAllClientsForUser(leaveMsg.GetUserId())
		client.queueMessage(NoErrOK(leaveMsg.Id, nil))
		r.broadcastPresence(leaveMsg.GetUserId(), false, nil)
		return
	}

	r.removeClient(client)
	if leaveMsg.Id != 0 {
		// the leave came from the user rather than a closed connection
		client.queueMessage(NoErrOK(leaveMsg.Id, nil))
	}

	// notify all clients user is offline
	// if no sessions for user in the room
	if _, ok := r.getUserClients(client.user.Id); !ok {
		r.broadcastPresence(client.user.Id, false, client)
	}
}

func (r *Room) broadcastPresence(userId int, present bool, skip *Client) {
	r.broadcast(&ServerMessage{
		Notification: &Notification{
			Presence: &Presence{
				Present: present,
				RoomId:  r.externalId,
				UserId:  userId,
			},
		},
		SkipClient: skip,
	})
}

func (r *Room) handlePublish(msg *ClientMessage) {
	c := msg.client
	content := strings.TrimSpace(msg.Publish.Content)
	if content == "" {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	userId := msg.GetUserId()
	saved, err := r.db.CreateMessage(ctx, database.CreateMessageParams{
		RoomId:  r.id,
		UserId:  &userId,
		Content: content,
		Role:    string(types.RoleUser),
	})
	if err != nil {
		r.log.Println("CreateMessage:", err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}
	saved.Username = c.user.Username
	saved.EmailAddress = c.user.EmailAddress

	// clients receive the message through the insert notification
	c.queueMessage(NoErrAccepted(msg.Id, saved.ToAPI()))

	if !assistant.ShouldRespond(content) || r.cs.turns == nil {
		return
	}

	room := r.info
	req := assistant.TurnRequest{
		Message:          content,
		Model:            msg.Publish.AiModel,
		TriggerMessageId: saved.Id,
	}
	r.cs.runTurn(func(ctx context.Context) {
		if _, err := r.cs.turns.RunTurn(ctx, room, req); err != nil {
			r.log.Printf("assistant turn in room %q: %v", r.externalId, err)
			c.queueMessage(ErrTurnFailed(msg.Id, assistant.FailureReason(err)))
		}
	})
}

func (r *Room) handleNotification(n database.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	switch n.Channel {
	case database.ChannelMessageInserted:
		r.handleMessageInserted(ctx, n.Id)
	case database.ChannelParticipantChanged:
		r.handleParticipantChanged(ctx, n.Id)
	case database.ChannelResync:
		r.catchUp(ctx)
	}
}

func (r *Room) handleMessageInserted(ctx context.Context, messageId int) {
	msg, err := r.db.GetMessageById(ctx, messageId)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			r.log.Println("GetMessageById:", err)
		}
		return
	}

	switch {
	case msg.SeqId <= r.lastSeq:
		// already delivered
	case msg.SeqId == r.lastSeq+1:
		r.deliver(msg)
	default:
		// notifications were missed, fetch everything after the last seq
		r.catchUp(ctx)
	}
}

func (r *Room) catchUp(ctx context.Context) {
	msgs, err := r.db.ListMessagesAfter(ctx, r.id, r.lastSeq)
	if err != nil {
		r.log.Println("ListMessagesAfter:", err)
		return
	}

	for _, m := range msgs {
		if m.SeqId > r.lastSeq {
			r.deliver(m)
		}
	}
}

func (r *Room) deliver(m database.Message) {
	r.lastSeq = m.SeqId
	apiMsg := m.ToAPI()

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: m.CreatedAt},
		Message:     &apiMsg,
	})
}

func (r *Room) handleParticipantChanged(ctx context.Context, participantId int) {
	p, err := r.db.GetParticipant(ctx, participantId)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			r.log.Println("GetParticipant:", err)
		}
		return
	}

	apiParticipant := p.ToAPI()
	_, apiParticipant.IsPresent = r.getUserClients(p.AccountId)

	r.broadcast(&ServerMessage{
		Notification: &Notification{
			ParticipantChange: &ParticipantChange{
				RoomId:      r.externalId,
				Participant: apiParticipant,
			},
		},
	})
}

func (r *Room) handleTyping(ev broadcast.Event) {
	r.broadcast(&ServerMessage{
		Notification: &Notification{
			Typing: &TypingNotice{
				RoomId:      r.externalId,
				TypingEvent: ev.Typing,
			},
		},
		SkipUserId: ev.Typing.UserId,
	})
}

func (r *Room) addClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	r.clients[c] = struct{}{}
	if r.userMap[c.user.Id] == nil {
		r.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	r.userMap[c.user.Id][c] = struct{}{}

	c.addRoom(r)
}

func (r *Room) getClient(c *Client) (*Client, bool) {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	_, ok := r.clients[c]
	if !ok {
		return nil, false
	}
	return c, true
}

func (r *Room) getUserClients(userId int) (map[*Client]struct{}, bool) {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	clients, ok := r.userMap[userId]
	return clients, ok
}

// deleteClient drops the client from the room's indexes. The caller holds
// clientLock.
func (r *Room) deleteClient(c *Client) {
	delete(r.clients, c)
	if userClients, ok := r.userMap[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(r.userMap, c.user.Id)
		}
	}
}

func (r *Room) removeClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	// check if the client is in the room
	if _, ok := r.clients[c]; !ok {
		r.log.Printf("client %s not found in room %q", c.id, r.externalId)
		return
	}

	r.deleteClient(c)
	c.delRoom(r.externalId)
	r.log.Printf("removed client %s from room %q", c.id, r.externalId)

	// if the client is the last one in the room, start the kill timer
	if len(r.clients) == 0 {
		r.log.Printf("no clients in %q, starting kill timer", r.externalId)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) removeAllClientsForUser(userId int) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if userClients, ok := r.userMap[userId]; ok {
		for client := range userClients {
			delete(r.clients, client)
			client.delRoom(r.externalId)
		}
		delete(r.userMap, userId)
	}

	r.log.Printf("removed all clients for user %d from room %q", userId, r.externalId)

	// if the user is the last one in the room, start the kill timer
	if len(r.clients) == 0 {
		r.log.Printf("no clients in %q, starting kill timer", r.externalId)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) resetIdleTimer() {
	r.clientLock.RLock()
	empty := len(r.clients) == 0
	r.clientLock.RUnlock()

	if empty && r.killTimer != nil {
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) broadcast(msg *ServerMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = Now()
	}

	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	for client := range r.clients {
		if client == msg.SkipClient {
			continue
		}
		if msg.SkipUserId != 0 && client.user.Id == msg.SkipUserId {
			continue
		}

		client.queueMessage(msg)
	}
}
