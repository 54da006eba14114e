package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/npezzotti/symposium/internal/assistant"
	"github.com/npezzotti/symposium/internal/broadcast"
	"github.com/npezzotti/symposium/internal/database"
	"github.com/npezzotti/symposium/internal/stats"
)

// TurnRunner produces assistant replies for published messages.
type TurnRunner interface {
	RunTurn(ctx context.Context, room database.Room, req assistant.TurnRequest) (*assistant.TurnResult, error)
}

type unloadRoomRequest struct {
	roomId  string
	deleted bool
}

type stopReq struct {
	done chan struct{}
}

type ChatServer struct {
	log            *log.Logger
	db             database.ChatRepository
	stats          stats.StatsProvider
	turns          TurnRunner
	bus            broadcast.Bus
	joinChan       chan *ClientMessage
	unloadRoomChan chan unloadRoomRequest
	notifyChan     chan database.Notification
	typingChan     chan broadcast.Event
	stop           chan stopReq
	clients        map[*Client]struct{}
	userMap        map[int]map[*Client]struct{}
	clientsLock    sync.RWMutex
	rooms          map[string]*Room
	roomsById      map[int]*Room
	numRooms       int
	roomsLock      sync.RWMutex
	// turnCtx bounds assistant turns; it is cancelled on shutdown
	turnCtx    context.Context
	cancelTurn context.CancelFunc
	turnWg     sync.WaitGroup
}

func NewChatServer(logger *log.Logger, db database.ChatRepository, statsProvider stats.StatsProvider, turns TurnRunner, bus broadcast.Bus) (*ChatServer, error) {
	for _, m := range stats.Metrics {
		statsProvider.RegisterMetric(m)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &ChatServer{
		log:            logger,
		db:             db,
		stats:          statsProvider,
		turns:          turns,
		bus:            bus,
		joinChan:       make(chan *ClientMessage, 256),
		unloadRoomChan: make(chan unloadRoomRequest, 256),
		notifyChan:     make(chan database.Notification, 1024),
		typingChan:     make(chan broadcast.Event, 256),
		stop:           make(chan stopReq),
		clients:        make(map[*Client]struct{}),
		userMap:        make(map[int]map[*Client]struct{}),
		rooms:          make(map[string]*Room),
		roomsById:      make(map[int]*Room),
		turnCtx:        ctx,
		cancelTurn:     cancel,
	}, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case joinMsg := <-cs.joinChan:
			cs.handleJoinRoom(joinMsg)
		case req := <-cs.unloadRoomChan:
			cs.unloadRoom(req.roomId, req.deleted)
		case n := <-cs.notifyChan:
			cs.handleNotification(n)
		case ev := <-cs.typingChan:
			cs.handleTyping(ev)
		case req := <-cs.stop:
			cs.log.Println("shutting down rooms")
			cs.unloadAllRooms()
			close(req.done)
			return
		}
	}
}

// Notify hands a database notification to the server. It blocks while the
// notification queue is full so inserts are never silently dropped.
func (cs *ChatServer) Notify(ctx context.Context, n database.Notification) {
	select {
	case cs.notifyChan <- n:
	case <-ctx.Done():
	}
}

// DeliverTyping hands a typing event from the bus to the server. Events are
// dropped when the queue is full.
func (cs *ChatServer) DeliverTyping(ev broadcast.Event) {
	select {
	case cs.typingChan <- ev:
	default:
		cs.log.Printf("typing queue full, dropping event for room %d", ev.RoomId)
	}
}

func (cs *ChatServer) handleJoinRoom(joinMsg *ClientMessage) {
	if room, ok := cs.getRoom(joinMsg.Join.RoomId); ok {
		select {
		case room.joinChan <- joinMsg:
		default:
			cs.log.Printf("join channel full on room %q", room.externalId)
			joinMsg.client.queueMessage(ErrServiceUnavailable(joinMsg.Id))
		}
		return
	}

	dbRoom, err := cs.db.GetRoomByExternalId(context.Background(), joinMsg.Join.RoomId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			joinMsg.client.queueMessage(ErrRoomNotFound(joinMsg.Id))
		} else {
			cs.log.Println("GetRoomByExternalId:", err)
			joinMsg.client.queueMessage(ErrInternalError(joinMsg.Id))
		}
		return
	}

	room := cs.newRoom(dbRoom)
	cs.addRoom(room.externalId, room)
	room.joinChan <- joinMsg

	go room.start()
}

func (cs *ChatServer) newRoom(dbRoom database.Room) *Room {
	return &Room{
		id:            dbRoom.Id,
		externalId:    dbRoom.ExternalId,
		info:          dbRoom,
		lastSeq:       dbRoom.SeqId,
		cs:            cs,
		db:            cs.db,
		log:           cs.log,
		joinChan:      make(chan *ClientMessage, 256),
		leaveChan:     make(chan *ClientMessage, 256),
		clientMsgChan: make(chan *ClientMessage, 256),
		notifyChan:    make(chan database.Notification, 256),
		typingChan:    make(chan broadcast.Event, 256),
		clients:       make(map[*Client]struct{}),
		userMap:       make(map[int]map[*Client]struct{}),
		exit:          make(chan exitReq, 1),
	}
}

func (cs *ChatServer) handleNotification(n database.Notification) {
	if n.Channel == database.ChannelResync {
		cs.roomsLock.RLock()
		defer cs.roomsLock.RUnlock()

		for _, r := range cs.rooms {
			r.queueNotification(n)
		}
		return
	}

	cs.roomsLock.RLock()
	r, ok := cs.roomsById[n.RoomId]
	cs.roomsLock.RUnlock()
	if !ok {
		// nobody is connected to the room
		return
	}

	r.queueNotification(n)
}

func (cs *ChatServer) handleTyping(ev broadcast.Event) {
	cs.roomsLock.RLock()
	r, ok := cs.roomsById[ev.RoomId]
	cs.roomsLock.RUnlock()
	if !ok {
		return
	}

	select {
	case r.typingChan <- ev:
	default:
		cs.log.Printf("typing channel full on room %q", r.externalId)
	}
}

func (cs *ChatServer) RegisterClient(c *Client) {
	cs.addClient(c)
}

func (cs *ChatServer) DeRegisterClient(c *Client) {
	cs.removeClient(c)
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	cs.clients[c] = struct{}{}
	if cs.userMap[c.user.Id] == nil {
		cs.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	cs.userMap[c.user.Id][c] = struct{}{}
	cs.stats.Incr(stats.NumActiveClients)
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; !ok {
		return
	}

	delete(cs.clients, c)
	if userClients, ok := cs.userMap[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(cs.userMap, c.user.Id)
		}
	}
	cs.stats.Decr(stats.NumActiveClients)
}

func (cs *ChatServer) addRoom(id string, r *Room) {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()

	cs.rooms[id] = r
	cs.roomsById[r.id] = r
	cs.numRooms++
	cs.stats.Incr(stats.NumActiveRooms)
}

func (cs *ChatServer) getRoom(id string) (*Room, bool) {
	cs.roomsLock.RLock()
	defer cs.roomsLock.RUnlock()

	r, ok := cs.rooms[id]
	return r, ok
}

func (cs *ChatServer) removeRoom(id string) {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()

	r, ok := cs.rooms[id]
	if !ok {
		return
	}

	delete(cs.rooms, id)
	if cs.roomsById[r.id] == r {
		delete(cs.roomsById, r.id)
	}
	cs.numRooms--
	cs.stats.Decr(stats.NumActiveRooms)
}

// UnloadRoom asks the server to stop a loaded room. Deleted rooms notify
// their clients first.
func (cs *ChatServer) UnloadRoom(ctx context.Context, roomId string, deleted bool) error {
	if roomId == "" {
		return fmt.Errorf("roomId cannot be empty")
	}

	select {
	case cs.unloadRoomChan <- unloadRoomRequest{roomId: roomId, deleted: deleted}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (cs *ChatServer) unloadRoom(roomId string, deleted bool) {
	r, ok := cs.getRoom(roomId)
	if !ok {
		return
	}

	cs.log.Printf("unloading room %q", roomId)
	cs.removeRoom(roomId)

	done := make(chan string, 1)
	r.exit <- exitReq{deleted: deleted, done: done}
	<-done
}

func (cs *ChatServer) unloadAllRooms() {
	cs.roomsLock.RLock()
	ids := make([]string, 0, len(cs.rooms))
	for id := range cs.rooms {
		ids = append(ids, id)
	}
	cs.roomsLock.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		r, ok := cs.getRoom(id)
		if !ok {
			continue
		}
		cs.removeRoom(id)

		wg.Add(1)
		go func(r *Room) {
			defer wg.Done()
			done := make(chan string, 1)
			r.exit <- exitReq{done: done}
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				cs.log.Printf("room %q did not exit in time", r.externalId)
			}
		}(r)
	}
	wg.Wait()
}

// runTurn runs an assistant turn outside the room loop.
func (cs *ChatServer) runTurn(fn func(ctx context.Context)) {
	cs.turnWg.Add(1)
	go func() {
		defer cs.turnWg.Done()
		fn(cs.turnCtx)
	}()
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")

	cs.clientsLock.RLock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.RUnlock()

	cs.cancelTurn()

	req := stopReq{done: make(chan struct{})}
	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	turnsDone := make(chan struct{})
	go func() {
		cs.turnWg.Wait()
		close(turnsDone)
	}()

	select {
	case <-turnsDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
