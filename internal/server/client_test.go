package server

import (
	"testing"
	"time"

	"github.com/npezzotti/symposium/internal/database"
	"github.com/npezzotti/symposium/internal/stats"
	"github.com/npezzotti/symposium/internal/testutil"
	"github.com/npezzotti/symposium/internal/types"
	"github.com/stretchr/testify/assert"
)

func Test_queueMessage(t *testing.T) {
	t.Run("successful queue", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		res := c.queueMessage(&ServerMessage{})
		assert.True(t, res, "expected queueMessage to return true when channel is not full")

		select {
		case msg := <-c.send:
			assert.NotNil(t, msg, "expected a message to be sent to the client")
		default:
			t.Error("expected a message to be sent to the client, but none was sent")
		}
	})
	t.Run("channel full", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		c.send <- &ServerMessage{} // Pre-fill the send channel to simulate a full channel
		res := c.queueMessage(&ServerMessage{})
		assert.False(t, res, "expected queueMessage to return false when channel is full")
	})
}

func Test_serializeMessage(t *testing.T) {
	message := &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        1,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: 200,
			Data:         "test data",
		},
	}

	expected := `{"id":1,"timestamp":"` + message.Timestamp.Format(time.RFC3339Nano) +
		`","response":{"response_code":200,"data":"test data"}}`

	bytes, err := serializeMessage(message)
	assert.NoError(t, err, "expected no error during serialization")
	assert.Equal(t, expected, string(bytes), "expected serialized message to match the expected format")
}

func Test_stopClient(t *testing.T) {
	c := &Client{
		stop: make(chan struct{}),
	}

	c.stopClient()
	assert.NotPanics(t, c.stopClient, "expected a second stop to be a no-op")

	select {
	case <-c.stop:
		// Channel is closed as expected
	default:
		t.Error("expected stop channel to be closed")
	}
}

func TestNewClient(t *testing.T) {
	cs := newTestChatServer(t, &database.MockChatRepository{}, &stats.MockStatsUpdater{})
	a := NewClient(types.User{Id: 1}, nil, cs, testutil.TestLogger(t))
	b := NewClient(types.User{Id: 1}, nil, cs, testutil.TestLogger(t))

	assert.NotEmpty(t, a.id)
	assert.NotEqual(t, a.id, b.id, "expected every connection to get its own id")
	assert.NotNil(t, a.send)
	assert.NotNil(t, a.rooms)
	assert.NotNil(t, a.stop)
}

func Test_leaveAllRooms(t *testing.T) {
	rooms := []*Room{
		{
			externalId: "room1",
			leaveChan:  make(chan *ClientMessage, 1),
		},
		{
			externalId: "room2",
			leaveChan:  make(chan *ClientMessage, 1),
		},
	}

	c := &Client{
		user:  types.User{Id: 3},
		rooms: make(map[string]*Room),
	}

	for _, room := range rooms {
		c.addRoom(room)
	}

	c.leaveAllRooms()

	for _, room := range rooms {
		select {
		case msg := <-room.leaveChan:
			assert.NotNil(t, msg.Leave, "expected leave message")
			assert.Equal(t, room.externalId, msg.Leave.RoomId, "expected leave message for room %s", room.externalId)
			assert.False(t, msg.Leave.Unsubscribe, "expected a disconnect to keep the participant active")
			assert.Equal(t, c.user.Id, msg.UserId, "expected leave message to include user ID %d", c.user.Id)
			assert.Equal(t, c, msg.client, "expected leave message to include client")
		default:
			t.Errorf("expected leave message to be sent for room %s, but it was not", room.externalId)
		}
	}
}

func Test_joinRoom(t *testing.T) {
	t.Run("successful join", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockChatRepository{}, &stats.MockStatsUpdater{})
		c := NewClient(types.User{Id: 1, Username: "testuser"}, nil, cs, testutil.TestLogger(t))

		joinMsg := &ClientMessage{
			BaseMessage: BaseMessage{Id: 1, Timestamp: Now()},
			Join:        &Join{RoomId: "testroom"},
			UserId:      c.user.Id,
			client:      c,
		}

		c.joinRoom(joinMsg)

		select {
		case msg := <-cs.joinChan:
			assert.Equal(t, joinMsg, msg, "expected join message to be forwarded to the chat server")
		default:
			t.Error("expected join message to be sent to chat server join channel, but it was not")
		}
	})

	t.Run("join room channel full", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockChatRepository{}, &stats.MockStatsUpdater{})
		cs.joinChan = make(chan *ClientMessage, 1)

		c := NewClient(types.User{Id: 1, Username: "testuser"}, nil, cs, testutil.TestLogger(t))
		c.chatServer.joinChan <- &ClientMessage{}

		c.joinRoom(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1, Timestamp: Now()},
			Join:        &Join{RoomId: "testroom"},
			client:      c,
		})

		select {
		case msg := <-c.send:
			assert.Equal(t, 1, msg.Id, "expected response ID to match join message ID")
			assert.Equal(t, 503, msg.Response.ResponseCode, "expected response code to be 503")
		default:
			t.Error("expected a message to be sent to the client, but none was sent")
		}
	})
}

func Test_leaveRoom(t *testing.T) {
	t.Run("leave room success", func(t *testing.T) {
		c := &Client{
			user:  types.User{Id: 1, Username: "testuser"},
			rooms: make(map[string]*Room),
		}

		room := &Room{
			externalId: "testroom",
			leaveChan:  make(chan *ClientMessage, 1),
		}
		c.addRoom(room)

		c.leaveRoom(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1, Timestamp: Now()},
			Leave:       &Leave{RoomId: room.externalId, Unsubscribe: true},
			UserId:      c.user.Id,
			client:      c,
		})

		select {
		case msg := <-room.leaveChan:
			assert.Equal(t, 1, msg.Id, "expected leave message id to match")
			assert.True(t, msg.Leave.Unsubscribe)
			assert.Equal(t, c, msg.client, "expected leave message to have correct client reference")
		default:
			t.Error("expected message to be sent to room leave channel")
		}
	})

	t.Run("leave room not found", func(t *testing.T) {
		c := &Client{
			user:  types.User{Id: 1, Username: "testuser"},
			rooms: make(map[string]*Room),
			send:  make(chan *ServerMessage, 1),
		}

		c.leaveRoom(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1, Timestamp: Now()},
			Leave:       &Leave{RoomId: "notfound"},
			client:      c,
		})

		select {
		case msg := <-c.send:
			assert.Equal(t, 1, msg.Id, "expected response id to match leave message id")
			assert.Equal(t, 404, msg.Response.ResponseCode, "expected response code to be 404")
		default:
			t.Error("expected a message to be sent to the client, but none was sent")
		}
	})

	t.Run("room unavailable", func(t *testing.T) {
		room := &Room{
			externalId: "unavailable",
			leaveChan:  make(chan *ClientMessage, 1),
		}
		room.leaveChan <- &ClientMessage{}

		c := &Client{
			user:  types.User{Id: 1, Username: "testuser"},
			rooms: make(map[string]*Room),
			send:  make(chan *ServerMessage, 1),
			log:   testutil.TestLogger(t),
		}
		c.addRoom(room)

		c.leaveRoom(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1, Timestamp: Now()},
			Leave:       &Leave{RoomId: room.externalId},
			client:      c,
		})

		select {
		case msg := <-c.send:
			assert.Equal(t, 503, msg.Response.ResponseCode, "expected response code to be 503")
		default:
			t.Error("expected a message to be sent to the client, but none was sent")
		}
	})
}

func Test_dispatch(t *testing.T) {
	newClientInRoom := func(t *testing.T, chanSize int) (*Client, *Room) {
		room := &Room{
			id:            1,
			externalId:    "abc123",
			clientMsgChan: make(chan *ClientMessage, chanSize),
		}
		c := &Client{
			user:  types.User{Id: 1, Username: "alice"},
			rooms: make(map[string]*Room),
			send:  make(chan *ServerMessage, 1),
			log:   testutil.TestLogger(t),
		}
		c.addRoom(room)
		return c, room
	}

	t.Run("publish to joined room", func(t *testing.T) {
		c, room := newClientInRoom(t, 1)
		msg := &ClientMessage{
			BaseMessage: BaseMessage{Id: 2},
			Publish:     &Publish{RoomId: "abc123", Content: "hello"},
			client:      c,
		}

		c.dispatch(msg)

		select {
		case got := <-room.clientMsgChan:
			assert.Equal(t, msg, got)
		default:
			t.Error("expected publish to reach the room")
		}
	})

	t.Run("publish to room not joined", func(t *testing.T) {
		c, _ := newClientInRoom(t, 1)
		c.dispatch(&ClientMessage{
			BaseMessage: BaseMessage{Id: 2},
			Publish:     &Publish{RoomId: "other", Content: "hello"},
			client:      c,
		})

		msg := <-c.send
		assert.Equal(t, 404, msg.Response.ResponseCode)
	})

	t.Run("publish with room queue full", func(t *testing.T) {
		c, room := newClientInRoom(t, 1)
		room.clientMsgChan <- &ClientMessage{}

		c.dispatch(&ClientMessage{
			BaseMessage: BaseMessage{Id: 2},
			Publish:     &Publish{RoomId: "abc123", Content: "hello"},
			client:      c,
		})

		msg := <-c.send
		assert.Equal(t, 503, msg.Response.ResponseCode)
	})

	t.Run("empty message", func(t *testing.T) {
		c, _ := newClientInRoom(t, 1)
		c.dispatch(&ClientMessage{BaseMessage: BaseMessage{Id: 4}, client: c})

		msg := <-c.send
		assert.Equal(t, 4, msg.Id)
		assert.Equal(t, 400, msg.Response.ResponseCode)
	})
}

func Test_publishTyping(t *testing.T) {
	t.Run("publishes to the bus", func(t *testing.T) {
		bus := &fakeBus{}
		cs := newTestChatServerWith(t, &database.MockChatRepository{}, &stats.MockStatsUpdater{}, nil, bus)

		c := NewClient(types.User{Id: 2, EmailAddress: "bob@example.com"}, nil, cs, testutil.TestLogger(t))
		c.addRoom(&Room{id: 9, externalId: "abc123"})

		c.dispatch(&ClientMessage{
			Typing: &Typing{RoomId: "abc123", IsTyping: true},
			client: c,
		})

		published := bus.published()
		if assert.Len(t, published, 1) {
			assert.Equal(t, 9, published[0].RoomId)
			assert.Equal(t, types.TypingEvent{UserId: 2, UserName: "bob", IsTyping: true}, published[0].Typing)
		}
		assert.Len(t, c.send, 0, "expected no response for typing events")
	})

	t.Run("delivers locally without a bus", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockChatRepository{}, &stats.MockStatsUpdater{})

		c := NewClient(types.User{Id: 2, Username: "bob"}, nil, cs, testutil.TestLogger(t))
		c.addRoom(&Room{id: 9, externalId: "abc123"})

		c.dispatch(&ClientMessage{
			Typing: &Typing{RoomId: "abc123", IsTyping: false},
			client: c,
		})

		select {
		case ev := <-cs.typingChan:
			assert.Equal(t, 9, ev.RoomId)
			assert.Equal(t, "bob", ev.Typing.UserName)
			assert.False(t, ev.Typing.IsTyping)
		default:
			t.Error("expected typing event to be queued on the chat server")
		}
	})

	t.Run("room not joined", func(t *testing.T) {
		bus := &fakeBus{}
		cs := newTestChatServerWith(t, &database.MockChatRepository{}, &stats.MockStatsUpdater{}, nil, bus)
		c := NewClient(types.User{Id: 2}, nil, cs, testutil.TestLogger(t))

		c.dispatch(&ClientMessage{
			BaseMessage: BaseMessage{Id: 5},
			Typing:      &Typing{RoomId: "abc123", IsTyping: true},
			client:      c,
		})

		msg := <-c.send
		assert.Equal(t, 404, msg.Response.ResponseCode)
		assert.Empty(t, bus.published())
	})
}

func Test_addRoom_delRoom_getRoom(t *testing.T) {
	c := &Client{
		rooms: make(map[string]*Room),
	}

	room := &Room{
		externalId: "testroom",
	}

	c.addRoom(room)
	r := c.getRoom(room.externalId)
	assert.NotNil(t, r, "expected room to not be nil after adding")
	assert.Equal(t, room.externalId, r.externalId, "expected room external id to match")

	c.delRoom(r.externalId)
	assert.Nil(t, c.getRoom(room.externalId), "expected room to be removed after deletion")
}
