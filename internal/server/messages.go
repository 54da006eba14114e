package server

import (
	"net/http"
	"time"

	"github.com/npezzotti/symposium/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	Publish *Publish `json:"publish,omitempty"`
	Join    *Join    `json:"join,omitempty"`
	Leave   *Leave   `json:"leave,omitempty"`
	Typing  *Typing  `json:"typing,omitempty"`
	UserId  int      `json:"-"`
	client  *Client  `json:"-"`
}

// GetUserId returns the id of the user that sent the message, or 0 when the
// message was generated by the server.
func (cm *ClientMessage) GetUserId() int {
	if cm.UserId != 0 {
		return cm.UserId
	}

	if cm.client != nil {
		return cm.client.user.Id
	}

	return 0
}

type Publish struct {
	RoomId  string `json:"room_id"`
	Content string `json:"content"`
	AiModel string `json:"ai_model,omitempty"`
}

type Join struct {
	RoomId string `json:"room_id"`
}

type Leave struct {
	Unsubscribe bool   `json:"unsubscribe,omitempty"`
	RoomId      string `json:"room_id"`
}

type Typing struct {
	RoomId   string `json:"room_id"`
	IsTyping bool   `json:"is_typing"`
}

type ServerMessage struct {
	BaseMessage
	Response     *Response      `json:"response,omitempty"`
	Message      *types.Message `json:"message,omitempty"`
	Notification *Notification  `json:"notification,omitempty"`
	SkipClient   *Client        `json:"-"`
	// SkipUserId drops the message for every connection of that user.
	SkipUserId int `json:"-"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

// Baseline is the room snapshot returned when joining.
type Baseline struct {
	Room     types.Room      `json:"room"`
	Messages []types.Message `json:"messages"`
}

type Notification struct {
	Presence          *Presence          `json:"presence,omitempty"`
	ParticipantChange *ParticipantChange `json:"participant_change,omitempty"`
	Typing            *TypingNotice      `json:"typing,omitempty"`
	RoomDeleted       *RoomDeleted       `json:"room_deleted,omitempty"`
}

type Presence struct {
	Present bool   `json:"present"`
	UserId  int    `json:"user_id"`
	RoomId  string `json:"room_id"`
}

type ParticipantChange struct {
	RoomId      string            `json:"room_id"`
	Participant types.Participant `json:"participant"`
}

type TypingNotice struct {
	RoomId string `json:"room_id"`
	types.TypingEvent
}

type RoomDeleted struct {
	RoomId string `json:"room_id"`
}

func newResponse(id, code int, errMsg string, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        errMsg,
			Data:         data,
		},
	}
}

func NoErrOK(id int, data any) *ServerMessage {
	return newResponse(id, http.StatusOK, "", data)
}

func NoErrAccepted(id int, data any) *ServerMessage {
	return newResponse(id, http.StatusAccepted, "", data)
}

func ErrRoomNotFound(id int) *ServerMessage {
	return newResponse(id, http.StatusNotFound, "room not found", nil)
}

func ErrRoomFull(id int) *ServerMessage {
	return newResponse(id, http.StatusForbidden, "room is full", nil)
}

func ErrInternalError(id int) *ServerMessage {
	return newResponse(id, http.StatusInternalServerError, "internal server error", nil)
}

// ErrTurnFailed reports a failed assistant reply. The user's message was
// already stored.
func ErrTurnFailed(id int, reason string) *ServerMessage {
	return newResponse(id, http.StatusInternalServerError, reason, nil)
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return newResponse(id, http.StatusServiceUnavailable, "service unavailable", nil)
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := newResponse(0, http.StatusBadRequest, "invalid message format", nil)
	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
