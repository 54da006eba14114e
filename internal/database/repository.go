package database

import "context"

type ChatRepository interface {
	Ping(ctx context.Context) error
	CreateAccount(ctx context.Context, params CreateAccountParams) (User, error)
	UpdateAccount(ctx context.Context, params UpdateAccountParams) (User, error)
	GetAccountById(ctx context.Context, accountId int) (User, error)
	GetAccountByEmail(ctx context.Context, email string) (User, error)
	CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error)
	GetRoomById(ctx context.Context, roomId int) (Room, error)
	GetRoomByExternalId(ctx context.Context, externalId string) (Room, error)
	DeleteRoom(ctx context.Context, roomId int) error
	ListJoinedRooms(ctx context.Context, accountId int) ([]RoomSummary, error)
	UpsertParticipant(ctx context.Context, roomId, accountId int) (Participant, error)
	DeactivateParticipant(ctx context.Context, roomId, accountId int) error
	GetParticipant(ctx context.Context, participantId int) (Participant, error)
	ListActiveParticipants(ctx context.Context, roomId int) ([]Participant, error)
	CountActiveParticipants(ctx context.Context, roomId int) (int, error)
	IsActiveParticipant(ctx context.Context, roomId, accountId int) (bool, error)
	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	GetMessageById(ctx context.Context, messageId int) (Message, error)
	GetMessages(ctx context.Context, roomId, since, before, limit int) ([]Message, error)
	ListMessagesAfter(ctx context.Context, roomId, afterSeq int) ([]Message, error)
	GetRecentMessages(ctx context.Context, roomId, limit int) ([]Message, error)
	GetPresetPersona(ctx context.Context, name string) (PresetPersona, error)
	ListPresetPersonas(ctx context.Context) ([]PresetPersona, error)
}
