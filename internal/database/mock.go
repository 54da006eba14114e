package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

var _ ChatRepository = (*MockChatRepository)(nil)

func (m *MockChatRepository) Ping(ctx context.Context) error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) UpdateAccount(ctx context.Context, params UpdateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetAccountById(ctx context.Context, accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetAccountByEmail(ctx context.Context, email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockChatRepository) GetRoomById(ctx context.Context, roomId int) (Room, error) {
	args := m.Called(roomId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockChatRepository) GetRoomByExternalId(ctx context.Context, externalId string) (Room, error) {
	args := m.Called(externalId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockChatRepository) DeleteRoom(ctx context.Context, roomId int) error {
	args := m.Called(roomId)
	return args.Error(0)
}
func (m *MockChatRepository) ListJoinedRooms(ctx context.Context, accountId int) ([]RoomSummary, error) {
	args := m.Called(accountId)
	return args.Get(0).([]RoomSummary), args.Error(1)
}
func (m *MockChatRepository) UpsertParticipant(ctx context.Context, roomId, accountId int) (Participant, error) {
	args := m.Called(roomId, accountId)
	return args.Get(0).(Participant), args.Error(1)
}
func (m *MockChatRepository) DeactivateParticipant(ctx context.Context, roomId, accountId int) error {
	args := m.Called(roomId, accountId)
	return args.Error(0)
}
func (m *MockChatRepository) GetParticipant(ctx context.Context, participantId int) (Participant, error) {
	args := m.Called(participantId)
	return args.Get(0).(Participant), args.Error(1)
}
func (m *MockChatRepository) ListActiveParticipants(ctx context.Context, roomId int) ([]Participant, error) {
	args := m.Called(roomId)
	return args.Get(0).([]Participant), args.Error(1)
}
func (m *MockChatRepository) CountActiveParticipants(ctx context.Context, roomId int) (int, error) {
	args := m.Called(roomId)
	return args.Int(0), args.Error(1)
}
func (m *MockChatRepository) IsActiveParticipant(ctx context.Context, roomId, accountId int) (bool, error) {
	args := m.Called(roomId, accountId)
	return args.Bool(0), args.Error(1)
}
func (m *MockChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) GetMessageById(ctx context.Context, messageId int) (Message, error) {
	args := m.Called(messageId)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) GetMessages(ctx context.Context, roomId, since, before, limit int) ([]Message, error) {
	args := m.Called(roomId, since, before, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockChatRepository) ListMessagesAfter(ctx context.Context, roomId, afterSeq int) ([]Message, error) {
	args := m.Called(roomId, afterSeq)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockChatRepository) GetRecentMessages(ctx context.Context, roomId, limit int) ([]Message, error) {
	args := m.Called(roomId, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockChatRepository) GetPresetPersona(ctx context.Context, name string) (PresetPersona, error) {
	args := m.Called(name)
	return args.Get(0).(PresetPersona), args.Error(1)
}
func (m *MockChatRepository) ListPresetPersonas(ctx context.Context) ([]PresetPersona, error) {
	args := m.Called()
	return args.Get(0).([]PresetPersona), args.Error(1)
}
