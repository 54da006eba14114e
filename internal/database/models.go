package database

import "time"

type User struct {
	Id           int
	Username     string
	EmailAddress string
	AvatarURL    string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Room struct {
	Id                 int
	ExternalId         string
	Name               string
	OwnerId            int
	AiModel            string
	PaymentModel       string
	MaxParticipants    int
	PersonaType        string
	PersonaName        string
	PersonaDescription string
	IsActive           bool
	SeqId              int
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Participants       []Participant
}

type RoomSummary struct {
	Room
	ParticipantCount int
	LastMessage      *Message
}

type Participant struct {
	Id           int
	RoomId       int
	AccountId    int
	Username     string
	EmailAddress string
	AvatarURL    string
	IsActive     bool
	JoinedAt     time.Time
}

type Message struct {
	Id        int
	SeqId     int
	RoomId    int
	UserId    *int
	Content   string
	Role      string
	CostCents int
	CreatedAt time.Time
	// author profile, empty for assistant and system messages
	Username     string
	EmailAddress string
}

type PresetPersona struct {
	Id           int
	Name         string
	Description  string
	SystemPrompt string
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type UpdateAccountParams struct {
	UserId       int
	Username     string
	AvatarURL    string
	PasswordHash string
}

type CreateRoomParams struct {
	Name               string
	ExternalId         string
	OwnerId            int
	AiModel            string
	PaymentModel       string
	MaxParticipants    int
	PersonaType        string
	PersonaName        string
	PersonaDescription string
}

type CreateMessageParams struct {
	RoomId    int
	UserId    *int
	Content   string
	Role      string
	CostCents int
}
