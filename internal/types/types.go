package types

import (
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type PaymentModel string

const (
	PaymentHostPays   PaymentModel = "host_pays"
	PaymentSharedPool PaymentModel = "shared_pool"
	PaymentPerMessage PaymentModel = "per_message"
)

func (p PaymentModel) Valid() bool {
	switch p {
	case PaymentHostPays, PaymentSharedPool, PaymentPerMessage:
		return true
	}
	return false
}

type PersonaType string

const (
	PersonaNone   PersonaType = "none"
	PersonaPreset PersonaType = "preset"
	PersonaCustom PersonaType = "custom"
)

func (p PersonaType) Valid() bool {
	switch p {
	case PersonaNone, PersonaPreset, PersonaCustom:
		return true
	}
	return false
}

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	AvatarURL    string    `json:"avatar_url,omitempty"`
	Password     string    `json:"-"`
	IsPresent    bool      `json:"is_present,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type Room struct {
	Id                 int           `json:"id"`
	Name               string        `json:"name"`
	ExternalId         string        `json:"external_id"`
	OwnerId            int           `json:"owner_id"`
	AiModel            string        `json:"ai_model"`
	PaymentModel       PaymentModel  `json:"payment_model"`
	MaxParticipants    int           `json:"max_participants"`
	PersonaType        PersonaType   `json:"persona_type"`
	PersonaName        string        `json:"persona_name,omitempty"`
	PersonaDescription string        `json:"persona_description,omitempty"`
	IsActive           bool          `json:"is_active"`
	SeqId              int           `json:"seq_id"`
	Participants       []Participant `json:"participants,omitempty"`
	CreatedAt          time.Time     `json:"created_at,omitempty"`
	UpdatedAt          time.Time     `json:"updated_at,omitempty"`
}

// RoomSummary is a room as listed on the user's home page.
type RoomSummary struct {
	Room
	ParticipantCount int       `json:"participant_count"`
	LastMessage      *Message  `json:"last_message,omitempty"`
	LastActivity     time.Time `json:"last_activity"`
}

type Participant struct {
	Id        int       `json:"id"`
	RoomId    int       `json:"room_id"`
	User      User      `json:"user"`
	IsActive  bool      `json:"is_active"`
	IsPresent bool      `json:"is_present,omitempty"`
	JoinedAt  time.Time `json:"joined_at"`
}

type Message struct {
	Id        int       `json:"id"`
	SeqId     int       `json:"seq_id"`
	RoomId    int       `json:"room_id"`
	UserId    *int      `json:"user_id"`
	UserName  string    `json:"user_name,omitempty"`
	Content   string    `json:"content"`
	Role      Role      `json:"role"`
	CostCents int       `json:"cost_cents"`
	Timestamp time.Time `json:"timestamp"`
}

type PresetPersona struct {
	Id           int    `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	SystemPrompt string `json:"-"`
}

// TypingEvent is the ephemeral payload of the typing broadcast channel.
type TypingEvent struct {
	UserId   int    `json:"user_id"`
	UserName string `json:"user_name"`
	IsTyping bool   `json:"is_typing"`
}

// Usage mirrors the token usage object returned by the completion API.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// DisplayName picks the name shown for a speaker: the profile name, else the
// local part of the email, else "Anonymous".
func DisplayName(name, email string) string {
	if name != "" {
		return name
	}

	if local, _, _ := strings.Cut(email, "@"); local != "" {
		return local
	}

	return "Anonymous"
}
