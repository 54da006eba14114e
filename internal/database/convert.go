package database

import "github.com/npezzotti/symposium/internal/types"

func (u User) ToAPI() types.User {
	return types.User{
		Id:           u.Id,
		Username:     u.Username,
		EmailAddress: u.EmailAddress,
		AvatarURL:    u.AvatarURL,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func (r Room) ToAPI() types.Room {
	room := types.Room{
		Id:                 r.Id,
		Name:               r.Name,
		ExternalId:         r.ExternalId,
		OwnerId:            r.OwnerId,
		AiModel:            r.AiModel,
		PaymentModel:       types.PaymentModel(r.PaymentModel),
		MaxParticipants:    r.MaxParticipants,
		PersonaType:        types.PersonaType(r.PersonaType),
		PersonaName:        r.PersonaName,
		PersonaDescription: r.PersonaDescription,
		IsActive:           r.IsActive,
		SeqId:              r.SeqId,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}

	for _, p := range r.Participants {
		room.Participants = append(room.Participants, p.ToAPI())
	}

	return room
}

func (s RoomSummary) ToAPI() types.RoomSummary {
	summary := types.RoomSummary{
		Room:             s.Room.ToAPI(),
		ParticipantCount: s.ParticipantCount,
		LastActivity:     s.UpdatedAt,
	}

	if s.LastMessage != nil {
		msg := s.LastMessage.ToAPI()
		summary.LastMessage = &msg
		summary.LastActivity = msg.Timestamp
	}

	return summary
}

func (p Participant) ToAPI() types.Participant {
	return types.Participant{
		Id:     p.Id,
		RoomId: p.RoomId,
		User: types.User{
			Id:           p.AccountId,
			Username:     p.Username,
			EmailAddress: p.EmailAddress,
			AvatarURL:    p.AvatarURL,
		},
		IsActive: p.IsActive,
		JoinedAt: p.JoinedAt,
	}
}

func (m Message) ToAPI() types.Message {
	msg := types.Message{
		Id:        m.Id,
		SeqId:     m.SeqId,
		RoomId:    m.RoomId,
		UserId:    m.UserId,
		Content:   m.Content,
		Role:      types.Role(m.Role),
		CostCents: m.CostCents,
		Timestamp: m.CreatedAt,
	}

	if m.UserId != nil {
		msg.UserName = types.DisplayName(m.Username, m.EmailAddress)
	}

	return msg
}

func (p PresetPersona) ToAPI() types.PresetPersona {
	return types.PresetPersona{
		Id:           p.Id,
		Name:         p.Name,
		Description:  p.Description,
		SystemPrompt: p.SystemPrompt,
	}
}
