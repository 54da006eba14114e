package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/npezzotti/symposium/internal/assistant"
	"github.com/npezzotti/symposium/internal/database"
	"github.com/npezzotti/symposium/internal/types"
)

const (
	defaultRoomCapacity = 5
	maxRoomCapacity     = 20
)

type CreateRoomRequest struct {
	Name               string             `json:"name"`
	AiModel            string             `json:"ai_model"`
	PaymentModel       types.PaymentModel `json:"payment_model"`
	MaxParticipants    int                `json:"max_participants"`
	PersonaType        types.PersonaType  `json:"persona_type"`
	PersonaName        string             `json:"persona_name"`
	PersonaDescription string             `json:"persona_description"`
}

type CreateMessageRequest struct {
	RoomId  string `json:"room_id"`
	Content string `json:"content"`
}

// roomParams validates req and fills in defaults. Preset personas are
// resolved against the library so a room never points at an unknown preset.
func (s *SymposiumApp) roomParams(r *http.Request, req CreateRoomRequest) (database.CreateRoomParams, *ApiError) {
	params := database.CreateRoomParams{
		Name:            strings.TrimSpace(req.Name),
		AiModel:         req.AiModel,
		PaymentModel:    string(req.PaymentModel),
		MaxParticipants: req.MaxParticipants,
		PersonaType:     string(req.PersonaType),
	}

	if params.Name == "" {
		return params, NewValidationError("name is required")
	}

	if params.AiModel == "" {
		params.AiModel = assistant.DefaultModel
	} else if !assistant.KnownModel(params.AiModel) {
		return params, NewValidationError("unsupported ai_model")
	}

	if params.PaymentModel == "" {
		params.PaymentModel = string(types.PaymentHostPays)
	} else if !req.PaymentModel.Valid() {
		return params, NewValidationError("invalid payment_model")
	}

	if params.MaxParticipants == 0 {
		params.MaxParticipants = defaultRoomCapacity
	} else if params.MaxParticipants < 0 || params.MaxParticipants > maxRoomCapacity {
		return params, NewValidationError("max_participants must be between 1 and 20")
	}

	if params.PersonaType == "" {
		params.PersonaType = string(types.PersonaNone)
	} else if !req.PersonaType.Valid() {
		return params, NewValidationError("invalid persona_type")
	}

	name := strings.TrimSpace(req.PersonaName)
	description := strings.TrimSpace(req.PersonaDescription)

	switch types.PersonaType(params.PersonaType) {
	case types.PersonaPreset:
		if name == "" {
			return params, NewValidationError("persona_name is required for a preset persona")
		}

		preset, err := s.db.GetPresetPersona(r.Context(), name)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return params, NewValidationError("unknown preset persona")
			}
			return params, NewInternalServerError(err)
		}

		params.PersonaName = preset.Name
		params.PersonaDescription = preset.Description
	case types.PersonaCustom:
		if name == "" || description == "" {
			return params, NewValidationError("persona_name and persona_description are required for a custom persona")
		}

		params.PersonaName = name
		params.PersonaDescription = description
	}

	return params, nil
}

func (s *SymposiumApp) createRoom(w http.ResponseWriter, r *http.Request) {
	var createRoomReq CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&createRoomReq); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	params, errResp := s.roomParams(r, createRoomReq)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	sid, err := s.generateShortId()
	if err != nil {
		s.log.Print("generateShortId:", err)
		s.writeError(w, NewInternalServerError(err))
		return
	}

	params.OwnerId = userId
	params.ExternalId = sid

	newRoom, err := s.db.CreateRoom(r.Context(), params)
	if err != nil {
		s.log.Printf("create room: %v", err)
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusCreated, newRoom.ToAPI())
}

func (s *SymposiumApp) getRoom(w http.ResponseWriter, r *http.Request) {
	if _, ok := UserId(r.Context()); !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	externalId := r.URL.Query().Get("id")
	if externalId == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	room, err := s.db.GetRoomByExternalId(r.Context(), externalId)
	if err != nil {
		s.writeError(w, lookupError(err))
		return
	}

	participants, err := s.db.ListActiveParticipants(r.Context(), room.Id)
	if err != nil {
		s.log.Printf("list participants: %v", err)
		s.writeError(w, NewInternalServerError(err))
		return
	}
	room.Participants = participants

	s.writeJson(w, http.StatusOK, room.ToAPI())
}

func (s *SymposiumApp) deleteRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	externalId := r.URL.Query().Get("id")
	if externalId == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	room, err := s.db.GetRoomByExternalId(r.Context(), externalId)
	if err != nil {
		s.writeError(w, lookupError(err))
		return
	}

	if room.OwnerId != userId {
		s.writeError(w, NewForbiddenError())
		return
	}

	if err := s.db.DeleteRoom(r.Context(), room.Id); err != nil {
		s.log.Println("delete room:", err)
		s.writeError(w, NewInternalServerError(err))
		return
	}

	if err := s.cs.UnloadRoom(r.Context(), room.ExternalId, true); err != nil {
		s.log.Println("unload room:", err)
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *SymposiumApp) getJoinedRooms(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	dbRooms, err := s.db.ListJoinedRooms(r.Context(), userId)
	if err != nil {
		s.log.Println("list joined rooms:", err)
		s.writeError(w, NewInternalServerError(err))
		return
	}

	rooms := make([]types.RoomSummary, 0, len(dbRooms))
	for _, room := range dbRooms {
		rooms = append(rooms, room.ToAPI())
	}

	s.writeJson(w, http.StatusOK, rooms)
}

func (s *SymposiumApp) listPersonas(w http.ResponseWriter, r *http.Request) {
	dbPersonas, err := s.db.ListPresetPersonas(r.Context())
	if err != nil {
		s.log.Println("list personas:", err)
		s.writeError(w, NewInternalServerError(err))
		return
	}

	personas := make([]types.PresetPersona, 0, len(dbPersonas))
	for _, p := range dbPersonas {
		personas = append(personas, p.ToAPI())
	}

	s.writeJson(w, http.StatusOK, personas)
}

// memberRoom loads a room by external id and checks that the caller is an
// active participant.
func (s *SymposiumApp) memberRoom(r *http.Request, userId int, externalId string) (database.Room, *ApiError) {
	room, err := s.db.GetRoomByExternalId(r.Context(), externalId)
	if err != nil {
		return database.Room{}, lookupError(err)
	}

	active, err := s.db.IsActiveParticipant(r.Context(), room.Id, userId)
	if err != nil {
		return database.Room{}, NewInternalServerError(err)
	}

	if !active {
		return database.Room{}, NewForbiddenError()
	}

	return room, nil
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}

	return strconv.Atoi(v)
}

func (s *SymposiumApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	externalId := r.URL.Query().Get("room_id")
	if externalId == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	var page [3]int
	for i, key := range []string{"after", "before", "limit"} {
		n, err := queryInt(r, key)
		if err != nil || n < 0 {
			s.writeError(w, NewValidationError("invalid "+key))
			return
		}
		page[i] = n
	}

	room, errResp := s.memberRoom(r, userId, externalId)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	messages, err := s.db.GetMessages(r.Context(), room.Id, page[0], page[1], page[2])
	if err != nil {
		s.log.Println("get messages:", err)
		s.writeError(w, NewInternalServerError(err))
		return
	}

	userMessages := make([]types.Message, 0, len(messages))
	for _, msg := range messages {
		userMessages = append(userMessages, msg.ToAPI())
	}

	s.writeJson(w, http.StatusOK, userMessages)
}

func (s *SymposiumApp) createMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var req CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if req.RoomId == "" {
		s.writeError(w, NewValidationError("room_id is required"))
		return
	}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		s.writeError(w, NewValidationError("content is required"))
		return
	}

	room, errResp := s.memberRoom(r, userId, req.RoomId)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	msg, err := s.db.CreateMessage(r.Context(), database.CreateMessageParams{
		RoomId:  room.Id,
		UserId:  &userId,
		Content: content,
		Role:    string(types.RoleUser),
	})
	if err != nil {
		s.log.Println("create message:", err)
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusCreated, msg.ToAPI())
}
