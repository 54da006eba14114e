package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/npezzotti/symposium/internal/assistant"
	"github.com/npezzotti/symposium/internal/types"
)

type ChatRequest struct {
	RoomId  string `json:"roomId"`
	Message string `json:"message"`
	AiModel string `json:"aiModel"`
}

type ChatResponse struct {
	Content     string      `json:"content"`
	CostCents   int         `json:"cost_cents"`
	Usage       types.Usage `json:"usage"`
	PersonaName string      `json:"persona_name"`
}

// ChatSkippedResponse is returned when the message does not mention the
// assistant.
type ChatSkippedResponse struct {
	Content       *string `json:"content"`
	ShouldRespond bool    `json:"should_respond"`
}

// chat runs one assistant turn for a message the caller has already stored.
// The stored user message is never touched, so a failed turn loses nothing.
func (s *SymposiumApp) chat(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if req.RoomId == "" {
		s.writeError(w, NewValidationError("roomId is required"))
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, NewValidationError("message is required"))
		return
	}

	room, err := s.db.GetRoomByExternalId(r.Context(), req.RoomId)
	if err != nil {
		errResp := lookupError(err)
		if errResp.StatusCode == http.StatusNotFound {
			errResp.Message = "room not found"
		}
		s.writeError(w, errResp)
		return
	}

	// non-members get the same answer as for an unknown room
	active, err := s.db.IsActiveParticipant(r.Context(), room.Id, userId)
	if err != nil {
		s.log.Println("chat: membership:", err)
		s.writeError(w, NewInternalServerError(err))
		return
	}

	if !active {
		errResp := NewNotFoundError()
		errResp.Message = "room not found"
		s.writeError(w, errResp)
		return
	}

	if !assistant.ShouldRespond(req.Message) {
		s.writeJson(w, http.StatusOK, ChatSkippedResponse{})
		return
	}

	if s.turns == nil {
		s.writeError(w, NewCompletionFailedError(assistant.FailureReason(assistant.ErrMissingCredentials), assistant.ErrMissingCredentials))
		return
	}

	res, err := s.turns.RunTurn(r.Context(), room, assistant.TurnRequest{
		Message: req.Message,
		Model:   req.AiModel,
	})
	if err != nil {
		s.log.Printf("chat: room %q: %v", room.ExternalId, err)
		s.writeError(w, NewCompletionFailedError(assistant.FailureReason(err), err))
		return
	}

	if !res.ShouldRespond {
		s.writeJson(w, http.StatusOK, ChatSkippedResponse{})
		return
	}

	s.writeJson(w, http.StatusOK, ChatResponse{
		Content:     res.Content,
		CostCents:   res.CostCents,
		Usage:       res.Usage,
		PersonaName: res.PersonaName,
	})
}
