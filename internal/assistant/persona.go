package assistant

import (
	"context"
	"fmt"
	"log"

	"github.com/npezzotti/symposium/internal/database"
	"github.com/npezzotti/symposium/internal/types"
)

const (
	DefaultSystemPrompt = "You are a helpful AI assistant participating in a collaborative discussion. " +
		"Multiple people may be asking questions and discussing topics together. " +
		"Be concise, helpful, and engaging."

	// CharacterLimitInstruction is appended to every system prompt. The
	// reply itself is never truncated.
	CharacterLimitInstruction = "\n\nIMPORTANT: Always limit your responses to 512 characters maximum. " +
		"This is a hard requirement for maintaining concise and focused dialogue."

	customPersonaFraming = "\n\nPlease engage in this collaborative discussion while staying true to this persona. " +
		"Multiple people may be participating in the conversation, so be aware that different users " +
		"may be asking questions or making comments."
)

type PersonaStore interface {
	GetPresetPersona(ctx context.Context, name string) (database.PresetPersona, error)
}

// PersonaResolver builds the system prompt for a room.
type PersonaResolver struct {
	store PersonaStore
	log   *log.Logger
}

func NewPersonaResolver(store PersonaStore, logger *log.Logger) *PersonaResolver {
	return &PersonaResolver{store: store, log: logger}
}

// ResolveSystemPrompt never fails; any persona that cannot be resolved
// falls back to the default prompt.
func (r *PersonaResolver) ResolveSystemPrompt(ctx context.Context, room database.Room) string {
	prompt := DefaultSystemPrompt

	switch types.PersonaType(room.PersonaType) {
	case types.PersonaPreset:
		if room.PersonaName == "" {
			break
		}

		preset, err := r.store.GetPresetPersona(ctx, room.PersonaName)
		if err != nil {
			r.log.Printf("preset persona %q for room %q: %v", room.PersonaName, room.ExternalId, err)
			break
		}

		if preset.SystemPrompt != "" {
			prompt = preset.SystemPrompt
		}
	case types.PersonaCustom:
		if room.PersonaDescription == "" {
			break
		}

		name := room.PersonaName
		if name == "" {
			name = "a custom persona"
		}
		prompt = fmt.Sprintf("You are %s. %s", name, room.PersonaDescription) + customPersonaFraming
	}

	return prompt + CharacterLimitInstruction
}
