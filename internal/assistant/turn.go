package assistant

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/npezzotti/symposium/internal/database"
	"github.com/npezzotti/symposium/internal/stats"
	"github.com/npezzotti/symposium/internal/types"
)

type TurnStore interface {
	HistoryStore
	PersonaStore
	CreateMessage(ctx context.Context, params database.CreateMessageParams) (database.Message, error)
}

type TurnRequest struct {
	Message string
	// Model overrides the room's model when set.
	Model string
	// TriggerMessageId is the persisted copy of Message, kept out of the
	// history so the model does not see it twice.
	TriggerMessageId int
}

type TurnResult struct {
	ShouldRespond bool
	Content       string
	CostCents     int
	Usage         types.Usage
	PersonaName   string
	Model         string
	Message       *database.Message
}

// Orchestrator runs one assistant turn: trigger, history, persona,
// completion, pricing and persistence, strictly in that order.
type Orchestrator struct {
	store    TurnStore
	history  *ContextAssembler
	personas *PersonaResolver
	invoker  *Invoker
	stats    stats.StatsProvider
	log      *log.Logger
}

func NewOrchestrator(store TurnStore, invoker *Invoker, statsProvider stats.StatsProvider, logger *log.Logger) *Orchestrator {
	return &Orchestrator{
		store:    store,
		history:  NewContextAssembler(store),
		personas: NewPersonaResolver(store, logger),
		invoker:  invoker,
		stats:    statsProvider,
		log:      logger,
	}
}

// RunTurn produces and stores the assistant reply for a user message. The
// user message must already be persisted; it is never modified here.
func (o *Orchestrator) RunTurn(ctx context.Context, room database.Room, req TurnRequest) (*TurnResult, error) {
	if !ShouldRespond(req.Message) {
		return &TurnResult{ShouldRespond: false}, nil
	}

	turnId := uuid.NewString()
	model := req.Model
	if model == "" {
		model = room.AiModel
	}
	model = NormalizeModel(model)

	o.log.Printf("turn %s: room %q model %s", turnId, room.ExternalId, model)
	o.stats.Incr(stats.NumAssistantTurns)

	res, err := o.runTurn(ctx, room, req, model)
	if err != nil {
		o.stats.Incr(stats.NumAssistantFailures)
		o.log.Printf("turn %s failed: %v", turnId, err)
		return nil, err
	}

	o.stats.Add(stats.TotalCostCents, res.CostCents)
	return res, nil
}

func (o *Orchestrator) runTurn(ctx context.Context, room database.Room, req TurnRequest, model string) (*TurnResult, error) {
	var exclude []int
	if req.TriggerMessageId > 0 {
		exclude = append(exclude, req.TriggerMessageId)
	}

	history, err := o.history.AssembleHistory(ctx, room.Id, exclude...)
	if err != nil {
		return nil, err
	}

	systemPrompt := o.personas.ResolveSystemPrompt(ctx, room)

	completion, err := o.invoker.Invoke(ctx, systemPrompt, history, UserPrompt(req.Message), model)
	if err != nil {
		return nil, err
	}

	cost := Cost(completion.Model, completion.InputTokens, completion.OutputTokens)

	msg, err := o.store.CreateMessage(ctx, database.CreateMessageParams{
		RoomId:    room.Id,
		Content:   completion.Text,
		Role:      string(types.RoleAssistant),
		CostCents: cost,
	})
	if err != nil {
		return nil, fmt.Errorf("save reply: %w", err)
	}

	return &TurnResult{
		ShouldRespond: true,
		Content:       completion.Text,
		CostCents:     cost,
		Usage: types.Usage{
			PromptTokens:     completion.InputTokens,
			CompletionTokens: completion.OutputTokens,
			TotalTokens:      completion.InputTokens + completion.OutputTokens,
		},
		PersonaName: room.PersonaName,
		Model:       completion.Model,
		Message:     &msg,
	}, nil
}

// FailureReason maps a turn error to the message shown to users. Missing
// credentials get their own message so operators can tell it apart.
func FailureReason(err error) string {
	var histErr *HistoryFetchError

	switch {
	case errors.Is(err, ErrMissingCredentials):
		return "completion credentials not configured"
	case errors.As(err, &histErr):
		return "failed to fetch conversation history"
	default:
		return "failed to generate reply"
	}
}
