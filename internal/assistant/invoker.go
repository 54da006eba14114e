package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/npezzotti/symposium/internal/types"
)

var (
	ErrMissingCredentials = errors.New("completion credentials not configured")
	ErrEmptyCompletion    = errors.New("completion returned no text")
)

// CompletionError reports a failed reply generation. It is never retried.
type CompletionError struct {
	Model string
	Err   error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("completion with %s: %v", e.Model, e.Err)
}

func (e *CompletionError) Unwrap() error {
	return e.Err
}

type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
	Model        string
}

// Invoker sends assembled conversations to the provider serving the
// requested model.
type Invoker struct {
	providers map[Family]Provider
	maxTokens int
}

func NewInvoker(maxTokens int) *Invoker {
	return &Invoker{
		providers: make(map[Family]Provider),
		maxTokens: maxTokens,
	}
}

// Register installs the provider for a model family. Families without a
// provider fail with ErrMissingCredentials.
func (i *Invoker) Register(family Family, p Provider) {
	i.providers[family] = p
}

func (i *Invoker) Invoke(ctx context.Context, systemPrompt string, history []HistoryEntry, newUserMessage, model string) (*Completion, error) {
	model = NormalizeModel(model)

	p, ok := i.providers[familyOf(model)]
	if !ok || p == nil {
		return nil, &CompletionError{Model: model, Err: ErrMissingCredentials}
	}

	messages := make([]HistoryEntry, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, HistoryEntry{Role: types.RoleUser, Content: newUserMessage})

	resp, err := p.Complete(ctx, CompletionRequest{
		Model:       model,
		System:      systemPrompt,
		Messages:    messages,
		MaxTokens:   i.maxTokens,
		Temperature: temperatureFor(model),
	})
	if err != nil {
		return nil, &CompletionError{Model: model, Err: err}
	}

	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return nil, &CompletionError{Model: model, Err: ErrEmptyCompletion}
	}

	return &Completion{
		Text:         resp.Content,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		Model:        model,
	}, nil
}
