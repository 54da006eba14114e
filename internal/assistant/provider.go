package assistant

import "context"

// CompletionRequest is a provider neutral chat completion call. System is
// sent ahead of Messages.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []HistoryEntry
	MaxTokens   int
	Temperature float64
}

type CompletionResponse struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Provider calls a hosted completion API.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
