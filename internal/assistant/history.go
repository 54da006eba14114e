package assistant

import (
	"context"
	"fmt"
	"slices"

	"github.com/npezzotti/symposium/internal/database"
	"github.com/npezzotti/symposium/internal/types"
)

// HistoryLimit bounds the context window sent with each completion.
const HistoryLimit = 20

type HistoryStore interface {
	GetRecentMessages(ctx context.Context, roomId, limit int) ([]database.Message, error)
}

type HistoryEntry struct {
	Role    types.Role
	Content string
}

type HistoryFetchError struct {
	RoomId int
	Err    error
}

func (e *HistoryFetchError) Error() string {
	return fmt.Sprintf("fetch history for room %d: %v", e.RoomId, e.Err)
}

func (e *HistoryFetchError) Unwrap() error {
	return e.Err
}

// ContextAssembler turns a room's recent messages into completion history.
type ContextAssembler struct {
	store HistoryStore
	limit int
}

func NewContextAssembler(store HistoryStore) *ContextAssembler {
	return &ContextAssembler{store: store, limit: HistoryLimit}
}

// AssembleHistory returns at most HistoryLimit entries, oldest first. Messages
// whose id is listed in exclude are left out of the window.
func (a *ContextAssembler) AssembleHistory(ctx context.Context, roomId int, exclude ...int) ([]HistoryEntry, error) {
	msgs, err := a.store.GetRecentMessages(ctx, roomId, a.limit+len(exclude))
	if err != nil {
		return nil, &HistoryFetchError{RoomId: roomId, Err: err}
	}

	msgs = slices.DeleteFunc(msgs, func(m database.Message) bool {
		return slices.Contains(exclude, m.Id)
	})
	if len(msgs) > a.limit {
		msgs = msgs[len(msgs)-a.limit:]
	}

	entries := make([]HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		role := types.Role(m.Role)
		content := m.Content
		if role == types.RoleUser {
			content = fmt.Sprintf("[%s]: %s", types.DisplayName(m.Username, m.EmailAddress), m.Content)
		}
		entries = append(entries, HistoryEntry{Role: role, Content: content})
	}

	return entries, nil
}
