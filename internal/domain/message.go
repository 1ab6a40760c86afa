package domain

import (
	"context"
	"sort"
	"time"
)

// ChatRole is the author of a chat history message.
type ChatRole string

const (
	ChatRoleUser      ChatRole = "USER"
	ChatRoleAssistant ChatRole = "ASSISTANT"
)

// ChatMessage is one entry of a project's chat history.
// Assistant messages either carry pre-computed Events, or only the raw
// Content, which is parsed on demand during replay.
type ChatMessage struct {
	ID          int64         `json:"id"`
	Role        ChatRole      `json:"role"`
	Content     string        `json:"content,omitempty"`
	Events      []StreamEvent `json:"events,omitempty"`
	EditedFiles []string      `json:"editedFiles,omitempty"`
	CreatedAt   *time.Time    `json:"createdAt,omitempty"`
}

// SortEventsBySequence orders events by SequenceOrder. Events without one
// keep their relative position after all sequenced events.
func SortEventsBySequence(events []StreamEvent) []StreamEvent {
	out := make([]StreamEvent, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].SequenceOrder, out[j].SequenceOrder
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})
	return out
}

// TurnStatus is the lifecycle state of one assistant turn.
type TurnStatus string

const (
	TurnStreaming TurnStatus = "streaming"
	TurnCompleted TurnStatus = "completed"
	TurnFailed    TurnStatus = "failed"
	TurnCancelled TurnStatus = "cancelled"
)

// Terminal reports whether no more changes will happen to the turn.
func (s TurnStatus) Terminal() bool {
	return s == TurnCompleted || s == TurnFailed || s == TurnCancelled
}

// TurnRecord is a finished turn as persisted by the local history cache.
type TurnRecord struct {
	ID          string        `json:"id"`
	ProjectID   string        `json:"project_id"`
	UserMessage string        `json:"user_message"`
	Raw         string        `json:"raw"`
	Events      []StreamEvent `json:"events"`
	EditedFiles []string      `json:"edited_files,omitempty"`
	Status      TurnStatus    `json:"status"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// TurnStore persists finished turns.
type TurnStore interface {
	SaveTurn(ctx context.Context, rec TurnRecord) error
	ListTurns(ctx context.Context, projectID string, limit int) ([]TurnRecord, error)
	GetTurn(ctx context.Context, id string) (*TurnRecord, error)
}

// HistoryFetcher retrieves a project's chat history from the backend.
type HistoryFetcher interface {
	GetChatHistory(ctx context.Context, projectID string) ([]ChatMessage, error)
}

// ChatStreamer opens a streaming chat request.
type ChatStreamer interface {
	Open(ctx context.Context, req ChatStreamRequest, h StreamHandler) (StreamCanceller, error)
}
