package turn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"project-companion/internal/domain"
)

func seq(n int) *int { return &n }

func TestReplay(t *testing.T) {
	msgs := []domain.ChatMessage{
		{ID: 1, Role: domain.ChatRoleUser, Content: "build a todo app"},
		{ID: 2, Role: domain.ChatRoleAssistant, Events: []domain.StreamEvent{
			{Kind: domain.KindFileEdit, FilePath: "b.ts", Content: "b", SequenceOrder: seq(2)},
			{Kind: domain.KindMessage, Content: "unsequenced"},
			{Kind: domain.KindMessage, Content: "first", SequenceOrder: seq(0)},
			{Kind: domain.KindToolLog, Metadata: "b.ts", Content: "writing", SequenceOrder: seq(1)},
		}},
		{ID: 3, Role: domain.ChatRoleUser, Content: "thanks"},
		{ID: 4, Role: domain.ChatRoleAssistant, Content: `<message>You're welcome</message><file path="a.ts">a</file>`},
	}

	entries := Replay(msgs)
	require.Len(t, entries, 4)

	assert.Equal(t, "build a todo app", entries[0].Text)
	assert.Empty(t, entries[0].Events)

	var order []string
	for _, ev := range entries[1].Events {
		order = append(order, ev.Content)
	}
	assert.Equal(t, []string{"first", "writing", "b", "unsequenced"}, order)
	assert.Equal(t, []string{"b.ts"}, entries[1].EditedFiles)

	require.Len(t, entries[3].Events, 2)
	assert.Equal(t, "You're welcome", entries[3].Events[0].Content)
	assert.Equal(t, "a.ts", entries[3].Events[1].FilePath)
	assert.Equal(t, []string{"a.ts"}, entries[3].EditedFiles)
}

func TestReplayKeepsServerEditedFiles(t *testing.T) {
	entries := Replay([]domain.ChatMessage{{
		Role:        domain.ChatRoleAssistant,
		Content:     "<message>hi</message>",
		EditedFiles: []string{"from-server.ts"},
	}})
	require.Len(t, entries, 1)
	assert.Equal(t, []string{"from-server.ts"}, entries[0].EditedFiles)
}

func TestReplayRecords(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := ReplayRecords([]domain.TurnRecord{
		{ID: "01A", UserMessage: "q1", Raw: "<message>a1</message>", Status: domain.TurnCompleted, CreatedAt: at},
		{ID: "01B", UserMessage: "q2", Raw: "<message>par", Status: domain.TurnFailed, CreatedAt: at,
			Events: []domain.StreamEvent{{Kind: domain.KindMessage, Content: "par"}}},
	})
	require.Len(t, entries, 4)
	assert.Equal(t, domain.ChatRoleUser, entries[0].Role)
	assert.Equal(t, "q1", entries[0].Text)
	assert.Equal(t, "a1", entries[1].Events[0].Content)
	assert.Empty(t, entries[1].Notice)
	assert.Equal(t, "par", entries[3].Events[0].Content)
	assert.Equal(t, FailureMessage, entries[3].Notice)
	assert.Equal(t, at, *entries[3].CreatedAt)
}
