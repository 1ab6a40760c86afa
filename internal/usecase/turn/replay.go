package turn

import (
	"time"

	"project-companion/internal/domain"
	"project-companion/internal/usecase/markup"
)

// Entry is one renderable chat history item.
type Entry struct {
	Role domain.ChatRole
	// Text is the user's message. Assistant entries use Events instead.
	Text        string
	Events      []domain.StreamEvent
	EditedFiles []string
	Notice      string
	CreatedAt   *time.Time
}

// Replay converts backend chat history into renderable entries. Assistant
// messages that carry events keep them, ordered by sequence; messages with
// only raw content are parsed.
func Replay(messages []domain.ChatMessage) []Entry {
	out := make([]Entry, 0, len(messages))
	for _, m := range messages {
		e := Entry{Role: m.Role, EditedFiles: m.EditedFiles, CreatedAt: m.CreatedAt}
		switch {
		case m.Role == domain.ChatRoleUser:
			e.Text = m.Content
		case len(m.Events) > 0:
			e.Events = domain.SortEventsBySequence(m.Events)
		default:
			e.Events = markup.Parse(m.Content)
		}
		if e.Role == domain.ChatRoleAssistant && len(e.EditedFiles) == 0 {
			e.EditedFiles = editedFiles(e.Events)
		}
		out = append(out, e)
	}
	return out
}

// ReplayRecords converts locally cached turns into entries, two per turn.
// Records are expected oldest first.
func ReplayRecords(records []domain.TurnRecord) []Entry {
	out := make([]Entry, 0, 2*len(records))
	for _, r := range records {
		created := r.CreatedAt
		out = append(out, Entry{Role: domain.ChatRoleUser, Text: r.UserMessage, CreatedAt: &created})

		events := r.Events
		if len(events) == 0 && r.Raw != "" {
			events = markup.Parse(r.Raw)
		}
		e := Entry{
			Role:        domain.ChatRoleAssistant,
			Events:      events,
			EditedFiles: r.EditedFiles,
			CreatedAt:   &created,
		}
		if r.Status == domain.TurnFailed {
			e.Notice = FailureMessage
		}
		out = append(out, e)
	}
	return out
}

func editedFiles(events []domain.StreamEvent) []string {
	acc := NewAccumulator()
	for _, ev := range events {
		if ev.Kind == domain.KindFileEdit {
			acc.Add(ev.FilePath)
		}
	}
	return acc.Paths()
}
