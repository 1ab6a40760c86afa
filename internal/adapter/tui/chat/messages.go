// Package chat implements the interactive Bubble Tea chat for one project.
package chat

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"project-companion/internal/domain"
	"project-companion/internal/usecase/turn"
)

// SnapshotMsg carries a turn update from the stream goroutine.
type SnapshotMsg struct {
	Snapshot turn.Snapshot
}

// SendDoneMsg reports that Conversation.Send returned.
type SendDoneMsg struct {
	TurnID string
	Err    error
}

// CancelDoneMsg reports that the in-flight turn has stopped.
type CancelDoneMsg struct{}

// HistoryMsg carries the replayed chat history.
type HistoryMsg struct {
	Entries []turn.Entry
	Err     error
}

// FilesMsg carries the current workspace paths.
type FilesMsg struct {
	Paths []string
}

// PreviewMsg signals that the preview error list changed.
type PreviewMsg struct {
	Count int
}

// QuitMsg asks the program to exit.
type QuitMsg struct{}

// Forwarder relays conversation snapshots and bus events into a running
// program. It is created before the program so it can be handed to the
// conversation as its OnUpdate callback.
type Forwarder struct {
	mu     sync.Mutex
	prog   *tea.Program
	errors ErrorStore
}

// NewForwarder creates a Forwarder. errors may be nil.
func NewForwarder(errors ErrorStore) *Forwarder {
	return &Forwarder{errors: errors}
}

// Attach binds the program. Messages sent before Attach are dropped.
func (f *Forwarder) Attach(p *tea.Program) {
	f.mu.Lock()
	f.prog = p
	f.mu.Unlock()
}

// OnUpdate is a turn.ConversationDeps.OnUpdate callback.
func (f *Forwarder) OnUpdate(s turn.Snapshot) {
	f.send(SnapshotMsg{Snapshot: s})
}

// OnEvent is a domain.EventHandler for preview and workspace events.
func (f *Forwarder) OnEvent(_ context.Context, ev domain.Event) {
	switch ev.Type {
	case domain.EventPreviewError, domain.EventPreviewReset:
		n := 0
		if f.errors != nil {
			n = len(f.errors.Errors())
		}
		f.send(PreviewMsg{Count: n})
	case domain.EventWorkspaceExternalEdit:
		f.send(refreshFilesMsg{})
	}
}

func (f *Forwarder) send(msg tea.Msg) {
	f.mu.Lock()
	p := f.prog
	f.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

type refreshFilesMsg struct{}
