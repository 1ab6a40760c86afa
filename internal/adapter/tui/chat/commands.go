package chat

import (
	"context"
	"sort"

	tea "github.com/charmbracelet/bubbletea"

	"project-companion/internal/domain"
)

// sendCmd opens a turn off the event loop. Send blocks until any previous
// turn has stopped, and that turn reports through the program.
func sendCmd(conv Conversation, message string) tea.Cmd {
	return func() tea.Msg {
		t, err := conv.Send(context.Background(), message)
		done := SendDoneMsg{Err: err}
		if t != nil {
			done.TurnID = t.ID()
		}
		return done
	}
}

// cancelCmd stops the current turn. Cancel waits for the stream's
// last callback, which itself sends to the program, so it cannot run
// inside Update.
func cancelCmd(conv Conversation) tea.Cmd {
	return func() tea.Msg {
		conv.Cancel()
		return CancelDoneMsg{}
	}
}

func loadHistoryCmd(load HistoryLoader) tea.Cmd {
	if load == nil {
		return nil
	}
	return func() tea.Msg {
		entries, err := load(context.Background())
		return HistoryMsg{Entries: entries, Err: err}
	}
}

func loadFilesCmd(ws domain.Workspace) tea.Cmd {
	if ws == nil {
		return nil
	}
	return func() tea.Msg {
		return FilesMsg{Paths: workspacePaths(ws)}
	}
}

type pathLister interface {
	Paths() []string
}

// workspacePaths lists ws's files in order, using Paths when the
// workspace provides it and a snapshot otherwise.
func workspacePaths(ws domain.Workspace) []string {
	if pl, ok := ws.(pathLister); ok {
		return pl.Paths()
	}
	snap, ok := ws.(domain.WorkspaceSnapshotter)
	if !ok {
		return nil
	}
	files := snap.Snapshot()
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
