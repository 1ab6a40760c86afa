package components

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"project-companion/internal/adapter/tui/theme"
)

// FilesPaneModel lists the workspace files, marking the ones the assistant
// edited in this session. One entry is selected for the viewer.
type FilesPaneModel struct {
	Viewport viewport.Model
	files    []string
	edited   map[string]bool
	selected int
	ready    bool
}

// NewFilesPane creates an empty files pane.
func NewFilesPane() FilesPaneModel {
	return FilesPaneModel{edited: make(map[string]bool)}
}

// SetSize sets the pane dimensions.
func (m *FilesPaneModel) SetSize(w, h int) {
	if !m.ready {
		m.Viewport = viewport.New(w, h)
		m.Viewport.MouseWheelEnabled = true
		m.ready = true
	} else {
		m.Viewport.Width = w
		m.Viewport.Height = h
	}
	m.refresh()
}

// SetFiles replaces the file list, keeping the selection on the same path
// when it still exists.
func (m *FilesPaneModel) SetFiles(paths []string) {
	current := m.Selected()
	m.files = paths
	m.selected = 0
	for i, p := range paths {
		if p == current {
			m.selected = i
			break
		}
	}
	m.refresh()
}

// MarkEdited flags paths as edited in this session.
func (m *FilesPaneModel) MarkEdited(paths ...string) {
	for _, p := range paths {
		m.edited[p] = true
	}
	m.refresh()
}

// Edited returns how many files were edited in this session.
func (m FilesPaneModel) Edited() int { return len(m.edited) }

// Selected returns the selected path, or "" for an empty list.
func (m FilesPaneModel) Selected() string {
	if m.selected < 0 || m.selected >= len(m.files) {
		return ""
	}
	return m.files[m.selected]
}

// Update moves the selection with j/k or the arrows.
func (m FilesPaneModel) Update(msg tea.Msg) (FilesPaneModel, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok && len(m.files) > 0 {
		switch key.String() {
		case "j", "down":
			if m.selected < len(m.files)-1 {
				m.selected++
			}
			m.refresh()
			return m, nil
		case "k", "up":
			if m.selected > 0 {
				m.selected--
			}
			m.refresh()
			return m, nil
		}
	}
	if !m.ready {
		return m, nil
	}
	var cmd tea.Cmd
	m.Viewport, cmd = m.Viewport.Update(msg)
	return m, cmd
}

// View renders the pane.
func (m FilesPaneModel) View() string {
	if !m.ready {
		return ""
	}
	return m.Viewport.View()
}

func (m *FilesPaneModel) refresh() {
	if !m.ready {
		return
	}
	var sb strings.Builder
	sb.WriteString(theme.PaneTitle.Render("Files") + "\n")
	if len(m.files) == 0 {
		sb.WriteString(theme.TextMuted.Render("No files yet."))
	}
	for i, p := range m.files {
		mark := "  "
		if m.edited[p] {
			mark = theme.TextSuccess.Render(theme.SymbolEdit) + " "
		}
		line := mark + p
		if i == m.selected {
			line = theme.TextInfo.Render(theme.SymbolArrowR) + line
		} else {
			line = " " + line
		}
		sb.WriteString(line + "\n")
	}
	m.Viewport.SetContent(sb.String())

	// Keep the selection on screen; the title takes two lines.
	row := m.selected + 2
	if row < m.Viewport.YOffset {
		m.Viewport.SetYOffset(row)
	} else if h := m.Viewport.Height; h > 0 && row >= m.Viewport.YOffset+h {
		m.Viewport.SetYOffset(row - h + 1)
	}
}
