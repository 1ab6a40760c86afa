package components

import (
	"fmt"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"project-companion/internal/adapter/tui/theme"
)

// ViewerModel is a full-screen overlay for reading a file or a long text.
type ViewerModel struct {
	Viewport viewport.Model
	Title    string
	Visible  bool
	width    int
	height   int
}

// Open shows content under title.
func (m *ViewerModel) Open(title, content string) {
	m.Title = title
	m.Visible = true
	w, h := 80, 24
	if m.width > 0 {
		w, h = m.width-4, m.height-4
	}
	m.Viewport = viewport.New(w, h)
	m.Viewport.MouseWheelEnabled = true
	m.Viewport.SetContent(content)
}

// Close hides the viewer.
func (m *ViewerModel) Close() { m.Visible = false }

// SetSize updates the overlay dimensions.
func (m *ViewerModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.Visible {
		m.Viewport.Width = w - 4
		m.Viewport.Height = h - 4
	}
}

// Update handles keys: Esc or q closes, j/k scroll, g/G jump.
func (m ViewerModel) Update(msg tea.Msg) (ViewerModel, tea.Cmd) {
	if !m.Visible {
		return m, nil
	}
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "esc", "q":
			m.Close()
			return m, nil
		case "j", "down":
			m.Viewport.LineDown(3)
			return m, nil
		case "k", "up":
			m.Viewport.LineUp(3)
			return m, nil
		case "g":
			m.Viewport.GotoTop()
			return m, nil
		case "G":
			m.Viewport.GotoBottom()
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.Viewport, cmd = m.Viewport.Update(msg)
	return m, cmd
}

// View renders the overlay.
func (m ViewerModel) View() string {
	if !m.Visible {
		return ""
	}
	title := theme.Bold.Render("  " + m.Title)
	footer := theme.Dim.Render("  Esc/q: close  j/k: scroll  g/G: top/bottom") +
		"  " + theme.TextMuted.Render(fmt.Sprintf("%.0f%%", m.Viewport.ScrollPercent()*100))

	return lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorderActive).
		Padding(0, 1).
		Width(m.width - 2).
		Height(m.height - 2).
		Render(lipgloss.JoinVertical(lipgloss.Left, title, m.Viewport.View(), footer))
}
