package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"project-companion/internal/adapter/tui/theme"
)

// Pane identifies which pane has focus.
type Pane int

const (
	PaneChat Pane = iota
	PaneFiles
)

// SplitPaneModel lays the chat and the files pane side by side.
type SplitPaneModel struct {
	Focused Pane
	Visible bool // whether the files pane is shown
	Ratio   float64
	width   int
	height  int
}

// NewSplitPane creates a split pane. ratio is the chat's share of the width.
func NewSplitPane(ratio float64) SplitPaneModel {
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.65
	}
	return SplitPaneModel{Ratio: ratio}
}

// SetSize updates the dimensions. Narrow terminals hide the files pane.
func (m *SplitPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if w < theme.MinSplitWidth {
		m.Visible = false
		m.Focused = PaneChat
	}
}

// Toggle shows or hides the files pane. It reports whether the pane is
// visible afterwards.
func (m *SplitPaneModel) Toggle() bool {
	if m.width < theme.MinSplitWidth {
		return false
	}
	m.Visible = !m.Visible
	if !m.Visible {
		m.Focused = PaneChat
	}
	return m.Visible
}

// SwitchFocus moves focus to the other pane.
func (m *SplitPaneModel) SwitchFocus() {
	if !m.Visible {
		return
	}
	if m.Focused == PaneChat {
		m.Focused = PaneFiles
	} else {
		m.Focused = PaneChat
	}
}

// LeftWidth returns the chat width.
func (m SplitPaneModel) LeftWidth() int {
	if !m.Visible {
		return m.width
	}
	return int(float64(m.width-1) * m.Ratio)
}

// RightWidth returns the files pane width.
func (m SplitPaneModel) RightWidth() int {
	if !m.Visible {
		return 0
	}
	return m.width - 1 - m.LeftWidth()
}

// Render joins both panes with a divider that lights up when the files
// pane has focus.
func (m SplitPaneModel) Render(left, right string) string {
	if !m.Visible {
		return left
	}
	color := theme.ColorBorder
	if m.Focused == PaneFiles {
		color = theme.ColorBorderActive
	}
	bar := lipgloss.NewStyle().Foreground(color).Render("│")
	col := strings.TrimSuffix(strings.Repeat(bar+"\n", m.height), "\n")
	return lipgloss.JoinHorizontal(lipgloss.Top, left, col, right)
}
