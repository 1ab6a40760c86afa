package components

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"project-companion/internal/adapter/tui/theme"
)

// KeyHint is one keybinding hint shown in the status bar.
type KeyHint struct {
	Key  string // e.g. "Enter"
	Desc string // e.g. "Send"
}

// StatusBarModel renders the bottom line: hints on the left, project and
// activity on the right.
type StatusBarModel struct {
	Hints   []KeyHint
	Project string
	Role    string
	// Errors is the number of preview errors waiting for /fix.
	Errors int
	Extra  string // e.g. "Thinking..."
	width  int
}

// SetWidth updates the available width.
func (m *StatusBarModel) SetWidth(w int) { m.width = w }

// View renders the status bar as a single line.
func (m StatusBarModel) View() string {
	var hints []string
	for _, h := range m.Hints {
		hints = append(hints, theme.StatusKey.Render(h.Key)+": "+h.Desc)
	}
	left := strings.Join(hints, "  "+theme.Dim.Render("|")+"  ")

	var right []string
	if m.Extra != "" {
		right = append(right, theme.TextInfo.Render(m.Extra))
	}
	if m.Errors > 0 {
		label := "preview errors"
		if m.Errors == 1 {
			label = "preview error"
		}
		right = append(right, theme.TextWarning.Render(theme.SymbolWarning+" "+strconv.Itoa(m.Errors)+" "+label))
	}
	if m.Project != "" {
		p := m.Project
		if m.Role != "" {
			p += " " + theme.SymbolBullet + " " + strings.ToLower(m.Role)
		}
		right = append(right, theme.TextMuted.Render(p))
	}
	r := strings.Join(right, "  ")

	// Two columns go to the bar's padding.
	gap := m.width - 2 - lipgloss.Width(left) - lipgloss.Width(r)
	if gap < 1 {
		gap = 1
	}
	return theme.StatusBar.Width(m.width).Render(left + strings.Repeat(" ", gap) + r)
}
