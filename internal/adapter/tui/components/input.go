package components

import (
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"project-companion/internal/adapter/tui/theme"
)

// Placeholders shown in the input box.
const (
	PlaceholderDefault  = "Describe what you want to build..."
	PlaceholderReadOnly = "You have view-only access to this project"
)

// InputSubmitMsg is sent when the user presses Enter on non-empty input.
type InputSubmitMsg struct {
	Value string
}

// CommandDef defines a slash command for autocomplete.
type CommandDef struct {
	Name        string // e.g. "/help"
	Description string
}

// InputModel wraps a textarea with submit handling and a slash-command
// completion popup.
type InputModel struct {
	Textarea textarea.Model
	Enabled  bool

	commands []CommandDef
	matches  []CommandDef
	selected int
	popup    bool
	width    int
}

// NewInput creates an input box that completes the given commands.
func NewInput(commands []CommandDef) InputModel {
	ta := textarea.New()
	ta.Placeholder = PlaceholderDefault
	ta.Prompt = "> "
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(3)
	ta.KeyMap.InsertNewline.SetKeys("alt+enter", "ctrl+j")
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.FocusedStyle.Prompt = theme.InputPrompt
	ta.FocusedStyle.Placeholder = theme.InputPlaceholder
	ta.Focus()

	return InputModel{Textarea: ta, Enabled: true, commands: commands}
}

// SetWidth updates the textarea width.
func (m *InputModel) SetWidth(w int) {
	m.width = w
	m.Textarea.SetWidth(w - 2)
}

// SetEnabled enables or disables typing, e.g. while a turn streams.
func (m *InputModel) SetEnabled(enabled bool) {
	m.Enabled = enabled
	if enabled {
		m.Textarea.Focus()
	} else {
		m.Textarea.Blur()
		m.hidePopup()
	}
}

// SetReadOnly permanently disables input for viewers.
func (m *InputModel) SetReadOnly(readOnly bool) {
	if readOnly {
		m.Textarea.Placeholder = PlaceholderReadOnly
		m.SetEnabled(false)
		return
	}
	m.Textarea.Placeholder = PlaceholderDefault
}

// Value returns the current input text.
func (m InputModel) Value() string { return m.Textarea.Value() }

// PopupVisible reports whether the completion popup is showing.
func (m InputModel) PopupVisible() bool { return m.popup }

// ParseSlashCommand splits "/cmd a b" into "/cmd" and its args.
func ParseSlashCommand(input string) (cmd string, args []string, ok bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return "", nil, false
	}
	parts := strings.Fields(input)
	return strings.ToLower(parts[0]), parts[1:], true
}

// Update handles keys. Enter submits; Alt+Enter inserts a newline through
// the textarea. While the popup is showing Tab and the arrows move the
// selection and Enter accepts it.
func (m InputModel) Update(msg tea.Msg) (InputModel, tea.Cmd) {
	if !m.Enabled {
		return m, nil
	}
	if _, ok := msg.(tea.MouseMsg); ok {
		return m, nil
	}

	if key, ok := msg.(tea.KeyMsg); ok {
		if m.popup {
			switch key.Type {
			case tea.KeyTab, tea.KeyDown:
				m.selected = (m.selected + 1) % len(m.matches)
				return m, nil
			case tea.KeyShiftTab, tea.KeyUp:
				m.selected = (m.selected - 1 + len(m.matches)) % len(m.matches)
				return m, nil
			case tea.KeyEnter:
				m.Textarea.SetValue(m.matches[m.selected].Name + " ")
				m.Textarea.CursorEnd()
				m.hidePopup()
				return m, nil
			case tea.KeyEsc:
				m.hidePopup()
				return m, nil
			}
		}

		if key.Type == tea.KeyEnter && !key.Alt {
			value := strings.TrimSpace(m.Textarea.Value())
			if value == "" {
				return m, nil
			}
			m.Textarea.Reset()
			m.hidePopup()
			return m, func() tea.Msg { return InputSubmitMsg{Value: value} }
		}
	}

	var cmd tea.Cmd
	m.Textarea, cmd = m.Textarea.Update(msg)
	m.filter(m.Textarea.Value())
	return m, cmd
}

func (m *InputModel) filter(value string) {
	if !strings.HasPrefix(value, "/") || strings.Contains(value, " ") {
		m.hidePopup()
		return
	}
	prefix := strings.ToLower(value)
	m.matches = nil
	for _, c := range m.commands {
		if strings.HasPrefix(c.Name, prefix) {
			m.matches = append(m.matches, c)
		}
	}
	m.popup = len(m.matches) > 0
	if m.selected >= len(m.matches) {
		m.selected = 0
	}
}

func (m *InputModel) hidePopup() {
	m.popup = false
	m.matches = nil
	m.selected = 0
}

// View renders the input box with the popup above it.
func (m InputModel) View() string {
	if !m.popup {
		return m.Textarea.View()
	}
	var lines []string
	for i, c := range m.matches {
		name := c.Name + strings.Repeat(" ", max(0, 10-len(c.Name)))
		line := name + " " + theme.TextMuted.Render(c.Description)
		if i == m.selected {
			line = theme.TextInfo.Render(theme.SymbolArrowR+" ") + line
		} else {
			line = "  " + line
		}
		lines = append(lines, line)
	}
	popup := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(theme.ColorBorderActive).
		Padding(0, 1).
		Render(strings.Join(lines, "\n"))
	return popup + "\n" + m.Textarea.View()
}
