// Package components holds the Bubble Tea building blocks of the chat TUI.
package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"project-companion/internal/adapter/render"
	"project-companion/internal/adapter/tui/theme"
	"project-companion/internal/domain"
)

// ItemRole identifies who an item in the chat view is from.
type ItemRole string

const (
	RoleUser      ItemRole = "user"
	RoleAssistant ItemRole = "assistant"
	RoleSystem    ItemRole = "system"
	RoleError     ItemRole = "error"
)

// Item is one entry of the chat view. Assistant items carry parsed events;
// the others carry Text.
type Item struct {
	// ID links an assistant item to its turn so streaming updates replace
	// it in place. Empty for items that never change.
	ID          string
	Role        ItemRole
	Text        string
	Events      []domain.StreamEvent
	EditedFiles []string
	Notice      string
	Streaming   bool
	Timestamp   time.Time

	rendered string // cached; empty means stale
}

// ChatViewModel is a scrolling list of chat items. Auto-scroll follows new
// content while the user is at the bottom and pauses when they scroll up.
type ChatViewModel struct {
	Viewport viewport.Model
	Items    []Item
	// MaxItems caps the list; older items are trimmed. Zero is unlimited.
	MaxItems int

	renderer *render.Renderer
	trimmed  int
	width    int
	ready    bool
	atBottom bool
}

// NewChatView creates a chat view drawing assistant items with r. The
// viewport is created on the first SetSize.
func NewChatView(r *render.Renderer) ChatViewModel {
	return ChatViewModel{renderer: r, atBottom: true}
}

// SetSize sets the viewport dimensions and re-renders at the new width.
func (m *ChatViewModel) SetSize(w, h int) {
	if w != m.width {
		m.width = w
		for i := range m.Items {
			m.Items[i].rendered = ""
		}
	}
	if !m.ready {
		m.Viewport = viewport.New(w, h)
		m.Viewport.MouseWheelEnabled = true
		m.Viewport.MouseWheelDelta = 3
		m.ready = true
	} else {
		m.Viewport.Width = w
		m.Viewport.Height = h
	}
	m.refresh()
}

// SetRenderer swaps the event renderer, e.g. after a resize.
func (m *ChatViewModel) SetRenderer(r *render.Renderer) {
	m.renderer = r
	for i := range m.Items {
		m.Items[i].rendered = ""
	}
	m.refresh()
}

// Add appends an item.
func (m *ChatViewModel) Add(it Item) {
	if it.Timestamp.IsZero() {
		it.Timestamp = time.Now()
	}
	m.Items = append(m.Items, it)
	if m.MaxItems > 0 && len(m.Items) > m.MaxItems {
		excess := len(m.Items) - m.MaxItems
		m.Items = m.Items[excess:]
		m.trimmed += excess
	}
	m.refresh()
}

// Upsert replaces the item with it.ID, or appends it when none exists.
func (m *ChatViewModel) Upsert(it Item) {
	if it.ID != "" {
		for i := len(m.Items) - 1; i >= 0; i-- {
			if m.Items[i].ID != it.ID {
				continue
			}
			if it.Timestamp.IsZero() {
				it.Timestamp = m.Items[i].Timestamp
			}
			it.rendered = ""
			m.Items[i] = it
			m.refresh()
			return
		}
	}
	m.Add(it)
}

// Clear removes all items.
func (m *ChatViewModel) Clear() {
	m.Items = nil
	m.trimmed = 0
	m.atBottom = true
	m.refresh()
	if m.ready {
		m.Viewport.GotoTop()
	}
}

// Update handles scrolling and tracks the auto-scroll state.
func (m ChatViewModel) Update(msg tea.Msg) (ChatViewModel, tea.Cmd) {
	if !m.ready {
		return m, nil
	}
	var cmd tea.Cmd
	m.Viewport, cmd = m.Viewport.Update(msg)
	m.atBottom = m.Viewport.AtBottom()
	return m, cmd
}

// View renders the viewport.
func (m ChatViewModel) View() string {
	if !m.ready {
		return "  Initializing..."
	}
	return m.Viewport.View()
}

// Content renders every item without the viewport.
func (m *ChatViewModel) Content() string {
	if len(m.Items) == 0 {
		return theme.TextMuted.Render("  Describe what you want to build or modify.")
	}
	var sb strings.Builder
	if m.trimmed > 0 {
		sb.WriteString(theme.TextMuted.Render(fmt.Sprintf("  (%d older messages trimmed)", m.trimmed)) + "\n\n")
	}
	for i := range m.Items {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		it := &m.Items[i]
		if it.rendered == "" {
			it.rendered = m.renderItem(it)
		}
		sb.WriteString(it.rendered)
	}
	return sb.String()
}

func (m *ChatViewModel) refresh() {
	if !m.ready {
		return
	}
	m.Viewport.SetContent(m.Content())
	if m.atBottom {
		m.Viewport.GotoBottom()
	}
}

func (m *ChatViewModel) renderItem(it *Item) string {
	header := roleLabel(it.Role) + " " + theme.Timestamp.Render(it.Timestamp.Format("15:04"))
	width := ContentWidth(m.width)

	switch it.Role {
	case RoleAssistant:
		var parts []string
		if body := m.renderer.Events(it.Events, it.Streaming); body != "" {
			parts = append(parts, body)
		} else if it.Streaming {
			parts = append(parts, "  "+theme.TextMuted.Render(theme.SymbolSpinner+" Thinking"+theme.SymbolEllipsis))
		}
		if it.Notice != "" {
			parts = append(parts, "  "+theme.TextError.Render(it.Notice))
		}
		if !it.Streaming {
			if sum := render.EditedFiles(it.EditedFiles); sum != "" {
				parts = append(parts, "  "+sum)
			}
		}
		if len(parts) == 0 {
			return header
		}
		return header + "\n" + strings.Join(parts, "\n")
	case RoleError:
		return header + "\n  " + theme.TextError.Render(wrapText(it.Text, width-2))
	default:
		return header + "\n  " + wrapText(it.Text, width-2)
	}
}

func roleLabel(role ItemRole) string {
	switch role {
	case RoleUser:
		return theme.UserLabel.Render(theme.SymbolUser)
	case RoleAssistant:
		return theme.BotLabel.Render(theme.SymbolBot)
	case RoleSystem:
		return theme.SystemLabel.Render("System")
	case RoleError:
		return theme.ErrorLabel.Render(theme.SymbolError + " Error")
	default:
		return theme.TextMuted.Render(string(role))
	}
}

// wrapText wraps text to width with a 2-space indent on continuation lines.
// Existing newlines are kept.
func wrapText(s string, width int) string {
	if width <= 0 {
		return s
	}
	var out []string
	for _, para := range strings.Split(s, "\n") {
		runes := []rune(para)
		for len(runes) > width {
			idx := -1
			for i := width - 1; i > 0; i-- {
				if runes[i] == ' ' {
					idx = i
					break
				}
			}
			if idx <= 0 {
				idx = width
			}
			out = append(out, string(runes[:idx]))
			runes = runes[idx:]
			for len(runes) > 0 && runes[0] == ' ' {
				runes = runes[1:]
			}
		}
		out = append(out, string(runes))
	}
	return strings.Join(out, "\n  ")
}

// ContentWidth caps the readable width for a terminal of termWidth columns.
func ContentWidth(termWidth int) int {
	return theme.Clamp(termWidth-4, 40, theme.MaxContentWidth)
}

// Divider renders a horizontal line at the given width.
func Divider(width int) string {
	return lipgloss.NewStyle().
		Foreground(theme.ColorBorder).
		Render(strings.Repeat("─", width))
}
