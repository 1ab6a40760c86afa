package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"project-companion/internal/adapter/render"
	"project-companion/internal/adapter/tui/components"
	"project-companion/internal/adapter/tui/theme"
	"project-companion/internal/adapter/tui/uxerror"
	"project-companion/internal/domain"
	"project-companion/internal/usecase/errorsink"
	"project-companion/internal/usecase/turn"
)

// Conversation is the part of turn.Conversation the chat drives.
type Conversation interface {
	Send(ctx context.Context, message string) (*turn.Turn, error)
	Cancel()
}

// ErrorStore exposes the preview errors collected for /errors and /fix.
type ErrorStore interface {
	Errors() []domain.PreviewError
	Reset()
}

// HistoryLoader returns the project's earlier turns, oldest first.
type HistoryLoader func(ctx context.Context) ([]turn.Entry, error)

// ModelDeps are dependencies injected into the chat model.
type ModelDeps struct {
	Conversation Conversation
	Workspace    domain.Workspace // optional; enables the files pane and /view
	Errors       ErrorStore       // optional; enables /errors and /fix
	LoadHistory  HistoryLoader    // optional
	ProjectName  string
	Role         domain.ProjectRole
	Render       render.Options
	Logger       *slog.Logger
}

var slashCommands = []components.CommandDef{
	{Name: "/help", Description: "Show available commands"},
	{Name: "/cancel", Description: "Stop the current response"},
	{Name: "/clear", Description: "Clear the conversation view"},
	{Name: "/files", Description: "Toggle the files pane"},
	{Name: "/view", Description: "Show a file"},
	{Name: "/errors", Description: "List preview errors"},
	{Name: "/fix", Description: "Ask the assistant to fix a preview error"},
	{Name: "/quit", Description: "Exit"},
}

const helpText = `Available commands:
  /help          Show this help
  /cancel        Stop the current response
  /clear         Clear the conversation view
  /files         Toggle the files pane
  /view <path>   Show a file from the workspace
  /errors        List preview errors (/errors clear to dismiss them)
  /fix [n]       Ask the assistant to fix preview error n (default: latest)
  /quit          Exit

Keybindings:
  Enter          Send message
  Alt+Enter      New line
  Ctrl+T         Toggle files pane
  Tab            Switch pane focus
  Enter (files)  Open selected file
  Ctrl+C         Cancel response / quit
  PgUp/PgDn      Scroll chat`

// Model is the root Bubble Tea model of the chat.
type Model struct {
	deps ModelDeps

	chatView components.ChatViewModel
	input    components.InputModel
	status   components.StatusBarModel
	split    components.SplitPaneModel
	files    components.FilesPaneModel
	viewer   components.ViewerModel
	spinner  spinner.Model
	renderer *render.Renderer

	streaming  bool
	cancelling bool
	turnID     string
	readOnly   bool
	width      int
	height     int
	quitting   bool
}

// NewModel creates the chat model.
func NewModel(deps ModelDeps) (Model, error) {
	if deps.Conversation == nil {
		return Model{}, fmt.Errorf("%w: chat needs a conversation", domain.ErrInvalidInput)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	r, err := render.New(deps.Render)
	if err != nil {
		return Model{}, err
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(theme.ColorInfo)

	chatView := components.NewChatView(r)
	chatView.MaxItems = 500

	m := Model{
		deps:     deps,
		chatView: chatView,
		input:    components.NewInput(slashCommands),
		status: components.StatusBarModel{
			Hints:   defaultHints(),
			Project: deps.ProjectName,
			Role:    string(deps.Role),
		},
		split:    components.NewSplitPane(0.65),
		files:    components.NewFilesPane(),
		spinner:  s,
		renderer: r,
		// An empty role is unknown; the backend has the final word.
		readOnly: deps.Role != "" && !deps.Role.Can(domain.PermChatSend),
	}
	if m.readOnly {
		m.input.SetReadOnly(true)
	}
	if deps.Errors != nil {
		m.status.Errors = len(deps.Errors.Errors())
	}
	return m, nil
}

// Init loads history and the file list.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		loadHistoryCmd(m.deps.LoadHistory),
		loadFilesCmd(m.deps.Workspace),
	)
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case components.InputSubmitMsg:
		return m.handleSubmit(msg.Value)

	case SnapshotMsg:
		return m.handleSnapshot(msg.Snapshot)

	case SendDoneMsg:
		if msg.Err != nil && !errors.Is(msg.Err, domain.ErrTurnCancelled) && !errors.Is(msg.Err, context.Canceled) {
			m.deps.Logger.Debug("send failed", "error", msg.Err)
			m.addError(msg.Err)
			if msg.TurnID == "" || msg.TurnID == m.turnID {
				m.setStreaming(false)
			}
		}
		return m, nil

	case CancelDoneMsg:
		if m.cancelling {
			m.cancelling = false
			m.setStreaming(false)
			m.addSystem("Request cancelled.")
		}
		return m, nil

	case HistoryMsg:
		if msg.Err != nil {
			m.deps.Logger.Warn("history not loaded", "error", msg.Err)
			m.addError(msg.Err)
			return m, nil
		}
		m.addHistory(msg.Entries)
		return m, nil

	case FilesMsg:
		m.files.SetFiles(msg.Paths)
		return m, nil

	case refreshFilesMsg:
		return m, loadFilesCmd(m.deps.Workspace)

	case PreviewMsg:
		m.status.Errors = msg.Count
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
		if m.streaming {
			m.status.Extra = m.spinner.View() + " " + m.activity()
		}
	}

	var cmd tea.Cmd
	m.chatView, cmd = m.chatView.Update(msg)
	cmds = append(cmds, cmd)

	if _, isMouse := msg.(tea.MouseMsg); isMouse && m.split.Visible && m.split.Focused == components.PaneFiles {
		m.files, cmd = m.files.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

// View renders the chat.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 {
		return "  Initializing..."
	}
	if m.viewer.Visible {
		return m.viewer.View()
	}
	main := m.split.Render(m.chatView.View(), m.files.View())
	return lipgloss.JoinVertical(lipgloss.Left,
		main,
		components.Divider(m.width),
		m.input.View(),
		m.status.View(),
	)
}

func (m *Model) layout() {
	const inputH, dividerH, statusH = 3, 1, 1
	contentH := m.height - inputH - dividerH - statusH
	if contentH < 5 {
		contentH = 5
	}

	m.split.SetSize(m.width, contentH)
	m.chatView.SetSize(m.split.LeftWidth(), contentH)
	if m.split.Visible {
		m.files.SetSize(m.split.RightWidth(), contentH)
	}
	m.input.SetWidth(m.width)
	m.status.SetWidth(m.width)
	m.viewer.SetSize(m.width, m.height)

	opts := m.deps.Render
	opts.Width = components.ContentWidth(m.split.LeftWidth()) - 2
	if m.renderer != nil && opts.Width == m.renderer.Width() {
		return
	}
	r, err := render.New(opts)
	if err != nil {
		m.deps.Logger.Warn("renderer not resized", "width", opts.Width, "error", err)
		return
	}
	m.renderer = r
	m.chatView.SetRenderer(r)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.viewer.Visible {
		var cmd tea.Cmd
		m.viewer, cmd = m.viewer.Update(msg)
		return m, cmd
	}

	switch msg.Type {
	case tea.KeyCtrlC:
		if m.streaming {
			return m.cancel()
		}
		m.quitting = true
		return m, tea.Quit

	case tea.KeyCtrlT:
		return m.toggleFiles()

	case tea.KeyTab:
		if m.split.Visible && !m.input.PopupVisible() {
			m.split.SwitchFocus()
			m.updateHints()
			return m, nil
		}

	case tea.KeyEsc:
		if m.split.Focused == components.PaneFiles {
			m.split.SwitchFocus()
			m.updateHints()
			return m, nil
		}

	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.chatView, cmd = m.chatView.Update(msg)
		return m, cmd
	}

	if m.split.Visible && m.split.Focused == components.PaneFiles {
		if msg.Type == tea.KeyEnter {
			m.openFile(m.files.Selected())
			return m, nil
		}
		var cmd tea.Cmd
		m.files, cmd = m.files.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleSubmit(value string) (tea.Model, tea.Cmd) {
	if cmd, args, ok := components.ParseSlashCommand(value); ok {
		return m.handleSlashCommand(cmd, args)
	}
	return m.send(value)
}

// send starts a turn. A turn still streaming is cancelled by Send itself.
func (m Model) send(message string) (tea.Model, tea.Cmd) {
	if m.readOnly {
		m.addSystem(components.PlaceholderReadOnly + ".")
		return m, nil
	}
	m.chatView.Add(components.Item{Role: components.RoleUser, Text: message, Timestamp: time.Now()})
	m.cancelling = false
	m.setStreaming(true)
	return m, sendCmd(m.deps.Conversation, message)
}

func (m Model) cancel() (tea.Model, tea.Cmd) {
	m.cancelling = true
	return m, cancelCmd(m.deps.Conversation)
}

func (m Model) handleSnapshot(s turn.Snapshot) (tea.Model, tea.Cmd) {
	m.chatView.Upsert(components.Item{
		ID:          s.ID,
		Role:        components.RoleAssistant,
		Events:      s.Events,
		EditedFiles: s.EditedFiles,
		Notice:      s.Notice,
		Streaming:   s.Status == domain.TurnStreaming,
		Timestamp:   s.StartedAt,
	})

	var cmd tea.Cmd
	if before := m.files.Edited(); len(s.EditedFiles) > 0 {
		m.files.MarkEdited(s.EditedFiles...)
		if m.files.Edited() != before {
			cmd = loadFilesCmd(m.deps.Workspace)
		}
	}

	switch {
	case s.Status == domain.TurnStreaming:
		m.turnID = s.ID
		m.setStreaming(true)
		m.status.Extra = m.spinner.View() + " " + activityOf(s.Events)
	case s.ID == m.turnID:
		m.setStreaming(false)
	}
	return m, cmd
}

func (m Model) handleSlashCommand(cmd string, args []string) (tea.Model, tea.Cmd) {
	switch cmd {
	case "/help":
		m.addSystem(helpText)
		return m, nil

	case "/quit", "/exit":
		m.quitting = true
		return m, tea.Quit

	case "/clear":
		m.chatView.Clear()
		m.addSystem(theme.SymbolSuccess + " Conversation view cleared.")
		return m, nil

	case "/cancel":
		if !m.streaming {
			m.addSystem("No active request to cancel.")
			return m, nil
		}
		return m.cancel()

	case "/files":
		return m.toggleFiles()

	case "/view":
		if len(args) == 0 {
			m.addSystem("Usage: /view <path>")
			return m, nil
		}
		m.openFile(args[0])
		return m, nil

	case "/errors":
		if len(args) > 0 && args[0] == "clear" && m.deps.Errors != nil {
			m.deps.Errors.Reset()
			m.status.Errors = 0
			m.addSystem(theme.SymbolSuccess + " Preview errors cleared.")
			return m, nil
		}
		return m.showErrors()

	case "/fix":
		return m.fix(args)

	default:
		m.addSystem(fmt.Sprintf("Unknown command: %s. Type /help for available commands.", cmd))
		return m, nil
	}
}

func (m Model) toggleFiles() (tea.Model, tea.Cmd) {
	if m.deps.Workspace == nil {
		m.addSystem("No workspace is attached to this chat.")
		return m, nil
	}
	if !m.split.Toggle() && m.width < theme.MinSplitWidth {
		m.addSystem("The terminal is too narrow for the files pane.")
	}
	m.layout()
	m.updateHints()
	return m, loadFilesCmd(m.deps.Workspace)
}

func (m *Model) openFile(path string) {
	if path == "" || m.deps.Workspace == nil {
		return
	}
	content, ok := m.deps.Workspace.Get(path)
	if !ok {
		m.addSystem("No such file: " + path)
		return
	}
	m.viewer.SetSize(m.width, m.height)
	m.viewer.Open(path, m.renderer.Code(path, content))
}

func (m Model) showErrors() (tea.Model, tea.Cmd) {
	errs := m.previewErrors()
	if len(errs) == 0 {
		m.addSystem("No preview errors.")
		return m, nil
	}
	var sb strings.Builder
	for i, e := range errs {
		fmt.Fprintf(&sb, "%d. [%s] %s", i+1, e.Kind, e.Message)
		if e.Source != "" {
			fmt.Fprintf(&sb, " (%s", e.Source)
			if e.Line > 0 {
				fmt.Fprintf(&sb, ":%d", e.Line)
			}
			sb.WriteString(")")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nUse /fix <n> to ask the assistant to fix one.")
	m.addSystem(sb.String())
	return m, nil
}

func (m Model) fix(args []string) (tea.Model, tea.Cmd) {
	errs := m.previewErrors()
	if len(errs) == 0 {
		m.addSystem("No preview errors to fix.")
		return m, nil
	}
	idx := len(errs) - 1
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 || n > len(errs) {
			m.addSystem(fmt.Sprintf("Usage: /fix [1-%d]", len(errs)))
			return m, nil
		}
		idx = n - 1
	}
	return m.send(errorsink.FixPrompt(errs[idx]))
}

func (m Model) previewErrors() []domain.PreviewError {
	if m.deps.Errors == nil {
		return nil
	}
	return m.deps.Errors.Errors()
}

func (m *Model) addHistory(entries []turn.Entry) {
	for _, e := range entries {
		it := components.Item{
			Text:        e.Text,
			Events:      e.Events,
			EditedFiles: e.EditedFiles,
			Notice:      e.Notice,
			Role:        components.RoleAssistant,
		}
		if e.Role == domain.ChatRoleUser {
			it.Role = components.RoleUser
		}
		if e.CreatedAt != nil {
			it.Timestamp = *e.CreatedAt
		}
		m.chatView.Add(it)
		if len(e.EditedFiles) > 0 {
			m.files.MarkEdited(e.EditedFiles...)
		}
	}
}

func (m *Model) addSystem(text string) {
	m.chatView.Add(components.Item{Role: components.RoleSystem, Text: text})
}

func (m *Model) addError(err error) {
	m.chatView.Add(components.Item{Role: components.RoleError, Text: uxerror.Humanize(err).Render()})
}

func (m *Model) setStreaming(on bool) {
	m.streaming = on
	if on {
		if m.status.Extra == "" {
			m.status.Extra = m.spinner.View() + " Thinking" + theme.SymbolEllipsis
		}
	} else {
		m.status.Extra = ""
	}
	m.updateHints()
}

func (m *Model) updateHints() {
	switch {
	case m.split.Visible && m.split.Focused == components.PaneFiles:
		m.status.Hints = []components.KeyHint{
			{Key: "j/k", Desc: "Select"},
			{Key: "Enter", Desc: "Open"},
			{Key: "Tab", Desc: "Chat"},
			{Key: "Ctrl+T", Desc: "Close"},
		}
	case m.streaming:
		m.status.Hints = []components.KeyHint{
			{Key: "Ctrl+C", Desc: "Cancel"},
			{Key: "PgUp/PgDn", Desc: "Scroll"},
		}
	default:
		m.status.Hints = defaultHints()
	}
}

func (m Model) activity() string {
	for i := len(m.chatView.Items) - 1; i >= 0; i-- {
		if it := m.chatView.Items[i]; it.ID == m.turnID {
			return activityOf(it.Events)
		}
	}
	return "Thinking" + theme.SymbolEllipsis
}

// activityOf describes what the last event of a streaming turn is doing.
func activityOf(events []domain.StreamEvent) string {
	if len(events) == 0 {
		return "Thinking" + theme.SymbolEllipsis
	}
	last := events[len(events)-1]
	switch last.Kind {
	case domain.KindFileEdit:
		return "Editing " + last.FilePath + theme.SymbolEllipsis
	case domain.KindToolLog:
		return "Reading files" + theme.SymbolEllipsis
	default:
		return "Writing" + theme.SymbolEllipsis
	}
}

func defaultHints() []components.KeyHint {
	return []components.KeyHint{
		{Key: "Enter", Desc: "Send"},
		{Key: "Alt+Enter", Desc: "Newline"},
		{Key: "Ctrl+T", Desc: "Files"},
		{Key: "/help", Desc: "Help"},
		{Key: "Ctrl+C", Desc: "Quit"},
	}
}

// Run starts the chat and blocks until the user quits or ctx ends.
func Run(ctx context.Context, m Model, fwd *Forwarder, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	}, opts...)
	p := tea.NewProgram(m, opts...)
	if fwd != nil {
		fwd.Attach(p)
		defer fwd.Attach(nil)
	}
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
