// Package render turns parsed assistant output into terminal text. Messages
// become markdown, file edits become highlighted code, and tool logs become
// one-line badges.
package render

import (
	"bytes"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/glamour"

	"project-companion/internal/adapter/tui/theme"
	"project-companion/internal/domain"
)

// Defaults.
const (
	DefaultWidth     = 80
	DefaultCodeStyle = "monokai"
)

// Options configures a Renderer.
type Options struct {
	// Width is the wrap width for markdown. Zero means DefaultWidth.
	Width int
	// MarkdownStyle is a glamour standard style ("dark", "light", "notty",
	// ...). Empty picks one from the terminal.
	MarkdownStyle string
	// CodeStyle is a chroma style name. Empty means DefaultCodeStyle.
	CodeStyle string
	// Color enables ANSI colors in highlighted code.
	Color bool
	// ShowCode renders FileEdit bodies. When false a FileEdit is only a
	// one-line "Edited <file>" badge.
	ShowCode bool
	// CodeTail limits a still-streaming FileEdit to its last lines. Zero
	// shows everything.
	CodeTail int
	// ExpandFiles lists every file of a multi-file tool log instead of
	// "+N more".
	ExpandFiles bool
}

// Renderer renders events. It is safe for concurrent use.
type Renderer struct {
	opts Options

	mu sync.Mutex
	md *glamour.TermRenderer
}

// New creates a Renderer.
func New(opts Options) (*Renderer, error) {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.CodeStyle == "" {
		opts.CodeStyle = DefaultCodeStyle
	}

	styleOpt := glamour.WithAutoStyle()
	if opts.MarkdownStyle != "" {
		styleOpt = glamour.WithStandardStyle(opts.MarkdownStyle)
	}
	md, err := glamour.NewTermRenderer(styleOpt, glamour.WithWordWrap(opts.Width))
	if err != nil {
		return nil, fmt.Errorf("markdown renderer: %w", err)
	}
	return &Renderer{opts: opts, md: md}, nil
}

// Width returns the wrap width.
func (r *Renderer) Width() int { return r.opts.Width }

// Events renders events in order. When streaming is true the last event is
// drawn as still in progress; every earlier one is finished.
func (r *Renderer) Events(events []domain.StreamEvent, streaming bool) string {
	parts := make([]string, 0, len(events))
	for i, ev := range events {
		loading := streaming && i == len(events)-1
		if s := r.Event(ev, loading); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

// Event renders a single event.
func (r *Renderer) Event(ev domain.StreamEvent, loading bool) string {
	switch ev.Kind {
	case domain.KindMessage:
		out := r.Markdown(ev.Content)
		if loading {
			out = strings.TrimRight(out, "\n ") + " " + theme.Cursor.Render(theme.SymbolCursor)
		}
		return out
	case domain.KindThought:
		icon := theme.SymbolThought
		if loading {
			icon = theme.SymbolSpinner
		}
		return "  " + icon + " " + theme.Thought.Render(ev.Content)
	case domain.KindToolLog:
		return r.fileBadges("Read", ev.AffectedFiles(), theme.SymbolArrowR, r.opts.ExpandFiles)
	case domain.KindFileEdit:
		if ev.FilePath == "" {
			return ""
		}
		label := "Edited"
		icon := theme.SymbolEdit
		if loading {
			label = "Editing"
			icon = theme.SymbolSpinner
		}
		head := r.fileBadges(label, []string{ev.FilePath}, icon, false)
		if !r.opts.ShowCode || ev.Content == "" {
			return head
		}
		code := ev.Content
		if loading && r.opts.CodeTail > 0 {
			code = tail(code, r.opts.CodeTail)
		}
		return head + "\n" + theme.CodeFrame.Render(strings.TrimRight(r.Code(ev.FilePath, code), "\n"))
	}
	return ""
}

// fileBadges renders "<icon> <label> <first file> +N more", one line per
// file when expand is set. Nothing is drawn for an empty list.
func (r *Renderer) fileBadges(label string, files []string, icon string, expand bool) string {
	if len(files) == 0 {
		return ""
	}
	line := func(file string) string {
		return "  " + theme.TextMuted.Render(icon) + " " + theme.EventLabel.Render(label) + " " +
			theme.FileBadge.Render(path.Base(file))
	}

	first := line(files[0])
	if len(files) == 1 {
		return first
	}
	if !expand {
		return first + " " + theme.TextMuted.Render(fmt.Sprintf("+%d more", len(files)-1))
	}
	lines := []string{first}
	for _, f := range files[1:] {
		lines = append(lines, line(f))
	}
	return strings.Join(lines, "\n")
}

// Markdown renders markdown text. Rendering failures fall back to the raw
// text.
func (r *Renderer) Markdown(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	r.mu.Lock()
	out, err := r.md.Render(s)
	r.mu.Unlock()
	if err != nil {
		return "  " + s
	}
	return strings.Trim(out, "\n")
}

// Code highlights content using a lexer picked from filename.
func (r *Renderer) Code(filename, content string) string {
	lexer := lexers.Match(filename)
	if lexer == nil {
		lexer = lexers.Analyse(content)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	formatter := formatters.NoOp
	if r.opts.Color {
		formatter = formatters.TTY256
	}
	style := styles.Get(r.opts.CodeStyle)

	it, err := lexer.Tokenise(nil, content)
	if err != nil {
		return content
	}
	var buf bytes.Buffer
	if err := formatter.Format(&buf, style, it); err != nil {
		return content
	}
	return buf.String()
}

// EditedFiles renders the summary line shown under an assistant answer.
func EditedFiles(paths []string) string {
	switch len(paths) {
	case 0:
		return ""
	case 1:
		return theme.TextSuccess.Render(theme.SymbolSuccess) + " Edited 1 file: " + paths[0]
	}
	return theme.TextSuccess.Render(theme.SymbolSuccess) +
		fmt.Sprintf(" Edited %d files: %s", len(paths), strings.Join(paths, ", "))
}

func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return s
	}
	return theme.SymbolEllipsis + "\n" + strings.Join(lines[len(lines)-n:], "\n")
}

var (
	defaultOnce sync.Once
	defaultR    *Renderer
)

// Events renders with a shared plain Renderer: terminal-detected markdown
// style, no code bodies.
func Events(events []domain.StreamEvent, streaming bool) string {
	defaultOnce.Do(func() {
		r, err := New(Options{})
		if err != nil {
			r, _ = New(Options{MarkdownStyle: "notty"})
		}
		defaultR = r
	})
	return defaultR.Events(events, streaming)
}
