// Package errorsink stores runtime errors reported by live preview pages.
package errorsink

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"project-companion/internal/domain"
)

const (
	defaultMaxErrors       = 100
	defaultConsoleDebounce = 500 * time.Millisecond
)

// Options configures a Sink.
type Options struct {
	// MaxErrors bounds how many errors are kept; the oldest go first.
	MaxErrors int
	// ConsoleDebounce drops a console error that arrives within this window
	// of the previous accepted one.
	ConsoleDebounce time.Duration
	// Bus receives a preview.error event per accepted report and a
	// preview.reset event per Reset. Optional.
	Bus    domain.EventBus
	Logger *slog.Logger
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Sink is a bounded, goroutine-safe domain.ErrorSink. The host owns it and
// calls Reset on every page load.
type Sink struct {
	mu          sync.Mutex
	errs        []domain.PreviewError
	lastConsole time.Time
	dropped     int

	max      int
	debounce time.Duration
	bus      domain.EventBus
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Sink.
func New(opts Options) *Sink {
	s := &Sink{
		max:      opts.MaxErrors,
		debounce: opts.ConsoleDebounce,
		bus:      opts.Bus,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if s.max <= 0 {
		s.max = defaultMaxErrors
	}
	if s.debounce < 0 {
		s.debounce = 0
	} else if s.debounce == 0 {
		s.debounce = defaultConsoleDebounce
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Report records e. Reports with an unknown kind or an empty message are
// rejected, as are console errors inside the debounce window.
func (s *Sink) Report(e domain.PreviewError) bool {
	if !e.Kind.IsValid() || strings.TrimSpace(e.Message) == "" {
		s.logger.Debug("preview error rejected", "kind", string(e.Kind))
		return false
	}

	now := s.now()
	s.mu.Lock()
	if e.Kind == domain.PreviewConsoleError {
		if !s.lastConsole.IsZero() && now.Sub(s.lastConsole) <= s.debounce {
			s.mu.Unlock()
			return false
		}
		s.lastConsole = now
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	s.errs = append(s.errs, e)
	if over := len(s.errs) - s.max; over > 0 {
		s.errs = append(s.errs[:0:0], s.errs[over:]...)
		s.dropped += over
	}
	s.mu.Unlock()

	s.logger.Info("preview error",
		"kind", string(e.Kind),
		"message", e.Message,
		"source", e.Source,
		"line", e.Line,
	)
	if s.bus != nil {
		s.bus.Publish(context.Background(), domain.NewEvent(domain.EventPreviewError, "", e))
	}
	return true
}

// Errors returns the errors recorded since the last Reset, oldest first.
func (s *Sink) Errors() []domain.PreviewError {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.PreviewError, len(s.errs))
	copy(out, s.errs)
	return out
}

// Latest returns the most recent error.
func (s *Sink) Latest() (domain.PreviewError, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errs) == 0 {
		return domain.PreviewError{}, false
	}
	return s.errs[len(s.errs)-1], true
}

// Dropped returns how many errors were evicted by the capacity bound since
// the last Reset.
func (s *Sink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Reset forgets every recorded error and the console debounce window.
func (s *Sink) Reset() {
	s.mu.Lock()
	s.errs = nil
	s.dropped = 0
	s.lastConsole = time.Time{}
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(context.Background(), domain.NewEvent(domain.EventPreviewReset, "", nil))
	}
}

// FixPrompt builds the chat message that asks the assistant to fix e.
func FixPrompt(e domain.PreviewError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "I encountered a %s in my application:\n\n", kindLabel(e.Kind))
	fmt.Fprintf(&b, "Error Message: %s\n", e.Message)
	if e.Source != "" {
		fmt.Fprintf(&b, "File: %s\n", e.Source)
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, "Line: %d\n", e.Line)
	}
	stack := e.Stack
	if stack == "" {
		stack = "No stack trace available"
	}
	fmt.Fprintf(&b, "\nStack Trace:\n%s\n\nPlease analyze this error and fix the code to resolve it.", stack)
	return b.String()
}

func kindLabel(k domain.PreviewErrorKind) string {
	switch k {
	case domain.PreviewPromiseRejection:
		return "unhandled promise rejection"
	case domain.PreviewConsoleError:
		return "console error"
	case domain.PreviewCompileError:
		return "compile error"
	default:
		return "runtime error"
	}
}

var _ domain.ErrorSink = (*Sink)(nil)
