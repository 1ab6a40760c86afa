package markup

import (
	"strings"
	"sync"

	"project-companion/internal/domain"
)

const (
	tagTool    = "tool"
	tagFile    = "file"
	tagMessage = "message"
)

// Parse interprets the cumulative assistant text s and returns its ordered
// stream events. It is a pure function of s: elements appear in the order
// their opening tags occur, an element still waiting for its closing tag is
// reported with the body received so far, and malformed input degrades to
// fewer events rather than an error.
func Parse(s string) []domain.StreamEvent {
	var events []domain.StreamEvent
	scan(s, 0, func(el element) {
		if ev, ok := toEvent(s, el); ok {
			events = append(events, ev)
		}
	})
	return events
}

// toEvent maps an element to its stream event. ok is false when the element
// is suppressed: a file or tool tag without a usable attribute or written
// self-closing, or an unknown tag with nothing in it.
func toEvent(src string, el element) (domain.StreamEvent, bool) {
	content := strings.TrimSpace(src[el.bodyStart:el.bodyEnd])
	ref := el.attr("path", "args")

	switch el.name {
	case tagFile:
		if ref == "" || el.selfClosed {
			return domain.StreamEvent{}, false
		}
		return domain.StreamEvent{Kind: domain.KindFileEdit, Content: content, FilePath: ref}, true
	case tagTool:
		if ref == "" || el.selfClosed {
			return domain.StreamEvent{}, false
		}
		return domain.StreamEvent{Kind: domain.KindToolLog, Content: content, Metadata: ref}, true
	case tagMessage:
		return domain.StreamEvent{Kind: domain.KindMessage, Content: content}, true
	default:
		if content == "" {
			return domain.StreamEvent{}, false
		}
		return domain.StreamEvent{Kind: domain.KindMessage, Content: content}, true
	}
}

// Parser memoizes Parse across calls on a growing buffer. When the new input
// extends the previous one, completed elements are reused and tokenizing
// resumes at the first unresolved construct. Any other input is parsed from
// scratch. Results are identical to Parse. Parser is safe for concurrent use.
type Parser struct {
	mu        sync.Mutex
	input     string
	committed []domain.StreamEvent
	resume    int
}

// NewParser returns an empty Parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse returns the events for s, reusing work from the previous call when
// s extends the previously parsed input.
func (p *Parser) Parse(s string) []domain.StreamEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	from := 0
	var committed []domain.StreamEvent
	if p.input != "" && strings.HasPrefix(s, p.input) {
		from = p.resume
		committed = p.committed[:len(p.committed):len(p.committed)]
	}

	var (
		tail    domain.StreamEvent
		hasTail bool
	)
	resume := scan(s, from, func(el element) {
		ev, ok := toEvent(s, el)
		if !ok {
			return
		}
		if !el.closed {
			tail, hasTail = ev, true
			return
		}
		committed = append(committed, ev)
	})

	p.input, p.committed, p.resume = s, committed, resume

	out := make([]domain.StreamEvent, 0, len(committed)+1)
	out = append(out, committed...)
	if hasTail {
		out = append(out, tail)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Reset discards memoized state, typically at the start of a new turn.
func (p *Parser) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.input, p.committed, p.resume = "", nil, 0
}
