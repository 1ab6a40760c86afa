// Package markup interprets the tag markup embedded in streamed assistant
// output. The tokenizer walks the cumulative buffer once, left to right,
// through the states Scanning, InOpenTag, InBody and Done.
package markup

import (
	"strings"
)

// maxOpenTagLen bounds how far an opening tag may extend from its '<'.
// Longer candidates are treated as plain text so prose such as "a < b"
// never holds the tokenizer waiting for a '>' that is not coming.
const maxOpenTagLen = 4096

type state int

const (
	stateScanning state = iota
	stateInOpenTag
	stateInBody
	stateDone
)

func (s state) String() string {
	switch s {
	case stateScanning:
		return "Scanning"
	case stateInOpenTag:
		return "InOpenTag"
	case stateInBody:
		return "InBody"
	case stateDone:
		return "Done"
	default:
		return "unknown"
	}
}

type attr struct {
	name  string // lower-cased
	value string
}

// element is one recognized tag occurrence in the source.
type element struct {
	name       string // lower-cased tag name
	attrs      []attr
	start      int // index of the opening '<'
	bodyStart  int
	bodyEnd    int
	closed     bool // closing tag seen (or self-closing)
	selfClosed bool
}

// attr returns the first non-empty value among names, in source order.
func (e element) attr(names ...string) string {
	for _, a := range e.attrs {
		for _, n := range names {
			if a.name == n && a.value != "" {
				return a.value
			}
		}
	}
	return ""
}

type openResult int

const (
	openIncomplete openResult = iota // buffer ended inside the tag
	openInvalid                      // not a tag; the '<' is literal text
	openComplete                     // '>' reached
	openSelfClosed                   // "/>" reached
)

type tokenizer struct {
	src   string
	pos   int
	state state
	cur   element
}

// scan tokenizes src starting at from, which must be a position where the
// tokenizer is in Scanning state. Every element is passed to emit in the
// order its opening tag appears; an element whose closing tag has not
// arrived is emitted last with closed=false.
//
// scan returns the offset of the first construct that is still unresolved
// (an unclosed element or an incomplete opening tag), or len(src) when
// everything up to the end is final. Scanning src' = src+suffix from that
// offset yields the same elements a full scan of src' would.
func scan(src string, from int, emit func(element)) int {
	t := &tokenizer{src: src, pos: from, state: stateScanning}
	for {
		switch t.state {
		case stateScanning:
			i := strings.IndexByte(t.src[t.pos:], '<')
			if i < 0 {
				t.pos = len(t.src)
				t.state = stateDone
				continue
			}
			start := t.pos + i
			if start+1 >= len(t.src) {
				// A lone trailing '<' may still become a tag.
				return start
			}
			if !isNameStart(t.src[start+1]) {
				t.pos = start + 1
				continue
			}
			t.cur = element{start: start}
			t.pos = start + 1
			t.state = stateInOpenTag

		case stateInOpenTag:
			switch t.openTag() {
			case openIncomplete:
				return t.cur.start
			case openInvalid:
				t.pos = t.cur.start + 1
				t.state = stateScanning
			case openSelfClosed:
				t.cur.bodyStart = t.pos
				t.cur.bodyEnd = t.pos
				t.cur.closed = true
				t.cur.selfClosed = true
				emit(t.cur)
				t.state = stateScanning
			case openComplete:
				t.cur.bodyStart = t.pos
				t.state = stateInBody
			}

		case stateInBody:
			bodyEnd, after, ok := findClose(t.src, t.cur.bodyStart, t.cur.name)
			// Unknown elements also end where a tool, file or message tag
			// opens, so an unclosed "<br>" in prose cannot hide later edits.
			if !isKnownTag(t.cur.name) {
				if next, found := nextKnownOpen(t.src, t.cur.bodyStart); found && (!ok || next < bodyEnd) {
					bodyEnd, after, ok = next, next, true
				}
			}
			if !ok {
				t.cur.bodyEnd = t.cur.bodyStart + partialCloseAt(t.src[t.cur.bodyStart:], t.cur.name)
				emit(t.cur)
				return t.cur.start
			}
			t.cur.bodyEnd = bodyEnd
			t.cur.closed = true
			emit(t.cur)
			t.pos = after
			t.state = stateScanning

		case stateDone:
			return len(t.src)
		}
	}
}

// openTag consumes the tag name and attributes of t.cur. t.pos points just
// past the '<' on entry and just past the '>' on a complete result.
func (t *tokenizer) openTag() openResult {
	res := t.openTagBody()
	if res != openInvalid && t.pos-t.cur.start > maxOpenTagLen {
		return openInvalid
	}
	if res == openIncomplete && len(t.src)-t.cur.start > maxOpenTagLen {
		return openInvalid
	}
	return res
}

func (t *tokenizer) openTagBody() openResult {
	src := t.src
	nameStart := t.pos
	for t.pos < len(src) && isNameChar(src[t.pos]) {
		t.pos++
	}
	if t.pos >= len(src) {
		return openIncomplete
	}
	t.cur.name = strings.ToLower(src[nameStart:t.pos])

	for {
		for t.pos < len(src) && isSpace(src[t.pos]) {
			t.pos++
		}
		if t.pos >= len(src) {
			return openIncomplete
		}

		switch c := src[t.pos]; c {
		case '>':
			t.pos++
			return openComplete
		case '/':
			if t.pos+1 >= len(src) {
				return openIncomplete
			}
			if src[t.pos+1] == '>' {
				t.pos += 2
				return openSelfClosed
			}
			t.pos++
			continue
		case '<':
			return openInvalid
		case '"', '\'', '=':
			// Stray quote or '=' (e.g. an unescaped quote inside a value
			// that already ended): skip it.
			t.pos++
			continue
		}

		res, ok := t.attribute()
		if !ok {
			return res
		}
	}
}

// attribute parses one name[=value] pair. ok is false when parsing must stop
// with res.
func (t *tokenizer) attribute() (res openResult, ok bool) {
	src := t.src
	nameStart := t.pos
	for t.pos < len(src) && isAttrNameChar(src[t.pos]) {
		t.pos++
	}
	name := strings.ToLower(src[nameStart:t.pos])

	for t.pos < len(src) && isSpace(src[t.pos]) {
		t.pos++
	}
	if t.pos >= len(src) {
		return openIncomplete, false
	}
	if src[t.pos] != '=' {
		t.addAttr(name, "")
		return 0, true
	}
	t.pos++
	for t.pos < len(src) && isSpace(src[t.pos]) {
		t.pos++
	}
	if t.pos >= len(src) {
		return openIncomplete, false
	}

	switch q := src[t.pos]; q {
	case '"', '\'':
		end := strings.IndexByte(src[t.pos+1:], q)
		if end < 0 {
			return openIncomplete, false
		}
		t.addAttr(name, src[t.pos+1:t.pos+1+end])
		t.pos += end + 2
	case '>':
		t.addAttr(name, "")
	default:
		valStart := t.pos
		for t.pos < len(src) && !isSpace(src[t.pos]) && src[t.pos] != '>' && src[t.pos] != '<' {
			if src[t.pos] == '/' && t.pos+1 < len(src) && src[t.pos+1] == '>' {
				break
			}
			t.pos++
		}
		if t.pos >= len(src) {
			return openIncomplete, false
		}
		t.addAttr(name, src[valStart:t.pos])
	}
	return 0, true
}

func (t *tokenizer) addAttr(name, value string) {
	if name == "" {
		return
	}
	for _, a := range t.cur.attrs {
		if a.name == name {
			return
		}
	}
	t.cur.attrs = append(t.cur.attrs, attr{name: name, value: value})
}

// findClose locates the closing tag for name at or after from. It returns
// the index of its '<' and the index just past its '>'.
func findClose(src string, from int, name string) (bodyEnd, after int, ok bool) {
	for i := from; i < len(src); {
		j := strings.Index(src[i:], "</")
		if j < 0 {
			return 0, 0, false
		}
		k := i + j
		p := k + 2
		if p+len(name) <= len(src) && strings.EqualFold(src[p:p+len(name)], name) {
			q := p + len(name)
			for q < len(src) && isSpace(src[q]) {
				q++
			}
			if q < len(src) && src[q] == '>' {
				return k, q + 1, true
			}
		}
		i = k + 2
	}
	return 0, 0, false
}

// nextKnownOpen returns the index of the first tool, file or message
// opening tag at or after from. A tag name that runs to the end of src may
// still grow into another name and does not match.
func nextKnownOpen(src string, from int) (int, bool) {
	for i := from; i < len(src); {
		j := strings.IndexByte(src[i:], '<')
		if j < 0 {
			return 0, false
		}
		k := i + j
		p := k + 1
		for p < len(src) && isNameChar(src[p]) {
			p++
		}
		if p < len(src) && isKnownTag(strings.ToLower(src[k+1:p])) {
			return k, true
		}
		i = k + 1
	}
	return 0, false
}

func isKnownTag(name string) bool {
	switch name {
	case tagTool, tagFile, tagMessage:
		return true
	}
	return false
}

// partialCloseAt returns the length of body without a trailing, partially
// received closing tag for name ("<", "</", "</fi", "</file  ").
func partialCloseAt(body, name string) int {
	i := strings.LastIndexByte(body, '<')
	if i < 0 {
		return len(body)
	}
	tail := body[i:]
	want := "</" + name
	if len(tail) <= len(want) {
		if strings.EqualFold(tail, want[:len(tail)]) {
			return i
		}
		return len(body)
	}
	if strings.EqualFold(tail[:len(want)], want) && strings.TrimSpace(tail[len(want):]) == "" {
		return i
	}
	return len(body)
}

func isNameStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9') || c == '-' || c == '_' || c == ':' || c == '.'
}

func isAttrNameChar(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', '/', '>', '=', '"', '\'', '<':
		return false
	}
	return true
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}
