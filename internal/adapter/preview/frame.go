package preview

import (
	"encoding/json"
	"strings"
	"time"

	"project-companion/internal/domain"
)

// FrameType identifies the kind of frame sent over the WebSocket connection.
type FrameType string

const (
	// FrameTypePreviewError carries an error caught inside the preview page.
	FrameTypePreviewError FrameType = "PreviewError"
	// FrameTypePageLoad is sent by the page when it (re)loads.
	FrameTypePageLoad FrameType = "PageLoad"
	// FrameTypeEvent carries a bus event to the page.
	FrameTypeEvent FrameType = "event"
)

// Frame is the envelope exchanged with preview pages.
type Frame struct {
	Type FrameType `json:"type"`
	// SubType is the preview error kind, e.g. "RUNTIME_ERROR".
	SubType string          `json:"subType,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	// Timestamp is in Unix milliseconds.
	Timestamp int64 `json:"timestamp,omitempty"`
}

// ErrorPayload is the payload of a PreviewError frame.
type ErrorPayload struct {
	Message string  `json:"message"`
	Source  string  `json:"source,omitempty"`
	Line    int     `json:"lineno,omitempty"`
	Column  int     `json:"colno,omitempty"`
	Stack   *string `json:"stack,omitempty"`
	// Type is the page's human label ("Runtime Error"); SubType wins.
	Type string `json:"type,omitempty"`
}

// previewError converts a PreviewError frame. now stamps frames that carry
// no timestamp.
func (f Frame) previewError(now time.Time) (domain.PreviewError, error) {
	var p ErrorPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		return domain.PreviewError{}, err
	}
	e := domain.PreviewError{
		Kind:      domain.PreviewErrorKind(strings.ToUpper(f.SubType)),
		Message:   p.Message,
		Source:    p.Source,
		Line:      p.Line,
		Column:    p.Column,
		Timestamp: now,
	}
	if p.Stack != nil {
		e.Stack = *p.Stack
	}
	if f.Timestamp > 0 {
		e.Timestamp = time.UnixMilli(f.Timestamp)
	}
	return e, nil
}
