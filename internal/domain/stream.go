package domain

import "strings"

// EventKind classifies a structural element of assistant output.
type EventKind string

const (
	// KindThought exists in the rendering vocabulary only; the tag grammar
	// never produces it.
	KindThought  EventKind = "THOUGHT"
	KindMessage  EventKind = "MESSAGE"
	KindFileEdit EventKind = "FILE_EDIT"
	KindToolLog  EventKind = "TOOL_LOG"
)

// StreamEvent is one recognized unit of assistant output.
type StreamEvent struct {
	ID            int64     `json:"id,omitempty"`
	Kind          EventKind `json:"type"`
	Content       string    `json:"content"`
	FilePath      string    `json:"filePath,omitempty"` // FileEdit only
	Metadata      string    `json:"metadata,omitempty"` // ToolLog only: comma-separated paths
	SequenceOrder *int      `json:"sequenceOrder,omitempty"`
}

// AffectedFiles splits a ToolLog's metadata into trimmed, non-empty paths.
func (e StreamEvent) AffectedFiles() []string {
	if e.Metadata == "" {
		return nil
	}
	parts := strings.Split(e.Metadata, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RawFrame is one decoded server-sent-event record.
type RawFrame struct {
	Text string `json:"text"`
	// Done marks an explicit end-of-stream record.
	Done bool `json:"done,omitempty"`
}

// ChatStreamRequest is the body of the streaming chat request.
type ChatStreamRequest struct {
	Message   string `json:"message"`
	ProjectID string `json:"projectId"`
}

// StreamHandler receives transport callbacks for one assistant turn.
// Calls are serialized and arrive in network order. After the stream is
// cancelled no method is called again.
type StreamHandler interface {
	// OnText is called once per decoded record with its literal text.
	OnText(text string)
	// OnComplete is called at most once when the stream ends normally.
	OnComplete()
	// OnError is called at most once when the stream fails.
	OnError(err error)
}

// StreamHandlerFuncs adapts plain functions to StreamHandler. Nil fields are no-ops.
type StreamHandlerFuncs struct {
	Text     func(text string)
	Complete func()
	Error    func(err error)
}

// OnText implements StreamHandler.
func (f StreamHandlerFuncs) OnText(text string) {
	if f.Text != nil {
		f.Text(text)
	}
}

// OnComplete implements StreamHandler.
func (f StreamHandlerFuncs) OnComplete() {
	if f.Complete != nil {
		f.Complete()
	}
}

// OnError implements StreamHandler.
func (f StreamHandlerFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

// StreamCanceller is the cancellation handle returned when a stream opens.
type StreamCanceller interface {
	// Cancel stops the stream. When Cancel returns no further handler
	// callbacks will be delivered. Safe to call more than once.
	Cancel()
	// Done is closed once the read loop has exited.
	Done() <-chan struct{}
}

// StreamDeltaPayload is the payload for EventStreamDelta events.
type StreamDeltaPayload struct {
	TurnID string `json:"turn_id"`
	Text   string `json:"text"`
	Length int    `json:"length"` // cumulative buffer length after the delta
}

// EventsUpdatedPayload is the payload for EventEventsUpdated events.
type EventsUpdatedPayload struct {
	TurnID    string        `json:"turn_id"`
	Events    []StreamEvent `json:"events"`
	Streaming bool          `json:"streaming"`
}

// FileAppliedPayload is the payload for EventFileApplied events.
type FileAppliedPayload struct {
	TurnID string `json:"turn_id"`
	Path   string `json:"path"`
	Bytes  int    `json:"bytes"`
}

// StreamCompletedPayload is the payload for EventStreamCompleted events.
type StreamCompletedPayload struct {
	TurnID      string   `json:"turn_id"`
	Events      int      `json:"events"`
	EditedFiles []string `json:"edited_files,omitempty"`
}

// StreamErrorPayload is the payload for EventStreamError events.
type StreamErrorPayload struct {
	TurnID string `json:"turn_id"`
	Error  string `json:"error"`
	Code   string `json:"code"`
}
