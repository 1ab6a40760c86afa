package domain

import "time"

// PreviewErrorKind is the origin of an error caught inside the preview page.
type PreviewErrorKind string

const (
	PreviewRuntimeError     PreviewErrorKind = "RUNTIME_ERROR"
	PreviewPromiseRejection PreviewErrorKind = "PROMISE_REJECTION"
	PreviewConsoleError     PreviewErrorKind = "CONSOLE_ERROR"
	PreviewCompileError     PreviewErrorKind = "COMPILE_ERROR"
)

// IsValid reports whether k is a known kind.
func (k PreviewErrorKind) IsValid() bool {
	switch k {
	case PreviewRuntimeError, PreviewPromiseRejection, PreviewConsoleError, PreviewCompileError:
		return true
	}
	return false
}

// PreviewError is one error reported by the live preview.
type PreviewError struct {
	Kind      PreviewErrorKind `json:"kind"`
	Message   string           `json:"message"`
	Source    string           `json:"source,omitempty"`
	Line      int              `json:"lineno,omitempty"`
	Column    int              `json:"colno,omitempty"`
	Stack     string           `json:"stack,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// ErrorSink collects preview errors. The embedding host owns the sink and
// calls Reset whenever the preview page reloads.
type ErrorSink interface {
	// Report records err. It returns false when the report was dropped
	// (debounced or invalid).
	Report(err PreviewError) bool
	// Errors returns a copy of the errors recorded since the last Reset.
	Errors() []PreviewError
	// Reset clears recorded errors.
	Reset()
}
