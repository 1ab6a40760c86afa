package preview

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/stretchr/testify/assert"

	"project-companion/internal/domain"
	"project-companion/internal/infra/logger"
	"project-companion/internal/usecase/errorsink"
)

func TestExceptionError(t *testing.T) {
	now := time.Now()
	ev := &runtime.EventExceptionThrown{ExceptionDetails: &runtime.ExceptionDetails{
		Text:         "Uncaught",
		URL:          "http://localhost:5173/src/App.tsx",
		LineNumber:   9,
		ColumnNumber: 2,
		Exception: &runtime.RemoteObject{
			Description: "ReferenceError: x is not defined\n    at App (App.tsx:10:3)",
		},
	}}

	e := exceptionError(ev, now)
	assert.Equal(t, domain.PreviewRuntimeError, e.Kind)
	assert.Equal(t, "ReferenceError: x is not defined", e.Message)
	assert.Equal(t, "    at App (App.tsx:10:3)", e.Stack)
	assert.Equal(t, 10, e.Line)
	assert.Equal(t, 3, e.Column)
	assert.Equal(t, now, e.Timestamp)
}

func TestExceptionErrorPromise(t *testing.T) {
	ev := &runtime.EventExceptionThrown{ExceptionDetails: &runtime.ExceptionDetails{
		Text: "Uncaught (in promise)",
		StackTrace: &runtime.StackTrace{CallFrames: []*runtime.CallFrame{
			{FunctionName: "load", URL: "http://localhost/a.js", LineNumber: 0, ColumnNumber: 4},
		}},
	}}
	e := exceptionError(ev, time.Now())
	assert.Equal(t, domain.PreviewPromiseRejection, e.Kind)
	assert.Equal(t, "Uncaught (in promise)", e.Message)
	assert.Equal(t, "    at load (http://localhost/a.js:1:5)", e.Stack)
}

func TestExceptionErrorWithoutDetails(t *testing.T) {
	e := exceptionError(&runtime.EventExceptionThrown{}, time.Now())
	assert.Equal(t, "Uncaught exception", e.Message)
}

func TestConsoleError(t *testing.T) {
	ev := &runtime.EventConsoleAPICalled{
		Type: runtime.APITypeError,
		Args: []*runtime.RemoteObject{
			{Type: runtime.TypeString, Value: []byte(`"Warning: bad prop"`)},
			{Type: runtime.TypeNumber, Value: []byte(`42`)},
			{Type: runtime.TypeObject, Description: "Object"},
		},
		StackTrace: &runtime.StackTrace{CallFrames: []*runtime.CallFrame{
			{FunctionName: "", URL: "http://localhost/main.js", LineNumber: 4, ColumnNumber: 0},
		}},
	}
	e, ok := consoleError(ev, time.Now())
	assert.True(t, ok)
	assert.Equal(t, domain.PreviewConsoleError, e.Kind)
	assert.Equal(t, "Warning: bad prop 42 Object", e.Message)
	assert.Equal(t, "http://localhost/main.js", e.Source)
	assert.Equal(t, 5, e.Line)
	assert.Contains(t, e.Stack, "<anonymous>")
}

func TestConsoleLogIgnored(t *testing.T) {
	_, ok := consoleError(&runtime.EventConsoleAPICalled{Type: runtime.APITypeLog}, time.Now())
	assert.False(t, ok)
}

func TestProbeRejectsBadURL(t *testing.T) {
	sink := errorsink.New(errorsink.Options{Logger: logger.Discard()})
	for _, u := range []string{"", "file:///etc/passwd", "localhost:5173", "http://"} {
		_, err := Probe(context.Background(), u, sink, ProbeOptions{Logger: logger.Discard()})
		assert.ErrorIs(t, err, domain.ErrInvalidInput, u)
	}
}
