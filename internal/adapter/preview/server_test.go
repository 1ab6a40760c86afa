package preview

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"project-companion/internal/domain"
	"project-companion/internal/infra/config"
	"project-companion/internal/infra/logger"
	"project-companion/internal/usecase/errorsink"
	"project-companion/internal/usecase/eventbus"
)

type harness struct {
	srv  *Server
	http *httptest.Server
	sink *errorsink.Sink
	bus  *eventbus.Bus
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	bus := eventbus.New(logger.Discard())
	t.Cleanup(bus.Close)
	sink := errorsink.New(errorsink.Options{ConsoleDebounce: -1, Logger: logger.Discard()})

	opts.Logger = logger.Discard()
	srv := NewServer(sink, bus, opts)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Stop(context.Background())
		hs.Close()
	})
	return &harness{srv: srv, http: hs, sink: sink, bus: bus}
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(h.http.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close(websocket.StatusNormalClosure, "") })
	require.Eventually(t, func() bool { return h.srv.Clients() > 0 }, 2*time.Second, 5*time.Millisecond)
	return ws
}

func writeFrame(t *testing.T, ws *websocket.Conn, f Frame) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, ws, f))
}

func errorFrame(kind, message string) Frame {
	payload, _ := json.Marshal(map[string]any{
		"message": message,
		"source":  "http://localhost:5173/src/App.tsx",
		"lineno":  12,
		"colno":   4,
		"stack":   "Error: " + message,
		"type":    "Runtime Error",
	})
	return Frame{Type: FrameTypePreviewError, SubType: kind, Payload: payload, Timestamp: 1700000000000}
}

func TestPreviewErrorFrameReachesSink(t *testing.T) {
	h := newHarness(t, Options{})
	ws := h.dial(t)

	writeFrame(t, ws, errorFrame("RUNTIME_ERROR", "x is not defined"))

	require.Eventually(t, func() bool { return len(h.sink.Errors()) == 1 }, 2*time.Second, 5*time.Millisecond)
	e := h.sink.Errors()[0]
	assert.Equal(t, domain.PreviewRuntimeError, e.Kind)
	assert.Equal(t, "x is not defined", e.Message)
	assert.Equal(t, 12, e.Line)
	assert.Equal(t, 4, e.Column)
	assert.Equal(t, "Error: x is not defined", e.Stack)
	assert.Equal(t, time.UnixMilli(1700000000000), e.Timestamp)
}

func TestInvalidFramesAreIgnored(t *testing.T) {
	h := newHarness(t, Options{})
	ws := h.dial(t)

	writeFrame(t, ws, errorFrame("NOT_A_KIND", "nope"))
	writeFrame(t, ws, Frame{Type: FrameTypePreviewError, SubType: "RUNTIME_ERROR", Payload: json.RawMessage(`"oops"`)})
	writeFrame(t, ws, Frame{Type: "Hello"})
	writeFrame(t, ws, errorFrame("console_error", "lower-case kind"))

	require.Eventually(t, func() bool { return len(h.sink.Errors()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.PreviewConsoleError, h.sink.Errors()[0].Kind)
}

func TestPageLoadResetsSink(t *testing.T) {
	h := newHarness(t, Options{})
	ws := h.dial(t)

	writeFrame(t, ws, errorFrame("RUNTIME_ERROR", "first"))
	require.Eventually(t, func() bool { return len(h.sink.Errors()) == 1 }, 2*time.Second, 5*time.Millisecond)

	writeFrame(t, ws, Frame{Type: FrameTypePageLoad})
	require.Eventually(t, func() bool { return len(h.sink.Errors()) == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestBusEventsAreForwarded(t *testing.T) {
	h := newHarness(t, Options{})
	ws := h.dial(t)

	h.bus.Publish(context.Background(), domain.NewEvent(domain.EventStreamDelta, "T1", nil))
	h.bus.Publish(context.Background(), domain.NewEvent(domain.EventFileApplied, "T1",
		domain.FileAppliedPayload{TurnID: "T1", Path: "src/App.tsx", Bytes: 10}))
	h.bus.Publish(context.Background(), domain.NewEvent(domain.EventStreamCompleted, "T1", nil))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var types []domain.EventType
	for len(types) < 2 {
		var f Frame
		require.NoError(t, wsjson.Read(ctx, ws, &f))
		require.Equal(t, FrameTypeEvent, f.Type)
		var ev domain.Event
		require.NoError(t, json.Unmarshal(f.Payload, &ev))
		types = append(types, ev.Type)
	}
	assert.ElementsMatch(t, []domain.EventType{domain.EventFileApplied, domain.EventStreamCompleted}, types)
}

func TestRateLimitDropsFrames(t *testing.T) {
	h := newHarness(t, Options{RateLimit: 0.001, RateBurst: 1})
	ws := h.dial(t)

	for i := 0; i < 3; i++ {
		writeFrame(t, ws, errorFrame("RUNTIME_ERROR", "boom"))
	}
	require.Eventually(t, func() bool { return h.srv.Dropped() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, h.sink.Errors(), 1)
}

func TestResetEndpoint(t *testing.T) {
	h := newHarness(t, Options{})
	h.sink.Report(domain.PreviewError{Kind: domain.PreviewRuntimeError, Message: "x"})

	resp, err := http.Get(h.http.URL + "/reset")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Len(t, h.sink.Errors(), 1)

	resp, err = http.Post(h.http.URL+"/reset", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, h.sink.Errors())
}

func TestErrorsEndpoint(t *testing.T) {
	h := newHarness(t, Options{})

	resp, err := http.Get(h.http.URL + "/errors")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.JSONEq(t, `[]`, string(body))

	h.sink.Report(domain.PreviewError{Kind: domain.PreviewCompileError, Message: "Build Error"})
	resp, err = http.Get(h.http.URL + "/errors")
	require.NoError(t, err)
	defer resp.Body.Close()

	var errs []domain.PreviewError
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errs))
	require.Len(t, errs, 1)
	assert.Equal(t, domain.PreviewCompileError, errs[0].Kind)
}

func TestCatcherScriptServed(t *testing.T) {
	h := newHarness(t, Options{})

	resp, err := http.Get(h.http.URL + "/catcher.js")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "javascript")
	assert.Contains(t, string(body), "PreviewError")
}

func TestForeignOriginRejected(t *testing.T) {
	h := newHarness(t, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(h.http.URL, "http")+"/ws", &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"https://evil.example"}},
	})
	assert.Error(t, err)
}

func TestAllowedOriginAccepted(t *testing.T) {
	h := newHarness(t, Options{AllowedOrigins: []string{"preview.example"}})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(h.http.URL, "http")+"/ws", &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"https://preview.example"}},
	})
	require.NoError(t, err)
	ws.Close(websocket.StatusNormalClosure, "")
}

func TestStartAndStop(t *testing.T) {
	sink := errorsink.New(errorsink.Options{Logger: logger.Discard()})
	srv := NewServer(sink, nil, Options{Addr: "127.0.0.1:0", Logger: logger.Discard()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	require.Eventually(t, func() bool { return srv.BoundAddr() != "" }, 3*time.Second, 5*time.Millisecond)
	resp, err := http.Get("http://" + srv.BoundAddr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Defaults().Preview
	opts := OptionsFromConfig(cfg, nil)
	assert.Equal(t, cfg.Addr, opts.Addr)
	assert.Equal(t, cfg.RateLimit, opts.RateLimit)
	assert.Equal(t, cfg.RateBurst, opts.RateBurst)
	assert.Equal(t, cfg.RequestLimit, opts.RequestLimit)
}

func TestRequestLimitAppliesToHTTPEndpoints(t *testing.T) {
	h := newHarness(t, Options{RequestLimit: 1})

	var codes []int
	for i := 0; i < 3; i++ {
		resp, err := http.Get(h.http.URL + "/errors")
		require.NoError(t, err)
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	resp, err := http.Get(h.http.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestResponsesCarrySecurityHeaders(t *testing.T) {
	h := newHarness(t, Options{})

	resp, err := http.Get(h.http.URL + "/catcher.js")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
}
