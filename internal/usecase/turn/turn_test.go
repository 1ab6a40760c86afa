package turn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"project-companion/internal/domain"
	"project-companion/internal/infra/logger"
	"project-companion/internal/usecase/eventbus"
	"project-companion/internal/usecase/markup"
)

// --- fakes ---

type fakeStream struct {
	mu      sync.Mutex
	h       domain.StreamHandler
	stopped bool
	done    chan struct{}
	once    sync.Once
}

func (s *fakeStream) text(t string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.h.OnText(t)
	}
}

func (s *fakeStream) complete() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		s.h.OnComplete()
	}
	s.mu.Unlock()
	s.close()
}

func (s *fakeStream) fail(err error) {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		s.h.OnError(err)
	}
	s.mu.Unlock()
	s.close()
}

func (s *fakeStream) close() { s.once.Do(func() { close(s.done) }) }

func (s *fakeStream) Cancel() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.close()
}

func (s *fakeStream) Done() <-chan struct{} { return s.done }

type fakeStreamer struct {
	mu      sync.Mutex
	streams []*fakeStream
	reqs    []domain.ChatStreamRequest
	openErr error
}

func (f *fakeStreamer) Open(_ context.Context, req domain.ChatStreamRequest, h domain.StreamHandler) (domain.StreamCanceller, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.openErr != nil {
		return nil, f.openErr
	}
	s := &fakeStream{h: h, done: make(chan struct{})}
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeStreamer) stream(i int) *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[i]
}

type memWorkspace struct {
	mu    sync.Mutex
	files map[string]string
	sets  int
	deny  string
}

func newMemWorkspace() *memWorkspace { return &memWorkspace{files: make(map[string]string)} }

func (w *memWorkspace) Get(path string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.files[path]
	return c, ok
}

func (w *memWorkspace) Set(path, content string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.deny != "" && path == w.deny {
		return fmt.Errorf("%w: %s", domain.ErrPathOutsideSandbox, path)
	}
	w.files[path] = content
	w.sets++
	return nil
}

func (w *memWorkspace) setCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sets
}

type memStore struct {
	mu   sync.Mutex
	recs []domain.TurnRecord
}

func (m *memStore) SaveTurn(_ context.Context, rec domain.TurnRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memStore) ListTurns(context.Context, string, int) ([]domain.TurnRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.TurnRecord(nil), m.recs...), nil
}

func (m *memStore) GetTurn(_ context.Context, id string) (*domain.TurnRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.recs {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, domain.ErrNotFound
}

type fixture struct {
	conv     *Conversation
	streamer *fakeStreamer
	ws       *memWorkspace
	store    *memStore
}

func newFixture(t *testing.T, mutate ...func(*ConversationDeps)) *fixture {
	t.Helper()
	f := &fixture{streamer: &fakeStreamer{}, ws: newMemWorkspace(), store: &memStore{}}
	deps := ConversationDeps{
		ProjectID: "42",
		Streamer:  f.streamer,
		Workspace: f.ws,
		Store:     f.store,
		Logger:    logger.Discard(),
	}
	for _, m := range mutate {
		m(&deps)
	}
	f.conv = NewConversation(deps)
	t.Cleanup(f.conv.Close)
	return f
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// --- bridge ---

func TestBridgeAppliesOncePerContent(t *testing.T) {
	ws := newMemWorkspace()
	acc := NewAccumulator()
	b := NewBridge(ws, acc)

	events := []domain.StreamEvent{
		{Kind: domain.KindMessage, Content: "hi"},
		{Kind: domain.KindFileEdit, FilePath: "a.ts", Content: "v1"},
	}
	changed, err := b.Apply(events)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.ts"}, changed)

	changed, err = b.Apply(events)
	require.NoError(t, err)
	assert.Empty(t, changed)
	assert.Equal(t, 1, ws.setCount())

	events[1].Content = "v2"
	changed, _ = b.Apply(events)
	assert.Equal(t, []string{"a.ts"}, changed)
	got, _ := ws.Get("a.ts")
	assert.Equal(t, "v2", got)
	assert.Equal(t, []string{"a.ts"}, acc.Paths())
}

func TestBridgeLastWriteWins(t *testing.T) {
	ws := newMemWorkspace()
	acc := NewAccumulator()
	b := NewBridge(ws, acc)

	changed, err := b.Apply([]domain.StreamEvent{
		{Kind: domain.KindFileEdit, FilePath: "b.ts", Content: "first"},
		{Kind: domain.KindFileEdit, FilePath: "a.ts", Content: "only"},
		{Kind: domain.KindFileEdit, FilePath: "b.ts", Content: "second"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b.ts", "a.ts"}, changed)
	got, _ := ws.Get("b.ts")
	assert.Equal(t, "second", got)
	assert.Equal(t, 2, ws.setCount())
	assert.Equal(t, []string{"b.ts", "a.ts"}, acc.Paths())
}

func TestBridgeContinuesPastFailedWrite(t *testing.T) {
	ws := newMemWorkspace()
	ws.deny = "../etc/passwd"
	acc := NewAccumulator()
	b := NewBridge(ws, acc)

	changed, err := b.Apply([]domain.StreamEvent{
		{Kind: domain.KindFileEdit, FilePath: "../etc/passwd", Content: "x"},
		{Kind: domain.KindFileEdit, FilePath: "ok.ts", Content: "y"},
	})
	assert.ErrorIs(t, err, domain.ErrPathOutsideSandbox)
	assert.Equal(t, []string{"ok.ts"}, changed)
	assert.Equal(t, []string{"ok.ts"}, acc.Paths())
}

func TestBridgeKeepsFileOnSelfClosingTag(t *testing.T) {
	ws := newMemWorkspace()
	require.NoError(t, ws.Set("a.ts", "export const a = 1"))
	acc := NewAccumulator()
	b := NewBridge(ws, acc)

	changed, err := b.Apply(markup.Parse(`<message>Touching a.ts</message><file path="a.ts"/>`))
	require.NoError(t, err)
	assert.Empty(t, changed)
	assert.Empty(t, acc.Paths())

	got, _ := ws.Get("a.ts")
	assert.Equal(t, "export const a = 1", got)
	assert.Equal(t, 1, ws.setCount())
}

func TestBridgeAppliesEditAfterUnclosedProseTag(t *testing.T) {
	ws := newMemWorkspace()
	b := NewBridge(ws, NewAccumulator())

	changed, err := b.Apply(markup.Parse(`Use a List<String> here.<file path="a.ts">x</file>`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.ts"}, changed)
	got, _ := ws.Get("a.ts")
	assert.Equal(t, "x", got)
}

func TestAccumulator(t *testing.T) {
	acc := NewAccumulator()
	assert.Nil(t, acc.Paths())
	assert.True(t, acc.Add("a"))
	assert.False(t, acc.Add("a"))
	assert.True(t, acc.Add("b"))
	assert.Equal(t, 2, acc.Len())

	paths := acc.Paths()
	paths[0] = "mutated"
	assert.Equal(t, []string{"a", "b"}, acc.Paths())
}

// --- conversation ---

func TestTurnCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := waitCtx(t)

	tr, err := f.conv.Send(ctx, "  make an app  ")
	require.NoError(t, err)
	require.Len(t, f.streamer.reqs, 1)
	assert.Equal(t, domain.ChatStreamRequest{Message: "make an app", ProjectID: "42"}, f.streamer.reqs[0])

	s := f.streamer.stream(0)
	s.text(`<message>Hello</message><file path="src/App.tsx">export default`)

	snap := tr.Snapshot()
	assert.Equal(t, domain.TurnStreaming, snap.Status)
	assert.True(t, snap.Streaming)
	require.Len(t, snap.Events, 2)
	assert.Equal(t, "export default", snap.Events[1].Content)
	got, _ := f.ws.Get("src/App.tsx")
	assert.Equal(t, "export default", got)

	s.text(` function App(){}</file>`)
	s.complete()
	require.NoError(t, tr.Wait(ctx))

	snap = tr.Snapshot()
	assert.Equal(t, domain.TurnCompleted, snap.Status)
	assert.False(t, snap.Streaming)
	assert.Empty(t, snap.Notice)
	assert.Equal(t, []domain.StreamEvent{
		{Kind: domain.KindMessage, Content: "Hello"},
		{Kind: domain.KindFileEdit, FilePath: "src/App.tsx", Content: "export default function App(){}"},
	}, snap.Events)
	assert.Equal(t, []string{"src/App.tsx"}, snap.EditedFiles)
	got, _ = f.ws.Get("src/App.tsx")
	assert.Equal(t, "export default function App(){}", got)

	recs, _ := f.store.ListTurns(ctx, "42", 10)
	require.Len(t, recs, 1)
	assert.Equal(t, tr.ID(), recs[0].ID)
	assert.Equal(t, domain.TurnCompleted, recs[0].Status)
	assert.Equal(t, snap.Raw, recs[0].Raw)
	assert.Equal(t, "make an app", recs[0].UserMessage)
}

func TestTurnFailureKeepsPartialContent(t *testing.T) {
	f := newFixture(t)
	ctx := waitCtx(t)

	tr, err := f.conv.Send(ctx, "hi")
	require.NoError(t, err)
	s := f.streamer.stream(0)
	s.text("<message>partial")
	s.fail(fmt.Errorf("%w: connection dropped mid-stream", domain.ErrStreamFailed))

	err = tr.Wait(ctx)
	assert.ErrorIs(t, err, domain.ErrStreamFailed)

	snap := tr.Snapshot()
	assert.Equal(t, domain.TurnFailed, snap.Status)
	assert.Equal(t, FailureMessage, snap.Notice)
	require.Len(t, snap.Events, 1)
	assert.Equal(t, "partial", snap.Events[0].Content)
	assert.False(t, snap.Streaming)

	// Nothing after the terminal callback changes the turn.
	s.text("more")
	assert.Equal(t, "<message>partial", tr.Snapshot().Raw)

	recs, _ := f.store.ListTurns(ctx, "42", 10)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.TurnFailed, recs[0].Status)
	assert.Contains(t, recs[0].Error, "connection dropped")
}

func TestNewTurnCancelsPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := waitCtx(t)

	first, err := f.conv.Send(ctx, "one")
	require.NoError(t, err)
	old := f.streamer.stream(0)
	old.text("<message>first")

	second, err := f.conv.Send(ctx, "two")
	require.NoError(t, err)
	assert.Same(t, second, f.conv.Current())

	assert.ErrorIs(t, first.Wait(ctx), domain.ErrTurnCancelled)
	old.text(" stale")
	old.complete()
	assert.Equal(t, "<message>first", first.Snapshot().Raw)
	assert.Equal(t, domain.TurnCancelled, first.Snapshot().Status)

	f.streamer.stream(1).text("<message>second</message>")
	f.streamer.stream(1).complete()
	require.NoError(t, second.Wait(ctx))

	recs, _ := f.store.ListTurns(ctx, "42", 10)
	require.Len(t, recs, 1, "cancelled turns are discarded")
	assert.Equal(t, second.ID(), recs[0].ID)
	assert.NotEqual(t, first.ID(), second.ID())
}

func TestOpenErrorFailsTurn(t *testing.T) {
	f := newFixture(t)
	f.streamer.openErr = fmt.Errorf("%w: HTTP 401", domain.ErrAuthInvalid)

	tr, err := f.conv.Send(waitCtx(t), "hi")
	require.ErrorIs(t, err, domain.ErrAuthInvalid)
	require.NotNil(t, tr)
	assert.Equal(t, domain.TurnFailed, tr.Snapshot().Status)
	assert.Equal(t, FailureMessage, tr.Snapshot().Notice)
	assert.ErrorIs(t, tr.Wait(waitCtx(t)), domain.ErrAuthInvalid)
}

func TestParentContextCancelCancelsTurn(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	tr, err := f.conv.Send(ctx, "hi")
	require.NoError(t, err)
	cancel()

	assert.ErrorIs(t, tr.Wait(waitCtx(t)), domain.ErrTurnCancelled)
	select {
	case <-f.streamer.stream(0).Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream not cancelled")
	}
}

func TestCancelKeepsConversationOpen(t *testing.T) {
	f := newFixture(t)
	ctx := waitCtx(t)

	f.conv.Cancel() // no turn yet

	tr, err := f.conv.Send(ctx, "hi")
	require.NoError(t, err)
	f.conv.Cancel()
	assert.ErrorIs(t, tr.Wait(ctx), domain.ErrTurnCancelled)

	next, err := f.conv.Send(ctx, "again")
	require.NoError(t, err)
	assert.Equal(t, domain.TurnStreaming, next.Snapshot().Status)
}

func TestCloseRejectsSends(t *testing.T) {
	f := newFixture(t)
	ctx := waitCtx(t)

	tr, err := f.conv.Send(ctx, "hi")
	require.NoError(t, err)
	f.conv.Close()

	assert.ErrorIs(t, tr.Wait(ctx), domain.ErrTurnCancelled)
	_, err = f.conv.Send(ctx, "again")
	assert.ErrorIs(t, err, domain.ErrConversationEnd)
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	f := newFixture(t)
	_, err := f.conv.Send(waitCtx(t), "   ")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Nil(t, f.conv.Current())
}

func TestWaitHonoursContext(t *testing.T) {
	f := newFixture(t)
	tr, err := f.conv.Send(context.Background(), "hi")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tr.Wait(ctx), context.DeadlineExceeded)
}

func TestTurnPublishesLifecycle(t *testing.T) {
	bus := eventbus.New(logger.Discard())
	var mu sync.Mutex
	var types []domain.EventType
	var applied []string
	bus.SubscribeAll(func(_ context.Context, e domain.Event) {
		mu.Lock()
		defer mu.Unlock()
		types = append(types, e.Type)
	})
	bus.Subscribe(domain.EventFileApplied, func(_ context.Context, e domain.Event) {
		mu.Lock()
		defer mu.Unlock()
		applied = append(applied, string(e.Payload))
	})

	f := newFixture(t, func(d *ConversationDeps) { d.Bus = bus })
	ctx := waitCtx(t)
	tr, err := f.conv.Send(ctx, "hi")
	require.NoError(t, err)
	s := f.streamer.stream(0)
	s.text(`<file path="a.js">1</file>`)
	s.text(`<message>done</message>`)
	s.complete()
	require.NoError(t, tr.Wait(ctx))
	bus.Close()

	assert.Equal(t, []domain.EventType{
		domain.EventTurnStarted,
		domain.EventStreamDelta, domain.EventEventsUpdated, domain.EventFileApplied,
		domain.EventStreamDelta, domain.EventEventsUpdated,
		domain.EventStreamCompleted,
	}, types)
	require.Len(t, applied, 1, "unchanged file is not re-applied")
	assert.Contains(t, applied[0], `"path":"a.js"`)
}

func TestOnUpdateSeesStreamingFlag(t *testing.T) {
	var mu sync.Mutex
	var snaps []Snapshot
	f := newFixture(t, func(d *ConversationDeps) {
		d.OnUpdate = func(s Snapshot) {
			mu.Lock()
			snaps = append(snaps, s)
			mu.Unlock()
		}
	})
	ctx := waitCtx(t)
	tr, err := f.conv.Send(ctx, "hi")
	require.NoError(t, err)
	s := f.streamer.stream(0)
	s.text("<message>a")
	s.text("b</message>")
	s.complete()
	require.NoError(t, tr.Wait(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, snaps, 4)
	assert.False(t, snaps[0].Streaming, "no events yet")
	assert.True(t, snaps[1].Streaming)
	assert.True(t, snaps[2].Streaming)
	assert.False(t, snaps[3].Streaming)
	assert.Equal(t, domain.TurnCompleted, snaps[3].Status)
}

func TestSnapshotIsCopy(t *testing.T) {
	f := newFixture(t)
	tr, err := f.conv.Send(waitCtx(t), "hi")
	require.NoError(t, err)
	f.streamer.stream(0).text(`<file path="x">1</file>`)

	snap := tr.Snapshot()
	snap.Events[0].Content = "mutated"
	snap.EditedFiles[0] = "mutated"
	again := tr.Snapshot()
	assert.Equal(t, "1", again.Events[0].Content)
	assert.Equal(t, []string{"x"}, again.EditedFiles)
}

func TestStoreErrorDoesNotFailTurn(t *testing.T) {
	f := newFixture(t, func(d *ConversationDeps) { d.Store = &failingStore{} })
	ctx := waitCtx(t)
	tr, err := f.conv.Send(ctx, "hi")
	require.NoError(t, err)
	f.streamer.stream(0).complete()
	assert.NoError(t, tr.Wait(ctx))
}

type failingStore struct{ memStore }

func (*failingStore) SaveTurn(context.Context, domain.TurnRecord) error {
	return errors.New("disk full")
}
