package turn

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"project-companion/internal/domain"
	"project-companion/internal/usecase/markup"
)

// FailureMessage is shown after the partial content of a failed turn.
const FailureMessage = "Sorry, an error occurred."

// Snapshot is an immutable view of a turn at one point in time.
type Snapshot struct {
	ID          string
	ProjectID   string
	UserMessage string
	Raw         string
	Events      []domain.StreamEvent
	EditedFiles []string
	Status      domain.TurnStatus
	Err         error
	// Notice is FailureMessage for failed turns and empty otherwise.
	Notice string
	// Streaming reports that the last event may still grow.
	Streaming bool
	StartedAt time.Time
}

// Turn is one user message and the assistant's streamed answer.
type Turn struct {
	id          string
	projectID   string
	userMessage string
	startedAt   time.Time

	conv   *Conversation
	ctx    context.Context
	parser *markup.Parser
	acc    *Accumulator
	bridge *Bridge
	logger *slog.Logger
	done   chan struct{}

	mu     sync.Mutex
	raw    strings.Builder
	events []domain.StreamEvent
	status domain.TurnStatus
	err    error
	stream domain.StreamCanceller
}

func newTurn(ctx context.Context, c *Conversation, message string) *Turn {
	now := time.Now()
	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	acc := NewAccumulator()
	return &Turn{
		id:          id,
		projectID:   c.deps.ProjectID,
		userMessage: message,
		startedAt:   now,
		conv:        c,
		ctx:         domain.ContextWithTurnID(ctx, id),
		parser:      markup.NewParser(),
		acc:         acc,
		bridge:      NewBridge(c.deps.Workspace, acc),
		logger:      c.deps.Logger.With("turn_id", id),
		done:        make(chan struct{}),
		status:      domain.TurnStreaming,
	}
}

// ID returns the turn's ULID.
func (t *Turn) ID() string { return t.id }

// Done is closed once the turn reaches a terminal status.
func (t *Turn) Done() <-chan struct{} { return t.done }

// Wait blocks until the turn ends or ctx is done. It returns nil for a
// completed turn, the stream error for a failed one and
// domain.ErrTurnCancelled for a cancelled one.
func (t *Turn) Wait(ctx context.Context) error {
	select {
	case <-t.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.status {
	case domain.TurnFailed:
		return t.err
	case domain.TurnCancelled:
		return domain.ErrTurnCancelled
	}
	return nil
}

// Snapshot returns a copy of the turn's current state.
func (t *Turn) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Turn) snapshotLocked() Snapshot {
	s := Snapshot{
		ID:          t.id,
		ProjectID:   t.projectID,
		UserMessage: t.userMessage,
		Raw:         t.raw.String(),
		EditedFiles: t.acc.Paths(),
		Status:      t.status,
		Err:         t.err,
		Streaming:   t.status == domain.TurnStreaming && len(t.events) > 0,
		StartedAt:   t.startedAt,
	}
	if len(t.events) > 0 {
		s.Events = make([]domain.StreamEvent, len(t.events))
		copy(s.Events, t.events)
	}
	if t.status == domain.TurnFailed {
		s.Notice = FailureMessage
	}
	return s
}

// Cancel stops the turn. A turn that already ended is left unchanged. When
// Cancel returns no further stream callback reaches the turn.
func (t *Turn) Cancel() {
	t.mu.Lock()
	if t.status.Terminal() {
		t.mu.Unlock()
		return
	}
	t.status = domain.TurnCancelled
	stream := t.stream
	snap := t.snapshotLocked()
	close(t.done)
	t.mu.Unlock()

	// Stream.Cancel waits for an in-flight callback, which takes t.mu.
	if stream != nil {
		stream.Cancel()
		<-stream.Done()
	}
	t.logger.Info("turn cancelled", "bytes", len(snap.Raw))
	t.conv.publish(t.ctx, domain.EventChatAborted, t.id, nil)
	t.conv.notify(snap)
}

// attach records the stream handle once it is open. A turn cancelled while
// the stream was opening is stopped here.
func (t *Turn) attach(s domain.StreamCanceller) {
	t.mu.Lock()
	t.stream = s
	cancelled := t.status == domain.TurnCancelled
	t.mu.Unlock()
	if cancelled {
		s.Cancel()
	}
}

// watch cancels the turn when its parent context ends first.
func (t *Turn) watch(ctx context.Context) {
	select {
	case <-ctx.Done():
		t.Cancel()
	case <-t.done:
	}
}

func (t *Turn) onText(text string) {
	t.mu.Lock()
	if t.status.Terminal() {
		t.mu.Unlock()
		return
	}
	t.raw.WriteString(text)
	raw := t.raw.String()
	t.events = t.parser.Parse(raw)
	changed, applyErr := t.bridge.Apply(t.events)
	snap := t.snapshotLocked()
	t.mu.Unlock()

	if applyErr != nil {
		t.logger.Warn("file edit not applied", "error", applyErr)
	}
	c := t.conv
	c.publish(t.ctx, domain.EventStreamDelta, t.id, domain.StreamDeltaPayload{
		TurnID: t.id, Text: text, Length: len(raw),
	})
	c.publish(t.ctx, domain.EventEventsUpdated, t.id, domain.EventsUpdatedPayload{
		TurnID: t.id, Events: snap.Events, Streaming: true,
	})
	for _, path := range changed {
		content, _ := c.deps.Workspace.Get(path)
		c.publish(t.ctx, domain.EventFileApplied, t.id, domain.FileAppliedPayload{
			TurnID: t.id, Path: path, Bytes: len(content),
		})
	}
	c.notify(snap)
}

func (t *Turn) onComplete() {
	t.mu.Lock()
	if t.status.Terminal() {
		t.mu.Unlock()
		return
	}
	t.status = domain.TurnCompleted
	snap := t.snapshotLocked()
	close(t.done)
	t.mu.Unlock()

	t.logger.Info("turn completed", "events", len(snap.Events), "edited_files", len(snap.EditedFiles))
	t.conv.persist(t.ctx, snap)
	t.conv.publish(t.ctx, domain.EventStreamCompleted, t.id, domain.StreamCompletedPayload{
		TurnID: t.id, Events: len(snap.Events), EditedFiles: snap.EditedFiles,
	})
	t.conv.notify(snap)
}

func (t *Turn) onError(err error) {
	t.mu.Lock()
	if t.status.Terminal() {
		t.mu.Unlock()
		return
	}
	t.status = domain.TurnFailed
	t.err = err
	snap := t.snapshotLocked()
	close(t.done)
	t.mu.Unlock()

	t.logger.Error("turn failed", "error", err, "bytes", len(snap.Raw))
	t.conv.persist(t.ctx, snap)
	t.conv.publish(t.ctx, domain.EventStreamError, t.id, domain.StreamErrorPayload{
		TurnID: t.id, Error: err.Error(), Code: string(domain.ErrorCodeOf(err)),
	})
	t.conv.notify(snap)
}

// fail ends a turn whose stream never opened.
func (t *Turn) fail(err error) {
	if t.ctx.Err() != nil {
		t.Cancel()
		return
	}
	t.onError(err)
}

// handler adapts a Turn to domain.StreamHandler without exporting the
// callbacks on Turn itself.
type handler struct{ t *Turn }

func (h handler) OnText(text string) { h.t.onText(text) }
func (h handler) OnComplete()        { h.t.onComplete() }
func (h handler) OnError(err error)  { h.t.onError(err) }

var _ domain.StreamHandler = handler{}

func (s Snapshot) record() domain.TurnRecord {
	rec := domain.TurnRecord{
		ID:          s.ID,
		ProjectID:   s.ProjectID,
		UserMessage: s.UserMessage,
		Raw:         s.Raw,
		Events:      s.Events,
		EditedFiles: s.EditedFiles,
		Status:      s.Status,
		CreatedAt:   s.StartedAt,
	}
	if s.Err != nil {
		rec.Error = s.Err.Error()
	}
	return rec
}
