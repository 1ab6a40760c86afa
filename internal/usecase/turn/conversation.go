package turn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"project-companion/internal/domain"
	"project-companion/internal/infra/tracer"
)

const persistTimeout = 5 * time.Second

// ConversationDeps holds injected dependencies for a Conversation.
type ConversationDeps struct {
	ProjectID string
	Streamer  domain.ChatStreamer
	Workspace domain.Workspace
	Store     domain.TurnStore // optional, nil = turns are not cached
	Bus       domain.EventBus  // optional, nil = no events
	Logger    *slog.Logger
	// OnUpdate, when set, receives a snapshot after every change to the
	// current turn. It runs on the stream goroutine and must not call Send,
	// Close or Turn.Cancel synchronously.
	OnUpdate func(Snapshot)
}

// Conversation runs assistant turns for one project, one at a time.
type Conversation struct {
	deps ConversationDeps

	// sendMu serializes Send and Close so a new turn never opens before the
	// previous one has stopped.
	sendMu  sync.Mutex
	mu      sync.Mutex
	current *Turn
	closed  bool
}

// NewConversation creates a Conversation.
func NewConversation(deps ConversationDeps) *Conversation {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Logger = deps.Logger.With("project_id", deps.ProjectID)
	return &Conversation{deps: deps}
}

// Send cancels any turn still streaming and starts a new one for message.
// If the stream cannot be opened the returned turn has already failed and
// the error is returned alongside it.
func (c *Conversation) Send(ctx context.Context, message string) (*Turn, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, fmt.Errorf("%w: empty message", domain.ErrInvalidInput)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, domain.ErrConversationEnd
	}
	prev := c.current
	c.mu.Unlock()

	if prev != nil {
		prev.Cancel()
	}

	ctx = domain.ContextWithProjectID(ctx, c.deps.ProjectID)
	t := newTurn(ctx, c, message)

	spanCtx, span := tracer.StartSpan(t.ctx, "turn.send",
		trace.WithAttributes(
			tracer.StringAttr("project.id", c.deps.ProjectID),
			tracer.StringAttr("turn.id", t.id),
		),
	)
	defer span.End()

	c.mu.Lock()
	c.current = t
	c.mu.Unlock()

	t.logger.Info("turn started", "message_bytes", len(message))
	c.publish(spanCtx, domain.EventTurnStarted, t.id, map[string]string{"message": message})
	c.notify(t.Snapshot())

	stream, err := c.deps.Streamer.Open(t.ctx, domain.ChatStreamRequest{
		Message:   message,
		ProjectID: c.deps.ProjectID,
	}, handler{t})
	if err != nil {
		tracer.RecordError(span, err)
		t.fail(err)
		return t, err
	}
	t.attach(stream)
	go t.watch(ctx)

	tracer.SetOK(span)
	return t, nil
}

// Current returns the most recent turn, or nil before the first Send.
func (c *Conversation) Current() *Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Cancel stops the current turn, if any. The conversation stays open.
func (c *Conversation) Cancel() {
	if cur := c.Current(); cur != nil {
		cur.Cancel()
	}
}

// Close cancels any in-flight turn and rejects further sends.
func (c *Conversation) Close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	c.closed = true
	cur := c.current
	c.mu.Unlock()

	if cur != nil {
		cur.Cancel()
	}
}

func (c *Conversation) persist(ctx context.Context, snap Snapshot) {
	if c.deps.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := c.deps.Store.SaveTurn(ctx, snap.record()); err != nil {
		c.deps.Logger.Warn("turn not cached", "turn_id", snap.ID, "error", err)
	}
}

func (c *Conversation) publish(ctx context.Context, eventType domain.EventType, turnID string, payload any) {
	if c.deps.Bus == nil {
		return
	}
	c.deps.Bus.Publish(ctx, domain.NewEvent(eventType, turnID, payload))
}

func (c *Conversation) notify(snap Snapshot) {
	if c.deps.OnUpdate != nil {
		c.deps.OnUpdate(snap)
	}
}
