// Package stream consumes the assistant's server-sent-event chat stream.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"project-companion/internal/adapter/httpclient"
	"project-companion/internal/domain"
	"project-companion/internal/infra/tracer"
)

const defaultMaxLineBytes = 1 << 20

// Options configures a Transport.
type Options struct {
	// URL is the full address of the streaming chat endpoint.
	URL string
	// Client performs the request. It must not impose an overall timeout.
	Client *http.Client
	// Tokens supplies the bearer token; nil sends no Authorization header.
	Tokens domain.TokenSource
	// Breaker guards opening the stream. Failures after the response
	// headers arrive do not count against it.
	Breaker *httpclient.Breaker
	// MaxLineBytes bounds one SSE line. Zero means 1 MiB.
	MaxLineBytes int
	// RequireSentinel reports a stream that closes without an end-of-stream
	// record as domain.ErrStreamTruncated instead of completing.
	RequireSentinel bool
	Logger          *slog.Logger
}

// Transport opens chat streams. It is safe for concurrent use; each Open
// yields an independent Stream.
type Transport struct {
	opts Options
}

// New creates a Transport.
func New(opts Options) *Transport {
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = defaultMaxLineBytes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Transport{opts: opts}
}

// Open sends req and starts delivering decoded text to h. Failures up to
// and including the response status are returned directly and h is never
// called; from then on every outcome arrives through h. Cancelling ctx or
// the returned Stream stops delivery without a callback. An empty
// req.ProjectID is taken from ctx.
func (t *Transport) Open(ctx context.Context, req domain.ChatStreamRequest, h domain.StreamHandler) (domain.StreamCanceller, error) {
	s, err := t.open(ctx, req, h)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (t *Transport) open(ctx context.Context, req domain.ChatStreamRequest, h domain.StreamHandler) (*Stream, error) {
	if req.ProjectID == "" {
		req.ProjectID = domain.ProjectIDFromContext(ctx)
	}
	turnID := domain.TurnIDFromContext(ctx)

	spanCtx, span := tracer.StartSpan(ctx, "stream.open",
		trace.WithAttributes(
			tracer.StringAttr("project.id", req.ProjectID),
			tracer.StringAttr("turn.id", turnID),
		),
	)
	defer span.End()

	body, err := json.Marshal(req)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp("stream.Open", fmt.Errorf("encode request: %w", err))
	}

	var token string
	if t.opts.Tokens != nil {
		if token, err = t.opts.Tokens.Token(spanCtx); err != nil {
			tracer.RecordError(span, err)
			return nil, domain.WrapOp("stream.Open", err)
		}
	}

	streamCtx, cancel := context.WithCancel(ctx)
	resp, err := httpclient.Do(t.opts.Breaker, func() (*http.Response, error) {
		return t.send(streamCtx, body, token)
	})
	if err != nil {
		cancel()
		tracer.RecordError(span, err)
		return nil, domain.WrapOp("stream.Open", err)
	}
	tracer.SetOK(span)

	s := &Stream{
		cancel:          cancel,
		done:            make(chan struct{}),
		handler:         h,
		logger:          t.opts.Logger.With("project_id", req.ProjectID, "turn_id", turnID),
		requireSentinel: t.opts.RequireSentinel,
	}
	go s.run(streamCtx, resp.Body, t.opts.MaxLineBytes)
	return s, nil
}

func (t *Transport) send(ctx context.Context, body []byte, token string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.opts.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.opts.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStreamFailed, err)
	}
	if err := httpclient.CheckResponse(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, domain.ErrNoStreamBody
	}
	return resp, nil
}

// Stream is one open chat stream.
type Stream struct {
	cancel  context.CancelFunc
	done    chan struct{}
	handler domain.StreamHandler
	logger  *slog.Logger

	requireSentinel bool

	// mu serializes handler callbacks with Cancel. Once stopped is set no
	// callback runs again.
	mu      sync.Mutex
	stopped bool
}

// Cancel stops the stream. When it returns, no handler callback is running
// and none will run again. It must not be called from inside a callback.
func (s *Stream) Cancel() {
	s.cancel()
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

// Done is closed when the read loop has exited.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// deliver runs fn unless the stream is stopped. final marks a terminal
// callback, after which nothing else is delivered.
func (s *Stream) deliver(final bool, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if final {
		s.stopped = true
	}
	fn()
}

func (s *Stream) run(ctx context.Context, body io.ReadCloser, maxLine int) {
	defer close(s.done)
	defer s.cancel()
	defer body.Close()

	lr := newLineReader(body, maxLine, s.logger)
	for {
		line, err := lr.next()
		if err != nil {
			s.finish(ctx, err, false)
			return
		}
		f, ok := decodeLine(line, s.logger)
		if !ok {
			continue
		}
		if f.hasText {
			text := f.text
			s.deliver(false, func() { s.handler.OnText(text) })
		}
		if f.done {
			s.finish(ctx, io.EOF, true)
			return
		}
	}
}

// finish reports how the read loop ended: completion on a clean end, an
// error on a dropped connection, and nothing when the caller cancelled.
func (s *Stream) finish(ctx context.Context, err error, sawSentinel bool) {
	if ctx.Err() != nil {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		return
	}

	switch {
	case errors.Is(err, io.EOF) && (sawSentinel || !s.requireSentinel):
		s.logger.Debug("chat stream completed", "sentinel", sawSentinel)
		s.deliver(true, s.handler.OnComplete)
	case errors.Is(err, io.EOF):
		s.logger.Warn("chat stream closed without end marker")
		s.deliver(true, func() { s.handler.OnError(domain.ErrStreamTruncated) })
	default:
		s.logger.Error("chat stream failed", "error", err)
		wrapped := fmt.Errorf("%w: %v", domain.ErrStreamFailed, err)
		if errors.Is(err, io.ErrUnexpectedEOF) {
			wrapped = fmt.Errorf("%w: connection dropped mid-stream", domain.ErrStreamFailed)
		}
		s.deliver(true, func() { s.handler.OnError(wrapped) })
	}
}

var _ domain.ChatStreamer = (*Transport)(nil)
var _ domain.StreamCanceller = (*Stream)(nil)
