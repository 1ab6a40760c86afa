// Package preview bridges live preview pages and the companion: pages
// report their runtime errors over a WebSocket and receive file and stream
// events so they can reload.
package preview

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"project-companion/internal/domain"
	"project-companion/internal/infra/config"
	"project-companion/internal/infra/middleware"
)

const (
	readLimit    = 1 << 20
	sendQueue    = 64
	writeTimeout = 5 * time.Second
)

//go:embed catcher.js
var catcherJS []byte

// forwarded lists the bus events sent to connected pages.
var forwarded = []domain.EventType{domain.EventFileApplied, domain.EventStreamCompleted}

// Options configures a Server.
type Options struct {
	Addr string
	// AllowedOrigins extends the default localhost origin patterns.
	AllowedOrigins []string
	// RateLimit caps inbound frames per second per connection. Zero
	// disables the limit.
	RateLimit float64
	RateBurst int
	// RequestLimit caps HTTP requests per second per client IP on the
	// plain endpoints. Zero disables the limit.
	RequestLimit float64
	Logger       *slog.Logger
}

// OptionsFromConfig maps the preview config section onto Options.
func OptionsFromConfig(cfg config.PreviewConfig, logger *slog.Logger) Options {
	return Options{
		Addr:           cfg.Addr,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      cfg.RateLimit,
		RateBurst:      cfg.RateBurst,
		RequestLimit:   cfg.RequestLimit,
		Logger:         logger,
	}
}

// clientConn tracks a single WebSocket connection.
type clientConn struct {
	id        uint64
	ws        *websocket.Conn
	limiter   *rate.Limiter
	sendCh    chan Frame // buffered outbound queue
	done      chan struct{}
	closeOnce sync.Once
}

// Server accepts preview pages on /ws, stores their errors in an
// ErrorSink and forwards file and stream events back to them.
type Server struct {
	sink      domain.ErrorSink
	bus       domain.EventBus
	opts      Options
	logger    *slog.Logger
	clients   sync.Map // connID (uint64) -> *clientConn
	nextID    atomic.Uint64
	dropped   atomic.Uint64
	httpSrv   *http.Server
	boundAddr atomic.Value // string
	now       func() time.Time

	handlerOnce sync.Once
	handler     http.Handler
	unsubs      []func()
}

// NewServer creates a preview bridge. bus may be nil, in which case no
// events are forwarded.
func NewServer(sink domain.ErrorSink, bus domain.EventBus, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		sink:   sink,
		bus:    bus,
		opts:   opts,
		logger: opts.Logger,
		now:    time.Now,
	}
}

// Handler returns the bridge's HTTP routes and subscribes it to the bus.
func (s *Server) Handler() http.Handler {
	s.handlerOnce.Do(func() {
		limit := func(h http.HandlerFunc) http.Handler { return h }
		if s.opts.RequestLimit > 0 {
			l := middleware.NewLimiter(s.opts.RequestLimit, int(2*s.opts.RequestLimit))
			limit = func(h http.HandlerFunc) http.Handler { return l.Wrap(h) }
		}

		mux := http.NewServeMux()
		mux.HandleFunc("/ws", s.handleUpgrade)
		mux.Handle("/reset", limit(s.handleReset))
		mux.Handle("/errors", limit(s.handleErrors))
		mux.Handle("/catcher.js", limit(s.handleCatcher))
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
		s.handler = middleware.Headers(mux)

		if s.bus != nil {
			for _, t := range forwarded {
				s.unsubs = append(s.unsubs, s.bus.Subscribe(t, s.broadcast))
			}
		}
	})
	return s.handler
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("preview listen: %w", err)
	}
	s.boundAddr.Store(listener.Addr().String())

	s.httpSrv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.logger.Info("preview bridge started", "addr", s.BoundAddr())

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("preview serve: %w", err)
	}
	return nil
}

// Stop closes every connection and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil

	s.clients.Range(func(key, value any) bool {
		cc := value.(*clientConn)
		cc.closeOnce.Do(func() { close(cc.done) })
		cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
		s.clients.Delete(key)
		return true
	})

	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// BoundAddr returns the address the server bound to, or "" before Start.
func (s *Server) BoundAddr() string {
	addr, _ := s.boundAddr.Load().(string)
	return addr
}

// Clients returns the number of connected pages.
func (s *Server) Clients() int {
	n := 0
	s.clients.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Dropped returns how many inbound frames were rate limited.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	origins := []string{
		"localhost",
		"localhost:*",
		"127.0.0.1",
		"127.0.0.1:*",
		"[::1]",
		"[::1]:*",
	}
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: append(origins, s.opts.AllowedOrigins...),
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	ws.SetReadLimit(readLimit)

	cc := &clientConn{
		id:     s.nextID.Add(1),
		ws:     ws,
		sendCh: make(chan Frame, sendQueue),
		done:   make(chan struct{}),
	}
	if s.opts.RateLimit > 0 {
		burst := s.opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		cc.limiter = rate.NewLimiter(rate.Limit(s.opts.RateLimit), burst)
	}
	s.clients.Store(cc.id, cc)
	s.logger.Info("preview page connected", "conn_id", cc.id, "origin", r.Header.Get("Origin"))

	go s.writeLoop(cc)
	s.readLoop(r.Context(), cc)

	cc.closeOnce.Do(func() { close(cc.done) })
	s.clients.Delete(cc.id)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("preview page disconnected", "conn_id", cc.id)
}

func (s *Server) readLoop(ctx context.Context, cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		default:
		}

		var frame Frame
		if err := wsjson.Read(ctx, cc.ws, &frame); err != nil {
			return // connection closed or error
		}
		if cc.limiter != nil && !cc.limiter.Allow() {
			if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
				s.logger.Warn("preview frames rate limited", "conn_id", cc.id, "dropped", n)
			}
			continue
		}
		s.handleFrame(cc, frame)
	}
}

func (s *Server) handleFrame(cc *clientConn, frame Frame) {
	switch frame.Type {
	case FrameTypePreviewError:
		e, err := frame.previewError(s.now())
		if err != nil {
			s.logger.Debug("malformed preview error", "conn_id", cc.id, "error", err)
			return
		}
		if s.sink.Report(e) {
			s.logger.Debug("preview error recorded", "conn_id", cc.id, "kind", string(e.Kind))
		}
	case FrameTypePageLoad:
		s.sink.Reset()
	default:
		s.logger.Debug("unknown preview frame", "conn_id", cc.id, "type", string(frame.Type))
	}
}

func (s *Server) writeLoop(cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		case frame := <-cc.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := wsjson.Write(ctx, cc.ws, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) broadcast(_ context.Context, event domain.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	frame := Frame{Type: FrameTypeEvent, Payload: payload, Timestamp: event.Timestamp.UnixMilli()}
	s.clients.Range(func(_, value any) bool {
		cc := value.(*clientConn)
		select {
		case cc.sendCh <- frame:
		default:
			s.logger.Warn("preview: dropped event for slow page", "conn_id", cc.id, "event", string(event.Type))
		}
		return true
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.sink.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	errs := s.sink.Errors()
	if errs == nil {
		errs = []domain.PreviewError{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(errs)
}

func (s *Server) handleCatcher(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(catcherJS)
}
