// Package api is the client for the project backend's REST endpoints:
// authentication, projects, files, members, chat history and deploys.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"project-companion/internal/adapter/httpclient"
	"project-companion/internal/domain"
	"project-companion/internal/infra/config"
	"project-companion/internal/infra/tracer"
)

// maxResponseBody caps decoded JSON responses.
const maxResponseBody = 32 << 20

// Options configures a Client.
type Options struct {
	BaseURL string
	Client  *http.Client
	// Tokens supplies the bearer token. Nil sends no Authorization header.
	Tokens  domain.TokenSource
	Breaker *httpclient.Breaker
	// Limiter throttles outbound calls. Nil means unlimited.
	Limiter *rate.Limiter
	Logger  *slog.Logger
}

// Client talks to the backend REST API. It is safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
	tokens  domain.TokenSource
	breaker *httpclient.Breaker
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a Client.
func New(opts Options) *Client {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 70 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		client:  opts.Client,
		tokens:  opts.Tokens,
		breaker: opts.Breaker,
		limiter: opts.Limiter,
		logger:  opts.Logger,
	}
}

// NewFromConfig wires a Client from the api section of the config.
func NewFromConfig(cfg config.APIConfig, tokens domain.TokenSource, logger *slog.Logger) *Client {
	return New(Options{
		BaseURL: cfg.BaseURL,
		Client:  httpclient.NewRESTClient(cfg),
		Tokens:  tokens,
		Breaker: httpclient.NewBreaker("api", cfg.CircuitBreaker, logger),
		Limiter: NewLimiter(cfg.RateLimit, cfg.RateBurst),
		Logger:  logger,
	})
}

// NewLimiter returns a token bucket for perSecond requests, or nil when
// perSecond is not positive.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// BaseURL returns the backend address without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// call describes one request.
type call struct {
	op     string
	method string
	path   string
	query  url.Values
	body   any
	// anonymous calls skip the bearer token (login, signup).
	anonymous bool
	// subsystem tags errors for domain.ErrorCodeOf.
	subsystem string
}

// do sends c and decodes a JSON response into out (when non-nil).
func (c *Client) do(ctx context.Context, req call, out any) error {
	resp, err := c.send(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(out); err != nil {
		if err == io.EOF {
			return nil
		}
		return c.wrap(req, fmt.Errorf("%w: decode response: %v", domain.ErrProviderError, err))
	}
	return nil
}

// send performs req through the limiter and breaker and returns a 2xx
// response whose body the caller must close.
func (c *Client) send(ctx context.Context, req call) (*http.Response, error) {
	ctx, span := tracer.StartSpan(ctx, "api."+req.op,
		trace.WithAttributes(
			tracer.StringAttr("http.method", req.method),
			tracer.StringAttr("http.path", req.path),
		),
	)
	defer span.End()

	resp, err := c.exchange(ctx, req)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, c.wrap(req, err)
	}
	tracer.SetOK(span)
	return resp, nil
}

func (c *Client) exchange(ctx context.Context, req call) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrRateLimit, err)
		}
	}

	var payload []byte
	if req.body != nil {
		var err error
		if payload, err = json.Marshal(req.body); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	var token string
	if !req.anonymous && c.tokens != nil {
		var err error
		if token, err = c.tokens.Token(ctx); err != nil {
			return nil, err
		}
		if token == "" {
			return nil, domain.ErrNotAuthenticated
		}
	}

	target := c.baseURL + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}
	requestID := uuid.NewString()

	return httpclient.Do(c.breaker, func() (*http.Response, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Accept", "application/json")
		httpReq.Header.Set("X-Request-ID", requestID)
		if payload != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}

		start := time.Now()
		resp, err := c.client.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %v", domain.ErrProviderError, err)
		}
		c.logger.Debug("api request",
			"op", req.op,
			"method", req.method,
			"path", req.path,
			"status", resp.StatusCode,
			"request_id", requestID,
			"duration", time.Since(start),
		)
		if err := httpclient.CheckResponse(resp); err != nil {
			resp.Body.Close()
			return nil, err
		}
		return resp, nil
	})
}

func (c *Client) wrap(req call, err error) error {
	op := "API." + req.op
	if req.subsystem != "" {
		return domain.NewSubSystemError(req.subsystem, op, err, "")
	}
	return domain.WrapOp(op, err)
}

func projectPath(projectID string, rest ...string) string {
	p := "/api/projects/" + url.PathEscape(projectID)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

func requireID(what, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: %s id is required", domain.ErrInvalidInput, what)
	}
	return nil
}
