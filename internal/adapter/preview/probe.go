package preview

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"project-companion/internal/domain"
)

const (
	defaultProbeTimeout = 15 * time.Second
	defaultProbeSettle  = 3 * time.Second
)

// ProbeOptions configures Probe.
type ProbeOptions struct {
	// Timeout bounds the whole probe, browser start included.
	Timeout time.Duration
	// Settle is how long errors are collected after the page is ready.
	Settle time.Duration
	// RemoteURL is a CDP WebSocket endpoint. Empty launches a local
	// headless Chrome.
	RemoteURL string
	Logger    *slog.Logger
}

// Probe loads pageURL in a headless browser and reports runtime exceptions
// and console errors into sink. The sink is reset first since the probe is
// a fresh page load. It returns the number of reports the sink accepted.
func Probe(ctx context.Context, pageURL string, sink domain.ErrorSink, opts ProbeOptions) (int, error) {
	u, err := url.Parse(pageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return 0, fmt.Errorf("%w: preview url %q", domain.ErrInvalidInput, pageURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultProbeTimeout
	}
	if opts.Settle <= 0 {
		opts.Settle = defaultProbeSettle
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, opts.RemoteURL)
	} else {
		// Copy default options to avoid mutating the package-level slice.
		execOpts := make([]chromedp.ExecAllocatorOption, len(chromedp.DefaultExecAllocatorOptions))
		copy(execOpts, chromedp.DefaultExecAllocatorOptions[:])
		execOpts = append(execOpts,
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.WindowSize(1280, 720),
		)
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, execOpts...)
	}
	defer allocCancel()

	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	defer tabCancel()

	var (
		mu    sync.Mutex
		found []domain.PreviewError
	)
	chromedp.ListenTarget(tabCtx, func(ev any) {
		var e domain.PreviewError
		switch ev := ev.(type) {
		case *runtime.EventExceptionThrown:
			e = exceptionError(ev, time.Now())
		case *runtime.EventConsoleAPICalled:
			var ok bool
			if e, ok = consoleError(ev, time.Now()); !ok {
				return
			}
		default:
			return
		}
		mu.Lock()
		found = append(found, e)
		mu.Unlock()
	})

	opts.Logger.Info("probing preview", "url", pageURL, "settle", opts.Settle)
	sink.Reset()
	runErr := chromedp.Run(tabCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
		chromedp.Sleep(opts.Settle),
	)

	mu.Lock()
	collected := found
	mu.Unlock()

	accepted := 0
	for _, e := range collected {
		if sink.Report(e) {
			accepted++
		}
	}
	if runErr != nil {
		return accepted, domain.NewSubSystemError("preview", "Probe", fmt.Errorf("%w: %w", domain.ErrPreviewProbe, runErr), pageURL)
	}
	opts.Logger.Info("preview probed", "url", pageURL, "errors", len(collected), "accepted", accepted)
	return accepted, nil
}

// exceptionError converts an uncaught exception. Exceptions from rejected
// promises are reported as promise rejections.
func exceptionError(ev *runtime.EventExceptionThrown, now time.Time) domain.PreviewError {
	e := domain.PreviewError{Kind: domain.PreviewRuntimeError, Timestamp: now}
	d := ev.ExceptionDetails
	if d == nil {
		e.Message = "Uncaught exception"
		return e
	}
	e.Message = d.Text
	if d.Exception != nil && d.Exception.Description != "" {
		desc := d.Exception.Description
		// V8 descriptions are "Error: msg\n    at ...".
		if first, rest, ok := strings.Cut(desc, "\n"); ok {
			e.Message = first
			e.Stack = rest
		} else {
			e.Message = desc
		}
	}
	if strings.Contains(d.Text, "(in promise)") {
		e.Kind = domain.PreviewPromiseRejection
	}
	e.Source = d.URL
	e.Line = int(d.LineNumber) + 1
	e.Column = int(d.ColumnNumber) + 1
	if e.Stack == "" {
		e.Stack = stackText(d.StackTrace)
	}
	return e
}

// consoleError converts a console.error call; other console levels are
// ignored.
func consoleError(ev *runtime.EventConsoleAPICalled, now time.Time) (domain.PreviewError, bool) {
	if ev.Type != runtime.APITypeError {
		return domain.PreviewError{}, false
	}
	parts := make([]string, 0, len(ev.Args))
	for _, arg := range ev.Args {
		parts = append(parts, remoteText(arg))
	}
	e := domain.PreviewError{
		Kind:      domain.PreviewConsoleError,
		Message:   strings.Join(parts, " "),
		Stack:     stackText(ev.StackTrace),
		Timestamp: now,
	}
	if st := ev.StackTrace; st != nil && len(st.CallFrames) > 0 {
		top := st.CallFrames[0]
		e.Source = top.URL
		e.Line = int(top.LineNumber) + 1
		e.Column = int(top.ColumnNumber) + 1
	}
	return e, true
}

func remoteText(o *runtime.RemoteObject) string {
	if o == nil {
		return ""
	}
	if len(o.Value) > 0 {
		raw := string(o.Value)
		if s, err := strconv.Unquote(raw); err == nil {
			return s
		}
		return raw
	}
	if o.Description != "" {
		return o.Description
	}
	if o.UnserializableValue != "" {
		return string(o.UnserializableValue)
	}
	return string(o.Type)
}

func stackText(st *runtime.StackTrace) string {
	if st == nil {
		return ""
	}
	var b strings.Builder
	for _, f := range st.CallFrames {
		name := f.FunctionName
		if name == "" {
			name = "<anonymous>"
		}
		fmt.Fprintf(&b, "    at %s (%s:%d:%d)\n", name, f.URL, f.LineNumber+1, f.ColumnNumber+1)
	}
	return strings.TrimSuffix(b.String(), "\n")
}
