package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"project-companion/internal/adapter/preview"
	"project-companion/internal/domain"
	"project-companion/internal/usecase/errorsink"
	"project-companion/internal/usecase/eventbus"
)

var (
	probeRemote string
	probeSettle time.Duration
	probeFix    bool
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Collect errors from the live preview",
}

var previewServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the preview bridge until interrupted",
	Long: `Run the preview bridge until interrupted.

Add the printed script tag to the preview page. The page then reports
runtime, promise, console and build errors to the bridge, which lists them
at /errors.`,
	Args: cobra.NoArgs,
	RunE: withApp(runPreviewServe),
}

var previewProbeCmd = &cobra.Command{
	Use:   "probe <url>",
	Short: "Load a page in headless Chrome and list its errors",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runPreviewProbe),
}

func init() {
	previewProbeCmd.Flags().StringVar(&probeRemote, "remote", "", "CDP websocket URL of a running browser")
	previewProbeCmd.Flags().DurationVar(&probeSettle, "settle", 3*time.Second, "how long to collect errors after load")
	previewProbeCmd.Flags().BoolVar(&probeFix, "fix", false, "print a fix request for the latest error")
	previewCmd.AddCommand(previewServeCmd, previewProbeCmd)
	rootCmd.AddCommand(previewCmd)
}

func runPreviewServe(cmd *cobra.Command, a *app, _ []string) error {
	bus := eventbus.New(a.logger)
	defer bus.Close()
	sink := newSink(a, bus)
	out := cmd.OutOrStdout()

	unsubscribe := bus.Subscribe(domain.EventPreviewError, func(_ context.Context, ev domain.Event) {
		var e domain.PreviewError
		if err := json.Unmarshal(ev.Payload, &e); err != nil {
			return
		}
		printPreviewErrors(out, []domain.PreviewError{e})
	})
	defer unsubscribe()

	srv := preview.NewServer(sink, bus, preview.OptionsFromConfig(a.cfg.Preview, a.logger))
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go func() {
		if err := waitBound(ctx, srv); err == nil {
			fmt.Fprintf(out, "Preview bridge on http://%s\n", srv.BoundAddr())
			fmt.Fprintf(out, "Add to the preview page: <script src=\"http://%s/catcher.js\"></script>\n", srv.BoundAddr())
		}
	}()
	return srv.Start(cmd.Context())
}

// waitBound waits until srv is listening.
func waitBound(ctx context.Context, srv *preview.Server) error {
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for srv.BoundAddr() == "" {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
	return nil
}

func runPreviewProbe(cmd *cobra.Command, a *app, args []string) error {
	sink := newSink(a, nil)
	_, err := preview.Probe(cmd.Context(), args[0], sink, preview.ProbeOptions{
		Timeout:   a.cfg.Preview.ProbeTimeout,
		Settle:    probeSettle,
		RemoteURL: probeRemote,
		Logger:    a.logger,
	})
	if err != nil {
		return err
	}
	errs := sink.Errors()
	printPreviewErrors(cmd.OutOrStdout(), errs)
	if probeFix && len(errs) > 0 {
		fmt.Fprintln(cmd.OutOrStdout())
		fmt.Fprintln(cmd.OutOrStdout(), errorsink.FixPrompt(errs[len(errs)-1]))
	}
	return nil
}

func newSink(a *app, bus domain.EventBus) *errorsink.Sink {
	return errorsink.New(errorsink.Options{
		MaxErrors:       a.cfg.Preview.MaxErrors,
		ConsoleDebounce: a.cfg.Preview.ConsoleDebounce,
		Bus:             bus,
		Logger:          a.logger,
	})
}

func printPreviewErrors(w io.Writer, errs []domain.PreviewError) {
	if len(errs) == 0 {
		fmt.Fprintln(w, "No preview errors.")
		return
	}
	for i, e := range errs {
		fmt.Fprintf(w, "%d. [%s] %s\n", i+1, e.Kind, e.Message)
		if e.Source != "" {
			fmt.Fprintf(w, "   at %s:%d:%d\n", e.Source, e.Line, e.Column)
		}
	}
}
