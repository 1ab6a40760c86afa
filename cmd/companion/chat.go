package main

import (
	"context"

	"github.com/spf13/cobra"

	"project-companion/internal/adapter/preview"
	"project-companion/internal/adapter/render"
	"project-companion/internal/adapter/tui/chat"
	"project-companion/internal/usecase/errorsink"
	"project-companion/internal/usecase/eventbus"
)

var chatPreview bool

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the interactive chat for the selected project",
	Long: `Open the interactive chat for the selected project.

Files the assistant writes are applied to the local workspace as they
stream in. With --preview the preview bridge runs alongside the chat so
errors from the live page can be listed with /errors and sent back with
/fix.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().BoolVar(&chatPreview, "preview", false, "run the preview bridge while chatting")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := a.projectID()
	if err != nil {
		return err
	}
	project, err := a.api.GetProject(ctx, id)
	if err != nil {
		return err
	}

	bus := eventbus.New(a.logger)
	defer bus.Close()
	sink := errorsink.New(errorsink.Options{
		MaxErrors:       a.cfg.Preview.MaxErrors,
		ConsoleDebounce: a.cfg.Preview.ConsoleDebounce,
		Bus:             bus,
		Logger:          a.logger,
	})
	fwd := chat.NewForwarder(sink)
	unsubscribe := bus.SubscribeAll(fwd.OnEvent)
	defer unsubscribe()

	s, err := openSession(ctx, a, id, sessionOptions{OnUpdate: fwd.OnUpdate, Bus: bus, Watch: true})
	if err != nil {
		return err
	}
	defer s.Close()

	if chatPreview {
		stop := startPreview(ctx, a, sink, bus)
		defer stop()
	}

	m, err := chat.NewModel(chat.ModelDeps{
		Conversation: s.conv,
		Workspace:    s.ws,
		Errors:       sink,
		LoadHistory:  s.LoadHistory,
		ProjectName:  project.Name,
		Role:         project.Role,
		Render: render.Options{
			Color:    true,
			ShowCode: true,
			CodeTail: 20,
		},
		Logger: a.logger,
	})
	if err != nil {
		return err
	}
	return chat.Run(ctx, m, fwd)
}

// startPreview runs the preview bridge in the background and returns a
// function that stops it and waits for it to exit.
func startPreview(ctx context.Context, a *app, sink *errorsink.Sink, bus *eventbus.Bus) func() {
	ctx, cancel := context.WithCancel(ctx)
	srv := preview.NewServer(sink, bus, preview.OptionsFromConfig(a.cfg.Preview, a.logger))
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Start(ctx); err != nil {
			a.logger.Error("preview bridge stopped", "error", err)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
