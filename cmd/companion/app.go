package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"project-companion/internal/adapter/api"
	"project-companion/internal/adapter/credential"
	"project-companion/internal/domain"
	"project-companion/internal/infra/config"
	"project-companion/internal/infra/logger"
	"project-companion/internal/infra/tracer"
)

// app holds what every command needs once config is loaded.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	creds  *credential.FileStore
	tokens domain.TokenSource
	api    *api.Client

	closeLog       func() error
	shutdownTracer func(context.Context) error
}

// loadApp reads the config named by --config and builds the app. With
// interactive set, logs that would go to the terminal are sent to a file
// in the data directory instead.
func loadApp(ctx context.Context, interactive bool) (*app, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logger.Level = logLevel
	}
	if interactive {
		switch strings.ToLower(cfg.Logger.Output) {
		case "", "stderr", "stdout":
			dir := config.DefaultDataDir()
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
			cfg.Logger.Output = filepath.Join(dir, "companion.log")
		}
	}
	return newApp(ctx, cfg)
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, err
	}
	shutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	a := &app{
		cfg:            cfg,
		logger:         log,
		closeLog:       closeLog,
		shutdownTracer: shutdown,
	}
	a.initClient()
	return a, nil
}

// initClient builds the credential store, token source and API client
// from cfg. A static api.token wins over the stored login.
func (a *app) initClient() {
	a.creds = credential.NewFileStore(a.cfg.Credentials.Path, config.Passphrase())
	a.tokens = credential.Tokens{Store: a.creds}
	if a.cfg.API.Token != "" {
		a.tokens = domain.StaticToken(a.cfg.API.Token)
	}
	a.api = api.NewFromConfig(a.cfg.API, a.tokens, a.logger)
}

func (a *app) Close() {
	if a.shutdownTracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.shutdownTracer(ctx); err != nil {
			a.logger.Warn("tracer shutdown", "error", err)
		}
		cancel()
	}
	if a.closeLog != nil {
		a.closeLog()
	}
}

// projectID resolves the project from --project or api.default_project.
func (a *app) projectID() (string, error) {
	if id := strings.TrimSpace(projectRef); id != "" {
		return id, nil
	}
	if a.cfg.API.DefaultProject != "" {
		return a.cfg.API.DefaultProject, nil
	}
	return "", fmt.Errorf("%w: no project selected; pass --project or set api.default_project", domain.ErrInvalidInput)
}

// withApp adapts a command body to cobra's RunE, loading and closing the app
// around it.
func withApp(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, a, args)
	}
}
