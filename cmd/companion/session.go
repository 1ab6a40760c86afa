package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"project-companion/internal/adapter/history"
	"project-companion/internal/adapter/httpclient"
	"project-companion/internal/adapter/stream"
	"project-companion/internal/adapter/workspace"
	"project-companion/internal/domain"
	"project-companion/internal/usecase/eventbus"
	"project-companion/internal/usecase/turn"
)

// session is one project's conversation with everything wired around it.
type session struct {
	projectID string
	files     *workspace.Map
	ws        domain.Workspace // files, or a Mirror over it
	mirror    *workspace.Mirror
	bus       *eventbus.Bus
	history   *history.Store // nil when the cache is disabled or unavailable
	conv      *turn.Conversation

	app     *app
	cancel  context.CancelFunc
	ownsBus bool
}

type sessionOptions struct {
	// OnUpdate receives turn snapshots; see turn.ConversationDeps.
	OnUpdate func(turn.Snapshot)
	// Bus carries workspace and turn events. Nil creates one owned by the
	// session.
	Bus *eventbus.Bus
	// Watch enables syncing local edits of the mirror back into the
	// workspace when workspace.watch is set.
	Watch bool
}

// openSession loads the project's files and builds its conversation.
func openSession(ctx context.Context, a *app, projectID string, opts sessionOptions) (*session, error) {
	files, err := fetchFiles(ctx, a, projectID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &session{
		projectID: projectID,
		bus:       opts.Bus,
		app:       a,
		cancel:    cancel,
	}
	if s.bus == nil {
		s.bus = eventbus.New(a.logger)
		s.ownsBus = true
	}

	if dir := a.cfg.Workspace.MirrorDir; dir != "" {
		s.files = workspace.NewMap(nil)
		s.mirror, err = workspace.NewMirror(s.files, filepath.Join(dir, projectID), a.logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		if err := s.mirror.Load(files); err != nil {
			a.logger.Warn("some files were not mirrored", "dir", s.mirror.Root(), "error", err)
		}
		s.ws = s.mirror
		if opts.Watch && a.cfg.Workspace.Watch {
			s.startWatcher(ctx)
		}
	} else {
		s.files = workspace.NewMap(files)
		s.ws = s.files
	}

	if a.cfg.History.Enabled {
		store, err := history.Open(a.cfg.History.DBPath)
		if err != nil {
			a.logger.Warn("history cache unavailable", "path", a.cfg.History.DBPath, "error", err)
		} else {
			s.history = store
		}
	}

	deps := turn.ConversationDeps{
		ProjectID: projectID,
		Streamer:  newStreamer(a),
		Workspace: s.ws,
		Bus:       s.bus,
		Logger:    a.logger,
		OnUpdate:  opts.OnUpdate,
	}
	if s.history != nil {
		deps.Store = s.history
	}
	s.conv = turn.NewConversation(deps)
	return s, nil
}

func (s *session) startWatcher(ctx context.Context) {
	w, err := workspace.NewWatcher(s.mirror.Root(), s.files, workspace.WatcherOptions{
		Bus:    s.bus,
		Logger: s.app.logger,
	})
	if err != nil {
		s.app.logger.Warn("workspace watch disabled", "error", err)
		return
	}
	go func() {
		if err := w.Run(ctx); err != nil {
			s.app.logger.Warn("workspace watch stopped", "error", err)
		}
	}()
}

// Close stops the conversation and releases the cache, and the bus when the
// session created it.
func (s *session) Close() {
	if s.conv != nil {
		s.conv.Close()
	}
	s.cancel()
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			s.app.logger.Warn("close history", "error", err)
		}
	}
	if s.ownsBus {
		s.bus.Close()
	}
}

// LoadHistory returns the project's earlier turns. Backend history wins;
// the local cache is used when the backend has none or cannot be reached.
func (s *session) LoadHistory(ctx context.Context) ([]turn.Entry, error) {
	msgs, err := s.app.api.GetChatHistory(ctx, s.projectID)
	if err == nil && len(msgs) > 0 {
		return turn.Replay(msgs), nil
	}
	if s.history != nil {
		recs, herr := s.history.ListTurns(ctx, s.projectID, s.app.cfg.History.Limit)
		if herr == nil && (len(recs) > 0 || err != nil) {
			if err != nil {
				s.app.logger.Warn("backend history unavailable, using local cache", "error", err)
			}
			return turn.ReplayRecords(recs), nil
		}
		if herr != nil {
			s.app.logger.Warn("local history unavailable", "error", herr)
		}
	}
	if err != nil {
		return nil, err
	}
	return nil, nil
}

func newStreamer(a *app) *stream.Transport {
	return stream.New(stream.Options{
		URL:             strings.TrimRight(a.cfg.API.BaseURL, "/") + a.cfg.Stream.Path,
		Client:          httpclient.NewStreamClient(a.cfg.API),
		Tokens:          a.tokens,
		Breaker:         httpclient.NewBreaker("chat-stream", a.cfg.API.CircuitBreaker, a.logger),
		MaxLineBytes:    a.cfg.Stream.MaxLineBytes,
		RequireSentinel: a.cfg.Stream.RequireSentinel,
		Logger:          a.logger,
	})
}

// fetchFiles downloads every project file into memory. Files that cannot be
// read are skipped and reported together.
func fetchFiles(ctx context.Context, a *app, projectID string) (map[string]string, error) {
	paths, err := a.api.ListFilePaths(ctx, projectID)
	if err != nil {
		return nil, err
	}
	files := make(map[string]string, len(paths))
	var errs []error
	for _, p := range paths {
		content, err := a.api.GetFileContent(ctx, projectID, p)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		files[p] = content
	}
	if len(errs) > 0 {
		a.logger.Warn("some project files could not be loaded", "failed", len(errs), "error", errors.Join(errs...))
	}
	a.logger.Info("workspace loaded", "project_id", projectID, "files", len(files))
	return files, nil
}
