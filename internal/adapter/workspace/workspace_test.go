package workspace

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"project-companion/internal/domain"
	"project-companion/internal/infra/logger"
	"project-companion/internal/usecase/eventbus"
)

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{"src/App.tsx", "src/App.tsx", false},
		{"./src/App.tsx", "src/App.tsx", false},
		{"/src//App.tsx", "src/App.tsx", false},
		{`src\App.tsx`, "src/App.tsx", false},
		{"", "", true},
		{"  ", "", true},
		{"/", "", true},
		{".", "", true},
	}
	for _, tt := range tests {
		got, err := CleanPath(tt.in)
		if tt.err {
			assert.ErrorIs(t, err, domain.ErrInvalidInput, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestMap(t *testing.T) {
	m := NewMap(map[string]string{"./b.ts": "b", "": "dropped"})
	require.NoError(t, m.Set("a.ts", "a1"))
	require.NoError(t, m.Set("/a.ts", "a2"))

	got, ok := m.Get("a.ts")
	require.True(t, ok)
	assert.Equal(t, "a2", got)
	_, ok = m.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"a.ts", "b.ts"}, m.Paths())
	assert.Equal(t, 2, m.Len())

	snap := m.Snapshot()
	snap["a.ts"] = "mutated"
	got, _ = m.Get("a.ts")
	assert.Equal(t, "a2", got)

	assert.Error(t, m.Set("", "x"))
}

func TestMapConcurrentReadersSeeWholeValues(t *testing.T) {
	m := NewMap(nil)
	values := []string{"short", "a much longer value that replaces the short one"}
	require.NoError(t, m.Set("f", values[0]))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
				_ = m.Set("f", values[i%2])
			}
		}
	}()
	for i := 0; i < 1000; i++ {
		got, _ := m.Get("f")
		assert.Contains(t, values, got)
	}
	close(stop)
	wg.Wait()
}

func TestMirrorWritesThrough(t *testing.T) {
	dir := t.TempDir()
	m := NewMap(nil)
	mirror, err := NewMirror(m, dir, logger.Discard())
	require.NoError(t, err)

	require.NoError(t, mirror.Set("src/components/Button.tsx", "export const Button = 1"))
	data, err := os.ReadFile(filepath.Join(mirror.Root(), "src", "components", "Button.tsx"))
	require.NoError(t, err)
	assert.Equal(t, "export const Button = 1", string(data))

	got, ok := mirror.Get("src/components/Button.tsx")
	require.True(t, ok)
	assert.Equal(t, "export const Button = 1", got)
	assert.Equal(t, m.Snapshot(), mirror.Snapshot())

	require.NoError(t, mirror.Set("src/components/Button.tsx", "v2"))
	data, _ = os.ReadFile(filepath.Join(mirror.Root(), "src", "components", "Button.tsx"))
	assert.Equal(t, "v2", string(data))

	entries, _ := os.ReadDir(filepath.Join(mirror.Root(), "src", "components"))
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestMirrorRejectsEscapes(t *testing.T) {
	m := NewMap(nil)
	mirror, err := NewMirror(m, t.TempDir(), logger.Discard())
	require.NoError(t, err)

	for _, p := range []string{"../evil.sh", "/etc/passwd", "a/../../evil"} {
		err := mirror.Set(p, "x")
		assert.ErrorIs(t, err, domain.ErrPathOutsideSandbox, "path %q", p)
	}
	assert.Zero(t, m.Len(), "rejected paths never reach the map")
}

func TestMirrorLoad(t *testing.T) {
	m := NewMap(nil)
	mirror, err := NewMirror(m, t.TempDir(), logger.Discard())
	require.NoError(t, err)

	err = mirror.Load(map[string]string{"index.html": "<html>", "../x": "bad", "src/main.ts": "main"})
	assert.ErrorIs(t, err, domain.ErrPathOutsideSandbox)
	assert.Equal(t, []string{"index.html", "src/main.ts"}, m.Paths())
}

func TestWatcherSyncsLocalEdits(t *testing.T) {
	dir := t.TempDir()
	m := NewMap(nil)
	mirror, err := NewMirror(m, dir, logger.Discard())
	require.NoError(t, err)
	require.NoError(t, mirror.Set("src/App.tsx", "v1"))

	bus := eventbus.New(logger.Discard())
	var mu sync.Mutex
	var edits []domain.Event
	bus.Subscribe(domain.EventWorkspaceExternalEdit, func(_ context.Context, e domain.Event) {
		mu.Lock()
		edits = append(edits, e)
		mu.Unlock()
	})

	w, err := NewWatcher(dir, m, WatcherOptions{Debounce: 20 * time.Millisecond, Bus: bus, Logger: logger.Discard()})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		bus.Close()
	})

	// Give the watcher time to register its directories.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(mirror.Root(), "src", "App.tsx"), []byte("edited locally"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(mirror.Root(), "src", "untracked.ts"), []byte("ignored"), 0o644))

	require.Eventually(t, func() bool {
		got, _ := m.Get("src/App.tsx")
		return got == "edited locally"
	}, 3*time.Second, 20*time.Millisecond)

	_, tracked := m.Get("src/untracked.ts")
	assert.False(t, tracked)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(edits) == 1
	}, 3*time.Second, 20*time.Millisecond)
}
