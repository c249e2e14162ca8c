// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkgrun/pkgrun/internal/testutil"
	"github.com/pkgrun/pkgrun/internal/workspace"
)

type changeRecorder struct {
	mu    sync.Mutex
	calls [][]string
	ch    chan struct{}
}

func newChangeRecorder() *changeRecorder {
	return &changeRecorder{ch: make(chan struct{}, 16)}
}

func (r *changeRecorder) onChange(_ context.Context, changed []*workspace.Package) error {
	names := make([]string, len(changed))
	for i, p := range changed {
		names[i] = p.Name
	}
	r.mu.Lock()
	r.calls = append(r.calls, names)
	r.mu.Unlock()
	r.ch <- struct{}{}
	return nil
}

func (r *changeRecorder) wait(t *testing.T) []string {
	t.Helper()
	select {
	case <-r.ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change callback")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

func newPackages(t *testing.T) (string, []*workspace.Package) {
	t.Helper()
	root := t.TempDir()
	var pkgs []*workspace.Package
	for _, name := range []string{"core", "web"} {
		dir := filepath.Join(root, "packages", name)
		testutil.MustMkdirAll(t, filepath.Join(dir, "src"))
		pkgs = append(pkgs, &workspace.Package{Name: "@acme/" + name, Dir: dir, RelDir: "packages/" + name})
	}
	return root, pkgs
}

func startWatcher(t *testing.T, cfg Config) {
	t.Helper()
	w, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-errCh; err != nil {
			t.Errorf("Run() error = %v", err)
		}
	})
}

func TestWatcher_CoalescesPerPackage(t *testing.T) {
	t.Parallel()

	_, pkgs := newPackages(t)
	rec := newChangeRecorder()
	startWatcher(t, Config{Packages: pkgs, Debounce: 100 * time.Millisecond, OnChange: rec.onChange})

	// Several edits in both packages within one debounce window.
	for _, p := range []string{"web/src/a.js", "core/index.js", "web/src/b.js"} {
		testutil.MustWriteFile(t, filepath.Join(pkgs[0].Dir, "..", p), "x")
		time.Sleep(10 * time.Millisecond)
	}

	got := rec.wait(t)
	if len(got) != 2 || got[0] != "@acme/core" || got[1] != "@acme/web" {
		t.Errorf("changed = %v, want [@acme/core @acme/web]", got)
	}
}

func TestWatcher_RunWaitsForRunningCallback(t *testing.T) {
	t.Parallel()

	_, pkgs := newPackages(t)
	started := make(chan struct{})
	var (
		once     sync.Once
		finished atomic.Bool
	)
	w, err := New(Config{
		Packages: pkgs,
		Debounce: 20 * time.Millisecond,
		OnChange: func(ctx context.Context, _ []*workspace.Package) error {
			once.Do(func() { close(started) })
			<-ctx.Done()
			time.Sleep(100 * time.Millisecond)
			finished.Store(true)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	testutil.MustWriteFile(t, filepath.Join(pkgs[0].Dir, "index.js"), "x")
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change callback")
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !finished.Load() {
		t.Error("Run() returned while the change callback was still running")
	}
}

func TestWatcher_IgnoresDefaultAndConfiguredPaths(t *testing.T) {
	t.Parallel()

	_, pkgs := newPackages(t)
	testutil.MustMkdirAll(t, filepath.Join(pkgs[0].Dir, "node_modules", "dep"))
	testutil.MustMkdirAll(t, filepath.Join(pkgs[0].Dir, "dist"))
	rec := newChangeRecorder()
	startWatcher(t, Config{
		Packages: pkgs,
		Ignore:   []string{"dist/**", "**/*.log"},
		Debounce: 50 * time.Millisecond,
		OnChange: rec.onChange,
	})

	testutil.MustWriteFile(t, filepath.Join(pkgs[0].Dir, "node_modules", "dep", "index.js"), "x")
	testutil.MustWriteFile(t, filepath.Join(pkgs[0].Dir, "debug.log"), "x")
	testutil.MustWriteFile(t, filepath.Join(pkgs[0].Dir, "dist", "out.js"), "x")
	time.Sleep(200 * time.Millisecond)

	select {
	case <-rec.ch:
		t.Fatal("ignored paths triggered a callback")
	default:
	}

	// A real change still comes through.
	testutil.MustWriteFile(t, filepath.Join(pkgs[1].Dir, "src", "app.js"), "x")
	if got := rec.wait(t); len(got) != 1 || got[0] != "@acme/web" {
		t.Errorf("changed = %v, want [@acme/web]", got)
	}
}

func TestWatcher_NewDirectoriesAreWatched(t *testing.T) {
	t.Parallel()

	_, pkgs := newPackages(t)
	rec := newChangeRecorder()
	startWatcher(t, Config{Packages: pkgs, Debounce: 50 * time.Millisecond, OnChange: rec.onChange})

	newDir := filepath.Join(pkgs[0].Dir, "lib")
	if err := os.Mkdir(newDir, 0o755); err != nil {
		t.Fatal(err)
	}
	rec.wait(t)

	testutil.MustWriteFile(t, filepath.Join(newDir, "util.js"), "x")
	if got := rec.wait(t); len(got) != 1 || got[0] != "@acme/core" {
		t.Errorf("changed = %v, want [@acme/core]", got)
	}
}

func TestWatcher_Owner(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	outer := &workspace.Package{Name: "outer", Dir: filepath.Join(root, "app")}
	inner := &workspace.Package{Name: "inner", Dir: filepath.Join(root, "app", "plugins", "x")}
	w := &Watcher{cfg: Config{Packages: []*workspace.Package{outer, inner}}}

	tests := []struct {
		path    string
		want    string
		wantRel string
	}{
		{filepath.Join(root, "app", "index.js"), "outer", "index.js"},
		{filepath.Join(root, "app", "plugins", "x", "src", "a.js"), "inner", "src/a.js"},
		{filepath.Join(root, "other", "a.js"), "", ""},
		{filepath.Join(root, "application", "a.js"), "", ""},
	}
	for _, tt := range tests {
		p, rel, ok := w.owner(tt.path)
		if tt.want == "" {
			if ok {
				t.Errorf("owner(%s) = %s, want none", tt.path, p.Name)
			}
			continue
		}
		if !ok || p.Name != tt.want || rel != tt.wantRel {
			t.Errorf("owner(%s) = %v %q, want %s %q", tt.path, p, rel, tt.want, tt.wantRel)
		}
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); !errors.Is(err, ErrNoPackages) {
		t.Errorf("New(empty) error = %v, want ErrNoPackages", err)
	}

	_, pkgs := newPackages(t)
	if _, err := New(Config{Packages: pkgs, Ignore: []string{"[unclosed"}}); err == nil {
		t.Error("New() should reject an invalid ignore pattern")
	}

	missing := []*workspace.Package{{Name: "gone", Dir: filepath.Join(t.TempDir(), "missing")}}
	if _, err := New(Config{Packages: missing}); err == nil {
		t.Error("New() should fail for a missing package directory")
	}
}

func TestRun_Twice(t *testing.T) {
	t.Parallel()

	_, pkgs := newPackages(t)
	w, err := New(Config{Packages: pkgs})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if err := w.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestIsFatalWatchError(t *testing.T) {
	t.Parallel()

	if isFatalWatchError(errors.New("transient")) {
		t.Error("a generic error should not be fatal")
	}
}
