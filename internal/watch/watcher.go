// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/pkgrun/pkgrun/internal/workspace"
)

// DefaultDebounce is the quiet period used when Config.Debounce is not positive.
const DefaultDebounce = 300 * time.Millisecond

var (
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("watcher already running")
	// ErrNoPackages is returned by New when there is nothing to watch.
	ErrNoPackages = errors.New("no packages to watch")

	// defaultIgnores are never watched. Matched against package-relative paths.
	defaultIgnores = []string{
		"**/.git/**",
		"**/node_modules/**",
		"**/.pkgrun/**",
		"**/*.swp",
		"**/*~",
		"**/.DS_Store",
	}
)

type (
	// Config holds the parameters for a Watcher.
	Config struct {
		// Packages are the packages to watch. Their directories must exist.
		Packages []*workspace.Package
		// Ignore are doublestar globs, relative to each package directory,
		// merged with the built-in ignores.
		Ignore []string
		// Debounce is the quiet period after the last event before OnChange fires.
		Debounce time.Duration
		// OnChange receives the changed packages in the order of Packages.
		OnChange func(ctx context.Context, changed []*workspace.Package) error
		// Logger receives diagnostics. Nil discards them.
		Logger *log.Logger
	}

	// Watcher monitors package directories. Run must be called exactly once.
	Watcher struct {
		cfg      Config
		fsw      *fsnotify.Watcher
		ignores  []string
		logger   *log.Logger
		debounce time.Duration
		started  atomic.Bool
	}
)

// New validates cfg and registers every non-ignored directory of every package.
func New(cfg Config) (*Watcher, error) {
	if len(cfg.Packages) == 0 {
		return nil, ErrNoPackages
	}
	for _, pat := range cfg.Ignore {
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("invalid ignore pattern %q", pat)
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	w := &Watcher{
		cfg:      cfg,
		fsw:      fsw,
		ignores:  slices.Concat(defaultIgnores, cfg.Ignore),
		logger:   logger,
		debounce: debounce,
	}
	for _, p := range cfg.Packages {
		if err := w.addTree(p); err != nil {
			if closeErr := fsw.Close(); closeErr != nil {
				logger.Warn("failed to close file watcher", "error", closeErr)
			}
			return nil, err
		}
	}
	return w, nil
}

// Run blocks until ctx is cancelled, dispatching debounced callbacks. It
// returns nil on cancellation and an error when the watcher breaks.
// Callbacks never overlap: a burst that settles while OnChange is still
// running is delivered once it returns. Run waits for a running callback
// before it returns.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	var (
		mu       sync.Mutex
		pending  = make(map[string]bool)
		timer    *time.Timer
		stopped  bool
		running  atomic.Bool
		inflight sync.WaitGroup
	)

	fire := func() {
		mu.Lock()
		if stopped || ctx.Err() != nil {
			mu.Unlock()
			return
		}
		if !running.CompareAndSwap(false, true) {
			timer.Reset(w.debounce)
			mu.Unlock()
			return
		}
		inflight.Add(1)
		var changed []*workspace.Package
		for _, p := range w.cfg.Packages {
			if pending[p.Name] {
				changed = append(changed, p)
			}
		}
		clear(pending)
		mu.Unlock()

		defer inflight.Done()
		defer running.Store(false)

		if len(changed) == 0 || w.cfg.OnChange == nil {
			return
		}
		if err := w.cfg.OnChange(ctx, changed); err != nil {
			w.logger.Error("change handler failed", "error", err)
		}
	}

	// A callback already running when Run stops is awaited, so none outlives Run.
	defer func() {
		mu.Lock()
		stopped = true
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		inflight.Wait()
		if err := w.fsw.Close(); err != nil {
			w.logger.Warn("failed to close file watcher", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("file watcher event channel closed")
			}
			p, rel, ok := w.owner(evt.Name)
			if !ok || w.isIgnored(rel) {
				continue
			}
			if evt.Has(fsnotify.Create) {
				w.maybeAddDir(p, evt.Name)
			}
			w.logger.Debug("file changed", "package", p.Name, "path", rel, "op", evt.Op.String())

			mu.Lock()
			pending[p.Name] = true
			if timer == nil {
				timer = time.AfterFunc(w.debounce, fire)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("file watcher error channel closed")
			}
			if isFatalWatchError(err) {
				return fmt.Errorf("file watcher failed: %w", err)
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

// owner returns the package containing path and the slash-separated path
// relative to its directory. Nested packages win over their parents.
func (w *Watcher) owner(path string) (*workspace.Package, string, bool) {
	var (
		best    *workspace.Package
		bestRel string
	)
	for _, p := range w.cfg.Packages {
		rel, err := filepath.Rel(p.Dir, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		if best == nil || len(p.Dir) > len(best.Dir) {
			best, bestRel = p, filepath.ToSlash(rel)
		}
	}
	return best, bestRel, best != nil
}

// addTree registers p.Dir and its non-ignored subdirectories.
func (w *Watcher) addTree(p *workspace.Package) error {
	err := filepath.WalkDir(p.Dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == p.Dir {
				return walkErr
			}
			w.logger.Warn("skipping unreadable directory", "path", path, "error", walkErr)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(p.Dir, path)
		if err != nil {
			return nil
		}
		if r := filepath.ToSlash(rel); path != p.Dir && (w.isIgnored(r) || w.isIgnored(r+"/")) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", p.Name, err)
	}
	return nil
}

func (w *Watcher) maybeAddDir(p *workspace.Package, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if err := w.addTree(&workspace.Package{Name: p.Name, Dir: path}); err != nil {
		w.logger.Warn("failed to watch new directory", "path", path, "error", err)
	}
}

func (w *Watcher) isIgnored(rel string) bool {
	for _, pat := range w.ignores {
		if matched, _ := doublestar.Match(pat, rel); matched {
			return true
		}
	}
	return false
}
