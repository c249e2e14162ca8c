// SPDX-License-Identifier: MPL-2.0

package workspace

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultPatterns are used when no workspace patterns are configured.
var DefaultPatterns = []string{"packages/*"}

var (
	// ErrNoPackages is returned when discovery or filtering leaves no packages.
	ErrNoPackages = errors.New("no packages found")
	// ErrInvalidPattern is returned for malformed glob patterns.
	ErrInvalidPattern = errors.New("invalid glob pattern")
	// ErrDuplicatePackage is returned when two directories declare the same name.
	ErrDuplicatePackage = errors.New("duplicate package name")
)

// Workspace is the set of discovered packages, in discovery order
// (sorted by relative directory).
type Workspace struct {
	Root     string
	Packages []*Package
}

// Discover finds packages under root matching patterns. Patterns use
// doublestar syntax relative to root; a leading "!" excludes matches.
// Directories named node_modules are never packages.
func Discover(root string, patterns []string) (*Workspace, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}

	include, exclude, err := splitPatterns(patterns)
	if err != nil {
		return nil, err
	}

	fsys := os.DirFS(absRoot)
	dirs := make(map[string]struct{})
	for _, pattern := range include {
		matches, err := doublestar.Glob(fsys, path.Join(pattern, ManifestFile))
		if err != nil {
			return nil, fmt.Errorf("%w %q: %w", ErrInvalidPattern, pattern, err)
		}
		for _, m := range matches {
			dir := path.Dir(m)
			if isExcluded(dir, exclude) {
				continue
			}
			dirs[dir] = struct{}{}
		}
	}

	ws := &Workspace{Root: absRoot}
	seen := make(map[string]string)
	for _, rel := range slices.Sorted(maps.Keys(dirs)) {
		pkg, err := readPackage(absRoot, filepath.Join(absRoot, filepath.FromSlash(rel)))
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[pkg.Name]; ok {
			return nil, fmt.Errorf("%w %q in %s and %s", ErrDuplicatePackage, pkg.Name, prev, pkg.RelDir)
		}
		seen[pkg.Name] = pkg.RelDir
		ws.Packages = append(ws.Packages, pkg)
	}

	if len(ws.Packages) == 0 {
		return nil, fmt.Errorf("%w in %s (patterns: %s)", ErrNoPackages, absRoot, strings.Join(patterns, ", "))
	}
	return ws, nil
}

// Lookup returns the package with the given name.
func (w *Workspace) Lookup(name string) (*Package, bool) {
	for _, p := range w.Packages {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// Names returns the package names in workspace order.
func (w *Workspace) Names() []string {
	names := make([]string, len(w.Packages))
	for i, p := range w.Packages {
		names[i] = p.Name
	}
	return names
}

// Filter returns a workspace holding only packages whose name matches at least
// one glob. No globs returns the workspace unchanged.
func (w *Workspace) Filter(globs ...string) (*Workspace, error) {
	if len(globs) == 0 {
		return w, nil
	}
	for _, g := range globs {
		if !doublestar.ValidatePattern(g) {
			return nil, fmt.Errorf("%w %q", ErrInvalidPattern, g)
		}
	}

	filtered := &Workspace{Root: w.Root}
	for _, p := range w.Packages {
		if slices.ContainsFunc(globs, func(g string) bool { return matchName(g, p.Name) }) {
			filtered.Packages = append(filtered.Packages, p)
		}
	}
	if len(filtered.Packages) == 0 {
		return nil, fmt.Errorf("%w matching %s", ErrNoPackages, strings.Join(globs, ", "))
	}
	return filtered, nil
}

func matchName(glob, name string) bool {
	ok, err := doublestar.Match(glob, name)
	return err == nil && ok
}

func splitPatterns(patterns []string) (include, exclude []string, err error) {
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		negated := strings.HasPrefix(p, "!")
		p = strings.TrimSuffix(strings.TrimPrefix(p, "!"), "/")
		if p == "" || !doublestar.ValidatePattern(p) {
			return nil, nil, fmt.Errorf("%w %q", ErrInvalidPattern, p)
		}
		if negated {
			exclude = append(exclude, p)
		} else {
			include = append(include, p)
		}
	}
	return include, exclude, nil
}

func isExcluded(dir string, exclude []string) bool {
	if slices.Contains(strings.Split(dir, "/"), "node_modules") {
		return true
	}
	return slices.ContainsFunc(exclude, func(p string) bool { return matchName(p, dir) })
}
