// SPDX-License-Identifier: MPL-2.0

package workspace

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrCycle is the sentinel error wrapped by CycleError.
var ErrCycle = errors.New("dependency cycle detected")

// CycleError indicates that packages depend on each other in a cycle,
// preventing topological ordering.
type CycleError struct {
	// Packages are the names left unordered, which includes every cycle member.
	Packages []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCycle, strings.Join(e.Packages, " -> "))
}

// Unwrap returns ErrCycle for errors.Is() compatibility.
func (e *CycleError) Unwrap() error { return ErrCycle }

// Dependents returns the names of workspace packages that depend on name.
func (w *Workspace) Dependents(name string) []string {
	var out []string
	for _, p := range w.Packages {
		if slices.Contains(p.Dependencies, name) {
			out = append(out, p.Name)
		}
	}
	return out
}

// InternalDependencies returns the dependencies of p that are packages of w.
func (w *Workspace) InternalDependencies(p *Package) []string {
	var out []string
	for _, dep := range p.Dependencies {
		if _, ok := w.Lookup(dep); ok && dep != p.Name {
			out = append(out, dep)
		}
	}
	return out
}

// Levels groups packages into waves using Kahn's algorithm. Every package in
// a wave depends only on packages of earlier waves, so a wave can run
// concurrently once the previous waves have finished. Within a wave packages
// keep workspace order. Dependencies on packages outside w are ignored.
func (w *Workspace) Levels() ([][]*Package, error) {
	if len(w.Packages) == 0 {
		return nil, nil
	}

	inDegree := make(map[string]int, len(w.Packages))
	dependents := make(map[string][]string, len(w.Packages))
	for _, p := range w.Packages {
		deps := w.InternalDependencies(p)
		inDegree[p.Name] = len(deps)
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], p.Name)
		}
	}

	var (
		levels  [][]*Package
		ordered int
	)
	current := slices.DeleteFunc(slices.Clone(w.Packages), func(p *Package) bool { return inDegree[p.Name] != 0 })
	for len(current) > 0 {
		levels = append(levels, current)
		ordered += len(current)

		ready := make(map[string]bool)
		for _, p := range current {
			for _, d := range dependents[p.Name] {
				inDegree[d]--
				if inDegree[d] == 0 {
					ready[d] = true
				}
			}
		}
		var next []*Package
		for _, p := range w.Packages {
			if ready[p.Name] {
				next = append(next, p)
			}
		}
		current = next
	}

	if ordered != len(w.Packages) {
		var cycle []string
		for _, p := range w.Packages {
			if inDegree[p.Name] > 0 {
				cycle = append(cycle, p.Name)
			}
		}
		return nil, &CycleError{Packages: cycle}
	}
	return levels, nil
}

// Sorted returns packages in dependency order: every package appears after
// the workspace packages it depends on.
func (w *Workspace) Sorted() ([]*Package, error) {
	levels, err := w.Levels()
	if err != nil {
		return nil, err
	}
	return slices.Concat(levels...), nil
}
