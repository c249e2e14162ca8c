// SPDX-License-Identifier: MPL-2.0

package workspace

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/pkgrun/pkgrun/internal/scheduler"
)

// ErrDependencyFailed is the outcome error of a package skipped because one of
// its workspace dependencies was rejected.
var ErrDependencyFailed = errors.New("dependency failed")

// RunLevels runs one task per package wave by wave (see Levels). A wave starts
// only after the previous one has settled. Packages whose workspace
// dependencies were rejected are not run; they are reported as rejected with
// ErrDependencyFailed, and their own dependents are skipped in turn.
//
// Outcomes are in workspace order. onProgress, if set, receives snapshots
// counting every package of w rather than only the current wave. opts apply to
// every per-wave scheduler.Run, except that a WithSettled hook sees workspace
// positions as Settlement.Index and also receives the skipped packages.
func RunLevels[T any](
	ctx context.Context,
	w *Workspace,
	cfg scheduler.Config,
	build func(*Package) scheduler.Task[T],
	onProgress func(scheduler.Progress),
	opts ...scheduler.Option,
) (*scheduler.Summary[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	levels, err := w.Levels()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	position := make(map[string]int, len(w.Packages))
	for i, p := range w.Packages {
		position[p.Name] = i
	}

	summary := &scheduler.Summary[T]{Outcomes: make([]scheduler.Outcome[T], len(w.Packages))}
	failed := make(map[string]bool)
	settled := 0
	onSettled := scheduler.SettledHook(opts...)

	for _, level := range levels {
		var (
			runnable []*Package
			tasks    []scheduler.Task[T]
		)
		for _, p := range level {
			if dep, ok := failedDependency(w, p, failed); ok {
				failed[p.Name] = true
				skipped := scheduler.Outcome[T]{
					Index:  position[p.Name],
					Name:   p.Name,
					Status: scheduler.StatusRejected,
					Err:    fmt.Errorf("%w: %s", ErrDependencyFailed, dep),
				}
				summary.Outcomes[skipped.Index] = skipped
				settled++
				if onSettled != nil {
					onSettled(scheduler.Settlement{
						Index:  skipped.Index,
						Name:   skipped.Name,
						Status: skipped.Status,
						Err:    skipped.Err,
					})
				}
				continue
			}
			runnable = append(runnable, p)
			task := build(p)
			task.Name = p.Name
			tasks = append(tasks, task)
		}
		if len(tasks) == 0 {
			continue
		}

		waveOpts := slices.Clip(opts)
		if onSettled != nil {
			waveOpts = append(waveOpts, scheduler.WithSettled(func(st scheduler.Settlement) {
				st.Index = position[runnable[st.Index].Name]
				onSettled(st)
			}))
		}
		if onProgress != nil {
			base := settled
			waveOpts = append(waveOpts, scheduler.WithProgress(func(p scheduler.Progress) {
				onProgress(scheduler.Progress{
					Completed: base + p.Completed,
					Total:     len(w.Packages),
					Elapsed:   time.Since(start),
				})
			}))
		}

		wave, err := scheduler.Run(ctx, tasks, cfg, waveOpts...)
		if err != nil {
			return nil, err
		}
		for i, o := range wave.Outcomes {
			p := runnable[i]
			o.Index = position[p.Name]
			summary.Outcomes[o.Index] = o
			if o.Status == scheduler.StatusRejected {
				failed[p.Name] = true
			}
		}
		settled += len(tasks)
	}

	for _, o := range summary.Outcomes {
		if o.Status == scheduler.StatusFulfilled {
			summary.Fulfilled++
		} else {
			summary.Rejected++
		}
	}
	summary.Elapsed = time.Since(start)
	return summary, nil
}

// failedDependency returns the first workspace dependency of p that failed.
func failedDependency(w *Workspace, p *Package, failed map[string]bool) (string, bool) {
	for _, dep := range w.InternalDependencies(p) {
		if failed[dep] {
			return dep, true
		}
	}
	return "", false
}
