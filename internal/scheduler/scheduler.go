// SPDX-License-Identifier: MPL-2.0

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrNilTask is the outcome error of a task submitted without a Run function.
var ErrNilTask = errors.New("task has no run function")

type (
	// Clock abstracts time measurement so elapsed times can be asserted in tests.
	// testutil.FakeClock satisfies it.
	Clock interface {
		Now() time.Time
		Since(t time.Time) time.Duration
	}

	// Settlement is the type-erased view of an Outcome passed to the
	// WithSettled hook as soon as a task settles.
	Settlement struct {
		Index   int
		Name    string
		Status  Status
		Err     error
		Elapsed time.Duration
	}

	// Option customizes a single Run.
	Option func(*options)

	options struct {
		onProgress func(Progress)
		onSettled  func(Settlement)
		clock      Clock
	}

	realClock struct{}

	// run holds the state of one Run invocation. It is discarded once the
	// Summary has been built.
	run[T any] struct {
		tasks     []Task[T]
		outcomes  []Outcome[T]
		opts      options
		start     time.Time
		completed atomic.Int64
		// settleMu serializes the onSettled hook so callers need no locking.
		settleMu sync.Mutex
	}
)

func (realClock) Now() time.Time                  { return time.Now() }
func (realClock) Since(t time.Time) time.Duration { return time.Since(t) }

// WithProgress registers a callback invoked every Config.ProgressInterval
// while tasks remain outstanding. It is never invoked after Run returns, and
// never once every task has completed.
func WithProgress(fn func(Progress)) Option {
	return func(o *options) { o.onProgress = fn }
}

// WithSettled registers a callback invoked once per task as it settles, in
// completion order. Calls are serialized. Callers that want fail-fast
// behavior can cancel the run context from this hook.
func WithSettled(fn func(Settlement)) Option {
	return func(o *options) { o.onSettled = fn }
}

// SettledHook returns the callback WithSettled installs among opts, or nil.
// Wrappers that run several batches use it to rewrite settlements before
// passing them on.
func SettledHook(opts ...Option) func(Settlement) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o.onSettled
}

// WithClock overrides the clock used to measure elapsed times.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// Run executes tasks under cfg and returns one Outcome per task in submission
// order. The only error it returns is an *InvalidConfigError, raised before
// any task executes; task failures are recorded in the Summary.
func Run[T any](ctx context.Context, tasks []Task[T], cfg Config, opts ...Option) (*Summary[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{clock: realClock{}}
	for _, opt := range opts {
		opt(&o)
	}

	r := &run[T]{
		tasks:    tasks,
		outcomes: make([]Outcome[T], len(tasks)),
		opts:     o,
		start:    o.clock.Now(),
	}
	if len(tasks) == 0 {
		return r.summary(), nil
	}

	stopProgress := r.startProgress(cfg.ProgressInterval)
	if cfg.Sequential() || len(tasks) <= 1 {
		r.runSequential(ctx)
	} else {
		r.runParallel(ctx, int64(cfg.Concurrency))
	}
	stopProgress()

	return r.summary(), nil
}

// runSequential runs every task in input order with no overlap.
func (r *run[T]) runSequential(ctx context.Context) {
	for i := range r.tasks {
		if err := ctx.Err(); err != nil {
			r.reject(i, err)
			continue
		}
		r.execute(ctx, i)
	}
}

// runParallel admits tasks front to back, one semaphore credit each. Credits
// are returned on settlement, so the next queued task starts as soon as any
// in-flight task finishes.
func (r *run[T]) runParallel(ctx context.Context, limit int64) {
	sem := semaphore.NewWeighted(limit)
	var wg sync.WaitGroup

	for i := range r.tasks {
		// Acquire may succeed on a done context, so check first.
		err := ctx.Err()
		if err == nil {
			err = sem.Acquire(ctx, 1)
		}
		if err != nil {
			for j := i; j < len(r.tasks); j++ {
				r.reject(j, err)
			}
			break
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			r.execute(ctx, i)
		}()
	}

	wg.Wait()
}

// execute runs the task at index i and records its outcome.
func (r *run[T]) execute(ctx context.Context, i int) {
	task := r.tasks[i]
	admitted := r.opts.clock.Now()
	value, err := call(ctx, task)
	outcome := Outcome[T]{
		Index:   i,
		Name:    taskName(task, i),
		Elapsed: r.opts.clock.Since(admitted),
	}
	if err != nil {
		outcome.Status = StatusRejected
		outcome.Err = err
	} else {
		outcome.Status = StatusFulfilled
		outcome.Value = value
	}
	r.settle(outcome)
}

// reject records a task that was never admitted because the run was cancelled.
func (r *run[T]) reject(i int, cause error) {
	r.settle(Outcome[T]{
		Index:  i,
		Name:   taskName(r.tasks[i], i),
		Status: StatusRejected,
		Err:    fmt.Errorf("%w: %w", ErrNotAdmitted, cause),
	})
}

func (r *run[T]) settle(o Outcome[T]) {
	r.outcomes[o.Index] = o
	r.completed.Add(1)

	if r.opts.onSettled == nil {
		return
	}
	r.settleMu.Lock()
	defer r.settleMu.Unlock()
	r.opts.onSettled(Settlement{
		Index:   o.Index,
		Name:    o.Name,
		Status:  o.Status,
		Err:     o.Err,
		Elapsed: o.Elapsed,
	})
}

// startProgress starts the progress ticker and returns a function that stops
// it and waits until no further callback can fire.
func (r *run[T]) startProgress(interval time.Duration) func() {
	if interval <= 0 || r.opts.onProgress == nil {
		return func() {}
	}

	total := len(r.tasks)
	done := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
			completed := int(r.completed.Load())
			if completed >= total {
				return
			}
			r.opts.onProgress(Progress{
				Completed: completed,
				Total:     total,
				Elapsed:   r.opts.clock.Since(r.start),
			})
		}
	}()

	return func() {
		close(done)
		<-exited
	}
}

func (r *run[T]) summary() *Summary[T] {
	s := &Summary[T]{
		Outcomes: r.outcomes,
		Elapsed:  r.opts.clock.Since(r.start),
	}
	for _, o := range r.outcomes {
		if o.Status == StatusFulfilled {
			s.Fulfilled++
		} else {
			s.Rejected++
		}
	}
	return s
}

// call invokes the task body, converting a panic into a *PanicError.
func call[T any](ctx context.Context, task Task[T]) (value T, err error) {
	if task.Run == nil {
		return value, ErrNilTask
	}
	defer func() {
		if rec := recover(); rec != nil {
			var zero T
			value = zero
			err = &PanicError{Value: rec, Stack: debug.Stack()}
		}
	}()
	return task.Run(ctx)
}
