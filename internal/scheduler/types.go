// SPDX-License-Identifier: MPL-2.0

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// ModeParallel admits up to Config.Concurrency tasks at once.
	ModeParallel Mode = "parallel"
	// ModeSequential runs tasks one at a time in input order.
	ModeSequential Mode = "sequential"

	// StatusFulfilled marks a task that returned without error.
	StatusFulfilled Status = "fulfilled"
	// StatusRejected marks a task that returned an error, panicked, or was never admitted.
	StatusRejected Status = "rejected"

	// MaxConcurrency is the largest accepted ConcurrencyLimit.
	// Anything higher is almost certainly a typo and would spawn an unbounded
	// number of child processes in practice.
	MaxConcurrency ConcurrencyLimit = 10000

	// DefaultConcurrency is used when no limit is configured.
	DefaultConcurrency ConcurrencyLimit = 3
)

var (
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	// It is the configuration error class: Run returns it before any task executes.
	ErrInvalidConfig = errors.New("invalid run configuration")
	// ErrInvalidConcurrency is returned when a ConcurrencyLimit is out of range or unparsable.
	ErrInvalidConcurrency = errors.New("invalid concurrency limit")
	// ErrInvalidMode is returned when a Mode value is not recognized.
	ErrInvalidMode = errors.New("invalid run mode")
	// ErrInvalidProgressInterval is returned when a progress interval is negative.
	ErrInvalidProgressInterval = errors.New("invalid progress interval")
	// ErrNotAdmitted is wrapped by the outcome error of tasks that were still
	// queued when the run context was cancelled.
	ErrNotAdmitted = errors.New("task not admitted")
	// ErrTaskPanicked is the sentinel error wrapped by PanicError.
	ErrTaskPanicked = errors.New("task panicked")
)

type (
	// Mode selects between bounded-parallel and strictly sequential execution.
	Mode string

	// InvalidModeError is returned when a Mode value is not recognized.
	// It wraps ErrInvalidMode for errors.Is() compatibility.
	InvalidModeError struct {
		Value Mode
	}

	// ConcurrencyLimit is the maximum number of tasks in flight at once.
	// Valid values are in the range [1, MaxConcurrency].
	ConcurrencyLimit int

	// InvalidConcurrencyError is returned when a ConcurrencyLimit is out of range
	// or could not be parsed. Raw holds the unparsed input when available.
	// It wraps ErrInvalidConcurrency for errors.Is() compatibility.
	InvalidConcurrencyError struct {
		Value ConcurrencyLimit
		Raw   string
	}

	// InvalidProgressIntervalError is returned when Config.ProgressInterval is negative.
	InvalidProgressIntervalError struct {
		Value time.Duration
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// PanicError records a panic raised by a task body.
	PanicError struct {
		Value any
		Stack []byte
	}

	// Config is the immutable configuration of a single Run.
	Config struct {
		// Concurrency caps the number of tasks in flight. A value of 1 is
		// equivalent to ModeSequential.
		Concurrency ConcurrencyLimit
		// ProgressInterval is the cadence of progress notifications while tasks
		// remain outstanding. Zero disables progress reporting.
		ProgressInterval time.Duration
		// Mode selects parallel or sequential execution.
		Mode Mode
	}

	// Task is a unit of work submitted to the scheduler.
	Task[T any] struct {
		// Name is the display name. Empty names are reported as "Task <n>"
		// where n is the 1-based submission index.
		Name string
		// Run performs the work. It receives the run context.
		Run func(ctx context.Context) (T, error)
	}

	// Status is the settlement state of a task.
	Status string

	// Outcome is the recorded result of one task.
	Outcome[T any] struct {
		// Index is the 0-based submission index.
		Index int
		// Name is the task display name.
		Name string
		// Status is StatusFulfilled or StatusRejected.
		Status Status
		// Value is the task result. It is the zero value for rejected tasks.
		Value T
		// Err is the failure reason for rejected tasks.
		Err error
		// Elapsed is measured from the task's own admission to its settlement.
		Elapsed time.Duration
	}

	// Summary aggregates every Outcome of a Run in submission order.
	Summary[T any] struct {
		Outcomes  []Outcome[T]
		Fulfilled int
		Rejected  int
		// Elapsed is the wall-clock time of the whole run.
		Elapsed time.Duration
	}

	// Progress is a periodic snapshot emitted while tasks are outstanding.
	Progress struct {
		Completed int
		Total     int
		Elapsed   time.Duration
	}
)

// DefaultConfig returns the configuration used when nothing is specified.
func DefaultConfig() Config {
	return Config{
		Concurrency: DefaultConcurrency,
		Mode:        ModeParallel,
	}
}

// Sequential reports whether the configuration runs tasks one at a time.
func (c Config) Sequential() bool {
	return c.Mode == ModeSequential || c.Concurrency <= 1
}

// IsValid returns whether the Config has valid fields.
// It delegates to Concurrency.IsValid() and Mode.IsValid() and rejects
// negative progress intervals.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.Concurrency.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Mode.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if c.ProgressInterval < 0 {
		errs = append(errs, &InvalidProgressIntervalError{Value: c.ProgressInterval})
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Validate returns the first validation error of the Config, or nil.
func (c Config) Validate() error {
	if valid, errs := c.IsValid(); !valid {
		return errs[0]
	}
	return nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, 0, len(e.FieldErrors))
	for _, err := range e.FieldErrors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("invalid run configuration: %s", strings.Join(msgs, "; "))
}

// Unwrap returns ErrInvalidConfig and the field errors, so both
// errors.Is(err, ErrInvalidConfig) and errors.Is(err, ErrInvalidConcurrency) hold.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}

// String returns the string representation of the Mode.
func (m Mode) String() string { return string(m) }

// IsValid returns whether the Mode is one of the defined modes,
// and a list of validation errors if it is not.
func (m Mode) IsValid() (bool, []error) {
	switch m {
	case ModeParallel, ModeSequential:
		return true, nil
	default:
		return false, []error{&InvalidModeError{Value: m}}
	}
}

// Error implements the error interface for InvalidModeError.
func (e *InvalidModeError) Error() string {
	return fmt.Sprintf("invalid run mode %q (valid: parallel, sequential)", e.Value)
}

// Unwrap returns ErrInvalidMode for errors.Is() compatibility.
func (e *InvalidModeError) Unwrap() error { return ErrInvalidMode }

// String returns the decimal representation of the ConcurrencyLimit.
func (c ConcurrencyLimit) String() string { return strconv.Itoa(int(c)) }

// IsValid returns whether the ConcurrencyLimit is in [1, MaxConcurrency].
func (c ConcurrencyLimit) IsValid() (bool, []error) {
	if c < 1 || c > MaxConcurrency {
		return false, []error{&InvalidConcurrencyError{Value: c}}
	}
	return true, nil
}

// Error implements the error interface for InvalidConcurrencyError.
func (e *InvalidConcurrencyError) Error() string {
	if e.Raw != "" {
		return fmt.Sprintf("invalid concurrency limit %q (must be an integer in range 1-%d)", e.Raw, MaxConcurrency)
	}
	return fmt.Sprintf("invalid concurrency limit %d (must be in range 1-%d)", e.Value, MaxConcurrency)
}

// Unwrap returns ErrInvalidConcurrency for errors.Is() compatibility.
func (e *InvalidConcurrencyError) Unwrap() error { return ErrInvalidConcurrency }

// Error implements the error interface for InvalidProgressIntervalError.
func (e *InvalidProgressIntervalError) Error() string {
	return fmt.Sprintf("invalid progress interval %s (must not be negative)", e.Value)
}

// Unwrap returns ErrInvalidProgressInterval for errors.Is() compatibility.
func (e *InvalidProgressIntervalError) Unwrap() error { return ErrInvalidProgressInterval }

// Error implements the error interface for PanicError.
func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Unwrap returns ErrTaskPanicked for errors.Is() compatibility.
func (e *PanicError) Unwrap() error { return ErrTaskPanicked }

// String returns the string representation of the Status.
func (s Status) String() string { return string(s) }

// OK reports whether no task was rejected.
func (s *Summary[T]) OK() bool { return s.Rejected == 0 }

// Failed returns the rejected outcomes in submission order.
func (s *Summary[T]) Failed() []Outcome[T] {
	var failed []Outcome[T]
	for _, o := range s.Outcomes {
		if o.Status == StatusRejected {
			failed = append(failed, o)
		}
	}
	return failed
}

// Err joins the errors of all rejected outcomes, each prefixed with the task
// name. It returns nil when every task was fulfilled.
func (s *Summary[T]) Err() error {
	var errs []error
	for _, o := range s.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", o.Name, o.Err))
	}
	return errors.Join(errs...)
}

// ParseConcurrency parses a concurrency limit from user input such as a CLI
// flag or environment variable. Unparsable, non-positive, or out-of-range input
// is rejected with an *InvalidConfigError instead of falling back to a default.
func ParseConcurrency(raw string) (ConcurrencyLimit, error) {
	trimmed := strings.TrimSpace(raw)
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, &InvalidConfigError{FieldErrors: []error{&InvalidConcurrencyError{Raw: raw}}}
	}
	limit := ConcurrencyLimit(n)
	if valid, fieldErrs := limit.IsValid(); !valid {
		return 0, &InvalidConfigError{FieldErrors: fieldErrs}
	}
	return limit, nil
}

// taskName returns the display name of the task at index i.
func taskName[T any](t Task[T], i int) string {
	if name := strings.TrimSpace(t.Name); name != "" {
		return name
	}
	return fmt.Sprintf("Task %d", i+1)
}
