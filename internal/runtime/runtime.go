// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"context"
	"errors"
	"fmt"
)

// Runtime mode constants.
const (
	ModeNative  Mode = "native"
	ModeVirtual Mode = "virtual"
)

var (
	// ErrInvalidMode is the sentinel error wrapped by InvalidModeError.
	ErrInvalidMode = errors.New("invalid runtime mode")
	// ErrEmptyScript is returned when a Request carries no script.
	ErrEmptyScript = errors.New("script has no content to execute")
	// ErrRuntimeUnavailable is returned when a runtime cannot run on this host.
	ErrRuntimeUnavailable = errors.New("runtime not available")
)

type (
	// Mode selects the runtime implementation.
	Mode string

	// InvalidModeError is returned when a Mode value is not recognized.
	// It wraps ErrInvalidMode for errors.Is() compatibility.
	InvalidModeError struct {
		Value Mode
	}

	// Request describes one script execution.
	Request struct {
		// Script is the shell source to run.
		Script string
		// Args become the positional parameters $1, $2, ...
		Args []string
		// Dir is the working directory. Empty means the current directory.
		Dir string
		// Env is the complete environment as KEY=VALUE pairs.
		// A nil Env runs with an empty environment.
		Env []string
	}

	// Result contains the result of a script execution.
	Result struct {
		// ExitCode is the exit status of the script.
		ExitCode ExitCode
		// Error is an infrastructure failure (shell missing, parse error, ...).
		// It is nil for scripts that ran and exited non-zero.
		Error error
		// Output contains captured stdout.
		Output string
		// ErrOutput contains captured stderr.
		ErrOutput string
	}

	// Runtime executes scripts.
	Runtime interface {
		// Name returns the runtime name.
		Name() string
		// Available returns whether this runtime can run on the current system.
		Available() bool
		// Execute runs req and captures its output. Cancelling ctx kills the script.
		Execute(ctx context.Context, req *Request) *Result
	}
)

// New returns the runtime registered for mode.
func New(mode Mode) (Runtime, error) {
	var rt Runtime
	switch mode {
	case ModeNative:
		rt = NewNativeRuntime()
	case ModeVirtual:
		rt = NewVirtualRuntime()
	default:
		return nil, &InvalidModeError{Value: mode}
	}
	if !rt.Available() {
		return nil, fmt.Errorf("%w: %s", ErrRuntimeUnavailable, mode)
	}
	return rt, nil
}

// String returns the string representation of the Mode.
func (m Mode) String() string { return string(m) }

// IsValid returns whether the Mode is one of the defined runtime modes,
// and a list of validation errors if it is not.
func (m Mode) IsValid() (bool, []error) {
	switch m {
	case ModeNative, ModeVirtual:
		return true, nil
	default:
		return false, []error{&InvalidModeError{Value: m}}
	}
}

// Error implements the error interface for InvalidModeError.
func (e *InvalidModeError) Error() string {
	return fmt.Sprintf("invalid runtime mode %q (valid: native, virtual)", e.Value)
}

// Unwrap returns ErrInvalidMode for errors.Is() compatibility.
func (e *InvalidModeError) Unwrap() error { return ErrInvalidMode }

// Err returns the execution failure as an error: the infrastructure error if
// any, an *ExitError for a non-zero exit status, or nil on success.
func (r *Result) Err() error {
	if r.Error != nil {
		return r.Error
	}
	if !r.ExitCode.IsSuccess() {
		return &ExitError{Code: r.ExitCode, Stderr: r.ErrOutput}
	}
	return nil
}

// errorResult creates a Result for an infrastructure failure.
func errorResult(err error) *Result {
	return &Result{ExitCode: 1, Error: err}
}
