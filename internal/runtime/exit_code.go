// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidExitCode is the sentinel error wrapped by InvalidExitCodeError.
	ErrInvalidExitCode = errors.New("invalid exit code")
	// ErrNonZeroExit is the sentinel error wrapped by ExitError.
	ErrNonZeroExit = errors.New("script exited with non-zero status")
)

// stderrTailLines bounds how much captured stderr an ExitError message carries.
const stderrTailLines = 3

type (
	// ExitCode represents a process exit status code.
	// Exit codes are in the range 0-255 on POSIX systems.
	// The zero value (0) means success.
	ExitCode int

	// InvalidExitCodeError is returned when an ExitCode is outside the
	// valid range (0-255).
	InvalidExitCodeError struct {
		Value ExitCode
	}

	// ExitError reports a script that ran to completion with a non-zero status.
	ExitError struct {
		Code ExitCode
		// Stderr is the captured standard error of the script.
		Stderr string
	}
)

// Error implements the error interface.
func (e *InvalidExitCodeError) Error() string {
	return fmt.Sprintf("invalid exit code %d (must be in range 0-255)", e.Value)
}

// Unwrap returns ErrInvalidExitCode so callers can use errors.Is for programmatic detection.
func (e *InvalidExitCodeError) Unwrap() error { return ErrInvalidExitCode }

// IsValid returns whether the ExitCode is in the valid range (0-255),
// and a list of validation errors if it is not.
func (c ExitCode) IsValid() (bool, []error) {
	if c < 0 || c > 255 {
		return false, []error{&InvalidExitCodeError{Value: c}}
	}
	return true, nil
}

// IsSuccess returns true if the exit code indicates successful execution.
func (c ExitCode) IsSuccess() bool { return c == 0 }

// String returns the decimal string representation of the ExitCode.
func (c ExitCode) String() string { return strconv.Itoa(int(c)) }

// Error implements the error interface. The last few lines of stderr are
// included so a failure report is useful without verbose output.
func (e *ExitError) Error() string {
	msg := fmt.Sprintf("exit status %d", e.Code)
	tail := tailLines(e.Stderr, stderrTailLines)
	if tail == "" {
		return msg
	}
	return msg + ": " + tail
}

// Unwrap returns ErrNonZeroExit for errors.Is() compatibility.
func (e *ExitError) Unwrap() error { return ErrNonZeroExit }

// tailLines returns the last n non-empty lines of s joined by " | ".
func tailLines(s string, n int) string {
	var lines []string
	for line := range strings.SplitSeq(strings.TrimSpace(s), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
