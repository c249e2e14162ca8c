// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"time"
)

const (
	// scriptName is passed as $0 to POSIX shells.
	scriptName = "pkgrun"
	// killWaitDelay is how long Wait keeps copying output after a cancelled
	// script was killed before it closes the pipes.
	killWaitDelay = 200 * time.Millisecond
)

var errNoShell = errors.New("no shell found")

type (
	// NativeRuntime executes scripts using the system's default shell.
	NativeRuntime struct {
		shell     string
		shellArgs []string
		lookPath  func(string) (string, error)
		getenv    func(string) string
	}

	// NativeOption configures a NativeRuntime.
	NativeOption func(*NativeRuntime)
)

// WithShell overrides the shell binary used by the runtime.
func WithShell(shell string) NativeOption {
	return func(r *NativeRuntime) { r.shell = shell }
}

// WithShellArgs overrides the arguments placed before the script.
func WithShellArgs(args ...string) NativeOption {
	return func(r *NativeRuntime) { r.shellArgs = args }
}

// NewNativeRuntime creates a new native runtime.
func NewNativeRuntime(opts ...NativeOption) *NativeRuntime {
	r := &NativeRuntime{lookPath: exec.LookPath, getenv: os.Getenv}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name returns the runtime name.
func (r *NativeRuntime) Name() string { return string(ModeNative) }

// Available returns whether a shell can be found.
func (r *NativeRuntime) Available() bool {
	_, err := r.getShell()
	return err == nil
}

// Execute runs the script with the host shell and captures its output.
func (r *NativeRuntime) Execute(ctx context.Context, req *Request) *Result {
	if strings.TrimSpace(req.Script) == "" {
		return errorResult(ErrEmptyScript)
	}
	if err := validateWorkDir(req.Dir); err != nil {
		return errorResult(err)
	}

	shell, err := r.getShell()
	if err != nil {
		return errorResult(err)
	}

	args := append(r.getShellArgs(shell), req.Script)
	args = appendPositionalArgs(shell, args, req.Args)

	cmd := exec.CommandContext(ctx, shell, args...)
	cmd.Dir = req.Dir
	cmd.Env = req.Env
	if cmd.Env == nil {
		cmd.Env = []string{}
	}
	configureProcess(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	result := &Result{Output: stdout.String(), ErrOutput: stderr.String()}
	if err == nil {
		return result
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		result.ExitCode = 1
		result.Error = ctxErr
		return result
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = ExitCode(exitErr.ExitCode())
		return result
	}
	result.ExitCode = 1
	result.Error = fmt.Errorf("failed to execute script: %w", err)
	return result
}

// getShell determines which shell to use.
func (r *NativeRuntime) getShell() (string, error) {
	if r.shell != "" {
		return r.shell, nil
	}

	switch goruntime.GOOS {
	case "windows":
		for _, name := range []string{"pwsh", "powershell", "cmd"} {
			if path, err := r.lookPath(name); err == nil {
				return path, nil
			}
		}
		return "", errNoShell
	default:
		if shell := r.getenv("SHELL"); shell != "" {
			return shell, nil
		}
		for _, name := range []string{"bash", "sh"} {
			if path, err := r.lookPath(name); err == nil {
				return path, nil
			}
		}
		return "", errNoShell
	}
}

// getShellArgs returns the arguments to pass to the shell before the script.
func (r *NativeRuntime) getShellArgs(shell string) []string {
	if len(r.shellArgs) > 0 {
		return append([]string{}, r.shellArgs...)
	}

	switch shellBase(shell) {
	case "cmd":
		return []string{"/C"}
	case "powershell", "pwsh":
		return []string{"-NoProfile", "-Command"}
	default:
		return []string{"-c"}
	}
}

// appendPositionalArgs appends positional arguments after the script.
// For POSIX shells args become $1, $2, ... with "pkgrun" as $0.
// PowerShell exposes them as $args. cmd.exe does not support them.
func appendPositionalArgs(shell string, args, positional []string) []string {
	if len(positional) == 0 {
		return args
	}

	switch shellBase(shell) {
	case "cmd":
		return args
	case "powershell", "pwsh":
		return append(args, positional...)
	default:
		args = append(args, scriptName)
		return append(args, positional...)
	}
}

func shellBase(shell string) string {
	base := filepath.Base(shell)
	if i := strings.LastIndex(base, "\\"); i >= 0 {
		base = base[i+1:]
	}
	return strings.TrimSuffix(strings.ToLower(base), ".exe")
}

// validateWorkDir validates that a working directory exists and is a directory.
func validateWorkDir(dir string) error {
	if dir == "" {
		return nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("working directory does not exist: %s", dir)
		}
		return fmt.Errorf("cannot access working directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("working directory is not a directory: %s", dir)
	}
	return nil
}
