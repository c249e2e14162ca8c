// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// VirtualRuntime executes scripts using the embedded mvdan/sh interpreter.
// Scripts behave the same on every host, including Windows.
type VirtualRuntime struct{}

// NewVirtualRuntime creates a new virtual runtime.
func NewVirtualRuntime() *VirtualRuntime {
	return &VirtualRuntime{}
}

// Name returns the runtime name.
func (r *VirtualRuntime) Name() string { return string(ModeVirtual) }

// Available always returns true since the interpreter is built in.
func (r *VirtualRuntime) Available() bool { return true }

// Validate parses the script without running it.
func (r *VirtualRuntime) Validate(script string) error {
	if strings.TrimSpace(script) == "" {
		return ErrEmptyScript
	}
	if _, err := syntax.NewParser().Parse(strings.NewReader(script), scriptName); err != nil {
		return fmt.Errorf("script syntax error: %w", err)
	}
	return nil
}

// Execute runs the script in-process and captures its output.
func (r *VirtualRuntime) Execute(ctx context.Context, req *Request) *Result {
	if strings.TrimSpace(req.Script) == "" {
		return errorResult(ErrEmptyScript)
	}
	if err := validateWorkDir(req.Dir); err != nil {
		return errorResult(err)
	}

	prog, err := syntax.NewParser().Parse(strings.NewReader(req.Script), scriptName)
	if err != nil {
		return errorResult(fmt.Errorf("failed to parse script: %w", err))
	}

	var stdout, stderr bytes.Buffer
	opts := []interp.RunnerOption{
		interp.Env(expand.ListEnviron(req.Env...)),
		interp.StdIO(nil, &stdout, &stderr),
		interp.ExecHandlers(execHandler),
	}
	if req.Dir != "" {
		opts = append(opts, interp.Dir(req.Dir))
	}
	// "--" stops interp.Params from treating args like "-v" as shell options.
	if len(req.Args) > 0 {
		opts = append(opts, interp.Params(append([]string{"--"}, req.Args...)...))
	}

	runner, err := interp.New(opts...)
	if err != nil {
		return errorResult(fmt.Errorf("failed to create interpreter: %w", err))
	}

	err = runner.Run(ctx, prog)
	result := &Result{Output: stdout.String(), ErrOutput: stderr.String()}
	if err == nil {
		return result
	}

	var exitStatus interp.ExitStatus
	switch {
	case ctx.Err() != nil:
		result.ExitCode = 1
		result.Error = ctx.Err()
	case errors.As(err, &exitStatus):
		result.ExitCode = ExitCode(exitStatus)
	default:
		result.ExitCode = 1
		result.Error = fmt.Errorf("script execution failed: %w", err)
	}
	return result
}
