// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
)

// execHandler runs external commands for the virtual runtime. Each command
// gets its own process group, so cancelling the script also stops anything
// the command spawned and the interpreter never waits on orphaned pipes.
func execHandler(_ interp.ExecHandlerFunc) interp.ExecHandlerFunc {
	return func(ctx context.Context, args []string) error {
		hc := interp.HandlerCtx(ctx)
		path, err := interp.LookPathDir(hc.Dir, hc.Env, args[0])
		if err != nil {
			fmt.Fprintln(hc.Stderr, err)
			return interp.NewExitStatus(127)
		}

		cmd := exec.CommandContext(ctx, path)
		cmd.Args = args
		cmd.Env = exportedEnv(hc.Env)
		cmd.Dir = hc.Dir
		cmd.Stdin = hc.Stdin
		cmd.Stdout = hc.Stdout
		cmd.Stderr = hc.Stderr
		configureProcess(cmd)

		err = cmd.Run()
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if code := exitErr.ExitCode(); code >= 0 {
				return interp.NewExitStatus(uint8(code))
			}
			return interp.NewExitStatus(1)
		}
		fmt.Fprintln(hc.Stderr, err)
		return interp.NewExitStatus(126)
	}
}

// exportedEnv flattens the exported string variables of env to KEY=VALUE pairs.
func exportedEnv(env expand.Environ) []string {
	list := make([]string, 0, 32)
	env.Each(func(name string, vr expand.Variable) bool {
		if vr.Exported && vr.Set && vr.Kind == expand.String {
			list = append(list, name+"="+vr.Str)
		}
		return true
	})
	return list
}
