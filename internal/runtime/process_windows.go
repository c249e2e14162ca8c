// SPDX-License-Identifier: MPL-2.0

//go:build windows

package runtime

import "os/exec"

// configureProcess bounds how long Wait blocks on output pipes still held by
// child processes once the script itself has been killed.
func configureProcess(cmd *exec.Cmd) {
	cmd.WaitDelay = killWaitDelay
}
