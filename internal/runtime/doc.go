// SPDX-License-Identifier: MPL-2.0

// Package runtime provides the shell runtimes that per-package tasks use to
// spawn work.
//
// Two runtime implementations are available:
//   - native: executes scripts using the host shell (bash/sh/PowerShell)
//   - virtual: executes scripts using an embedded shell interpreter (mvdan/sh)
//
// Both capture stdout and stderr per execution so that concurrent tasks never
// interleave on the terminal. A non-zero exit status is reported in Result
// and converted to an *ExitError by Result.Err.
package runtime
