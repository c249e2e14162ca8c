// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the pkgrun CLI commands.
//
// Command handlers never call os.Exit; they return *ExitError and Execute maps
// it to the process exit status.
package cmd
