// SPDX-License-Identifier: MPL-2.0

// Package config handles pkgrun configuration using Viper with CUE as the file format.
//
// Configuration is looked up in order: an explicit --config path, the user config
// directory (config.cue under $XDG_CONFIG_HOME/pkgrun on Linux,
// ~/Library/Application Support/pkgrun on macOS, %APPDATA%\pkgrun on Windows), then
// pkgrun.cue in the current directory. A missing file means defaults. Every key can be
// overridden by a PKGRUN_* environment variable (nested keys use underscores, e.g.
// PKGRUN_UI_VERBOSE).
//
// Files are validated against the embedded CUE schema (config_schema.cue) before being
// merged into Viper.
package config
