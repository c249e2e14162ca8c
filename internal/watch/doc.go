// SPDX-License-Identifier: MPL-2.0

// Package watch reports which workspace packages changed on disk.
//
// Filesystem events are mapped to the package that owns the path and coalesced
// over a debounce window, so the callback fires once per burst of edits with
// every affected package.
package watch
