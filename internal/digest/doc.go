// SPDX-License-Identifier: MPL-2.0

// Package digest computes content digests of workspace packages and compares
// them against a stored manifest to find packages that changed.
package digest
