// SPDX-License-Identifier: MPL-2.0

// Package workspace discovers the packages of a monorepo and orders them by
// their intra-workspace dependencies.
//
// A package is a directory matched by one of the workspace patterns that
// contains a package.json. Dependencies on packages outside the workspace are
// recorded but ignored for ordering.
package workspace
