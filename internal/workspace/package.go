// SPDX-License-Identifier: MPL-2.0

package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ManifestFile is the file that marks a directory as a package.
const ManifestFile = "package.json"

// ErrInvalidManifest is the sentinel error wrapped by ManifestError.
var ErrInvalidManifest = errors.New("invalid package manifest")

type (
	// Package is a single workspace package.
	Package struct {
		// Name is the package name from package.json.
		Name string
		// Version is the package version, possibly empty.
		Version string
		// Private marks packages that are never published.
		Private bool
		// Dir is the absolute package directory.
		Dir string
		// RelDir is Dir relative to the workspace root, slash separated.
		RelDir string
		// Dependencies lists every declared dependency name, sorted and deduplicated.
		Dependencies []string
	}

	// ManifestError reports a package.json that cannot be used.
	ManifestError struct {
		Path string
		Err  error
	}

	manifest struct {
		Name                 string            `json:"name"`
		Version              string            `json:"version"`
		Private              bool              `json:"private"`
		Dependencies         map[string]string `json:"dependencies"`
		DevDependencies      map[string]string `json:"devDependencies"`
		PeerDependencies     map[string]string `json:"peerDependencies"`
		OptionalDependencies map[string]string `json:"optionalDependencies"`
	}
)

// Error implements the error interface.
func (e *ManifestError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrInvalidManifest, e.Path, e.Err)
}

// Unwrap returns the sentinel and the underlying cause.
func (e *ManifestError) Unwrap() []error { return []error{ErrInvalidManifest, e.Err} }

// String returns "name@version", or the name alone when unversioned.
func (p *Package) String() string {
	if p.Version == "" {
		return p.Name
	}
	return p.Name + "@" + p.Version
}

// Env returns the variables that identify the package to a task script.
func (p *Package) Env() map[string]string {
	return map[string]string{
		"PKGRUN_PACKAGE_NAME":    p.Name,
		"PKGRUN_PACKAGE_VERSION": p.Version,
		"PKGRUN_PACKAGE_DIR":     p.Dir,
	}
}

// readPackage parses dir/package.json.
func readPackage(root, dir string) (*Package, error) {
	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ManifestError{Path: path, Err: err}
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &ManifestError{Path: path, Err: err}
	}
	if strings.TrimSpace(m.Name) == "" {
		return nil, &ManifestError{Path: path, Err: errors.New("missing \"name\" field")}
	}

	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s relative to %s: %w", dir, root, err)
	}

	deps := make(map[string]struct{})
	for _, group := range []map[string]string{m.Dependencies, m.DevDependencies, m.PeerDependencies, m.OptionalDependencies} {
		for name := range group {
			deps[name] = struct{}{}
		}
	}

	return &Package{
		Name:         m.Name,
		Version:      m.Version,
		Private:      m.Private,
		Dir:          dir,
		RelDir:       filepath.ToSlash(rel),
		Dependencies: slices.Sorted(maps.Keys(deps)),
	}, nil
}
