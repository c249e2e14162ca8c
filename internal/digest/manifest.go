// SPDX-License-Identifier: MPL-2.0

package digest

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/pelletier/go-toml/v2"
)

const (
	// ManifestVersion is the current manifest schema version.
	ManifestVersion = 1
	// ManifestDir is the state directory under the workspace root.
	ManifestDir = ".pkgrun"
	// ManifestFileName is the manifest file inside ManifestDir.
	ManifestFileName = "digests.toml"
)

// ErrUnsupportedManifest is returned when a manifest has an unknown version.
var ErrUnsupportedManifest = errors.New("unsupported digest manifest version")

type (
	// Manifest maps package names to their digests.
	Manifest struct {
		Version  int               `toml:"version"`
		Packages map[string]string `toml:"packages"`
	}

	// Diff is the result of comparing two manifests. Every slice is sorted.
	Diff struct {
		Added     []string `json:"added"`
		Removed   []string `json:"removed"`
		Changed   []string `json:"changed"`
		Unchanged []string `json:"unchanged"`
	}
)

// NewManifest returns an empty manifest at the current version.
func NewManifest() *Manifest {
	return &Manifest{Version: ManifestVersion, Packages: make(map[string]string)}
}

// ManifestPath returns the manifest location for a workspace root.
func ManifestPath(root string) string {
	return filepath.Join(root, ManifestDir, ManifestFileName)
}

// LoadManifest reads the manifest at path. A missing file yields an empty
// manifest so the first run reports every package as added.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewManifest(), nil
		}
		return nil, fmt.Errorf("reading digest manifest: %w", err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing digest manifest %s: %w", path, err)
	}
	if m.Version != ManifestVersion {
		return nil, fmt.Errorf("%w %d in %s", ErrUnsupportedManifest, m.Version, path)
	}
	if m.Packages == nil {
		m.Packages = make(map[string]string)
	}
	return &m, nil
}

// Save writes the manifest to path, creating the parent directory. The file
// is replaced atomically.
func (m *Manifest) Save(path string) error {
	data, err := toml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding digest manifest: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+ManifestFileName+".*")
	if err != nil {
		return fmt.Errorf("writing digest manifest: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing digest manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing digest manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("writing digest manifest: %w", err)
	}
	return nil
}

// Compare reports how current differs from previous.
func Compare(previous, current *Manifest) Diff {
	var d Diff
	for _, name := range slices.Sorted(maps.Keys(current.Packages)) {
		old, ok := previous.Packages[name]
		switch {
		case !ok:
			d.Added = append(d.Added, name)
		case old != current.Packages[name]:
			d.Changed = append(d.Changed, name)
		default:
			d.Unchanged = append(d.Unchanged, name)
		}
	}
	for _, name := range slices.Sorted(maps.Keys(previous.Packages)) {
		if _, ok := current.Packages[name]; !ok {
			d.Removed = append(d.Removed, name)
		}
	}
	return d
}

// Dirty returns the added and changed packages in sorted order.
func (d Diff) Dirty() []string {
	return slices.Sorted(slices.Values(slices.Concat(d.Added, d.Changed)))
}

// Empty reports whether nothing was added, removed, or changed.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Merge returns a manifest with the digests of current applied on top of m.
// Packages absent from current keep their previous digest unless prune is set.
func (m *Manifest) Merge(current *Manifest, prune bool) *Manifest {
	out := NewManifest()
	if !prune {
		maps.Copy(out.Packages, m.Packages)
	}
	maps.Copy(out.Packages, current.Packages)
	return out
}

// Subset returns a manifest holding only the named packages.
func (m *Manifest) Subset(names []string) *Manifest {
	out := NewManifest()
	for _, name := range names {
		if d, ok := m.Packages[name]; ok {
			out.Packages[name] = d
		}
	}
	return out
}
