// SPDX-License-Identifier: MPL-2.0

package digest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/pkgrun/pkgrun/internal/scheduler"
	"github.com/pkgrun/pkgrun/internal/workspace"
)

// Prefix is prepended to every digest so the algorithm can change later.
const Prefix = "sha256:"

// skipDirs are never part of a package digest.
var skipDirs = []string{"node_modules", ".git", ".pkgrun"}

// Package computes the digest of the files under dir. Files are visited in
// lexical order and each contributes its slash-separated relative path and
// its content. Paths matching an ignore glob are skipped.
func Package(ctx context.Context, dir string, ignore []string) (string, error) {
	h := sha256.New()

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path == dir {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if isSkippedDir(d.Name()) || ignored(rel, ignore) {
				return filepath.SkipDir
			}
			return nil
		}
		if ignored(rel, ignore) {
			return nil
		}
		return hashEntry(h, path, rel, d)
	})
	if err != nil {
		return "", fmt.Errorf("failed to digest %s: %w", dir, err)
	}

	return Prefix + hex.EncodeToString(h.Sum(nil)), nil
}

// Compute digests every package through the scheduler, one task per package.
// The returned manifest holds only packages that were digested successfully;
// failures are reported in the summary.
func Compute(ctx context.Context, pkgs []*workspace.Package, ignore []string, cfg scheduler.Config, opts ...scheduler.Option) (*Manifest, *scheduler.Summary[string], error) {
	tasks := make([]scheduler.Task[string], len(pkgs))
	for i, p := range pkgs {
		tasks[i] = scheduler.Task[string]{
			Name: p.Name,
			Run: func(ctx context.Context) (string, error) {
				return Package(ctx, p.Dir, ignore)
			},
		}
	}

	summary, err := scheduler.Run(ctx, tasks, cfg, opts...)
	if err != nil {
		return nil, nil, err
	}

	m := NewManifest()
	for _, o := range summary.Outcomes {
		if o.Status == scheduler.StatusFulfilled {
			m.Packages[o.Name] = o.Value
		}
	}
	return m, summary, nil
}

func hashEntry(h io.Writer, path, rel string, d fs.DirEntry) error {
	switch {
	case d.Type()&fs.ModeSymlink != 0:
		target, err := os.Readlink(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(h, "L %s\x00%s\x00", rel, filepath.ToSlash(target))
		return nil
	case d.Type().IsRegular():
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return err
		}
		// Length-prefixed so content can never be read as another entry.
		fmt.Fprintf(h, "F %s\x00%d\x00", rel, info.Size())
		if _, err := io.CopyN(h, f, info.Size()); err != nil {
			return fmt.Errorf("failed to read %s: %w", rel, err)
		}
		return nil
	default:
		// Special files have no stable content.
		return nil
	}
}

func isSkippedDir(name string) bool {
	for _, s := range skipDirs {
		if name == s {
			return true
		}
	}
	return false
}

func ignored(rel string, ignore []string) bool {
	for _, pattern := range ignore {
		pattern = strings.TrimSuffix(pattern, "/")
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}
