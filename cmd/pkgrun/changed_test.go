// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/pkgrun/pkgrun/internal/digest"
	"github.com/pkgrun/pkgrun/internal/testutil"
)

func changedDiff(t *testing.T, root string, args ...string) digest.Diff {
	t.Helper()
	cli := newTestCLI(t, testConfig())
	if err := cli.run(t, append([]string{"--root", root, "changed", "--format", "json"}, args...)...); err != nil {
		t.Fatalf("changed error = %v", err)
	}
	var diff digest.Diff
	if err := json.Unmarshal(cli.stdout.Bytes(), &diff); err != nil {
		t.Fatalf("invalid JSON diff: %v\n%s", err, cli.stdout.String())
	}
	return diff
}

func TestChanged_Lifecycle(t *testing.T) {
	t.Parallel()

	root := newMonorepo(t)
	all := []string{"@acme/core", "@acme/utils", "@acme/web"}

	diff := changedDiff(t, root)
	if !slices.Equal(diff.Added, all) {
		t.Fatalf("first run Added = %v, want %v", diff.Added, all)
	}
	if _, err := os.Stat(digest.ManifestPath(root)); !os.IsNotExist(err) {
		t.Fatal("manifest should not be written without --write")
	}

	changedDiff(t, root, "--write")
	diff = changedDiff(t, root)
	if !diff.Empty() || !slices.Equal(diff.Unchanged, all) {
		t.Fatalf("after --write diff = %+v, want everything unchanged", diff)
	}

	testutil.MustWriteFile(t, filepath.Join(root, "packages", "utils", "index.js"), "export {}\n")
	diff = changedDiff(t, root)
	if !slices.Equal(diff.Changed, []string{"@acme/utils"}) {
		t.Errorf("after edit Changed = %v, want [@acme/utils]", diff.Changed)
	}

	// A filtered write only touches the filtered package.
	changedDiff(t, root, "--write", "--filter", "@acme/utils")
	diff = changedDiff(t, root)
	if !diff.Empty() {
		t.Errorf("after filtered write diff = %+v, want empty", diff)
	}

	if err := os.RemoveAll(filepath.Join(root, "packages", "web")); err != nil {
		t.Fatal(err)
	}
	diff = changedDiff(t, root)
	if !slices.Equal(diff.Removed, []string{"@acme/web"}) {
		t.Errorf("after removal Removed = %v, want [@acme/web]", diff.Removed)
	}
}

func TestChanged_TextOutput(t *testing.T) {
	t.Parallel()

	root := newMonorepo(t)
	cli := newTestCLI(t, testConfig())
	if err := cli.run(t, "--root", root, "changed"); err != nil {
		t.Fatalf("changed error = %v", err)
	}

	out := cli.stdout.String()
	for _, want := range []string{"Added", "+ @acme/core", "3 dirty, 0 unchanged"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestChanged_CorruptManifest(t *testing.T) {
	t.Parallel()

	root := newMonorepo(t)
	testutil.MustWriteFile(t, digest.ManifestPath(root), "version = [\n")
	cli := newTestCLI(t, testConfig())

	err := cli.run(t, "--root", root, "changed")
	if err == nil || !strings.Contains(err.Error(), "read digest manifest") {
		t.Errorf("changed error = %v, want manifest read failure", err)
	}
}
