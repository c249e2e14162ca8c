// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"encoding/json"
	"errors"
	"path/filepath"
	goruntime "runtime"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/pkgrun/pkgrun/internal/issue"
	"github.com/pkgrun/pkgrun/internal/runtime"
	"github.com/pkgrun/pkgrun/internal/scheduler"
	"github.com/pkgrun/pkgrun/internal/testutil"
	"github.com/pkgrun/pkgrun/internal/workspace"
)

func decodeReport(t *testing.T, data []byte) jsonReport {
	t.Helper()
	var report jsonReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("invalid JSON report: %v\n%s", err, data)
	}
	return report
}

func TestExec_AllPackagesSucceed(t *testing.T) {
	t.Parallel()

	root := newMonorepo(t)
	cli := newTestCLI(t, testConfig())

	err := cli.run(t, "--root", root, "exec", "--format", "json", "--",
		`echo "$PKGRUN_PACKAGE_NAME@$PKGRUN_PACKAGE_VERSION in ${PWD##*/}"`)
	if err != nil {
		t.Fatalf("exec error = %v", err)
	}

	report := decodeReport(t, cli.stdout.Bytes())
	if report.Fulfilled != 3 || report.Rejected != 0 {
		t.Fatalf("Fulfilled/Rejected = %d/%d, want 3/0", report.Fulfilled, report.Rejected)
	}
	want := []string{
		"@acme/core@1.0.0 in core\n",
		"@acme/utils@1.1.0 in utils\n",
		"@acme/web@ in web\n",
	}
	for i, p := range report.Packages {
		if p.Status != "fulfilled" || p.Stdout != want[i] {
			t.Errorf("Packages[%d] = %+v, want stdout %q", i, p, want[i])
		}
	}
}

func TestExec_FailuresAreCollected(t *testing.T) {
	t.Parallel()

	root := newMonorepo(t)
	cli := newTestCLI(t, testConfig())

	script := `if [ "$PKGRUN_PACKAGE_NAME" = "@acme/utils" ]; then echo "utils broke" >&2; exit 2; fi; echo ok`
	err := cli.run(t, "--root", root, "exec", "-c", "2", "--", script)

	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 1 {
		t.Fatalf("exec error = %v, want *ExitError with code 1", err)
	}

	out := cli.stdout.String()
	for _, want := range []string{
		"✓ @acme/core",
		"✗ @acme/utils",
		"✓ @acme/web",
		"Failed packages:",
		"@acme/utils: exit status 2: utils broke",
		"2 succeeded, 1 failed in",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestExec_TopoSkipsDependents(t *testing.T) {
	t.Parallel()

	root := newMonorepo(t)
	cli := newTestCLI(t, testConfig())

	script := `[ "$PKGRUN_PACKAGE_NAME" != "@acme/core" ]`
	err := cli.run(t, "--root", root, "exec", "--topo", "--format", "json", "--", script)
	if err == nil {
		t.Fatal("exec should fail when a package fails")
	}

	report := decodeReport(t, cli.stdout.Bytes())
	if report.Rejected != 3 {
		t.Fatalf("Rejected = %d, want 3", report.Rejected)
	}
	for _, p := range report.Packages[1:] {
		if !strings.Contains(p.Error, "dependency failed") {
			t.Errorf("%s error = %q, want dependency failed", p.Name, p.Error)
		}
	}
}

func TestExec_FilterAndEnv(t *testing.T) {
	t.Parallel()

	root := newMonorepo(t)
	testutil.MustWriteFile(t, filepath.Join(root, "ci.env"), "TARGET=from-file\nMODE=file\n")
	cli := newTestCLI(t, testConfig())

	err := cli.run(t, "--root", root, "exec",
		"--filter", "@acme/c*",
		"--env-file", filepath.Join(root, "ci.env"),
		"--env", "MODE=flag",
		"--format", "json",
		"--", `echo "$TARGET $MODE"`)
	if err != nil {
		t.Fatalf("exec error = %v", err)
	}

	report := decodeReport(t, cli.stdout.Bytes())
	if len(report.Packages) != 1 || report.Packages[0].Name != "@acme/core" {
		t.Fatalf("Packages = %+v, want only @acme/core", report.Packages)
	}
	if got := report.Packages[0].Stdout; got != "from-file flag\n" {
		t.Errorf("stdout = %q, want %q", got, "from-file flag\n")
	}
}

func TestExec_ConfigEnvFilesResolveFromWorkspaceRoot(t *testing.T) {
	t.Parallel()

	root := newMonorepo(t)
	testutil.MustWriteFile(t, filepath.Join(root, ".env"), "ORIGIN=root\n")
	testutil.MustWriteFile(t, filepath.Join(root, "packages", "core", ".env"), "ORIGIN=package\n")

	cfg := testConfig()
	cfg.Env.Files = []string{".env"}
	cli := newTestCLI(t, cfg)

	err := cli.run(t, "--root", root, "exec", "--filter", "@acme/core", "--format", "json", "--", `echo "$ORIGIN"`)
	if err != nil {
		t.Fatalf("exec error = %v", err)
	}

	report := decodeReport(t, cli.stdout.Bytes())
	if got := report.Packages[0].Stdout; got != "root\n" {
		t.Errorf("stdout = %q, want %q", got, "root\n")
	}
}

func TestExec_TaskTimeout(t *testing.T) {
	t.Parallel()

	root := newMonorepo(t)
	cli := newTestCLI(t, testConfig())

	err := cli.run(t, "--root", root, "exec", "--filter", "@acme/core", "--task-timeout", "50ms",
		"--format", "json", "--", "while true; do :; done")
	if err == nil {
		t.Fatal("exec should fail on timeout")
	}

	report := decodeReport(t, cli.stdout.Bytes())
	if got := report.Packages[0].Error; !strings.HasPrefix(got, "timed out after 50ms") {
		t.Errorf("error = %q, want timeout", got)
	}
}

func TestExec_TaskTimeoutStopsChildProcesses(t *testing.T) {
	if goruntime.GOOS == "windows" {
		t.Skip("skipping: sleep binary required")
	}
	t.Parallel()

	for _, mode := range []runtime.Mode{runtime.ModeNative, runtime.ModeVirtual} {
		t.Run(string(mode), func(t *testing.T) {
			t.Parallel()

			cfg := testConfig()
			cfg.DefaultRuntime = mode
			cfg.Env.InheritMode = runtime.EnvInheritAllow
			cfg.Env.Allow = []string{"PATH", "SHELL"}

			root := newMonorepo(t)
			cli := newTestCLI(t, cfg)

			start := time.Now()
			err := cli.run(t, "--root", root, "exec", "--filter", "@acme/core", "--task-timeout", "50ms",
				"--format", "json", "--", "sleep 3; echo done")
			if elapsed := time.Since(start); elapsed > time.Second {
				t.Errorf("exec returned after %s, want under 1s", elapsed)
			}
			if err == nil {
				t.Fatal("exec should fail on timeout")
			}

			report := decodeReport(t, cli.stdout.Bytes())
			if got := report.Packages[0].Error; !strings.HasPrefix(got, "timed out after 50ms") {
				t.Errorf("error = %q, want timeout", got)
			}
			if strings.Contains(report.Packages[0].Stdout, "done") {
				t.Errorf("stdout = %q, script should not have finished", report.Packages[0].Stdout)
			}
		})
	}
}

func TestExec_InvalidInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		wantErr error
	}{
		{"zero concurrency", []string{"exec", "-c", "0", "--", "true"}, scheduler.ErrInvalidConcurrency},
		{"non numeric concurrency", []string{"exec", "--concurrency", "NaN", "--", "true"}, scheduler.ErrInvalidConfig},
		{"negative progress", []string{"exec", "--progress", "-1s", "--", "true"}, scheduler.ErrInvalidProgressInterval},
		{"unknown runtime", []string{"exec", "--runtime", "docker", "--", "true"}, runtime.ErrInvalidMode},
		{"unknown format", []string{"exec", "--format", "yaml", "--", "true"}, ErrInvalidReportFormat},
		{"malformed env", []string{"exec", "--env", "NOVALUE", "--", "true"}, ErrInvalidEnvVar},
		{"unknown filter", []string{"exec", "--filter", "@other/*", "--", "true"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			root := newMonorepo(t)
			cli := newTestCLI(t, testConfig())

			err := cli.run(t, append([]string{"--root", root}, tt.args...)...)
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if cli.stdout.Len() != 0 {
				t.Errorf("no report expected, got:\n%s", cli.stdout.String())
			}
		})
	}
}

func TestExec_InvalidConcurrencyIsActionable(t *testing.T) {
	t.Parallel()

	cli := newTestCLI(t, testConfig())
	err := cli.run(t, "--root", newMonorepo(t), "exec", "-c", "lots", "--", "true")

	var ae *issue.ActionableError
	if !errors.As(err, &ae) || ae.Issue != issue.InvalidConcurrencyId {
		t.Fatalf("error = %v, want actionable error for InvalidConcurrencyId", err)
	}
	if !strings.Contains(ae.Format(false), "between 1 and 10000") {
		t.Errorf("Format() = %q, want a range hint", ae.Format(false))
	}
}

func TestParseEnvVars(t *testing.T) {
	t.Parallel()

	vars, err := parseEnvVars([]string{"A=1", "B=", "C=x=y"})
	if err != nil {
		t.Fatalf("parseEnvVars() error = %v", err)
	}
	if vars["A"] != "1" || vars["B"] != "" || vars["C"] != "x=y" {
		t.Errorf("parseEnvVars() = %v", vars)
	}

	for _, bad := range []string{"A", "=1"} {
		if _, err := parseEnvVars([]string{bad}); !errors.Is(err, ErrInvalidEnvVar) {
			t.Errorf("parseEnvVars(%q) error = %v, want ErrInvalidEnvVar", bad, err)
		}
	}
}

func TestAffectedPackages(t *testing.T) {
	t.Parallel()

	ws, err := workspace.Discover(newMonorepo(t), nil)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	core, _ := ws.Lookup("@acme/core")
	web, _ := ws.Lookup("@acme/web")

	tests := []struct {
		name       string
		changed    []*workspace.Package
		dependents bool
		want       []string
	}{
		{"changed only", []*workspace.Package{web, core}, false, []string{"@acme/core", "@acme/web"}},
		{"transitive dependents", []*workspace.Package{core}, true, []string{"@acme/core", "@acme/utils", "@acme/web"}},
		{"leaf has no dependents", []*workspace.Package{web}, true, []string{"@acme/web"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := affectedPackages(ws, tt.changed, tt.dependents)
			if !slices.Equal(got.Names(), tt.want) || got.Root != ws.Root {
				t.Errorf("affectedPackages() = %v, want %v", got.Names(), tt.want)
			}
		})
	}
}
