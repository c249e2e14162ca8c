// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/pkgrun/pkgrun/internal/issue"
	"github.com/pkgrun/pkgrun/internal/runtime"
	"github.com/pkgrun/pkgrun/internal/scheduler"
	"github.com/pkgrun/pkgrun/internal/testutil"
)

func load(t *testing.T, opts LoadOptions) (*Config, string, error) {
	t.Helper()
	if opts.ConfigDirPath == "" {
		opts.ConfigDirPath = t.TempDir()
	}
	if opts.WorkDir == "" {
		opts.WorkDir = t.TempDir()
	}
	return loadWithOptions(context.Background(), opts)
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if cfg.Concurrency != 3 {
		t.Errorf("Concurrency = %d, want 3", cfg.Concurrency)
	}
	if cfg.Mode != scheduler.ModeParallel {
		t.Errorf("Mode = %q, want parallel", cfg.Mode)
	}
	if cfg.DefaultRuntime != runtime.ModeNative {
		t.Errorf("DefaultRuntime = %q, want native", cfg.DefaultRuntime)
	}
	if !slices.Equal(cfg.Packages, []string{"packages/*"}) {
		t.Errorf("Packages = %v", cfg.Packages)
	}
	if cfg.UI.ColorScheme != ColorSchemeAuto || cfg.UI.Verbose {
		t.Errorf("UI = %+v", cfg.UI)
	}
	if valid, errs := cfg.IsValid(); !valid {
		t.Errorf("DefaultConfig().IsValid() = false: %v", errs)
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, path, err := load(t, LoadOptions{})
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if path != "" {
		t.Errorf("resolved path = %q, want empty", path)
	}
	if cfg.Concurrency != 3 || cfg.Mode != scheduler.ModeParallel || cfg.ProgressInterval != 0 {
		t.Errorf("cfg = %+v, want defaults", cfg)
	}
	if cfg.Env.InheritMode != runtime.EnvInheritAll {
		t.Errorf("Env.InheritMode = %q", cfg.Env.InheritMode)
	}
}

func TestLoad_ExplicitFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "custom.cue")
	testutil.MustWriteFile(t, path, `
concurrency: 8
mode: "sequential"
progress_interval: "2s"
default_runtime: "virtual"
task_timeout: "1m30s"
packages: ["packages/*", "apps/*", "!packages/legacy"]
ignore: ["dist", "**/*.log"]
env: {
	inherit_mode: "allow"
	allow: ["PATH", "HOME"]
	files: [".env"]
}
ui: {
	color_scheme: "dark"
	verbose: true
}
`)

	cfg, resolved, err := load(t, LoadOptions{ConfigFilePath: path})
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if resolved != path {
		t.Errorf("resolved = %q, want %q", resolved, path)
	}
	if cfg.Concurrency != 8 || cfg.Mode != scheduler.ModeSequential {
		t.Errorf("scheduling = %d/%s", cfg.Concurrency, cfg.Mode)
	}
	if cfg.ProgressInterval != 2*time.Second || cfg.TaskTimeout != 90*time.Second {
		t.Errorf("durations = %s/%s", cfg.ProgressInterval, cfg.TaskTimeout)
	}
	if cfg.DefaultRuntime != runtime.ModeVirtual {
		t.Errorf("DefaultRuntime = %q", cfg.DefaultRuntime)
	}
	if !slices.Equal(cfg.Packages, []string{"packages/*", "apps/*", "!packages/legacy"}) {
		t.Errorf("Packages = %v", cfg.Packages)
	}
	if !slices.Equal(cfg.Ignore, []string{"dist", "**/*.log"}) {
		t.Errorf("Ignore = %v", cfg.Ignore)
	}
	if cfg.Env.InheritMode != runtime.EnvInheritAllow || !slices.Equal(cfg.Env.Allow, []string{"PATH", "HOME"}) {
		t.Errorf("Env = %+v", cfg.Env)
	}
	if cfg.UI.ColorScheme != ColorSchemeDark || !cfg.UI.Verbose {
		t.Errorf("UI = %+v", cfg.UI)
	}

	run := cfg.RunConfig()
	if run.Concurrency != 8 || run.Mode != scheduler.ModeSequential || run.ProgressInterval != 2*time.Second {
		t.Errorf("RunConfig() = %+v", run)
	}
	env := cfg.TaskEnv()
	if env.Inherit != runtime.EnvInheritAllow || !slices.Equal(env.Files, []string{".env"}) {
		t.Errorf("TaskEnv() = %+v", env)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "partial.cue")
	testutil.MustWriteFile(t, path, "concurrency: 5\n")

	cfg, _, err := load(t, LoadOptions{ConfigFilePath: path})
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if cfg.Concurrency != 5 {
		t.Errorf("Concurrency = %d, want 5", cfg.Concurrency)
	}
	if cfg.Mode != scheduler.ModeParallel || cfg.DefaultRuntime != runtime.ModeNative {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoad_LookupOrder(t *testing.T) {
	t.Parallel()

	cfgDir := t.TempDir()
	workDir := t.TempDir()
	testutil.MustWriteFile(t, filepath.Join(workDir, LocalConfigFile), "concurrency: 7\n")

	cfg, path, err := load(t, LoadOptions{ConfigDirPath: cfgDir, WorkDir: workDir})
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if cfg.Concurrency != 7 || path != filepath.Join(workDir, LocalConfigFile) {
		t.Errorf("local file not used: concurrency=%d path=%q", cfg.Concurrency, path)
	}

	testutil.MustWriteFile(t, filepath.Join(cfgDir, "config.cue"), "concurrency: 9\n")
	cfg, path, err = load(t, LoadOptions{ConfigDirPath: cfgDir, WorkDir: workDir})
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if cfg.Concurrency != 9 || path != filepath.Join(cfgDir, "config.cue") {
		t.Errorf("user config should take precedence: concurrency=%d path=%q", cfg.Concurrency, path)
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{"concurrency zero", "concurrency: 0\n", "concurrency"},
		{"concurrency too large", "concurrency: 10001\n", "concurrency"},
		{"unknown mode", `mode: "chunked"` + "\n", "mode"},
		{"unknown runtime", `default_runtime: "container"` + "\n", "default_runtime"},
		{"bad duration", `progress_interval: "soon"` + "\n", "progress_interval"},
		{"unknown field", "workers: 3\n", "workers"},
		{"syntax error", "concurrency: [\n", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "bad.cue")
			testutil.MustWriteFile(t, path, tt.content)

			_, _, err := load(t, LoadOptions{ConfigFilePath: path})
			if err == nil {
				t.Fatal("load() should fail")
			}
			var ae *issue.ActionableError
			if !errors.As(err, &ae) {
				t.Fatalf("error should be *issue.ActionableError, got %T", err)
			}
			if ae.Resource != path || !ae.HasSuggestions() {
				t.Errorf("ActionableError = %+v", ae)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q should mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Parallel()

	missing := filepath.Join(t.TempDir(), "nope.cue")
	_, _, err := load(t, LoadOptions{ConfigFilePath: missing})
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("load() error = %v, want not found", err)
	}
}

func TestLoad_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewProvider().Load(ctx, LoadOptions{ConfigDirPath: t.TempDir()}); !errors.Is(err, context.Canceled) {
		t.Errorf("Load() error = %v, want context.Canceled", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	defer testutil.MustSetenv(t, "PKGRUN_CONCURRENCY", "12")()
	defer testutil.MustSetenv(t, "PKGRUN_UI_VERBOSE", "true")()
	defer testutil.MustSetenv(t, "PKGRUN_PROGRESS_INTERVAL", "750ms")()

	path := filepath.Join(t.TempDir(), "file.cue")
	testutil.MustWriteFile(t, path, "concurrency: 2\n")

	cfg, _, err := load(t, LoadOptions{ConfigFilePath: path})
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if cfg.Concurrency != 12 {
		t.Errorf("Concurrency = %d, want env override 12", cfg.Concurrency)
	}
	if !cfg.UI.Verbose {
		t.Error("UI.Verbose should be overridden by env")
	}
	if cfg.ProgressInterval != 750*time.Millisecond {
		t.Errorf("ProgressInterval = %s, want 750ms", cfg.ProgressInterval)
	}
}

func TestLoad_InvalidEnvOverride(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr error
	}{
		{"negative concurrency", "PKGRUN_CONCURRENCY", "-4", scheduler.ErrInvalidConcurrency},
		{"non numeric concurrency", "PKGRUN_CONCURRENCY", "abc", scheduler.ErrInvalidConcurrency},
		{"fractional concurrency", "PKGRUN_CONCURRENCY", "2.5", scheduler.ErrInvalidConcurrency},
		{"unknown mode", "PKGRUN_MODE", "chunked", scheduler.ErrInvalidMode},
		{"malformed interval", "PKGRUN_PROGRESS_INTERVAL", "soon", ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer testutil.MustSetenv(t, tt.key, tt.value)()

			cfg, _, err := load(t, LoadOptions{})
			if cfg != nil {
				t.Errorf("load() config = %+v, want nil", cfg)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("load() error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("load() error = %v, want ErrInvalidConfig", err)
			}
			var ae *issue.ActionableError
			if !errors.As(err, &ae) || !ae.HasSuggestions() {
				t.Errorf("load() error = %v, want actionable error with suggestions", err)
			}
		})
	}
}

func TestGenerateCUE_RoundTrip(t *testing.T) {
	t.Parallel()

	want := DefaultConfig()
	want.Concurrency = 6
	want.ProgressInterval = 3 * time.Second
	want.Ignore = []string{"dist"}
	want.UI.Verbose = true

	path := filepath.Join(t.TempDir(), "generated.cue")
	testutil.MustWriteFile(t, path, GenerateCUE(want))

	got, _, err := load(t, LoadOptions{ConfigFilePath: path})
	if err != nil {
		t.Fatalf("generated CUE does not load: %v\n%s", err, GenerateCUE(want))
	}
	if got.Concurrency != 6 || got.ProgressInterval != 3*time.Second || !got.UI.Verbose {
		t.Errorf("round trip = %+v", got)
	}
	if !slices.Equal(got.Ignore, []string{"dist"}) {
		t.Errorf("Ignore = %v", got.Ignore)
	}
}

func TestCreateDefaultConfig(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "pkgrun")
	path, created, err := CreateDefaultConfig(LoadOptions{ConfigDirPath: dir})
	if err != nil {
		t.Fatalf("CreateDefaultConfig() error = %v", err)
	}
	if !created || path != filepath.Join(dir, "config.cue") {
		t.Errorf("CreateDefaultConfig() = %q, %v", path, created)
	}

	_, created, err = CreateDefaultConfig(LoadOptions{ConfigDirPath: dir})
	if err != nil || created {
		t.Errorf("second CreateDefaultConfig() = %v, %v; want existing file kept", created, err)
	}

	cfg, resolved, err := load(t, LoadOptions{ConfigDirPath: dir})
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if resolved != path || cfg.Concurrency != 3 {
		t.Errorf("created config not used: %q %+v", resolved, cfg)
	}
}

func TestConfigDir_Override(t *testing.T) {
	SetConfigDirOverride("/custom/pkgrun")
	defer Reset()

	dir, err := ConfigDir()
	if err != nil || dir != "/custom/pkgrun" {
		t.Errorf("ConfigDir() = %q, %v", dir, err)
	}
}
