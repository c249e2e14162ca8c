// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/charmbracelet/log"

	"github.com/pkgrun/pkgrun/internal/config"
	"github.com/pkgrun/pkgrun/internal/issue"
	"github.com/pkgrun/pkgrun/internal/runtime"
	"github.com/pkgrun/pkgrun/internal/workspace"
)

type (
	// App wires CLI services and shared dependencies. It is the composition root for
	// the CLI layer: all Cobra command handlers receive an App reference.
	App struct {
		Config   ConfigProvider
		Runtimes RuntimeFactory
		stdout   io.Writer
		stderr   io.Writer
		flags    *rootFlags
	}

	// Dependencies defines the injection points for building an App. Nil fields are
	// replaced with production defaults by NewApp.
	Dependencies struct {
		Config   ConfigProvider
		Runtimes RuntimeFactory
		Stdout   io.Writer
		Stderr   io.Writer
	}

	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}

	// RuntimeFactory returns the runtime for a mode.
	RuntimeFactory func(mode runtime.Mode) (runtime.Runtime, error)

	// rootFlags holds the persistent flags shared by every subcommand.
	rootFlags struct {
		verbose    bool
		configPath string
		root       string
	}
)

// NewApp creates an App, filling nil dependencies with production defaults.
func NewApp(deps Dependencies) (*App, error) {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.Runtimes == nil {
		deps.Runtimes = runtime.New
	}

	return &App{
		Config:   deps.Config,
		Runtimes: deps.Runtimes,
		stdout:   deps.Stdout,
		stderr:   deps.Stderr,
		flags:    &rootFlags{},
	}, nil
}

// loadConfig loads configuration for the current invocation. The ui.verbose
// setting turns on verbose output when --verbose was not given.
func (a *App) loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := a.Config.Load(ctx, config.LoadOptions{
		ConfigFilePath: a.flags.configPath,
		WorkDir:        a.flags.root,
	})
	if err != nil {
		var ae *issue.ActionableError
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, issue.NewErrorContext().
			WithOperation("load configuration").
			WithResource(a.flags.configPath).
			WithSuggestion("Run 'pkgrun config show' to inspect the effective configuration").
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(err).
			BuildError()
	}
	if cfg.UI.Verbose {
		a.flags.verbose = true
	}
	return cfg, nil
}

// logger returns the diagnostic logger writing to stderr.
func (a *App) logger() *log.Logger {
	level := log.InfoLevel
	if a.flags.verbose {
		level = log.DebugLevel
	}
	return log.NewWithOptions(a.stderr, log.Options{
		Prefix: config.AppName,
		Level:  level,
	})
}

// workspaceRoot returns the --root flag value, defaulting to the current directory.
func (a *App) workspaceRoot() string {
	if a.flags.root == "" {
		return "."
	}
	return a.flags.root
}

// discover finds the workspace packages and applies name filters.
func (a *App) discover(cfg *config.Config, filters []string) (*workspace.Workspace, error) {
	root := a.workspaceRoot()
	ws, err := workspace.Discover(root, cfg.Packages)
	if err != nil {
		return nil, discoveryError(err, root)
	}
	if len(filters) > 0 {
		ws, err = ws.Filter(filters...)
		if err != nil {
			return nil, issue.NewErrorContext().
				WithOperation("filter packages").
				WithResource(root).
				WithSuggestion("Run 'pkgrun list' to see the discovered package names").
				WithIssue(issue.NoPackagesFoundId).
				Wrap(err).
				BuildError()
		}
	}
	return ws, nil
}

// discoveryError maps a workspace discovery failure to an actionable error.
func discoveryError(err error, root string) error {
	ec := issue.NewErrorContext().
		WithOperation("discover packages").
		WithResource(root).
		Wrap(err)

	switch {
	case errors.Is(err, workspace.ErrInvalidManifest):
		ec.WithIssue(issue.InvalidManifestId).
			WithSuggestion("Every package.json needs a valid JSON object with a 'name' field")
	case errors.Is(err, workspace.ErrCycle):
		ec.WithIssue(issue.DependencyCycleId).
			WithSuggestion("Break the cycle or run without --topo")
	default:
		ec.WithIssue(issue.NoPackagesFoundId).
			WithSuggestions(
				"Check the 'packages' globs in "+config.LocalConfigFile,
				"Use --root to point at the monorepo root",
			)
	}
	return ec.BuildError()
}
