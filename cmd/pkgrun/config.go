// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pkgrun/pkgrun/internal/config"
	"github.com/pkgrun/pkgrun/internal/issue"
	"github.com/pkgrun/pkgrun/internal/runtime"
	"github.com/pkgrun/pkgrun/internal/scheduler"
)

// newConfigCommand creates the `pkgrun config` command tree.
// Subcommands that read configuration use the App's ConfigProvider.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage pkgrun configuration",
		Long: `Manage pkgrun configuration.

Configuration is read from the first file found:
  - the --config flag
  - Linux: ~/.config/pkgrun/config.cue
    macOS: ~/Library/Application Support/pkgrun/config.cue
    Windows: %APPDATA%\pkgrun\config.cue
  - pkgrun.cue in the monorepo root

PKGRUN_* environment variables override file values.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfig(cmd.Context(), app)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(app)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfigPath(app)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long: `Set a configuration value and write the configuration file.

Supported keys: concurrency, mode, progress_interval, default_runtime,
task_timeout, env.inherit_mode, ui.color_scheme, ui.verbose.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setConfigValue(cmd.Context(), app, args[0], args[1])
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Output raw configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprint(app.stdout, config.GenerateCUE(cfg))
			return nil
		},
	})

	return cfgCmd
}

func (a *App) loadOptions() config.LoadOptions {
	return config.LoadOptions{ConfigFilePath: a.flags.configPath, WorkDir: a.flags.root}
}

func showConfig(ctx context.Context, app *App) error {
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		if rendered, renderErr := issue.Get(issue.ConfigLoadFailedId).Render("dark"); renderErr == nil {
			fmt.Fprint(app.stderr, rendered)
		}
		return err
	}

	keyStyle := PackageStyle
	valueStyle := SuccessStyle
	w := app.stdout
	kv := func(indent, key string, value any) {
		fmt.Fprintf(w, "%s%s: %s\n", indent, keyStyle.Render(key), valueStyle.Render(fmt.Sprint(value)))
	}
	list := func(key string, items []string) {
		fmt.Fprintf(w, "%s:\n", keyStyle.Render(key))
		if len(items) == 0 {
			fmt.Fprintf(w, "  %s\n", SubtitleStyle.Render("(none configured)"))
			return
		}
		for _, item := range items {
			fmt.Fprintf(w, "  - %s\n", valueStyle.Render(item))
		}
	}

	fmt.Fprintln(w, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(w)

	path, err := config.ResolvePath(app.loadOptions())
	if err == nil && path != "" {
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("Config file"), path)
	} else {
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	}
	fmt.Fprintln(w)

	kv("", "concurrency", cfg.Concurrency)
	kv("", "mode", cfg.Mode)
	kv("", "progress_interval", cfg.ProgressInterval)
	kv("", "default_runtime", cfg.DefaultRuntime)
	kv("", "task_timeout", cfg.TaskTimeout)

	fmt.Fprintln(w)
	list("packages", cfg.Packages)
	list("ignore", cfg.Ignore)

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", keyStyle.Render("env"))
	kv("  ", "inherit_mode", cfg.Env.InheritMode)
	kv("  ", "allow", strings.Join(cfg.Env.Allow, ", "))
	kv("  ", "files", strings.Join(cfg.Env.Files, ", "))

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", keyStyle.Render("ui"))
	kv("  ", "color_scheme", cfg.UI.ColorScheme)
	kv("  ", "verbose", cfg.UI.Verbose)

	return nil
}

func initConfig(app *App) error {
	path, created, err := config.CreateDefaultConfig(app.loadOptions())
	if err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}

	if !created {
		fmt.Fprintf(app.stdout, "%s Configuration already exists at %s\n", WarningStyle.Render("!"), path)
		return nil
	}
	fmt.Fprintf(app.stdout, "%s Created default configuration at %s\n", SuccessStyle.Render("✓"), path)
	return nil
}

func showConfigPath(app *App) error {
	cfgDir, err := config.ConfigDir()
	if err != nil {
		return err
	}

	fmt.Fprintf(app.stdout, "Config directory: %s\n", cfgDir)
	fmt.Fprintf(app.stdout, "Config file: %s\n", filepath.Join(cfgDir, config.ConfigFileName+"."+config.ConfigFileExt))

	path, err := config.ResolvePath(app.loadOptions())
	if err != nil {
		return err
	}
	if path == "" {
		path = SubtitleStyle.Render("(none, using defaults)")
	}
	fmt.Fprintf(app.stdout, "Active file: %s\n", path)

	return nil
}

func setConfigValue(ctx context.Context, app *App, key, value string) error {
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}

	switch key {
	case "concurrency":
		limit, parseErr := scheduler.ParseConcurrency(value)
		if parseErr != nil {
			return parseErr
		}
		cfg.Concurrency = limit
	case "mode":
		cfg.Mode = scheduler.Mode(value)
	case "progress_interval":
		d, parseErr := time.ParseDuration(value)
		if parseErr != nil {
			return fmt.Errorf("invalid duration for %s: %w", key, parseErr)
		}
		cfg.ProgressInterval = d
	case "default_runtime":
		cfg.DefaultRuntime = runtime.Mode(value)
	case "task_timeout":
		d, parseErr := time.ParseDuration(value)
		if parseErr != nil {
			return fmt.Errorf("invalid duration for %s: %w", key, parseErr)
		}
		cfg.TaskTimeout = d
	case "env.inherit_mode":
		cfg.Env.InheritMode = runtime.EnvInheritMode(value)
	case "ui.color_scheme":
		cfg.UI.ColorScheme = config.ColorScheme(value)
	case "ui.verbose":
		b, parseErr := strconv.ParseBool(value)
		if parseErr != nil {
			return fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		cfg.UI.Verbose = b
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}

	if valid, errs := cfg.IsValid(); !valid {
		return errs[0]
	}

	path, err := config.ResolvePath(app.loadOptions())
	if err != nil {
		return err
	}
	if path == "" {
		cfgDir, dirErr := config.ConfigDir()
		if dirErr != nil {
			return dirErr
		}
		if mkErr := os.MkdirAll(cfgDir, 0o755); mkErr != nil {
			return fmt.Errorf("failed to create config directory: %w", mkErr)
		}
		path = filepath.Join(cfgDir, config.ConfigFileName+"."+config.ConfigFileExt)
	}

	if err := os.WriteFile(path, []byte(config.GenerateCUE(cfg)), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(app.stdout, "%s Set %s = %s in %s\n", SuccessStyle.Render("✓"), key, value, path)
	return nil
}
