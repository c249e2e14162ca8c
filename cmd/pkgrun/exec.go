// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/pkgrun/pkgrun/internal/config"
	"github.com/pkgrun/pkgrun/internal/issue"
	"github.com/pkgrun/pkgrun/internal/runtime"
	"github.com/pkgrun/pkgrun/internal/scheduler"
	"github.com/pkgrun/pkgrun/internal/watch"
	"github.com/pkgrun/pkgrun/internal/workspace"
)

// ErrInvalidEnvVar is returned for an --env value that is not KEY=VALUE.
var ErrInvalidEnvVar = errors.New("invalid environment variable")

// execOptions are the flags of `pkgrun exec`.
type execOptions struct {
	concurrency string
	sequential  bool
	progress    time.Duration
	runtime     string
	filters     []string
	topo        bool
	taskTimeout time.Duration
	format      string
	envFiles    []string
	envVars     []string
	watch       bool
}

// newExecCommand creates the `pkgrun exec` command.
func newExecCommand(app *App) *cobra.Command {
	opts := &execOptions{}

	execCmd := &cobra.Command{
		Use:   "exec [flags] -- <script>",
		Short: "Run a script in every package",
		Long: `Run a shell script in the directory of every discovered package.

At most --concurrency scripts run at once. A failing script never stops the
others; failures are listed once every package has finished and the command
exits with status 1.

Each script sees PKGRUN_PACKAGE_NAME, PKGRUN_PACKAGE_VERSION and
PKGRUN_PACKAGE_DIR in its environment.`,
		Example: `  pkgrun exec -- npm test
  pkgrun exec -c 8 --filter '@acme/*' -- npm run lint
  pkgrun exec --topo --task-timeout 5m -- npm run build
  pkgrun exec --watch --filter '@acme/web' -- npm test`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(cmd, app, opts, strings.Join(args, " "))
		},
	}

	flags := execCmd.Flags()
	flags.StringVarP(&opts.concurrency, "concurrency", "c", "", "maximum number of scripts in flight (default from config, 3)")
	flags.BoolVar(&opts.sequential, "seq", false, "run packages one at a time in discovery order")
	flags.DurationVar(&opts.progress, "progress", 0, "report progress at this interval (0 disables)")
	flags.StringVar(&opts.runtime, "runtime", "", "script runtime: native or virtual (default from config)")
	flags.StringArrayVar(&opts.filters, "filter", nil, "only run packages whose name matches this glob (repeatable)")
	flags.BoolVar(&opts.topo, "topo", false, "run packages after their workspace dependencies")
	flags.DurationVar(&opts.taskTimeout, "task-timeout", 0, "cancel a package script after this long (0 disables)")
	flags.StringVar(&opts.format, "format", string(formatText), "report format: text, markdown or json")
	flags.StringArrayVar(&opts.envFiles, "env-file", nil, "load variables from a dotenv file (repeatable)")
	flags.StringArrayVar(&opts.envVars, "env", nil, "set a variable as KEY=VALUE (repeatable)")
	flags.BoolVarP(&opts.watch, "watch", "w", false, "rerun the script in packages whose files change")

	return execCmd
}

func runExec(cmd *cobra.Command, app *App, opts *execOptions, script string) error {
	ctx := cmd.Context()

	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}

	format := reportFormat(opts.format)
	if valid, errs := format.IsValid(); !valid {
		return errors.Join(errs...)
	}

	runCfg, err := resolveRunConfig(cmd, cfg, opts)
	if err != nil {
		return err
	}

	mode := cfg.DefaultRuntime
	if opts.runtime != "" {
		mode = runtime.Mode(opts.runtime)
	}
	if valid, errs := mode.IsValid(); !valid {
		return errors.Join(errs...)
	}
	rt, err := app.Runtimes(mode)
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("select runtime").
			WithResource(mode.String()).
			WithSuggestion("Use --runtime virtual to run scripts without a host shell").
			WithIssue(issue.ShellNotFoundId).
			Wrap(err).
			BuildError()
	}

	timeout := cfg.TaskTimeout
	if cmd.Flags().Changed("task-timeout") {
		timeout = opts.taskTimeout
	}
	if timeout < 0 {
		return fmt.Errorf("--task-timeout must not be negative, got %s", timeout)
	}

	ws, err := app.discover(cfg, opts.filters)
	if err != nil {
		return err
	}

	baseEnv, err := buildBaseEnv(cfg, ws.Root, opts)
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("build task environment").
			WithSuggestion("Check --env-file paths and the 'env' section of " + config.LocalConfigFile).
			Wrap(err).
			BuildError()
	}
	flagVars, err := parseEnvVars(opts.envVars)
	if err != nil {
		return err
	}

	logger := app.logger()
	logger.Debug("starting run",
		"packages", len(ws.Packages),
		"concurrency", runCfg.Concurrency,
		"mode", runCfg.Mode,
		"runtime", rt.Name(),
		"topo", opts.topo)

	build := func(p *workspace.Package) scheduler.Task[*runtime.Result] {
		env := maps.Clone(baseEnv)
		maps.Copy(env, p.Env())
		maps.Copy(env, flagVars)
		return packageTask(rt, p, script, runtime.EnvToSlice(env), timeout)
	}

	onProgress := func(p scheduler.Progress) {
		logger.Info("progress", "completed", p.Completed, "total", p.Total, "elapsed", p.Elapsed.Round(time.Millisecond))
	}
	settled := scheduler.WithSettled(func(s scheduler.Settlement) {
		if s.Status == scheduler.StatusFulfilled {
			logger.Debug("package finished", "package", s.Name, "elapsed", s.Elapsed.Round(time.Millisecond))
			return
		}
		logger.Debug("package failed", "package", s.Name, "elapsed", s.Elapsed.Round(time.Millisecond), "error", s.Err)
	})

	runOnce := func(ctx context.Context, target *workspace.Workspace) (*scheduler.Summary[*runtime.Result], error) {
		summary, err := runPackages(ctx, target, runCfg, opts.topo, build, onProgress, settled)
		if err != nil {
			if errors.Is(err, workspace.ErrCycle) {
				return nil, discoveryError(err, target.Root)
			}
			return nil, err
		}
		if err := writeReport(app.stdout, format, summary, reportOptions{
			Verbose:     app.flags.verbose,
			ColorScheme: cfg.UI.ColorScheme,
		}); err != nil {
			return nil, err
		}
		if !summary.OK() {
			logRejections(logger, summary)
		}
		return summary, nil
	}

	summary, err := runOnce(ctx, ws)
	if err != nil {
		return err
	}
	if opts.watch {
		return watchAndRerun(ctx, ws, cfg, opts.topo, logger, runOnce)
	}
	if !summary.OK() {
		return &ExitError{Code: 1}
	}
	return nil
}

// watchAndRerun reruns the script for changed packages until ctx is cancelled.
// With topo, the workspace dependents of changed packages rerun as well.
func watchAndRerun(
	ctx context.Context,
	ws *workspace.Workspace,
	cfg *config.Config,
	topo bool,
	logger *log.Logger,
	runOnce func(context.Context, *workspace.Workspace) (*scheduler.Summary[*runtime.Result], error),
) error {
	w, err := watch.New(watch.Config{
		Packages: ws.Packages,
		Ignore:   cfg.Ignore,
		Logger:   logger,
		OnChange: func(ctx context.Context, changed []*workspace.Package) error {
			target := affectedPackages(ws, changed, topo)
			logger.Info("rerunning", "packages", target.Names())
			_, err := runOnce(ctx, target)
			return err
		},
	})
	if err != nil {
		return err
	}

	logger.Info("watching for changes", "packages", len(ws.Packages))
	return w.Run(ctx)
}

// affectedPackages returns the changed packages, plus their transitive
// dependents when withDependents is set, in workspace order.
func affectedPackages(ws *workspace.Workspace, changed []*workspace.Package, withDependents bool) *workspace.Workspace {
	marked := make(map[string]bool, len(changed))
	queue := make([]string, 0, len(changed))
	for _, p := range changed {
		marked[p.Name] = true
		queue = append(queue, p.Name)
	}
	for withDependents && len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, d := range ws.Dependents(name) {
			if !marked[d] {
				marked[d] = true
				queue = append(queue, d)
			}
		}
	}

	target := &workspace.Workspace{Root: ws.Root}
	for _, p := range ws.Packages {
		if marked[p.Name] {
			target.Packages = append(target.Packages, p)
		}
	}
	return target
}

// resolveRunConfig layers exec flags over the configured scheduler settings.
func resolveRunConfig(cmd *cobra.Command, cfg *config.Config, opts *execOptions) (scheduler.Config, error) {
	runCfg := cfg.RunConfig()

	if cmd.Flags().Changed("concurrency") {
		limit, err := scheduler.ParseConcurrency(opts.concurrency)
		if err != nil {
			return runCfg, issue.NewErrorContext().
				WithOperation("parse --concurrency").
				WithResource(opts.concurrency).
				WithSuggestion(fmt.Sprintf("Pass a whole number between 1 and %d", scheduler.MaxConcurrency)).
				WithIssue(issue.InvalidConcurrencyId).
				Wrap(err).
				BuildError()
		}
		runCfg.Concurrency = limit
	}
	if opts.sequential {
		runCfg.Mode = scheduler.ModeSequential
	}
	if cmd.Flags().Changed("progress") {
		runCfg.ProgressInterval = opts.progress
	}

	if err := runCfg.Validate(); err != nil {
		return runCfg, err
	}
	return runCfg, nil
}

// buildBaseEnv returns the environment shared by every package task. Config
// env files are relative to the workspace root, --env-file paths to the
// current directory.
func buildBaseEnv(cfg *config.Config, root string, opts *execOptions) (map[string]string, error) {
	env := cfg.TaskEnv()
	files := slices.Clone(env.Files)
	for _, f := range opts.envFiles {
		abs, err := filepath.Abs(f)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve env file %s: %w", f, err)
		}
		files = append(files, abs)
	}
	env.Files = files
	return env.Build(root)
}

// parseEnvVars parses KEY=VALUE pairs. The value may be empty.
func parseEnvVars(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w %q (expected KEY=VALUE)", ErrInvalidEnvVar, pair)
		}
		vars[key] = value
	}
	return vars, nil
}

// packageTask returns the scheduler task that runs script in p.Dir.
func packageTask(rt runtime.Runtime, p *workspace.Package, script string, env []string, timeout time.Duration) scheduler.Task[*runtime.Result] {
	return scheduler.Task[*runtime.Result]{
		Name: p.Name,
		Run: func(ctx context.Context) (*runtime.Result, error) {
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			res := rt.Execute(ctx, &runtime.Request{Script: script, Dir: p.Dir, Env: env})
			if err := res.Err(); err != nil {
				if timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return nil, fmt.Errorf("timed out after %s: %w", timeout, err)
				}
				return nil, err
			}
			return res, nil
		},
	}
}

// runPackages runs one task per package, in dependency waves when topo is set.
func runPackages(
	ctx context.Context,
	ws *workspace.Workspace,
	cfg scheduler.Config,
	topo bool,
	build func(*workspace.Package) scheduler.Task[*runtime.Result],
	onProgress func(scheduler.Progress),
	opts ...scheduler.Option,
) (*scheduler.Summary[*runtime.Result], error) {
	if topo {
		return workspace.RunLevels(ctx, ws, cfg, build, onProgress, opts...)
	}

	tasks := make([]scheduler.Task[*runtime.Result], len(ws.Packages))
	for i, p := range ws.Packages {
		tasks[i] = build(p)
	}
	return scheduler.Run(ctx, tasks, cfg, append(opts, scheduler.WithProgress(onProgress))...)
}

func logRejections(logger *log.Logger, summary *scheduler.Summary[*runtime.Result]) {
	var notAdmitted int
	for _, o := range summary.Failed() {
		if errors.Is(o.Err, scheduler.ErrNotAdmitted) {
			notAdmitted++
		}
	}
	if notAdmitted > 0 {
		logger.Warn("run cancelled before every package started", "not_started", notAdmitted)
	}
}
