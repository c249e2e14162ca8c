// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pkgrun/pkgrun/internal/digest"
	"github.com/pkgrun/pkgrun/internal/issue"
	"github.com/pkgrun/pkgrun/internal/scheduler"
)

type changedOptions struct {
	write   bool
	prune   bool
	filters []string
	format  string
}

// newChangedCommand creates the `pkgrun changed` command.
func newChangedCommand(app *App) *cobra.Command {
	opts := &changedOptions{}

	changedCmd := &cobra.Command{
		Use:   "changed",
		Short: "Show packages whose files changed since the last recorded digest",
		Long: `Compute a SHA256 digest of every package and compare it with the digests
recorded in .pkgrun/digests.toml.

Packages are digested concurrently under the configured concurrency limit.
With --write, the new digests are recorded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChanged(cmd, app, opts)
		},
	}

	changedCmd.Flags().BoolVar(&opts.write, "write", false, "record the current digests")
	changedCmd.Flags().BoolVar(&opts.prune, "prune", false, "with --write, drop digests of packages that no longer exist")
	changedCmd.Flags().StringArrayVar(&opts.filters, "filter", nil, "only digest packages whose name matches this glob (repeatable)")
	changedCmd.Flags().StringVar(&opts.format, "format", string(formatText), "output format: text or json")

	return changedCmd
}

func runChanged(cmd *cobra.Command, app *App, opts *changedOptions) error {
	ctx := cmd.Context()

	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}
	if opts.format != string(formatText) && opts.format != string(formatJSON) {
		return &InvalidReportFormatError{Value: opts.format}
	}

	ws, err := app.discover(cfg, opts.filters)
	if err != nil {
		return err
	}

	manifestPath := digest.ManifestPath(ws.Root)
	previous, err := digest.LoadManifest(manifestPath)
	if err != nil {
		return manifestError(err, manifestPath, "read digest manifest")
	}

	logger := app.logger()
	current, summary, err := digest.Compute(ctx, ws.Packages, cfg.Ignore, cfg.RunConfig(),
		scheduler.WithSettled(func(s scheduler.Settlement) {
			if s.Err != nil {
				logger.Error("failed to digest package", "package", s.Name, "error", s.Err)
			}
		}))
	if err != nil {
		return err
	}

	// A filtered run only compares the packages it digested.
	if len(opts.filters) > 0 {
		previous = previous.Subset(ws.Names())
	}
	// Packages that failed to digest are neither changed nor removed.
	for _, o := range summary.Failed() {
		delete(previous.Packages, o.Name)
	}
	diff := digest.Compare(previous, current)

	if opts.format == string(formatJSON) {
		enc := json.NewEncoder(app.stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(diff); err != nil {
			return err
		}
	} else {
		writeDiff(app.stdout, diff)
	}

	if opts.write {
		full, err := digest.LoadManifest(manifestPath)
		if err != nil {
			return manifestError(err, manifestPath, "read digest manifest")
		}
		if err := full.Merge(current, opts.prune && len(opts.filters) == 0).Save(manifestPath); err != nil {
			return manifestError(err, manifestPath, "write digest manifest")
		}
		logger.Info("recorded digests", "packages", len(current.Packages), "path", manifestPath)
	}

	if !summary.OK() {
		return &ExitError{Code: 1, Err: summary.Err()}
	}
	return nil
}

func writeDiff(w io.Writer, diff digest.Diff) {
	if diff.Empty() {
		fmt.Fprintln(w, SuccessStyle.Render("No changes"))
		return
	}
	section := func(title string, names []string, style func(...string) string, marker string) {
		if len(names) == 0 {
			return
		}
		fmt.Fprintln(w, TitleStyle.Render(title))
		for _, name := range names {
			fmt.Fprintf(w, "  %s %s\n", style(marker), PackageStyle.Render(name))
		}
	}
	section("Added", diff.Added, SuccessStyle.Render, "+")
	section("Changed", diff.Changed, WarningStyle.Render, "~")
	section("Removed", diff.Removed, ErrorStyle.Render, "-")
	fmt.Fprintln(w, SubtitleStyle.Render(fmt.Sprintf("%d dirty, %d unchanged", len(diff.Dirty()), len(diff.Unchanged))))
}

func manifestError(err error, path, operation string) error {
	return issue.NewErrorContext().
		WithOperation(operation).
		WithResource(path).
		WithSuggestion("Delete the file to start over; the next run reports every package as added").
		WithIssue(issue.DigestManifestId).
		Wrap(err).
		BuildError()
}
