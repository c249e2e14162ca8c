// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pkgrun/pkgrun/internal/workspace"
)

// newListCommand creates the `pkgrun list` command.
func newListCommand(app *App) *cobra.Command {
	var (
		topo    bool
		filters []string
	)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List discovered packages",
		Long: `List the packages of the workspace in discovery order.

With --topo, packages are grouped into dependency levels: every package only
depends on packages of earlier levels.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			ws, err := app.discover(cfg, filters)
			if err != nil {
				return err
			}
			if topo {
				return listLevels(app, ws)
			}
			listPackages(app, ws)
			return nil
		},
	}

	listCmd.Flags().BoolVar(&topo, "topo", false, "group packages by dependency level")
	listCmd.Flags().StringArrayVar(&filters, "filter", nil, "only list packages whose name matches this glob (repeatable)")

	return listCmd
}

func listPackages(app *App, ws *workspace.Workspace) {
	fmt.Fprintln(app.stdout, TitleStyle.Render("Packages")+SubtitleStyle.Render(fmt.Sprintf(" (%d in %s)", len(ws.Packages), ws.Root)))
	for _, p := range ws.Packages {
		writePackageLine(app, ws, p, "  ")
	}
}

func listLevels(app *App, ws *workspace.Workspace) error {
	levels, err := ws.Levels()
	if err != nil {
		return discoveryError(err, ws.Root)
	}
	for i, level := range levels {
		fmt.Fprintln(app.stdout, TitleStyle.Render(fmt.Sprintf("Level %d", i+1)))
		for _, p := range level {
			writePackageLine(app, ws, p, "  ")
		}
	}
	return nil
}

func writePackageLine(app *App, ws *workspace.Workspace, p *workspace.Package, indent string) {
	line := indent + PackageStyle.Render(p.String()) + " " + SubtitleStyle.Render(p.RelDir)
	if p.Private {
		line += " " + WarningStyle.Render("private")
	}
	if app.flags.verbose {
		if deps := ws.InternalDependencies(p); len(deps) > 0 {
			line += VerboseStyle.Render(" -> " + strings.Join(deps, ", "))
		}
	}
	fmt.Fprintln(app.stdout, line)
}
