// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"cmp"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/slices"
)

// Id identifies a failure category that has a Markdown guide.
type Id int

const (
	// ConfigLoadFailedId covers unreadable or invalid configuration files.
	ConfigLoadFailedId Id = iota + 1
	NoPackagesFoundId
	InvalidManifestId
	DependencyCycleId
	InvalidConcurrencyId
	ShellNotFoundId
	TasksFailedId
	DigestManifestId
)

type (
	// MarkdownMsg is Markdown text rendered for the user.
	MarkdownMsg string

	// Issue is a guide shown for a failure category.
	Issue struct {
		id    Id
		mdMsg MarkdownMsg
	}
)

// Id returns the issue identifier.
func (i *Issue) Id() Id { return i.id }

// MarkdownMsg returns the raw Markdown guide.
func (i *Issue) MarkdownMsg() MarkdownMsg { return i.mdMsg }

// Render renders the guide with the glamour style at stylePath
// ("dark", "light", "auto", or a JSON style file).
func (i *Issue) Render(stylePath string) (string, error) {
	return render(string(i.mdMsg), stylePath)
}

var (
	render = glamour.Render

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Configuration could not be loaded

pkgrun reads, in order, the file given with ` + "`--config`" + `, then
` + "`config.cue`" + ` in the user config directory, then ` + "`pkgrun.cue`" + ` in the
current directory.

## Things you can try:
- Print the file pkgrun is using:
~~~
$ pkgrun config path
~~~
- Compare it with a complete default configuration:
~~~
$ pkgrun config dump
~~~
- Unset stray ` + "`PKGRUN_*`" + ` environment variables.`,
	}

	noPackagesFoundIssue = &Issue{
		id: NoPackagesFoundId,
		mdMsg: `
# No packages found

A package is a directory matched by one of the ` + "`packages`" + ` globs that
contains a ` + "`package.json`" + `. The default glob is ` + "`packages/*`" + `.

## Things you can try:
- Run pkgrun from the workspace root, or pass ` + "`--root`" + `.
- Configure the globs:
~~~cue
packages: ["packages/*", "apps/*", "!packages/legacy"]
~~~
- Check ` + "`--filter`" + ` globs against ` + "`pkgrun list`" + `.`,
	}

	invalidManifestIssue = &Issue{
		id: InvalidManifestId,
		mdMsg: `
# Invalid package.json

Every package needs a ` + "`package.json`" + ` with valid JSON and a ` + "`name`" + ` field.
Package names must be unique within the workspace.`,
	}

	dependencyCycleIssue = &Issue{
		id: DependencyCycleId,
		mdMsg: `
# Dependency cycle detected

` + "`--topo`" + ` runs packages after the workspace packages they depend on, which
is impossible when dependencies form a cycle.

## Things you can try:
- Remove one of the listed dependencies.
- Run without ` + "`--topo`" + ` if ordering does not matter for this script.`,
	}

	invalidConcurrencyIssue = &Issue{
		id: InvalidConcurrencyId,
		mdMsg: `
# Invalid concurrency limit

The concurrency limit must be a whole number between 1 and 10000. Values
such as ` + "`0`" + `, ` + "`-2`" + ` or ` + "`auto`" + ` are rejected instead of being replaced by a
default.

~~~
$ pkgrun exec -c 4 -- npm test
$ pkgrun exec --seq -- npm publish
~~~`,
	}

	shellNotFoundIssue = &Issue{
		id: ShellNotFoundId,
		mdMsg: `
# No shell found

The native runtime uses ` + "`$SHELL`" + `, then bash, then sh (PowerShell or cmd on
Windows).

## Things you can try:
- Use the built-in shell interpreter:
~~~
$ pkgrun exec --runtime virtual -- echo hi
~~~`,
	}

	tasksFailedIssue = &Issue{
		id: TasksFailedId,
		mdMsg: `
# Some package tasks failed

Failures do not stop other packages: every package still runs and the
report lists each failure with its reason.

## Things you can try:
- Re-run a single package:
~~~
$ pkgrun exec --filter <name> -- <script>
~~~
- Print captured output for every package with ` + "`--verbose`" + `.`,
	}

	digestManifestIssue = &Issue{
		id: DigestManifestId,
		mdMsg: `
# Digest manifest could not be used

` + "`pkgrun changed`" + ` stores package digests in ` + "`.pkgrun/digests.toml`" + `.
Deleting the file is safe: the next run reports every package as added.`,
	}

	issues = map[Id]*Issue{
		configLoadFailedIssue.Id():   configLoadFailedIssue,
		noPackagesFoundIssue.Id():    noPackagesFoundIssue,
		invalidManifestIssue.Id():    invalidManifestIssue,
		dependencyCycleIssue.Id():    dependencyCycleIssue,
		invalidConcurrencyIssue.Id(): invalidConcurrencyIssue,
		shellNotFoundIssue.Id():      shellNotFoundIssue,
		tasksFailedIssue.Id():        tasksFailedIssue,
		digestManifestIssue.Id():     digestManifestIssue,
	}
)

// Values returns every known issue ordered by Id.
func Values() []*Issue {
	out := make([]*Issue, 0, len(issues))
	for _, i := range issues {
		out = append(out, i)
	}
	slices.SortFunc(out, func(a, b *Issue) int { return cmp.Compare(a.id, b.id) })
	return out
}

// Get returns the issue for id, or nil if there is none.
func Get(id Id) *Issue {
	return issues[id]
}
