// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/pkgrun/pkgrun/internal/config"
	"github.com/pkgrun/pkgrun/internal/runtime"
	"github.com/pkgrun/pkgrun/internal/scheduler"
)

// Report formats.
const (
	formatText     reportFormat = "text"
	formatMarkdown reportFormat = "markdown"
	formatJSON     reportFormat = "json"
)

// ErrInvalidReportFormat is the sentinel error wrapped by InvalidReportFormatError.
var ErrInvalidReportFormat = errors.New("invalid report format")

type (
	// reportFormat selects how a run summary is printed.
	reportFormat string

	// InvalidReportFormatError is returned for an unknown --format value.
	InvalidReportFormatError struct {
		Value string
	}

	reportOptions struct {
		// Verbose prints captured output of every package, not only failures.
		Verbose     bool
		ColorScheme config.ColorScheme
	}

	jsonReport struct {
		Packages  []jsonOutcome `json:"packages"`
		Fulfilled int           `json:"fulfilled"`
		Rejected  int           `json:"rejected"`
		ElapsedMs int64         `json:"elapsed_ms"`
	}

	jsonOutcome struct {
		Name      string `json:"name"`
		Status    string `json:"status"`
		ElapsedMs int64  `json:"elapsed_ms"`
		ExitCode  int    `json:"exit_code"`
		Error     string `json:"error,omitempty"`
		Stdout    string `json:"stdout,omitempty"`
		Stderr    string `json:"stderr,omitempty"`
	}
)

func (e *InvalidReportFormatError) Error() string {
	return fmt.Sprintf("invalid report format %q (valid: text, markdown, json)", e.Value)
}

// Unwrap returns ErrInvalidReportFormat for errors.Is() compatibility.
func (e *InvalidReportFormatError) Unwrap() error { return ErrInvalidReportFormat }

// IsValid returns whether f is a known report format.
func (f reportFormat) IsValid() (bool, []error) {
	switch f {
	case formatText, formatMarkdown, formatJSON:
		return true, nil
	default:
		return false, []error{&InvalidReportFormatError{Value: string(f)}}
	}
}

// writeReport prints summary in the requested format.
func writeReport(w io.Writer, format reportFormat, summary *scheduler.Summary[*runtime.Result], opts reportOptions) error {
	switch format {
	case formatJSON:
		return writeJSONReport(w, summary)
	case formatMarkdown:
		return writeMarkdownReport(w, summary, opts)
	default:
		writeTextReport(w, summary, opts)
		return nil
	}
}

func writeTextReport(w io.Writer, summary *scheduler.Summary[*runtime.Result], opts reportOptions) {
	for _, o := range summary.Outcomes {
		elapsed := VerboseStyle.Render("(" + formatElapsed(o.Elapsed) + ")")
		if o.Status == scheduler.StatusFulfilled {
			fmt.Fprintf(w, "%s %s %s\n", SuccessStyle.Render("✓"), PackageStyle.Render(o.Name), elapsed)
			if opts.Verbose && o.Value != nil {
				writeCaptured(w, o.Value.Output)
			}
			continue
		}
		fmt.Fprintf(w, "%s %s %s\n", ErrorStyle.Render("✗"), PackageStyle.Render(o.Name), elapsed)
		if opts.Verbose {
			if stderr := capturedStderr(o.Err); stderr != "" {
				writeCaptured(w, stderr)
			}
		}
	}

	if failed := summary.Failed(); len(failed) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, ErrorStyle.Render("Failed packages:"))
		for _, o := range failed {
			fmt.Fprintf(w, "  %s %s\n", PackageStyle.Render(o.Name+":"), o.Err)
		}
	}

	fmt.Fprintln(w)
	line := summaryLine(summary)
	if summary.OK() {
		fmt.Fprintln(w, SuccessStyle.Render(line))
	} else {
		fmt.Fprintln(w, WarningStyle.Render(line))
	}
}

func writeMarkdownReport(w io.Writer, summary *scheduler.Summary[*runtime.Result], opts reportOptions) error {
	var md strings.Builder
	md.WriteString("# pkgrun report\n\n")
	md.WriteString("| Package | Status | Elapsed | Error |\n")
	md.WriteString("|---|---|---|---|\n")
	for _, o := range summary.Outcomes {
		reason := ""
		if o.Err != nil {
			reason = markdownCell(o.Err.Error())
		}
		fmt.Fprintf(&md, "| `%s` | %s | %s | %s |\n", o.Name, o.Status, formatElapsed(o.Elapsed), reason)
	}
	fmt.Fprintf(&md, "\n**%s**\n", summaryLine(summary))

	renderer, err := glamour.NewTermRenderer(glamourStyle(opts.ColorScheme), glamour.WithWordWrap(0))
	if err != nil {
		return fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	out, err := renderer.Render(md.String())
	if err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	_, err = io.WriteString(w, out)
	return err
}

func writeJSONReport(w io.Writer, summary *scheduler.Summary[*runtime.Result]) error {
	report := jsonReport{
		Packages:  make([]jsonOutcome, 0, len(summary.Outcomes)),
		Fulfilled: summary.Fulfilled,
		Rejected:  summary.Rejected,
		ElapsedMs: summary.Elapsed.Milliseconds(),
	}
	for _, o := range summary.Outcomes {
		out := jsonOutcome{
			Name:      o.Name,
			Status:    o.Status.String(),
			ElapsedMs: o.Elapsed.Milliseconds(),
		}
		if o.Value != nil {
			out.ExitCode = int(o.Value.ExitCode)
			out.Stdout = o.Value.Output
			out.Stderr = o.Value.ErrOutput
		}
		if o.Err != nil {
			out.Error = o.Err.Error()
			out.ExitCode = 1
			var exitErr *runtime.ExitError
			if errors.As(o.Err, &exitErr) {
				out.ExitCode = int(exitErr.Code)
				out.Stderr = exitErr.Stderr
			}
		}
		report.Packages = append(report.Packages, out)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// glamourStyle maps the configured color scheme to a glamour style.
func glamourStyle(scheme config.ColorScheme) glamour.TermRendererOption {
	switch scheme {
	case config.ColorSchemeDark:
		return glamour.WithStandardStyle("dark")
	case config.ColorSchemeLight:
		return glamour.WithStandardStyle("light")
	default:
		return glamour.WithAutoStyle()
	}
}

// summaryLine returns "N succeeded, M failed in D".
func summaryLine[T any](summary *scheduler.Summary[T]) string {
	return fmt.Sprintf("%d succeeded, %d failed in %s", summary.Fulfilled, summary.Rejected, formatElapsed(summary.Elapsed))
}

func formatElapsed(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(10 * time.Millisecond).String()
}

// capturedStderr returns the stderr carried by a non-zero exit, if any.
func capturedStderr(err error) string {
	var exitErr *runtime.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Stderr
	}
	return ""
}

func writeCaptured(w io.Writer, output string) {
	output = strings.TrimRight(output, "\n")
	if output == "" {
		return
	}
	fmt.Fprintln(w, outputStyle.Render(output))
}

// markdownCell flattens s into a single table cell.
func markdownCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}
