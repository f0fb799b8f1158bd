// Package report renders cleaning sessions and scans for the terminal.
package report

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"system-toolbox/internal/cleaner"
	"system-toolbox/internal/scheduler"
)

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB"}

// FormatSize renders bytes with two decimals in binary units.
func FormatSize(bytes int64) string {
	size := float64(bytes)
	for _, unit := range sizeUnits {
		if size < 1024.0 {
			return fmt.Sprintf("%.2f %s", size, unit)
		}
		size /= 1024.0
	}
	return fmt.Sprintf("%.2f PB", size)
}

// Options control rendering.
type Options struct {
	// Color enables ANSI styling.
	Color bool
	// Verbose lists every failed decision under its target.
	Verbose bool
}

// ColorEnabled reports whether w is a terminal that should get colour.
func ColorEnabled(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type styles struct {
	box     lipgloss.Style
	title   lipgloss.Style
	good    lipgloss.Style
	warn    lipgloss.Style
	bad     lipgloss.Style
	muted   lipgloss.Style
	section lipgloss.Style
}

func newStyles(color bool) styles {
	s := styles{
		box:     lipgloss.NewStyle().Border(lipgloss.DoubleBorder()).Padding(0, 1),
		title:   lipgloss.NewStyle(),
		good:    lipgloss.NewStyle(),
		warn:    lipgloss.NewStyle(),
		bad:     lipgloss.NewStyle(),
		muted:   lipgloss.NewStyle(),
		section: lipgloss.NewStyle(),
	}
	if !color {
		return s
	}
	s.box = s.box.BorderForeground(lipgloss.AdaptiveColor{Light: "#0891b2", Dark: "#22d3ee"})
	s.title = s.title.Bold(true)
	s.good = s.good.Foreground(lipgloss.AdaptiveColor{Light: "#16a34a", Dark: "#4ade80"})
	s.warn = s.warn.Foreground(lipgloss.AdaptiveColor{Light: "#ca8a04", Dark: "#facc15"})
	s.bad = s.bad.Foreground(lipgloss.AdaptiveColor{Light: "#dc2626", Dark: "#f87171"})
	s.muted = s.muted.Foreground(lipgloss.AdaptiveColor{Light: "#6b7280", Dark: "#9ca3af"})
	s.section = s.section.Bold(true).Underline(true)
	return s
}

var reasonLabels = map[cleaner.Reason]string{
	cleaner.ReasonSafePath:          "in a protected location",
	cleaner.ReasonExcludedExtension: "protected file type",
	cleaner.ReasonProtectedName:     "protected browser data",
	cleaner.ReasonTooNew:            "modified recently",
	cleaner.ReasonAgeUnknown:        "age could not be read",
	cleaner.ReasonUnsafeTarget:      "refused by delete validator",
	cleaner.ReasonDeleteFailed:      "in use or locked",
	cleaner.ReasonInaccessible:      "access denied",
	cleaner.ReasonUnsupportedType:   "link or special file",
}

// ReasonLabel is the human wording of a skip reason.
func ReasonLabel(r cleaner.Reason) string {
	if l, ok := reasonLabels[r]; ok {
		return l
	}
	return string(r)
}

// Render draws a boxed summary of a cleaning session.
func Render(sum *scheduler.Summary, opts Options) string {
	st := newStyles(opts.Color)
	var b strings.Builder

	title := "Cleaning complete"
	if sum.DryRun {
		title = "Dry run complete (nothing was deleted)"
	}
	if sum.Cancelled {
		title += ", cancelled"
	}
	b.WriteString(st.title.Render(title))
	b.WriteString("\n\n")

	freed := FormatSize(sum.Totals.BytesFreed)
	if sum.DryRun {
		freed = "0.00 B (dry run)"
	}
	fmt.Fprintf(&b, "%s %d\n", st.good.Render("Cleaned:"), sum.Totals.CleanedCount)
	fmt.Fprintf(&b, "%s %d\n", st.warn.Render("Skipped:"), sum.Totals.SkippedCount)
	fmt.Fprintf(&b, "Freed:   %s\n", freed)
	if sum.Totals.DirsRemoved > 0 {
		fmt.Fprintf(&b, "Empty folders removed: %d\n", sum.Totals.DirsRemoved)
	}

	b.WriteString("\n")
	b.WriteString(st.section.Render("Targets"))
	b.WriteString("\n")
	for _, tr := range sum.Targets {
		b.WriteString(renderTarget(st, tr, opts))
	}
	covered := make([]string, 0, len(sum.Covered))
	for name := range sum.Covered {
		covered = append(covered, name)
	}
	sort.Strings(covered)
	for _, name := range covered {
		fmt.Fprintf(&b, "  %-14s %s\n", name, st.muted.Render("cleaned with "+sum.Covered[name]))
	}

	if len(sum.Totals.SkippedByReason) > 0 {
		b.WriteString("\n")
		b.WriteString(st.section.Render("Skipped"))
		b.WriteString("\n")
		for _, reason := range sortedReasons(sum.Totals.SkippedByReason) {
			fmt.Fprintf(&b, "  %-30s %d\n", ReasonLabel(reason), sum.Totals.SkippedByReason[reason])
		}
	}

	b.WriteString("\n")
	b.WriteString(st.muted.Render(safeModeNote(sum.MaxAgeDays)))

	return st.box.Render(b.String()) + "\n"
}

func renderTarget(st styles, tr scheduler.TargetResult, opts Options) string {
	if tr.Failed() {
		return fmt.Sprintf("  %s %-14s %v\n", st.bad.Render("x"), tr.Name, tr.Err)
	}
	var line string
	switch {
	case tr.RecycleBin != nil:
		line = fmt.Sprintf("  %s %-14s %d items, %s", st.good.Render("+"), tr.Name,
			tr.RecycleBin.Before.Items, FormatSize(tr.RecycleBin.BytesFreed))
	default:
		line = fmt.Sprintf("  %s %-14s cleaned %d, skipped %d, %s", st.good.Render("+"), tr.Name,
			tr.Result.CleanedCount, tr.Result.SkippedCount, FormatSize(tr.Result.BytesFreed))
	}
	out := line + "\n"
	if opts.Verbose {
		for _, d := range tr.Result.Decisions {
			if d.Reason.IsFailure() {
				out += st.muted.Render("      "+d.Path+": "+d.ToHumanReadable()) + "\n"
			}
		}
	}
	return out
}

func safeModeNote(maxAgeDays int) string {
	return fmt.Sprintf("Safe mode: files modified in the last %d days, protected locations,\n"+
		"system file types and browser profile data were left in place.\n"+
		"Files in use were skipped.", maxAgeDays)
}

func sortedReasons(m map[cleaner.Reason]int) []cleaner.Reason {
	out := make([]cleaner.Reason, 0, len(m))
	for r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if m[out[i]] != m[out[j]] {
			return m[out[i]] > m[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}

// RenderScan draws the current footprint of each target.
func RenderScan(entries []scheduler.ScanEntry, opts Options) string {
	st := newStyles(opts.Color)
	var b strings.Builder
	b.WriteString(st.title.Render("Reclaimable space"))
	b.WriteString("\n\n")

	var total int64
	for _, e := range entries {
		if e.Error != "" {
			fmt.Fprintf(&b, "  %-14s %s\n", e.Name, st.bad.Render(e.Error))
			continue
		}
		total += e.Bytes
		unit := "files"
		if e.Kind == scheduler.KindRecycleBin {
			unit = "items"
		}
		fmt.Fprintf(&b, "  %-14s %12s  %d %s\n", e.Name, FormatSize(e.Bytes), e.Files, unit)
	}
	fmt.Fprintf(&b, "\n  %-14s %12s", "Total", FormatSize(total))
	return st.box.Render(b.String()) + "\n"
}
