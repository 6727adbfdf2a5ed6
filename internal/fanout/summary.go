package fanout

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/rileyhilliard/acsf-tools/internal/ui"
)

// SummaryConfig holds configuration for rendering the summary.
type SummaryConfig struct {
	// Title heads the summary.
	Title string
	// ShowSkipped lists every skipped site with its reason.
	ShowSkipped bool
	// MaxOutputLines limits the number of output lines shown per failed unit.
	MaxOutputLines int
	// LogPath, when set, points the operator at the run log.
	LogPath string
}

// DefaultSummaryConfig returns default summary configuration.
func DefaultSummaryConfig() SummaryConfig {
	return SummaryConfig{
		Title:          "Sweep Summary",
		MaxOutputLines: 10,
	}
}

// RenderSummaryTo prints a formatted summary of a sweep to w.
func RenderSummaryTo(w io.Writer, result *Result, cfg SummaryConfig) {
	if result == nil {
		return
	}

	successStyle := lipgloss.NewStyle().Foreground(ui.ColorSuccess)
	errorStyle := lipgloss.NewStyle().Foreground(ui.ColorError)
	warningStyle := lipgloss.NewStyle().Foreground(ui.ColorWarning)
	mutedStyle := lipgloss.NewStyle().Foreground(ui.ColorMuted)
	headerStyle := lipgloss.NewStyle().Foreground(ui.ColorSecondary).Bold(true)

	divider := mutedStyle.Render(strings.Repeat("─", 60))

	fmt.Fprintln(w)
	fmt.Fprintln(w, divider)
	fmt.Fprintln(w)

	title := cfg.Title
	if title == "" {
		title = "Sweep Summary"
	}
	fmt.Fprintln(w, headerStyle.Render(title))
	fmt.Fprintln(w)

	sorted := make([]UnitResult, len(result.Units))
	copy(sorted, result.Units)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Name() < sorted[j].Name()
	})

	for i := range sorted {
		u := &sorted[i]
		switch u.Status {
		case StatusFailed:
			fmt.Fprintf(w, "  %s %s %s\n",
				errorStyle.Render(ui.SymbolFail),
				u.Name(),
				mutedStyle.Render(fmt.Sprintf("(%s)", failureReason(*u))))
			renderFailureOutput(w, u, cfg.MaxOutputLines, mutedStyle)
		case StatusUnhandled:
			fmt.Fprintf(w, "  %s %s %s\n",
				warningStyle.Render(ui.SymbolPending),
				u.Name(),
				mutedStyle.Render("(not started: "+u.Reason+")"))
		case StatusSkipped:
			if cfg.ShowSkipped {
				fmt.Fprintf(w, "  %s %s %s\n",
					mutedStyle.Render(ui.SymbolSkipped),
					u.Name(),
					mutedStyle.Render("("+u.Reason+")"))
			}
		}
	}

	if result.Failed > 0 || result.Unhandled > 0 || (cfg.ShowSkipped && result.Skipped > 0) {
		fmt.Fprintln(w)
	}

	failedStyle := mutedStyle
	if result.Failed > 0 {
		failedStyle = errorStyle
	}
	fmt.Fprintf(w, "  %s %d succeeded  %s %d failed  %s %d skipped",
		successStyle.Render(ui.SymbolSuccess),
		result.Succeeded,
		failedStyle.Render(ui.SymbolFail),
		result.Failed,
		mutedStyle.Render(ui.SymbolSkipped),
		result.Skipped,
	)
	if result.Unhandled > 0 {
		fmt.Fprintf(w, "  %s %d not started", warningStyle.Render(ui.SymbolPending), result.Unhandled)
	}
	fmt.Fprintf(w, "  %s\n", mutedStyle.Render(fmt.Sprintf("(%s)", formatDuration(result.Duration))))

	if result.Sweeps > 1 {
		fmt.Fprintf(w, "  %s %d\n", mutedStyle.Render("Sweeps:"), result.Sweeps)
	}
	if cfg.LogPath != "" {
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Log:"), mutedStyle.Render(cfg.LogPath))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, divider)
}

// renderFailureOutput shows the last lines of a failed unit's stderr, or its
// stdout when stderr is empty.
func renderFailureOutput(w io.Writer, u *UnitResult, maxLines int, mutedStyle lipgloss.Style) {
	if u.Exec == nil || maxLines <= 0 {
		return
	}
	raw := u.Exec.Stderr
	if len(strings.TrimSpace(string(raw))) == 0 {
		raw = u.Exec.Stdout
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return
	}

	lines := strings.Split(text, "\n")
	start := 0
	if len(lines) > maxLines {
		start = len(lines) - maxLines
		fmt.Fprintf(w, "    %s\n", mutedStyle.Render(fmt.Sprintf("... (%d lines omitted)", start)))
	}
	for _, line := range lines[start:] {
		if line != "" {
			fmt.Fprintf(w, "    %s\n", mutedStyle.Render(line))
		}
	}
}
