package fanout

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rileyhilliard/acsf-tools/internal/ui"
)

// OutputMode controls how unit output is displayed.
type OutputMode string

const (
	// OutputVerbose shows full output per unit on completion (default).
	OutputVerbose OutputMode = "verbose"
	// OutputStream shows output lines prefixed with [site].
	OutputStream OutputMode = "stream"
	// OutputQuiet shows summary only.
	OutputQuiet OutputMode = "quiet"
)

// ParseOutputMode validates a user supplied mode.
func ParseOutputMode(s string) (OutputMode, error) {
	switch OutputMode(s) {
	case OutputVerbose, OutputStream, OutputQuiet:
		return OutputMode(s), nil
	case "":
		return OutputVerbose, nil
	default:
		return "", fmt.Errorf("unknown output mode %q (want verbose, stream or quiet)", s)
	}
}

// OutputManager surfaces the output of every unit to the operator.
// It is safe for concurrent use.
type OutputManager struct {
	mode OutputMode
	w    io.Writer

	mu sync.Mutex

	successStyle lipgloss.Style
	errorStyle   lipgloss.Style
	warningStyle lipgloss.Style
	mutedStyle   lipgloss.Style
	siteStyle    lipgloss.Style
}

// NewOutputManager creates an output manager writing to w.
func NewOutputManager(mode OutputMode, w io.Writer) *OutputManager {
	if mode == "" {
		mode = OutputVerbose
	}
	return &OutputManager{
		mode: mode,
		w:    w,

		successStyle: lipgloss.NewStyle().Foreground(ui.ColorSuccess),
		errorStyle:   lipgloss.NewStyle().Foreground(ui.ColorError),
		warningStyle: lipgloss.NewStyle().Foreground(ui.ColorWarning),
		mutedStyle:   lipgloss.NewStyle().Foreground(ui.ColorMuted),
		siteStyle:    lipgloss.NewStyle().Foreground(ui.ColorSecondary),
	}
}

// Mode returns the effective output mode.
func (m *OutputManager) Mode() OutputMode {
	return m.mode
}

// UnitStarted is called when a unit is launched.
func (m *OutputManager) UnitStarted(name, domain string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.mode {
	case OutputStream:
		fmt.Fprintf(m.w, "%s running on %s\n", m.formatPrefix(name), domain)
	case OutputVerbose:
		fmt.Fprintf(m.w, "%s Running command on %s...\n",
			m.mutedStyle.Render(ui.SymbolProgress), domain)
	case OutputQuiet:
		// No output for quiet mode
	}
}

// UnitCompleted is called when a unit reaches a terminal state.
// Skipped units are not displayed; they are logged by the orchestrator.
func (m *OutputManager) UnitCompleted(u UnitResult) {
	if u.Status == StatusSkipped {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.mode {
	case OutputStream:
		m.renderStreamCompletion(u)
	case OutputVerbose:
		m.renderVerboseCompletion(u)
	case OutputQuiet:
		// No output for quiet mode
	}
}

func (m *OutputManager) symbolFor(u UnitResult) (string, lipgloss.Style) {
	switch u.Status {
	case StatusSucceeded:
		return ui.SymbolSuccess, m.successStyle
	case StatusUnhandled:
		return ui.SymbolPending, m.warningStyle
	default:
		return ui.SymbolFail, m.errorStyle
	}
}

func (m *OutputManager) renderStreamCompletion(u UnitResult) {
	prefix := m.formatPrefix(u.Name())
	if u.Exec != nil {
		writePrefixed(m.w, prefix, u.Exec.Stdout)
		writePrefixed(m.w, prefix, u.Exec.Stderr)
	}
	symbol, style := m.symbolFor(u)
	fmt.Fprintf(m.w, "%s %s %s\n", prefix, style.Render(symbol), formatDuration(u.Duration()))
}

// renderVerboseCompletion renders the header and captured output of a unit.
func (m *OutputManager) renderVerboseCompletion(u UnitResult) {
	symbol, style := m.symbolFor(u)

	where := u.Domain
	if where == "" {
		where = u.Name()
	}
	fmt.Fprintf(m.w, "\n%s %s %s %s\n",
		style.Render(symbol),
		u.Name(),
		m.siteStyle.Render(where),
		m.mutedStyle.Render(formatDuration(u.Duration())))

	if u.Status == StatusFailed {
		fmt.Fprintf(m.w, "  %s\n", m.mutedStyle.Render(failureReason(u)))
	}

	if u.Exec == nil {
		return
	}
	out := bytes.TrimSpace(u.Exec.Stdout)
	errOut := bytes.TrimSpace(u.Exec.Stderr)
	if len(out) == 0 && len(errOut) == 0 {
		return
	}
	fmt.Fprintf(m.w, "%s\n", m.mutedStyle.Render(strings.Repeat("-", 40)))
	if len(out) > 0 {
		fmt.Fprintf(m.w, "%s\n", out)
	}
	if len(errOut) > 0 {
		fmt.Fprintf(m.w, "%s\n", errOut)
	}
}

// formatPrefix creates the output prefix for stream mode.
func (m *OutputManager) formatPrefix(name string) string {
	return m.mutedStyle.Render(fmt.Sprintf("[%s]", name))
}

func writePrefixed(w io.Writer, prefix string, data []byte) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), maxLineLength)
	for scanner.Scan() {
		fmt.Fprintf(w, "%s %s\n", prefix, scanner.Text())
	}
}

// maxLineLength bounds a single output line in stream mode.
const maxLineLength = 1 << 20

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	secs := d.Seconds()
	if secs < 0.1 {
		return fmt.Sprintf("%.2fs", secs)
	}
	if secs < 60 {
		return fmt.Sprintf("%.1fs", secs)
	}
	mins := int(secs / 60)
	remainingSecs := secs - float64(mins)*60
	return fmt.Sprintf("%dm%.1fs", mins, remainingSecs)
}
