package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
	"github.com/rileyhilliard/acsf-tools/internal/errors"
	"github.com/rileyhilliard/acsf-tools/internal/flags"
	"github.com/rileyhilliard/acsf-tools/internal/runlog"
	"github.com/rileyhilliard/acsf-tools/internal/ui"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	statusDateFlag      string
	statusIterationFlag int
	statusWatchFlag     bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of post deployment tasks",
	Long: `Show the success and error log counts of an iteration, the sites still
holding a lock and the flag of every site with work left.

Without --date today's latest iteration is shown. --watch redraws the report
whenever the flags or logs change.

Examples:
  acsf-tools status
  acsf-tools status --date 20240511 --iteration 0
  acsf-tools status --watch
  acsf-tools status --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		iteration := -1
		if cmd.Flags().Changed("iteration") {
			iteration = statusIterationFlag
		}
		if statusWatchFlag {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watchStatus(ctx, e, statusDateFlag, iteration)
		}
		return statusCommand(e, statusDateFlag, iteration)
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusDateFlag, "date", "", "iteration date as YYYYMMDD (default: today)")
	statusCmd.Flags().IntVar(&statusIterationFlag, "iteration", 0, "iteration number (default: the latest)")
	statusCmd.Flags().BoolVarP(&statusWatchFlag, "watch", "w", false, "redraw when flags or logs change")
	rootCmd.AddCommand(statusCmd)
}

// statusReport is one snapshot of the background task state.
type statusReport struct {
	Date       string       `json:"date"`
	Folder     string       `json:"folder,omitempty"`
	Finished   bool         `json:"finished"`
	Success    int          `json:"success"`
	Error      int          `json:"error"`
	Locks      []string     `json:"locks"`
	Flags      []flagStatus `json:"flags"`
	MaxRetries int          `json:"max_retries"`
}

type flagStatus struct {
	Site    string `json:"site"`
	Counter int    `json:"counter"`
	Raw     string `json:"raw"`
	Locked  bool   `json:"locked"`
}

func statusCommand(e *env, date string, iteration int) error {
	report, err := buildStatus(e, date, iteration)
	if err != nil {
		return err
	}
	if MachineMode() {
		return WriteJSONSuccess(e.stdout, report)
	}
	renderStatus(e.stdout, report)
	return nil
}

func buildStatus(e *env, date string, iteration int) (*statusReport, error) {
	if date == "" {
		date = e.now().Format(runlog.DateFormat)
	} else if _, err := time.Parse(runlog.DateFormat, date); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("'%s' isn't a date", date),
			"Use the YYYYMMDD form, like 20240511")
	}

	store := e.logStore()
	fc := e.coordinator(nil)
	report := &statusReport{
		Date:       date,
		Folder:     store.LastFolder(date, iteration),
		Locks:      []string{},
		Flags:      []flagStatus{},
		MaxRetries: fc.MaxRetries(),
	}

	if report.Folder != "" {
		counts, err := store.Count(report.Folder)
		if err != nil {
			return nil, err
		}
		report.Success, report.Error = counts.Success, counts.Error
		report.Finished = store.IsFinished(report.Folder)
	}

	locks, err := fc.Locks()
	if err != nil {
		return nil, err
	}
	if locks != nil {
		report.Locks = locks
	}

	entries, err := fc.Entries()
	if err != nil {
		return nil, err
	}
	for _, en := range entries {
		report.Flags = append(report.Flags, flagStatus{
			Site:    en.SiteID,
			Counter: en.Counter,
			Raw:     en.Raw,
			Locked:  en.Locked,
		})
	}
	return report, nil
}

func renderStatus(w io.Writer, r *statusReport) {
	headerStyle := lipgloss.NewStyle().Bold(true)
	successStyle := lipgloss.NewStyle().Foreground(ui.ColorSuccess)
	errorStyle := lipgloss.NewStyle().Foreground(ui.ColorError)
	warnStyle := lipgloss.NewStyle().Foreground(ui.ColorWarning)
	mutedStyle := lipgloss.NewStyle().Foreground(ui.ColorMuted)

	fmt.Fprintln(w, headerStyle.Render("Post deployment tasks"))
	if r.Folder == "" {
		fmt.Fprintf(w, "  %s\n", mutedStyle.Render("No log folder for "+r.Date))
	} else {
		state := "running"
		if r.Finished {
			state = "finished"
		}
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render(filepath.Base(r.Folder)), mutedStyle.Render("("+state+")"))
	}
	fmt.Fprintf(w, "  %s Success logs: %d\n", successStyle.Render(ui.SymbolSuccess), r.Success)
	fmt.Fprintf(w, "  %s Error logs:   %d\n", errorStyle.Render(ui.SymbolFail), r.Error)
	fmt.Fprintf(w, "  %s Locks:        %d\n", warnStyle.Render(ui.SymbolLocked), len(r.Locks))
	fmt.Fprintf(w, "  %s Flags:        %d\n", warnStyle.Render(ui.SymbolPending), len(r.Flags))

	if len(r.Flags) > 0 {
		fmt.Fprintln(w)
		tbl := ui.NewTable("site", "flag", "locked")
		for _, f := range r.Flags {
			locked := ""
			if f.Locked {
				locked = ui.SymbolLocked
			}
			tbl.Append(f.Site, f.Raw, locked)
		}
		_, _ = tbl.WriteTo(w)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, mutedStyle.Render(counterLegend(r.MaxRetries)))
}

// counterLegend explains what the flag values mean for maxRetries.
func counterLegend(maxRetries int) string {
	legend := fmt.Sprintf("Flag values: %d = not started", maxRetries)
	for n := maxRetries - 1; n > 0; n-- {
		legend += fmt.Sprintf(", %d = attempt %d underway or failed", n, maxRetries-n)
	}
	legend += ", 0 = last attempt underway, no flag = done"
	return legend
}

// watchStatus renders the report, then redraws it on every change to the
// flags or logs folders until ctx is done.
func watchStatus(ctx context.Context, e *env, date string, iteration int) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "Can't watch the shared filesystem", "")
	}
	defer watcher.Close()

	dirs := []string{
		flags.Folder(e.cfg.Site.Group, e.cfg.Site.Env, e.cfg.Paths.FlagsRoot),
		runlog.Folder(e.cfg.Site.Group, e.cfg.Site.Env, e.cfg.Paths.LogsRoot),
	}
	watched := 0
	for _, dir := range dirs {
		if ok, _ := afero.DirExists(e.fs, dir); !ok {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			e.log.Warn("Can't watch %s: %v", dir, err)
			continue
		}
		watched++
	}
	if watched == 0 {
		return errors.New(errors.ErrConfig,
			"Neither the flags nor the logs folder exists yet",
			"Run 'acsf-tools set-pending' first, or drop --watch")
	}

	folder := ""
	redraw := func() error {
		report, err := buildStatus(e, date, iteration)
		if err != nil {
			return err
		}
		// Follow the current iteration folder so new entries show up.
		if report.Folder != folder {
			if folder != "" {
				_ = watcher.Remove(folder)
			}
			if report.Folder != "" {
				_ = watcher.Add(report.Folder)
			}
			folder = report.Folder
		}
		if MachineMode() {
			return WriteJSONSuccess(e.stdout, report)
		}
		if ui.IsTerminal() {
			fmt.Fprint(e.stdout, "\033[H\033[2J")
		}
		renderStatus(e.stdout, report)
		return nil
	}

	if err := redraw(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if err := redraw(); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.log.Warn("Watch error: %v", err)
		}
	}
}
