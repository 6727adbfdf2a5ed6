package cli

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/rileyhilliard/acsf-tools/internal/errors"
	"github.com/rileyhilliard/acsf-tools/internal/flags"
	"github.com/rileyhilliard/acsf-tools/internal/runlog"
	"github.com/rileyhilliard/acsf-tools/internal/ui"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// maxStatusReaders bounds concurrent flag reads on the shared filesystem.
const maxStatusReaders = 8

// Task states shown by sites-status.
const (
	stateDone        = "done"
	statePending     = "pending"
	stateRunning     = "running"
	stateRetrying    = "retry pending"
	stateLastAttempt = "last attempt"
)

var sitesStatusCmd = &cobra.Command{
	Use:   "sites-status",
	Short: "Show the post deployment task state of every site",
	Long: `Show, for every site of the factory, its flag counter, whether a run
holds its lock and the outcome of its latest attempt today.

Examples:
  acsf-tools sites-status
  acsf-tools sites-status --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		return sitesStatusCommand(cmd.Context(), e)
	},
}

func init() {
	rootCmd.AddCommand(sitesStatusCmd)
}

// siteStatus is the task state of one site.
type siteStatus struct {
	Site        string `json:"site"`
	Name        string `json:"name,omitempty"`
	Counter     *int   `json:"counter"`
	State       string `json:"state"`
	Locked      bool   `json:"locked"`
	LastOutcome string `json:"last_outcome,omitempty"`
	LastTime    string `json:"last_time,omitempty"`
}

func sitesStatusCommand(ctx context.Context, e *env) error {
	statuses, err := collectSiteStatus(ctx, e)
	if err != nil {
		return err
	}
	if MachineMode() {
		return WriteJSONSuccess(e.stdout, statuses)
	}
	renderSiteStatus(e.stdout, statuses)
	return nil
}

// collectSiteStatus reads the state of every registry site, plus any site
// that has a flag but is missing from the registry.
func collectSiteStatus(ctx context.Context, e *env) ([]siteStatus, error) {
	sites, err := e.sites(ctx)
	if err != nil {
		return nil, err
	}

	store := e.logStore()
	fc := e.coordinator(nil)

	latest, err := store.LatestBySite(store.LastFolder("", -1))
	if err != nil {
		return nil, err
	}

	names := make(map[string]string, len(sites))
	for _, s := range sites {
		if s.DBName != "" {
			names[s.DBName] = s.Name
		}
	}
	entries, err := fc.Entries()
	if err != nil {
		return nil, err
	}
	for _, en := range entries {
		if _, ok := names[en.SiteID]; !ok {
			names[en.SiteID] = ""
		}
	}

	ids := make([]string, 0, len(names))
	for id := range names {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	statuses := make([]siteStatus, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxStatusReaders)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			st, err := readSiteStatus(fc, id)
			if err != nil {
				return err
			}
			st.Name = names[id]
			if en, ok := latest[id]; ok {
				st.LastOutcome = string(en.Kind)
				st.LastTime = en.Time
			}
			statuses[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return statuses, nil
}

func readSiteStatus(fc *flags.Coordinator, id string) (siteStatus, error) {
	st := siteStatus{Site: id, Locked: fc.LockExists(id)}

	n, err := fc.Counter(id)
	switch {
	case err == nil:
		st.Counter = &n
	case errors.Is(err, flags.ErrNoTask):
	default:
		return st, err
	}
	st.State = taskState(st.Counter, st.Locked, fc.MaxRetries())
	return st, nil
}

// taskState names the state of a site's counter. A nil counter means the
// site has no flag.
func taskState(counter *int, locked bool, maxRetries int) string {
	switch {
	case counter == nil:
		return stateDone
	case locked:
		return stateRunning
	case *counter <= 0:
		return stateLastAttempt
	case *counter >= maxRetries:
		return statePending
	default:
		return stateRetrying
	}
}

func renderSiteStatus(w io.Writer, statuses []siteStatus) {
	if len(statuses) == 0 {
		fmt.Fprintln(w, "No sites found.")
		return
	}

	tbl := ui.NewTable("site", "name", "counter", "state", "locked", "last outcome")
	pending := 0
	for _, st := range statuses {
		counter := "-"
		if st.Counter != nil {
			counter = fmt.Sprint(*st.Counter)
			pending++
		}
		locked := ""
		if st.Locked {
			locked = ui.SymbolLocked
		}
		last := ""
		switch runlog.Kind(st.LastOutcome) {
		case runlog.KindSuccess:
			last = ui.SymbolSuccess + " " + st.LastTime
		case runlog.KindError:
			last = ui.SymbolFail + " " + st.LastTime
		}
		tbl.Append(st.Site, st.Name, counter, st.State, locked, last)
	}
	tbl.Footer("", fmt.Sprintf("%d sites", len(statuses)), "", fmt.Sprintf("%d pending", pending), "", "")
	_, _ = tbl.WriteTo(w)
}
