package cli

import (
	"context"
	"fmt"

	"github.com/rileyhilliard/acsf-tools/internal/errors"
	"github.com/rileyhilliard/acsf-tools/internal/fanout"
	"github.com/rileyhilliard/acsf-tools/internal/logger"
	"github.com/rileyhilliard/acsf-tools/internal/metrics"
	"github.com/rileyhilliard/acsf-tools/internal/site"
)

// sweep describes one fan-out run from the command line.
type sweep struct {
	Title       string
	Command     string // metrics label
	Output      string
	MetricsFile string
	Policy      fanout.Policy
	Observers   []fanout.Observer
	LogPath     string
}

// runSweep runs prepare across sites and prints the summary. Failed sites
// are reported but never turn into an error: the sweep itself succeeded.
func runSweep(ctx context.Context, e *env, sites []*site.Site, prepare fanout.PrepareFunc, s sweep) (*fanout.Result, error) {
	mode, err := fanout.ParseOutputMode(s.Output)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("'%s' isn't an output mode", s.Output),
			"Use verbose, stream or quiet.")
	}

	var recorder *metrics.Recorder
	opts := []fanout.Option{
		fanout.WithOutput(fanout.NewOutputManager(mode, e.stdout)),
		fanout.WithClock(e.now),
	}
	if s.MetricsFile != "" {
		recorder = metrics.NewRecorder()
		opts = append(opts, fanout.WithObserver(recorder.UnitObserver(s.Command)))
	}
	for _, obs := range s.Observers {
		opts = append(opts, fanout.WithObserver(obs))
	}

	if len(sites) == 0 {
		e.log.Warn("No sites found, nothing to do.")
	}

	orch := fanout.NewOrchestrator(e.launcher, logger.With(e.log, "fanout"), opts...)
	result, err := orch.Run(ctx, sites, prepare, s.Policy)
	if err != nil {
		return nil, err
	}

	cfg := fanout.DefaultSummaryConfig()
	if s.Title != "" {
		cfg.Title = s.Title
	}
	cfg.ShowSkipped = mode != fanout.OutputQuiet
	cfg.LogPath = s.LogPath
	fanout.RenderSummaryTo(e.stdout, result, cfg)

	if recorder != nil {
		if err := recorder.WriteTextfile(s.MetricsFile); err != nil {
			e.log.Warn("%v", err)
		}
	}
	return result, nil
}
