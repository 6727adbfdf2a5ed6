package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rileyhilliard/acsf-tools/internal/background"
	"github.com/rileyhilliard/acsf-tools/internal/command"
	"github.com/rileyhilliard/acsf-tools/internal/config"
	"github.com/rileyhilliard/acsf-tools/internal/errors"
	"github.com/rileyhilliard/acsf-tools/internal/logger"
	"github.com/rileyhilliard/acsf-tools/internal/metrics"
	"github.com/rileyhilliard/acsf-tools/internal/site"
	"github.com/spf13/cobra"
)

var (
	setPendingSiteFlag    string
	setPendingRetriesFlag int

	runPendingSiteFlag    string
	runPendingURIFlag     string
	runPendingTimeoutFlag string
	runPendingWaitFlag    string
	runPendingScriptFlag  string
	runPendingQueueFlag   string
	runPendingMetricsFlag string
)

var setPendingCmd = &cobra.Command{
	Use:   "set-pending",
	Short: "Queue the post deployment task of a site",
	Long: `Write the site's flag file so the next run-pending picks the site up.
The flag holds the retries left, not counting the attempt in progress.

Examples:
  acsf-tools set-pending --site db123
  acsf-tools set-pending --site db123 --retry-count 5`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		retries := -1
		if cmd.Flags().Changed("retry-count") {
			retries = setPendingRetriesFlag
		}
		return setPendingCommand(e, setPendingSiteFlag, retries)
	},
}

var runPendingCmd = &cobra.Command{
	Use:   "run-pending",
	Short: "Run the post deployment task of a site if one is queued",
	Long: `Run the post deployment script of a site when its flag file says work is
pending. The site is bootstrapped first; a site that can't bootstrap has its
task dropped. When the factory registry can't be read the run aborts and the
task stays queued. A failed script is retried by later runs until the attempts run
out.

Only one run per host executes at a time. A run that can't get the host lock
within --wait exits without touching the site.

Examples:
  acsf-tools run-pending --site db123
  acsf-tools run-pending --site db123 --queue retry
  acsf-tools run-pending --site db123 --script /opt/deploy/post.sh`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		return runPendingCommand(cmd.Context(), e, runPendingOptions{
			Site:        runPendingSiteFlag,
			URI:         runPendingURIFlag,
			Timeout:     runPendingTimeoutFlag,
			Wait:        runPendingWaitFlag,
			Script:      runPendingScriptFlag,
			Queue:       runPendingQueueFlag,
			MetricsFile: runPendingMetricsFlag,
		})
	},
}

func init() {
	setPendingCmd.Flags().StringVar(&setPendingSiteFlag, "site", "", "site ID (database name)")
	setPendingCmd.Flags().IntVar(&setPendingRetriesFlag, "retry-count", 0, "retries allowed after the first attempt (default: background.retries)")
	_ = setPendingCmd.MarkFlagRequired("site")

	runPendingCmd.Flags().StringVar(&runPendingSiteFlag, "site", "", "site ID (database name)")
	runPendingCmd.Flags().StringVar(&runPendingURIFlag, "uri", "", "URI to bootstrap (default: the site's domain from the registry)")
	runPendingCmd.Flags().StringVar(&runPendingTimeoutFlag, "timeout", "", "how long the host lock is held (default: background.timeout)")
	runPendingCmd.Flags().StringVar(&runPendingWaitFlag, "wait", "", "how long to wait for the host lock (default: don't wait)")
	runPendingCmd.Flags().StringVar(&runPendingScriptFlag, "script", "", "post deployment script (default: <docroot>/../scripts/post-deployment.sh)")
	runPendingCmd.Flags().StringVar(&runPendingQueueFlag, "queue", "", "default or retry (default: background.queue)")
	runPendingCmd.Flags().StringVar(&runPendingMetricsFlag, "metrics-file", "", "write Prometheus metrics to this textfile")
	_ = runPendingCmd.MarkFlagRequired("site")

	rootCmd.AddCommand(setPendingCmd)
	rootCmd.AddCommand(runPendingCmd)
}

// setPendingCommand queues siteID. A negative retries uses the configured count.
func setPendingCommand(e *env, siteID string, retries int) error {
	if err := requireSiteID(siteID); err != nil {
		return err
	}
	if retries < 0 {
		retries = e.cfg.Background.Retries
	}

	fc := e.coordinator(nil)
	if err := fc.SetPending(siteID, retries); err != nil {
		return err
	}
	e.log.Info("Post deployment task queued for %s with %d retries (%s)", siteID, retries, fc.Path(siteID))
	return nil
}

type runPendingOptions struct {
	Site        string
	URI         string
	Timeout     string
	Wait        string
	Script      string
	Queue       string
	MetricsFile string
}

func runPendingCommand(ctx context.Context, e *env, opts runPendingOptions) error {
	if err := requireSiteID(opts.Site); err != nil {
		return err
	}

	timeout, err := ParseDuration("timeout", opts.Timeout, e.cfg.Background.Timeout)
	if err != nil {
		return err
	}
	wait, err := ParseDuration("wait", opts.Wait, 0)
	if err != nil {
		return err
	}
	queue := background.Queue(e.cfg.Background.Queue)
	if opts.Queue != "" {
		queue = background.Queue(opts.Queue)
	}
	if queue != background.QueueDefault && queue != background.QueueRetry {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Unknown queue %q", queue),
			"Use --queue default or --queue retry")
	}
	script := e.cfg.Background.Script
	if opts.Script != "" {
		script = opts.Script
	}

	store := e.logStore()
	runner := background.NewRunner(
		e.coordinator(store),
		store,
		runtimeDeps.mutex(e.fs, e.cfg.Paths.MutexDir, wait),
		&siteBootstrapper{env: e, siteID: opts.Site, uri: opts.URI},
		e.launcher,
		background.Settings{
			Group:   e.cfg.Site.Group,
			Env:     e.cfg.Site.Env,
			Script:  script,
			Timeout: timeout,
		},
		background.WithLogger(logger.With(e.log, "background")),
	)

	start := e.now()
	outcome, err := runner.Run(ctx, opts.Site, queue)
	e.log.Debug("Run for %s finished as %s in %s", opts.Site, outcome, e.now().Sub(start).Round(time.Millisecond))

	if opts.MetricsFile != "" {
		rec := metrics.NewRecorder()
		rec.BackgroundRun(outcome.String())
		if werr := rec.WriteTextfile(opts.MetricsFile); werr != nil {
			e.log.Warn("%v", werr)
		}
	}
	return err
}

func requireSiteID(id string) error {
	if id == "" {
		return errors.New(errors.ErrConfig,
			"No site given",
			"Pass the site's database name with --site")
	}
	return nil
}

// siteBootstrapper finds the site's domain in the registry and bootstraps
// it with drush status.
type siteBootstrapper struct {
	env    *env
	siteID string
	uri    string
}

func (b *siteBootstrapper) Bootstrap(ctx context.Context) (background.Runtime, error) {
	uri := b.uri
	if uri == "" {
		s, err := b.lookup(ctx)
		if err != nil {
			return background.Runtime{}, err
		}
		uri = command.DomainSelector{HTTPS: true}.Select(s)
	}

	drush := &background.DrushBootstrapper{
		Launcher: b.env.launcher,
		Binary:   b.env.cfg.Drush.Binary,
		Docroot:  config.Expand(b.env.cfg.Paths.Docroot, b.env.cfg.Vars()),
		URI:      uri,
	}
	return drush.Bootstrap(ctx)
}

// lookup finds the site in the registry. A registry that can't be read is
// reported as ErrRegistry so the pending task survives the outage.
func (b *siteBootstrapper) lookup(ctx context.Context) (*site.Site, error) {
	reg, err := b.env.registry()
	if err != nil {
		return nil, err
	}
	sites, err := reg.Load(ctx)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrRegistry,
			fmt.Sprintf("Can't read the factory registry to find %s", b.siteID),
			"Run again once the registry is reachable, or pass the site's URI with --uri")
	}
	for _, s := range sites {
		if s.DBName == b.siteID {
			return s, nil
		}
	}
	return nil, errors.New(errors.ErrBootstrap,
		fmt.Sprintf("Site %s isn't in the factory registry", b.siteID),
		"Pass the site's URI with --uri")
}
