package cli

import (
	"context"

	"github.com/rileyhilliard/acsf-tools/internal/config"
	"github.com/rileyhilliard/acsf-tools/internal/cron"
	"github.com/rileyhilliard/acsf-tools/internal/fanout"
	"github.com/rileyhilliard/acsf-tools/internal/fanout/logs"
	"github.com/rileyhilliard/acsf-tools/internal/logger"
	"github.com/spf13/cobra"
)

var (
	cronSuffixFlag      string
	cronFilterFlag      string
	cronLimitFlag       int
	cronPageFlag        int
	cronConcurrencyFlag int
	cronSiteTTLFlag     string
	cronMaxRuntimeFlag  string
	cronCommandFlag     string
	cronOutputFlag      string
	cronMetricsFlag     string
)

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Run drush cron on many sites in a rolling window",
	Long: `Run drush cron on one domain per site, keeping --concurrency runs in
flight. A run that frees up a slot is replaced right away. Every run is killed
after --site-ttl, and no new run starts once --max-runtime has passed.

Each finished run is appended to large_scale_cron_<YYYYMMDD>/<HHMMSS>.log in
the logs folder. Yesterday's logs are archived afterwards and logs older than
logs.keep_days are deleted.

Examples:
  acsf-tools cron --domain-filter preferred
  acsf-tools cron --domain-suffix .acsitefactory.com --concurrency 20
  acsf-tools cron --domain-filter preferred --limit 100 --page 2`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		concurrency := 0
		if cmd.Flags().Changed("concurrency") {
			concurrency = cronConcurrencyFlag
		}
		return cronCommand(cmd.Context(), e, cronOptions{
			Filter: cron.Filter{
				DomainSuffix: cronSuffixFlag,
				DomainFilter: cronFilterFlag,
				Limit:        cronLimitFlag,
				Page:         cronPageFlag,
			},
			Concurrency: concurrency,
			SiteTTL:     cronSiteTTLFlag,
			MaxRuntime:  cronMaxRuntimeFlag,
			Command:     cronCommandFlag,
			Output:      cronOutputFlag,
			MetricsFile: cronMetricsFlag,
		})
	},
}

func init() {
	cronCmd.Flags().StringVar(&cronSuffixFlag, "domain-suffix", "", "use each site's first domain ending with this")
	cronCmd.Flags().StringVar(&cronFilterFlag, "domain-filter", "", "'preferred' uses each site's preferred domain")
	cronCmd.Flags().IntVar(&cronLimitFlag, "limit", 0, "only run on this many domains (0 = all)")
	cronCmd.Flags().IntVar(&cronPageFlag, "page", 0, "which --limit sized page of domains to run on, from 1")
	cronCmd.Flags().IntVar(&cronConcurrencyFlag, "concurrency", 0, "runs in flight (default: cron.concurrency)")
	cronCmd.Flags().StringVar(&cronSiteTTLFlag, "site-ttl", "", "kill a run after this long (default: cron.site_ttl)")
	cronCmd.Flags().StringVar(&cronMaxRuntimeFlag, "max-runtime", "", "start no run after this long (default: cron.max_runtime)")
	cronCmd.Flags().StringVar(&cronCommandFlag, "command", "", "drush command to run (default: cron.command)")
	cronCmd.Flags().StringVar(&cronOutputFlag, "output", "quiet", "output mode: verbose, stream or quiet")
	cronCmd.Flags().StringVar(&cronMetricsFlag, "metrics-file", "", "write Prometheus metrics to this textfile")
	rootCmd.AddCommand(cronCmd)
}

type cronOptions struct {
	Filter      cron.Filter
	Concurrency int // 0 keeps the configured value
	SiteTTL     string
	MaxRuntime  string
	Command     string
	Output      string
	MetricsFile string
}

func cronCommand(ctx context.Context, e *env, opts cronOptions) error {
	if err := opts.Filter.Validate(); err != nil {
		return err
	}

	cfg := e.cfg.Cron
	if opts.Concurrency > 0 {
		cfg.Concurrency = opts.Concurrency
	}
	var err error
	if cfg.SiteTTL, err = ParseDuration("site-ttl", opts.SiteTTL, cfg.SiteTTL); err != nil {
		return err
	}
	if cfg.MaxRuntime, err = ParseDuration("max-runtime", opts.MaxRuntime, cfg.MaxRuntime); err != nil {
		return err
	}
	if opts.Command != "" {
		cfg.Command = opts.Command
	}

	sites, err := e.sites(ctx)
	if err != nil {
		return err
	}
	plan := cron.Select(sites, opts.Filter)

	store := e.logStore()
	writer, err := logs.NewLogWriter(e.fs, store.Dir(), e.now(), logger.With(e.log, "cron"))
	if err != nil {
		return err
	}

	e.log.Info("Running drush %s on %d domains, %d at a time", cfg.Command, len(plan.Sites), cfg.Concurrency)
	docroot := config.Expand(e.cfg.Paths.Docroot, e.cfg.Vars())
	_, err = runSweep(ctx, e, plan.Sites, plan.Prepare(e.cfg.Drush.Binary, docroot, cfg.Command), sweep{
		Title:       "Large scale cron",
		Command:     cfg.Command,
		Output:      opts.Output,
		MetricsFile: opts.MetricsFile,
		Policy:      fanout.RollingPolicy(cfg),
		Observers:   []fanout.Observer{writer.Observe},
		LogPath:     writer.Path(),
	})
	if cerr := writer.Close(); cerr != nil {
		e.log.Warn("%v", cerr)
	}
	if err != nil {
		return err
	}

	if err := store.Rotate(e.cfg.Logs.KeepDays); err != nil {
		e.log.Warn("Log rotation failed: %v", err)
	}
	return nil
}
