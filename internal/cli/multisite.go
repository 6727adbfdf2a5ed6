package cli

import (
	"context"
	"strings"

	"github.com/rileyhilliard/acsf-tools/internal/command"
	"github.com/rileyhilliard/acsf-tools/internal/fanout"
	"github.com/rileyhilliard/acsf-tools/internal/logger"
	"github.com/rileyhilliard/acsf-tools/internal/site"
	"github.com/spf13/cobra"
)

// Command-specific flags
var (
	mlFlags         SweepFlags
	mlDelayFlag     string
	mlTimeLimitFlag string
	mlcFlags        SweepFlags
	mlcConcurrency  int
	mlcPollFlag     string
)

var mlCmd = &cobra.Command{
	Use:   "ml <command> [args...]",
	Short: "Run a drush command on every site, one at a time",
	Long: `Run a drush command on every available site of the factory, one site at a
time, pausing --delay between sites.

With --total-time-limit the whole sweep repeats until the limit is spent,
which suits commands that only do part of their work per run.

Examples:
  acsf-tools ml cr
  acsf-tools ml updb --option y
  acsf-tools ml queue-run my_queue --delay 2s --total-time-limit 10m
  acsf-tools ml st --domain example.com --profiles standard,minimal`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		return mlCommand(cmd.Context(), e, args, mlFlags, mlDelayFlag, mlTimeLimitFlag)
	},
}

var mlcCmd = &cobra.Command{
	Use:   "mlc <command> [args...]",
	Short: "Run a drush command on every site, several at a time",
	Long: `Run a drush command on every available site of the factory in chunks of
--concurrency sites. A chunk finishes completely before the next one starts.
A concurrency of 0 runs every site at once.

Examples:
  acsf-tools mlc cr --concurrency 5
  acsf-tools mlc updb --option y --concurrency 10 --output stream`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		concurrency := -1
		if cmd.Flags().Changed("concurrency") {
			concurrency = mlcConcurrency
		}
		return mlcCommand(cmd.Context(), e, args, mlcFlags, concurrency, mlcPollFlag)
	},
}

func init() {
	AddSweepFlags(mlCmd, &mlFlags)
	mlCmd.Flags().StringVar(&mlDelayFlag, "delay", "", "pause between sites (e.g., 1s, 500ms)")
	mlCmd.Flags().StringVar(&mlTimeLimitFlag, "total-time-limit", "", "repeat the sweep until this much time is spent")

	AddSweepFlags(mlcCmd, &mlcFlags)
	mlcCmd.Flags().IntVar(&mlcConcurrency, "concurrency", 0, "sites per chunk (0 = all at once)")
	mlcCmd.Flags().StringVar(&mlcPollFlag, "poll-interval", "", "how often running sites are checked")

	rootCmd.AddCommand(mlCmd)
	rootCmd.AddCommand(mlcCmd)
}

func mlCommand(ctx context.Context, e *env, args []string, flags SweepFlags, delayFlag, limitFlag string) error {
	cfg := e.cfg.Fanout
	var err error
	if cfg.Delay, err = ParseDuration("delay", delayFlag, cfg.Delay); err != nil {
		return err
	}
	if cfg.TotalTimeLimit, err = ParseDuration("total-time-limit", limitFlag, cfg.TotalTimeLimit); err != nil {
		return err
	}
	return drushSweep(ctx, e, args, flags, fanout.SequentialPolicy(cfg))
}

// mlcCommand runs the chunked sweep. A negative concurrency keeps the
// configured value.
func mlcCommand(ctx context.Context, e *env, args []string, flags SweepFlags, concurrency int, pollFlag string) error {
	cfg := e.cfg.Fanout
	if concurrency >= 0 {
		cfg.Concurrency = concurrency
	}
	var err error
	if cfg.PollInterval, err = ParseDuration("poll-interval", pollFlag, cfg.PollInterval); err != nil {
		return err
	}
	return drushSweep(ctx, e, args, flags, fanout.ConcurrentPolicy(cfg))
}

// drushSweep runs `drush <args> <options>` on every site under policy.
func drushSweep(ctx context.Context, e *env, args []string, flags SweepFlags, policy fanout.Policy) error {
	options, err := ParseOptions(flags.Options)
	if err != nil {
		return err
	}

	preparer := newPreparer(e, flags)
	tmpl := command.Template{Command: args[0], Args: args[1:], Options: options}

	sites, err := e.sites(ctx)
	if err != nil {
		return err
	}

	e.log.Info("Running drush %s on %d sites (%s)", strings.Join(args, " "), len(sites), policy.Mode)
	_, err = runSweep(ctx, e, sites, func(s *site.Site) (*command.Spec, error) {
		return preparer.Prepare(s, tmpl)
	}, sweep{
		Title:       "drush " + args[0],
		Command:     args[0],
		Output:      flags.Output,
		MetricsFile: flags.MetricsFile,
		Policy:      policy,
	})
	return err
}

func newPreparer(e *env, flags SweepFlags) *command.Preparer {
	opts := command.OptionsFromConfig(e.cfg)
	opts.Selector = command.DomainSelector{Pattern: flags.Domain, HTTPS: flags.HTTPS}
	opts.Profiles = flags.Profiles
	return command.NewPreparer(e.fs, opts, logger.With(e.log, "prepare"))
}
