// Package cli implements the acsf-tools command-line interface.
//
// Every command is a package-level cobra.Command whose RunE builds an env
// from the loaded config and hands it to a xxxCommand function. The
// functions take the env explicitly so tests can drive them with an
// in-memory filesystem and fake launchers.
//
// # Command Structure
//
// The root command is "acsf-tools" with subcommands for different operations:
//
//	acsf-tools list | info            - Show the factory's sites
//	acsf-tools ml <cmd> [args]        - drush on every site, one at a time
//	acsf-tools mlc <cmd> [args]       - drush on every site, in chunks
//	acsf-tools dump | restore         - Database sweeps
//	acsf-tools cron                   - Rolling-window large-scale cron
//	acsf-tools set-pending --site ID  - Queue a post deployment task
//	acsf-tools run-pending --site ID  - Run a queued post deployment task
//	acsf-tools status | sites-status  - Background task state
//
// # Exit Codes
//
// Sweeps exit 0 even when sites fail; failures are listed in the summary.
// Only errors that stop the command itself, like a broken config or a site
// that can't bootstrap in run-pending, exit non-zero.
//
// # Flag Handling
//
// Global flags (--config, --verbose, --quiet, --no-color, --json) are defined
// on the root command and available to all subcommands. SweepFlags and
// AddSweepFlags give every multi-site command the same --option, --domain,
// --https, --profiles, --output and --metrics-file flags.
package cli
