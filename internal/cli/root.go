package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/rileyhilliard/acsf-tools/internal/errors"
	"github.com/rileyhilliard/acsf-tools/internal/logger"
	"github.com/rileyhilliard/acsf-tools/internal/ui"
	"github.com/spf13/cobra"
)

// Global flags
var (
	configFlag  string
	verboseFlag bool
	quietFlag   bool
	noColorFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "acsf-tools",
	Short: "Run commands across every site of a Site Factory",
	Long: `acsf-tools runs drush commands across every site of an Acquia Cloud
Site Factory and tracks post deployment background tasks on the shared
filesystem.

Examples:
  acsf-tools list
  acsf-tools ml cr
  acsf-tools mlc updb --concurrency 5 --option y
  acsf-tools set-pending --site db123
  acsf-tools run-pending --site db123
  acsf-tools cron --domain-filter preferred`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if quietFlag && verboseFlag {
			return errors.New(errors.ErrConfig,
				"--quiet and --verbose cannot be used together",
				"Pick one of them.")
		}
		if noColorFlag || os.Getenv("NO_COLOR") != "" {
			ui.DisableColors()
		}

		level := logger.LevelNormal
		switch {
		case verboseFlag:
			level = logger.LevelVerbose
		case quietFlag:
			level = logger.LevelQuiet
		}
		logger.SetDefault(logger.New(cmd.ErrOrStderr(), level, noColorFlag))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "config file (default: ./acsf-tools.yaml or ~/.config/acsf-tools/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "show debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "only show warnings and errors")
	rootCmd.PersistentFlags().BoolVar(&noColorFlag, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVar(&machineMode, "json", false, "machine-readable JSON output where supported")
}

// Config returns the --config flag value.
func Config() string {
	return configFlag
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if machineMode {
			_ = WriteJSONFromError(os.Stdout, err)
		} else {
			printError(err)
		}
		os.Exit(1)
	}
}

func printError(err error) {
	errStyle := lipgloss.NewStyle().Foreground(ui.ColorError)
	mutedStyle := lipgloss.NewStyle().Foreground(ui.ColorMuted)

	if isUnknownCommandError(err) {
		fmt.Fprintf(os.Stderr, "%s %v\n", errStyle.Render(ui.SymbolFail), err)
		if name := extractUnknownCommand(err); name != "" {
			fmt.Fprintf(os.Stderr, "  %s\n", mutedStyle.Render(
				fmt.Sprintf("'%s' isn't a command. Run 'acsf-tools --help' for the list.", name)))
		}
		return
	}

	var e *errors.Error
	if errors.As(err, &e) {
		fmt.Fprintf(os.Stderr, "%s %s\n", errStyle.Render(ui.SymbolFail), e.Message)
		if e.Cause != nil {
			fmt.Fprintf(os.Stderr, "  %s\n", mutedStyle.Render(e.Cause.Error()))
		}
		if e.Suggestion != "" {
			fmt.Fprintf(os.Stderr, "  %s\n", mutedStyle.Render(e.Suggestion))
		}
		return
	}
	fmt.Fprintf(os.Stderr, "%s %v\n", errStyle.Render(ui.SymbolFail), err)
}

// isUnknownCommandError reports cobra's unknown command and flag errors.
func isUnknownCommandError(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, "unknown command") || strings.HasPrefix(msg, "unknown flag")
}

// extractUnknownCommand pulls the quoted command name out of cobra's error.
func extractUnknownCommand(err error) string {
	msg := err.Error()
	start := strings.Index(msg, `"`)
	if start < 0 {
		return ""
	}
	end := strings.Index(msg[start+1:], `"`)
	if end < 0 {
		return ""
	}
	return msg[start+1 : start+1+end]
}
