package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/rileyhilliard/acsf-tools/internal/errors"
	"github.com/spf13/cobra"
)

// SweepFlags holds the flags shared by every multi-site command.
type SweepFlags struct {
	Options     []string
	Domain      string
	HTTPS       bool
	Profiles    []string
	Output      string
	MetricsFile string
}

// AddSweepFlags registers --option, --domain, --https, --profiles, --output
// and --metrics-file on a command.
func AddSweepFlags(cmd *cobra.Command, flags *SweepFlags) {
	cmd.Flags().StringArrayVar(&flags.Options, "option", nil, "drush option as name or name=value (repeatable)")
	cmd.Flags().StringVar(&flags.Domain, "domain", "", "prefer the first domain containing this string")
	cmd.Flags().BoolVar(&flags.HTTPS, "https", false, "target https://<domain>")
	cmd.Flags().StringSliceVar(&flags.Profiles, "profiles", nil, "only sites installed with one of these profiles")
	cmd.Flags().StringVar(&flags.Output, "output", "verbose", "output mode: verbose, stream or quiet")
	cmd.Flags().StringVar(&flags.MetricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")
}

// ParseOptions turns repeated name[=value] flags into drush options.
// Leading dashes are dropped so --option=--yes and --option=yes agree.
func ParseOptions(raw []string) (map[string]string, error) {
	opts := make(map[string]string, len(raw))
	for _, r := range raw {
		name, value, _ := strings.Cut(r, "=")
		name = strings.TrimLeft(strings.TrimSpace(name), "-")
		if name == "" {
			return nil, errors.New(errors.ErrConfig,
				fmt.Sprintf("'%s' isn't a valid drush option", r),
				"Use --option name or --option name=value.")
		}
		opts[name] = value
	}
	return opts, nil
}

// ParseDuration parses a duration flag. An empty flag returns fallback.
func ParseDuration(name, flag string, fallback time.Duration) (time.Duration, error) {
	if flag == "" {
		return fallback, nil
	}

	duration, err := time.ParseDuration(flag)
	if err != nil {
		return 0, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("'%s' doesn't look like a valid --%s", flag, name),
			"Try something like 5s, 2m, or 500ms.")
	}
	if duration < 0 {
		return 0, errors.New(errors.ErrConfig,
			fmt.Sprintf("--%s can't be negative", name), "")
	}
	return duration, nil
}
