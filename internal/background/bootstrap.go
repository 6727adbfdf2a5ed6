package background

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rileyhilliard/acsf-tools/internal/command"
	"github.com/rileyhilliard/acsf-tools/internal/errors"
	"github.com/rileyhilliard/acsf-tools/internal/exec"
)

// DrushBootstrapper bootstraps a site with `drush status` and reads its URI
// and docroot from the JSON report.
type DrushBootstrapper struct {
	Launcher exec.Launcher
	Binary   string
	Docroot  string
	URI      string
}

type drushStatus struct {
	URI       string `json:"uri"`
	Root      string `json:"root"`
	Bootstrap string `json:"bootstrap"`
}

// Bootstrap runs drush status and fails unless the full bootstrap succeeds.
func (b *DrushBootstrapper) Bootstrap(ctx context.Context) (Runtime, error) {
	spec := &command.Spec{
		Domain:  b.URI,
		Binary:  b.Binary,
		Docroot: b.Docroot,
		Template: command.Template{
			Command: "status",
			Options: map[string]string{"format": "json", "fields": "uri,root,bootstrap"},
		},
	}
	if spec.Binary == "" {
		spec.Binary = "drush"
	}

	res := exec.Run(ctx, b.Launcher, exec.Cmd{Argv: spec.Argv()})
	if !res.Success() {
		if err := exec.HandleExecError(res.Argv, string(res.Stderr), res.ExitCode); err != nil {
			return Runtime{}, err
		}
		return Runtime{}, errors.New(errors.ErrBootstrap,
			fmt.Sprintf("drush status failed on %s (exit code %d): %s",
				b.URI, res.ExitCode, strings.TrimSpace(string(res.Stderr))),
			"Run the command by hand to see the full error")
	}

	var st drushStatus
	if err := json.Unmarshal(res.Stdout, &st); err != nil {
		return Runtime{}, errors.WrapWithCode(err, errors.ErrBootstrap,
			"Can't parse drush status output for "+b.URI,
			"Check that drush prints JSON with --format=json")
	}
	if !strings.EqualFold(st.Bootstrap, "Successful") {
		return Runtime{}, errors.New(errors.ErrBootstrap,
			fmt.Sprintf("Drupal did not bootstrap on %s", b.URI),
			"Check the database connection and settings of the site")
	}

	rt := Runtime{URI: st.URI, Root: st.Root}
	if rt.URI == "" {
		rt.URI = b.URI
	}
	if rt.Root == "" {
		rt.Root = b.Docroot
	}
	return rt, nil
}

// StaticBootstrapper returns a fixed runtime, for sites that need no
// bootstrap check.
type StaticBootstrapper Runtime

// Bootstrap returns the runtime unchanged.
func (s StaticBootstrapper) Bootstrap(context.Context) (Runtime, error) {
	return Runtime(s), nil
}
