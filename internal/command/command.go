// Package command turns a site and a drush command template into the
// subprocess invocation a sweep runs for that site.
package command

import (
	"fmt"
	"io"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/rileyhilliard/acsf-tools/internal/config"
	"github.com/rileyhilliard/acsf-tools/internal/errors"
	"github.com/rileyhilliard/acsf-tools/internal/logger"
	"github.com/rileyhilliard/acsf-tools/internal/site"
	"github.com/spf13/afero"
)

// installProfile matches an install_profile assignment in a settings file,
// both the PHP array form and the plain variable form.
var installProfile = regexp.MustCompile(`install_profile['"]?\]?\s*=\s*['"]([^'"]+)['"]`)

// Template is the site-independent part of a command.
type Template struct {
	Command string
	Args    []string
	Options map[string]string // option -> value; "" renders as a bare --option
}

// Spec is one prepared unit of work for one site.
type Spec struct {
	Site    *site.Site
	Domain  string
	Binary  string
	Docroot string
	Template

	// Input, when set, opens the data fed to the command's stdin.
	Input func() (io.ReadCloser, error)
}

// Argv renders the invocation: drush -r <docroot> -l <domain> <command> <args> <--options>.
func (s *Spec) Argv() []string {
	argv := []string{s.Binary}
	if s.Docroot != "" {
		argv = append(argv, "-r", s.Docroot)
	}
	argv = append(argv, "-l", s.Domain, s.Command)
	argv = append(argv, s.Args...)

	keys := make([]string, 0, len(s.Options))
	for k := range s.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := s.Options[k]; v != "" {
			argv = append(argv, fmt.Sprintf("--%s=%s", k, v))
		} else {
			argv = append(argv, "--"+k)
		}
	}
	return argv
}

// String renders the invocation for logs.
func (s *Spec) String() string {
	return strings.Join(s.Argv(), " ")
}

// SkipError reports a site that is intentionally not processed.
type SkipError struct {
	Site   string
	Reason string
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("skipping %s: %s", e.Site, e.Reason)
}

// IsSkip reports whether err is a SkipError.
func IsSkip(err error) bool {
	var s *SkipError
	return errors.As(err, &s)
}

// DomainSelector picks the domain a command targets.
type DomainSelector struct {
	// Pattern prefers the first domain containing it.
	Pattern string
	// HTTPS forces an https:// prefix on the selected domain.
	HTTPS bool
}

// Select returns the domain to target, or "" if the site has none.
// Order: first domain containing Pattern, first custom domain, platform domain.
func (d DomainSelector) Select(s *site.Site) string {
	domain := d.pick(s)
	if domain == "" {
		return ""
	}
	if d.HTTPS {
		domain = "https://" + strings.TrimPrefix(strings.TrimPrefix(domain, "https://"), "http://")
	}
	return domain
}

func (d DomainSelector) pick(s *site.Site) string {
	if d.Pattern != "" {
		for _, domain := range s.Domains {
			if strings.Contains(domain, d.Pattern) {
				return domain
			}
		}
	}
	for _, domain := range s.Domains {
		if !site.IsPlatformDomain(domain) {
			return domain
		}
	}
	if p := s.PlatformDomain(); p != "" {
		return p
	}
	if len(s.Domains) > 0 {
		return s.Domains[0]
	}
	return ""
}

// Options configure a Preparer.
type Options struct {
	Binary           string
	Docroot          string
	SettingsTemplate string
	Vars             config.Vars
	Selector         DomainSelector
	// Profiles restricts commands to sites installed with one of these profiles.
	Profiles []string
}

// OptionsFromConfig fills the paths and binary from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	vars := cfg.Vars()
	return Options{
		Binary:           cfg.Drush.Binary,
		Docroot:          config.Expand(cfg.Paths.Docroot, vars),
		SettingsTemplate: cfg.Paths.SettingsTemplate,
		Vars:             vars,
	}
}

// Preparer builds Specs for sites.
type Preparer struct {
	fs   afero.Fs
	opts Options
	log  logger.Logger
}

// NewPreparer creates a Preparer. fs is used for install profile detection.
func NewPreparer(fs afero.Fs, opts Options, log logger.Logger) *Preparer {
	if log == nil {
		log = logger.Noop()
	}
	if opts.Binary == "" {
		opts.Binary = "drush"
	}
	return &Preparer{fs: fs, opts: opts, log: log}
}

// Prepare builds the Spec for s, or returns a SkipError when s must not be
// touched.
func (p *Preparer) Prepare(s *site.Site, tmpl Template) (*Spec, error) {
	if !site.IsAvailable(s) {
		return nil, &SkipError{Site: s.Name, Reason: "site is not available (access restricted or being moved)"}
	}

	domain := p.opts.Selector.Select(s)
	if domain == "" {
		return nil, &SkipError{Site: s.Name, Reason: "site has no domain"}
	}

	if len(p.opts.Profiles) > 0 {
		if profile, ok := p.Profile(s); ok && !slices.Contains(p.opts.Profiles, profile) {
			return nil, &SkipError{
				Site:   s.Name,
				Reason: fmt.Sprintf("install profile %s is not one of %s", profile, strings.Join(p.opts.Profiles, ", ")),
			}
		}
	}

	return &Spec{
		Site:     s,
		Domain:   domain,
		Binary:   p.opts.Binary,
		Docroot:  p.opts.Docroot,
		Template: tmpl,
	}, nil
}

// Profile reads the install profile from the site's settings file.
// ok is false when the file can't be read or names no profile.
func (p *Preparer) Profile(s *site.Site) (profile string, ok bool) {
	if p.opts.SettingsTemplate == "" {
		return "", false
	}

	vars := p.opts.Vars
	vars.DB = s.DBName
	vars.Name = s.Name
	vars.MachineName = s.MachineName
	path := config.Expand(p.opts.SettingsTemplate, vars)

	data, err := afero.ReadFile(p.fs, path)
	if err != nil {
		p.log.Debug("No install profile filter for %s: %v", s.Name, err)
		return "", false
	}

	m := installProfile.FindSubmatch(data)
	if m == nil {
		return "", false
	}
	return string(m[1]), true
}
