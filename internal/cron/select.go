// Package cron picks the domains a large-scale cron sweep runs on and
// prepares the per-domain cron invocation.
package cron

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rileyhilliard/acsf-tools/internal/command"
	"github.com/rileyhilliard/acsf-tools/internal/errors"
	"github.com/rileyhilliard/acsf-tools/internal/fanout"
	"github.com/rileyhilliard/acsf-tools/internal/site"
)

// FilterPreferred selects each site's preferred domain.
const FilterPreferred = "preferred"

// Filter chooses one domain per site and a partition of the result.
type Filter struct {
	// DomainSuffix picks the first domain ending with it.
	DomainSuffix string
	// DomainFilter, when "preferred", picks the preferred domain.
	DomainFilter string
	// Limit caps the number of domains; 0 means all.
	Limit int
	// Page selects which Limit-sized partition to return, starting at 1.
	Page int
}

// Validate checks that a domain selection was given.
func (f Filter) Validate() error {
	if f.DomainSuffix == "" && f.DomainFilter == "" {
		return errors.New(errors.ErrConfig,
			"Either --domain-suffix or --domain-filter must be provided",
			"Use --domain-suffix=.example.com or --domain-filter=preferred")
	}
	if f.DomainSuffix == "" && f.DomainFilter != FilterPreferred {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Unknown domain filter %q", f.DomainFilter),
			"The only supported filter is 'preferred'")
	}
	if f.Limit < 0 || f.Page < 0 {
		return errors.New(errors.ErrConfig,
			"--limit and --page can't be negative", "")
	}
	return nil
}

// Plan is the ordered set of sites a sweep runs on, with the domain picked
// for each.
type Plan struct {
	Sites   []*site.Site
	domains map[string]string
}

// Select applies f to sites. Unavailable sites are left out, every site
// appears at most once, and the result is sorted by domain before the
// partition is taken.
func Select(sites []*site.Site, f Filter) *Plan {
	type target struct {
		site   *site.Site
		domain string
	}

	seen := make(map[string]bool)
	var targets []target
	for _, s := range sites {
		if !site.IsAvailable(s) || seen[s.Name] {
			continue
		}
		domain := pick(s, f)
		if domain == "" {
			continue
		}
		seen[s.Name] = true
		targets = append(targets, target{site: s, domain: domain})
	}

	sort.SliceStable(targets, func(i, j int) bool { return targets[i].domain < targets[j].domain })

	if f.Limit > 0 {
		offset := 0
		if f.Page > 0 {
			offset = (f.Page - 1) * f.Limit
		}
		if offset >= len(targets) {
			targets = nil
		} else {
			targets = targets[offset:min(offset+f.Limit, len(targets))]
		}
	}

	p := &Plan{domains: make(map[string]string, len(targets))}
	for _, t := range targets {
		p.Sites = append(p.Sites, t.site)
		p.domains[t.site.Name] = t.domain
	}
	return p
}

// Domain returns the domain selected for s.
func (p *Plan) Domain(s *site.Site) string {
	return p.domains[s.Name]
}

// Domains returns the selected domains in sweep order.
func (p *Plan) Domains() []string {
	out := make([]string, 0, len(p.Sites))
	for _, s := range p.Sites {
		out = append(out, p.domains[s.Name])
	}
	return out
}

// Prepare returns the fan-out preparer running `<binary> -r <docroot> -l
// https://<domain> <cmd>` for every planned site.
func (p *Plan) Prepare(binary, docroot, cmd string) fanout.PrepareFunc {
	if binary == "" {
		binary = "drush"
	}
	return func(s *site.Site) (*command.Spec, error) {
		domain, ok := p.domains[s.Name]
		if !ok {
			return nil, &command.SkipError{Site: s.Name, Reason: "not selected for this cron run"}
		}
		return &command.Spec{
			Site:     s,
			Domain:   "https://" + domain,
			Binary:   binary,
			Docroot:  docroot,
			Template: command.Template{Command: cmd},
		}, nil
	}
}

func pick(s *site.Site, f Filter) string {
	if f.DomainSuffix != "" {
		for _, d := range s.Domains {
			if strings.HasSuffix(d, f.DomainSuffix) {
				return d
			}
		}
		return ""
	}
	return s.PreferredDomain
}
