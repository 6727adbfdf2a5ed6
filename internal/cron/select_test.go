package cron

import (
	"testing"

	"github.com/rileyhilliard/acsf-tools/internal/command"
	"github.com/rileyhilliard/acsf-tools/internal/errors"
	"github.com/rileyhilliard/acsf-tools/internal/site"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSites() []*site.Site {
	restricted := &site.Site{Name: "locked", Domains: []string{"locked.example.com"}, PreferredDomain: "locked.example.com"}
	restricted.Flags.AccessRestricted.Enabled = true
	moving := &site.Site{Name: "moving", Domains: []string{"moving.example.com"}, PreferredDomain: "moving.example.com"}
	moving.Flags.Operation = "move"

	return []*site.Site{
		{Name: "zeta", Domains: []string{"zeta.grp.acsitefactory.com", "zeta.example.com"}, PreferredDomain: "zeta.example.com"},
		{Name: "alpha", Domains: []string{"alpha.grp.acsitefactory.com", "www.alpha.org"}, PreferredDomain: "www.alpha.org"},
		{Name: "mid", Domains: []string{"mid.grp.acsitefactory.com", "mid.example.com", "m2.example.com"}},
		restricted,
		moving,
	}
}

func TestFilter_Validate(t *testing.T) {
	tests := []struct {
		name    string
		filter  Filter
		wantErr bool
	}{
		{"suffix", Filter{DomainSuffix: ".example.com"}, false},
		{"preferred", Filter{DomainFilter: "preferred"}, false},
		{"nothing", Filter{}, true},
		{"unknown filter", Filter{DomainFilter: "custom"}, true},
		{"negative limit", Filter{DomainSuffix: ".x", Limit: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.filter.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsCode(err, errors.ErrConfig))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSelect_BySuffix(t *testing.T) {
	p := Select(testSites(), Filter{DomainSuffix: ".acsitefactory.com"})

	assert.Equal(t, []string{
		"alpha.grp.acsitefactory.com",
		"mid.grp.acsitefactory.com",
		"zeta.grp.acsitefactory.com",
	}, p.Domains())
}

func TestSelect_FirstMatchingDomainPerSite(t *testing.T) {
	p := Select(testSites(), Filter{DomainSuffix: ".example.com"})

	assert.Equal(t, []string{"mid.example.com", "zeta.example.com"}, p.Domains(),
		"one domain per site, unavailable sites left out")
}

func TestSelect_Preferred(t *testing.T) {
	p := Select(testSites(), Filter{DomainFilter: FilterPreferred})

	assert.Equal(t, []string{"www.alpha.org", "zeta.example.com"}, p.Domains())
}

func TestSelect_Partition(t *testing.T) {
	filter := Filter{DomainSuffix: ".acsitefactory.com", Limit: 2}

	filter.Page = 1
	assert.Equal(t, []string{"alpha.grp.acsitefactory.com", "mid.grp.acsitefactory.com"}, Select(testSites(), filter).Domains())

	filter.Page = 2
	assert.Equal(t, []string{"zeta.grp.acsitefactory.com"}, Select(testSites(), filter).Domains())

	filter.Page = 3
	assert.Empty(t, Select(testSites(), filter).Sites)

	filter.Page = 0
	assert.Len(t, Select(testSites(), filter).Sites, 2, "no page means the first partition")
}

func TestSelect_Duplicates(t *testing.T) {
	sites := testSites()
	sites = append(sites, sites[0])

	p := Select(sites, Filter{DomainSuffix: ".acsitefactory.com"})
	assert.Len(t, p.Sites, 3)
}

func TestPlan_Prepare(t *testing.T) {
	sites := testSites()
	p := Select(sites, Filter{DomainFilter: FilterPreferred})
	prepare := p.Prepare("", "/var/www/html/grp.01live/docroot", "cron")

	spec, err := prepare(sites[1])
	require.NoError(t, err)
	assert.Equal(t, "https://www.alpha.org", spec.Domain)
	assert.Equal(t,
		"drush -r /var/www/html/grp.01live/docroot -l https://www.alpha.org cron",
		spec.String())

	_, err = prepare(sites[2])
	assert.True(t, command.IsSkip(err), "sites outside the plan are skipped")
}
