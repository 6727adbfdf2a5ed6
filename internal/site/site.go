// Package site resolves the tenant sites of a factory from its sites.json
// registry and decides which of them are safe to operate on.
package site

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// platformDomain matches <machine>.<anything>.acsitefactory.com.
var platformDomain = regexp.MustCompile(`^(.*?)\.[^.]*\.acsitefactory\.com$`)

// Site is one tenant of the factory.
type Site struct {
	Name            string   `json:"name" yaml:"name"`
	ID              string   `json:"id,omitempty" yaml:"id,omitempty"`
	DBName          string   `json:"db_name,omitempty" yaml:"db_name,omitempty"`
	Domains         []string `json:"domains" yaml:"domains"`
	PreferredDomain string   `json:"preferred_domain,omitempty" yaml:"preferred_domain,omitempty"`
	MachineName     string   `json:"machine_name,omitempty" yaml:"machine_name,omitempty"`
	Flags           Flags    `json:"flags" yaml:"flags"`
}

// Flags are the runtime flags the registry carries for a site.
type Flags struct {
	AccessRestricted AccessRestricted `json:"access_restricted" yaml:"access_restricted"`
	Operation        string           `json:"operation,omitempty" yaml:"operation,omitempty"`
	PreferredDomain  looseBool        `json:"preferred_domain,omitempty" yaml:"-"`
}

// UnmarshalJSON accepts the empty list the registry writes for sites
// without flags.
func (f *Flags) UnmarshalJSON(data []byte) error {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("[")) {
		*f = Flags{}
		return nil
	}
	type plain Flags
	return json.Unmarshal(data, (*plain)(f))
}

// AccessRestricted is set while an install or another process owns the site.
type AccessRestricted struct {
	Enabled looseBool `json:"enabled" yaml:"enabled"`
}

// Prefix is the first label of the site's first domain.
func (s *Site) Prefix() string {
	if len(s.Domains) == 0 {
		return s.Name
	}
	return strings.SplitN(s.Domains[0], ".", 2)[0]
}

// PlatformDomain returns the factory-provided domain, or "" if none is known.
func (s *Site) PlatformDomain() string {
	for _, d := range s.Domains {
		if IsPlatformDomain(d) {
			return d
		}
	}
	return ""
}

// IsPlatformDomain reports whether domain is a factory-provided domain.
func IsPlatformDomain(domain string) bool {
	return platformDomain.MatchString(strings.TrimSuffix(domain, "/"))
}

// IsAvailable reports whether a site can be operated on. Sites whose access
// is restricted or whose data is being moved are not.
func IsAvailable(s *Site) bool {
	if s == nil {
		return false
	}
	if s.Flags.AccessRestricted.Enabled {
		return false
	}
	return s.Flags.Operation != "move"
}

// entry is one domain record of sites.json.
type entry struct {
	Name  string `json:"name"`
	Flags Flags  `json:"flags"`
	Conf  struct {
		SiteID looseString `json:"gardens_site_id"`
		DBName looseString `json:"gardens_db_name"`
	} `json:"conf"`
}

// Parse reads a sites.json document. Domain records belonging to the same
// site name are merged into one Site, keeping the registry's order.
func Parse(data []byte) ([]*Site, error) {
	var doc struct {
		Sites json.RawMessage `json:"sites"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid sites.json: %w", err)
	}
	if len(doc.Sites) == 0 || string(doc.Sites) == "null" {
		return nil, fmt.Errorf("sites.json has no sites list")
	}

	dec := json.NewDecoder(bytes.NewReader(doc.Sites))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, fmt.Errorf("sites.json sites must be an object")
	}

	byName := make(map[string]*Site)
	var sites []*Site

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("invalid sites.json: %w", err)
		}
		domain, _ := tok.(string)

		var e entry
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("invalid sites.json record %q: %w", domain, err)
		}

		s, ok := byName[e.Name]
		if !ok {
			s = &Site{
				Name:   e.Name,
				ID:     string(e.Conf.SiteID),
				DBName: string(e.Conf.DBName),
				Flags:  e.Flags,
			}
			byName[e.Name] = s
			sites = append(sites, s)
		}

		// Path domains need a trailing slash to be addressable
		if strings.Contains(domain, "/") {
			domain = strings.TrimRight(domain, "/") + "/"
		}
		s.Domains = append(s.Domains, domain)

		if m := platformDomain.FindStringSubmatch(strings.TrimSuffix(domain, "/")); m != nil {
			s.MachineName = m[1]
		}
		if e.Flags.PreferredDomain && s.PreferredDomain == "" {
			s.PreferredDomain = domain
		}
	}

	return sites, nil
}

// SortByName orders sites alphabetically by name.
func SortByName(sites []*Site) {
	sort.SliceStable(sites, func(i, j int) bool { return sites[i].Name < sites[j].Name })
}

// looseBool decodes the loosely typed flags of sites.json: true, 1 and "1"
// are true.
type looseBool bool

func (b *looseBool) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(data), `"`) {
	case "true", "1":
		*b = true
	default:
		*b = false
	}
	return nil
}

// looseString decodes a JSON string or number into its text.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = looseString(str)
		return nil
	}
	if string(data) == "null" {
		*s = ""
		return nil
	}
	if _, err := strconv.ParseFloat(string(data), 64); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*s = looseString(data)
	return nil
}
