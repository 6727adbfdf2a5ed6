package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/rileyhilliard/acsf-tools/internal/errors"
	"github.com/rileyhilliard/acsf-tools/internal/site"
	"github.com/rileyhilliard/acsf-tools/internal/ui"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// siteFields are the attributes `list --fields` can show.
var siteFields = []string{"name", "id", "db_name", "domains", "preferred_domain", "machine_name", "available"}

var (
	listFieldsFlag string
	listFormatFlag string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the sites of the factory",
	Long: `List every site of the factory with the selected attributes.

Examples:
  acsf-tools list
  acsf-tools list --fields name,domains
  acsf-tools list --format yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		return listCommand(cmd.Context(), e, listFieldsFlag, listFormatFlag)
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show ID, name, database and domain of every site",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		return infoCommand(cmd.Context(), e)
	},
}

func init() {
	listCmd.Flags().StringVar(&listFieldsFlag, "fields", "name,domains", "comma-separated attributes: "+strings.Join(siteFields, ", "))
	listCmd.Flags().StringVar(&listFormatFlag, "format", "table", "output format: table, yaml or json")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(infoCmd)
}

func listCommand(ctx context.Context, e *env, fieldsFlag, format string) error {
	fields, err := parseFields(fieldsFlag)
	if err != nil {
		return err
	}

	sites, err := e.sites(ctx)
	if err != nil {
		return err
	}
	if len(sites) == 0 {
		fmt.Fprintln(e.stdout, "No sites found.")
		return nil
	}

	switch format {
	case "table", "":
		tbl := ui.NewTable(append([]string{"prefix"}, fields...)...)
		for _, s := range sites {
			row := []any{s.Prefix()}
			for _, f := range fields {
				row = append(row, siteField(s, f))
			}
			tbl.Append(row...)
		}
		_, err = tbl.WriteTo(e.stdout)
		return err
	case "yaml":
		return yaml.NewEncoder(e.stdout).Encode(siteMaps(sites, fields))
	case "json":
		enc := json.NewEncoder(e.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(siteMaps(sites, fields))
	default:
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Unknown format %q", format),
			"Use table, yaml or json")
	}
}

func infoCommand(ctx context.Context, e *env) error {
	sites, err := e.sites(ctx)
	if err != nil {
		return err
	}
	renderInfo(e.stdout, sites)
	return nil
}

func renderInfo(w io.Writer, sites []*site.Site) {
	if len(sites) == 0 {
		fmt.Fprintln(w, "No sites found.")
		return
	}
	tbl := ui.NewTable("id", "name", "db name", "domain")
	for _, s := range sites {
		domain := ""
		if len(s.Domains) > 0 {
			domain = s.Domains[0]
		}
		tbl.Append(s.ID, s.Name, s.DBName, domain)
	}
	tbl.Footer("", fmt.Sprintf("%d sites", len(sites)), "", "")
	_, _ = tbl.WriteTo(w)
}

func parseFields(raw string) ([]string, error) {
	var fields []string
	for _, f := range strings.Split(raw, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if !slices.Contains(siteFields, f) {
			return nil, errors.New(errors.ErrConfig,
				fmt.Sprintf("Unknown field %q", f),
				"Available fields: "+strings.Join(siteFields, ", "))
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func siteField(s *site.Site, field string) any {
	switch field {
	case "name":
		return s.Name
	case "id":
		return s.ID
	case "db_name":
		return s.DBName
	case "domains":
		return strings.Join(s.Domains, "\n")
	case "preferred_domain":
		return s.PreferredDomain
	case "machine_name":
		return s.MachineName
	case "available":
		return site.IsAvailable(s)
	}
	return ""
}

// siteMaps keys each site by its prefix with the selected fields.
func siteMaps(sites []*site.Site, fields []string) map[string]map[string]any {
	out := make(map[string]map[string]any, len(sites))
	for _, s := range sites {
		m := make(map[string]any, len(fields))
		for _, f := range fields {
			if f == "domains" {
				m[f] = s.Domains
				continue
			}
			m[f] = siteField(s, f)
		}
		out[s.Prefix()] = m
	}
	return out
}
