package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/rileyhilliard/acsf-tools/internal/command"
	"github.com/rileyhilliard/acsf-tools/internal/errors"
	"github.com/rileyhilliard/acsf-tools/internal/fanout"
	"github.com/rileyhilliard/acsf-tools/internal/site"
	"github.com/rileyhilliard/acsf-tools/internal/ui"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	dumpFlags         SweepFlags
	dumpFolderFlag    string
	dumpGzipFlag      bool
	dumpYesFlag       bool
	restoreFlags      SweepFlags
	restoreFolderFlag string
	restoreGzipFlag   bool
	restoreYesFlag    bool
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the database of every site",
	Long: `Run drush sql-dump on every site, one at a time, writing
<result-folder>/<prefix>.sql where prefix is the first label of the site's
first domain.

Examples:
  acsf-tools dump --result-folder /mnt/tmp/backups
  acsf-tools dump --result-folder /mnt/tmp/backups --gzip --yes`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		return dumpCommand(cmd.Context(), e, dumpFolderFlag, dumpGzipFlag, dumpYesFlag, dumpFlags)
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore the database of every site from a dump folder",
	Long: `Drop and restore the database of every site from
<source-folder>/<prefix>.sql (or .sql.gz with --gzip). Sites without a dump
are skipped and their database is left untouched.

Examples:
  acsf-tools restore --source-folder /mnt/tmp/backups
  acsf-tools restore --source-folder /mnt/tmp/backups --gzip --yes`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		return restoreCommand(cmd.Context(), e, restoreFolderFlag, restoreGzipFlag, restoreYesFlag, restoreFlags)
	},
}

func init() {
	AddSweepFlags(dumpCmd, &dumpFlags)
	dumpCmd.Flags().StringVar(&dumpFolderFlag, "result-folder", "", "folder the dumps are written to (required)")
	dumpCmd.Flags().BoolVar(&dumpGzipFlag, "gzip", false, "compress the dumps")
	dumpCmd.Flags().BoolVarP(&dumpYesFlag, "yes", "y", false, "don't ask for confirmation")
	_ = dumpCmd.MarkFlagRequired("result-folder")

	AddSweepFlags(restoreCmd, &restoreFlags)
	restoreCmd.Flags().StringVar(&restoreFolderFlag, "source-folder", "", "folder holding the dumps (required)")
	restoreCmd.Flags().BoolVar(&restoreGzipFlag, "gzip", false, "the dumps are gzip compressed")
	restoreCmd.Flags().BoolVarP(&restoreYesFlag, "yes", "y", false, "don't ask for confirmation")
	_ = restoreCmd.MarkFlagRequired("source-folder")

	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(restoreCmd)
}

func dumpCommand(ctx context.Context, e *env, folder string, gzipped, yes bool, flags SweepFlags) error {
	if err := e.fs.MkdirAll(folder, 0o755); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Can't create result folder %s", folder),
			"Check that the parent folder exists and is writable")
	}

	ok, err := ui.Confirm(
		fmt.Sprintf("Dump every site's database to %s?", folder),
		"Existing dumps with the same name are overwritten.",
		yes)
	if err != nil || !ok {
		return err
	}

	preparer := newPreparer(e, flags)
	sites, err := e.sites(ctx)
	if err != nil {
		return err
	}

	_, err = runSweep(ctx, e, sites, func(s *site.Site) (*command.Spec, error) {
		opts := map[string]string{"result-file": dumpPath(folder, s, false)}
		if gzipped {
			opts["gzip"] = ""
		}
		return preparer.Prepare(s, command.Template{Command: "sql-dump", Options: opts})
	}, sweep{
		Title:       "Database dump",
		Command:     "sql-dump",
		Output:      flags.Output,
		MetricsFile: flags.MetricsFile,
		Policy:      fanout.SequentialPolicy(e.cfg.Fanout),
	})
	return err
}

func restoreCommand(ctx context.Context, e *env, folder string, gzipped, yes bool, flags SweepFlags) error {
	if exists, _ := afero.DirExists(e.fs, folder); !exists {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Source folder %s doesn't exist", folder),
			"Pass the folder a previous 'acsf-tools dump' wrote to")
	}

	ok, err := ui.Confirm(
		fmt.Sprintf("Replace every site's database with the dumps in %s?", folder),
		"Each database is dropped before its dump is loaded. This can't be undone.",
		yes)
	if err != nil || !ok {
		return err
	}

	preparer := newPreparer(e, flags)
	sites, err := e.sites(ctx)
	if err != nil {
		return err
	}

	// Only load dumps into databases that were dropped cleanly.
	var mu sync.Mutex
	dropped := make(map[string]bool)

	policy := fanout.SequentialPolicy(e.cfg.Fanout)
	_, err = runSweep(ctx, e, sites, func(s *site.Site) (*command.Spec, error) {
		if err := requireDump(e.fs, folder, s, gzipped); err != nil {
			return nil, err
		}
		return preparer.Prepare(s, command.Template{Command: "sql-drop", Options: map[string]string{"yes": ""}})
	}, sweep{
		Title:       "Database drop",
		Command:     "sql-drop",
		Output:      flags.Output,
		MetricsFile: flags.MetricsFile,
		Policy:      policy,
		Observers: []fanout.Observer{func(u fanout.UnitResult) {
			if u.Status == fanout.StatusSucceeded {
				mu.Lock()
				dropped[u.Name()] = true
				mu.Unlock()
			}
		}},
	})
	if err != nil {
		return err
	}

	_, err = runSweep(ctx, e, sites, func(s *site.Site) (*command.Spec, error) {
		mu.Lock()
		ok := dropped[s.Name]
		mu.Unlock()
		if !ok {
			return nil, &command.SkipError{Site: s.Name, Reason: "database was not dropped"}
		}

		spec, err := preparer.Prepare(s, command.Template{Command: "sql-cli"})
		if err != nil {
			return nil, err
		}
		spec.Input = dumpReader(e.fs, dumpPath(folder, s, gzipped), gzipped)
		return spec, nil
	}, sweep{
		Title:       "Database restore",
		Command:     "sql-cli",
		Output:      flags.Output,
		MetricsFile: flags.MetricsFile,
		Policy:      policy,
	})
	return err
}

// dumpPath is <folder>/<prefix>.sql, with .gz appended for compressed dumps.
func dumpPath(folder string, s *site.Site, gzipped bool) string {
	name := s.Prefix() + ".sql"
	if gzipped {
		name += ".gz"
	}
	return filepath.Join(folder, name)
}

func requireDump(fs afero.Fs, folder string, s *site.Site, gzipped bool) error {
	path := dumpPath(folder, s, gzipped)
	if exists, _ := afero.Exists(fs, path); !exists {
		return &command.SkipError{Site: s.Name, Reason: "no dump at " + path}
	}
	return nil
}

// dumpReader opens path for a subprocess' stdin, decompressing it when
// gzipped.
func dumpReader(fs afero.Fs, path string, gzipped bool) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		f, err := fs.Open(path)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrExec,
				fmt.Sprintf("Can't open dump %s", path), "")
		}
		if !gzipped {
			return f, nil
		}
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, errors.WrapWithCode(err, errors.ErrExec,
				fmt.Sprintf("%s isn't a gzip file", path),
				"Drop --gzip to restore plain .sql dumps")
		}
		return &gzipFile{Reader: zr, file: f}, nil
	}
}

// gzipFile closes both the decompressor and the file under it.
type gzipFile struct {
	*gzip.Reader
	file afero.File
}

func (g *gzipFile) Close() error {
	err := g.Reader.Close()
	if cerr := g.file.Close(); err == nil {
		err = cerr
	}
	return err
}
