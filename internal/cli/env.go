package cli

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rileyhilliard/acsf-tools/internal/background"
	"github.com/rileyhilliard/acsf-tools/internal/config"
	"github.com/rileyhilliard/acsf-tools/internal/exec"
	"github.com/rileyhilliard/acsf-tools/internal/flags"
	"github.com/rileyhilliard/acsf-tools/internal/lock"
	"github.com/rileyhilliard/acsf-tools/internal/logger"
	"github.com/rileyhilliard/acsf-tools/internal/runlog"
	"github.com/rileyhilliard/acsf-tools/internal/site"
	"github.com/spf13/afero"
)

// deps are the process-level collaborators. Tests replace them with
// in-memory and fake versions.
type deps struct {
	fs       afero.Fs
	launcher exec.Launcher
	mutex    func(fs afero.Fs, dir string, wait time.Duration) background.ProcessMutex
	now      func() time.Time
	stdout   io.Writer
	loadCfg  func(path string) (*config.Config, error)
}

func defaultDeps() deps {
	return deps{
		fs:       afero.NewOsFs(),
		launcher: exec.Local{},
		mutex: func(fs afero.Fs, dir string, wait time.Duration) background.ProcessMutex {
			return lock.NewMutex(fs, dir, lock.WithWait(wait))
		},
		now:     time.Now,
		stdout:  os.Stdout,
		loadCfg: config.Load,
	}
}

var runtimeDeps = defaultDeps()

// env is everything a command needs, built once from the config.
type env struct {
	cfg      *config.Config
	fs       afero.Fs
	log      logger.Logger
	launcher exec.Launcher
	stdout   io.Writer
	now      func() time.Time
}

func newEnv() (*env, error) {
	cfg, err := runtimeDeps.loadCfg(Config())
	if err != nil {
		return nil, err
	}
	return &env{
		cfg:      cfg,
		fs:       runtimeDeps.fs,
		log:      logger.Default(),
		launcher: runtimeDeps.launcher,
		stdout:   runtimeDeps.stdout,
		now:      runtimeDeps.now,
	}, nil
}

// registry returns the site registry configured in paths.sites_json.
func (e *env) registry() (*site.Registry, error) {
	location := config.Expand(e.cfg.Paths.SitesJSON, e.cfg.Vars())
	source, err := site.NewSource(location, e.fs, config.ExpandTilde(e.cfg.Paths.SitesCache))
	if err != nil {
		return nil, err
	}
	return site.NewRegistry(source, logger.With(e.log, "registry")), nil
}

// sites lists the factory's sites; a broken registry yields none.
func (e *env) sites(ctx context.Context) ([]*site.Site, error) {
	reg, err := e.registry()
	if err != nil {
		return nil, err
	}
	return reg.List(ctx), nil
}

// logStore returns the iteration log store of this group and environment.
func (e *env) logStore() *runlog.Store {
	dir := runlog.Folder(e.cfg.Site.Group, e.cfg.Site.Env, e.cfg.Paths.LogsRoot)
	return runlog.New(e.fs, dir,
		runlog.WithClock(e.now),
		runlog.WithLogger(logger.With(e.log, "logs")))
}

// coordinator returns the flag/lock coordinator. When the flags folder
// drains, store's current iteration is finished.
func (e *env) coordinator(store *runlog.Store) *flags.Coordinator {
	dir := flags.Folder(e.cfg.Site.Group, e.cfg.Site.Env, e.cfg.Paths.FlagsRoot)
	opts := []flags.Option{flags.WithLogger(logger.With(e.log, "flags"))}
	if store != nil {
		opts = append(opts, flags.WithOnDrained(store.Finish))
	}
	return flags.New(e.fs, dir, e.cfg.Background.Retries, opts...)
}
