package config

import "time"

// CurrentConfigVersion is the schema version for the config file.
const CurrentConfigVersion = 1

// Config represents the complete acsf-tools.yaml configuration.
// Everything is resolved once at process entry and handed to constructors.
type Config struct {
	Version    int              `yaml:"version" mapstructure:"version" validate:"gte=0"`
	Site       SiteConfig       `yaml:"site" mapstructure:"site"`
	Paths      PathsConfig      `yaml:"paths" mapstructure:"paths"`
	Drush      DrushConfig      `yaml:"drush" mapstructure:"drush"`
	Background BackgroundConfig `yaml:"background" mapstructure:"background"`
	Fanout     FanoutConfig     `yaml:"fanout" mapstructure:"fanout"`
	Cron       CronConfig       `yaml:"cron" mapstructure:"cron"`
	Logs       LogsConfig       `yaml:"logs" mapstructure:"logs"`
}

// SiteConfig identifies the hosting site group and environment.
// Defaults come from AH_SITE_GROUP and AH_SITE_ENVIRONMENT.
type SiteConfig struct {
	Group string `yaml:"group" mapstructure:"group" validate:"required"`
	Env   string `yaml:"env" mapstructure:"env" validate:"required"`
}

// PathsConfig holds every filesystem location the tool touches.
// Templates may use {group}, {env}, {db}, {name} and {machine_name}.
type PathsConfig struct {
	// FlagsRoot is the root (with trailing slash) under which
	// <group>.<env>/flags/ is created.
	FlagsRoot string `yaml:"flags_root" mapstructure:"flags_root" validate:"required"`

	// LogsRoot is the root (with trailing slash) under which
	// <group>.<env>/logs/ is created.
	LogsRoot string `yaml:"logs_root" mapstructure:"logs_root" validate:"required"`

	// SitesJSON is the factory registry: a local path or ssh://host/path.
	SitesJSON string `yaml:"sites_json" mapstructure:"sites_json" validate:"required"`

	// SitesCache is where a remote sites.json is cached locally.
	SitesCache string `yaml:"sites_cache" mapstructure:"sites_cache"`

	// Docroot is passed to drush -r.
	Docroot string `yaml:"docroot" mapstructure:"docroot"`

	// SettingsTemplate points at the per-site settings file used for
	// install profile detection.
	SettingsTemplate string `yaml:"settings_template" mapstructure:"settings_template"`

	// MutexDir holds the process-wide named mutex files.
	MutexDir string `yaml:"mutex_dir" mapstructure:"mutex_dir" validate:"required"`
}

// DrushConfig controls how per-site commands are launched.
type DrushConfig struct {
	Binary string `yaml:"binary" mapstructure:"binary" validate:"required"`
}

// BackgroundConfig controls the background task runner.
type BackgroundConfig struct {
	// Retries is the initial FlagRecord counter.
	Retries int `yaml:"retries" mapstructure:"retries" validate:"gte=0"`

	// Timeout bounds how long the process mutex is held or waited on.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gte=0"`

	// Script is the external script; empty means <root>/../scripts/post-deployment.sh.
	Script string `yaml:"script" mapstructure:"script"`

	// Queue selects "default" (first attempts) or "retry" (retry after error).
	Queue string `yaml:"queue" mapstructure:"queue" validate:"oneof=default retry"`
}

// FanoutConfig controls the multi-site executor.
type FanoutConfig struct {
	// PollInterval is how often running units are checked in concurrent mode.
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval" validate:"gt=0"`

	// Delay is the pause between units in sequential mode.
	Delay time.Duration `yaml:"delay" mapstructure:"delay" validate:"gte=0"`

	// TotalTimeLimit repeats sequential sweeps until it elapses (0 = one sweep).
	TotalTimeLimit time.Duration `yaml:"total_time_limit" mapstructure:"total_time_limit" validate:"gte=0"`

	// Concurrency is the chunk size in concurrent mode (0 = unbounded).
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency" validate:"gte=0"`
}

// CronConfig controls the large-scale cron rolling window.
type CronConfig struct {
	Concurrency int           `yaml:"concurrency" mapstructure:"concurrency" validate:"gte=1"`
	SiteTTL     time.Duration `yaml:"site_ttl" mapstructure:"site_ttl" validate:"gt=0"`
	MaxRuntime  time.Duration `yaml:"max_runtime" mapstructure:"max_runtime" validate:"gt=0"`
	Heartbeat   time.Duration `yaml:"heartbeat" mapstructure:"heartbeat" validate:"gte=0"`
	Command     string        `yaml:"command" mapstructure:"command" validate:"required"`
}

// LogsConfig controls retention of the iteration and cron log folders.
type LogsConfig struct {
	KeepDays int `yaml:"keep_days" mapstructure:"keep_days" validate:"gte=0"`
}

// DefaultConfig returns a Config with the hosting platform's defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentConfigVersion,
		Paths: PathsConfig{
			FlagsRoot:        "/tmp/gfs/",
			LogsRoot:         "/mnt/gfs/",
			SitesJSON:        "/mnt/files/{group}.{env}/files-private/sites.json",
			SitesCache:       "~/.acsf-tools",
			Docroot:          "/var/www/html/{group}.{env}/docroot",
			SettingsTemplate: "/var/www/site-php/{group}.{env}/d8-{env}-{db}-settings.inc",
			MutexDir:         "/tmp/acsf-tools-locks",
		},
		Drush: DrushConfig{
			Binary: "drush",
		},
		Background: BackgroundConfig{
			Retries: 3,
			Timeout: 1800 * time.Second,
			Queue:   "default",
		},
		Fanout: FanoutConfig{
			PollInterval: 250 * time.Millisecond,
		},
		Cron: CronConfig{
			Concurrency: 10,
			SiteTTL:     10 * time.Minute,
			MaxRuntime:  55 * time.Minute,
			Heartbeat:   time.Second,
			Command:     "cron",
		},
		Logs: LogsConfig{
			KeepDays: 2,
		},
	}
}
