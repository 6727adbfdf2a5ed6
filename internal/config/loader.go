package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rileyhilliard/acsf-tools/internal/errors"
	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the default config file name.
	ConfigFileName = "acsf-tools.yaml"
	// GlobalConfigDir is the directory for global config.
	GlobalConfigDir = ".config/acsf-tools"
	// GlobalConfigFile is the global config file name.
	GlobalConfigFile = "config.yaml"
	// EnvPrefix prefixes every overriding environment variable.
	EnvPrefix = "ACSF"
)

// Load reads config from the given path (or the discovered one when empty),
// overlays environment variables and validates the result.
//
// The hosting variables AH_SITE_GROUP and AH_SITE_ENVIRONMENT are read here
// and nowhere else.
func Load(explicit string) (*Config, error) {
	path, err := Find(explicit)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Failed to read config file "+path,
				"Check the file exists and is valid YAML")
		}
	}

	cfg, err := parseConfig(v, path)
	if err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Find locates the config file using the search order:
// 1. Explicit path (from --config flag)
// 2. acsf-tools.yaml in current directory
// 3. ~/.config/acsf-tools/config.yaml
//
// Returns the path to the config file, or empty string if not found.
func Find(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			if os.IsNotExist(err) {
				return "", errors.WrapWithCode(err, errors.ErrConfig,
					"Specified config file not found: "+explicit,
					"Check the path is correct")
			}
			return "", errors.WrapWithCode(err, errors.ErrConfig,
				"Cannot access config file: "+explicit,
				"Check file permissions")
		}
		return explicit, nil
	}

	if cwd, err := os.Getwd(); err == nil {
		local := filepath.Join(cwd, ConfigFileName)
		if _, err := os.Stat(local); err == nil {
			return local, nil
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		global := filepath.Join(home, GlobalConfigDir, GlobalConfigFile)
		if _, err := os.Stat(global); err == nil {
			return global, nil
		}
	}

	return "", nil
}

// parseConfig converts viper config to our Config struct with defaults merged in.
func parseConfig(v *viper.Viper, path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		where := "the environment"
		if path != "" {
			where = path
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid config format",
			"Check the values in "+where)
	}

	cfg.Paths.SitesCache = ExpandTilde(cfg.Paths.SitesCache)
	return cfg, nil
}

// setDefaults mirrors DefaultConfig so viper knows every key (needed for env overrides).
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("version", d.Version)
	v.SetDefault("site.group", "")
	v.SetDefault("site.env", "")
	v.SetDefault("paths.flags_root", d.Paths.FlagsRoot)
	v.SetDefault("paths.logs_root", d.Paths.LogsRoot)
	v.SetDefault("paths.sites_json", d.Paths.SitesJSON)
	v.SetDefault("paths.sites_cache", d.Paths.SitesCache)
	v.SetDefault("paths.docroot", d.Paths.Docroot)
	v.SetDefault("paths.settings_template", d.Paths.SettingsTemplate)
	v.SetDefault("paths.mutex_dir", d.Paths.MutexDir)
	v.SetDefault("drush.binary", d.Drush.Binary)
	v.SetDefault("background.retries", d.Background.Retries)
	v.SetDefault("background.timeout", d.Background.Timeout)
	v.SetDefault("background.script", d.Background.Script)
	v.SetDefault("background.queue", d.Background.Queue)
	v.SetDefault("fanout.poll_interval", d.Fanout.PollInterval)
	v.SetDefault("fanout.delay", d.Fanout.Delay)
	v.SetDefault("fanout.total_time_limit", d.Fanout.TotalTimeLimit)
	v.SetDefault("fanout.concurrency", d.Fanout.Concurrency)
	v.SetDefault("cron.concurrency", d.Cron.Concurrency)
	v.SetDefault("cron.site_ttl", d.Cron.SiteTTL)
	v.SetDefault("cron.max_runtime", d.Cron.MaxRuntime)
	v.SetDefault("cron.heartbeat", d.Cron.Heartbeat)
	v.SetDefault("cron.command", d.Cron.Command)
	v.SetDefault("logs.keep_days", d.Logs.KeepDays)
}

// bindEnv wires ACSF_* overrides plus the hosting platform variables.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("site.group", EnvPrefix+"_SITE_GROUP", "AH_SITE_GROUP")
	_ = v.BindEnv("site.env", EnvPrefix+"_SITE_ENV", "AH_SITE_ENVIRONMENT")
}
