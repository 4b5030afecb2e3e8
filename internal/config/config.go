package config

import (
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration. One immutable value is
// loaded at startup and handed to the harvester; nothing re-reads it later.
type Config struct {
	Site       SiteConfig       `yaml:"site" mapstructure:"site"`
	Session    SessionConfig    `yaml:"session" mapstructure:"session"`
	Harvest    HarvestConfig    `yaml:"harvest" mapstructure:"harvest"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Sync       SyncConfig       `yaml:"sync" mapstructure:"sync"`
	License    LicenseConfig    `yaml:"license" mapstructure:"license"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// SiteConfig identifies the listing site and the search the harvest walks.
type SiteConfig struct {
	// Origin is the scheme+host of the listing site, e.g. "https://jobs.example.com".
	Origin  string `yaml:"origin" mapstructure:"origin"`
	Keyword string `yaml:"keyword" mapstructure:"keyword"`
	Locale  string `yaml:"locale" mapstructure:"locale"`
}

// SessionConfig configures the authenticated HTTP session.
type SessionConfig struct {
	// CookieFile points at a JSON export of session cookies
	// ([{"name","value","domain"}, ...]). Missing or malformed input
	// degrades to an unauthenticated session; it is never fatal.
	CookieFile        string  `yaml:"cookie_file" mapstructure:"cookie_file"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	// RetryMaxAttempts and RetryInitialDelayMs tune the transport retry
	// policy; zero keeps the built-in defaults.
	RetryMaxAttempts    int `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"`
	RetryInitialDelayMs int `yaml:"retry_initial_delay_ms" mapstructure:"retry_initial_delay_ms"`
}

// HarvestConfig bounds the harvest loop.
type HarvestConfig struct {
	// EmptyPageThreshold is how many consecutive empty listing pages mean
	// the listing is exhausted.
	EmptyPageThreshold int `yaml:"empty_page_threshold" mapstructure:"empty_page_threshold"`
	// PerPageCap caps detail candidates taken from one listing page.
	PerPageCap int `yaml:"per_page_cap" mapstructure:"per_page_cap"`
	// MaxPages optionally stops the run after N pages (0 = no limit).
	MaxPages int `yaml:"max_pages" mapstructure:"max_pages"`
}

// StoreConfig configures checkpoint/run-history persistence.
type StoreConfig struct {
	// Driver is one of "file", "sqlite", "postgres".
	Driver string `yaml:"driver" mapstructure:"driver"`
	// StateDir holds the file driver's artifacts.
	StateDir string `yaml:"state_dir" mapstructure:"state_dir"`
	// DatabaseURL is the sqlite path or postgres DSN for the db drivers.
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// SyncConfig holds the CMS backend credentials.
type SyncConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Username    string `yaml:"username" mapstructure:"username"`
	AppPassword string `yaml:"app_password" mapstructure:"app_password"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// LicenseConfig controls the extraction tier decision.
type LicenseConfig struct {
	// Tier forces "full" or "restricted" without calling the validation
	// endpoint. Empty means: validate Key against Endpoint.
	Tier     string `yaml:"tier" mapstructure:"tier"`
	Key      string `yaml:"key" mapstructure:"key"`
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
}

// ServerConfig configures the read-only status API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig tunes the serve command's background alert checks.
type MonitoringConfig struct {
	// WebhookURL receives alert POSTs; empty disables delivery.
	WebhookURL          string `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs   int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours int    `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	// SyncFailureRateThreshold alerts when failed upserts exceed this share
	// of sync attempts within the lookback window.
	SyncFailureRateThreshold float64 `yaml:"sync_failure_rate_threshold" mapstructure:"sync_failure_rate_threshold"`
	// LoginWallStreak alerts when this many consecutive runs ended on the
	// login wall, which almost always means the cookies expired. 0 disables.
	LoginWallStreak int `yaml:"login_wall_streak" mapstructure:"login_wall_streak"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.harvest-cli")

	// Environment
	v.SetEnvPrefix("HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("site.locale", "en")
	v.SetDefault("session.timeout_secs", 30)
	v.SetDefault("session.requests_per_second", 1.0)
	v.SetDefault("harvest.empty_page_threshold", 5)
	v.SetDefault("harvest.per_page_cap", 10)
	v.SetDefault("harvest.max_pages", 0)
	v.SetDefault("store.driver", "file")
	v.SetDefault("store.state_dir", ".harvest-state")
	v.SetDefault("sync.timeout_secs", 20)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.sync_failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.login_wall_streak", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the keys the given mode needs. Modes: "harvest", "serve",
// "status". Problems are accumulated so an operator sees everything wrong
// with one invocation.
func (c *Config) Validate(mode string) error {
	var problems []string

	checkStore := func() {
		switch c.Store.Driver {
		case "file":
			if c.Store.StateDir == "" {
				problems = append(problems, "store.state_dir is required for the file driver")
			}
		case "sqlite", "postgres":
			if c.Store.DatabaseURL == "" {
				problems = append(problems, "store.database_url is required for the "+c.Store.Driver+" driver")
			}
		default:
			problems = append(problems, "store.driver must be one of file, sqlite, postgres")
		}
	}

	switch mode {
	case "harvest":
		if c.Site.Origin == "" {
			problems = append(problems, "site.origin is required")
		} else if u, err := url.Parse(c.Site.Origin); err != nil || !u.IsAbs() || u.Host == "" {
			problems = append(problems, "site.origin must be an absolute http(s) URL")
		}
		if c.Sync.BaseURL == "" {
			problems = append(problems, "sync.base_url is required")
		}
		if c.Harvest.EmptyPageThreshold < 1 {
			problems = append(problems, "harvest.empty_page_threshold must be >= 1")
		}
		if c.Harvest.PerPageCap < 1 || c.Harvest.PerPageCap > 50 {
			problems = append(problems, "harvest.per_page_cap must be between 1 and 50")
		}
		switch c.License.Tier {
		case "", "full", "restricted":
		default:
			problems = append(problems, "license.tier must be empty, full, or restricted")
		}
		checkStore()
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		checkStore()
	case "status":
		checkStore()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
