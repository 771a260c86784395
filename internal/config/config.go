package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Remote     RemoteConfig     `yaml:"remote" mapstructure:"remote"`
	Sync       SyncConfig       `yaml:"sync" mapstructure:"sync"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// RemoteConfig describes the FOIA entry site being mirrored.
type RemoteConfig struct {
	BaseURL              string          `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs          int             `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRequestsPerSecond float64         `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second"`
	NotFoundOn404        bool            `yaml:"not_found_on_404" mapstructure:"not_found_on_404"`
	UserAgents           []string        `yaml:"user_agents" mapstructure:"user_agents"`
	Selectors            SelectorsConfig `yaml:"selectors" mapstructure:"selectors"`
}

// SelectorsConfig holds the CSS selectors for the three regions of an entry
// page. They must match the remote markup exactly.
type SelectorsConfig struct {
	Labels      string `yaml:"labels" mapstructure:"labels"`
	Values      string `yaml:"values" mapstructure:"values"`
	Details     string `yaml:"details" mapstructure:"details"`
	DetailLabel string `yaml:"detail_label" mapstructure:"detail_label"`
	DetailValue string `yaml:"detail_value" mapstructure:"detail_value"`
}

// SyncConfig controls the sync strategies.
type SyncConfig struct {
	LatestID            int    `yaml:"latest_id" mapstructure:"latest_id"`
	PaceMinMs           int    `yaml:"pace_min_ms" mapstructure:"pace_min_ms"`
	PaceMaxMs           int    `yaml:"pace_max_ms" mapstructure:"pace_max_ms"`
	RangeTermination    string `yaml:"range_termination" mapstructure:"range_termination"`
	CrawlDriftTolerance int    `yaml:"crawl_drift_tolerance" mapstructure:"crawl_drift_tolerance"`
}

// RetryConfig controls per-identifier fetch retries.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig controls how many consecutive failed iterations abort a run.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// MetricsConfig configures the optional Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// MonitoringConfig configures sync health alerts.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	QueueThreshold       int     `yaml:"queue_threshold" mapstructure:"queue_threshold"`
	StaleHours           int     `yaml:"stale_hours" mapstructure:"stale_hours"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Range termination policies.
const (
	TerminationCount      = "count"
	TerminationExhaustive = "exhaustive"
)

// PaceInterval returns the configured pacing bounds.
func (s SyncConfig) PaceInterval() (time.Duration, time.Duration) {
	return time.Duration(s.PaceMinMs) * time.Millisecond, time.Duration(s.PaceMaxMs) * time.Millisecond
}

// Timeout returns the HTTP client timeout.
func (r RemoteConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSecs) * time.Second
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("WVFOIA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "wvfoia.db")
	v.SetDefault("remote.base_url", "https://erls.wvsos.gov/FOIA_Entry/SearchedEntryDetails")
	v.SetDefault("remote.timeout_secs", 30)
	v.SetDefault("remote.max_requests_per_second", 0)
	v.SetDefault("remote.not_found_on_404", false)
	v.SetDefault("remote.user_agents", []string{})
	v.SetDefault("remote.selectors.labels", ".content-col-label .content-div-var strong")
	v.SetDefault("remote.selectors.values", ".content-col-data .content-div-var")
	v.SetDefault("remote.selectors.details", ".container-requestitems .panel-body")
	v.SetDefault("remote.selectors.detail_label", "strong")
	v.SetDefault("remote.selectors.detail_value", "p")
	v.SetDefault("sync.latest_id", 49166)
	v.SetDefault("sync.pace_min_ms", 1000)
	v.SetDefault("sync.pace_max_ms", 5000)
	v.SetDefault("sync.range_termination", TerminationCount)
	v.SetDefault("sync.crawl_drift_tolerance", 1)
	v.SetDefault("retry.max_attempts", 1)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 60)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.queue_threshold", 100)
	v.SetDefault("monitoring.stale_hours", 48)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "console")

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

// Validate checks the settings every sync command depends on.
func (c *Config) Validate() error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if c.Remote.BaseURL == "" {
		errs = append(errs, "remote.base_url is required")
	}
	if c.Sync.PaceMinMs < 0 || c.Sync.PaceMaxMs < c.Sync.PaceMinMs {
		errs = append(errs, "sync.pace_min_ms must be >= 0 and <= sync.pace_max_ms")
	}
	switch c.Sync.RangeTermination {
	case TerminationCount, TerminationExhaustive:
	default:
		errs = append(errs, "sync.range_termination must be count or exhaustive")
	}
	if c.Sync.CrawlDriftTolerance < 1 {
		errs = append(errs, "sync.crawl_drift_tolerance must be >= 1")
	}
	if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
		errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
	}
	if c.Remote.MaxRequestsPerSecond < 0 {
		errs = append(errs, "remote.max_requests_per_second must be >= 0")
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
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
