package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Tracker    TrackerConfig    `yaml:"tracker" mapstructure:"tracker"`
	Model      ModelConfig      `yaml:"model" mapstructure:"model"`
	Thresholds ThresholdConfig  `yaml:"thresholds" mapstructure:"thresholds"`
	Engine     EngineConfig     `yaml:"engine" mapstructure:"engine"`
	Registry   RegistryConfig   `yaml:"registry" mapstructure:"registry"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// TrackerConfig configures the behavior tracker.
type TrackerConfig struct {
	RetentionMins   int `yaml:"retention_mins" mapstructure:"retention_mins"`
	HistoryLimit    int `yaml:"history_limit" mapstructure:"history_limit"`
	MaxEdgesPerNode int `yaml:"max_edges_per_node" mapstructure:"max_edges_per_node"`
	TopK            int `yaml:"top_k" mapstructure:"top_k"`
	RecentWindow    int `yaml:"recent_window" mapstructure:"recent_window"`
	PriorWindow     int `yaml:"prior_window" mapstructure:"prior_window"`
}

// Retention returns the history retention window.
func (c TrackerConfig) Retention() time.Duration {
	return time.Duration(c.RetentionMins) * time.Minute
}

// ModelConfig configures the transition model and prediction strategies.
type ModelConfig struct {
	LearningRate    float64 `yaml:"learning_rate" mapstructure:"learning_rate"`
	ContextWindow   int     `yaml:"context_window" mapstructure:"context_window"`
	ExclusionWindow int     `yaml:"exclusion_window" mapstructure:"exclusion_window"`
	DefaultStrategy string  `yaml:"default_strategy" mapstructure:"default_strategy"`
}

// ThresholdConfig sets the initial priority thresholds and warm-up length.
type ThresholdConfig struct {
	High           float64 `yaml:"high" mapstructure:"high"`
	Medium         float64 `yaml:"medium" mapstructure:"medium"`
	Low            float64 `yaml:"low" mapstructure:"low"`
	WarmupOutcomes int     `yaml:"warmup_outcomes" mapstructure:"warmup_outcomes"`
}

// EngineConfig configures the session manager.
type EngineConfig struct {
	SharedModel       bool `yaml:"shared_model" mapstructure:"shared_model"`
	IdleTimeoutMins   int  `yaml:"idle_timeout_mins" mapstructure:"idle_timeout_mins"`
	SweepIntervalSecs int  `yaml:"sweep_interval_secs" mapstructure:"sweep_interval_secs"`
	PersistOnEvict    bool `yaml:"persist_on_evict" mapstructure:"persist_on_evict"`
}

// RegistryConfig lists the loadable components known to the host.
type RegistryConfig struct {
	Components []string `yaml:"components" mapstructure:"components"`
}

// StoreConfig configures the session state store.
type StoreConfig struct {
	Driver        string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL   string `yaml:"database_url" mapstructure:"database_url"`
	RetentionDays int    `yaml:"retention_days" mapstructure:"retention_days"`
	MaxConns      int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns      int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ResilienceConfig configures retries and the circuit breaker around store
// writes.
type ResilienceConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	FailureThreshold int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int     `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RateLimit      float64  `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst      int      `yaml:"rate_burst" mapstructure:"rate_burst"`
	// TrustProxy takes the client address from X-Forwarded-For/X-Real-IP.
	// Enable only behind a proxy that overwrites those headers.
	TrustProxy bool `yaml:"trust_proxy" mapstructure:"trust_proxy"`
}

// MonitoringConfig configures accuracy alerting.
type MonitoringConfig struct {
	Enabled           bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL        string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	MinAccuracy       float64 `yaml:"min_accuracy" mapstructure:"min_accuracy"`
	MinOutcomes       int     `yaml:"min_outcomes" mapstructure:"min_outcomes"`
	MaxWarningRate    float64 `yaml:"max_warning_rate" mapstructure:"max_warning_rate"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("tracker.retention_mins", 30)
	v.SetDefault("tracker.history_limit", 1000)
	v.SetDefault("tracker.max_edges_per_node", 50)
	v.SetDefault("tracker.top_k", 5)
	v.SetDefault("tracker.recent_window", 10)
	v.SetDefault("tracker.prior_window", 5)
	v.SetDefault("model.learning_rate", 0.03)
	v.SetDefault("model.context_window", 3)
	v.SetDefault("model.exclusion_window", 3)
	v.SetDefault("model.default_strategy", "probabilistic")
	v.SetDefault("thresholds.high", 0.75)
	v.SetDefault("thresholds.medium", 0.40)
	v.SetDefault("thresholds.low", 0.20)
	v.SetDefault("thresholds.warmup_outcomes", 50)
	v.SetDefault("engine.shared_model", false)
	v.SetDefault("engine.idle_timeout_mins", 60)
	v.SetDefault("engine.sweep_interval_secs", 60)
	v.SetDefault("engine.persist_on_evict", true)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "prefetch.db")
	v.SetDefault("store.retention_days", 30)
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.initial_backoff_ms", 200)
	v.SetDefault("resilience.max_backoff_ms", 5000)
	v.SetDefault("resilience.multiplier", 2.0)
	v.SetDefault("resilience.jitter_fraction", 0.25)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_limit", 50.0)
	v.SetDefault("server.rate_burst", 100)
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.min_accuracy", 0.5)
	v.SetDefault("monitoring.min_outcomes", 50)
	v.SetDefault("monitoring.max_warning_rate", 0.5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Defaults returns a Config holding only the default values.
func Defaults() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PREFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

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

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that a Config is internally consistent.
func Validate(c *Config) error {
	var errs []string

	if c.Tracker.RetentionMins <= 0 {
		errs = append(errs, "tracker.retention_mins must be > 0")
	}
	if c.Tracker.HistoryLimit <= 0 {
		errs = append(errs, "tracker.history_limit must be > 0")
	}
	if c.Tracker.TopK < 0 {
		errs = append(errs, "tracker.top_k must be >= 0")
	}
	if c.Model.LearningRate <= 0 || c.Model.LearningRate >= 1 {
		errs = append(errs, fmt.Sprintf("model.learning_rate must be in (0,1), got %g", c.Model.LearningRate))
	}
	if c.Model.ExclusionWindow < 0 {
		errs = append(errs, "model.exclusion_window must be >= 0")
	}

	t := c.Thresholds
	if t.High > 1 || t.Low < 0 || t.High < t.Medium || t.Medium < t.Low {
		errs = append(errs, fmt.Sprintf("thresholds must satisfy 1 >= high >= medium >= low >= 0, got %g/%g/%g", t.High, t.Medium, t.Low))
	}

	switch c.Store.Driver {
	case "sqlite", "postgres", "none":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite, postgres or none, got %q", c.Store.Driver))
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
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
