// Package config loads animehub configuration from a YAML file, the
// environment (ANIMEHUB_*) and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"animehub/pkg/apperrors"
	"animehub/pkg/logger"
)

const envPrefix = "ANIMEHUB"

type (
	App struct {
		Name    string `mapstructure:"name"`
		Version string `mapstructure:"version"`
	}

	Database struct {
		Driver       string `mapstructure:"driver"` // sqlite or postgres
		Path         string `mapstructure:"path"`   // sqlite file
		DSN          string `mapstructure:"dsn"`    // postgres connection string
		MaxOpenConns int    `mapstructure:"max_open_conns"`
	}

	Backoff struct {
		Mode string        `mapstructure:"mode"` // fixed or exponential
		Base time.Duration `mapstructure:"base"`
		Max  time.Duration `mapstructure:"max"`
	}

	Scraper struct {
		BaseURL         string        `mapstructure:"base_url"`
		Timeout         time.Duration `mapstructure:"timeout"`
		Rate            float64       `mapstructure:"rate"`
		Burst           int           `mapstructure:"burst"`
		MaxRetries      int           `mapstructure:"max_retries"`
		EmptyPageLimit  int           `mapstructure:"empty_page_limit"`
		MaxPages        int           `mapstructure:"max_pages"`
		Backoff         Backoff       `mapstructure:"backoff"`
		TransientDelay  time.Duration `mapstructure:"transient_delay"`
		ConnectionDelay time.Duration `mapstructure:"connection_delay"`
		PageDelay       time.Duration `mapstructure:"page_delay"`
		OrderBy         string        `mapstructure:"order_by"`
		Sort            string        `mapstructure:"sort"`
	}

	Pipeline struct {
		StateDir        string  `mapstructure:"state_dir"`
		ArtifactDir     string  `mapstructure:"artifact_dir"`
		LoadMode        string  `mapstructure:"load_mode"` // bulk or safe
		OnError         string  `mapstructure:"on_error"`  // skip or propagate
		RequireScore    bool    `mapstructure:"require_score"`
		RequireEpisodes bool    `mapstructure:"require_episodes"`
		MinScore        float64 `mapstructure:"min_score"`
	}

	Server struct {
		Addr           string   `mapstructure:"addr"`
		EventsAddr     string   `mapstructure:"events_addr"` // TCP event feed, empty disables
		NotifyAddr     string   `mapstructure:"notify_addr"` // UDP event datagrams, empty disables
		TrustedProxies []string `mapstructure:"trusted_proxies"`
	}

	Auth struct {
		JWTSecret string        `mapstructure:"jwt_secret"`
		JWTIssuer string        `mapstructure:"jwt_issuer"`
		JWTTTL    time.Duration `mapstructure:"jwt_ttl"`
	}
)

type Config struct {
	App      App           `mapstructure:"app"`
	Log      logger.Config `mapstructure:"log"`
	Database Database      `mapstructure:"database"`
	Scraper  Scraper       `mapstructure:"scraper"`
	Pipeline Pipeline      `mapstructure:"pipeline"`
	Server   Server        `mapstructure:"server"`
	Auth     Auth          `mapstructure:"auth"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "animehub")
	v.SetDefault("app.version", "0.1.0")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.development", false)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", defaultDBPath())
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 4)

	v.SetDefault("scraper.base_url", "https://api.jikan.moe/v4")
	v.SetDefault("scraper.timeout", 15*time.Second)
	v.SetDefault("scraper.rate", 5.0)
	v.SetDefault("scraper.burst", 10)
	v.SetDefault("scraper.max_retries", 3)
	v.SetDefault("scraper.empty_page_limit", 3)
	v.SetDefault("scraper.max_pages", 0)
	v.SetDefault("scraper.backoff.mode", "exponential")
	v.SetDefault("scraper.backoff.base", time.Second)
	v.SetDefault("scraper.backoff.max", 60*time.Second)
	v.SetDefault("scraper.transient_delay", 5*time.Second)
	v.SetDefault("scraper.connection_delay", 10*time.Second)
	v.SetDefault("scraper.page_delay", time.Duration(0))
	v.SetDefault("scraper.order_by", "")
	v.SetDefault("scraper.sort", "")

	v.SetDefault("pipeline.state_dir", defaultDataDir("state"))
	v.SetDefault("pipeline.artifact_dir", "")
	v.SetDefault("pipeline.load_mode", "safe")
	v.SetDefault("pipeline.on_error", "skip")
	v.SetDefault("pipeline.require_score", true)
	v.SetDefault("pipeline.require_episodes", true)
	v.SetDefault("pipeline.min_score", 0.0)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.events_addr", ":7070")
	v.SetDefault("server.notify_addr", "")
	v.SetDefault("server.trusted_proxies", []string{"127.0.0.1"})

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_issuer", "animehub")
	v.SetDefault("auth.jwt_ttl", 24*time.Hour)
}

// Load reads configuration. file may be empty, in which case config.yaml is
// searched in the usual places and a missing file means defaults.
func Load(file string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.animehub")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeConfig, "read config file")
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeConfig, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration with nothing but defaults applied.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return apperrors.New(apperrors.ErrorTypeConfig, "database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return apperrors.New(apperrors.ErrorTypeConfig, "database.dsn is required for postgres")
		}
	default:
		return apperrors.Newf(apperrors.ErrorTypeConfig, "unknown database.driver %q", c.Database.Driver)
	}

	if c.Scraper.Rate <= 0 {
		return apperrors.New(apperrors.ErrorTypeConfig, "scraper.rate must be positive")
	}
	if c.Scraper.Burst <= 0 {
		return apperrors.New(apperrors.ErrorTypeConfig, "scraper.burst must be positive")
	}
	if c.Scraper.MaxRetries < 0 {
		return apperrors.New(apperrors.ErrorTypeConfig, "scraper.max_retries must not be negative")
	}
	if c.Scraper.EmptyPageLimit <= 0 {
		return apperrors.New(apperrors.ErrorTypeConfig, "scraper.empty_page_limit must be positive")
	}
	switch c.Scraper.Backoff.Mode {
	case "fixed", "exponential":
	default:
		return apperrors.Newf(apperrors.ErrorTypeConfig, "unknown scraper.backoff.mode %q", c.Scraper.Backoff.Mode)
	}

	switch c.Pipeline.LoadMode {
	case "bulk", "safe":
	default:
		return apperrors.Newf(apperrors.ErrorTypeConfig, "unknown pipeline.load_mode %q", c.Pipeline.LoadMode)
	}
	switch c.Pipeline.OnError {
	case "skip", "propagate":
	default:
		return apperrors.Newf(apperrors.ErrorTypeConfig, "unknown pipeline.on_error %q", c.Pipeline.OnError)
	}
	if c.Pipeline.StateDir == "" {
		return apperrors.New(apperrors.ErrorTypeConfig, "pipeline.state_dir is required")
	}
	return nil
}

func (c *Config) String() string {
	return fmt.Sprintf("%s %s (driver=%s)", c.App.Name, c.App.Version, c.Database.Driver)
}
