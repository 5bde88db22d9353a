// Package config provides configuration management for tvinput using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jmylchreest/tvinput/internal/models"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxIdleTime = 30 * time.Minute
	defaultConnectTimeout  = 3 * time.Second
	defaultReadTimeout     = 10 * time.Second
	defaultRetryAttempts   = 2
	defaultRetryDelay      = 2 * time.Second
	defaultSyncWindow      = 48 * time.Hour
	defaultSyncSchedule    = "0 0 */6 * * *"
	defaultFallbackWindow  = time.Hour
	defaultBoundaryGrace   = time.Second
	defaultVolume          = 1.0
	defaultInputID         = "tvinput"
	defaultLogoBaseURL     = "http://logo.iptv.ink/"
	defaultStreamKind      = "hls"
	defaultChannelsFormat  = "m3u"
	maxPort                = 65535
	maxSyncRetryAttempts   = 10
	cronParseOptions       = cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Input    InputConfig    `mapstructure:"input" yaml:"input"`
	Sync     SyncConfig     `mapstructure:"sync" yaml:"sync"`
	Parental ParentalConfig `mapstructure:"parental" yaml:"parental"`
	Playback PlaybackConfig `mapstructure:"playback" yaml:"playback"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" yaml:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" yaml:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level" yaml:"log_level"` // silent, error, warn, info
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`   // trace, debug, info, warn, error
	Format     string `mapstructure:"format" yaml:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source" yaml:"add_source"`
	TimeFormat string `mapstructure:"time_format" yaml:"time_format"`
}

// InputConfig describes the feed this input imports channels from.
type InputConfig struct {
	ID             string `mapstructure:"id" yaml:"id"`
	ChannelsURL    string `mapstructure:"channels_url" yaml:"channels_url"`
	ChannelsFormat string `mapstructure:"channels_format" yaml:"channels_format"` // m3u, xmltv
	// EPGURL is an optional XMLTV guide matched to channels by tvg-id.
	EPGURL            string `mapstructure:"epg_url" yaml:"epg_url"`
	LogoBaseURL       string `mapstructure:"logo_base_url" yaml:"logo_base_url"`
	DefaultStreamKind string `mapstructure:"default_stream_kind" yaml:"default_stream_kind"`
}

// SyncConfig holds directory synchronisation settings.
type SyncConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	Schedule       string        `mapstructure:"schedule" yaml:"schedule"`
	RunOnStart     bool          `mapstructure:"run_on_start" yaml:"run_on_start"`
	Window         Duration      `mapstructure:"window" yaml:"window"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
}

// ParentalConfig seeds the parental control settings.
type ParentalConfig struct {
	Enabled        bool     `mapstructure:"enabled" yaml:"enabled"`
	BlockedRatings []string `mapstructure:"blocked_ratings" yaml:"blocked_ratings"`
}

// PlaybackConfig holds session controller tuning.
type PlaybackConfig struct {
	DefaultVolume  float64  `mapstructure:"default_volume" yaml:"default_volume"`
	FallbackWindow Duration `mapstructure:"fallback_window" yaml:"fallback_window"`
	// BoundaryGrace is added to a program's end before re-resolving.
	BoundaryGrace time.Duration `mapstructure:"boundary_grace" yaml:"boundary_grace"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with TVINPUT_ and use underscores for nesting.
// Example: TVINPUT_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	return LoadWithFlags(configPath, nil)
}

// LoadWithFlags is Load with command-line overrides. flags maps config keys
// to flags; a flag the user set takes precedence over every other source.
func LoadWithFlags(configPath string, flags map[string]*pflag.Flag) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	for key, flag := range flags {
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("binding flag %q to %q: %w", flag.Name, key, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/tvinput")
		v.AddConfigPath("$HOME/.tvinput")
	}

	v.SetEnvPrefix("TVINPUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// decodeHook adds TextUnmarshaler support (for Duration) to viper's
// default string conversions.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "tvinput.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Input defaults
	v.SetDefault("input.id", defaultInputID)
	v.SetDefault("input.channels_url", "")
	v.SetDefault("input.channels_format", defaultChannelsFormat)
	v.SetDefault("input.epg_url", "")
	v.SetDefault("input.logo_base_url", defaultLogoBaseURL)
	v.SetDefault("input.default_stream_kind", defaultStreamKind)

	// Sync defaults
	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.schedule", defaultSyncSchedule)
	v.SetDefault("sync.run_on_start", true)
	v.SetDefault("sync.window", Duration(defaultSyncWindow).String())
	v.SetDefault("sync.connect_timeout", defaultConnectTimeout)
	v.SetDefault("sync.read_timeout", defaultReadTimeout)
	v.SetDefault("sync.retry_attempts", defaultRetryAttempts)
	v.SetDefault("sync.retry_delay", defaultRetryDelay)

	// Parental defaults
	v.SetDefault("parental.enabled", false)
	v.SetDefault("parental.blocked_ratings", []string{})

	// Playback defaults
	v.SetDefault("playback.default_volume", defaultVolume)
	v.SetDefault("playback.fallback_window", Duration(defaultFallbackWindow).String())
	v.SetDefault("playback.boundary_grace", defaultBoundaryGrace)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("database.max_open_conns must be at least 1")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns must not be negative")
	}
	validDBLevels := map[string]bool{"": true, "silent": true, "error": true, "warn": true, "info": true}
	if !validDBLevels[c.Database.LogLevel] {
		return fmt.Errorf("database.log_level must be one of: silent, error, warn, info")
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Input.ID == "" {
		return fmt.Errorf("input.id is required")
	}
	validFeedFormats := map[string]bool{"m3u": true, "xmltv": true}
	if !validFeedFormats[c.Input.ChannelsFormat] {
		return fmt.Errorf("input.channels_format must be one of: m3u, xmltv")
	}
	if _, err := models.ParseStreamKind(c.Input.DefaultStreamKind); err != nil {
		return fmt.Errorf("input.default_stream_kind: %w", err)
	}

	if c.Sync.Enabled && c.Sync.Schedule != "" {
		if _, err := cron.NewParser(cronParseOptions).Parse(c.Sync.Schedule); err != nil {
			return fmt.Errorf("sync.schedule: %w", err)
		}
	}
	if c.Sync.Window <= 0 {
		return fmt.Errorf("sync.window must be positive")
	}
	if c.Sync.RetryAttempts < 0 || c.Sync.RetryAttempts > maxSyncRetryAttempts {
		return fmt.Errorf("sync.retry_attempts must be between 0 and %d", maxSyncRetryAttempts)
	}

	for _, r := range c.Parental.BlockedRatings {
		if err := models.ContentRating(r).Validate(); err != nil {
			return fmt.Errorf("parental.blocked_ratings: %w", err)
		}
	}

	if c.Playback.DefaultVolume < 0 || c.Playback.DefaultVolume > 1 {
		return fmt.Errorf("playback.default_volume must be between 0 and 1")
	}
	if c.Playback.FallbackWindow <= 0 {
		return fmt.Errorf("playback.fallback_window must be positive")
	}
	if c.Playback.BoundaryGrace < 0 {
		return fmt.Errorf("playback.boundary_grace must not be negative")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StreamKind returns the parsed default stream kind, falling back to HLS.
func (c *InputConfig) StreamKind() models.StreamKind {
	kind, err := models.ParseStreamKind(c.DefaultStreamKind)
	if err != nil {
		return models.StreamKindHLS
	}
	return kind
}

// Ratings returns the configured blocked ratings.
func (c *ParentalConfig) Ratings() []models.ContentRating {
	ratings := make([]models.ContentRating, 0, len(c.BlockedRatings))
	for _, r := range c.BlockedRatings {
		ratings = append(ratings, models.ContentRating(r))
	}
	return ratings
}
