package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. PERSONACHAT_CHAT_API_ENDPOINT.
const EnvPrefix = "PERSONACHAT"

// DefaultPath is read when no config file is named explicitly.
const DefaultPath = "config.json"

// Config represents runtime configuration for the service.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" json:"server"`
	ChatAPI    ChatAPIConfig    `mapstructure:"chat_api" json:"chat_api"`
	Views      ViewsConfig      `mapstructure:"views" json:"views"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher" json:"dispatcher"`
	Profile    ProfileConfig    `mapstructure:"profile" json:"profile"`
	Redis      RedisConfig      `mapstructure:"redis" json:"redis"`
	Log        LogConfig        `mapstructure:"log" json:"log"`
}

type ServerConfig struct {
	Address     string   `mapstructure:"address" json:"address"`
	Mode        string   `mapstructure:"mode" json:"mode"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
}

type ChatAPIConfig struct {
	Endpoint string        `mapstructure:"endpoint" json:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout" json:"timeout"`
}

type ViewsConfig struct {
	IdleTTL         time.Duration `mapstructure:"idle_ttl" json:"idle_ttl"`
	MaxViews        int           `mapstructure:"max_views" json:"max_views"`
	ScrollThreshold float64       `mapstructure:"scroll_threshold" json:"scroll_threshold"`
	OpenRate        float64       `mapstructure:"open_rate" json:"open_rate"`
	OpenBurst       int           `mapstructure:"open_burst" json:"open_burst"`
}

type DispatcherConfig struct {
	MinWorkers        int           `mapstructure:"min_workers" json:"min_workers"`
	MaxWorkers        int           `mapstructure:"max_workers" json:"max_workers"`
	QueueSize         int           `mapstructure:"queue_size" json:"queue_size"`
	WorkerIdleTimeout time.Duration `mapstructure:"worker_idle_timeout" json:"worker_idle_timeout"`
}

type ProfileConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl" json:"cache_ttl"`
}

// RedisConfig configures the optional profile cache. An empty host disables it.
type RedisConfig struct {
	Host     string `mapstructure:"host" json:"host"`
	Port     int    `mapstructure:"port" json:"port"`
	Username string `mapstructure:"username" json:"username"`
	Password string `mapstructure:"password" json:"password"`
	DB       int    `mapstructure:"db" json:"db"`
}

// Enabled reports whether redis is configured.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

type LogConfig struct {
	Level string `mapstructure:"level" json:"level"`
}

// Load reads configuration from path (defaults to config.json), applies
// PERSONACHAT_* environment overrides and validates the result. A missing
// default file is not an error; a missing explicit file is.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	v.SetConfigFile(absPath)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", absPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors_origins", []string{})

	v.SetDefault("chat_api.endpoint", "")
	v.SetDefault("chat_api.timeout", "60s")

	v.SetDefault("views.idle_ttl", "30m")
	v.SetDefault("views.max_views", 10000)
	v.SetDefault("views.scroll_threshold", 80)
	v.SetDefault("views.open_rate", 5)
	v.SetDefault("views.open_burst", 20)

	v.SetDefault("dispatcher.min_workers", 4)
	v.SetDefault("dispatcher.max_workers", 64)
	v.SetDefault("dispatcher.queue_size", 256)
	v.SetDefault("dispatcher.worker_idle_timeout", "60s")

	v.SetDefault("profile.cache_ttl", "5m")

	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("log.level", "info")
}

// Validate checks every section.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server),
		validation.Field(&c.ChatAPI),
		validation.Field(&c.Views),
		validation.Field(&c.Dispatcher),
		validation.Field(&c.Redis),
		validation.Field(&c.Log),
	)
}

func (s ServerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Address, validation.Required),
		validation.Field(&s.Mode, validation.In("debug", "release", "test")),
		validation.Field(&s.CORSOrigins, validation.Each(validation.Required)),
	)
}

func (c ChatAPIConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Endpoint, validation.Required, is.URL),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

func (v ViewsConfig) Validate() error {
	return validation.ValidateStruct(&v,
		validation.Field(&v.IdleTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&v.MaxViews, validation.Required, validation.Min(1)),
		validation.Field(&v.ScrollThreshold, validation.Min(0.0)),
		validation.Field(&v.OpenRate, validation.Required, validation.Min(0.0)),
		validation.Field(&v.OpenBurst, validation.Required, validation.Min(1)),
	)
}

func (d DispatcherConfig) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.MinWorkers, validation.Min(0)),
		validation.Field(&d.MaxWorkers, validation.Required, validation.Min(1), validation.Min(d.MinWorkers)),
		validation.Field(&d.QueueSize, validation.Required, validation.Min(1)),
		validation.Field(&d.WorkerIdleTimeout, validation.Required),
	)
}

func (r RedisConfig) Validate() error {
	if !r.Enabled() {
		return nil
	}
	return validation.ValidateStruct(&r,
		validation.Field(&r.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&r.DB, validation.Min(0)),
	)
}

func (l LogConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.In("debug", "info", "warn", "error")),
	)
}
