// Package config loads job queue settings from a YAML file, environment
// variables, and defaults, the layered way viper is built for — grounded on
// the go-redis-work-queue manifest's dependency on spf13/viper for exactly
// this kind of settings struct.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds the settings a cmd/jobqueue process or an embedding
// application needs to construct a queue.Queue and its backing store.
type Config struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	QueueName string `mapstructure:"queue_name"`

	DefaultLockDurationMs int64 `mapstructure:"default_lock_duration_ms"`
	DefaultMaxLenEvents   int64 `mapstructure:"default_max_len_events"`

	DefaultLimiterMax      int64 `mapstructure:"default_limiter_max"`
	DefaultLimiterDuration int64 `mapstructure:"default_limiter_duration_ms"`

	DefaultKeepJobsAge   int64 `mapstructure:"default_keep_jobs_age"`
	DefaultKeepJobsCount int64 `mapstructure:"default_keep_jobs_count"`

	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// Defaults mirrors queue.DefaultConfig's values so a Config loaded with no
// file and no environment overrides still produces a working queue.
func Defaults() Config {
	return Config{
		RedisAddr:             "127.0.0.1:6379",
		RedisDB:               0,
		QueueName:             "default",
		DefaultLockDurationMs: 30_000,
		DefaultMaxLenEvents:   10_000,
		DefaultKeepJobsCount:  -1,
		LogLevel:              "info",
	}
}

// Load reads settings from path (if non-empty), then from JOBQUEUE_*
// environment variables, falling back to Defaults for anything unset.
func Load(path string) (Config, error) {
	v := viper.New()
	d := Defaults()
	v.SetDefault("redis_addr", d.RedisAddr)
	v.SetDefault("redis_db", d.RedisDB)
	v.SetDefault("queue_name", d.QueueName)
	v.SetDefault("default_lock_duration_ms", d.DefaultLockDurationMs)
	v.SetDefault("default_max_len_events", d.DefaultMaxLenEvents)
	v.SetDefault("default_keep_jobs_count", d.DefaultKeepJobsCount)
	v.SetDefault("log_level", d.LogLevel)

	v.SetEnvPrefix("jobqueue")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
