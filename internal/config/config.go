// Package config loads process configuration from an optional YAML file,
// a .env file and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds all configuration for nocozen-sync.
// Environment variables override YAML values.
type Config struct {
	Mongo MongoConfig `yaml:"mongo"`
	Jobs  JobsConfig  `yaml:"jobs"`
	Sync  SyncConfig  `yaml:"sync"`
	HTTP  HTTPConfig  `yaml:"http"`
	Log   LogConfig   `yaml:"log"`
	Redis RedisConfig `yaml:"redis"`
}

// MongoConfig locates the business database.
type MongoConfig struct {
	URI      string `yaml:"uri" env:"MONGO_URI" env-default:"mongodb://localhost:27017"`
	Database string `yaml:"database" env:"MONGO_DATABASE" env-default:"nocozenbase"`

	// ModuleConfigCollection holds module configurations and their rules.
	ModuleConfigCollection string `yaml:"module_config_collection" env:"MODULE_CONFIG_COLLECTION" env-default:"_mc_611697328735233"`
}

// JobsConfig configures the durable job queue and its workers.
type JobsConfig struct {
	DBPath          string        `yaml:"db_path" env:"JOBS_DB_PATH" env-default:"./nocozen-jobs.db"`
	Concurrency     int           `yaml:"concurrency" env:"JOBS_CONCURRENCY" env-default:"4"`
	ProcessEvery    time.Duration `yaml:"process_every" env:"JOBS_PROCESS_EVERY" env-default:"10s"`
	ResumeOnRestart bool          `yaml:"resume_on_restart" env:"JOBS_RESUME_ON_RESTART" env-default:"true"`
}

// SyncConfig configures the sync engine.
type SyncConfig struct {
	LogCollection string `yaml:"log_collection" env:"SYNC_LOG_COLLECTION" env-default:"_mc_621697328735241"`
	BatchLimit    int    `yaml:"batch_limit" env:"SYNC_BATCH_LIMIT" env-default:"100"`
	WorkerID      int    `yaml:"worker_id" env:"UID_WORKER_ID" env-default:"1"`
}

// HTTPConfig configures the capture ingress.
type HTTPConfig struct {
	Addr string `yaml:"addr" env:"HTTP_ADDR" env-default:":8080"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"console"`
}

// RedisConfig enables the optional job wake-up channel.
type RedisConfig struct {
	URL string `yaml:"url" env:"REDIS_URL" env-default:""`
}

// Load reads configuration. A .env file in the working directory is loaded
// first when present; path names an optional YAML file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	if path != "" {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate rejects values the components cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Jobs.Concurrency < 1:
		return fmt.Errorf("jobs concurrency must be at least 1, got %d", c.Jobs.Concurrency)
	case c.Jobs.ProcessEvery <= 0:
		return fmt.Errorf("jobs process interval must be positive, got %s", c.Jobs.ProcessEvery)
	case c.Sync.BatchLimit < 1:
		return fmt.Errorf("sync batch limit must be at least 1, got %d", c.Sync.BatchLimit)
	case c.Sync.WorkerID < 0 || c.Sync.WorkerID > 63:
		return fmt.Errorf("uid worker id must be in [0, 63], got %d", c.Sync.WorkerID)
	case c.Mongo.Database == "":
		return errors.New("mongo database is required")
	}
	return nil
}
