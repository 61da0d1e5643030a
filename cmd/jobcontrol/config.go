package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xraph/jobcontrol"
	"github.com/xraph/jobcontrol/cleanup"
)

// Store drivers understood by openStore.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverBun      = "bun"
	DriverMongo    = "mongo"
	DriverRedis    = "redis"
)

// StoreConfig selects and addresses the persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`

	// Database names the MongoDB database.
	Database string `yaml:"database"`

	// KeyPrefix namespaces Redis keys.
	KeyPrefix string `yaml:"key_prefix"`
}

// Config is the host configuration file.
type Config struct {
	LogLevel string            `yaml:"log_level"`
	Store    StoreConfig       `yaml:"store"`
	Worker   jobcontrol.Config `yaml:"worker"`
	Cleanup  cleanup.Config    `yaml:"cleanup"`
}

// DefaultConfig returns a configuration using a local SQLite file.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Store: StoreConfig{
			Driver:   DriverSQLite,
			DSN:      "jobcontrol.db",
			Database: "jobcontrol",
		},
		Worker:  jobcontrol.DefaultConfig(),
		Cleanup: cleanup.DefaultConfig(),
	}
}

// LoadConfig reads path over the defaults. A missing file at the default
// path is not an error.
func LoadConfig(path string, explicit bool) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the store selection and the cleanup settings.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverSQLite, DriverPostgres, DriverBun, DriverMongo, DriverRedis:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver != DriverMemory && c.Store.DSN == "" {
		return errors.New("store dsn is required")
	}
	return c.Cleanup.Validate()
}
