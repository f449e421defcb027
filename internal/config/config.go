// Package config loads the server configuration.
//
// Sources, later ones win: built-in defaults, the YAML file, environment
// variables (PLAYOUT_*; a .env file in the working directory is loaded first).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/edirooss/playout-server/internal/domain/channel"
)

// DefaultPath is read when no --config flag is given. It may be absent.
const DefaultPath = "playout-server.yaml"

type Config struct {
	Env                   string `yaml:"-"` // ENV; "dev" enables development mode
	RedisAddr             string `yaml:"redis_address"`
	RedisDB               int    `yaml:"redis_db"`
	ServerAddr            string `yaml:"server_address"`
	Port                  string `yaml:"port"`
	KeyPrefix             string `yaml:"key_prefix"`
	MaxConcurrentRequests int    `yaml:"max_concurrent_requests"`
	ReconcileOnStart      bool   `yaml:"reconcile_on_start"`
	WatchDrift            bool   `yaml:"watch_drift"`        // reconcile when a unit or channel config is removed
	ReconcileSchedule     string `yaml:"reconcile_schedule"` // cron expression; empty disables

	Supervisor Supervisor `yaml:"supervisor"`
	Playout    Playout    `yaml:"playout"`
}

// Supervisor locates unit files and shapes derived units.
type Supervisor struct {
	ConfDir       string `yaml:"conf_dir"`
	Template      string `yaml:"template"`       // service whose unit new units are derived from
	EngineCommand string `yaml:"engine_command"` // %s = channel config path
	LogFile       string `yaml:"log_file"`       // %s = channel number
}

// Playout locates the channel configuration sources.
type Playout struct {
	BaselineConfig    string   `yaml:"baseline_config"`
	ReferenceConfig   string   `yaml:"reference_config"`
	ReferenceID       int64    `yaml:"reference_id"`
	LogRootNames      []string `yaml:"log_root_names"`
	PlaylistRootNames []string `yaml:"playlist_root_names"`
	ReconcileWorkers  int      `yaml:"reconcile_workers"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		RedisAddr:             "127.0.0.1:6379",
		ServerAddr:            "127.0.0.1",
		Port:                  "8080",
		KeyPrefix:             "playout:settings:",
		MaxConcurrentRequests: 32,
		ReconcileOnStart:      true,
	}
}

// Load reads path over the defaults and applies environment overrides.
// A missing file is not an error when path is DefaultPath.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && path == DefaultPath:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDev reports whether the server runs in development mode.
func (c *Config) IsDev() bool { return c.Env == "dev" }

// Addr returns the HTTP listen address.
func (c *Config) Addr() string { return c.ServerAddr + ":" + c.Port }

// Validate checks fields that have no usable zero value.
func (c *Config) Validate() error {
	if c.RedisAddr == "" {
		return errors.New("config: redis_address is required")
	}
	if c.Port == "" {
		return errors.New("config: port is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("config: invalid port %q", c.Port)
	}
	if c.MaxConcurrentRequests <= 0 {
		return errors.New("config: max_concurrent_requests must be positive")
	}
	if c.Playout.ReferenceID < 0 {
		return errors.New("config: playout.reference_id must not be negative")
	}
	if c.Supervisor.Template != "" {
		if _, err := channel.ParseServiceRef(c.Supervisor.Template); err != nil {
			return fmt.Errorf("config: supervisor.template: %w", err)
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Env = os.Getenv("ENV")

	setString(&c.RedisAddr, "PLAYOUT_REDIS_ADDRESS")
	setString(&c.ServerAddr, "PLAYOUT_SERVER_ADDRESS")
	setString(&c.Port, "PLAYOUT_PORT")
	setString(&c.KeyPrefix, "PLAYOUT_KEY_PREFIX")
	setString(&c.Supervisor.ConfDir, "PLAYOUT_SUPERVISOR_CONF_DIR")
	setString(&c.Supervisor.Template, "PLAYOUT_SUPERVISOR_TEMPLATE")
	setString(&c.Playout.BaselineConfig, "PLAYOUT_BASELINE_CONFIG")
	setString(&c.Playout.ReferenceConfig, "PLAYOUT_REFERENCE_CONFIG")
	setString(&c.ReconcileSchedule, "PLAYOUT_RECONCILE_SCHEDULE")

	if v := os.Getenv("PLAYOUT_REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: PLAYOUT_REDIS_DB: %w", err)
		}
		c.RedisDB = n
	}
	if v := os.Getenv("PLAYOUT_RECONCILE_ON_START"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: PLAYOUT_RECONCILE_ON_START: %w", err)
		}
		c.ReconcileOnStart = b
	}
	if v := os.Getenv("PLAYOUT_WATCH_DRIFT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: PLAYOUT_WATCH_DRIFT: %w", err)
		}
		c.WatchDrift = b
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}
