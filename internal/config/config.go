// Package config loads and validates the ibgate configuration from YAML,
// with environment variable overrides applied after parsing.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the ibgate server.
type Config struct {
	IBKR       IBKR       `yaml:"ibkr"`
	MCP        MCP        `yaml:"mcp"`
	Connection Connection `yaml:"connection"`
	Storage    Storage    `yaml:"storage"`
	Logging    Logging    `yaml:"logging"`
}

// IBKR holds TWS/Gateway connection settings and trading policy.
type IBKR struct {
	Host              string   `yaml:"host"`
	Port              int      `yaml:"port"` // 7497 paper, 7496 live
	ClientID          int      `yaml:"client_id"`
	ReadOnly          bool     `yaml:"read_only"`
	AllowShortSelling bool     `yaml:"allow_short_selling"`
	OrderTypes        []string `yaml:"order_types"`
	TIFTypes          []string `yaml:"tif_types"`
	PacingPerSec      int      `yaml:"pacing_per_sec"` // TWS message pacing limit
	Simulated         bool     `yaml:"simulated"`      // use the in-memory gateway
}

// MCP identifies the tool server.
type MCP struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// Connection controls reconnect and health-check behaviour.
type Connection struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ReconnectAttempts int           `yaml:"reconnect_attempts"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`  // connection ack
	OrderIDTimeout    time.Duration `yaml:"order_id_timeout"` // first valid order id
	RequestTimeout    time.Duration `yaml:"request_timeout"`  // per-request result wait
	HealthWait        time.Duration `yaml:"health_wait"`      // post-reqCurrentTime settle
}

// Storage holds paths for the order journal and bar exports.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// ---------------------------------------------------------------------------
// Defaults, loading, overrides
// ---------------------------------------------------------------------------

// Default returns a Config with the defaults the server ships with.
func Default() *Config {
	return &Config{
		IBKR: IBKR{
			Host:              "127.0.0.1",
			Port:              7497,
			ClientID:          1,
			AllowShortSelling: true,
			OrderTypes:        []string{"LMT", "MKT"},
			TIFTypes:          []string{"DAY", "GTC"},
			PacingPerSec:      40,
		},
		MCP: MCP{
			Name:    "ibgate",
			Version: "dev",
		},
		Connection: Connection{
			HeartbeatInterval: 30 * time.Second,
			ReconnectAttempts: 3,
			ReconnectDelay:    5 * time.Second,
			ConnectTimeout:    10 * time.Second,
			OrderIDTimeout:    10 * time.Second,
			RequestTimeout:    10 * time.Second,
			HealthWait:        500 * time.Millisecond,
		},
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/ibgate.db",
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the YAML configuration file at the given path into a Config
// seeded with defaults, applies environment variable overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("IBKR_HOST"); v != "" {
		cfg.IBKR.Host = v
	}
	if v := os.Getenv("IBKR_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.IBKR.Port = p
		}
	}
	if v := os.Getenv("IBKR_CLIENT_ID"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			cfg.IBKR.ClientID = id
		}
	}
	if v := os.Getenv("IBKR_READ_ONLY"); v != "" {
		cfg.IBKR.ReadOnly = v == "true" || v == "1"
	}
	if v := os.Getenv("IBKR_ALLOW_SHORT"); v != "" {
		cfg.IBKR.AllowShortSelling = v == "true" || v == "1"
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

var validOrderTypes = map[string]bool{
	"LMT": true, "MKT": true, "STP": true,
	"STP LMT": true, "TRAIL": true, "TRAIL LIMIT": true,
}

var validTIFs = map[string]bool{
	"DAY": true, "GTC": true, "IOC": true, "FOK": true, "GTD": true,
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks the configuration and returns the first violation found.
func (c *Config) Validate() error {
	if c.IBKR.Port < 1 || c.IBKR.Port > 65535 {
		return fmt.Errorf("ibkr.port must be between 1 and 65535, got %d", c.IBKR.Port)
	}
	if c.IBKR.ClientID < 0 {
		return fmt.Errorf("ibkr.client_id must be non-negative, got %d", c.IBKR.ClientID)
	}
	if len(c.IBKR.OrderTypes) == 0 {
		return fmt.Errorf("ibkr.order_types must not be empty")
	}
	for _, ot := range c.IBKR.OrderTypes {
		if !validOrderTypes[ot] {
			return fmt.Errorf("invalid order type %q", ot)
		}
	}
	if len(c.IBKR.TIFTypes) == 0 {
		return fmt.Errorf("ibkr.tif_types must not be empty")
	}
	for _, tif := range c.IBKR.TIFTypes {
		if !validTIFs[tif] {
			return fmt.Errorf("invalid TIF type %q", tif)
		}
	}
	if c.IBKR.PacingPerSec <= 0 {
		return fmt.Errorf("ibkr.pacing_per_sec must be positive, got %d", c.IBKR.PacingPerSec)
	}
	if c.Connection.HeartbeatInterval < 10*time.Second {
		return fmt.Errorf("connection.heartbeat_interval must be at least 10s, got %s", c.Connection.HeartbeatInterval)
	}
	if c.Connection.ReconnectAttempts < 1 {
		return fmt.Errorf("connection.reconnect_attempts must be at least 1, got %d", c.Connection.ReconnectAttempts)
	}
	if c.Connection.ReconnectDelay < 0 {
		return fmt.Errorf("connection.reconnect_delay must not be negative, got %s", c.Connection.ReconnectDelay)
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging.format must be %q or %q, got %q", "json", "text", c.Logging.Format)
	}
	return nil
}

// OrderTypeAllowed reports whether the policy permits the given order type.
func (c *Config) OrderTypeAllowed(orderType string) bool {
	for _, ot := range c.IBKR.OrderTypes {
		if ot == orderType {
			return true
		}
	}
	return false
}

// TIFAllowed reports whether the policy permits the given time-in-force.
func (c *Config) TIFAllowed(tif string) bool {
	for _, t := range c.IBKR.TIFTypes {
		if t == tif {
			return true
		}
	}
	return false
}
