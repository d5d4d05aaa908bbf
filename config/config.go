// Package config loads the service configuration and renders task files.
//
// Service settings are layered: built-in defaults, then an optional YAML file
// whose string values may reference ${VAR} or ${VAR:-default}, then
// environment variable overrides. A .env file in the working directory is
// loaded into the environment first when present.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/labstack/gommon/bytes"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "PPLXCHAT_CONFIG"

// Config holds the application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Perplexity PerplexityConfig `yaml:"perplexity"`
	HTTP       HTTPConfig       `yaml:"http"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Usage      UsageConfig      `yaml:"usage"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LogConfig        `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string `yaml:"port"`
	// MasterKey enables bearer authentication on the task endpoints when set
	MasterKey string `yaml:"master_key"`
	// BodySizeLimit caps request bodies, in echo's size notation (e.g. "2M")
	BodySizeLimit string `yaml:"body_size_limit"`
}

// PerplexityConfig holds provider settings
type PerplexityConfig struct {
	// APIKey is used when a task does not carry its own key
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// HTTPConfig holds outbound client timeouts, in seconds
type HTTPConfig struct {
	Timeout               int `yaml:"timeout"`
	ResponseHeaderTimeout int `yaml:"response_header_timeout"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// UsageConfig controls the persistent usage ledger
type UsageConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	// FlushInterval is in seconds
	FlushInterval int `yaml:"flush_interval"`
	RetentionDays int `yaml:"retention_days"`
	// Events republishes written ledger entries to a broker
	Events EventsConfig `yaml:"events"`
}

// EventsConfig selects the usage event broker
type EventsConfig struct {
	// Type is "", "redis" or "rabbitmq"; empty disables publishing
	Type  string `yaml:"type"`
	URL   string `yaml:"url"`
	Queue string `yaml:"queue"`
}

// StorageConfig selects the ledger database
type StorageConfig struct {
	Type       string           `yaml:"type"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	PostgreSQL PostgreSQLConfig `yaml:"postgresql"`
	MongoDB    MongoDBConfig    `yaml:"mongodb"`
	MySQL      MySQLConfig      `yaml:"mysql"`
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgreSQLConfig holds PostgreSQL settings
type PostgreSQLConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

// MongoDBConfig holds MongoDB settings
type MongoDBConfig struct {
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
}

// MySQLConfig holds MySQL settings
type MySQLConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// LogConfig selects the log handler
type LogConfig struct {
	// Format is "auto", "pretty" or "json"
	Format string `yaml:"format"`
	// Level is "debug", "info", "warn" or "error"
	Level string `yaml:"level"`
}

// LoadResult is the outcome of Load.
type LoadResult struct {
	Config *Config
	// Path is the config file that was read, empty when none was found
	Path string
}

// Load builds the configuration. path may be empty, in which case
// PPLXCHAT_CONFIG and then ./config.yaml are tried; a missing default file is
// not an error, a missing explicit file is.
func Load(path string) (*LoadResult, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvConfigPath)
		explicit = path != ""
	}
	if !explicit {
		path = "config.yaml"
	}

	cfg := buildDefaultConfig()
	result := &LoadResult{Config: cfg}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decodeExpanded(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %q: %w", path, err)
		}
		result.Path = path
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return result, nil
}

func buildDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          "8080",
			BodySizeLimit: "2M",
		},
		Perplexity: PerplexityConfig{
			BaseURL: "https://api.perplexity.ai",
		},
		HTTP: HTTPConfig{
			Timeout:               300,
			ResponseHeaderTimeout: 300,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
		Usage: UsageConfig{
			Enabled:       false,
			BufferSize:    1000,
			FlushInterval: 5,
			RetentionDays: 90,
		},
		Storage: StorageConfig{
			Type:       "sqlite",
			SQLite:     SQLiteConfig{Path: ".cache/pplxchat.db"},
			PostgreSQL: PostgreSQLConfig{MaxConns: 10},
			MongoDB:    MongoDBConfig{Database: "pplxchat"},
			MySQL:      MySQLConfig{MaxOpenConns: 20},
		},
		Logging: LogConfig{
			Format: "auto",
			Level:  "info",
		},
	}
}

// Validate checks the settings that cannot be caught at use time.
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Server.Port)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %q", c.Server.Port)
	}
	if limit, err := bytes.Parse(c.Server.BodySizeLimit); err != nil || limit <= 0 {
		return fmt.Errorf("server.body_size_limit must be a size such as 2M, got %q", c.Server.BodySizeLimit)
	}
	if c.HTTP.Timeout < 0 || c.HTTP.ResponseHeaderTimeout < 0 {
		return fmt.Errorf("http timeouts must not be negative")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Endpoint, "/") {
		return fmt.Errorf("metrics.endpoint must start with '/', got %q", c.Metrics.Endpoint)
	}
	switch c.Logging.Format {
	case "auto", "pretty", "json":
	default:
		return fmt.Errorf("logging.format must be one of auto, pretty, json, got %q", c.Logging.Format)
	}
	if !c.Usage.Enabled {
		return nil
	}
	switch c.Storage.Type {
	case "sqlite":
	case "postgresql":
		if c.Storage.PostgreSQL.URL == "" {
			return fmt.Errorf("storage.postgresql.url is required when storage.type is postgresql")
		}
	case "mongodb":
		if c.Storage.MongoDB.URL == "" {
			return fmt.Errorf("storage.mongodb.url is required when storage.type is mongodb")
		}
	case "mysql":
		if c.Storage.MySQL.DSN == "" {
			return fmt.Errorf("storage.mysql.dsn is required when storage.type is mysql")
		}
	default:
		return fmt.Errorf("storage.type must be one of sqlite, postgresql, mongodb, mysql, got %q", c.Storage.Type)
	}
	switch c.Usage.Events.Type {
	case "":
	case "redis", "rabbitmq":
		if c.Usage.Events.URL == "" {
			return fmt.Errorf("usage.events.url is required when usage.events.type is %s", c.Usage.Events.Type)
		}
	default:
		return fmt.Errorf("usage.events.type must be one of redis, rabbitmq, got %q", c.Usage.Events.Type)
	}
	return nil
}

// applyEnvOverrides copies set environment variables over the loaded values.
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"PORT":                &cfg.Server.Port,
		"PPLXCHAT_MASTER_KEY": &cfg.Server.MasterKey,
		"BODY_SIZE_LIMIT":     &cfg.Server.BodySizeLimit,
		"PERPLEXITY_API_KEY":  &cfg.Perplexity.APIKey,
		"PERPLEXITY_BASE_URL": &cfg.Perplexity.BaseURL,
		"METRICS_ENDPOINT":    &cfg.Metrics.Endpoint,
		"STORAGE_TYPE":        &cfg.Storage.Type,
		"SQLITE_PATH":         &cfg.Storage.SQLite.Path,
		"POSTGRES_URL":        &cfg.Storage.PostgreSQL.URL,
		"MONGODB_URL":         &cfg.Storage.MongoDB.URL,
		"MONGODB_DATABASE":    &cfg.Storage.MongoDB.Database,
		"MYSQL_DSN":           &cfg.Storage.MySQL.DSN,
		"USAGE_EVENTS_TYPE":   &cfg.Usage.Events.Type,
		"USAGE_EVENTS_URL":    &cfg.Usage.Events.URL,
		"USAGE_EVENTS_QUEUE":  &cfg.Usage.Events.Queue,
		"LOG_FORMAT":          &cfg.Logging.Format,
		"LOG_LEVEL":           &cfg.Logging.Level,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"HTTP_TIMEOUT":                 &cfg.HTTP.Timeout,
		"HTTP_RESPONSE_HEADER_TIMEOUT": &cfg.HTTP.ResponseHeaderTimeout,
		"POSTGRES_MAX_CONNS":           &cfg.Storage.PostgreSQL.MaxConns,
		"MYSQL_MAX_OPEN_CONNS":         &cfg.Storage.MySQL.MaxOpenConns,
		"USAGE_BUFFER_SIZE":            &cfg.Usage.BufferSize,
		"USAGE_FLUSH_INTERVAL":         &cfg.Usage.FlushInterval,
		"USAGE_RETENTION_DAYS":         &cfg.Usage.RetentionDays,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %q is not an integer", key, v)
		}
		*dst = n
	}

	bools := map[string]*bool{
		"METRICS_ENABLED": &cfg.Metrics.Enabled,
		"USAGE_ENABLED":   &cfg.Usage.Enabled,
	}
	for key, dst := range bools {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %q is not a boolean", key, v)
		}
		*dst = b
	}

	return nil
}

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString replaces ${VAR} and ${VAR:-default}. A variable that is unset
// or empty takes the default when one is given; without a default the
// placeholder is left as written.
func expandString(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := placeholderPattern.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		if parts[2] != "" {
			return parts[3]
		}
		return match
	})
}

// unresolvedVars lists the variable names of placeholders left in s.
func unresolvedVars(s string) []string {
	var names []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(s, -1) {
		names = append(names, m[1])
	}
	return names
}

// decodeExpanded decodes YAML into out after expanding placeholders in every
// scalar value. Plain scalars whose text changed are re-resolved so that
// "port: ${PORT:-8080}" can land in a number field.
func decodeExpanded(data []byte, out any) error {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return err
	}
	if root.Kind == 0 {
		return nil
	}
	expandNode(&root)
	return root.Decode(out)
}

func expandNode(n *yaml.Node) {
	if n.Kind == yaml.ScalarNode {
		expanded := expandString(n.Value)
		if expanded != n.Value {
			n.Value = expanded
			if n.Style == 0 {
				n.Tag = ""
			}
		}
		return
	}
	for _, child := range n.Content {
		expandNode(child)
	}
}
