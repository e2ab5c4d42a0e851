// Package config loads penf-chat service configuration from a YAML file and
// PENF_CHAT_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/penf-chat/pkg/db"
	"github.com/otherjamesbrown/penf-chat/pkg/directory"
	"github.com/otherjamesbrown/penf-chat/pkg/events"
	"github.com/otherjamesbrown/penf-chat/pkg/logging"
	"github.com/otherjamesbrown/penf-chat/pkg/mentions/dispatch"
	"github.com/otherjamesbrown/penf-chat/pkg/mentions/processor"
	"github.com/otherjamesbrown/penf-chat/pkg/responder"
)

// OutputFormat defines the supported output formats for CLI results.
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
	OutputFormatYAML OutputFormat = "yaml"
)

// Default configuration values.
const (
	DefaultHTTPAddr     = ":8080"
	DefaultOutputFormat = OutputFormatText
	DefaultConfigDir    = ".penf-chat"
	DefaultConfigFile   = "config.yaml"
)

// HTTPConfig configures the trigger and metrics listener.
type HTTPConfig struct {
	// Addr is the listen address. Empty disables the listener.
	Addr string `yaml:"addr"`
}

// ServiceConfig holds everything penf-chat needs to run.
type ServiceConfig struct {
	Database  db.Config             `yaml:"database"`
	Redis     events.Config         `yaml:"redis"`
	Responder responder.Config      `yaml:"responder"`
	Processor processor.Config      `yaml:"processor"`
	Dispatch  dispatch.Config       `yaml:"dispatch"`
	Directory directory.CacheConfig `yaml:"directory"`
	Logging   logging.Config        `yaml:"logging"`
	HTTP      HTTPConfig            `yaml:"http"`

	OutputFormat OutputFormat `yaml:"output_format"`
}

// DefaultConfig returns a ServiceConfig with default values.
func DefaultConfig() *ServiceConfig {
	return &ServiceConfig{
		Database:     *db.DefaultConfig(),
		Redis:        events.Config{Host: "localhost", Port: 6379},
		Responder:    responder.DefaultConfig(),
		Processor:    processor.DefaultConfig(),
		Dispatch:     dispatch.DefaultConfig(),
		Directory:    directory.DefaultCacheConfig(),
		Logging:      *logging.DefaultConfig(),
		HTTP:         HTTPConfig{Addr: DefaultHTTPAddr},
		OutputFormat: DefaultOutputFormat,
	}
}

// ConfigDir returns the configuration directory path.
// Uses $PENF_CHAT_CONFIG_DIR if set, otherwise ~/.penf-chat
func ConfigDir() (string, error) {
	if dir := os.Getenv("PENF_CHAT_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, DefaultConfigDir), nil
}

// ConfigPath returns the full path to the default configuration file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFile), nil
}

// Load loads configuration in this order, later sources overriding earlier:
//  1. Default values
//  2. The file at path, or the default config path when path is empty
//  3. DB_* and PENF_CHAT_* environment variables
//
// A missing default file is not an error; a missing explicit path is.
func Load(path string) (*ServiceConfig, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		p, err := ConfigPath()
		if err != nil {
			return nil, fmt.Errorf("getting config path: %w", err)
		}
		path = p
	}

	if _, err := os.Stat(path); err == nil {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// configFile mirrors ServiceConfig with durations as strings, since yaml.v3
// does not decode "30s" into time.Duration.
type configFile struct {
	Database struct {
		URL             string `yaml:"url"`
		Host            string `yaml:"host"`
		Port            int    `yaml:"port"`
		Database        string `yaml:"database"`
		User            string `yaml:"user"`
		Password        string `yaml:"password"`
		SSLMode         string `yaml:"sslmode"`
		MaxConns        int32  `yaml:"max_conns"`
		MinConns        *int32 `yaml:"min_conns"`
		MaxConnLifetime string `yaml:"max_conn_lifetime"`
		MaxConnIdleTime string `yaml:"max_conn_idle_time"`
		ConnectTimeout  string `yaml:"connect_timeout"`
	} `yaml:"database"`

	Redis *events.Config `yaml:"redis"`

	Responder struct {
		BaseURL          string        `yaml:"base_url"`
		API              responder.API `yaml:"api"`
		Model            string        `yaml:"model"`
		APIKey           string        `yaml:"api_key"`
		Timeout          string        `yaml:"timeout"`
		MaxResponseBytes int64         `yaml:"max_response_bytes"`
	} `yaml:"responder"`

	Processor struct {
		ResponderTimeout string `yaml:"responder_timeout"`
	} `yaml:"processor"`

	Dispatch struct {
		IdleTimeout     string `yaml:"idle_timeout"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
		MaxConcurrent   int    `yaml:"max_concurrent"`
		SweepInterval   string `yaml:"sweep_interval"`
	} `yaml:"dispatch"`

	Directory struct {
		CacheSize *int   `yaml:"cache_size"`
		CacheTTL  string `yaml:"cache_ttl"`
	} `yaml:"directory"`

	Logging struct {
		Level       logging.Level `yaml:"level"`
		ServiceName string        `yaml:"service_name"`
		Environment string        `yaml:"environment"`
		JSON        *bool         `yaml:"json"`
	} `yaml:"logging"`

	HTTP *HTTPConfig `yaml:"http"`

	OutputFormat OutputFormat `yaml:"output_format"`
}

// loadFromFile overlays the YAML file at path onto cfg.
func loadFromFile(cfg *ServiceConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var f configFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	d := f.Database
	setString(&cfg.Database.URL, d.URL)
	setString(&cfg.Database.Host, d.Host)
	setString(&cfg.Database.Database, d.Database)
	setString(&cfg.Database.User, d.User)
	setString(&cfg.Database.Password, d.Password)
	setString(&cfg.Database.SSLMode, d.SSLMode)
	if d.Port != 0 {
		cfg.Database.Port = d.Port
	}
	if d.MaxConns != 0 {
		cfg.Database.MaxConns = d.MaxConns
	}
	if d.MinConns != nil {
		cfg.Database.MinConns = *d.MinConns
	}

	if f.Redis != nil {
		cfg.Redis = *f.Redis
	}

	r := f.Responder
	setString(&cfg.Responder.BaseURL, r.BaseURL)
	setString(&cfg.Responder.Model, r.Model)
	setString(&cfg.Responder.APIKey, r.APIKey)
	if r.API != "" {
		cfg.Responder.API = r.API
	}
	if r.MaxResponseBytes != 0 {
		cfg.Responder.MaxResponseBytes = r.MaxResponseBytes
	}

	if f.Dispatch.MaxConcurrent != 0 {
		cfg.Dispatch.MaxConcurrent = f.Dispatch.MaxConcurrent
	}
	if f.Directory.CacheSize != nil {
		cfg.Directory.Size = *f.Directory.CacheSize
	}

	l := f.Logging
	if l.Level != "" {
		cfg.Logging.Level = l.Level
	}
	setString(&cfg.Logging.ServiceName, l.ServiceName)
	setString(&cfg.Logging.Environment, l.Environment)
	if l.JSON != nil {
		cfg.Logging.JSONFormat = *l.JSON
	}

	if f.HTTP != nil {
		cfg.HTTP = *f.HTTP
	}
	if f.OutputFormat != "" {
		cfg.OutputFormat = f.OutputFormat
	}

	durations := []struct {
		field string
		value string
		dst   *time.Duration
	}{
		{"database.max_conn_lifetime", d.MaxConnLifetime, &cfg.Database.MaxConnLifetime},
		{"database.max_conn_idle_time", d.MaxConnIdleTime, &cfg.Database.MaxConnIdleTime},
		{"database.connect_timeout", d.ConnectTimeout, &cfg.Database.ConnectTimeout},
		{"responder.timeout", r.Timeout, &cfg.Responder.Timeout},
		{"processor.responder_timeout", f.Processor.ResponderTimeout, &cfg.Processor.ResponderTimeout},
		{"dispatch.idle_timeout", f.Dispatch.IdleTimeout, &cfg.Dispatch.IdleTimeout},
		{"dispatch.shutdown_timeout", f.Dispatch.ShutdownTimeout, &cfg.Dispatch.ShutdownTimeout},
		{"dispatch.sweep_interval", f.Dispatch.SweepInterval, &cfg.Dispatch.SweepInterval},
		{"directory.cache_ttl", f.Directory.CacheTTL, &cfg.Directory.TTL},
	}
	for _, dur := range durations {
		if dur.value == "" {
			continue
		}
		v, err := time.ParseDuration(dur.value)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", dur.field, err)
		}
		*dur.dst = v
	}

	return nil
}

// loadFromEnv overlays environment variables onto the configuration.
func loadFromEnv(cfg *ServiceConfig) {
	db.ApplyEnv(&cfg.Database)

	if v := os.Getenv("PENF_CHAT_REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v := os.Getenv("PENF_CHAT_REDIS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Redis.Port = p
		}
	}
	if v := os.Getenv("PENF_CHAT_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("PENF_CHAT_RESPONDER_URL"); v != "" {
		cfg.Responder.BaseURL = v
	}
	if v := os.Getenv("PENF_CHAT_RESPONDER_API"); v != "" {
		cfg.Responder.API = responder.API(v)
	}
	if v := os.Getenv("PENF_CHAT_RESPONDER_MODEL"); v != "" {
		cfg.Responder.Model = v
	}
	if v := os.Getenv("PENF_CHAT_RESPONDER_API_KEY"); v != "" {
		cfg.Responder.APIKey = v
	}
	if v := os.Getenv("PENF_CHAT_RESPONDER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Processor.ResponderTimeout = d
		}
	}

	if v := os.Getenv("PENF_CHAT_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("PENF_CHAT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = logging.Level(v)
	}
	if v := os.Getenv("PENF_CHAT_LOG_JSON"); v == "true" || v == "1" {
		cfg.Logging.JSONFormat = true
	}
	if v := os.Getenv("PENF_CHAT_OUTPUT_FORMAT"); v != "" {
		cfg.OutputFormat = OutputFormat(v)
	}
}

// Validate checks that the configuration is valid.
func (c *ServiceConfig) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Responder.Validate(); err != nil {
		return fmt.Errorf("responder: %w", err)
	}
	if err := c.Processor.Validate(); err != nil {
		return fmt.Errorf("processor: %w", err)
	}
	if err := c.Dispatch.Validate(); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	// Each running drain pins a connection for its clone lock.
	if c.Database.MaxConns > 0 && int32(c.Dispatch.MaxConcurrent) >= c.Database.MaxConns {
		return fmt.Errorf("dispatch: max_concurrent (%d) must be below database max_conns (%d)",
			c.Dispatch.MaxConcurrent, c.Database.MaxConns)
	}
	if c.Directory.Size < 0 {
		return fmt.Errorf("directory: cache_size must not be negative")
	}
	if !c.OutputFormat.IsValid() {
		return fmt.Errorf("invalid output_format: %q (must be text, json, or yaml)", c.OutputFormat)
	}
	return nil
}

// IsValid checks if the output format is valid.
func (f OutputFormat) IsValid() bool {
	switch f {
	case OutputFormatText, OutputFormatJSON, OutputFormatYAML:
		return true
	default:
		return false
	}
}

// String returns the string representation of the output format.
func (f OutputFormat) String() string {
	return string(f)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
