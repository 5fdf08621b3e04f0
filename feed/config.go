package feed

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v2"
)

// Config is the YAML configuration of a gfeed server.
//
// Example:
//
//	listen: ":8080"
//	data_dir: /srv/geometry
//	prefix: /geometry
//	base_url: https://models.example.org/geometry/
//	max_items: 50
//	file_max_age: 1h
//	catalog_ttl: 30s
//	watch: true
//	channel:
//	  title: BRL-CAD sample models
//	  description: Geometry database files
//	content_types:
//	  g: application/x-brlcad
//	store:
//	  driver: sqlite
//	  dsn: /var/lib/gfeed/ledger.db
type Config struct {
	Listen       string            `yaml:"listen"`
	DataDir      string            `yaml:"data_dir"`
	Prefix       string            `yaml:"prefix"`
	BaseURL      string            `yaml:"base_url"`
	MaxItems     int               `yaml:"max_items"`
	FileMaxAge   time.Duration     `yaml:"file_max_age"`
	CatalogTTL   time.Duration     `yaml:"catalog_ttl"`
	Watch        bool              `yaml:"watch"`
	Checksums    bool              `yaml:"checksums"`
	Channel      Channel           `yaml:"channel"`
	ContentTypes map[string]string `yaml:"content_types"`

	Store struct {
		Driver string `yaml:"driver"` // "", memory, sqlite, mysql
		DSN    string `yaml:"dsn"`
	} `yaml:"store"`

	Log struct {
		JSON bool `yaml:"json"`
	} `yaml:"log"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`

	Tracing struct {
		Enabled     bool   `yaml:"enabled"`
		ServiceName string `yaml:"service_name"`
	} `yaml:"tracing"`
}

// DefaultConfig returns the configuration used for fields a file omits.
func DefaultConfig() Config {
	cfg := Config{
		Listen:     ":8080",
		DataDir:    ".",
		FileMaxAge: time.Hour,
		CatalogTTL: 30 * time.Second,
		Channel:    DefaultChannel(),
	}
	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "/metrics"
	cfg.Tracing.ServiceName = "gfeed"
	return cfg
}

// LoadConfig reads and parses a YAML configuration file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML over DefaultConfig and validates the result.
// Unknown keys are rejected.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values no server could run with.
func (c Config) Validate() error {
	var problems []string

	if c.Listen == "" {
		problems = append(problems, "listen address is required")
	}
	if c.DataDir == "" {
		problems = append(problems, "data_dir is required")
	}
	if c.Prefix != "" && !strings.HasPrefix(c.Prefix, "/") {
		problems = append(problems, "prefix must start with /")
	}
	if c.MaxItems < 0 {
		problems = append(problems, "max_items cannot be negative")
	}
	if c.FileMaxAge < 0 {
		problems = append(problems, "file_max_age cannot be negative")
	}
	if c.CatalogTTL < 0 {
		problems = append(problems, "catalog_ttl cannot be negative")
	}
	if c.Channel.Title == "" {
		problems = append(problems, "channel.title is required")
	}
	if _, err := DefaultContentTypes().WithOverrides(c.ContentTypes); err != nil {
		problems = append(problems, err.Error())
	}
	switch c.Store.Driver {
	case "", "memory":
	case "sqlite", "mysql":
		if c.Store.DSN == "" {
			problems = append(problems, "store.dsn is required for driver "+c.Store.Driver)
		}
	default:
		problems = append(problems, "unknown store.driver "+c.Store.Driver)
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		problems = append(problems, "metrics.path must start with /")
	}

	if len(problems) > 0 {
		return &Error{Message: "invalid config: " + strings.Join(problems, "; "), Code: "INVALID_CONFIG"}
	}
	return nil
}

// ServerOptions converts the configuration into Server options. Store,
// emitter and metrics are wired by the caller.
func (c Config) ServerOptions() ([]Option, error) {
	types, err := DefaultContentTypes().WithOverrides(c.ContentTypes)
	if err != nil {
		return nil, err
	}
	return []Option{
		WithPrefix(c.Prefix),
		WithBaseURL(c.BaseURL),
		WithChannel(c.Channel),
		WithContentTypes(types),
		WithMaxItems(c.MaxItems),
		WithFileMaxAge(c.FileMaxAge),
	}, nil
}

// CatalogOptions converts the configuration into Catalog options.
func (c Config) CatalogOptions() []CatalogOption {
	return []CatalogOption{
		WithTTL(c.CatalogTTL),
		WithChecksums(c.Checksums),
	}
}
