// Package config provides configuration loading for the conversion service.
// Supports YAML files, .env files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Engine names.
const (
	EngineMarker = "marker"
	EngineLocal  = "local"
	EngineSurya  = "surya"
)

// DefaultMaxUploadBytes is the reference upload limit (20 MiB).
const DefaultMaxUploadBytes = 20 * 1024 * 1024

// Config holds all configuration for the conversion service.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Conversion    ConversionConfig    `yaml:"conversion"`
	Converter     ConverterConfig     `yaml:"converter"`
	Layout        LayoutConfig        `yaml:"layout"`
	Annotation    AnnotationConfig    `yaml:"annotation"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host                  string        `yaml:"host"`
	Port                  int           `yaml:"port"`
	ReadTimeout           time.Duration `yaml:"read_timeout"`
	WriteTimeout          time.Duration `yaml:"write_timeout"`
	IdleTimeout           time.Duration `yaml:"idle_timeout"`
	RequestTimeout        time.Duration `yaml:"request_timeout"`
	GracefulShutdown      time.Duration `yaml:"graceful_shutdown"`
	MaxConcurrentRequests int           `yaml:"max_concurrent_requests"`
	AllowedOrigins        []string      `yaml:"allowed_origins"`
}

// ConversionConfig holds pipeline settings.
type ConversionConfig struct {
	MaxUploadBytes int64   `yaml:"max_upload_bytes"`
	Zoom           float64 `yaml:"zoom"`
	PageWorkers    int     `yaml:"page_workers"`
	StructureCheck bool    `yaml:"structure_check"`
}

// ConverterConfig selects the document converter engine.
type ConverterConfig struct {
	Engine string       `yaml:"engine"` // marker or local
	Marker MarkerConfig `yaml:"marker"`
}

// MarkerConfig holds settings for the marker model server.
type MarkerConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// LayoutConfig holds layout detector settings.
type LayoutConfig struct {
	Enabled bool          `yaml:"enabled"`
	Engine  string        `yaml:"engine"` // surya
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// AnnotationConfig holds overlay drawing settings.
type AnnotationConfig struct {
	StrokeWidth float64 `yaml:"stroke_width"`
	Color       string  `yaml:"color"`
	LabelOffset int     `yaml:"label_offset"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies environment overrides.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                  "0.0.0.0",
			Port:                  8000,
			ReadTimeout:           60 * time.Second,
			WriteTimeout:          10 * time.Minute,
			IdleTimeout:           120 * time.Second,
			RequestTimeout:        10 * time.Minute,
			GracefulShutdown:      30 * time.Second,
			MaxConcurrentRequests: 10,
			AllowedOrigins:        []string{"*"},
		},
		Conversion: ConversionConfig{
			MaxUploadBytes: DefaultMaxUploadBytes,
			Zoom:           2,
			PageWorkers:    4,
			StructureCheck: true,
		},
		Converter: ConverterConfig{
			Engine: EngineMarker,
			Marker: MarkerConfig{
				URL:     "http://localhost:8001",
				Timeout: 10 * time.Minute,
			},
		},
		Layout: LayoutConfig{
			Enabled: false,
			Engine:  EngineSurya,
			URL:     "http://localhost:8002",
			Timeout: 2 * time.Minute,
		},
		Annotation: AnnotationConfig{
			StrokeWidth: 3,
			Color:       "#ff0000",
			LabelOffset: 10,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "doc-converter",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.MaxConcurrentRequests < 1 {
		return fmt.Errorf("max_concurrent_requests must be at least 1")
	}

	if c.Conversion.MaxUploadBytes < 1 {
		return fmt.Errorf("max_upload_bytes must be positive")
	}

	if c.Conversion.Zoom <= 0 {
		return fmt.Errorf("zoom must be positive, got %v", c.Conversion.Zoom)
	}

	if c.Conversion.PageWorkers < 1 {
		return fmt.Errorf("page_workers must be at least 1")
	}

	switch c.Converter.Engine {
	case EngineMarker:
		if c.Converter.Marker.URL == "" {
			return fmt.Errorf("converter.marker.url is required for the marker engine")
		}
	case EngineLocal:
	default:
		return fmt.Errorf("invalid converter engine: %s", c.Converter.Engine)
	}

	if c.Layout.Enabled {
		if c.Layout.Engine != EngineSurya {
			return fmt.Errorf("invalid layout engine: %s", c.Layout.Engine)
		}
		if c.Layout.URL == "" {
			return fmt.Errorf("layout.url is required when layout is enabled")
		}
	}

	if c.Annotation.StrokeWidth <= 0 {
		return fmt.Errorf("annotation.stroke_width must be positive")
	}

	if _, err := ParseColor(c.Annotation.Color); err != nil {
		return err
	}

	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SERVER_PORT: %w", err)
		}
		cfg.Server.Port = port
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}

	if v := os.Getenv("MAX_CONCURRENT_REQUESTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_CONCURRENT_REQUESTS: %w", err)
		}
		cfg.Server.MaxConcurrentRequests = n
	}

	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_UPLOAD_BYTES: %w", err)
		}
		cfg.Conversion.MaxUploadBytes = n
	}

	if v := os.Getenv("RENDER_ZOOM"); v != "" {
		z, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RENDER_ZOOM: %w", err)
		}
		cfg.Conversion.Zoom = z
	}

	if v := os.Getenv("CONVERTER_ENGINE"); v != "" {
		cfg.Converter.Engine = v
	}

	if v := os.Getenv("MARKER_URL"); v != "" {
		cfg.Converter.Marker.URL = v
	}

	// Setting a layout endpoint turns the detector variant on.
	if v := os.Getenv("LAYOUT_URL"); v != "" {
		cfg.Layout.URL = v
		cfg.Layout.Enabled = true
	}

	if v := os.Getenv("LAYOUT_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LAYOUT_ENABLED: %w", err)
		}
		cfg.Layout.Enabled = enabled
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}

	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
