// Package config loads taskctl settings from a TOML file and the
// environment.
//
// A minimal file:
//
//	base_url = "https://tasks.example.com/api/v1"
//	timeout = "30s"
//	log_level = "info"
//
//	[store]
//	page_size = 20
//
//	[ratelimit]
//	requests = 60
//	window = "1m"
//
//	[events]
//	nats_url = "nats://localhost:4222"
//	subject_prefix = "taskgate"
//
//	[telemetry]
//	endpoint = "localhost:4317"
//	protocol = "grpc"
//
// Environment variables override the file: TASKGATE_BASE_URL,
// TASKGATE_TIMEOUT, TASKGATE_LOG_LEVEL, TASKGATE_NATS_URL and
// OTEL_EXPORTER_OTLP_ENDPOINT.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ErrNoBaseURL is returned when no API base URL is configured.
var ErrNoBaseURL = errors.New("base_url is not configured")

// Defaults.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultLogLevel      = "info"
	DefaultPageSize      = 20
	DefaultSubjectPrefix = "taskgate"
	DefaultProtocol      = "grpc"
	DefaultServiceName   = "taskctl"
)

// Duration is a time.Duration written as a string ("30s", "1m") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config holds taskctl settings.
type Config struct {
	BaseURL  string   `toml:"base_url"`
	Timeout  Duration `toml:"timeout"`
	LogLevel string   `toml:"log_level"`

	Store     StoreConfig     `toml:"store"`
	RateLimit RateLimitConfig `toml:"ratelimit"`
	Events    EventsConfig    `toml:"events"`
	Telemetry TelemetryConfig `toml:"telemetry"`

	// Path is the file the config was read from, if any.
	Path string `toml:"-"`
}

// StoreConfig configures the task store.
type StoreConfig struct {
	PageSize int `toml:"page_size"`
}

// RateLimitConfig configures the client-side throttle. Zero requests
// disables it.
type RateLimitConfig struct {
	Requests int      `toml:"requests"`
	Window   Duration `toml:"window"`
}

// Enabled reports whether requests are throttled.
func (r RateLimitConfig) Enabled() bool {
	return r.Requests > 0
}

// EventsConfig selects the event bus. An empty NATS URL uses the in-memory
// bus.
type EventsConfig struct {
	NATSURL       string `toml:"nats_url"`
	SubjectPrefix string `toml:"subject_prefix"`
}

// TelemetryConfig configures trace export. An empty endpoint disables it.
type TelemetryConfig struct {
	Endpoint    string `toml:"endpoint"`
	Protocol    string `toml:"protocol"`
	Insecure    bool   `toml:"insecure"`
	ServiceName string `toml:"service_name"`
}

// Default returns a config with every default applied and no base URL.
func Default() *Config {
	return &Config{
		Timeout:  Duration{DefaultTimeout},
		LogLevel: DefaultLogLevel,
		Store:    StoreConfig{PageSize: DefaultPageSize},
		RateLimit: RateLimitConfig{
			Window: Duration{time.Minute},
		},
		Events: EventsConfig{SubjectPrefix: DefaultSubjectPrefix},
		Telemetry: TelemetryConfig{
			Protocol:    DefaultProtocol,
			ServiceName: DefaultServiceName,
		},
	}
}

// StandardPaths returns the config file locations searched when no path is
// given, in order of priority.
func StandardPaths() []string {
	paths := []string{"taskgate.toml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "taskgate", "config.toml"))
	}

	return paths
}

// Load reads the config at path, or the first standard location that
// exists when path is empty, then applies environment overrides. No file
// at any standard location is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		for _, p := range StandardPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		cfg.Path = path
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.fillDefaults()
	return cfg, nil
}

// Parse decodes config from TOML content without reading the environment.
func Parse(content string) (*Config, error) {
	cfg := Default()
	if _, err := toml.Decode(content, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.fillDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("TASKGATE_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("TASKGATE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			// Bare numbers are seconds.
			secs, nerr := strconv.Atoi(v)
			if nerr != nil {
				return fmt.Errorf("invalid TASKGATE_TIMEOUT %q: %w", v, err)
			}
			d = time.Duration(secs) * time.Second
		}
		c.Timeout = Duration{d}
	}
	if v := os.Getenv("TASKGATE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("TASKGATE_NATS_URL"); v != "" {
		c.Events.NATSURL = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
	}
	return nil
}

func (c *Config) fillDefaults() {
	if c.Timeout.Duration <= 0 {
		c.Timeout = Duration{DefaultTimeout}
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Store.PageSize <= 0 {
		c.Store.PageSize = DefaultPageSize
	}
	if c.RateLimit.Window.Duration <= 0 {
		c.RateLimit.Window = Duration{time.Minute}
	}
	if c.Events.SubjectPrefix == "" {
		c.Events.SubjectPrefix = DefaultSubjectPrefix
	}
	if c.Telemetry.Protocol == "" {
		c.Telemetry.Protocol = DefaultProtocol
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
}

// Validate checks the settings needed to talk to the API.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrNoBaseURL
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid base_url %q", c.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid base_url %q: scheme must be http or https", c.BaseURL)
	}
	if c.Store.PageSize > 100 {
		return fmt.Errorf("store.page_size %d exceeds the API maximum of 100", c.Store.PageSize)
	}
	switch strings.ToLower(c.Telemetry.Protocol) {
	case "grpc", "http":
	default:
		return fmt.Errorf("unknown telemetry protocol %q", c.Telemetry.Protocol)
	}
	return nil
}
