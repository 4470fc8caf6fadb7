package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Metrics MetricsConfig `yaml:"metrics"`
	Console ConsoleConfig `yaml:"console"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	ReadBufferSize int           `yaml:"read_buffer_size"`
	MaxLineBytes   int           `yaml:"max_line_bytes"`
}

type MetricsConfig struct {
	// Addr is the prometheus listen address; empty disables the endpoint.
	Addr string `yaml:"addr"`
}

type ConsoleConfig struct {
	DrainInterval time.Duration `yaml:"drain_interval"`
	Color         string        `yaml:"color"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           5050,
			PollInterval:   time.Second,
			ReadBufferSize: 4096,
		},
		Console: ConsoleConfig{
			DrainInterval: 200 * time.Millisecond,
			Color:         "auto",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.PollInterval <= 0 {
		return fmt.Errorf("server.poll_interval must be positive, got %s", c.Server.PollInterval)
	}
	if c.Server.ReadBufferSize <= 0 {
		return fmt.Errorf("server.read_buffer_size must be positive, got %d", c.Server.ReadBufferSize)
	}
	if c.Server.MaxLineBytes < 0 {
		return fmt.Errorf("server.max_line_bytes must not be negative, got %d", c.Server.MaxLineBytes)
	}
	if c.Console.DrainInterval <= 0 {
		return fmt.Errorf("console.drain_interval must be positive, got %s", c.Console.DrainInterval)
	}
	switch c.Console.Color {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("console.color must be auto, always or never, got %q", c.Console.Color)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}
	return nil
}

func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(l.Level))); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
