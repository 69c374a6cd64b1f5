package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

type Config struct {
	API    APIConfig    `yaml:"api" mapstructure:"api"`
	Stream StreamConfig `yaml:"stream" mapstructure:"stream"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
	Mock   MockConfig   `yaml:"mock" mapstructure:"mock"`
}

type APIConfig struct {
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
	Token   string        `yaml:"token" mapstructure:"token"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

type StreamConfig struct {
	// Transport is "sse" (HTTP event stream, also accepts NDJSON) or "websocket".
	Transport string `yaml:"transport" mapstructure:"transport"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Pretty bool   `yaml:"pretty" mapstructure:"pretty"`
	// File receives log output while the TUI owns the terminal.
	File string `yaml:"file" mapstructure:"file"`
}

type MockConfig struct {
	Host string        `yaml:"host" mapstructure:"host"`
	Port int           `yaml:"port" mapstructure:"port"`
	Tick time.Duration `yaml:"tick" mapstructure:"tick"`
	// Scenario selects the scripted run: "checkpoint", "happy", "failure".
	Scenario string `yaml:"scenario" mapstructure:"scenario"`
}

func defaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://127.0.0.1:8000/api",
			Timeout: 10 * time.Second,
		},
		Stream: StreamConfig{
			Transport: TransportSSE,
		},
		Log: LogConfig{
			Level: "info",
		},
		Mock: MockConfig{
			Host:     "127.0.0.1",
			Port:     8000,
			Tick:     500 * time.Millisecond,
			Scenario: "checkpoint",
		},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the client cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return errors.New("api.base_url is required")
	}
	switch c.Stream.Transport {
	case TransportSSE, TransportWebSocket:
	default:
		return fmt.Errorf("stream.transport %q: want %q or %q", c.Stream.Transport, TransportSSE, TransportWebSocket)
	}
	if c.Mock.Tick < 0 {
		return errors.New("mock.tick must not be negative")
	}
	return nil
}
