package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/torrant-go/torrant/cmd/mybittorrent/peering"
)

// EnvPath names the environment variable the CLI reads the config path from.
const EnvPath = "TORRANT_CONFIG"

type Config struct {
	Port         uint16        `yaml:"port"`
	PeerIDPrefix string        `yaml:"peer_id_prefix"`
	LogLevel     string        `yaml:"log_level"`
	Proxy        string        `yaml:"proxy"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	NumWant      int32         `yaml:"num_want"`
	HTTP         HTTP          `yaml:"http"`
	UDP          UDP           `yaml:"udp"`
}

type HTTP struct {
	Timeout time.Duration `yaml:"timeout"`
}

type UDP struct {
	// Timeout is the wait before the first retransmission; it doubles on
	// each retry.
	Timeout time.Duration `yaml:"timeout"`
	Retries int           `yaml:"retries"`
}

func Default() *Config {
	return &Config{
		Port:         6881,
		PeerIDPrefix: peering.DefaultPeerIDPrefix,
		LogLevel:     "info",
		DialTimeout:  3 * time.Second,
		NumWant:      -1,
		HTTP:         HTTP{Timeout: 15 * time.Second},
		UDP:          UDP{Timeout: 15 * time.Second, Retries: 3},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// FromEnv loads the file named by EnvPath, or the defaults when it is unset.
func FromEnv() (*Config, error) {
	path := os.Getenv(EnvPath)
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

func (c *Config) Validate() error {
	var err error
	if c.Port == 0 {
		err = multierr.Append(err, fmt.Errorf("port must not be 0"))
	}
	if len(c.PeerIDPrefix) > peering.PeerIDSize {
		err = multierr.Append(err, fmt.Errorf("peer_id_prefix is longer than %d bytes", peering.PeerIDSize))
	}
	if _, levelErr := zapcore.ParseLevel(c.LogLevel); levelErr != nil {
		err = multierr.Append(err, fmt.Errorf("log_level: %w", levelErr))
	}
	if c.DialTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("dial_timeout must be positive"))
	}
	if c.HTTP.Timeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("http.timeout must be positive"))
	}
	if c.UDP.Timeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("udp.timeout must be positive"))
	}
	if c.UDP.Retries < 0 {
		err = multierr.Append(err, fmt.Errorf("udp.retries must not be negative"))
	}
	return err
}

// Level is the parsed LogLevel; Validate has already rejected bad names.
func (c *Config) Level() zapcore.Level {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}
