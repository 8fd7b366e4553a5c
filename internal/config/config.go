package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/sweaterweather2003/W-MBus-Telegram-Decryption-Tool/internal/options"
)

// Config holds meter keys and the settings for the CLI.
type Config struct {
	DefaultKey string            `yaml:"default_key"`
	Keys       map[string]string `yaml:"keys"` // meter id (display order) -> key hex
	Serial     SerialConfig      `yaml:"serial"`
	Logging    LoggingConfig     `yaml:"logging"`

	defaultKey []byte
	keys       map[string][]byte
}

// SerialConfig describes a receiver dongle that prints one hex telegram per
// line.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Serial:  SerialConfig{BaudRate: 9600},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads, parses and validates the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks every section and decodes the keys.
func (c *Config) Validate() error {
	key, err := options.ParseKeyHex(c.DefaultKey)
	if err != nil {
		return fmt.Errorf("default_key: %w", err)
	}
	c.defaultKey = key

	c.keys = make(map[string][]byte, len(c.Keys))
	for id, hexKey := range c.Keys {
		norm := normalizeMeterID(id)
		if len(norm) != 8 {
			return fmt.Errorf("keys: meter id %q must be 8 hex digits", id)
		}
		key, err := options.ParseKeyHex(hexKey)
		if err != nil {
			return fmt.Errorf("keys[%s]: %w", id, err)
		}
		if key == nil {
			return fmt.Errorf("keys[%s]: empty key", id)
		}
		c.keys[norm] = key
	}

	if err := c.Serial.Validate(); err != nil {
		return fmt.Errorf("serial config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate validates serial configuration.
func (s *SerialConfig) Validate() error {
	if s.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", s.BaudRate)
	}
	return nil
}

// Validate validates logging configuration.
func (l *LoggingConfig) Validate() error {
	if _, err := l.ParsedLevel(); err != nil {
		return err
	}
	return nil
}

// ParsedLevel returns the logrus level, defaulting to info.
func (l LoggingConfig) ParsedLevel() (logrus.Level, error) {
	if l.Level == "" {
		return logrus.InfoLevel, nil
	}
	lvl, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log level %q: %w", l.Level, err)
	}
	return lvl, nil
}

// KeyFor returns the key for meterID, falling back to the default key.
func (c *Config) KeyFor(meterID string) ([]byte, bool) {
	if key, ok := c.keys[normalizeMeterID(meterID)]; ok {
		return key, true
	}
	if c.defaultKey != nil {
		return c.defaultKey, true
	}
	return nil, false
}

func normalizeMeterID(id string) string {
	return strings.ToUpper(options.CleanHex(id))
}
