// Package config resolves foxtrot settings from built-in defaults, a
// .foxtrot.yaml file and FOXTROT_* environment variables. Command-line flags
// are applied on top by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in the working and home directories.
const FileName = ".foxtrot.yaml"

// Transports.
const (
	TransportMarionette = "marionette"
	TransportBiDi       = "bidi"
)

// Config holds the resolved settings.
type Config struct {
	Transport     string
	Host          string
	Port          int // Marionette
	BiDiPort      int
	Timeout       time.Duration // per command; 0 means none
	Interval      time.Duration // between lookups while waiting
	MaxAttempts   int           // connect attempts; 0 retries forever
	RetryInterval time.Duration
	RequireTor    *bool
	FirefoxPath   string
	Headless      bool
	LogLevel      string
	Output        string // json, ndjson, text
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Transport:     TransportMarionette,
		Host:          "localhost",
		Port:          2828,
		BiDiPort:      9222,
		Timeout:       30 * time.Second,
		Interval:      200 * time.Millisecond,
		RetryInterval: time.Second,
		LogLevel:      "warn",
		Output:        "json",
	}
}

// fileConfig is the YAML layout. Unset keys leave the current value alone.
type fileConfig struct {
	Transport     *string `yaml:"transport"`
	Host          *string `yaml:"host"`
	Port          *int    `yaml:"port"`
	BiDiPort      *int    `yaml:"bidi_port"`
	Timeout       *string `yaml:"timeout"` // duration string, e.g. "30s"
	Interval      *string `yaml:"interval"`
	MaxAttempts   *int    `yaml:"max_attempts"`
	RetryInterval *string `yaml:"retry_interval"`
	RequireTor    *bool   `yaml:"require_tor"`
	FirefoxPath   *string `yaml:"firefox_path"`
	Headless      *bool   `yaml:"headless"`
	LogLevel      *string `yaml:"log_level"`
	Output        *string `yaml:"output"`
}

// SearchPaths returns the config file candidates in lookup order.
func SearchPaths() []string {
	paths := []string{filepath.Join(".", FileName)}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, FileName))
	}
	return paths
}

// LoadFile applies the first existing file among paths to cfg and returns
// its path, or "" when none exists. A file that exists but does not parse
// is an error.
func LoadFile(cfg *Config, paths ...string) (string, error) {
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", p, err)
		}
		if err := applyYAML(cfg, data); err != nil {
			return "", fmt.Errorf("parsing %s: %w", p, err)
		}
		return p, nil
	}
	return "", nil
}

func applyYAML(cfg *Config, data []byte) error {
	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		// a file with no document decodes to io.EOF
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}

	setString(&cfg.Transport, fc.Transport)
	setString(&cfg.Host, fc.Host)
	setInt(&cfg.Port, fc.Port)
	setInt(&cfg.BiDiPort, fc.BiDiPort)
	setInt(&cfg.MaxAttempts, fc.MaxAttempts)
	setString(&cfg.FirefoxPath, fc.FirefoxPath)
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.Output, fc.Output)
	if fc.Headless != nil {
		cfg.Headless = *fc.Headless
	}
	if fc.RequireTor != nil {
		v := *fc.RequireTor
		cfg.RequireTor = &v
	}

	for _, d := range []struct {
		key string
		src *string
		dst *time.Duration
	}{
		{"timeout", fc.Timeout, &cfg.Timeout},
		{"interval", fc.Interval, &cfg.Interval},
		{"retry_interval", fc.RetryInterval, &cfg.RetryInterval},
	} {
		if d.src == nil {
			continue
		}
		v, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = v
	}
	return nil
}

// ApplyEnv applies FOXTROT_* variables read through getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	strs := map[string]*string{
		"FOXTROT_TRANSPORT": &cfg.Transport,
		"FOXTROT_HOST":      &cfg.Host,
		"FOXTROT_FIREFOX":   &cfg.FirefoxPath,
		"FOXTROT_LOG_LEVEL": &cfg.LogLevel,
		"FOXTROT_OUTPUT":    &cfg.Output,
	}
	for name, dst := range strs {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"FOXTROT_PORT":         &cfg.Port,
		"FOXTROT_BIDI_PORT":    &cfg.BiDiPort,
		"FOXTROT_MAX_ATTEMPTS": &cfg.MaxAttempts,
	}
	for name, dst := range ints {
		if v := getenv(name); v != "" {
			i, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = i
		}
	}

	durations := map[string]*time.Duration{
		"FOXTROT_TIMEOUT":        &cfg.Timeout,
		"FOXTROT_INTERVAL":       &cfg.Interval,
		"FOXTROT_RETRY_INTERVAL": &cfg.RetryInterval,
	}
	for name, dst := range durations {
		if v := getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = d
		}
	}

	if v := getenv("FOXTROT_HEADLESS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FOXTROT_HEADLESS: %w", err)
		}
		cfg.Headless = b
	}
	if v := getenv("FOXTROT_REQUIRE_TOR"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FOXTROT_REQUIRE_TOR: %w", err)
		}
		cfg.RequireTor = &b
	}
	return nil
}

// Validate checks values that have a fixed set of choices or a range.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportMarionette, TransportBiDi:
	default:
		return fmt.Errorf("unknown transport %q (want %s or %s)", c.Transport, TransportMarionette, TransportBiDi)
	}
	switch c.Output {
	case "json", "ndjson", "text":
	default:
		return fmt.Errorf("unknown output format %q (want json, ndjson or text)", c.Output)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.BiDiPort <= 0 || c.BiDiPort > 65535 {
		return fmt.Errorf("bidi port %d out of range", c.BiDiPort)
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("max attempts must not be negative")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if c.RetryInterval < 0 {
		return fmt.Errorf("retry interval must not be negative")
	}
	return nil
}

// ConnectPort returns the port for the configured transport.
func (c *Config) ConnectPort() int {
	if c.Transport == TransportBiDi {
		return c.BiDiPort
	}
	return c.Port
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}
