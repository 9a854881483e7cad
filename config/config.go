// Package config loads panel connection settings from a YAML file, the
// ULTRASYNC_* environment and built-in defaults, in that order of precedence
// (environment wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/st-keller/ultrasync"
)

// EnvPrefix prefixes every environment override, e.g. ULTRASYNC_HOST.
const EnvPrefix = "ULTRASYNC"

// DefaultUserAgent is the browser the panel expects to talk to.
const DefaultUserAgent = ultrasync.DefaultUserAgent

// Settings is the on-disk configuration.
type Settings struct {
	// Host is the panel host name or address (default: "zerowire")
	Host string `mapstructure:"host"`
	// User is the panel user name (default: "User 1")
	User string `mapstructure:"user"`
	// Pin is the user's PIN (default: "1234")
	Pin string `mapstructure:"pin"`
	// UserAgent is sent with every request
	UserAgent string `mapstructure:"user_agent"`
	// Scheme is "http" or "https" (default: "http")
	Scheme string `mapstructure:"scheme"`
	// CAPath is an optional CA bundle for https panels
	CAPath string `mapstructure:"ca_path"`
	// Insecure skips TLS verification (self-signed panel certificates)
	Insecure bool `mapstructure:"insecure"`
	// TimeoutMs is the per-request deadline in milliseconds (default: 5000)
	TimeoutMs int `mapstructure:"timeout_ms"`
	// History is the path of the change journal used by watch (default: none)
	History string `mapstructure:"history"`
	// Logging controls the structured log output
	Logging LoggingConfig `mapstructure:"logging"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is debug, info, warn or error (default: "warn")
	Level string `mapstructure:"level"`
	// Format is "text" or "json" (default: "text")
	Format string `mapstructure:"format"`
}

// Default returns the built-in settings.
func Default() *Settings {
	return &Settings{
		Host:      "zerowire",
		User:      "User 1",
		Pin:       "1234",
		UserAgent: DefaultUserAgent,
		Scheme:    "http",
		TimeoutMs: 5000,
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// SetDefaults registers the defaults on v.
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("host", defaults.Host)
	v.SetDefault("user", defaults.User)
	v.SetDefault("pin", defaults.Pin)
	v.SetDefault("user_agent", defaults.UserAgent)
	v.SetDefault("scheme", defaults.Scheme)
	v.SetDefault("ca_path", defaults.CAPath)
	v.SetDefault("insecure", defaults.Insecure)
	v.SetDefault("timeout_ms", defaults.TimeoutMs)
	v.SetDefault("history", defaults.History)

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)
}

// SearchPaths returns the default configuration file locations.
func SearchPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{
		filepath.Join(home, ".ultrasync"),
		filepath.Join(home, ".config", "ultrasync"),
	}
}

// Load reads settings from path, or from the first existing SearchPaths
// entry when path is empty. A missing default file is not an error; a
// missing explicit path is.
func Load(path string) (*Settings, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		for _, candidate := range SearchPaths() {
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				path = candidate
				break
			}
		}
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("invalid config path %s: %w", path, err)
	}

	if path != "" {
		raw, err := readFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := v.MergeConfigMap(raw); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// readFile parses a `key: value` file. Every scalar is kept as written, so a
// PIN such as 0852 is not read as a number.
func readFile(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return map[string]interface{}{}, nil
	}
	root := doc.Content[0]
	if root.Kind == yaml.ScalarNode && root.Tag == "!!null" {
		return map[string]interface{}{}, nil
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected key: value pairs")
	}
	return rawValue(root).(map[string]interface{}), nil
}

func rawValue(n *yaml.Node) interface{} {
	switch n.Kind {
	case yaml.MappingNode:
		m := make(map[string]interface{}, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			m[n.Content[i].Value] = rawValue(n.Content[i+1])
		}
		return m
	case yaml.SequenceNode:
		list := make([]interface{}, len(n.Content))
		for i, c := range n.Content {
			list[i] = rawValue(c)
		}
		return list
	case yaml.AliasNode:
		return rawValue(n.Alias)
	default:
		return n.Value
	}
}

// Validate checks the settings for values the client cannot use.
func (s *Settings) Validate() error {
	var errs []error
	if s.Host == "" {
		errs = append(errs, fmt.Errorf("host required"))
	}
	if s.User == "" {
		errs = append(errs, fmt.Errorf("user required"))
	}
	if s.Pin == "" {
		errs = append(errs, fmt.Errorf("pin required"))
	}
	if s.Scheme != "http" && s.Scheme != "https" {
		errs = append(errs, fmt.Errorf("scheme must be http or https, got %q", s.Scheme))
	}
	if s.TimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("timeout_ms must be >= 0"))
	}
	switch strings.ToLower(s.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", s.Logging.Format))
	}
	return errors.Join(errs...)
}

// ClientConfig converts the settings into a client configuration.
func (s *Settings) ClientConfig() ultrasync.Config {
	return ultrasync.Config{
		Host:               s.Host,
		User:               s.User,
		Pin:                s.Pin,
		UserAgent:          s.UserAgent,
		Scheme:             s.Scheme,
		CAPath:             s.CAPath,
		InsecureSkipVerify: s.Insecure,
		RequestTimeout:     time.Duration(s.TimeoutMs) * time.Millisecond,
	}
}
