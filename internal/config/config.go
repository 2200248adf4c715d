// Package config handles lunatix configuration using Viper.
//
// Configuration sources (in priority order):
//  1. Environment variables (LUNATIX_*)
//  2. Config file (<config root>/lunatix/config.yaml)
//  3. Built-in defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/lunatix-dev/lunatix/internal/paths"
)

const (
	// DefaultBackendURL is the canonical URL of the bundled backend.
	DefaultBackendURL = "http://localhost:8080"
	// DefaultSidecarName is the manifest of the bundled backend.
	DefaultSidecarName = "cpp-server"
	// DefaultBridgeAddr is the loopback address of the shell bridge.
	DefaultBridgeAddr = "127.0.0.1:17380"

	// EnvStandalone enables standalone mode at startup when set to exactly "1".
	EnvStandalone = "LUNATIX_STANDALONE"
)

// Keys accepted by Set.
const (
	KeyBackendURL    = "backend.url"
	KeySidecarName   = "sidecar.name"
	KeySidecarPath   = "sidecar.path"
	KeySidecarPort   = "sidecar.port"
	KeyBridgeAddr    = "bridge.addr"
	KeyBridgeOrigins = "bridge.origins"
	KeyStandalone    = "standalone"
)

// ErrUnknownKey is returned by Set for keys lunatix does not read.
var ErrUnknownKey = errors.New("unknown config key")

var knownKeys = []string{KeyBackendURL, KeySidecarName, KeySidecarPath, KeySidecarPort, KeyBridgeAddr, KeyBridgeOrigins, KeyStandalone}

// Config holds the lunatix configuration.
type Config struct {
	v    *viper.Viper
	file string
}

// Load reads configuration from all sources.
func Load() *Config {
	file, err := paths.ConfigFile()
	if err != nil {
		file = ""
	}

	return load(file)
}

func load(file string) *Config {
	v := viper.New()

	v.SetDefault(KeyBackendURL, DefaultBackendURL)
	v.SetDefault(KeySidecarName, DefaultSidecarName)
	v.SetDefault(KeySidecarPath, "")
	v.SetDefault(KeySidecarPort, 0)
	v.SetDefault(KeyBridgeAddr, DefaultBridgeAddr)
	v.SetDefault(KeyBridgeOrigins, "")
	v.SetDefault(KeyStandalone, false)

	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("LUNATIX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		if err := v.ReadInConfig(); err != nil && !isNotFound(err) {
			fmt.Fprintf(os.Stderr, "Warning: error reading config file: %v\n", err)
		}
	}

	return &Config{v: v, file: file}
}

func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError

	return errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
}

// File returns the config file path, or "" when it could not be resolved.
func (c *Config) File() string {
	return c.file
}

// Get returns a configuration value.
func (c *Config) Get(key string) any {
	return c.v.Get(key)
}

// GetString returns a configuration value as string.
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt returns a configuration value as int.
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// Set validates value for key, stores it, and persists the config file.
func (c *Config) Set(key string, value string) error {
	key = strings.ToLower(strings.TrimSpace(key))
	if !slices.Contains(knownKeys, key) {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	typed, err := coerce(key, value)
	if err != nil {
		return err
	}

	if c.file == "" {
		return errors.New("config file location unknown")
	}

	c.v.Set(key, typed)

	if err := os.MkdirAll(filepath.Dir(c.file), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	if err := c.v.WriteConfigAs(c.file); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

func coerce(key, value string) (any, error) {
	switch key {
	case KeySidecarPort:
		port, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("%s must be a port number, got %q", key, value)
		}

		return port, nil
	case KeyStandalone:
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("%s must be true or false, got %q", key, value)
		}

		return b, nil
	default:
		return strings.TrimSpace(value), nil
	}
}

// All returns all configuration as a map.
func (c *Config) All() map[string]any {
	return c.v.AllSettings()
}

// Keys returns the keys lunatix reads, sorted.
func Keys() []string {
	keys := slices.Clone(knownKeys)
	slices.Sort(keys)

	return keys
}

// BackendURL returns the URL used in remote mode at startup.
func (c *Config) BackendURL() string {
	return c.GetString(KeyBackendURL)
}

// SidecarName returns the manifest name of the bundled backend.
func (c *Config) SidecarName() string {
	return c.GetString(KeySidecarName)
}

// SidecarPath returns an explicit path to the sidecar binary, if any.
func (c *Config) SidecarPath() string {
	return c.GetString(KeySidecarPath)
}

// SidecarPort returns the port the bundled backend is told to listen on.
// Zero means the port from the sidecar manifest.
func (c *Config) SidecarPort() int {
	return c.GetInt(KeySidecarPort)
}

// BridgeAddr returns the loopback address of the shell bridge.
func (c *Config) BridgeAddr() string {
	return c.GetString(KeyBridgeAddr)
}

// BridgeOrigins returns the browser origin host patterns allowed to call the
// bridge, from a comma-separated list. Empty means the bridge defaults.
func (c *Config) BridgeOrigins() []string {
	var patterns []string

	for p := range strings.SplitSeq(c.GetString(KeyBridgeOrigins), ",") {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}

	return patterns
}

// Standalone reports whether the bundled backend should be spawned at
// startup. When LUNATIX_STANDALONE is present only the exact value "1"
// enables it; otherwise the config file setting applies.
func (c *Config) Standalone() bool {
	if raw, ok := os.LookupEnv(EnvStandalone); ok {
		return raw == "1"
	}

	return c.v.GetBool(KeyStandalone)
}
