// Package paths resolves the per-user directories lunatix reads and writes.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

const appName = "lunatix"

// root resolves an application directory: an absolute XDG variable wins,
// then the OS default, then a directory under the home dir.
func root(xdgEnv string, osFn func() (string, error), homeFallback string) (string, error) {
	if xdg := os.Getenv(xdgEnv); xdg != "" && filepath.IsAbs(xdg) {
		return filepath.Join(xdg, appName), nil
	}

	var osErr error

	if osFn != nil {
		dir, err := osFn()
		if err == nil && dir != "" {
			return filepath.Join(dir, appName), nil
		}

		osErr = err
	}

	home, err := os.UserHomeDir()
	if err == nil && home != "" {
		return filepath.Join(home, homeFallback, appName), nil
	}

	if osErr != nil {
		return "", osErr
	}

	return "", fmt.Errorf("resolve user home directory")
}

// ConfigRoot returns the user config directory.
func ConfigRoot() (string, error) {
	return root("XDG_CONFIG_HOME", os.UserConfigDir, ".config")
}

// StateRoot returns the user state directory. There is no OS default for
// state, so it is XDG_STATE_HOME or ~/.local/state.
func StateRoot() (string, error) {
	return root("XDG_STATE_HOME", nil, filepath.Join(".local", "state"))
}

// ConfigFile returns the path of config.yaml.
func ConfigFile() (string, error) {
	dir, err := ConfigRoot()
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, "config.yaml"), nil
}

// LogsDir returns the default log directory.
func LogsDir() (string, error) {
	dir, err := StateRoot()
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, "logs"), nil
}

// DefaultLogFile returns the log file used when stderr logging is off.
func DefaultLogFile() (string, error) {
	dir, err := LogsDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, appName+".log"), nil
}
