// Package config provides configuration management for closet-tracker:
// the INI config file, .env and environment overrides, and the stored
// access token.
package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/closetconnect/closet-tracker/internal/constants"
)

// ConfigDir returns the per-user configuration directory.
//
// Locations:
//   - Windows: %APPDATA%\ClosetConnect
//   - Unix: ~/.config/closetconnect
func ConfigDir() string {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return filepath.Join(os.TempDir(), constants.WindowsConfigDirName)
			}
			appData = filepath.Join(homeDir, "AppData", "Roaming")
		}
		return filepath.Join(appData, constants.WindowsConfigDirName)
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), constants.ConfigDirName)
		}
		return filepath.Join(homeDir, ".config", constants.ConfigDirName)
	}
	return filepath.Join(configDir, constants.ConfigDirName)
}

// DefaultConfigPath returns the path of tracker.conf.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "tracker.conf")
}

// DefaultTokenPath returns the path of the stored access token.
func DefaultTokenPath() string {
	return filepath.Join(ConfigDir(), "token")
}

// DefaultStorageDir returns the directory shared by every tracker process
// of this OS user.
func DefaultStorageDir() string {
	return filepath.Join(ConfigDir(), "storage")
}
