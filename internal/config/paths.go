package config

import (
	"os"
	"path/filepath"
)

const AppName = "maestral"

// EnvConfigPath overrides the config file location when set.
const EnvConfigPath = "MAESTRAL_CONFIG"

func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, AppName), nil
}

func EnsureDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// FilePath resolves the config file location: the MAESTRAL_CONFIG
// environment variable when set, otherwise maestral.yml under the
// user config dir.
func FilePath() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "maestral.yml"), nil
}

// DefaultSyncDir is the sync root offered when none is configured yet.
func DefaultSyncDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "Dropbox"), nil
}
