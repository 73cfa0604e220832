package app

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - AV_CONFIG_PATH: config file location (default: ~/.config/av.toml)
//   - AV_HOME: base directory for av data (default: ~/.local/share/av)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// LogLevel reads AV_LOG_LEVEL (debug, info, warn, error). Unset means info.
func LogLevel() (slog.Level, error) {
	raw := strings.TrimSpace(os.Getenv("AV_LOG_LEVEL"))
	if raw == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return 0, fmt.Errorf("invalid AV_LOG_LEVEL %q: %w", raw, err)
	}
	return level, nil
}

func getConfigPath() (string, error) {
	if path := os.Getenv("AV_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "av.toml"), nil
}

func getBaseDir() (string, error) {
	if path := os.Getenv("AV_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "av"), nil
}
