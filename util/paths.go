package util

import (
	"fmt"
	"os"
	"path/filepath"
)

const AppConfigDir = ".config/pubengine"

// GetConfigDir returns ~/.config/pubengine, creating it when missing.
func GetConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	dir := filepath.Join(home, AppConfigDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return dir, nil
}

// ResolveFilePath prefers a file in the working directory, then one in the
// config directory. When neither exists the config directory path is
// returned so the caller can create it there.
func ResolveFilePath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	if _, err := os.Stat(name); err == nil {
		return name
	}
	dir, err := GetConfigDir()
	if err != nil {
		return name
	}
	return filepath.Join(dir, name)
}
