package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// appDir is ~/.config/rescale-drive on every platform; on Windows the home
// directory comes from USERPROFILE.
func appDir() (string, error) {
	var home string
	if runtime.GOOS == "windows" {
		home = os.Getenv("USERPROFILE")
	}
	if home == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		home = h
	}
	return filepath.Join(home, ".config", ConfigDir), nil
}

// DefaultConfigPath is where config init writes and Load looks when no
// --config flag is given.
func DefaultConfigPath() (string, error) {
	dir, err := appDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.ini"), nil
}

// LogDirectory holds the --debug log files: %LOCALAPPDATA%\Rescale\Drive\logs
// on Windows, a logs directory next to the config file elsewhere. Without a
// usable home directory the logs go to the temp directory.
func LogDirectory() string {
	if runtime.GOOS == "windows" {
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, "Rescale", "Drive", "logs")
		}
	}
	dir, err := appDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ConfigDir+"-logs")
	}
	return filepath.Join(dir, "logs")
}

// EnsureLogDirectory creates LogDirectory, readable by the owner only.
func EnsureLogDirectory() (string, error) {
	dir := LogDirectory()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}
