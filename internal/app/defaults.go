package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/whrgg/cloud-drive-project/internal/config"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - DRIVE_CONFIG_PATH: config file location (default: ~/.config/drive.toml)
//   - DRIVE_HOME: base directory for drive data (default: ~/.local/share/drive)
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

func getConfigPath() (string, error) {
	if path := os.Getenv("DRIVE_CONFIG_PATH"); path != "" {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "drive.toml"), nil
}

func getBaseDir() (string, error) {
	if path := os.Getenv("DRIVE_HOME"); path != "" {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "drive"), nil
}

// ResolveOwner picks the acting owner: the --owner flag, then DRIVE_OWNER,
// then the config file.
func ResolveOwner(flag int64, cfg *config.Config) (int64, error) {
	owner := flag
	if owner == 0 {
		if env := os.Getenv("DRIVE_OWNER"); env != "" {
			v, err := strconv.ParseInt(env, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("parsing DRIVE_OWNER: %w", err)
			}
			owner = v
		}
	}
	if owner == 0 && cfg != nil {
		owner = cfg.Owner
	}
	if owner <= 0 {
		return 0, fmt.Errorf("no owner: pass --owner, set DRIVE_OWNER or owner in the config")
	}
	return owner, nil
}
