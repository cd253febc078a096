package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvConfigPath names the environment variable holding a config file path.
const EnvConfigPath = "UNITY_API_ANALYZER_CONFIG"

// DiscoverConfigFile finds the config file by checking standard locations.
// Priority order: --config flag, $UNITY_API_ANALYZER_CONFIG,
// ~/.config/unity-api-analyzer/config.yaml, ./unity-api-analyzer.yaml.
//
// An explicitly named file (flag or env) must exist. When none of the implicit
// locations has a file, the empty path is returned without error.
func DiscoverConfigFile(flagPath string) (string, error) {
	if flagPath != "" {
		if !fileExists(flagPath) {
			return "", fmt.Errorf("config file not found: %s", flagPath)
		}
		return flagPath, nil
	}

	if path := os.Getenv(EnvConfigPath); path != "" {
		if !fileExists(path) {
			return "", fmt.Errorf("config file from $%s not found: %s", EnvConfigPath, path)
		}
		return path, nil
	}

	for _, path := range candidatePaths() {
		if fileExists(path) {
			return path, nil
		}
	}
	return "", nil
}

func candidatePaths() []string {
	var paths []string
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "unity-api-analyzer", "config.yaml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".config", "unity-api-analyzer", "config.yaml")
		if len(paths) == 0 || paths[0] != p {
			paths = append(paths, p)
		}
	}
	return append(paths, "unity-api-analyzer.yaml")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
