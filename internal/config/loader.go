package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file. Files listed under include
// are merged in order, relative to the including file.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", absPath)
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}

	if len(cfg.Include) > 0 {
		visited := map[string]bool{absPath: true}
		if err := loadIncludes(cfg, cfg.Include, filepath.Dir(absPath), visited); err != nil {
			return nil, err
		}
	}

	cfg = applyConfigDefaults(cfg)
	cfg.SourcePath = absPath
	resolvePaths(cfg, filepath.Dir(absPath))

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault discovers the config file (see DiscoverConfigFile) and loads
// it. When no file is found the defaults are returned.
func LoadOrDefault(flagPath string) (*Config, error) {
	path, err := DiscoverConfigFile(flagPath)
	if err != nil {
		return nil, err
	}
	if path == "" {
		cfg := Defaults()
		if err := validate(cfg); err != nil {
			return nil, fmt.Errorf("invalid default configuration: %w", err)
		}
		return cfg, nil
	}
	return Load(path)
}

// loadIncludes recursively loads and merges files from the include array.
// visited tracks loaded files to prevent cycles.
func loadIncludes(cfg *Config, includes []string, baseDir string, visited map[string]bool) error {
	for i, includePath := range includes {
		includePath = interpolateEnv(includePath)

		resolvedPath := includePath
		if !filepath.IsAbs(includePath) {
			resolvedPath = filepath.Join(baseDir, includePath)
		}
		absPath, err := filepath.Abs(resolvedPath)
		if err != nil {
			return fmt.Errorf("include[%d]: failed to resolve path %q: %w", i, includePath, err)
		}

		if visited[absPath] {
			return fmt.Errorf("include[%d]: circular dependency detected: %s", i, absPath)
		}
		if _, err := os.Stat(absPath); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("include[%d]: file not found: %s\n"+
					"Referenced from: %s\n"+
					"Hint: Check the path is correct and the file exists", i, absPath, baseDir)
			}
			return fmt.Errorf("include[%d]: failed to access file %s: %w", i, absPath, err)
		}
		visited[absPath] = true

		includedCfg, err := loadConfigFile(absPath)
		if err != nil {
			return fmt.Errorf("include[%d] (%s): %w", i, includePath, err)
		}
		resolvePaths(includedCfg, filepath.Dir(absPath))
		mergeConfig(cfg, includedCfg)

		if len(includedCfg.Include) > 0 {
			if err := loadIncludes(cfg, includedCfg.Include, filepath.Dir(absPath), visited); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadConfigFile parses a single file without applying defaults.
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(interpolateEnv(string(data))))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

// mergeConfig merges src into dst, with src taking precedence for non-zero
// values. Projects with the same name are replaced, new ones appended.
func mergeConfig(dst, src *Config) {
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.LogFormat != "" {
		dst.LogFormat = src.LogFormat
	}

	if src.Workspace.Root != "" {
		dst.Workspace.Root = src.Workspace.Root
	}
	if src.Workspace.StaleAfter != 0 {
		dst.Workspace.StaleAfter = src.Workspace.StaleAfter
	}

	if src.Repository.URL != "" {
		dst.Repository.URL = src.Repository.URL
	}
	if src.Repository.Remote != "" {
		dst.Repository.Remote = src.Repository.Remote
	}
	if src.Repository.Dir != "" {
		dst.Repository.Dir = src.Repository.Dir
	}
	if src.Repository.FetchTimeout != 0 {
		dst.Repository.FetchTimeout = src.Repository.FetchTimeout
	}

	if src.Analysis.MinSupportedMajor != 0 {
		dst.Analysis.MinSupportedMajor = src.Analysis.MinSupportedMajor
	}
	if src.Analysis.ParseWorkers != 0 {
		dst.Analysis.ParseWorkers = src.Analysis.ParseWorkers
	}
	if src.Analysis.ContextLines != 0 {
		dst.Analysis.ContextLines = src.Analysis.ContextLines
	}

	for _, p := range src.Projects {
		replaced := false
		for i := range dst.Projects {
			if dst.Projects[i].Name == p.Name {
				dst.Projects[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			dst.Projects = append(dst.Projects, p)
		}
	}

	if src.State.Enabled != nil {
		dst.State.Enabled = src.State.Enabled
	}
	if src.State.Path != "" {
		dst.State.Path = src.State.Path
	}
}

// applyConfigDefaults fills every value not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.LogFormat == "" {
		cfg.LogFormat = defaults.LogFormat
	}

	if cfg.Repository.URL == "" {
		cfg.Repository.URL = defaults.Repository.URL
	}
	if cfg.Repository.Remote == "" {
		cfg.Repository.Remote = defaults.Repository.Remote
	}
	if cfg.Repository.FetchTimeout == 0 {
		cfg.Repository.FetchTimeout = defaults.Repository.FetchTimeout
	}

	if cfg.Analysis.MinSupportedMajor == 0 {
		cfg.Analysis.MinSupportedMajor = defaults.Analysis.MinSupportedMajor
	}
	if cfg.Analysis.ContextLines == 0 {
		cfg.Analysis.ContextLines = defaults.Analysis.ContextLines
	}

	if len(cfg.Projects) == 0 {
		cfg.Projects = defaults.Projects
	}

	if cfg.State.Enabled == nil {
		cfg.State.Enabled = defaults.State.Enabled
	}
	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}

	return cfg
}

// resolvePaths expands "~/" and makes relative paths relative to baseDir.
func resolvePaths(cfg *Config, baseDir string) {
	cfg.Workspace.Root = resolvePath(cfg.Workspace.Root, baseDir)
	cfg.Repository.Dir = resolvePath(cfg.Repository.Dir, baseDir)
	cfg.State.Path = resolvePath(cfg.State.Path, baseDir)
}

func resolvePath(p, baseDir string) string {
	if p == "" || envVarPattern.MatchString(p) {
		return p
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(baseDir, p)
	}
	return filepath.Clean(p)
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is and rejected by validation.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}
