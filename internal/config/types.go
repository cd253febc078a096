package config

import (
	"os"
	"path/filepath"
	"time"
)

// DefaultRepositoryURL is the Unity C# reference source repository.
const DefaultRepositoryURL = "https://github.com/Unity-Technologies/UnityCsReference.git"

// Config represents the complete unity-api-analyzer configuration.
type Config struct {
	LogLevel   string           `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat  string           `yaml:"log_format" validate:"oneof=auto json text"`
	Include    []string         `yaml:"include,omitempty"`
	Workspace  WorkspaceConfig  `yaml:"workspace"`
	Repository RepositoryConfig `yaml:"repository"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Projects   []ProjectConfig  `yaml:"projects" validate:"required,min=1,unique=Name,dive"`
	State      StateConfig      `yaml:"state"`

	// SourcePath is the file the config was loaded from. Empty when running
	// on defaults.
	SourcePath string `yaml:"-"`
}

// WorkspaceConfig defines the scratch area. An empty root means a fresh
// directory under the system temp dir.
type WorkspaceConfig struct {
	Root string `yaml:"root"`
	// StaleAfter removes leftovers of killed runs older than this when a
	// persistent root is configured. Zero disables the sweep.
	StaleAfter time.Duration `yaml:"stale_after" validate:"gte=0"`
}

// RepositoryConfig defines the reference source mirror.
type RepositoryConfig struct {
	URL    string `yaml:"url" validate:"required"`
	Remote string `yaml:"remote" validate:"required,excludesall=/ "`
	// Dir keeps the mirror between runs. When empty the mirror is cloned
	// into the workspace and removed with it.
	Dir          string        `yaml:"dir"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" validate:"gte=0"`
}

// AnalysisConfig defines analysis policy.
type AnalysisConfig struct {
	// MinSupportedMajor rejects versions whose major is below it. It can
	// only tighten the policy; 2021 and older are never supported.
	MinSupportedMajor int `yaml:"min_supported_major" validate:"gte=2022"`
	// ParseWorkers bounds parallel file parsing; zero means GOMAXPROCS.
	ParseWorkers int `yaml:"parse_workers" validate:"gte=0"`
	ContextLines int `yaml:"context_lines" validate:"gte=0"`
}

// ProjectConfig selects the sources of one tracked project.
type ProjectConfig struct {
	Name        string   `yaml:"name" validate:"required,excludesall=/\\"`
	Roots       []string `yaml:"roots" validate:"required,min=1,dive,required"`
	ExcludeDirs []string `yaml:"exclude_dirs,omitempty"`
	RequireDirs []string `yaml:"require_dirs,omitempty"`
}

// StateConfig defines the run history database.
type StateConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Path    string `yaml:"path"`
}

// IsEnabled reports whether runs are recorded. Unset means enabled.
func (s StateConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Defaults returns a Config with the stock settings.
func Defaults() *Config {
	enabled := true
	return &Config{
		LogLevel:  "info",
		LogFormat: "auto",
		Repository: RepositoryConfig{
			URL:          DefaultRepositoryURL,
			Remote:       "origin",
			FetchTimeout: 30 * time.Minute,
		},
		Analysis: AnalysisConfig{
			MinSupportedMajor: 2022,
			ContextLines:      3,
		},
		Projects: DefaultProjects(),
		State: StateConfig{
			Enabled: &enabled,
			Path:    defaultStatePath(),
		},
	}
}

// DefaultProjects are the two projects the reference source is split into.
func DefaultProjects() []ProjectConfig {
	return []ProjectConfig{
		{
			Name:        "UnityEngine",
			Roots:       []string{"Runtime", "Modules"},
			ExcludeDirs: []string{"Editor", "Tests"},
		},
		{
			Name:        "UnityEditor",
			Roots:       []string{"Editor", "Modules"},
			ExcludeDirs: []string{"Tests"},
			RequireDirs: []string{"Editor"},
		},
	}
}

func defaultStatePath() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "unity-api-analyzer", "runs.db")
	}
	return "./data/runs.db"
}
