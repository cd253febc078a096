package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config, dir string)
	}{
		{
			name: "empty file yields defaults",
			yaml: "",
			checkFn: func(t *testing.T, cfg *Config, dir string) {
				assert.Equal(t, "info", cfg.LogLevel)
				assert.Equal(t, "auto", cfg.LogFormat)
				assert.Equal(t, DefaultRepositoryURL, cfg.Repository.URL)
				assert.Equal(t, "origin", cfg.Repository.Remote)
				assert.Equal(t, 2022, cfg.Analysis.MinSupportedMajor)
				assert.Equal(t, 3, cfg.Analysis.ContextLines)
				require.Len(t, cfg.Projects, 2)
				assert.Equal(t, "UnityEngine", cfg.Projects[0].Name)
				assert.Equal(t, "UnityEditor", cfg.Projects[1].Name)
				assert.True(t, cfg.State.IsEnabled())
				assert.Empty(t, cfg.Repository.Dir)
			},
		},
		{
			name: "full config",
			yaml: `
log_level: DEBUG
log_format: json
workspace:
  root: ./scratch
  stale_after: 24h
repository:
  url: https://example.com/mirror.git
  remote: upstream
  dir: ./mirror
  fetch_timeout: 10m
analysis:
  min_supported_major: 2023
  parse_workers: 4
  context_lines: 1
projects:
  - name: UnityEngine
    roots: [Runtime]
    exclude_dirs: [Editor]
state:
  enabled: false
  path: ./runs.db
`,
			checkFn: func(t *testing.T, cfg *Config, dir string) {
				assert.Equal(t, "debug", cfg.LogLevel)
				assert.Equal(t, "json", cfg.LogFormat)
				assert.Equal(t, filepath.Join(dir, "scratch"), cfg.Workspace.Root)
				assert.Equal(t, 24*time.Hour, cfg.Workspace.StaleAfter)
				assert.Equal(t, "https://example.com/mirror.git", cfg.Repository.URL)
				assert.Equal(t, "upstream", cfg.Repository.Remote)
				assert.Equal(t, filepath.Join(dir, "mirror"), cfg.Repository.Dir)
				assert.Equal(t, 10*time.Minute, cfg.Repository.FetchTimeout)
				assert.Equal(t, 2023, cfg.Analysis.MinSupportedMajor)
				assert.Equal(t, 4, cfg.Analysis.ParseWorkers)
				assert.Equal(t, 1, cfg.Analysis.ContextLines)
				require.Len(t, cfg.Projects, 1)
				assert.Equal(t, []string{"Editor"}, cfg.Projects[0].ExcludeDirs)
				assert.False(t, cfg.State.IsEnabled())
				assert.Equal(t, filepath.Join(dir, "runs.db"), cfg.State.Path)
			},
		},
		{
			name: "env var interpolation",
			yaml: `
repository:
  url: ${MIRROR_URL}
  dir: ${MIRROR_DIR}
`,
			env: map[string]string{
				"MIRROR_URL": "https://mirror.example.com/ref.git",
				"MIRROR_DIR": "/var/cache/ref",
			},
			checkFn: func(t *testing.T, cfg *Config, dir string) {
				assert.Equal(t, "https://mirror.example.com/ref.git", cfg.Repository.URL)
				assert.Equal(t, "/var/cache/ref", cfg.Repository.Dir)
			},
		},
		{
			name:    "missing env var fails validation",
			yaml:    "repository:\n  url: ${UNITY_API_ANALYZER_TEST_MISSING}\n",
			wantErr: "${UNITY_API_ANALYZER_TEST_MISSING} is not set",
		},
		{
			name:    "invalid log level",
			yaml:    "log_level: loud\n",
			wantErr: "log_level must be one of",
		},
		{
			name:    "unknown key",
			yaml:    "repositry:\n  url: x\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "negative workers",
			yaml:    "analysis:\n  parse_workers: -1\n",
			wantErr: "analysis.parse_workers must not be negative",
		},
		{
			name:    "min major below the supported floor",
			yaml:    "analysis:\n  min_supported_major: 2021\n",
			wantErr: "analysis.min_supported_major must be at least 2022 (got 2021)",
		},
		{
			name: "duplicate project names",
			yaml: `
projects:
  - name: UnityEngine
    roots: [Runtime]
  - name: UnityEngine
    roots: [Modules]
`,
			wantErr: "projects must have unique name values",
		},
		{
			name: "project without roots",
			yaml: `
projects:
  - name: UnityEngine
`,
			wantErr: "roots is required",
		},
		{
			name:    "remote with slash",
			yaml:    "repository:\n  remote: a/b\n",
			wantErr: "repository.remote must not contain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			writeTestFile(t, path, tt.yaml)

			cfg, err := Load(path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, path, cfg.SourcePath)
			if tt.checkFn != nil {
				tt.checkFn(t, cfg, dir)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")

	_, err = Load(t.TempDir())
	assert.Error(t, err)
}

func TestLoadIncludes(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "config.yaml"), `
include:
  - conf.d/projects.yaml
log_level: warn
projects:
  - name: UnityEngine
    roots: [Runtime]
`)
	writeTestFile(t, filepath.Join(dir, "conf.d", "projects.yaml"), `
include:
  - state.yaml
projects:
  - name: UnityEngine
    roots: [Runtime, Modules]
  - name: UnityEditor
    roots: [Editor]
`)
	writeTestFile(t, filepath.Join(dir, "conf.d", "state.yaml"), "state:\n  path: runs.db\n")

	cfg, err := Load(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	require.Len(t, cfg.Projects, 2)
	assert.Equal(t, []string{"Runtime", "Modules"}, cfg.Projects[0].Roots, "included project replaces same name")
	assert.Equal(t, "UnityEditor", cfg.Projects[1].Name)
	assert.Equal(t, filepath.Join(dir, "conf.d", "runs.db"), cfg.State.Path, "paths resolve against the including file")
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "a.yaml"), "include: [b.yaml]\n")
	writeTestFile(t, filepath.Join(dir, "b.yaml"), "include: [a.yaml]\n")

	_, err := Load(filepath.Join(dir, "a.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular dependency")
}

func TestLoadIncludeMissing(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "a.yaml"), "include: [missing.yaml]\n")

	_, err := Load(filepath.Join(dir, "a.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file not found")
}

func TestResolvePath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, "", resolvePath("", "/base"))
	assert.Equal(t, "/abs/x", resolvePath("/abs/x", "/base"))
	assert.Equal(t, "/base/rel", resolvePath("rel", "/base"))
	assert.Equal(t, filepath.Join(home, "cache"), resolvePath("~/cache", "/base"))
	assert.Equal(t, "${X}/y", resolvePath("${X}/y", "/base"))
}

func TestDefaultsAreValid(t *testing.T) {
	assert.NoError(t, validate(Defaults()))
}
