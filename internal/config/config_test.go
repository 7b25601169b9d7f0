package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Default Configuration
// =============================================================================

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()

	require.NotNil(t, cfg)
	assert.Equal(t, 1, cfg.Version)
	assert.Empty(t, cfg.Folders)

	// Daemon defaults
	assert.Equal(t, 31849, cfg.Daemon.WebsocketPort)
	assert.Contains(t, cfg.Daemon.SocketPath, "daemon.sock")
	assert.Contains(t, cfg.Daemon.PidfilePath, "daemon.pid")

	// Embeddings defaults (empty backend triggers auto-detection)
	assert.Equal(t, "", cfg.Embeddings.Backend)
	assert.Contains(t, cfg.Embeddings.ModelCacheDir, "models")
	assert.Equal(t, "10m", cfg.Embeddings.DownloadTimeout)
	assert.Equal(t, 4096, cfg.Embeddings.CacheEntries)

	// Pool defaults
	assert.Equal(t, 0, cfg.Pool.Workers) // auto
	assert.Equal(t, 128, cfg.Pool.QueueDepth)
	assert.Equal(t, 32, cfg.Pool.MaxBatchChunks)
	assert.Equal(t, 256*1024, cfg.Pool.MaxBatchBytes)
	assert.Equal(t, "500ms", cfg.Pool.BatchLinger)

	// Search defaults
	assert.Equal(t, 10, cfg.Search.MaxResults)
	assert.Equal(t, 0.05, cfg.Search.PhraseBoost)
	assert.Equal(t, 0.15, cfg.Search.PhraseBoostCap)
	assert.Equal(t, 0.10, cfg.Search.RecencyWeight)
	assert.Equal(t, "720h", cfg.Search.RecencyHalfLife)
	assert.Equal(t, "fts5", cfg.Search.KeywordBackend)

	// Logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 10, cfg.Logging.MaxSizeMB)
	assert.Equal(t, 3, cfg.Logging.MaxGenerations)
}

func TestPoolWorkers_AutoIsBounded(t *testing.T) {
	cfg := NewConfig()

	workers := cfg.PoolWorkers()

	assert.GreaterOrEqual(t, workers, 1)
	assert.LessOrEqual(t, workers, 4)
}

func TestPoolWorkers_ExplicitWins(t *testing.T) {
	cfg := NewConfig()
	cfg.Pool.Workers = 7

	assert.Equal(t, 7, cfg.PoolWorkers())
}

func TestDurationAccessors(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 500*time.Millisecond, cfg.BatchLingerDuration())
	assert.Equal(t, 5*time.Second, cfg.SearchTimeout())
	assert.Equal(t, 720*time.Hour, cfg.RecencyHalfLife())
	assert.Equal(t, 10*time.Minute, cfg.DownloadTimeout())

	// Unparseable values fall back to defaults rather than exploding at the
	// call site; Validate catches them first on the load path.
	cfg.Pool.BatchLinger = "not-a-duration"
	assert.Equal(t, 500*time.Millisecond, cfg.BatchLingerDuration())
}

// =============================================================================
// Load Hierarchy: defaults -> file -> environment
// =============================================================================

func TestLoadFrom_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))

	require.NoError(t, err)
	assert.Equal(t, 31849, cfg.Daemon.WebsocketPort)
}

func TestLoadFrom_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
version: 1
daemon:
  websocket_port: 40000
search:
  max_results: 25
  keyword_backend: bleve
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadFrom(path)

	require.NoError(t, err)
	assert.Equal(t, 40000, cfg.Daemon.WebsocketPort)
	assert.Equal(t, 25, cfg.Search.MaxResults)
	assert.Equal(t, "bleve", cfg.Search.KeywordBackend)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched sections keep defaults.
	assert.Equal(t, 32, cfg.Pool.MaxBatchChunks)
}

func TestLoadFrom_EnvBeatsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o644))
	t.Setenv("FOLDERMCP_LOG_LEVEL", "error")
	t.Setenv("FOLDERMCP_WS_PORT", "45555")

	cfg, err := LoadFrom(path)

	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, 45555, cfg.Daemon.WebsocketPort)
}

func TestLoadFrom_FoldersSectionIsAuthoritative(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	folder := t.TempDir()
	yaml := "folders:\n  - path: " + folder + "\n    model: compact-384\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadFrom(path)

	require.NoError(t, err)
	require.Len(t, cfg.Folders, 1)
	assert.Equal(t, NormalizePath(folder), cfg.Folders[0].Path)
	assert.Equal(t, "compact-384", cfg.Folders[0].Model)
}

func TestLoadFrom_MalformedYAMLFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("folders: [unclosed"), 0o644))

	_, err := LoadFrom(path)

	assert.Error(t, err)
}

func TestLoadFrom_InvalidConfigFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: verbose\n"), 0o644))

	_, err := LoadFrom(path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestDir_HonorsHomeOverride(t *testing.T) {
	custom := t.TempDir()
	t.Setenv("FOLDERMCP_HOME", custom)

	assert.Equal(t, custom, Dir())
	assert.Equal(t, filepath.Join(custom, "config.yaml"), DefaultConfigPath())
	assert.Equal(t, filepath.Join(custom, "mcp-servers.json"), MCPRegistryPath())
}

// =============================================================================
// Validation
// =============================================================================

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"port too high", func(c *Config) { c.Daemon.WebsocketPort = 70000 }},
		{"unknown backend", func(c *Config) { c.Embeddings.Backend = "tpu" }},
		{"unknown keyword backend", func(c *Config) { c.Search.KeywordBackend = "lucene" }},
		{"negative boost", func(c *Config) { c.Search.PhraseBoost = -0.1 }},
		{"readability floor above one", func(c *Config) { c.Search.ReadabilityFloor = 1.5 }},
		{"zero batch chunks", func(c *Config) { c.Pool.MaxBatchChunks = 0 }},
		{"bad duration", func(c *Config) { c.Search.Timeout = "fast" }},
		{"relative folder path", func(c *Config) { c.Folders = []FolderConfig{{Path: "docs"}} }},
		{"duplicate folders", func(c *Config) {
			c.Folders = []FolderConfig{{Path: "/tmp/a"}, {Path: "/tmp/a"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_AcceptsDefaults(t *testing.T) {
	assert.NoError(t, NewConfig().Validate())
}

// =============================================================================
// Folder Registration
// =============================================================================

func TestAddFolder_RegistersAndSorts(t *testing.T) {
	cfg := NewConfig()

	require.NoError(t, cfg.AddFolder(FolderConfig{Path: "/tmp/zebra"}))
	require.NoError(t, cfg.AddFolder(FolderConfig{Path: "/tmp/apple", Model: "compact-384"}))

	require.Len(t, cfg.Folders, 2)
	assert.Equal(t, "/tmp/apple", cfg.Folders[0].Path)
	assert.Equal(t, "/tmp/zebra", cfg.Folders[1].Path)
}

func TestAddFolder_RejectsDuplicate(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.AddFolder(FolderConfig{Path: "/tmp/docs"}))

	err := cfg.AddFolder(FolderConfig{Path: "/tmp/docs/"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestAddFolder_RejectsNesting(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.AddFolder(FolderConfig{Path: "/tmp/docs"}))

	// Child inside a registered folder.
	err := cfg.AddFolder(FolderConfig{Path: "/tmp/docs/sub"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nested inside")

	// Parent of a registered folder.
	err = cfg.AddFolder(FolderConfig{Path: "/tmp"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contains")
}

func TestAddFolder_SiblingsWithSharedPrefixAllowed(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.AddFolder(FolderConfig{Path: "/tmp/docs"}))

	// "/tmp/docs-archive" shares a string prefix but is not nested.
	assert.NoError(t, cfg.AddFolder(FolderConfig{Path: "/tmp/docs-archive"}))
}

func TestRemoveFolder(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.AddFolder(FolderConfig{Path: "/tmp/docs"}))

	assert.True(t, cfg.RemoveFolder("/tmp/docs"))
	assert.Empty(t, cfg.Folders)
	assert.False(t, cfg.RemoveFolder("/tmp/docs"))
}

func TestFindFolder(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.AddFolder(FolderConfig{Path: "/tmp/docs", Model: "compact-384"}))

	found := cfg.FindFolder("/tmp/docs")
	require.NotNil(t, found)
	assert.Equal(t, "compact-384", found.Model)

	assert.Nil(t, cfg.FindFolder("/tmp/other"))
}

// =============================================================================
// Persistence
// =============================================================================

func TestSaveTo_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := NewConfig()
	require.NoError(t, cfg.AddFolder(FolderConfig{Path: "/tmp/docs", Model: "compact-384", Priority: 2}))
	cfg.Search.MaxResults = 15

	require.NoError(t, cfg.SaveTo(path))

	loaded, err := LoadFrom(path)
	require.NoError(t, err)
	require.Len(t, loaded.Folders, 1)
	assert.Equal(t, "/tmp/docs", loaded.Folders[0].Path)
	assert.Equal(t, 2, loaded.Folders[0].Priority)
	assert.Equal(t, 15, loaded.Search.MaxResults)
}

func TestSaveTo_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	require.NoError(t, NewConfig().SaveTo(path))
	require.NoError(t, NewConfig().SaveTo(path))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}

func TestSaveTo_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "nested", "config.yaml")

	require.NoError(t, NewConfig().SaveTo(path))

	assert.FileExists(t, path)
}
