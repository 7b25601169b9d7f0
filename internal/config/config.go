package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete foldermcp daemon configuration.
// One config file drives the daemon, the CLI, and the MCP stdio servers.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Folders    []FolderConfig   `yaml:"folders" json:"folders"`
	Daemon     DaemonConfig     `yaml:"daemon" json:"daemon"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Pool       PoolConfig       `yaml:"pool" json:"pool"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// FolderConfig is one registered folder. The daemon owns the lifecycle of
// every folder listed here; add/remove rewrite this section atomically.
type FolderConfig struct {
	// Path is the absolute, cleaned path to the folder root.
	Path string `yaml:"path" json:"path"`

	// Model is the embedding model id from the curated catalog.
	// Empty selects the default model for the detected hardware.
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// Priority orders competing folders in the embedding pool.
	// Higher values are served first. Default 0.
	Priority int `yaml:"priority,omitempty" json:"priority,omitempty"`
}

// DaemonConfig configures the control surface endpoints.
type DaemonConfig struct {
	// SocketPath is the unix socket for the JSON-RPC control surface.
	// Windows builds use TCP loopback instead and ignore this.
	SocketPath string `yaml:"socket_path" json:"socket_path"`

	// WebsocketPort is the loopback port for FMDM subscriptions and the
	// websocket flavor of the control surface.
	WebsocketPort int `yaml:"websocket_port" json:"websocket_port"`

	// PidfilePath holds the daemon pid for stale-instance detection.
	PidfilePath string `yaml:"pidfile_path" json:"pidfile_path"`

	// Compaction tunes idle-time vector graph compaction.
	Compaction CompactionConfig `yaml:"compaction,omitempty" json:"compaction,omitempty"`
}

// CompactionConfig gates when the daemon evicts lazily deleted vectors from
// a folder's graph. Compaction runs only on idle folders, above an orphan
// floor and ratio, and not more often than the cooldown allows.
type CompactionConfig struct {
	// Disabled turns background compaction off entirely.
	Disabled bool `yaml:"disabled,omitempty" json:"disabled,omitempty"`

	// OrphanRatio is the orphaned share of graph nodes that makes a folder
	// eligible, e.g. 0.2 for 20%.
	OrphanRatio float64 `yaml:"orphan_ratio,omitempty" json:"orphan_ratio,omitempty"`

	// MinOrphans is the orphan count floor; below it compaction never runs
	// regardless of the ratio, so small indexes do not churn.
	MinOrphans int `yaml:"min_orphans,omitempty" json:"min_orphans,omitempty"`

	// IdleAfter is how long a folder must go without queries before it
	// counts as idle, e.g. "30s".
	IdleAfter string `yaml:"idle_after,omitempty" json:"idle_after,omitempty"`

	// Cooldown is the minimum gap between two compactions of the same
	// folder, e.g. "1h".
	Cooldown string `yaml:"cooldown,omitempty" json:"cooldown,omitempty"`
}

// EmbeddingsConfig configures model execution.
type EmbeddingsConfig struct {
	// Backend pins an execution provider ("ollama", "mlx", "builtin").
	// Empty means the capability probe picks the best available one.
	Backend string `yaml:"backend,omitempty" json:"backend,omitempty"`

	// OllamaHost is the Ollama engine endpoint (default: http://localhost:11434).
	OllamaHost string `yaml:"ollama_host,omitempty" json:"ollama_host,omitempty"`

	// MLXEndpoint is the MLX engine endpoint on Apple Silicon
	// (default: http://localhost:9659).
	MLXEndpoint string `yaml:"mlx_endpoint,omitempty" json:"mlx_endpoint,omitempty"`

	// BatchSize overrides the hardware-derived batch size. 0 = auto.
	BatchSize int `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`

	// ModelCacheDir stores downloaded model artifacts
	// (default: ~/.foldermcp/models).
	ModelCacheDir string `yaml:"model_cache_dir,omitempty" json:"model_cache_dir,omitempty"`

	// DownloadTimeout bounds a whole model download, e.g. "10m".
	DownloadTimeout string `yaml:"download_timeout,omitempty" json:"download_timeout,omitempty"`

	// CacheEntries sizes the in-memory embedding LRU (0 disables).
	CacheEntries int `yaml:"cache_entries,omitempty" json:"cache_entries,omitempty"`
}

// PoolConfig tunes the shared embedding worker pool.
type PoolConfig struct {
	// Workers is the number of concurrent embedding workers.
	// 0 = min(4, NumCPU/2), at least 1.
	Workers int `yaml:"workers,omitempty" json:"workers,omitempty"`

	// QueueDepth bounds the intake queue, in batches.
	QueueDepth int `yaml:"queue_depth,omitempty" json:"queue_depth,omitempty"`

	// MaxBatchChunks caps chunks per batch.
	MaxBatchChunks int `yaml:"max_batch_chunks,omitempty" json:"max_batch_chunks,omitempty"`

	// MaxBatchBytes caps total text bytes per batch.
	MaxBatchBytes int `yaml:"max_batch_bytes,omitempty" json:"max_batch_bytes,omitempty"`

	// BatchLinger is how long a partial batch waits for more chunks, e.g. "500ms".
	BatchLinger string `yaml:"batch_linger,omitempty" json:"batch_linger,omitempty"`
}

// SearchConfig tunes retrieval and re-ranking.
type SearchConfig struct {
	// MaxResults is the default result count when the caller does not ask.
	MaxResults int `yaml:"max_results,omitempty" json:"max_results,omitempty"`

	// TopK is the ANN candidate count fetched before re-ranking. Requests
	// may override it per query.
	TopK int `yaml:"top_k,omitempty" json:"top_k,omitempty"`

	// MaxResponseChunks caps chunks in one response regardless of the ask.
	MaxResponseChunks int `yaml:"max_response_chunks,omitempty" json:"max_response_chunks,omitempty"`

	// MaxResponseTokens caps the aggregate token estimate of one response.
	MaxResponseTokens int `yaml:"max_response_tokens,omitempty" json:"max_response_tokens,omitempty"`

	// MinScore filters results below this relevance (0 = no filter).
	MinScore float64 `yaml:"min_score,omitempty" json:"min_score,omitempty"`

	// PhraseBoost is the per-matched-query-term bonus added on top of cosine
	// similarity during re-ranking.
	PhraseBoost float64 `yaml:"phrase_boost,omitempty" json:"phrase_boost,omitempty"`

	// PhraseBoostCap bounds the total phrase bonus for one chunk.
	PhraseBoostCap float64 `yaml:"phrase_boost_cap,omitempty" json:"phrase_boost_cap,omitempty"`

	// RecencyWeight scales the recency bonus (0 disables).
	RecencyWeight float64 `yaml:"recency_weight,omitempty" json:"recency_weight,omitempty"`

	// RecencyHalfLife is the exponential-decay half-life for the recency
	// bonus, e.g. "720h" for 30 days.
	RecencyHalfLife string `yaml:"recency_half_life,omitempty" json:"recency_half_life,omitempty"`

	// ReadabilityFloor drops chunks whose readability score falls below it
	// (0 disables; scores live in [0,1]).
	ReadabilityFloor float64 `yaml:"readability_floor,omitempty" json:"readability_floor,omitempty"`

	// KeywordBackend selects the fallback keyword index: "fts5" (shares the
	// metadata DB, concurrent) or "bleve" (separate directory index).
	KeywordBackend string `yaml:"keyword_backend,omitempty" json:"keyword_backend,omitempty"`

	// Timeout is the soft per-query deadline, e.g. "5s". Partial results
	// are returned with a truncation marker when it expires.
	Timeout string `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// LoggingConfig configures the rotating JSON log.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level,omitempty" json:"level,omitempty"`

	// MaxSizeMB rotates the log file beyond this size.
	MaxSizeMB int `yaml:"max_size_mb,omitempty" json:"max_size_mb,omitempty"`

	// MaxGenerations is how many rotated files to keep.
	MaxGenerations int `yaml:"max_generations,omitempty" json:"max_generations,omitempty"`
}

// NewConfig returns the compiled-in defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Folders: []FolderConfig{},
		Daemon: DaemonConfig{
			SocketPath:    filepath.Join(Dir(), "daemon.sock"),
			WebsocketPort: 31849,
			PidfilePath:   filepath.Join(Dir(), "daemon.pid"),
			Compaction: CompactionConfig{
				OrphanRatio: 0.2,
				MinOrphans:  100,
				IdleAfter:   "30s",
				Cooldown:    "1h",
			},
		},
		Embeddings: EmbeddingsConfig{
			Backend:         "", // auto-detect from the capability probe
			OllamaHost:      "",
			MLXEndpoint:     "",
			BatchSize:       0, // hardware-derived
			ModelCacheDir:   filepath.Join(Dir(), "models"),
			DownloadTimeout: "10m",
			CacheEntries:    4096,
		},
		Pool: PoolConfig{
			Workers:        0, // min(4, NumCPU/2)
			QueueDepth:     128,
			MaxBatchChunks: 32,
			MaxBatchBytes:  256 * 1024,
			BatchLinger:    "500ms",
		},
		Search: SearchConfig{
			MaxResults:        10,
			TopK:              50,
			MaxResponseChunks: 50,
			MaxResponseTokens: 8000,
			MinScore:          0,
			PhraseBoost:       0.05,
			PhraseBoostCap:    0.15,
			RecencyWeight:     0.10,
			RecencyHalfLife:   "720h", // 30 days
			ReadabilityFloor:  0,
			KeywordBackend:    "fts5",
			Timeout:           "5s",
		},
		Logging: LoggingConfig{
			Level:          "info",
			MaxSizeMB:      10,
			MaxGenerations: 3,
		},
	}
}

// Dir returns the foldermcp home directory (~/.foldermcp).
// FOLDERMCP_HOME overrides it, which test suites rely on for isolation.
func Dir() string {
	if custom := os.Getenv("FOLDERMCP_HOME"); custom != "" {
		return custom
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".foldermcp")
	}
	return filepath.Join(home, ".foldermcp")
}

// DefaultConfigPath returns the user configuration file path.
func DefaultConfigPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// MCPRegistryPath returns the registry of running MCP stdio servers.
func MCPRegistryPath() string {
	return filepath.Join(Dir(), "mcp-servers.json")
}

// Exists reports whether the user configuration file exists.
func Exists() bool {
	return fileExists(DefaultConfigPath())
}

// Load reads the configuration from the default location, applying the
// hierarchy: compiled defaults, then the config file, then FOLDERMCP_*
// environment variables.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigPath())
}

// LoadFrom is Load with an explicit file path. A missing file is not an
// error; defaults plus environment apply.
func LoadFrom(path string) (*Config, error) {
	cfg := NewConfig()

	if fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()
	cfg.normalizeFolders()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadYAML parses a YAML file and merges non-zero values over the defaults.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// The folders section is authoritative when present: add/remove rewrite
	// it wholesale, so merging element-wise would resurrect removed folders.
	if other.Folders != nil {
		c.Folders = other.Folders
	}

	if other.Daemon.SocketPath != "" {
		c.Daemon.SocketPath = other.Daemon.SocketPath
	}
	if other.Daemon.WebsocketPort != 0 {
		c.Daemon.WebsocketPort = other.Daemon.WebsocketPort
	}
	if other.Daemon.PidfilePath != "" {
		c.Daemon.PidfilePath = other.Daemon.PidfilePath
	}
	if other.Daemon.Compaction.Disabled {
		c.Daemon.Compaction.Disabled = true
	}
	if other.Daemon.Compaction.OrphanRatio != 0 {
		c.Daemon.Compaction.OrphanRatio = other.Daemon.Compaction.OrphanRatio
	}
	if other.Daemon.Compaction.MinOrphans != 0 {
		c.Daemon.Compaction.MinOrphans = other.Daemon.Compaction.MinOrphans
	}
	if other.Daemon.Compaction.IdleAfter != "" {
		c.Daemon.Compaction.IdleAfter = other.Daemon.Compaction.IdleAfter
	}
	if other.Daemon.Compaction.Cooldown != "" {
		c.Daemon.Compaction.Cooldown = other.Daemon.Compaction.Cooldown
	}

	if other.Embeddings.Backend != "" {
		c.Embeddings.Backend = other.Embeddings.Backend
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}
	if other.Embeddings.MLXEndpoint != "" {
		c.Embeddings.MLXEndpoint = other.Embeddings.MLXEndpoint
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.ModelCacheDir != "" {
		c.Embeddings.ModelCacheDir = other.Embeddings.ModelCacheDir
	}
	if other.Embeddings.DownloadTimeout != "" {
		c.Embeddings.DownloadTimeout = other.Embeddings.DownloadTimeout
	}
	if other.Embeddings.CacheEntries != 0 {
		c.Embeddings.CacheEntries = other.Embeddings.CacheEntries
	}

	if other.Pool.Workers != 0 {
		c.Pool.Workers = other.Pool.Workers
	}
	if other.Pool.QueueDepth != 0 {
		c.Pool.QueueDepth = other.Pool.QueueDepth
	}
	if other.Pool.MaxBatchChunks != 0 {
		c.Pool.MaxBatchChunks = other.Pool.MaxBatchChunks
	}
	if other.Pool.MaxBatchBytes != 0 {
		c.Pool.MaxBatchBytes = other.Pool.MaxBatchBytes
	}
	if other.Pool.BatchLinger != "" {
		c.Pool.BatchLinger = other.Pool.BatchLinger
	}

	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}
	if other.Search.TopK != 0 {
		c.Search.TopK = other.Search.TopK
	}
	if other.Search.MaxResponseChunks != 0 {
		c.Search.MaxResponseChunks = other.Search.MaxResponseChunks
	}
	if other.Search.MaxResponseTokens != 0 {
		c.Search.MaxResponseTokens = other.Search.MaxResponseTokens
	}
	if other.Search.MinScore != 0 {
		c.Search.MinScore = other.Search.MinScore
	}
	if other.Search.PhraseBoost != 0 {
		c.Search.PhraseBoost = other.Search.PhraseBoost
	}
	if other.Search.PhraseBoostCap != 0 {
		c.Search.PhraseBoostCap = other.Search.PhraseBoostCap
	}
	if other.Search.RecencyWeight != 0 {
		c.Search.RecencyWeight = other.Search.RecencyWeight
	}
	if other.Search.RecencyHalfLife != "" {
		c.Search.RecencyHalfLife = other.Search.RecencyHalfLife
	}
	if other.Search.ReadabilityFloor != 0 {
		c.Search.ReadabilityFloor = other.Search.ReadabilityFloor
	}
	if other.Search.KeywordBackend != "" {
		c.Search.KeywordBackend = other.Search.KeywordBackend
	}
	if other.Search.Timeout != "" {
		c.Search.Timeout = other.Search.Timeout
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxGenerations != 0 {
		c.Logging.MaxGenerations = other.Logging.MaxGenerations
	}
}

// applyEnvOverrides applies FOLDERMCP_* environment variables, the highest
// precedence layer.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FOLDERMCP_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("FOLDERMCP_SOCKET"); v != "" {
		c.Daemon.SocketPath = v
	}
	if v := os.Getenv("FOLDERMCP_WS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 && p < 65536 {
			c.Daemon.WebsocketPort = p
		}
	}
	if v := os.Getenv("FOLDERMCP_BACKEND"); v != "" {
		c.Embeddings.Backend = v
	}
	if v := os.Getenv("FOLDERMCP_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("FOLDERMCP_MLX_ENDPOINT"); v != "" {
		c.Embeddings.MLXEndpoint = v
	}
	if v := os.Getenv("FOLDERMCP_MODEL_CACHE"); v != "" {
		c.Embeddings.ModelCacheDir = v
	}
	if v := os.Getenv("FOLDERMCP_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Pool.Workers = n
		}
	}
	if v := os.Getenv("FOLDERMCP_KEYWORD_BACKEND"); v != "" {
		c.Search.KeywordBackend = v
	}
}

// normalizeFolders cleans folder paths so lookups and nesting checks compare
// like with like.
func (c *Config) normalizeFolders() {
	for i := range c.Folders {
		c.Folders[i].Path = NormalizePath(c.Folders[i].Path)
	}
}

// NormalizePath returns the cleaned absolute form of a folder path.
func NormalizePath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return filepath.Clean(abs)
}

// Validate checks the final configuration.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	if c.Daemon.WebsocketPort < 1 || c.Daemon.WebsocketPort > 65535 {
		return fmt.Errorf("daemon.websocket_port must be 1-65535, got %d", c.Daemon.WebsocketPort)
	}

	if c.Embeddings.Backend != "" {
		validBackends := map[string]bool{"ollama": true, "mlx": true, "builtin": true}
		if !validBackends[strings.ToLower(c.Embeddings.Backend)] {
			return fmt.Errorf("embeddings.backend must be 'ollama', 'mlx', 'builtin', or empty (auto-detect), got %s", c.Embeddings.Backend)
		}
	}

	validKeyword := map[string]bool{"fts5": true, "bleve": true}
	if !validKeyword[strings.ToLower(c.Search.KeywordBackend)] {
		return fmt.Errorf("search.keyword_backend must be 'fts5' or 'bleve', got %s", c.Search.KeywordBackend)
	}

	if c.Daemon.Compaction.OrphanRatio < 0 || c.Daemon.Compaction.OrphanRatio > 1 {
		return fmt.Errorf("daemon.compaction.orphan_ratio must be between 0 and 1, got %f",
			c.Daemon.Compaction.OrphanRatio)
	}
	if c.Daemon.Compaction.MinOrphans < 0 {
		return fmt.Errorf("daemon.compaction.min_orphans must be non-negative, got %d",
			c.Daemon.Compaction.MinOrphans)
	}

	if c.Search.TopK < 0 {
		return fmt.Errorf("search.top_k must be non-negative, got %d", c.Search.TopK)
	}
	if c.Search.PhraseBoost < 0 || c.Search.RecencyWeight < 0 {
		return fmt.Errorf("search boosts must be non-negative")
	}
	if c.Search.MinScore < 0 || c.Search.MinScore > 1 {
		return fmt.Errorf("search.min_score must be between 0 and 1, got %f", c.Search.MinScore)
	}
	if c.Search.ReadabilityFloor < 0 || c.Search.ReadabilityFloor > 1 {
		return fmt.Errorf("search.readability_floor must be between 0 and 1, got %f", c.Search.ReadabilityFloor)
	}

	if c.Pool.Workers < 0 {
		return fmt.Errorf("pool.workers must be non-negative, got %d", c.Pool.Workers)
	}
	if c.Pool.MaxBatchChunks < 1 {
		return fmt.Errorf("pool.max_batch_chunks must be positive, got %d", c.Pool.MaxBatchChunks)
	}

	for _, field := range []struct{ name, value string }{
		{"pool.batch_linger", c.Pool.BatchLinger},
		{"search.recency_half_life", c.Search.RecencyHalfLife},
		{"search.timeout", c.Search.Timeout},
		{"embeddings.download_timeout", c.Embeddings.DownloadTimeout},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("%s is not a valid duration: %q", field.name, field.value)
		}
	}

	seen := make(map[string]bool, len(c.Folders))
	for _, f := range c.Folders {
		if f.Path == "" {
			return fmt.Errorf("folder entries must have a path")
		}
		if !filepath.IsAbs(f.Path) {
			return fmt.Errorf("folder path must be absolute: %s", f.Path)
		}
		if seen[f.Path] {
			return fmt.Errorf("duplicate folder path: %s", f.Path)
		}
		seen[f.Path] = true
	}

	return nil
}

// PoolWorkers resolves the effective worker count.
func (c *Config) PoolWorkers() int {
	if c.Pool.Workers > 0 {
		return c.Pool.Workers
	}
	n := runtime.NumCPU() / 2
	if n > 4 {
		n = 4
	}
	if n < 1 {
		n = 1
	}
	return n
}

// BatchLingerDuration resolves pool.batch_linger with its default.
func (c *Config) BatchLingerDuration() time.Duration {
	return parseDurationOr(c.Pool.BatchLinger, 500*time.Millisecond)
}

// SearchTimeout resolves search.timeout with its default.
func (c *Config) SearchTimeout() time.Duration {
	return parseDurationOr(c.Search.Timeout, 5*time.Second)
}

// RecencyHalfLife resolves search.recency_half_life with its default.
func (c *Config) RecencyHalfLife() time.Duration {
	return parseDurationOr(c.Search.RecencyHalfLife, 720*time.Hour)
}

// DownloadTimeout resolves embeddings.download_timeout with its default.
func (c *Config) DownloadTimeout() time.Duration {
	return parseDurationOr(c.Embeddings.DownloadTimeout, 10*time.Minute)
}

// CompactionIdleAfter resolves daemon.compaction.idle_after with its default.
func (c *Config) CompactionIdleAfter() time.Duration {
	return parseDurationOr(c.Daemon.Compaction.IdleAfter, 30*time.Second)
}

// CompactionCooldown resolves daemon.compaction.cooldown with its default.
func (c *Config) CompactionCooldown() time.Duration {
	return parseDurationOr(c.Daemon.Compaction.Cooldown, time.Hour)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// FindFolder returns the registered folder for a path, or nil.
func (c *Config) FindFolder(path string) *FolderConfig {
	clean := NormalizePath(path)
	for i := range c.Folders {
		if c.Folders[i].Path == clean {
			return &c.Folders[i]
		}
	}
	return nil
}

// AddFolder registers a folder. It rejects duplicates and paths nested
// inside (or containing) an already registered folder, since two lifecycles
// over overlapping trees would fight over the same files.
func (c *Config) AddFolder(folder FolderConfig) error {
	folder.Path = NormalizePath(folder.Path)

	for _, existing := range c.Folders {
		if existing.Path == folder.Path {
			return fmt.Errorf("folder already registered: %s", folder.Path)
		}
		if isSubpath(existing.Path, folder.Path) {
			return fmt.Errorf("folder %s is nested inside registered folder %s", folder.Path, existing.Path)
		}
		if isSubpath(folder.Path, existing.Path) {
			return fmt.Errorf("folder %s contains registered folder %s", folder.Path, existing.Path)
		}
	}

	c.Folders = append(c.Folders, folder)
	sort.Slice(c.Folders, func(i, j int) bool {
		return c.Folders[i].Path < c.Folders[j].Path
	})
	return nil
}

// RemoveFolder unregisters a folder. Returns false if it was not registered.
func (c *Config) RemoveFolder(path string) bool {
	clean := NormalizePath(path)
	for i := range c.Folders {
		if c.Folders[i].Path == clean {
			c.Folders = append(c.Folders[:i], c.Folders[i+1:]...)
			return true
		}
	}
	return false
}

// isSubpath reports whether child lives strictly inside parent.
func isSubpath(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
