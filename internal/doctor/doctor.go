// Package doctor runs self-diagnostics for the foldermcp installation:
// disk space, file-descriptor limits, memory, embedding-engine
// reachability, and per-folder index health. The CLI renders the results;
// nothing here mutates state.
package doctor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/foldermcp/foldermcp/internal/config"
	"github.com/foldermcp/foldermcp/internal/embed"
	"github.com/foldermcp/foldermcp/internal/hardware"
	"github.com/foldermcp/foldermcp/internal/store"
)

// CheckStatus classifies one check outcome.
type CheckStatus int

const (
	StatusPass CheckStatus = iota
	StatusWarn
	StatusFail
)

func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "????"
	}
}

// MarshalJSON emits the status as its string form.
func (s CheckStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// CheckResult is one diagnostic outcome.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical reports a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// minDiskSpaceBytes is the free-space floor for the home directory; below
// it indexing stalls on the first WAL checkpoint.
const minDiskSpaceBytes = 100 * 1024 * 1024

// minFileDescriptors is the fd-limit floor. Every folder holds a database,
// a vector file, a lock, and a watcher; a low limit fails on the watcher.
const minFileDescriptors = 1024

// minRAMGB below this the default models cannot load.
const minRAMGB = 1.0

// engineProbeTimeout bounds each engine reachability request.
const engineProbeTimeout = 2 * time.Second

// Checker runs the diagnostic suite against a loaded configuration.
type Checker struct {
	cfg    *config.Config
	prober *hardware.Prober
}

// New builds a Checker. A nil prober probes on first use.
func New(cfg *config.Config, prober *hardware.Prober) *Checker {
	if prober == nil {
		prober = hardware.NewProber(nil)
	}
	return &Checker{cfg: cfg, prober: prober}
}

// RunAll executes every check and returns the results in display order.
func (c *Checker) RunAll(ctx context.Context) []CheckResult {
	results := []CheckResult{
		c.CheckDiskSpace(config.Dir()),
		c.CheckFileDescriptors(),
		c.CheckMemory(ctx),
		c.CheckOllama(ctx),
		c.CheckMLX(ctx),
	}
	for _, fc := range c.cfg.Folders {
		results = append(results, c.CheckFolderStore(fc.Path))
	}
	return results
}

// HasCriticalFailures reports whether any required check failed.
func HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// Summary condenses the results to "healthy", "degraded", or "failed".
func Summary(results []CheckResult) string {
	warned := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status == StatusWarn || r.Status == StatusFail {
			warned = true
		}
	}
	if warned {
		return "degraded"
	}
	return "healthy"
}

// CheckDiskSpace verifies free space at the foldermcp home directory.
func (c *Checker) CheckDiskSpace(path string) CheckResult {
	result := CheckResult{Name: "disk_space", Required: true}

	free, err := freeBytes(path)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check disk space: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("%s free (minimum: %s)",
		humanize.IBytes(free), humanize.IBytes(minDiskSpaceBytes))
	if free < minDiskSpaceBytes {
		result.Status = StatusFail
		return result
	}
	result.Status = StatusPass
	return result
}

// CheckMemory verifies the machine has enough RAM for the compact models.
func (c *Checker) CheckMemory(ctx context.Context) CheckResult {
	result := CheckResult{Name: "memory", Required: true}

	profile := c.prober.Profile(ctx)
	result.Message = fmt.Sprintf("%.1f GB RAM (minimum: %.0f GB)", profile.RAMGB, minRAMGB)
	switch {
	case profile.Degraded:
		result.Status = StatusWarn
		result.Message = "hardware probe degraded, assuming CPU-only defaults"
	case profile.RAMGB < minRAMGB:
		result.Status = StatusFail
	default:
		result.Status = StatusPass
	}
	return result
}

// CheckOllama probes the Ollama engine endpoint.
func (c *Checker) CheckOllama(ctx context.Context) CheckResult {
	host := c.cfg.Embeddings.OllamaHost
	if host == "" {
		host = embed.DefaultOllamaHost
	}
	return c.checkEngine(ctx, "ollama", host+"/api/tags")
}

// CheckMLX probes the MLX engine endpoint.
func (c *Checker) CheckMLX(ctx context.Context) CheckResult {
	endpoint := c.cfg.Embeddings.MLXEndpoint
	if endpoint == "" {
		endpoint = embed.DefaultMLXEndpoint
	}
	return c.checkEngine(ctx, "mlx", endpoint+"/health")
}

// checkEngine is never required: the built-in provider always works, so an
// unreachable engine only means slower, CPU-quality embeddings.
func (c *Checker) checkEngine(ctx context.Context, name, url string) CheckResult {
	result := CheckResult{Name: "engine_" + name, Required: false}

	probeCtx, cancel := context.WithTimeout(ctx, engineProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("bad endpoint %s: %v", url, err)
		return result
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("not reachable at %s", url)
		result.Details = "install the engine or pin embeddings.backend to one that is available"
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("unhealthy at %s (HTTP %d)", url, resp.StatusCode)
		return result
	}
	result.Status = StatusPass
	result.Message = fmt.Sprintf("reachable at %s", url)
	return result
}

// CheckFolderStore inspects one registered folder's on-disk index without
// opening it, so it is safe to run while the daemon holds the store lock.
func (c *Checker) CheckFolderStore(folderPath string) CheckResult {
	result := CheckResult{Name: "folder:" + folderPath, Required: false}

	if info, err := os.Stat(folderPath); err != nil {
		result.Status = StatusFail
		result.Message = "folder is missing"
		result.Details = fmt.Sprintf("remove it with 'foldermcp remove %s' or restore the directory", folderPath)
		return result
	} else if !info.IsDir() {
		result.Status = StatusFail
		result.Message = "folder path is not a directory"
		return result
	}

	dbPath := store.DBPath(folderPath)
	dbInfo, err := os.Stat(dbPath)
	if err != nil {
		result.Status = StatusWarn
		result.Message = "no index yet"
		result.Details = "the daemon builds it on next start; run 'foldermcp start'"
		return result
	}

	msg := fmt.Sprintf("index %s", humanize.IBytes(uint64(dbInfo.Size())))
	if vecInfo, err := os.Stat(store.VectorsPath(folderPath)); err == nil {
		msg += fmt.Sprintf(", vectors %s", humanize.IBytes(uint64(vecInfo.Size())))
	}
	result.Status = StatusPass
	result.Message = msg
	return result
}
