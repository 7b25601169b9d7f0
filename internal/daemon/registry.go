package daemon

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/renameio"
)

// zombieGrace is how long a signaled MCP server gets to exit before the
// daemon escalates from SIGTERM to SIGKILL.
const zombieGrace = 2 * time.Second

// MCPServerEntry is one registered MCP stdio server process. Each
// `foldermcp mcp` subprocess writes itself here on start and removes
// itself on clean exit.
type MCPServerEntry struct {
	PID        int       `json:"pid"`
	Executable string    `json:"executable"`
	Folder     string    `json:"folder,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// MCPRegistry tracks MCP server subprocesses in a JSON file next to the
// config. A lingering server from a previous run keeps stale native
// modules mapped and has been the classic cause of misclassified
// corruption on store open, so the daemon clears them before opening
// anything.
type MCPRegistry struct {
	path string
	mu   sync.Mutex
}

// NewMCPRegistry returns a registry backed by the given file.
func NewMCPRegistry(path string) *MCPRegistry {
	return &MCPRegistry{path: path}
}

// Path returns the registry file location.
func (r *MCPRegistry) Path() string {
	return r.path
}

// Register records the current process. Called by the MCP server
// subprocess itself, not the daemon.
func (r *MCPRegistry) Register(folder string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve own executable: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load()
	if err != nil {
		return err
	}
	entries = append(entries, MCPServerEntry{
		PID:        os.Getpid(),
		Executable: exe,
		Folder:     folder,
		StartedAt:  time.Now().UTC(),
	})
	return r.save(entries)
}

// Unregister removes the entry for the given pid. Missing entries are
// fine; a cleanup may already have pruned them.
func (r *MCPRegistry) Unregister(pid int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load()
	if err != nil {
		return err
	}
	kept := entries[:0]
	for _, e := range entries {
		if e.PID != pid {
			kept = append(kept, e)
		}
	}
	return r.save(kept)
}

// Entries returns the current registrations.
func (r *MCPRegistry) Entries() ([]MCPServerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}

// CleanupZombies terminates registered MCP servers that survived the
// previous daemon and rewrites the registry without them. Only pids whose
// recorded executable is this same binary are signaled; a recycled pid
// can belong to anything. Returns how many processes were terminated.
func (r *MCPRegistry) CleanupZombies(log *slog.Logger) (int, error) {
	if log == nil {
		log = slog.Default()
	}
	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("resolve own executable: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load()
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	terminated := 0
	for _, e := range entries {
		if !processExists(e.PID) {
			continue
		}
		if e.Executable != exe {
			log.Warn("leaving foreign process registered as MCP server",
				slog.Int("pid", e.PID),
				slog.String("executable", e.Executable))
			continue
		}
		if terminate(e.PID) {
			terminated++
			log.Info("terminated lingering MCP server",
				slog.Int("pid", e.PID),
				slog.String("folder", e.Folder))
		} else {
			log.Warn("lingering MCP server did not exit",
				slog.Int("pid", e.PID))
		}
	}

	if err := r.save(nil); err != nil {
		return terminated, err
	}
	return terminated, nil
}

// terminate asks pid to exit and escalates to SIGKILL after the grace
// period. Reports whether the process is gone.
func terminate(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return true
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return !processExists(pid)
	}

	deadline := time.Now().Add(zombieGrace)
	for time.Now().Before(deadline) {
		if !processExists(pid) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}

	_ = proc.Signal(syscall.SIGKILL)
	time.Sleep(100 * time.Millisecond)
	return !processExists(pid)
}

// load reads the registry file. A missing file is an empty registry.
func (r *MCPRegistry) load() ([]MCPServerEntry, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read MCP registry: %w", err)
	}

	var entries []MCPServerEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		// A torn or hand-edited file is not worth failing daemon start
		// over; it gets rewritten on the next mutation.
		return nil, nil
	}
	return entries, nil
}

// save atomically rewrites the registry file.
func (r *MCPRegistry) save(entries []MCPServerEntry) error {
	if entries == nil {
		entries = []MCPServerEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode MCP registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create MCP registry directory: %w", err)
	}
	if err := renameio.WriteFile(r.path, data, 0o644); err != nil {
		return fmt.Errorf("write MCP registry: %w", err)
	}
	return nil
}
