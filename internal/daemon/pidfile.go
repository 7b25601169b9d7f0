package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrPidfileNotFound is returned when the pidfile does not exist.
var ErrPidfileNotFound = errors.New("pidfile not found")

// Pidfile records the daemon's process id so other invocations can find,
// signal, or refuse to duplicate it. A pidfile pointing at a dead process
// is stale, not an error; Acquire replaces it silently.
type Pidfile struct {
	path string
}

// NewPidfile returns a manager for the given path. Nothing is written
// until Acquire.
func NewPidfile(path string) *Pidfile {
	return &Pidfile{path: path}
}

// Path returns the pidfile location.
func (p *Pidfile) Path() string {
	return p.path
}

// Acquire writes the current process id, creating parent directories as
// needed. It fails when another live process already holds the file.
func (p *Pidfile) Acquire() error {
	if pid, err := p.Read(); err == nil && processExists(pid) && pid != os.Getpid() {
		return fmt.Errorf("daemon already running with pid %d", pid)
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("create pidfile directory: %w", err)
	}
	data := []byte(strconv.Itoa(os.Getpid()))
	if err := os.WriteFile(p.path, data, 0o644); err != nil {
		return fmt.Errorf("write pidfile: %w", err)
	}
	return nil
}

// Read returns the recorded process id.
func (p *Pidfile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrPidfileNotFound
		}
		return 0, fmt.Errorf("read pidfile: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("pidfile %s holds no pid: %w", p.path, err)
	}
	return pid, nil
}

// Release removes the pidfile. Missing files are fine.
func (p *Pidfile) Release() error {
	err := os.Remove(p.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pidfile: %w", err)
	}
	return nil
}

// IsRunning reports whether the recorded process is alive.
func (p *Pidfile) IsRunning() bool {
	pid, err := p.Read()
	if err != nil {
		return false
	}
	return processExists(pid)
}

// Stale reports whether the file exists but its process is gone, which
// means the previous daemon died without cleaning up.
func (p *Pidfile) Stale() bool {
	pid, err := p.Read()
	if err != nil {
		return false
	}
	return !processExists(pid)
}

// Signal delivers sig to the recorded process.
func (p *Pidfile) Signal(sig syscall.Signal) error {
	pid, err := p.Read()
	if err != nil {
		return err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("signal process %d: %w", pid, err)
	}
	return nil
}

// processExists probes a pid with signal 0. On unix FindProcess always
// succeeds, so the probe is what actually checks liveness.
func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
