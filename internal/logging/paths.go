package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.foldermcp/logs/).
// FOLDERMCP_HOME relocates the whole profile, mirroring the config package.
// Falls back to temp directory if home directory is unavailable.
func DefaultLogDir() string {
	if custom := os.Getenv("FOLDERMCP_HOME"); custom != "" {
		return filepath.Join(custom, "logs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".foldermcp", "logs")
	}
	return filepath.Join(home, ".foldermcp", "logs")
}

// DaemonLogPath returns the daemon log path.
func DaemonLogPath() string {
	return filepath.Join(DefaultLogDir(), "daemon.log")
}

// MCPLogPath returns the log path used by MCP stdio server processes.
// MCP servers never write to their own stdout/stderr, so they get a
// dedicated file separate from the daemon's.
func MCPLogPath() string {
	return filepath.Join(DefaultLogDir(), "mcp.log")
}

// LogSource represents the source of logs to view.
type LogSource string

const (
	// LogSourceDaemon is the daemon logs (default).
	LogSourceDaemon LogSource = "daemon"
	// LogSourceMCP is the MCP stdio server logs.
	LogSourceMCP LogSource = "mcp"
	// LogSourceAll combines all log sources.
	LogSourceAll LogSource = "all"
)

// FindLogFilesBySource finds log files for the given source type.
// An explicit path takes precedence over source resolution.
func FindLogFilesBySource(source LogSource, explicit string) ([]string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return []string{explicit}, nil
		}
		return nil, fmt.Errorf("log file not found: %s", explicit)
	}

	var paths []string
	var checked []string

	switch source {
	case LogSourceDaemon:
		p := DaemonLogPath()
		checked = append(checked, p)
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}

	case LogSourceMCP:
		p := MCPLogPath()
		checked = append(checked, p)
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}

	case LogSourceAll:
		daemonPath := DaemonLogPath()
		mcpPath := MCPLogPath()
		checked = append(checked, daemonPath, mcpPath)

		if _, err := os.Stat(daemonPath); err == nil {
			paths = append(paths, daemonPath)
		}
		if _, err := os.Stat(mcpPath); err == nil {
			paths = append(paths, mcpPath)
		}

	default:
		return nil, fmt.Errorf("unknown log source: %s (use: daemon, mcp, all)", source)
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("no log files found for source '%s'.\nChecked: %v\n\n%s", source, checked, logHint(source))
	}

	return paths, nil
}

// ParseLogSource parses a string into a LogSource.
func ParseLogSource(s string) LogSource {
	switch s {
	case "mcp":
		return LogSourceMCP
	case "all":
		return LogSourceAll
	default:
		return LogSourceDaemon
	}
}

// EnsureLogDir creates the log directory if it doesn't exist.
func EnsureLogDir() error {
	dir := DefaultLogDir()
	return os.MkdirAll(dir, 0o755)
}

// logHint returns a message on how to generate logs for the given source.
func logHint(source LogSource) string {
	switch source {
	case LogSourceDaemon:
		return "To generate daemon logs:\n  foldermcp daemon"
	case LogSourceMCP:
		return "To generate MCP server logs:\n  foldermcp mcp (or connect an MCP client)"
	case LogSourceAll:
		return "To generate logs:\n  daemon: foldermcp daemon\n  mcp:    foldermcp mcp"
	default:
		return ""
	}
}
