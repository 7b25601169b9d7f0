package logging

import (
	"log/slog"
)

// SetupMCPMode initializes logging for MCP stdio server mode.
// MCP over stdio requires stdout to carry JSON-RPC exclusively; any stray
// write to stdout or stderr corrupts the protocol stream. In this mode logs
// go to a dedicated file only, at debug level for full diagnostics.
func SetupMCPMode() (func(), error) {
	return SetupMCPModeWithLevel("debug")
}

// SetupMCPModeWithLevel initializes MCP-safe logging with a specific level.
func SetupMCPModeWithLevel(level string) (func(), error) {
	cfg := Config{
		Level:         level,
		FilePath:      MCPLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: false, // never touch stderr in MCP mode
	}

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logger)

	slog.Info("mcp mode logging initialized",
		slog.String("log_file", cfg.FilePath),
		slog.String("level", cfg.Level))

	return cleanup, nil
}
