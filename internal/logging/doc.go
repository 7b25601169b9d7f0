// Package logging provides file-based logging with rotation for foldermcp.
// The daemon writes structured JSON logs to ~/.foldermcp/logs/daemon.log;
// MCP stdio servers write to mcp.log and never touch stdout or stderr,
// which belong to the protocol stream.
//
// Interactive commands additionally tee logs to stderr so failures are
// visible without opening the log file.
package logging
