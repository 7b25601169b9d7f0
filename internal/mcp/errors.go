package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/foldermcp/foldermcp/internal/daemon"
	"github.com/foldermcp/foldermcp/pkg/client"
)

// ToolError is what a failed tool call surfaces to the MCP client: a
// one-line message plus an actionable suggestion. Tool errors stay inside
// the tool-call result; they never become transport failures.
type ToolError struct {
	Message    string
	Suggestion string
}

func (e *ToolError) Error() string {
	if e.Suggestion == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Suggestion)
}

// NewInvalidParamsError reports a caller mistake in the tool arguments.
func NewInvalidParamsError(msg string) *ToolError {
	return &ToolError{Message: msg}
}

// MapError converts daemon client errors into actionable tool errors.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, client.ErrDaemonNotRunning) {
		return &ToolError{
			Message:    "the foldermcp daemon is not running",
			Suggestion: "start it with `foldermcp start`",
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ToolError{
			Message:    "the daemon did not answer in time",
			Suggestion: "check `foldermcp status` and retry",
		}
	}

	var rpcErr *client.RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case daemon.ErrCodeFolderUnknown:
			return &ToolError{
				Message:    rpcErr.Message,
				Suggestion: "list indexed folders with `foldermcp status` or add one with `foldermcp add <path>`",
			}
		case daemon.ErrCodeFolderNotReady:
			return &ToolError{
				Message:    rpcErr.Message,
				Suggestion: "the index is still building; retry once the folder is ACTIVE",
			}
		case daemon.ErrCodeQueryFailed:
			return &ToolError{
				Message:    rpcErr.Message,
				Suggestion: "simplify the query or check `foldermcp doctor`",
			}
		case daemon.ErrCodeInvalidParams:
			return &ToolError{Message: rpcErr.Message}
		}
		return &ToolError{Message: rpcErr.Message}
	}

	return &ToolError{Message: err.Error()}
}
