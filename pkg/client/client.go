// Package client is the Go client for a running daemon's control surface.
// The CLI and the MCP bridge both talk to the daemon through it: plain
// request/response calls go over the unix socket, one connection per call,
// and FMDM subscriptions go over the loopback websocket.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/foldermcp/foldermcp/internal/daemon"
	"github.com/foldermcp/foldermcp/pkg/fmdm"
)

// ErrDaemonNotRunning reports that nothing answered on the control socket.
var ErrDaemonNotRunning = errors.New("daemon is not running")

// RPCError is a structured error returned by the daemon.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return e.Message
}

// IsFolderUnknown reports whether err is the daemon rejecting an
// unregistered folder path.
func IsFolderUnknown(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == daemon.ErrCodeFolderUnknown
}

// IsFolderNotReady reports whether err is the daemon deferring a query
// because the folder's index is not serving yet.
func IsFolderNotReady(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == daemon.ErrCodeFolderNotReady
}

// IsFolderExists reports whether err is the daemon rejecting a duplicate
// or overlapping folder registration.
func IsFolderExists(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == daemon.ErrCodeFolderExists
}

const defaultCallTimeout = 30 * time.Second

// Client talks to one daemon. Safe for concurrent use; every call dials
// its own connection.
type Client struct {
	socketPath string
	wsPort     int
	timeout    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the per-call deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New builds a client for the daemon at socketPath, with wsPort as the
// loopback websocket port for subscriptions.
func New(socketPath string, wsPort int, opts ...Option) *Client {
	c := &Client{
		socketPath: socketPath,
		wsPort:     wsPort,
		timeout:    defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// wireResponse keeps the result raw so Call can decode it into the
// caller's typed destination.
type wireResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *daemon.Error   `json:"error,omitempty"`
	ID      string          `json:"id"`
}

// Call sends one request and decodes the result into result, which may be
// nil when the caller only cares about success.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("%w at %s: %v", ErrDaemonNotRunning, c.socketPath, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	req := daemon.Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      uuid.NewString(),
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	var resp wireResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}
	if resp.Error != nil {
		return &RPCError{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if resp.ID != req.ID {
		return fmt.Errorf("response id mismatch: sent %s, got %s", req.ID, resp.ID)
	}
	if result == nil || resp.Result == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// Ping reports whether a daemon answers on the socket.
func (c *Client) Ping(ctx context.Context) bool {
	_, err := c.Status(ctx)
	return err == nil
}

// Status fetches daemon.status.
func (c *Client) Status(ctx context.Context) (daemon.StatusResult, error) {
	var out daemon.StatusResult
	err := c.Call(ctx, daemon.MethodDaemonStatus, nil, &out)
	return out, err
}

// Stop asks the daemon to shut down. The daemon acknowledges before it
// stops, so a nil return means shutdown has begun, not finished.
func (c *Client) Stop(ctx context.Context) error {
	return c.Call(ctx, daemon.MethodDaemonStop, nil, nil)
}

// AddFolder registers a folder for indexing.
func (c *Client) AddFolder(ctx context.Context, p daemon.AddFolderParams) error {
	return c.Call(ctx, daemon.MethodFoldersAdd, p, nil)
}

// RemoveFolder deregisters a folder, purging its index when p.Purge is set.
func (c *Client) RemoveFolder(ctx context.Context, p daemon.RemoveFolderParams) error {
	return c.Call(ctx, daemon.MethodFoldersRemove, p, nil)
}

// Reindex forces a full rebuild of one folder's index.
func (c *Client) Reindex(ctx context.Context, path string) error {
	return c.Call(ctx, daemon.MethodFoldersReindex, daemon.FolderParams{Path: path}, nil)
}

// ListFolders fetches the registered folders in FMDM form.
func (c *Client) ListFolders(ctx context.Context) ([]fmdm.Folder, error) {
	var out daemon.FoldersResult
	if err := c.Call(ctx, daemon.MethodFoldersList, nil, &out); err != nil {
		return nil, err
	}
	return out.Folders, nil
}

// GetFMDM fetches the current snapshot without subscribing.
func (c *Client) GetFMDM(ctx context.Context) (fmdm.Snapshot, error) {
	var out fmdm.Snapshot
	err := c.Call(ctx, daemon.MethodFMDMGet, nil, &out)
	return out, err
}

// Diagnostics fetches the daemon's full diagnostics payload.
func (c *Client) Diagnostics(ctx context.Context) (daemon.DiagnosticsResult, error) {
	var out daemon.DiagnosticsResult
	err := c.Call(ctx, daemon.MethodDiagnostics, nil, &out)
	return out, err
}

// Search runs one query against a folder's index.
func (c *Client) Search(ctx context.Context, p daemon.SearchParams) (daemon.SearchResult, error) {
	var out daemon.SearchResult
	err := c.Call(ctx, daemon.MethodSearchQuery, p, &out)
	return out, err
}

// ListDocuments pages through a folder's indexed documents.
func (c *Client) ListDocuments(ctx context.Context, p daemon.ListDocumentsParams) (daemon.ListDocumentsResult, error) {
	var out daemon.ListDocumentsResult
	err := c.Call(ctx, daemon.MethodDocumentsList, p, &out)
	return out, err
}

// GetDocument fetches one document's re-assembled text.
func (c *Client) GetDocument(ctx context.Context, p daemon.GetDocumentParams) (daemon.DocumentDataResult, error) {
	var out daemon.DocumentDataResult
	err := c.Call(ctx, daemon.MethodDocumentsGet, p, &out)
	return out, err
}

// GetChunks fetches a chunk range of one document.
func (c *Client) GetChunks(ctx context.Context, p daemon.GetChunksParams) (daemon.ChunksResult, error) {
	var out daemon.ChunksResult
	err := c.Call(ctx, daemon.MethodChunksGet, p, &out)
	return out, err
}

// DescribeIndex fetches one folder's index description and live state.
func (c *Client) DescribeIndex(ctx context.Context, path string) (daemon.DescribeIndexResult, error) {
	var out daemon.DescribeIndexResult
	err := c.Call(ctx, daemon.MethodIndexDescribe, daemon.FolderParams{Path: path}, &out)
	return out, err
}
