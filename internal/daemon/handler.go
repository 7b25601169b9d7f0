package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/foldermcp/foldermcp/internal/config"
	"github.com/foldermcp/foldermcp/internal/errors"
	"github.com/foldermcp/foldermcp/internal/search"
	"github.com/foldermcp/foldermcp/internal/store"
)

// defaultDocumentPageSize bounds documents.list pages when the client does
// not ask for a size.
const defaultDocumentPageSize = 50

// defaultDocumentMaxBytes caps documents.get text when the client does not
// set max_bytes. Matches what MCP clients comfortably ingest in one call.
const defaultDocumentMaxBytes = 256 * 1024

// Handle dispatches one control request. Both servers route through here,
// so socket and websocket clients see identical behavior for every method
// except fmdm.subscribe, which only the websocket server honors.
func (o *Orchestrator) Handle(ctx context.Context, req Request) Response {
	switch req.Method {
	case MethodFoldersAdd:
		return o.handleFoldersAdd(ctx, req)
	case MethodFoldersRemove:
		return o.handleFoldersRemove(ctx, req)
	case MethodFoldersReindex:
		return o.handleFoldersReindex(ctx, req)
	case MethodFoldersList:
		return NewSuccessResponse(req.ID, FoldersResult{Folders: o.hub.Snapshot().Folders})
	case MethodFMDMGet:
		return NewSuccessResponse(req.ID, o.hub.Snapshot())
	case MethodFMDMSubscribe:
		return NewErrorResponse(req.ID, ErrCodeInvalidRequest,
			"fmdm.subscribe needs a persistent connection; use the websocket endpoint")
	case MethodDiagnostics:
		return o.handleDiagnostics(ctx, req)
	case MethodSearchQuery:
		return o.handleSearch(ctx, req)
	case MethodDocumentsList:
		return o.handleDocumentsList(ctx, req)
	case MethodDocumentsGet:
		return o.handleDocumentsGet(ctx, req)
	case MethodChunksGet:
		return o.handleChunksGet(ctx, req)
	case MethodIndexDescribe:
		return o.handleIndexDescribe(ctx, req)
	case MethodDaemonStatus:
		return o.handleDaemonStatus(req)
	case MethodDaemonStop:
		// Acknowledge before stopping so the client gets its response
		// out of the socket before the listener closes.
		go o.Stop()
		return NewSuccessResponse(req.ID, AckResult{OK: true})
	default:
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound,
			fmt.Sprintf("unknown method %q", req.Method))
	}
}

func (o *Orchestrator) handleFoldersAdd(ctx context.Context, req Request) Response {
	var p AddFolderParams
	if err := decodeParams(req.Params, &p); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}

	modelID, err := o.resolveModel(p.Model)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, errors.FormatForUser(err))
	}
	fc := config.FolderConfig{
		Path:     config.NormalizePath(p.Path),
		Model:    modelID,
		Priority: p.Priority,
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return NewErrorResponse(req.ID, ErrCodeInternalError, "daemon is shutting down")
	}
	runCtx := o.runCtx
	err = o.cfg.AddFolder(fc)
	o.mu.Unlock()
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeFolderExists, err.Error())
	}

	if err := o.startFolder(runCtx, fc); err != nil {
		o.mu.Lock()
		o.cfg.RemoveFolder(fc.Path)
		o.mu.Unlock()
		return NewErrorResponse(req.ID, ErrCodeInternalError, errors.FormatForUser(err))
	}

	o.persistConfig()
	o.log.Info("folder added",
		slog.String("folder", fc.Path),
		slog.String("model", fc.Model))
	return NewSuccessResponse(req.ID, AckResult{OK: true})
}

func (o *Orchestrator) handleFoldersRemove(_ context.Context, req Request) Response {
	var p RemoveFolderParams
	if err := decodeParams(req.Params, &p); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}

	clean := config.NormalizePath(p.Path)
	o.mu.Lock()
	entry, ok := o.folders[clean]
	if ok {
		delete(o.folders, clean)
	}
	o.cfg.RemoveFolder(clean)
	o.mu.Unlock()
	if !ok {
		return NewErrorResponse(req.ID, ErrCodeFolderUnknown,
			fmt.Sprintf("folder is not registered: %s", clean))
	}

	entry.closeAttachments()
	if err := entry.engine.Remove(p.Purge); err != nil {
		o.log.Error("folder removal failed",
			slog.String("folder", clean),
			slog.String("error", err.Error()))
	}
	o.hub.Remove(clean)
	o.persistConfig()
	return NewSuccessResponse(req.ID, AckResult{OK: true})
}

func (o *Orchestrator) handleFoldersReindex(ctx context.Context, req Request) Response {
	var p FolderParams
	if err := decodeParams(req.Params, &p); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	entry, ok := o.entryFor(p.Path)
	if !ok {
		return NewErrorResponse(req.ID, ErrCodeFolderUnknown,
			fmt.Sprintf("folder is not registered: %s", p.Path))
	}
	if err := entry.engine.Reindex(ctx); err != nil {
		return NewErrorResponse(req.ID, ErrCodeFolderNotReady, errors.FormatForUser(err))
	}
	return NewSuccessResponse(req.ID, AckResult{OK: true})
}

func (o *Orchestrator) handleSearch(ctx context.Context, req Request) Response {
	var p SearchParams
	if err := decodeParams(req.Params, &p); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	entry, ok := o.entryFor(p.Folder)
	if !ok {
		return NewErrorResponse(req.ID, ErrCodeFolderUnknown,
			fmt.Sprintf("folder is not registered: %s", p.Folder))
	}

	runner, _ := o.runnerFor(entry.cfg.Model)
	eng, _, err := entry.attachments(runner, search.FromConfig(o.cfg), o.log)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeFolderNotReady, errors.FormatForUser(err))
	}
	entry.markQueried()

	result, err := eng.Search(ctx, p.request())
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeQueryFailed, errors.FormatForUser(err))
	}
	return NewSuccessResponse(req.ID, SearchResult{
		Folder: entry.engine.FolderPath(),
		Result: result,
	})
}

func (o *Orchestrator) handleDocumentsList(ctx context.Context, req Request) Response {
	var p ListDocumentsParams
	if err := decodeParams(req.Params, &p); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	st, entry, resp := o.openStore(req.ID, p.Folder)
	if resp != nil {
		return *resp
	}

	limit := p.Limit
	if limit <= 0 {
		limit = defaultDocumentPageSize
	}
	docs, next, err := st.ListDocuments(ctx, store.ListDocumentsOptions{
		AfterID:    p.Cursor,
		Limit:      limit,
		PathPrefix: p.Prefix,
		Extension:  p.Extension,
	})
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, errors.FormatForUser(err))
	}
	return NewSuccessResponse(req.ID, ListDocumentsResult{
		Folder:     entry.engine.FolderPath(),
		Documents:  docs,
		NextCursor: next,
	})
}

func (o *Orchestrator) handleDocumentsGet(ctx context.Context, req Request) Response {
	var p GetDocumentParams
	if err := decodeParams(req.Params, &p); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	st, entry, resp := o.openStore(req.ID, p.Folder)
	if resp != nil {
		return *resp
	}

	doc, err := st.GetDocument(ctx, p.Path)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, errors.FormatForUser(err))
	}
	if doc == nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams,
			fmt.Sprintf("document not found: %s", p.Path))
	}

	chunks, err := st.GetDocumentChunks(ctx, p.Path, 0, 0)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, errors.FormatForUser(err))
	}

	maxBytes := p.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultDocumentMaxBytes
	}
	text, truncated := assembleText(chunks, p.FromPage, p.ToPage, maxBytes)

	return NewSuccessResponse(req.ID, DocumentDataResult{
		Folder:    entry.engine.FolderPath(),
		Document:  doc,
		Text:      text,
		Truncated: truncated,
	})
}

func (o *Orchestrator) handleChunksGet(ctx context.Context, req Request) Response {
	var p GetChunksParams
	if err := decodeParams(req.Params, &p); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	st, entry, resp := o.openStore(req.ID, p.Folder)
	if resp != nil {
		return *resp
	}

	chunks, err := st.GetDocumentChunks(ctx, p.Document, p.FromSeq, p.ToSeq)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, errors.FormatForUser(err))
	}
	return NewSuccessResponse(req.ID, ChunksResult{
		Folder:   entry.engine.FolderPath(),
		Document: p.Document,
		Chunks:   chunks,
	})
}

func (o *Orchestrator) handleIndexDescribe(ctx context.Context, req Request) Response {
	var p FolderParams
	if err := decodeParams(req.Params, &p); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	st, entry, resp := o.openStore(req.ID, p.Path)
	if resp != nil {
		return *resp
	}

	info, err := st.Info(ctx)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, errors.FormatForUser(err))
	}
	return NewSuccessResponse(req.ID, DescribeIndexResult{
		Folder: entry.engine.FolderPath(),
		State:  string(entry.engine.State()),
		Info:   info,
	})
}

func (o *Orchestrator) handleDiagnostics(ctx context.Context, req Request) Response {
	profile := o.prober.Profile(ctx)

	o.mu.Lock()
	runners := make([]ModelDiagnostics, 0, len(o.runners))
	for _, r := range o.runners {
		md := ModelDiagnostics{
			ModelID:    r.ModelName(),
			Ready:      r.Available(ctx),
			Dimensions: r.Dimensions(),
			BatchSize:  r.BatchSize(),
		}
		if active, ok := r.ActiveBackend(); ok {
			md.Backend = string(active.Backend)
		}
		runners = append(runners, md)
	}
	entries := make([]*folderEntry, 0, len(o.folders))
	for _, e := range o.folders {
		entries = append(entries, e)
	}
	o.mu.Unlock()

	folders := make([]FolderDiagnostics, 0, len(entries))
	for _, e := range entries {
		fd := FolderDiagnostics{
			Path:  e.engine.FolderPath(),
			State: string(e.engine.State()),
		}
		status := e.engine.Status()
		fd.Error = status.ErrorMessage

		if st := e.engine.Store(); st != nil {
			fd.Vectors = st.VectorStats()
			if info, err := st.Info(ctx); err == nil {
				fd.Info = info
			}
			e.mu.Lock()
			rec := e.recorder
			e.mu.Unlock()
			if rec != nil {
				if snap, err := rec.Snapshot(ctx); err == nil {
					fd.Telemetry = snap
				}
			}
		}
		folders = append(folders, fd)
	}

	return NewSuccessResponse(req.ID, DiagnosticsResult{
		Hardware: profile,
		Models:   runners,
		Pool:     o.pool.Snapshot(),
		Folders:  folders,
		Uptime:   uptime(o.startedAt),
	})
}

func (o *Orchestrator) handleDaemonStatus(req Request) Response {
	o.mu.Lock()
	folders := len(o.folders)
	o.mu.Unlock()

	return NewSuccessResponse(req.ID, StatusResult{
		Running:       true,
		PID:           os.Getpid(),
		Version:       o.version,
		Uptime:        uptime(o.startedAt),
		Folders:       folders,
		SocketPath:    o.cfg.Daemon.SocketPath,
		WebsocketPort: o.cfg.Daemon.WebsocketPort,
	})
}

// openStore resolves a folder path to its open store. The third return is
// non-nil when the caller should return it immediately.
func (o *Orchestrator) openStore(reqID, folder string) (*store.Store, *folderEntry, *Response) {
	entry, ok := o.entryFor(folder)
	if !ok {
		r := NewErrorResponse(reqID, ErrCodeFolderUnknown,
			fmt.Sprintf("folder is not registered: %s", folder))
		return nil, nil, &r
	}
	st := entry.engine.Store()
	if st == nil {
		r := NewErrorResponse(reqID, ErrCodeFolderNotReady,
			fmt.Sprintf("index for %s is not open yet (state %s)", folder, entry.engine.State()))
		return nil, nil, &r
	}
	return st, entry, nil
}

// assembleText rebuilds document text from stored chunks in sequence
// order, optionally restricted to an inclusive page range and capped at
// maxBytes. Chunk overlap stays in; readers want context, not fidelity.
func assembleText(chunks []*store.ChunkRecord, fromPage, toPage, maxBytes int) (string, bool) {
	var (
		out       []byte
		truncated bool
	)
	for _, c := range chunks {
		if fromPage > 0 || toPage > 0 {
			if c.Page == nil {
				continue
			}
			if fromPage > 0 && *c.Page < fromPage {
				continue
			}
			if toPage > 0 && *c.Page > toPage {
				continue
			}
		}
		if len(out) > 0 {
			out = append(out, '\n')
		}
		remaining := maxBytes - len(out)
		if remaining <= 0 {
			truncated = true
			break
		}
		if len(c.Content) > remaining {
			out = append(out, c.Content[:remaining]...)
			truncated = true
			break
		}
		out = append(out, c.Content...)
	}
	return string(out), truncated
}
