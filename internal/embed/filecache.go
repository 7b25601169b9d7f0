package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"github.com/foldermcp/foldermcp/internal/errors"
	"github.com/foldermcp/foldermcp/internal/model"
)

// downloadStallTimeout aborts an attempt when the connection makes no
// progress for this long. The total budget comes from the caller's context.
const downloadStallTimeout = 60 * time.Second

// FileCache stores model artifacts content-addressed under
// <dir>/<model-id>/<sha256>.<ext>. Downloads are resumable: a partial
// temp file survives interruption and the next attempt continues it with
// an HTTP Range request. A flock serializes downloads across processes.
type FileCache struct {
	dir    string
	client *http.Client
	log    *slog.Logger
}

// NewFileCache creates a cache rooted at dir, typically
// ~/.foldermcp/models.
func NewFileCache(dir string, log *slog.Logger) *FileCache {
	if log == nil {
		log = slog.Default()
	}
	return &FileCache{
		dir:    dir,
		client: &http.Client{},
		log:    log,
	}
}

// Path returns where the artifact for info lives, whether or not it has
// been downloaded yet.
func (c *FileCache) Path(info model.Info) string {
	name := info.SHA256
	if name == "" {
		name = "artifact"
	}
	ext := artifactExt(info.URL)
	return filepath.Join(c.dir, info.ID, name+ext)
}

// artifactExt extracts the artifact extension from a download URL.
func artifactExt(url string) string {
	base := url
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	ext := filepath.Ext(filepath.Base(base))
	if ext == "" {
		ext = ".bin"
	}
	return ext
}

// Has reports whether the artifact is already cached.
func (c *FileCache) Has(info model.Info) bool {
	st, err := os.Stat(c.Path(info))
	return err == nil && st.Size() > 0
}

// Ensure makes the artifact for info present in the cache and returns its
// path. progressFn receives (downloaded, total) bytes as the transfer
// advances; already cached artifacts return immediately without calling it.
func (c *FileCache) Ensure(ctx context.Context, info model.Info, progressFn func(downloaded, total int64)) (string, error) {
	if info.URL == "" {
		return "", errors.New(errors.ErrCodeModelDownload,
			fmt.Sprintf("model %s has no artifact URL", info.ID), nil)
	}

	dest := c.Path(info)
	if c.Has(info) {
		return dest, nil
	}

	modelDir := filepath.Dir(dest)
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return "", errors.New(errors.ErrCodeModelDownload, "cannot create model cache directory", err).
			WithDetail("dir", modelDir)
	}

	// One downloader per artifact across processes. The loser of the race
	// blocks here and usually finds the file present after the lock.
	lock := flock.New(filepath.Join(modelDir, ".download.lock"))
	if err := lock.Lock(); err != nil {
		return "", errors.New(errors.ErrCodeModelDownload, "cannot acquire download lock", err)
	}
	defer func() { _ = lock.Unlock() }()

	if c.Has(info) {
		return dest, nil
	}

	cfg := errors.DownloadRetryConfig()
	err := errors.Retry(ctx, cfg, func() error {
		return c.download(ctx, info, dest, progressFn)
	})
	if err != nil {
		var cerr *errors.CoreError
		if stderrors.As(err, &cerr) {
			return "", err
		}
		return "", errors.New(errors.ErrCodeModelDownload,
			fmt.Sprintf("download of %s failed", info.ID), err).
			WithDetail("url", info.URL).
			WithSuggestion("check network connectivity and retry; partial progress is kept")
	}
	return dest, nil
}

// download performs one attempt, resuming from the temp file when one is
// present. On success the temp file is renamed into place atomically.
func (c *FileCache) download(ctx context.Context, info model.Info, dest string, progressFn func(downloaded, total int64)) error {
	tmpPath := dest + ".tmp"

	var offset int64
	hasher := sha256.New()
	if st, err := os.Stat(tmpPath); err == nil && st.Size() > 0 {
		// Hash what we already have so verification covers the whole file.
		if err := hashFile(tmpPath, hasher); err != nil {
			_ = os.Remove(tmpPath)
			hasher = sha256.New()
		} else {
			offset = st.Size()
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, info.URL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "foldermcp/1.0")
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	// The watchdog cancels the attempt when reads stop advancing; the
	// retry loop then reconnects and resumes from the temp file.
	attemptCtx, cancelAttempt := context.WithCancel(ctx)
	defer cancelAttempt()
	var lastProgress atomic.Int64
	lastProgress.Store(time.Now().UnixNano())
	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-watchdogDone:
				return
			case <-attemptCtx.Done():
				return
			case <-ticker.C:
				if time.Since(time.Unix(0, lastProgress.Load())) > downloadStallTimeout {
					cancelAttempt()
					return
				}
			}
		}
	}()

	resp, err := c.client.Do(req.WithContext(attemptCtx))
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var file *os.File
	switch resp.StatusCode {
	case http.StatusPartialContent:
		file, err = os.OpenFile(tmpPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	case http.StatusOK:
		// Server ignored the range; start over.
		offset = 0
		hasher = sha256.New()
		file, err = os.Create(tmpPath)
	default:
		return fmt.Errorf("download failed with status %s", resp.Status)
	}
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	defer func() { _ = file.Close() }()

	total := resp.ContentLength
	if total > 0 {
		total += offset
	} else if info.DownloadSizeMB > 0 {
		total = int64(info.DownloadSizeMB) * 1024 * 1024
	}

	downloaded := offset
	buf := make([]byte, 128*1024)
	for {
		select {
		case <-attemptCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("download stalled for %s", downloadStallTimeout)
		default:
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := file.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("write temp file: %w", writeErr)
			}
			_, _ = hasher.Write(buf[:n])
			downloaded += int64(n)
			lastProgress.Store(time.Now().UnixNano())
			if progressFn != nil {
				progressFn(downloaded, total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read body: %w", readErr)
		}
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if info.SHA256 != "" {
		got := hex.EncodeToString(hasher.Sum(nil))
		if !strings.EqualFold(got, info.SHA256) {
			// A corrupt partial must not poison the next attempt, and a
			// pinned hash that does not match is not a transient failure.
			_ = os.Remove(tmpPath)
			cerr := errors.New(errors.ErrCodeModelDownload,
				fmt.Sprintf("checksum mismatch: want %s, got %s", info.SHA256, got), nil)
			cerr.Retryable = false
			return cerr
		}
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}

	c.log.Info("model artifact cached",
		slog.String("model", info.ID),
		slog.String("path", dest),
		slog.Int64("bytes", downloaded))
	return nil
}

// hashFile streams an existing file into h.
func hashFile(path string, h hash.Hash) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = io.Copy(h, f)
	return err
}
