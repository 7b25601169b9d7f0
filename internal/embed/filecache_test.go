package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldermcp/foldermcp/internal/model"
)

// artifactServer serves one artifact with Range support and counts requests.
func artifactServer(t *testing.T, content []byte) (*httptest.Server, *int) {
	t.Helper()
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		rangeHdr := r.Header.Get("Range")
		if rangeHdr == "" {
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(content)
			return
		}
		var offset int
		_, err := fmt.Sscanf(rangeHdr, "bytes=%d-", &offset)
		require.NoError(t, err)
		rest := content[offset:]
		w.Header().Set("Content-Length", strconv.Itoa(len(rest)))
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, len(content)-1, len(content)))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(rest)
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func testArtifact(url string, content []byte) model.Info {
	sum := sha256.Sum256(content)
	return model.Info{
		ID:     "test-model",
		Engine: model.EngineMLX,
		URL:    url + "/model.safetensors",
		SHA256: hex.EncodeToString(sum[:]),
	}
}

func TestFileCache_DownloadAndVerify(t *testing.T) {
	content := []byte(strings.Repeat("weights", 1000))
	srv, _ := artifactServer(t, content)
	info := testArtifact(srv.URL, content)

	cache := NewFileCache(t.TempDir(), nil)

	var sawProgress bool
	path, err := cache.Ensure(context.Background(), info, func(done, total int64) {
		sawProgress = true
		assert.LessOrEqual(t, done, total)
	})
	require.NoError(t, err)
	assert.True(t, sawProgress)
	assert.True(t, cache.Has(info))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// Content-addressed layout: <dir>/<id>/<sha256>.<ext>
	assert.Contains(t, path, filepath.Join("test-model", info.SHA256+".safetensors"))
}

func TestFileCache_SecondEnsureSkipsDownload(t *testing.T) {
	content := []byte("model bytes")
	srv, requests := artifactServer(t, content)
	info := testArtifact(srv.URL, content)

	cache := NewFileCache(t.TempDir(), nil)

	_, err := cache.Ensure(context.Background(), info, nil)
	require.NoError(t, err)
	after := *requests

	_, err = cache.Ensure(context.Background(), info, nil)
	require.NoError(t, err)

	assert.Equal(t, after, *requests)
}

func TestFileCache_ResumesFromPartial(t *testing.T) {
	content := []byte(strings.Repeat("0123456789", 500))
	srv, _ := artifactServer(t, content)
	info := testArtifact(srv.URL, content)

	dir := t.TempDir()
	cache := NewFileCache(dir, nil)

	// Simulate an interrupted download: the first half already on disk.
	dest := cache.Path(info)
	require.NoError(t, os.MkdirAll(filepath.Dir(dest), 0o755))
	require.NoError(t, os.WriteFile(dest+".tmp", content[:len(content)/2], 0o644))

	var maxDone int64
	path, err := cache.Ensure(context.Background(), info, func(done, total int64) {
		if done > maxDone {
			maxDone = done
		}
	})
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, got, "resumed file must match the full artifact")
	assert.Equal(t, int64(len(content)), maxDone)
}

func TestFileCache_ChecksumMismatchFails(t *testing.T) {
	content := []byte("served bytes")
	srv, _ := artifactServer(t, content)
	info := testArtifact(srv.URL, []byte("expected other bytes"))
	info.URL = srv.URL + "/model.safetensors"

	cache := NewFileCache(t.TempDir(), nil)

	_, err := cache.Ensure(context.Background(), info, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
	assert.False(t, cache.Has(info))

	// A poisoned partial must not linger for the next attempt.
	_, statErr := os.Stat(cache.Path(info) + ".tmp")
	assert.True(t, os.IsNotExist(statErr))
}

func TestFileCache_MissingURLFails(t *testing.T) {
	cache := NewFileCache(t.TempDir(), nil)

	_, err := cache.Ensure(context.Background(), model.Info{ID: "no-url"}, nil)
	assert.Error(t, err)
}

func TestArtifactExt(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://host/path/model.gguf", ".gguf"},
		{"https://host/path/model.safetensors?download=true", ".safetensors"},
		{"https://host/path/model", ".bin"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, artifactExt(tt.url), tt.url)
	}
}
