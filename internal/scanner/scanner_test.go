package scanner

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldermcp/foldermcp/internal/errors"
	"github.com/foldermcp/foldermcp/internal/ignore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeTestFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func collectPaths(files []*FileMeta) []string {
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	return paths
}

func TestScanner_Collect_FiltersAndFingerprints(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "main.go", "package main")
	writeTestFile(t, root, "notes/a.md", "alpha notes")
	writeTestFile(t, root, "notes/deep/b.txt", "bravo text")
	writeTestFile(t, root, ".git/config", "[core]")
	writeTestFile(t, root, "node_modules/pkg/index.js", "module.exports = {}")
	writeTestFile(t, root, ".foldermcp/index.db", "not really a database")
	writeTestFile(t, root, "assets/photo.png", "binary-ish")
	writeTestFile(t, root, "big.txt", strings.Repeat("x", 200))
	writeTestFile(t, root, "c.secret", "hidden")
	writeTestFile(t, root, ".gitignore", "*.secret\n")

	s, err := New(root, Options{MaxFileSize: 100, Logger: testLogger()})
	require.NoError(t, err)
	assert.Equal(t, root, s.Root())

	files, err := s.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{".gitignore", "main.go", "notes/a.md", "notes/deep/b.txt"},
		collectPaths(files))

	for _, f := range files {
		assert.True(t, strings.HasPrefix(f.Fingerprint, "sha256:"), "fingerprint of %s", f.Path)
		assert.Equal(t, filepath.Join(root, filepath.FromSlash(f.Path)), f.AbsPath)
		assert.Positive(t, f.Size)
		assert.False(t, f.ModTime.IsZero())
	}
}

func TestScanner_Collect_Deterministic(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "one.md", "first")
	writeTestFile(t, root, "sub/two.md", "second")
	writeTestFile(t, root, "sub/three.md", "third")

	s, err := New(root, Options{Logger: testLogger()})
	require.NoError(t, err)

	first, err := s.Collect(context.Background())
	require.NoError(t, err)
	second, err := s.Collect(context.Background())
	require.NoError(t, err)

	require.Equal(t, collectPaths(first), collectPaths(second))
	for i := range first {
		assert.Equal(t, first[i].Fingerprint, second[i].Fingerprint)
	}
}

func TestScanner_New_Validation(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "absent"), Options{Logger: testLogger()})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeFolderNotFound, errors.GetCode(err))

	root := t.TempDir()
	writeTestFile(t, root, "plain.txt", "file, not folder")
	_, err = New(filepath.Join(root, "plain.txt"), Options{Logger: testLogger()})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidPath, errors.GetCode(err))
}

func TestScanner_Scan_PreCanceledContext(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "a.md", "content")

	s, err := New(root, Options{Logger: testLogger()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Scan(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanner_ReloadIgnores(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "a.md", "kept")
	writeTestFile(t, root, "a.tmp", "scratch")
	writeTestFile(t, root, ignore.IgnoreFileName, "*.tmp\n")

	s, err := New(root, Options{Logger: testLogger()})
	require.NoError(t, err)

	files, err := s.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{".gitignore", "a.md"}, collectPaths(files))

	writeTestFile(t, root, ignore.IgnoreFileName, "# nothing ignored\n")

	// Matchers are cached until ReloadIgnores.
	files, err = s.Collect(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, collectPaths(files), "a.tmp")

	s.ReloadIgnores()
	files, err = s.Collect(context.Background())
	require.NoError(t, err)
	assert.Contains(t, collectPaths(files), "a.tmp")
}

func TestScanner_SymlinksSkippedByDefault(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "target.md", "pointed at")
	require.NoError(t, os.Symlink(
		filepath.Join(root, "target.md"), filepath.Join(root, "link.md")))

	s, err := New(root, Options{Logger: testLogger()})
	require.NoError(t, err)
	files, err := s.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"target.md"}, collectPaths(files))

	s, err = New(root, Options{FollowSymlinks: true, Logger: testLogger()})
	require.NoError(t, err)
	files, err = s.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"link.md", "target.md"}, collectPaths(files))
}
