package scanner

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldermcp/foldermcp/internal/errors"
)

var fingerprintModTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// writeFingerprintFile pins mtime so the large-file trailer is stable
// across rewrites.
func writeFingerprintFile(t *testing.T, path string, content []byte, modTime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, content, 0o644))
	require.NoError(t, os.Chtimes(path, modTime, modTime))
}

func TestFingerprint_SmallFileIsFullContentHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.md")
	content := []byte("hello fingerprint")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	got, err := Fingerprint(path, 0)
	require.NoError(t, err)

	sum := sha256.Sum256(content)
	assert.Equal(t, "sha256:"+hex.EncodeToString(sum[:]), got)
}

func TestFingerprint_SmallFileIgnoresModTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.md")
	content := []byte("touched but unchanged")

	writeFingerprintFile(t, path, content, fingerprintModTime)
	first, err := Fingerprint(path, 0)
	require.NoError(t, err)

	writeFingerprintFile(t, path, content, fingerprintModTime.Add(time.Hour))
	second, err := Fingerprint(path, 0)
	require.NoError(t, err)

	assert.Equal(t, first, second, "a touch without a content change must not re-embed")
}

func TestFingerprint_LargeFileHeadTailWindows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "large.bin")

	content := make([]byte, 64)
	for i := range content {
		content[i] = byte('a' + i%23)
	}

	const budget = 16 // 8-byte head window, 8-byte tail window

	writeFingerprintFile(t, path, content, fingerprintModTime)
	base, err := Fingerprint(path, budget)
	require.NoError(t, err)

	// An edit between the windows is invisible by construction.
	middle := append([]byte(nil), content...)
	middle[32] ^= 0xFF
	writeFingerprintFile(t, path, middle, fingerprintModTime)
	got, err := Fingerprint(path, budget)
	require.NoError(t, err)
	assert.Equal(t, base, got)

	head := append([]byte(nil), content...)
	head[0] ^= 0xFF
	writeFingerprintFile(t, path, head, fingerprintModTime)
	got, err = Fingerprint(path, budget)
	require.NoError(t, err)
	assert.NotEqual(t, base, got)

	tail := append([]byte(nil), content...)
	tail[63] ^= 0xFF
	writeFingerprintFile(t, path, tail, fingerprintModTime)
	got, err = Fingerprint(path, budget)
	require.NoError(t, err)
	assert.NotEqual(t, base, got)

	grown := append(append([]byte(nil), content...), "more"...)
	writeFingerprintFile(t, path, grown, fingerprintModTime)
	got, err = Fingerprint(path, budget)
	require.NoError(t, err)
	assert.NotEqual(t, base, got)
}

func TestFingerprint_LargeFileIncludesModTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "large.bin")
	content := make([]byte, 64)

	writeFingerprintFile(t, path, content, fingerprintModTime)
	first, err := Fingerprint(path, 16)
	require.NoError(t, err)

	writeFingerprintFile(t, path, content, fingerprintModTime.Add(time.Minute))
	second, err := Fingerprint(path, 16)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestFingerprint_MissingFile(t *testing.T) {
	_, err := Fingerprint(filepath.Join(t.TempDir(), "absent.md"), 0)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeFileNotFound, errors.GetCode(err))
}
