package scanner

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/foldermcp/foldermcp/internal/errors"
)

// DefaultHashBudget caps full-content hashing. Files at or under the
// budget hash in full; larger files hash a head window and a tail window
// plus size and mtime, which catches edits at either end and any length
// change without reading the whole file.
const DefaultHashBudget = 8 * 1024 * 1024

const fingerprintPrefix = "sha256:"

// Fingerprint hashes the file at path. budget <= 0 selects
// DefaultHashBudget. Renames preserve the fingerprint: a moved file hashes
// identically, which is what lets the change set collapse a delete and an
// add into a path-only update.
func Fingerprint(path string, budget int64) (string, error) {
	if budget <= 0 {
		budget = DefaultHashBudget
	}

	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeFileNotFound, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeFileNotFound, err)
	}

	h := sha256.New()

	if info.Size() <= budget {
		if _, err := io.Copy(h, f); err != nil {
			return "", fmt.Errorf("hash %s: %w", path, err)
		}
		return fingerprintPrefix + hex.EncodeToString(h.Sum(nil)), nil
	}

	// Head window, tail window, then size and mtime. The windows split the
	// budget so an over-budget file reads exactly budget bytes.
	half := budget / 2
	if _, err := io.CopyN(h, f, half); err != nil {
		return "", fmt.Errorf("hash head of %s: %w", path, err)
	}
	if _, err := f.Seek(-half, io.SeekEnd); err != nil {
		return "", fmt.Errorf("seek tail of %s: %w", path, err)
	}
	if _, err := io.CopyN(h, f, half); err != nil {
		return "", fmt.Errorf("hash tail of %s: %w", path, err)
	}

	var trailer [16]byte
	binary.BigEndian.PutUint64(trailer[:8], uint64(info.Size()))
	binary.BigEndian.PutUint64(trailer[8:], uint64(info.ModTime().UnixNano()))
	h.Write(trailer[:])

	return fingerprintPrefix + hex.EncodeToString(h.Sum(nil)), nil
}
