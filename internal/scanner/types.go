// Package scanner enumerates the indexable files of a watched folder and
// turns two enumerations into a change set. It owns content
// fingerprinting: everything downstream keys change detection off the
// fingerprints computed here.
package scanner

import (
	"log/slog"
	"time"
)

// DefaultMaxFileSize skips files larger than this during the walk.
const DefaultMaxFileSize = 10 * 1024 * 1024

// FileMeta describes one discovered file.
type FileMeta struct {
	// Path is relative to the folder root, slash-separated.
	Path string

	// AbsPath is the absolute path on disk.
	AbsPath string

	// Size in bytes at scan time.
	Size int64

	// ModTime at scan time.
	ModTime time.Time

	// Fingerprint is the content hash, "sha256:<hex>".
	Fingerprint string
}

// Result streams from Scan. Exactly one of File and Err is set.
type Result struct {
	File *FileMeta
	Err  error
}

// Options tunes a Scanner.
type Options struct {
	// IgnorePatterns stack on top of the built-in defaults.
	IgnorePatterns []string

	// MaxFileSize skips files over this many bytes.
	// 0 means DefaultMaxFileSize.
	MaxFileSize int64

	// HashBudget caps full-content hashing; see Fingerprint.
	// 0 means DefaultHashBudget.
	HashBudget int64

	// Workers is the number of concurrent hashing workers.
	// 0 means NumCPU capped at 8.
	Workers int

	// FollowSymlinks hashes symlinked files instead of skipping them.
	// Directory symlinks are never followed.
	FollowSymlinks bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}
