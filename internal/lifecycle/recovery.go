package lifecycle

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/foldermcp/foldermcp/internal/errors"
	"github.com/foldermcp/foldermcp/internal/store"
)

// FailureClass is the verdict on a store open failure. The distinction
// decides whether the folder's data survives: a corruption verdict renames
// the index aside and rebuilds from source files, an environment verdict
// preserves everything and surfaces an error for the operator.
type FailureClass int

const (
	// FailureUnknown means neither the error code nor the message matched
	// a known pattern. Treated like an environment failure: data is
	// preserved, because destroying an index over an unrecognized error
	// is never safe.
	FailureUnknown FailureClass = iota

	// FailureEnvironment covers problems outside the index data: another
	// process holds the lock, a shared library will not load, the binary
	// and platform disagree. Retrying after the operator fixes the
	// machine succeeds with the data intact.
	FailureEnvironment

	// FailureCorruption means the index data itself is structurally
	// broken and reopening will keep failing until it is rebuilt.
	FailureCorruption
)

// String returns the class name for logs.
func (c FailureClass) String() string {
	switch c {
	case FailureEnvironment:
		return "environment"
	case FailureCorruption:
		return "corruption"
	default:
		return "unknown"
	}
}

// environmentPatterns match failures caused by the machine, not the data:
// dynamic loader errors, ABI and architecture mismatches, missing
// accelerator libraries, and locks held by another process. Matching is
// case-insensitive over the full error chain.
var environmentPatterns = []string{
	"database is locked",
	"resource temporarily unavailable",
	"cannot open shared object",
	"no such file or directory: lib",
	"wrong elf class",
	"exec format error",
	"glibc_",
	"symbol lookup error",
	"undefined symbol",
	"dlopen",
	"image not found",
	"library not loaded",
	"incompatible architecture",
	"libcuda",
	"cuda driver",
	"specified module could not be found",
	"permission denied",
	"read-only file system",
	"no space left on device",
}

// corruptionPatterns match structural damage inside the index files.
var corruptionPatterns = []string{
	"file is not a database",
	"database disk image is malformed",
	"malformed database schema",
	"integrity check",
	"file is encrypted or is not a database",
	"not a valid vector index",
	"vector index dimensions",
	"unexpected end of json input",
}

// ClassifyOpenFailure decides what a store open failure means. Structured
// error codes are authoritative; message patterns only fill in for errors
// that bubbled up from below without one. Environment patterns are checked
// first because the penalty for the two mistakes is asymmetric: calling a
// locked database corrupt destroys a healthy index, while calling a corrupt
// database an environment problem merely fails again on the next open.
func ClassifyOpenFailure(err error) FailureClass {
	if err == nil {
		return FailureUnknown
	}

	switch errors.GetCode(err) {
	case errors.ErrCodeStoreCorrupted:
		return FailureCorruption
	case errors.ErrCodeStoreLocked, errors.ErrCodeStoreEnvironment,
		errors.ErrCodeSchemaMismatch, errors.ErrCodeFilePermission,
		errors.ErrCodeDiskFull:
		return FailureEnvironment
	}

	msg := strings.ToLower(err.Error())
	for _, pat := range environmentPatterns {
		if strings.Contains(msg, pat) {
			return FailureEnvironment
		}
	}
	for _, pat := range corruptionPatterns {
		if strings.Contains(msg, pat) {
			return FailureCorruption
		}
	}
	return FailureUnknown
}

// QuarantineCorrupted renames a folder's index data files aside with a
// .corrupted.<unix-ts> suffix so the next open starts clean while the
// damaged files stay available for inspection. The lock file and state
// sidecar are left alone. Returns the paths that were renamed.
func QuarantineCorrupted(folderPath string, now time.Time, log *slog.Logger) ([]string, error) {
	if log == nil {
		log = slog.Default()
	}
	suffix := fmt.Sprintf(".corrupted.%d", now.Unix())

	var renamed []string
	var firstErr error
	for _, path := range store.DataFilePaths(folderPath) {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		target := path + suffix
		if err := os.Rename(path, target); err != nil {
			log.Warn("quarantine rename failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = errors.New(errors.ErrCodeStoreOpen,
					fmt.Sprintf("cannot quarantine %s", path), err)
			}
			continue
		}
		renamed = append(renamed, target)
	}

	if len(renamed) > 0 {
		log.Warn("corrupted index quarantined",
			slog.String("folder", folderPath),
			slog.Int("files", len(renamed)),
			slog.String("suffix", suffix))
	}
	return renamed, firstErr
}
