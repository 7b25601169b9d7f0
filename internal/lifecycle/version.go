package lifecycle

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/foldermcp/foldermcp/internal/store"
)

// VersionFileName is the optional sidecar that pins the schema version a
// deployment expects, letting packagers mark an installation tree without
// rebuilding. Content is a single integer.
const VersionFileName = "VERSION"

// ExpectedSchemaVersion returns the schema version this installation
// expects. The sidecar is searched next to the binary, in the binary's
// parent directory, then in the working directory; the first parseable
// file wins. Absence is normal and falls back to the compiled version.
func ExpectedSchemaVersion(log *slog.Logger) int {
	if log == nil {
		log = slog.Default()
	}
	for _, dir := range sidecarSearchDirs() {
		path := filepath.Join(dir, VersionFileName)
		version, ok := readVersionFile(path, log)
		if ok {
			log.Debug("schema version sidecar found",
				slog.String("path", path),
				slog.Int("version", version))
			return version
		}
	}
	return store.CurrentSchemaVersion
}

// sidecarSearchDirs lists the directories to probe, in order. The binary
// path can be unresolvable in test binaries; those entries are skipped.
func sidecarSearchDirs() []string {
	var dirs []string
	if exe, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		binDir := filepath.Dir(exe)
		dirs = append(dirs, binDir, filepath.Dir(binDir))
	}
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}
	return dirs
}

// readVersionFile parses one sidecar. A missing file is silently skipped;
// a present but malformed file is logged and skipped so a stray VERSION
// file cannot pin the schema to garbage.
func readVersionFile(path string, log *slog.Logger) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	version, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || version <= 0 {
		log.Warn("ignoring malformed schema version sidecar",
			slog.String("path", path))
		return 0, false
	}
	return version, true
}
