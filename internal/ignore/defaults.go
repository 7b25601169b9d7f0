package ignore

// Defaults returns the built-in patterns every folder starts with. The
// index directory must never be indexed or watched, or the daemon would
// chase its own writes. The binary extensions listed here are formats no
// extractor reads; filtering them during the walk saves hashing them.
// Document formats that extraction deliberately skips (pdf, docx, ...)
// are not listed: those files must reach the pipeline so they can be
// recorded as skipped with a reason.
func Defaults() []string {
	return []string{
		".foldermcp/",

		// VCS metadata.
		".git/",
		".svn/",
		".hg/",
		".bzr/",

		// Dependency and build caches.
		"node_modules/",
		"__pycache__/",
		".venv/",
		"venv/",
		".tox/",
		"target/",
		".gradle/",

		// OS litter.
		".DS_Store",
		"Thumbs.db",

		// Compiled artifacts and libraries.
		"*.exe",
		"*.dll",
		"*.so",
		"*.dylib",
		"*.o",
		"*.a",
		"*.class",
		"*.pyc",
		"*.wasm",

		// Archives.
		"*.zip",
		"*.tar",
		"*.gz",
		"*.bz2",
		"*.xz",
		"*.7z",
		"*.rar",
		"*.jar",

		// Images.
		"*.png",
		"*.jpg",
		"*.jpeg",
		"*.gif",
		"*.bmp",
		"*.ico",
		"*.webp",
		"*.tiff",
		"*.svg",

		// Audio and video.
		"*.mp3",
		"*.mp4",
		"*.m4a",
		"*.avi",
		"*.mov",
		"*.mkv",
		"*.wav",
		"*.flac",
		"*.ogg",
		"*.webm",

		// Fonts.
		"*.ttf",
		"*.otf",
		"*.woff",
		"*.woff2",

		// Databases and dumps.
		"*.db",
		"*.sqlite",
		"*.sqlite3",
		"*.dump",
	}
}
