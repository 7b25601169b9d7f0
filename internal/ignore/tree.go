package ignore

import (
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds how many per-directory matchers a Tree keeps.
const DefaultCacheSize = 1024

// Tree answers ignore decisions for one folder. It combines the default
// patterns, caller extras, and every ignore file found in the tree;
// nested files apply below their own directory. Per-directory matchers
// are parsed lazily and kept in an LRU cache so rescans do not re-read
// unchanged files.
//
// A negation in a nested file cannot re-include a path excluded by an
// outer file; within one file negations work as usual.
type Tree struct {
	root     string
	static   *Matcher
	matchers *lru.Cache[string, *Matcher]
}

// NewTree builds a Tree for the folder root. extra patterns stack on top
// of Defaults, so an extra negation can re-include a default exclusion.
func NewTree(root string, extra ...string) (*Tree, error) {
	cache, err := lru.New[string, *Matcher](DefaultCacheSize)
	if err != nil {
		return nil, err
	}
	static := New(Defaults()...)
	for _, p := range extra {
		static.Add(p)
	}
	return &Tree{root: root, static: static, matchers: cache}, nil
}

// Root returns the folder the Tree serves.
func (t *Tree) Root() string {
	return t.root
}

// Ignored reports whether relPath (relative to the Tree root, native or
// slash-separated) should be skipped.
func (t *Tree) Ignored(relPath string, isDir bool) bool {
	relPath = filepath.ToSlash(relPath)
	if relPath == "" || relPath == "." {
		return false
	}

	if t.static.Match(relPath, isDir) {
		return true
	}

	if m := t.dirMatcher(t.root, ""); m != nil && m.Match(relPath, isDir) {
		return true
	}

	// Ignore files of ancestor directories apply to everything below
	// them.
	parent := filepath.ToSlash(filepath.Dir(relPath))
	if parent == "." {
		return false
	}
	base := ""
	for _, seg := range strings.Split(parent, "/") {
		if base == "" {
			base = seg
		} else {
			base = base + "/" + seg
		}
		dir := filepath.Join(t.root, filepath.FromSlash(base))
		if m := t.dirMatcher(dir, base); m != nil && m.Match(relPath, isDir) {
			return true
		}
	}
	return false
}

// Reset drops every cached matcher. Call it after an ignore file changes
// so the next query re-reads the tree.
func (t *Tree) Reset() {
	t.matchers.Purge()
}

// dirMatcher loads the ignore file of one directory, caching the parsed
// matcher. Returns nil when the directory has no ignore file.
func (t *Tree) dirMatcher(dir, base string) *Matcher {
	if m, ok := t.matchers.Get(dir); ok {
		return m
	}

	path := filepath.Join(dir, IgnoreFileName)
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	m := New()
	if err := m.LoadFile(path, base); err != nil {
		return nil
	}
	t.matchers.Add(dir, m)
	return m
}
