// Package ignore decides which paths inside a watched folder never reach
// the indexing pipeline. It implements the gitignore pattern syntax
// (https://git-scm.com/docs/gitignore) and adds a default set suited to
// document folders: the index directory itself, VCS metadata, dependency
// caches, and binary formats no extractor reads.
package ignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// IgnoreFileName is the per-directory pattern file honored inside watched
// folders. Nested files scope their patterns below their own directory.
const IgnoreFileName = ".gitignore"

// Matcher holds compiled patterns and answers Match queries. It is safe
// for concurrent use; Add and Match may interleave.
type Matcher struct {
	mu    sync.RWMutex
	rules []rule
}

// rule is one compiled pattern.
type rule struct {
	src      string
	re       *regexp.Regexp
	negate   bool   // pattern started with !
	dirOnly  bool   // pattern ended with /
	anchored bool   // pattern contains / or started with /
	base     string // directory the pattern is scoped below, "" = root
}

// New returns a matcher preloaded with the given patterns.
func New(patterns ...string) *Matcher {
	m := &Matcher{}
	for _, p := range patterns {
		m.Add(p)
	}
	return m
}

// Add compiles one pattern scoped to the folder root.
func (m *Matcher) Add(pattern string) {
	m.AddUnder(pattern, "")
}

// AddUnder compiles one pattern that applies only below base, the way a
// nested ignore file applies below its own directory. base is
// slash-separated and relative to the folder root; "" means the root.
func (m *Matcher) AddUnder(pattern, base string) {
	// "\ " at the end keeps the trailing space through trimming.
	keepTrailingSpace := strings.HasSuffix(pattern, `\ `)
	pattern = strings.TrimSpace(pattern)

	if pattern == "" || (strings.HasPrefix(pattern, "#") && !strings.HasPrefix(pattern, `\#`)) {
		return
	}

	r := rule{src: pattern, base: base}

	if strings.HasPrefix(pattern, `\#`) {
		pattern = pattern[1:]
		r.src = pattern
	}
	switch {
	case strings.HasPrefix(pattern, `\!`):
		pattern = pattern[1:]
		r.src = pattern
	case strings.HasPrefix(pattern, "!"):
		r.negate = true
		pattern = pattern[1:]
	}

	if keepTrailingSpace && strings.HasSuffix(pattern, `\`) {
		pattern = strings.TrimSuffix(pattern, `\`) + " "
	}

	if strings.HasSuffix(pattern, "/") {
		r.dirOnly = true
		pattern = strings.TrimSuffix(pattern, "/")
	}
	if strings.HasPrefix(pattern, "/") {
		r.anchored = true
		pattern = strings.TrimPrefix(pattern, "/")
	}
	// "doc/frotz" means "/doc/frotz", not "**/doc/frotz".
	if strings.Contains(pattern, "/") && !strings.HasPrefix(pattern, "**/") && !strings.HasPrefix(pattern, "*") {
		r.anchored = true
	}

	r.re = regexp.MustCompile("^" + translate(pattern) + "$")

	m.mu.Lock()
	m.rules = append(m.rules, r)
	m.mu.Unlock()
}

// LoadFile reads patterns from a gitignore-format file, scoping them
// below base.
func (m *Matcher) LoadFile(path, base string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open ignore file: %w", err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m.AddUnder(sc.Text(), base)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read ignore file: %w", err)
	}
	return nil
}

// Match reports whether path should be ignored. path is relative to the
// folder root; separators are normalized. Later rules win, so a negation
// after a broad pattern re-includes the path.
func (m *Matcher) Match(path string, isDir bool) bool {
	path = filepath.ToSlash(path)

	m.mu.RLock()
	defer m.mu.RUnlock()

	ignored := false
	for _, r := range m.rules {
		if r.matches(path, isDir) {
			ignored = !r.negate
		}
	}
	return ignored
}

// matches reports whether one rule applies to path. A dirOnly rule
// matches the directory itself and everything inside it.
func (r rule) matches(path string, isDir bool) bool {
	if r.base != "" {
		switch {
		case path == r.base:
			path = filepath.Base(path)
		case strings.HasPrefix(path, r.base+"/"):
			path = strings.TrimPrefix(path, r.base+"/")
		default:
			return false
		}
	}

	parts := strings.Split(path, "/")
	name := parts[len(parts)-1]

	if r.anchored {
		if r.re.MatchString(path) {
			if r.dirOnly {
				return isDir
			}
			return true
		}
		if r.dirOnly {
			// Files under an anchored directory pattern match through
			// any ancestor.
			for i := range parts[:len(parts)-1] {
				if r.re.MatchString(strings.Join(parts[:i+1], "/")) {
					return true
				}
			}
		}
		return false
	}

	if r.dirOnly {
		for i, part := range parts {
			if r.re.MatchString(part) {
				if i == len(parts)-1 {
					return isDir
				}
				return true
			}
		}
		return false
	}

	if r.re.MatchString(name) || r.re.MatchString(path) {
		return true
	}
	for _, part := range parts {
		if r.re.MatchString(part) {
			return true
		}
	}
	return false
}

// translate converts a gitignore pattern into regexp source.
func translate(pattern string) string {
	var out strings.Builder
	for i := 0; i < len(pattern); {
		switch c := pattern[i]; c {
		case '*':
			if strings.HasPrefix(pattern[i:], "**/") {
				// **/ crosses any number of directories.
				out.WriteString("(?:.*/)?")
				i += 3
				continue
			}
			if strings.HasPrefix(pattern[i:], "**") && (i == 0 || pattern[i-1] == '/') {
				out.WriteString(".*")
				i += 2
				continue
			}
			out.WriteString("[^/]*")
			i++
		case '?':
			out.WriteString("[^/]")
			i++
		case '[':
			if j := strings.IndexByte(pattern[i:], ']'); j > 0 {
				out.WriteString(pattern[i : i+j+1])
				i += j + 1
			} else {
				out.WriteString(regexp.QuoteMeta(string(c)))
				i++
			}
		case '\\':
			if i+1 < len(pattern) {
				out.WriteString(regexp.QuoteMeta(string(pattern[i+1])))
				i += 2
			} else {
				out.WriteString(regexp.QuoteMeta(string(c)))
				i++
			}
		default:
			out.WriteString(regexp.QuoteMeta(string(c)))
			i++
		}
	}
	return out.String()
}
