package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcher_Match_PatternSyntax(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		path    string
		isDir   bool
		want    bool
	}{
		{"exact name", "foo.txt", "foo.txt", false, true},
		{"exact name in subdir", "foo.txt", "src/foo.txt", false, true},
		{"exact name no match", "foo.txt", "bar.txt", false, false},

		{"extension wildcard", "*.log", "error.log", false, true},
		{"extension wildcard nested", "*.log", "logs/error.log", false, true},
		{"extension wildcard no match", "*.log", "error.txt", false, false},
		{"prefix wildcard", "test*", "testfile.go", false, true},
		{"prefix wildcard no match", "test*", "production.go", false, false},

		{"question mark", "file?.txt", "file1.txt", false, true},
		{"question mark single char only", "file?.txt", "file12.txt", false, false},
		{"character class", "file[0-9].txt", "file5.txt", false, true},
		{"character class no match", "file[0-9].txt", "fileX.txt", false, false},

		{"dir only matches dir", "build/", "build", true, true},
		{"dir only skips file of same name", "build/", "build", false, false},
		{"dir only matches contents", "build/", "build/out.txt", false, true},
		{"dir only matches nested dir", "build/", "sub/build/out.txt", false, true},

		{"anchored matches at root", "/top.txt", "top.txt", false, true},
		{"anchored skips nested", "/top.txt", "sub/top.txt", false, false},
		{"slash implies anchor", "doc/frotz", "doc/frotz", false, true},
		{"slash implies anchor nested", "doc/frotz", "a/doc/frotz", false, false},

		{"double star prefix", "**/logs", "a/b/logs", false, true},
		{"double star suffix matches contents", "logs/**", "logs/a/b.txt", false, true},
		{"double star suffix skips the dir itself", "logs/**", "logs", true, false},
		{"double star middle", "a/**/b", "a/x/y/b", false, true},
		{"double star middle adjacent", "a/**/b", "a/b", false, true},

		{"comment is not a rule", "# comment", "comment", false, false},
		{"escaped hash is literal", `\#notes`, "#notes", false, true},
		{"escaped trailing space", `name\ `, "name ", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(tt.pattern)
			assert.Equal(t, tt.want, m.Match(tt.path, tt.isDir))
		})
	}
}

func TestMatcher_Match_NegationLastRuleWins(t *testing.T) {
	m := New("*.log", "!keep.log")

	assert.True(t, m.Match("debug.log", false))
	assert.False(t, m.Match("keep.log", false))
	assert.True(t, m.Match("sub/other.log", false))
}

func TestMatcher_AddUnder_ScopesToBase(t *testing.T) {
	m := &Matcher{}
	m.AddUnder("*.tmp", "sub")

	assert.True(t, m.Match("sub/scratch.tmp", false))
	assert.True(t, m.Match("sub/deep/scratch.tmp", false))
	assert.False(t, m.Match("scratch.tmp", false))
	assert.False(t, m.Match("other/scratch.tmp", false))
}

func TestMatcher_LoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, IgnoreFileName)
	require.NoError(t, os.WriteFile(path, []byte("# build output\n*.out\n\n!keep.out\n"), 0o644))

	m := New()
	require.NoError(t, m.LoadFile(path, ""))

	assert.True(t, m.Match("a.out", false))
	assert.False(t, m.Match("keep.out", false))

	err := m.LoadFile(filepath.Join(dir, "absent"), "")
	assert.Error(t, err)
}

func TestDefaults_CoverIndexDirAndBinaries(t *testing.T) {
	m := New(Defaults()...)

	ignored := []struct {
		path  string
		isDir bool
	}{
		{".foldermcp", true},
		{".foldermcp/index.db", false},
		{".git/config", false},
		{"node_modules/left-pad/index.js", false},
		{"assets/photo.png", false},
		{"media/theme.mp4", false},
		{"dump.sqlite3", false},
		{"pkg/archive.tar", false},
	}
	for _, tc := range ignored {
		assert.True(t, m.Match(tc.path, tc.isDir), "want %s ignored", tc.path)
	}

	kept := []string{
		"notes/report.md",
		"src/main.go",
		"report.pdf", // unsupported formats must reach the pipeline to be marked skipped
		"slides.pptx",
		"README",
	}
	for _, path := range kept {
		assert.False(t, m.Match(path, false), "want %s kept", path)
	}
}

func TestTree_NestedIgnoreFilesScopeBelowTheirDirectory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub", "drafts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, IgnoreFileName), []byte("*.log\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", IgnoreFileName), []byte("drafts/\n"), 0o644))

	tree, err := NewTree(root)
	require.NoError(t, err)
	assert.Equal(t, root, tree.Root())

	assert.True(t, tree.Ignored("app.log", false))
	assert.True(t, tree.Ignored("sub/app.log", false))
	assert.True(t, tree.Ignored("sub/drafts", true))
	assert.True(t, tree.Ignored("sub/drafts/a.md", false))

	assert.False(t, tree.Ignored("sub/notes.md", false))
	assert.False(t, tree.Ignored("drafts/a.md", false), "nested rule must not apply outside its directory")
	assert.False(t, tree.Ignored(".", true))
}

func TestTree_ExtraPatternsStackOnDefaults(t *testing.T) {
	root := t.TempDir()

	tree, err := NewTree(root, "*.bak", "!important.png")
	require.NoError(t, err)

	assert.True(t, tree.Ignored("old.bak", false))
	assert.True(t, tree.Ignored("photo.png", false))
	assert.False(t, tree.Ignored("important.png", false))
	assert.True(t, tree.Ignored(".foldermcp/index.db", false))
}

func TestTree_ResetPicksUpChangedIgnoreFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, IgnoreFileName)
	require.NoError(t, os.WriteFile(path, []byte("*.tmp\n"), 0o644))

	tree, err := NewTree(root)
	require.NoError(t, err)
	require.True(t, tree.Ignored("a.tmp", false))

	require.NoError(t, os.WriteFile(path, []byte("*.bak\n"), 0o644))

	// The parsed matcher is cached until Reset.
	assert.True(t, tree.Ignored("a.tmp", false))

	tree.Reset()
	assert.False(t, tree.Ignored("a.tmp", false))
	assert.True(t, tree.Ignored("a.bak", false))
}
