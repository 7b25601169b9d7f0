package validation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldermcp/foldermcp/internal/model"
)

func TestFolderPath(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid directory", func(t *testing.T) {
		got, err := FolderPath(dir)
		require.NoError(t, err)
		assert.Equal(t, filepath.Clean(dir), got)
	})

	t.Run("relative path resolves", func(t *testing.T) {
		wd, err := os.Getwd()
		require.NoError(t, err)
		got, err := FolderPath(".")
		require.NoError(t, err)
		assert.Equal(t, filepath.Clean(wd), got)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := FolderPath("  ")
		assert.ErrorContains(t, err, "empty")
	})

	t.Run("forbidden roots", func(t *testing.T) {
		for _, root := range []string{"/", "/etc", "/proc"} {
			_, err := FolderPath(root)
			assert.ErrorContains(t, err, "refusing to index", "root %s", root)
		}
	})

	t.Run("home directory", func(t *testing.T) {
		home, err := os.UserHomeDir()
		require.NoError(t, err)
		_, err = FolderPath(home)
		assert.ErrorContains(t, err, "home directory")
	})

	t.Run("nonexistent", func(t *testing.T) {
		_, err := FolderPath(filepath.Join(dir, "missing"))
		assert.ErrorContains(t, err, "does not exist")
	})

	t.Run("file not directory", func(t *testing.T) {
		file := filepath.Join(dir, "file.txt")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
		_, err := FolderPath(file)
		assert.ErrorContains(t, err, "not a directory")
	})
}

func TestFolderNotOverlapping(t *testing.T) {
	existing := []string{"/data/projects/alpha", "/data/docs"}

	tests := []struct {
		name      string
		candidate string
		wantErr   string
	}{
		{"disjoint", "/data/projects/beta", ""},
		{"sibling prefix is not overlap", "/data/docs-archive", ""},
		{"equal", "/data/docs", "already configured"},
		{"inside existing", "/data/docs/manuals", "is inside"},
		{"contains existing", "/data/projects", "contains"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FolderNotOverlapping(tt.candidate, existing)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestModelID(t *testing.T) {
	reg, err := model.Load()
	require.NoError(t, err)

	assert.NoError(t, ModelID(reg, ""), "empty id defers to the hardware default")
	assert.NoError(t, ModelID(reg, reg.IDs()[0]))

	err = ModelID(reg, "no-such-model")
	require.ErrorContains(t, err, `unknown model "no-such-model"`)
	assert.ErrorContains(t, err, reg.IDs()[0], "error should list the catalog")
}

func TestQuery(t *testing.T) {
	assert.NoError(t, Query("how do I provision a cluster"))
	assert.ErrorContains(t, Query("   "), "empty")

	long := make([]byte, maxQueryLength+1)
	for i := range long {
		long[i] = 'q'
	}
	assert.ErrorContains(t, Query(string(long)), "too long")
}
