package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldermcp/foldermcp/internal/config"
)

func TestConfigPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("FOLDERMCP_HOME", home)

	out, err := execute(t, "config", "path")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(home, "config.yaml"))
}

func TestConfigInit(t *testing.T) {
	home := t.TempDir()
	t.Setenv("FOLDERMCP_HOME", home)

	out, err := execute(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Created configuration file")
	assert.FileExists(t, config.DefaultConfigPath())

	// Second init without --force leaves the file alone.
	before, err := os.ReadFile(config.DefaultConfigPath())
	require.NoError(t, err)
	out, err = execute(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")
	after, err := os.ReadFile(config.DefaultConfigPath())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestConfigInitForceKeepsBackup(t *testing.T) {
	home := t.TempDir()
	t.Setenv("FOLDERMCP_HOME", home)

	_, err := execute(t, "config", "init")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(config.DefaultConfigPath(), []byte("version: 1\n"), 0o644))

	out, err := execute(t, "config", "init", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Backed up")

	backups, err := config.ListBackups(config.DefaultConfigPath())
	require.NoError(t, err)
	assert.NotEmpty(t, backups)
}

func TestConfigShow(t *testing.T) {
	t.Setenv("FOLDERMCP_HOME", t.TempDir())

	out, err := execute(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "websocket_port: 31849")
	assert.Contains(t, out, "keyword_backend: fts5")

	out, err = execute(t, "config", "show", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"websocket_port": 31849`)
}
