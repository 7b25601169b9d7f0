package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newTestRegistry(t *testing.T) *MCPRegistry {
	t.Helper()
	return NewMCPRegistry(filepath.Join(t.TempDir(), "mcp-servers.json"))
}

func TestRegistryRegisterAndUnregister(t *testing.T) {
	defer goleak.VerifyNone(t)
	r := newTestRegistry(t)

	require.NoError(t, r.Register("/data/docs"))
	entries, err := r.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, os.Getpid(), entries[0].PID)
	assert.Equal(t, "/data/docs", entries[0].Folder)
	assert.NotEmpty(t, entries[0].Executable)

	require.NoError(t, r.Unregister(os.Getpid()))
	entries, err = r.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRegistryMissingFileIsEmpty(t *testing.T) {
	defer goleak.VerifyNone(t)
	r := newTestRegistry(t)
	entries, err := r.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRegistryTornFileIsEmpty(t *testing.T) {
	defer goleak.VerifyNone(t)
	path := filepath.Join(t.TempDir(), "mcp-servers.json")
	require.NoError(t, os.WriteFile(path, []byte("{torn"), 0o644))

	r := NewMCPRegistry(path)
	entries, err := r.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCleanupZombiesSkipsDeadAndForeign(t *testing.T) {
	defer goleak.VerifyNone(t)
	r := newTestRegistry(t)

	// One dead pid and one live foreign process (pid 1). Neither may be
	// signaled; both must be pruned from the registry.
	entries := []MCPServerEntry{
		{PID: 999999, Executable: "/usr/bin/foldermcp"},
		{PID: 1, Executable: "/sbin/init"},
	}
	require.NoError(t, r.save(entries))

	terminated, err := r.CleanupZombies(nil)
	require.NoError(t, err)
	assert.Zero(t, terminated)

	after, err := r.Entries()
	require.NoError(t, err)
	assert.Empty(t, after, "cleanup rewrites the registry empty")
}

func TestUnregisterUnknownPid(t *testing.T) {
	defer goleak.VerifyNone(t)
	r := newTestRegistry(t)
	require.NoError(t, r.Register(""))
	require.NoError(t, r.Unregister(424242))

	entries, err := r.Entries()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
