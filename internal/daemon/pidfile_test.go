package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestPidfileAcquireReadRelease(t *testing.T) {
	defer goleak.VerifyNone(t)
	p := NewPidfile(filepath.Join(t.TempDir(), "d.pid"))

	require.NoError(t, p.Acquire())
	pid, err := p.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, p.IsRunning())
	assert.False(t, p.Stale())

	require.NoError(t, p.Release())
	_, err = p.Read()
	assert.ErrorIs(t, err, ErrPidfileNotFound)
}

func TestPidfileReplacesStale(t *testing.T) {
	defer goleak.VerifyNone(t)
	path := filepath.Join(t.TempDir(), "d.pid")

	// A pid far above the usual pid space, almost certainly dead.
	require.NoError(t, os.WriteFile(path, []byte("999999"), 0o644))

	p := NewPidfile(path)
	assert.True(t, p.Stale())
	require.NoError(t, p.Acquire())

	pid, err := p.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	t.Cleanup(func() { _ = p.Release() })
}

func TestPidfileRefusesLiveProcess(t *testing.T) {
	defer goleak.VerifyNone(t)
	path := filepath.Join(t.TempDir(), "d.pid")

	// pid 1 is always alive and never us.
	require.NoError(t, os.WriteFile(path, []byte("1"), 0o644))

	p := NewPidfile(path)
	assert.Error(t, p.Acquire())
}

func TestPidfileGarbageContent(t *testing.T) {
	defer goleak.VerifyNone(t)
	path := filepath.Join(t.TempDir(), "d.pid")
	require.NoError(t, os.WriteFile(path, []byte("not a pid"), 0o644))

	p := NewPidfile(path)
	_, err := p.Read()
	assert.Error(t, err)
	assert.False(t, p.IsRunning())
}

func TestPidfileReleaseWithoutAcquire(t *testing.T) {
	defer goleak.VerifyNone(t)
	p := NewPidfile(filepath.Join(t.TempDir(), "missing.pid"))
	assert.NoError(t, p.Release())
}
