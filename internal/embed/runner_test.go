package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	apperrors "github.com/foldermcp/foldermcp/internal/errors"
	"github.com/foldermcp/foldermcp/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// The HTTP client keeps idle connections in the background.
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
	)
}

func builtinModel() model.Info {
	return model.Info{
		ID:                "compact-test",
		Dimensions:        384,
		Engine:            model.EngineBuiltin,
		PreferredBackends: []string{"cpu"},
	}
}

func TestRunner_OpenBuiltin(t *testing.T) {
	r := NewRunner(builtinModel(), cpuOnlyProfile("linux"), RunnerOptions{CacheDir: t.TempDir()})
	defer func() { _ = r.Close() }()

	require.NoError(t, r.Open(context.Background(), nil))

	active, ok := r.ActiveBackend()
	require.True(t, ok)
	assert.Equal(t, BackendCPU, active.Backend)
	assert.Equal(t, 384, r.Dimensions())
	assert.Equal(t, "compact-test", r.ModelName())
	assert.True(t, r.Available(context.Background()))
}

func TestRunner_EmbedBatchThroughSession(t *testing.T) {
	r := NewRunner(builtinModel(), cpuOnlyProfile("linux"), RunnerOptions{CacheDir: t.TempDir()})
	defer func() { _ = r.Close() }()
	require.NoError(t, r.Open(context.Background(), nil))

	vectors, err := r.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Len(t, vectors[0], 384)
	assert.NotEqual(t, vectors[0], vectors[1])
}

func TestRunner_EmbedBeforeOpenFails(t *testing.T) {
	r := NewRunner(builtinModel(), cpuOnlyProfile("linux"), RunnerOptions{CacheDir: t.TempDir()})
	defer func() { _ = r.Close() }()

	_, err := r.EmbedBatch(context.Background(), []string{"text"})
	assert.Error(t, err)
}

func TestRunner_AllBackendsFailed(t *testing.T) {
	info := model.Info{
		ID:         "remote-only",
		Dimensions: 768,
		Engine:     model.EngineOllama,
		Tag:        "remote:latest",
	}
	// Nothing listens on port 1; every candidate's session creation fails.
	r := NewRunner(info, nvidiaLinuxProfile(), RunnerOptions{
		Endpoints: Endpoints{OllamaHost: "http://127.0.0.1:1"},
		CacheDir:  t.TempDir(),
	})
	defer func() { _ = r.Close() }()

	err := r.Open(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeAllBackendsFailed, apperrors.GetCode(err))
}

func TestRunner_ModelReadyBuiltin(t *testing.T) {
	r := NewRunner(builtinModel(), cpuOnlyProfile("linux"), RunnerOptions{CacheDir: t.TempDir()})
	defer func() { _ = r.Close() }()

	assert.True(t, r.ModelReady(context.Background()))
}

func TestRunner_ModelReadyUnreachableEngine(t *testing.T) {
	info := model.Info{ID: "m", Engine: model.EngineOllama, Tag: "m:latest"}
	r := NewRunner(info, cpuOnlyProfile("linux"), RunnerOptions{
		Endpoints: Endpoints{OllamaHost: "http://127.0.0.1:1"},
		CacheDir:  t.TempDir(),
	})
	defer func() { _ = r.Close() }()

	assert.False(t, r.ModelReady(context.Background()))
}

func TestRunner_BatchSizeUsesHardwareHint(t *testing.T) {
	r := NewRunner(builtinModel(), appleProfile(32), RunnerOptions{CacheDir: t.TempDir()})
	defer func() { _ = r.Close() }()
	require.NoError(t, r.Open(context.Background(), nil))

	// Builtin pins the cpu backend, so the cpu hint applies.
	assert.Equal(t, DefaultBatchSize, r.BatchSize())
}

func TestRunner_BatchSizeOverride(t *testing.T) {
	r := NewRunner(builtinModel(), cpuOnlyProfile("linux"), RunnerOptions{
		BatchSize: 48,
		CacheDir:  t.TempDir(),
	})
	defer func() { _ = r.Close() }()

	assert.Equal(t, 48, r.BatchSize())
}

func TestRunner_CloseRejectsFurtherWork(t *testing.T) {
	r := NewRunner(builtinModel(), cpuOnlyProfile("linux"), RunnerOptions{CacheDir: t.TempDir()})
	require.NoError(t, r.Open(context.Background(), nil))
	require.NoError(t, r.Close())

	_, err := r.EmbedBatch(context.Background(), []string{"text"})
	assert.Error(t, err)
	assert.Error(t, r.Open(context.Background(), nil))
}

func TestRunner_OllamaSessionEstablishment(t *testing.T) {
	fake := &fakeOllama{models: []string{"served:latest"}}
	host := startFakeOllama(t, fake)

	info := model.Info{ID: "served", Dimensions: 8, Engine: model.EngineOllama, Tag: "served:latest"}
	r := NewRunner(info, cpuOnlyProfile("linux"), RunnerOptions{
		Endpoints: Endpoints{OllamaHost: host},
		CacheDir:  t.TempDir(),
	})
	defer func() { _ = r.Close() }()

	require.NoError(t, r.Open(context.Background(), nil))

	active, ok := r.ActiveBackend()
	require.True(t, ok)
	assert.Equal(t, BackendCPU, active.Backend)
	assert.Equal(t, host, active.Config.EngineURL)

	vec, err := r.Embed(context.Background(), "query text")
	require.NoError(t, err)
	assert.Len(t, vec, 8)
}

func TestRunner_OpenPullsMissingOllamaModel(t *testing.T) {
	fake := &fakeOllama{models: []string{"other:latest"}}
	host := startFakeOllama(t, fake)

	info := model.Info{ID: "wanted", Dimensions: 8, Engine: model.EngineOllama, Tag: "wanted:latest"}
	r := NewRunner(info, cpuOnlyProfile("linux"), RunnerOptions{
		Endpoints: Endpoints{OllamaHost: host},
		CacheDir:  t.TempDir(),
	})
	defer func() { _ = r.Close() }()

	assert.False(t, r.ModelReady(context.Background()))

	var progressed bool
	require.NoError(t, r.Open(context.Background(), func(done, total int64) { progressed = true }))

	assert.True(t, progressed)
	assert.Equal(t, int64(1), fake.pullCalls.Load())
	assert.True(t, r.ModelReady(context.Background()))
}
