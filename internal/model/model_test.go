package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldermcp/foldermcp/internal/errors"
)

func TestLoad_EmbeddedCatalogIsValid(t *testing.T) {
	r, err := Load()

	require.NoError(t, err)
	require.NotNil(t, r)
	assert.NotEmpty(t, r.All())

	// The GPU default is a 1024-dim flagship, the CPU default a compact
	// 384-dim model.
	gpu := r.DefaultFor(true)
	cpu := r.DefaultFor(false)
	assert.Equal(t, 1024, gpu.Dimensions)
	assert.Equal(t, 384, cpu.Dimensions)
	assert.NotEqual(t, gpu.ID, cpu.ID)
}

func TestGet_KnownModel(t *testing.T) {
	r, err := Load()
	require.NoError(t, err)

	m, err := r.Get("bge-m3")

	require.NoError(t, err)
	assert.Equal(t, 1024, m.Dimensions)
	assert.Equal(t, EngineOllama, m.Engine)
	assert.NotEmpty(t, m.Tag)
}

func TestGet_UnknownModelNamesValidIDs(t *testing.T) {
	r, err := Load()
	require.NoError(t, err)

	_, err = r.Get("gpt-9000")

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnknownModel, errors.GetCode(err))
	assert.Contains(t, err.Error(), "bge-m3")
}

func TestParse_RejectsBadCatalogs(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", "models: []\n"},
		{"missing id", "default_gpu: a\ndefault_cpu: a\nmodels:\n  - dimensions: 10\n    engine: builtin\n"},
		{"zero dims", "default_gpu: a\ndefault_cpu: a\nmodels:\n  - id: a\n    dimensions: 0\n    engine: builtin\n"},
		{"bad engine", "default_gpu: a\ndefault_cpu: a\nmodels:\n  - id: a\n    dimensions: 10\n    engine: vulkan\n"},
		{"ollama without tag", "default_gpu: a\ndefault_cpu: a\nmodels:\n  - id: a\n    dimensions: 10\n    engine: ollama\n"},
		{"duplicate ids", "default_gpu: a\ndefault_cpu: a\nmodels:\n  - id: a\n    dimensions: 10\n    engine: builtin\n  - id: a\n    dimensions: 10\n    engine: builtin\n"},
		{"dangling default", "default_gpu: nope\ndefault_cpu: a\nmodels:\n  - id: a\n    dimensions: 10\n    engine: builtin\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestIDs_Sorted(t *testing.T) {
	r, err := Load()
	require.NoError(t, err)

	ids := r.IDs()

	require.NotEmpty(t, ids)
	for i := 1; i < len(ids); i++ {
		assert.Less(t, ids[i-1], ids[i])
	}
}

func TestBestForLanguage(t *testing.T) {
	r, err := Load()
	require.NoError(t, err)

	// Chinese on a GPU machine should prefer a multilingual model over the
	// English-leaning ones.
	m := r.BestForLanguage("zh", true)
	assert.Greater(t, m.Languages["zh"], 0.9)

	// Unknown language falls back to the class default.
	fallback := r.BestForLanguage("xx", false)
	assert.Equal(t, r.DefaultFor(false).ID, fallback.ID)

	// The builtin test embedder never wins language selection.
	for _, lang := range []string{"en", "zh", "es"} {
		assert.NotEqual(t, "builtin-hash-384", r.BestForLanguage(lang, true).ID)
	}
}
