// Package model provides the curated embedding model catalog.
//
// The catalog is compiled into the binary (configs/models.yaml); the daemon
// never discovers models dynamically. Folder registration validates model
// ids against it, and default selection splits on GPU capability: machines
// with a usable accelerator get the multilingual flagship, CPU-only machines
// get a compact 384-dimension model.
package model

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/foldermcp/foldermcp/configs"
	"github.com/foldermcp/foldermcp/internal/errors"
)

// Engine identifies how a model executes.
const (
	EngineOllama  = "ollama"
	EngineMLX     = "mlx"
	EngineBuiltin = "builtin"
)

// Info describes one catalog entry.
type Info struct {
	// ID is the stable identifier stored in folder config and state files.
	ID string `yaml:"id"`

	// DisplayName is shown in status output and diagnostics.
	DisplayName string `yaml:"display_name"`

	// Dimensions is the embedding vector width.
	Dimensions int `yaml:"dimensions"`

	// Quantization names the artifact precision (informational).
	Quantization string `yaml:"quantization"`

	// DownloadSizeMB estimates the artifact download, for progress display.
	DownloadSizeMB int `yaml:"download_size_mb"`

	// Engine is one of ollama, mlx, builtin.
	Engine string `yaml:"engine"`

	// Tag is the engine-side pull name (ollama/mlx models).
	Tag string `yaml:"tag,omitempty"`

	// URL points at a directly downloadable artifact for the file cache.
	URL string `yaml:"url,omitempty"`

	// SHA256 pins the artifact content. Empty records instead of verifying.
	SHA256 string `yaml:"sha256,omitempty"`

	// MinVRAMGB is the smallest accelerator memory the model runs well on.
	MinVRAMGB float64 `yaml:"min_vram_gb"`

	// PreferredBackends orders execution providers for this model.
	PreferredBackends []string `yaml:"preferred_backends"`

	// Languages maps ISO 639-1 codes to retrieval-quality scores in [0,1].
	Languages map[string]float64 `yaml:"languages"`
}

// catalog is the YAML document shape of configs/models.yaml.
type catalog struct {
	DefaultGPU string `yaml:"default_gpu"`
	DefaultCPU string `yaml:"default_cpu"`
	Models     []Info `yaml:"models"`
}

// Registry is the parsed, validated catalog.
type Registry struct {
	byID       map[string]Info
	ordered    []Info
	defaultGPU string
	defaultCPU string
}

// Load parses the embedded catalog. It fails only on a malformed build,
// never at runtime on user input.
func Load() (*Registry, error) {
	return parse(configs.ModelCatalogYAML)
}

// parse builds a Registry from raw catalog YAML.
func parse(data []byte) (*Registry, error) {
	var cat catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("failed to parse model catalog: %w", err)
	}

	if len(cat.Models) == 0 {
		return nil, fmt.Errorf("model catalog is empty")
	}

	r := &Registry{
		byID:       make(map[string]Info, len(cat.Models)),
		ordered:    cat.Models,
		defaultGPU: cat.DefaultGPU,
		defaultCPU: cat.DefaultCPU,
	}

	for _, m := range cat.Models {
		if m.ID == "" {
			return nil, fmt.Errorf("model catalog entry missing id")
		}
		if _, dup := r.byID[m.ID]; dup {
			return nil, fmt.Errorf("duplicate model id in catalog: %s", m.ID)
		}
		if m.Dimensions <= 0 {
			return nil, fmt.Errorf("model %s has invalid dimensions %d", m.ID, m.Dimensions)
		}
		switch m.Engine {
		case EngineOllama, EngineMLX, EngineBuiltin:
		default:
			return nil, fmt.Errorf("model %s has unknown engine %q", m.ID, m.Engine)
		}
		if (m.Engine == EngineOllama || m.Engine == EngineMLX) && m.Tag == "" {
			return nil, fmt.Errorf("model %s needs an engine tag", m.ID)
		}
		r.byID[m.ID] = m
	}

	for _, def := range []string{cat.DefaultGPU, cat.DefaultCPU} {
		if _, ok := r.byID[def]; !ok {
			return nil, fmt.Errorf("catalog default %q is not a listed model", def)
		}
	}

	return r, nil
}

// Get returns the catalog entry for id.
func (r *Registry) Get(id string) (Info, error) {
	if m, ok := r.byID[id]; ok {
		return m, nil
	}
	return Info{}, errors.New(errors.ErrCodeUnknownModel,
		fmt.Sprintf("unknown model %q (valid: %s)", id, strings.Join(r.IDs(), ", ")), nil)
}

// Has reports whether id is in the catalog.
func (r *Registry) Has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// All returns the catalog entries in file order.
func (r *Registry) All() []Info {
	out := make([]Info, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// IDs returns the sorted model ids, for error messages and completion.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DefaultFor picks the default model for the machine class.
func (r *Registry) DefaultFor(gpuCapable bool) Info {
	if gpuCapable {
		return r.byID[r.defaultGPU]
	}
	return r.byID[r.defaultCPU]
}

// BestForLanguage returns the model with the highest score for an ISO
// language code, restricted to the machine class defaults when the language
// is unknown to the catalog.
func (r *Registry) BestForLanguage(lang string, gpuCapable bool) Info {
	best := r.DefaultFor(gpuCapable)
	bestScore := best.Languages[lang]

	for _, m := range r.ordered {
		if m.Engine == EngineBuiltin {
			continue
		}
		if !gpuCapable && m.MinVRAMGB > 0 {
			continue
		}
		if score, ok := m.Languages[lang]; ok && score > bestScore {
			best, bestScore = m, score
		}
	}
	return best
}
