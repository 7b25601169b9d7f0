// Package hardware probes machine capabilities for execution-provider
// selection: CPU cores and features, system RAM, and accelerator presence
// (CUDA driver, Metal, D3D12) with VRAM estimates.
//
// Probing is best-effort by contract. Any failure degrades to a CPU-only
// profile so folder lifecycles never block on a flaky driver; the profile
// carries a Degraded flag so diagnostics can say why the GPU was skipped.
package hardware

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// GPUKind classifies the detected accelerator.
type GPUKind string

const (
	// GPUNone means no usable accelerator was found.
	GPUNone GPUKind = "none"
	// GPUNvidia means a CUDA-capable device with a loadable driver.
	GPUNvidia GPUKind = "nvidia"
	// GPUApple means Apple Silicon unified-memory graphics.
	GPUApple GPUKind = "apple"
	// GPUGeneric means a display adapter without a usable compute path.
	GPUGeneric GPUKind = "generic"
)

// GPU describes the detected accelerator.
type GPU struct {
	Kind GPUKind `json:"kind"`

	// VRAMGB is the usable accelerator memory. On Apple Silicon this is
	// the unified memory size.
	VRAMGB float64 `json:"vram_gb"`

	// Metal reports a Metal-capable device (darwin only).
	Metal bool `json:"metal,omitempty"`

	// D3D12 reports a loadable d3d12.dll (windows only).
	D3D12 bool `json:"d3d12,omitempty"`

	// CUDADriverVersion is the raw cuDriverGetVersion value
	// (e.g. 12040 for CUDA 12.4), 0 when no driver loads.
	CUDADriverVersion int `json:"cuda_driver_version,omitempty"`
}

// Profile is one machine capability snapshot.
type Profile struct {
	OS          string    `json:"os"`
	Arch        string    `json:"arch"`
	CPUCores    int       `json:"cpu_cores"`
	CPUFeatures []string  `json:"cpu_features,omitempty"`
	RAMGB       float64   `json:"ram_gb"`
	GPU         GPU       `json:"gpu"`
	ProbedAt    time.Time `json:"probed_at"`

	// Degraded records that some probe step failed and defaults were used.
	Degraded bool `json:"degraded,omitempty"`
}

// GPUCapable reports whether embedding workloads should target the GPU.
func (p Profile) GPUCapable() bool {
	switch p.GPU.Kind {
	case GPUNvidia:
		return p.GPU.CUDADriverVersion > 0
	case GPUApple:
		return p.GPU.Metal
	default:
		return false
	}
}

// profileTTL is how long a cached profile stays valid. Hardware does not
// change underneath a running daemon, but drivers get installed; an hour
// keeps diagnostics honest without re-probing on every folder add.
const profileTTL = time.Hour

const cacheKey = "profile"

// Prober detects and caches the machine profile.
type Prober struct {
	log   *slog.Logger
	mu    sync.Mutex
	cache *expirable.LRU[string, Profile]
}

// NewProber creates a Prober with a 1-hour TTL cache.
func NewProber(log *slog.Logger) *Prober {
	if log == nil {
		log = slog.Default()
	}
	return &Prober{
		log:   log,
		cache: expirable.NewLRU[string, Profile](1, nil, profileTTL),
	}
}

// Profile returns the cached profile, probing on miss or expiry.
func (p *Prober) Profile(ctx context.Context) Profile {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cached, ok := p.cache.Get(cacheKey); ok {
		return cached
	}

	profile := p.probe(ctx)
	p.cache.Add(cacheKey, profile)
	return profile
}

// ForceRefresh discards the cache and probes again. `doctor` uses this so a
// freshly installed driver shows up without restarting the daemon.
func (p *Prober) ForceRefresh(ctx context.Context) Profile {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cache.Remove(cacheKey)
	profile := p.probe(ctx)
	p.cache.Add(cacheKey, profile)
	return profile
}

// probe assembles a profile from the platform-specific detectors.
func (p *Prober) probe(ctx context.Context) Profile {
	profile := Profile{
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		CPUCores: runtime.NumCPU(),
		ProbedAt: time.Now(),
		GPU:      GPU{Kind: GPUNone},
	}

	ram, err := detectRAMGB()
	if err != nil {
		p.log.Warn("RAM detection failed, assuming 4GB", "error", err)
		profile.RAMGB = 4
		profile.Degraded = true
	} else {
		profile.RAMGB = ram
	}

	profile.CPUFeatures = detectCPUFeatures()

	gpu, err := detectGPU(ctx, profile.RAMGB)
	if err != nil {
		p.log.Warn("GPU detection failed, falling back to CPU", "error", err)
		profile.GPU = GPU{Kind: GPUNone}
		profile.Degraded = true
	} else {
		profile.GPU = gpu
	}

	p.log.Debug("hardware probe complete",
		"os", profile.OS,
		"arch", profile.Arch,
		"cores", profile.CPUCores,
		"ram_gb", profile.RAMGB,
		"gpu", string(profile.GPU.Kind),
		"vram_gb", profile.GPU.VRAMGB,
		"degraded", profile.Degraded)

	return profile
}
