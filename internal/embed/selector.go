package embed

import (
	"log/slog"

	"github.com/foldermcp/foldermcp/internal/hardware"
	"github.com/foldermcp/foldermcp/internal/model"
)

// Backend identifies an execution provider for inference.
type Backend string

const (
	// BackendNvidia runs on an NVIDIA GPU through the engine's CUDA path.
	BackendNvidia Backend = "nvidia"

	// BackendD3D12 runs on any DirectX 12 compute device (windows).
	BackendD3D12 Backend = "d3d12"

	// BackendMetal runs on an Apple GPU through Metal (darwin).
	BackendMetal Backend = "metal"

	// BackendCPU is the universal fallback. Always viable.
	BackendCPU Backend = "cpu"
)

// vramBudgetFraction is the share of detected accelerator memory a session
// may claim. The remainder stays free for the display server and the engine
// itself.
const vramBudgetFraction = 0.8

// BackendConfig carries the execution parameters resolved for one candidate.
type BackendConfig struct {
	// DeviceID selects the accelerator when several are present. Only
	// device 0 is targeted today.
	DeviceID int `json:"device_id"`

	// VRAMBudgetGB caps session memory on accelerator backends. Zero on cpu.
	VRAMBudgetGB float64 `json:"vram_budget_gb,omitempty"`

	// Threads bounds inference parallelism on the cpu backend. Zero on
	// accelerator backends.
	Threads int `json:"threads,omitempty"`

	// EngineURL is the inference engine serving this candidate, when the
	// model binds to an HTTP engine.
	EngineURL string `json:"engine_url,omitempty"`
}

// Candidate is one viable (backend, config) pair, in selection order.
type Candidate struct {
	Backend Backend       `json:"backend"`
	Config  BackendConfig `json:"config"`
}

// Endpoints names the engine URLs candidates resolve against.
type Endpoints struct {
	OllamaHost  string
	MLXEndpoint string
}

// Selector orders execution providers for a model on this machine.
// Unavailability of an accelerator is not an error: candidates that fail
// the viability probe are dropped silently and cpu always remains.
type Selector struct {
	endpoints Endpoints
	log       *slog.Logger

	// viable is the per-backend probe, replaceable in tests.
	viable func(Backend, hardware.Profile) bool
}

// NewSelector returns a selector resolving engine URLs from endpoints.
func NewSelector(endpoints Endpoints, log *slog.Logger) *Selector {
	if log == nil {
		log = slog.Default()
	}
	return &Selector{
		endpoints: endpoints,
		log:       log,
		viable:    backendViable,
	}
}

// Select returns the ordered candidate list for running info on profile.
// The platform decides the accelerator order, the model's preferred
// backends reorder within it, and the last element is always cpu.
func (s *Selector) Select(profile hardware.Profile, info model.Info) []Candidate {
	accel := s.acceleratorOrder(profile, info)
	if info.Engine == model.EngineBuiltin {
		// The in-process embedder only runs on the cpu.
		accel = nil
	}

	candidates := make([]Candidate, 0, len(accel)+1)
	for _, b := range accel {
		if !s.viable(b, profile) {
			s.log.Debug("backend not viable, skipping",
				slog.String("backend", string(b)),
				slog.String("model", info.ID))
			continue
		}
		if info.MinVRAMGB > 0 && profile.GPU.VRAMGB > 0 && profile.GPU.VRAMGB < info.MinVRAMGB {
			s.log.Debug("backend below model VRAM requirement, skipping",
				slog.String("backend", string(b)),
				slog.Float64("vram_gb", profile.GPU.VRAMGB),
				slog.Float64("min_vram_gb", info.MinVRAMGB))
			continue
		}
		candidates = append(candidates, Candidate{
			Backend: b,
			Config: BackendConfig{
				DeviceID:     0,
				VRAMBudgetGB: profile.GPU.VRAMGB * vramBudgetFraction,
				EngineURL:    s.engineURL(info),
			},
		})
	}

	threads := profile.CPUCores
	if threads < 1 {
		threads = 1
	}
	candidates = append(candidates, Candidate{
		Backend: BackendCPU,
		Config: BackendConfig{
			Threads:   threads,
			EngineURL: s.engineURL(info),
		},
	})

	return candidates
}

// acceleratorOrder lists the platform's accelerator backends by priority,
// reordered by the model's preferences when it states any. cpu is excluded;
// Select appends it unconditionally.
func (s *Selector) acceleratorOrder(profile hardware.Profile, info model.Info) []Backend {
	var platform []Backend
	switch profile.OS {
	case "windows":
		platform = []Backend{BackendNvidia, BackendD3D12}
	case "darwin":
		platform = []Backend{BackendMetal}
	default:
		platform = []Backend{BackendNvidia}
	}

	if len(info.PreferredBackends) == 0 {
		return platform
	}

	onPlatform := make(map[Backend]bool, len(platform))
	for _, b := range platform {
		onPlatform[b] = true
	}

	ordered := make([]Backend, 0, len(platform))
	seen := make(map[Backend]bool, len(platform))
	for _, name := range info.PreferredBackends {
		b := Backend(name)
		if onPlatform[b] && !seen[b] {
			ordered = append(ordered, b)
			seen[b] = true
		}
	}
	for _, b := range platform {
		if !seen[b] {
			ordered = append(ordered, b)
		}
	}
	return ordered
}

// engineURL resolves the HTTP engine for the model's binding.
func (s *Selector) engineURL(info model.Info) string {
	switch info.Engine {
	case model.EngineOllama:
		return s.endpoints.OllamaHost
	case model.EngineMLX:
		return s.endpoints.MLXEndpoint
	default:
		return ""
	}
}

// backendViable is the default lightweight probe. It consults the already
// probed profile rather than re-touching drivers; a driver missing at probe
// time is a driver missing now.
func backendViable(b Backend, profile hardware.Profile) bool {
	switch b {
	case BackendNvidia:
		return profile.GPU.Kind == hardware.GPUNvidia && profile.GPU.CUDADriverVersion > 0
	case BackendMetal:
		return profile.GPU.Kind == hardware.GPUApple && profile.GPU.Metal
	case BackendD3D12:
		return profile.GPU.Kind != hardware.GPUNone && profile.GPU.D3D12
	case BackendCPU:
		return true
	default:
		return false
	}
}

// BatchSizeHint returns the embedding batch size suited to a backend on
// this machine. Accelerators with headroom take bigger batches; cpu stays
// small to keep latency bounded.
func BatchSizeHint(profile hardware.Profile, backend Backend) int {
	switch backend {
	case BackendMetal:
		switch {
		case profile.RAMGB >= 32:
			return 64
		case profile.RAMGB >= 16:
			return 48
		case profile.RAMGB >= 8:
			return 24
		default:
			return 16
		}
	case BackendNvidia, BackendD3D12:
		switch {
		case profile.GPU.VRAMGB >= 16:
			return 64
		case profile.GPU.VRAMGB >= 8:
			return 32
		default:
			return 16
		}
	default:
		return DefaultBatchSize
	}
}
