//go:build darwin

package hardware

import (
	"context"
	"runtime"
	"strings"

	"golang.org/x/sys/unix"
)

// detectRAMGB reads hw.memsize via sysctl.
func detectRAMGB() (float64, error) {
	bytes, err := unix.SysctlUint64("hw.memsize")
	if err != nil {
		return 0, err
	}
	return float64(bytes) / (1024 * 1024 * 1024), nil
}

// detectCPUFeatures reports the features inference engines care about.
func detectCPUFeatures() []string {
	if runtime.GOARCH == "arm64" {
		return []string{"neon"}
	}
	features, err := unix.Sysctl("machdep.cpu.features")
	if err != nil {
		return nil
	}
	var out []string
	upper := strings.ToUpper(features)
	for _, want := range []string{"AVX2", "F16C"} {
		if strings.Contains(upper, want) {
			out = append(out, strings.ToLower(want))
		}
	}
	return out
}

// detectGPU classifies the machine. Apple Silicon exposes its unified
// memory to Metal, so VRAM equals system RAM.
func detectGPU(_ context.Context, ramGB float64) (GPU, error) {
	if runtime.GOARCH == "arm64" {
		return GPU{
			Kind:   GPUApple,
			Metal:  true,
			VRAMGB: ramGB,
		}, nil
	}

	// Intel Macs may still drive Metal, but discrete VRAM detection is not
	// worth a Metal framework binding; treat them as CPU machines with a
	// Metal-capable display.
	gpu := GPU{Kind: GPUGeneric}
	if brand, err := unix.Sysctl("machdep.cpu.brand_string"); err == nil && brand != "" {
		gpu.Metal = true
	}
	return gpu, nil
}
