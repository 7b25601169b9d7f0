//go:build linux

package hardware

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/ebitengine/purego"
)

// detectRAMGB reads MemTotal from /proc/meminfo.
func detectRAMGB() (float64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("unparseable MemTotal: %w", err)
		}
		return float64(kb) / (1024 * 1024), nil
	}
	return 0, fmt.Errorf("MemTotal not found in /proc/meminfo")
}

// detectCPUFeatures scans /proc/cpuinfo flags for the features that matter
// to inference engines.
func detectCPUFeatures() []string {
	if runtime.GOARCH == "arm64" {
		return []string{"neon"}
	}

	f, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "flags") {
			continue
		}
		var features []string
		for _, want := range []string{"avx2", "avx512f", "f16c"} {
			if strings.Contains(line, " "+want) {
				features = append(features, want)
			}
		}
		return features
	}
	return nil
}

// detectGPU probes for a usable CUDA driver by dlopen-ing libcuda and asking
// it for its version. No device initialization happens; cuDriverGetVersion
// works without cuInit and costs microseconds.
func detectGPU(ctx context.Context, ramGB float64) (GPU, error) {
	lib, err := purego.Dlopen("libcuda.so.1", purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		// A machine without the NVIDIA driver is normal, not an error.
		return GPU{Kind: GPUNone}, nil
	}
	defer purego.Dlclose(lib)

	var cuDriverGetVersion func(*int32) int32
	purego.RegisterLibFunc(&cuDriverGetVersion, lib, "cuDriverGetVersion")

	var version int32
	if rc := cuDriverGetVersion(&version); rc != 0 || version == 0 {
		return GPU{Kind: GPUGeneric}, nil
	}

	gpu := GPU{
		Kind:              GPUNvidia,
		CUDADriverVersion: int(version),
	}

	// VRAM comes from nvidia-smi when present; its absence only costs the
	// batch-size heuristic, not GPU selection.
	if vram, ok := queryNvidiaSMI(ctx); ok {
		gpu.VRAMGB = vram
	}

	return gpu, nil
}
