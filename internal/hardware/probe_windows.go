//go:build windows

package hardware

import (
	"context"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// detectRAMGB uses GlobalMemoryStatusEx.
func detectRAMGB() (float64, error) {
	var status windows.MemoryStatusEx
	status.Length = uint32(unsafe.Sizeof(status))
	if err := windows.GlobalMemoryStatusEx(&status); err != nil {
		return 0, err
	}
	return float64(status.TotalPhys) / (1024 * 1024 * 1024), nil
}

// detectCPUFeatures is a no-op on windows; the engines detect their own
// instruction sets there.
func detectCPUFeatures() []string {
	return nil
}

// detectGPU checks for a loadable CUDA driver (nvcuda.dll) and a D3D12
// runtime. Library loads are cheap and initialize no devices.
func detectGPU(ctx context.Context, ramGB float64) (GPU, error) {
	gpu := GPU{Kind: GPUNone}

	if h, err := windows.LoadLibrary("d3d12.dll"); err == nil {
		gpu.D3D12 = true
		gpu.Kind = GPUGeneric
		windows.FreeLibrary(h)
	}

	h, err := windows.LoadLibrary("nvcuda.dll")
	if err != nil {
		return gpu, nil
	}
	defer windows.FreeLibrary(h)

	proc, err := windows.GetProcAddress(h, "cuDriverGetVersion")
	if err != nil {
		return gpu, nil
	}

	var version int32
	rc, _, _ := syscall.SyscallN(proc, uintptr(unsafe.Pointer(&version)))
	if rc != 0 || version == 0 {
		return gpu, nil
	}

	gpu.Kind = GPUNvidia
	gpu.CUDADriverVersion = int(version)
	if vram, ok := queryNvidiaSMI(ctx); ok {
		gpu.VRAMGB = vram
	}
	return gpu, nil
}
