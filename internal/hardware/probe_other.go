//go:build !linux && !darwin && !windows

package hardware

import "context"

func detectRAMGB() (float64, error) {
	return 4, nil
}

func detectCPUFeatures() []string {
	return nil
}

func detectGPU(_ context.Context, _ float64) (GPU, error) {
	return GPU{Kind: GPUNone}, nil
}
