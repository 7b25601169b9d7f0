//go:build linux || windows

package hardware

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// smiTimeout bounds the nvidia-smi call; a wedged driver must not stall
// daemon startup.
const smiTimeout = 2 * time.Second

// queryNvidiaSMI asks nvidia-smi for total VRAM of the first device in GB.
// Absence of the tool, a timeout, or unparseable output all return ok=false.
func queryNvidiaSMI(ctx context.Context) (float64, bool) {
	ctx, cancel := context.WithTimeout(ctx, smiTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=memory.total",
		"--format=csv,noheader,nounits").Output()
	if err != nil {
		return 0, false
	}

	// One line per device; the first is enough for batch sizing.
	line := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	mib, err := strconv.ParseFloat(line, 64)
	if err != nil || mib <= 0 {
		return 0, false
	}

	return mib / 1024, true
}
