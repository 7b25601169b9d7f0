//go:build !windows

package doctor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// freeBytes returns the available space on the filesystem holding path.
func freeBytes(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// CheckFileDescriptors verifies the soft fd limit covers a daemon holding
// several folders open at once.
func (c *Checker) CheckFileDescriptors() CheckResult {
	result := CheckResult{Name: "file_descriptors", Required: true}

	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check file descriptor limit: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("%d (minimum: %d)", lim.Cur, minFileDescriptors)
	if lim.Cur < minFileDescriptors {
		result.Status = StatusFail
		result.Details = "raise it with 'ulimit -n 10240'"
		return result
	}
	result.Status = StatusPass
	return result
}
