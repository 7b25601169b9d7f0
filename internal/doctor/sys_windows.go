//go:build windows

package doctor

import (
	"golang.org/x/sys/windows"
)

// freeBytes returns the available space on the volume holding path.
func freeBytes(path string) (uint64, error) {
	var free, total, totalFree uint64
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, err
	}
	if err := windows.GetDiskFreeSpaceEx(p, &free, &total, &totalFree); err != nil {
		return 0, err
	}
	return free, nil
}

// CheckFileDescriptors always passes on windows; handle limits are
// per-process and far above anything the daemon opens.
func (c *Checker) CheckFileDescriptors() CheckResult {
	return CheckResult{
		Name:     "file_descriptors",
		Status:   StatusPass,
		Message:  "not limited on this platform",
		Required: true,
	}
}
