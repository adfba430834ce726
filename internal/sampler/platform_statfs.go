//go:build linux || darwin || freebsd

package sampler

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// peakMemory returns the peak resident set size of this process
func peakMemory() (uint64, error) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0, err
	}
	maxrss := uint64(ru.Maxrss)
	// Darwin reports bytes, everything else kilobytes.
	if runtime.GOOS != "darwin" && runtime.GOOS != "ios" {
		maxrss *= 1024
	}
	return maxrss, nil
}

// freeDisk returns the bytes available to unprivileged users at path
func freeDisk(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}
