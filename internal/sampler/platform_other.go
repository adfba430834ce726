//go:build !linux && !darwin && !freebsd

package sampler

import "errors"

var errUnsupported = errors.New("not supported on this platform")

func peakMemory() (uint64, error) {
	return 0, errUnsupported
}

func freeDisk(path string) (uint64, error) {
	return 0, errUnsupported
}
