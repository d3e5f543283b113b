//go:build !linux

package service

import "errors"

var errRtUnsupported = errors.New("real-time scheduling not supported on this platform")

func setRealtimePriority(priority int) error {
	return errRtUnsupported
}

func setCpuAffinity(cpus []int) error {
	return errRtUnsupported
}
