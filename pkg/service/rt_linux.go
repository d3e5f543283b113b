//go:build linux

package service

import "golang.org/x/sys/unix"

// setRealtimePriority moves the calling thread to SCHED_FIFO at the
// given priority. Callers must have locked the OS thread.
func setRealtimePriority(priority int) error {
	attr := unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   unix.SCHED_FIFO,
		Priority: uint32(priority),
	}
	return unix.SchedSetAttr(0, &attr, 0)
}

// setCpuAffinity pins the calling thread to the given processor set
func setCpuAffinity(cpus []int) error {
	var set unix.CPUSet
	set.Zero()
	for _, cpu := range cpus {
		if cpu >= 0 {
			set.Set(cpu)
		}
	}
	return unix.SchedSetaffinity(0, &set)
}
