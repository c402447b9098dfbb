// Package pin wraps golang.org/x/sys/unix CPU-affinity calls, grounded
// on the teacher's use of golang.org/x/sys/unix in machine/debug_amd64.go
// for low-level, Linux-specific syscalls.
package pin

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Set pins the calling OS thread to cpu. The caller must have already
// called runtime.LockOSThread, matching the teacher's
// runtime.LockOSThread() call in machine.go's per-vCPU run loop.
func Set(cpu int) error {
	var set unix.CPUSet

	set.Zero()
	set.Set(cpu)

	// pid 0 means "the calling thread" under Linux's sched_setaffinity.
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("pin: SchedSetaffinity(cpu=%d): %w", cpu, err)
	}

	return nil
}

// Lock calls mlock(2) on mem, pinning it resident so the candidate
// arena's pages (component D) can't be swapped out mid-measurement,
// which would otherwise show up as spurious cache misses.
func Lock(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}

	if err := unix.Mlock(mem); err != nil {
		return fmt.Errorf("pin: mlock: %w", err)
	}

	return nil
}

// Unlock calls munlock(2) on mem, the inverse of Lock.
func Unlock(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}

	if err := unix.Munlock(mem); err != nil {
		return fmt.Errorf("pin: munlock: %w", err)
	}

	return nil
}

// Get returns the logical CPUs the calling OS thread may currently run
// on.
func Get() ([]int, error) {
	var set unix.CPUSet

	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, fmt.Errorf("pin: SchedGetaffinity: %w", err)
	}

	cpus := make([]int, 0, runtime.NumCPU())

	// unix.CPUSet.Count reports how many bits are set but not which;
	// scan every representable CPU slot (Linux's CPU_SETSIZE is 1024).
	for cpu := 0; cpu < 1024; cpu++ {
		if set.IsSet(cpu) {
			cpus = append(cpus, cpu)
		}
	}

	return cpus, nil
}
