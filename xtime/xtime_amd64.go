//go:build amd64

package xtime

import "unsafe"

// timerStart, timerStop, clflush, clflushopt, and loadByte are
// implemented in xtime_amd64.s, mirroring the declare-in-Go,
// implement-in-.s split the teacher uses for cpuid_low.
func timerStart() uint64
func timerStop() (cycles uint64, aux uint32)
func clflush(p unsafe.Pointer)
func clflushopt(p unsafe.Pointer)
func loadByte(p unsafe.Pointer) byte
