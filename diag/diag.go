// Package diag implements x86asm-based stub self-checks and a
// capability dump, adapted from the teacher's probe/cpuid.go (a
// print-every-field capability dump) and tools/testCaps.go (a
// named-capability-list print loop), and from machine/debug_amd64.go's
// use of golang.org/x/arch/x86/x86asm to decode raw instruction bytes.
package diag

import (
	"fmt"
	"reflect"
	"unsafe"

	"golang.org/x/arch/x86/x86asm"

	"github.com/llcevict/core/cachegeom"
)

// VerifyStub decodes the first instruction at fn's entry point and
// reports whether it is one of wantOps. This is a runtime integrity
// check for the hand-written .s stubs (cachegeom_amd64.s, xtime_amd64.s):
// if toolchain changes ever altered the stub's prologue unexpectedly,
// this catches it before a cache-timing measurement silently reads
// garbage.
func VerifyStub(fn interface{}, wantOps ...x86asm.Op) (x86asm.Inst, error) {
	addr := funcEntry(fn)

	// Read enough bytes for x86asm to decode the longest x86-64
	// instruction (15 bytes).
	code := unsafe.Slice((*byte)(unsafe.Pointer(addr)), 15)

	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return x86asm.Inst{}, fmt.Errorf("diag: decoding stub at %#x: %w", addr, err)
	}

	for _, op := range wantOps {
		if inst.Op == op {
			return inst, nil
		}
	}

	return inst, fmt.Errorf("diag: stub at %#x decoded as %v, want one of %v", addr, inst.Op, wantOps)
}

// funcEntry resolves a Go func value's machine-code entry address.
func funcEntry(fn interface{}) uintptr {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return 0
	}

	return v.Pointer()
}

// Capability is one named boolean platform fact, the shape
// tools/testCaps.go prints in a loop.
type Capability struct {
	Name    string
	Present bool
}

// Capabilities dumps the platform facts the rest of the pipeline depends
// on: per-level cache geometry and the CLFLUSHOPT feature bit.
func Capabilities(geo cachegeom.Geometry) []Capability {
	return []Capability{
		{"L1D ways", geo.L1.Ways > 0},
		{"L2 ways", geo.L2.Ways > 0},
		{"L3 ways", geo.L3.Ways > 0},
		{"L3 slices auto-detected", geo.L3.AutoDetectedSlices},
		{"CLFLUSHOPT", geo.L3.HasCLFlushOpt},
	}
}

// PrintCapabilities writes one line per capability, matching
// tools/testCaps.go's "%-30s: %t" format.
func PrintCapabilities(caps []Capability) {
	for _, c := range caps {
		fmt.Printf("%-30s: %t\n", c.Name, c.Present)
	}
}

// DumpGeometry prints every field of a cache descriptor, matching
// probe/cpuid.go's one-line-per-entry field dump.
func DumpGeometry(geo cachegeom.Geometry) {
	for _, d := range []cachegeom.Descriptor{geo.L1, geo.L2, geo.L3} {
		fmt.Printf("%-2s: line=%-3d ways=%-3d sets=%-6d slices=%-2d unknown_sib=%d\n",
			d.Level, d.LineSize, d.Ways, d.Sets, d.Slices, d.UnknownSIB)
	}
}
