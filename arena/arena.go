// Package arena implements component D: a large mmap'd candidate arena,
// sliced into page-stride views shared (reference-counted) across
// offset-shifted projections.
package arena

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"unsafe"

	"github.com/llcevict/core/cachegeom"
	"github.com/llcevict/core/internal/pin"
)

const pageSize = 4096

// Handle identifies one page-stride line within an Arena by page index.
// Per DESIGN NOTES §9 this replaces raw pointers into the arena with an
// index-typed handle, so an EvSet's lifetime is expressed as "a slice of
// handles into this arena", not as live pointers.
type Handle int

// Arena owns one shared anonymous page-aligned mmap'd region. It is
// reference-counted across the Views handed out by View/Shift, and is
// unmapped exactly when the last View is released (spec.md §3
// Lifecycle).
type Arena struct {
	mem      []byte
	pages    int
	refcount atomic.Int64
	mlocked  bool
}

// New mmaps a region of pages*4KiB and parallel-zero-fills it, grounded
// on memory.NewMemorySlot's syscall.Mmap call and vmm.Boot's per-vCPU
// WaitGroup pattern (here repurposed to memset workers, per spec.md §5:
// "A pool of memset workers is used only during arena initialization").
func New(pages int) (*Arena, error) {
	if pages <= 0 {
		return nil, fmt.Errorf("arena: pages must be positive, got %d", pages)
	}

	size := pages * pageSize

	mem, err := syscall.Mmap(-1, 0, size, syscall.PROT_READ|syscall.PROT_WRITE,
		syscall.MAP_SHARED|syscall.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("arena: mmap %d bytes: %w", size, err)
	}

	a := &Arena{mem: mem, pages: pages}

	parallelZero(mem)

	// Best-effort: an unprivileged process may not have CAP_IPC_LOCK or
	// may exceed RLIMIT_MEMLOCK, in which case the arena still works,
	// just without the residency guarantee.
	if err := pin.Lock(mem); err == nil {
		a.mlocked = true
	}

	return a, nil
}

func parallelZero(mem []byte) {
	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}

	chunk := (len(mem) + workers - 1) / workers

	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		start := w * chunk
		if start >= len(mem) {
			break
		}

		end := start + chunk
		if end > len(mem) {
			end = len(mem)
		}

		wg.Add(1)

		go func(lo, hi int) {
			defer wg.Done()

			for i := lo; i < hi; i++ {
				mem[i] = 0
			}
		}(start, end)
	}

	wg.Wait()
}

// Pages reports the arena size in 4KiB pages.
func (a *Arena) Pages() int { return a.pages }

// View creates a candidate view at the given page offset (0..4095) and
// increments the arena's reference count.
func (a *Arena) View(offset int) *View {
	a.refcount.Add(1)

	order := make([]Handle, a.pages)
	for i := range order {
		order[i] = Handle(i)
	}

	return &View{arena: a, offset: offset, order: order}
}

// release drops the arena's reference count, unmapping the region when
// it reaches zero (spec.md §8: "Candidate arena reference count returns
// to zero exactly when the last view is dropped").
func (a *Arena) release() error {
	if a.refcount.Add(-1) != 0 {
		return nil
	}

	mem := a.mem
	a.mem = nil

	if mem == nil {
		return nil
	}

	if a.mlocked {
		if err := pin.Unlock(mem); err != nil {
			return fmt.Errorf("arena: munlock: %w", err)
		}
	}

	if err := syscall.Munmap(mem); err != nil {
		return fmt.Errorf("arena: munmap: %w", err)
	}

	return nil
}

// Refcount exposes the current reference count, used by tests to verify
// the lifecycle invariant.
func (a *Arena) Refcount() int64 { return a.refcount.Load() }

// View is a reorderable sequence of line handles inside one Arena, all
// at the same page offset (spec.md §3 EvCands). Mutated only by the
// builder that owns it during pruning.
type View struct {
	arena  *Arena
	offset int
	order  []Handle

	released bool
	mu       sync.Mutex
}

// Offset returns the page offset (0..4095) this view projects at.
func (v *View) Offset() int { return v.offset }

// Len returns the number of candidate lines currently in the view.
func (v *View) Len() int { return len(v.order) }

// At returns the handle at position i in the current ordering.
func (v *View) At(i int) Handle { return v.order[i] }

// Order returns the current candidate ordering. Callers that reorder or
// truncate must use Swap/Truncate rather than mutating the returned
// slice, to keep Len/At consistent.
func (v *View) Order() []Handle { return v.order }

// Swap exchanges the candidates at positions i and j, the primitive the
// Zhao pruning algorithm uses to migrate lines toward the active range.
func (v *View) Swap(i, j int) { v.order[i], v.order[j] = v.order[j], v.order[i] }

// Truncate shrinks the view to its first n candidates.
func (v *View) Truncate(n int) { v.order = v.order[:n] }

// Addr resolves a handle to its byte address within the view's page
// offset.
func (v *View) Addr(h Handle) unsafe.Pointer {
	idx := int(h)*pageSize + v.offset
	if idx < 0 || idx >= len(v.arena.mem) {
		panic(fmt.Sprintf("arena: handle %d+offset %d out of range (arena has %d pages)", h, v.offset, v.arena.pages))
	}

	return unsafe.Pointer(&v.arena.mem[idx])
}

// Line returns the cl-byte line the handle addresses.
func (v *View) Line(h Handle, lineSize int) []byte {
	idx := int(h)*pageSize + v.offset

	return v.arena.mem[idx : idx+lineSize]
}

// Shift produces a new View sharing the same Arena at a different page
// offset, incrementing the refcount (spec.md §4.D).
func (v *View) Shift(offset int) *View {
	return v.arena.View(offset)
}

// Release decrements the arena's reference count. Safe to call once;
// subsequent calls are no-ops.
func (v *View) Release() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.released {
		return nil
	}

	v.released = true

	return v.arena.release()
}

// ComputeArenaPages sizes the candidate arena per spec.md §4.D:
// cache_uncertainty * W * cand_scale pages, where cache_uncertainty is
// the number of LLC sets at an address's page-offset x slice
// combinations, i.e. 2^unknown_sib * slices.
func ComputeArenaPages(d cachegeom.Descriptor, candScale int) int {
	if candScale <= 0 {
		candScale = 1
	}

	cacheUncertainty := (1 << d.UnknownSIB) * maxInt(d.Slices, 1)

	return cacheUncertainty * maxInt(d.Ways, 1) * candScale
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}

	return b
}
