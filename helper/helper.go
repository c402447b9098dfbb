// Package helper implements component C: a single background thread
// that, on command, accesses a line, times a line, or traverses a
// candidate pool — forcing cross-core coherence traffic that accelerates
// a line's promotion to the shared LLC.
package helper

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/llcevict/core/internal/pin"
	"github.com/llcevict/core/xtime"
)

// Action identifies one of the five commands the helper understands.
type Action int

const (
	Stop Action = iota
	ReadOne
	TimeOne
	ReadArray
	Traverse
)

// ArrayOpts configures a ReadArray command.
type ArrayOpts struct {
	Block    int
	Stride   int
	Repeat   int
	Backward bool
}

// TraverseFunc is a caller-supplied traversal, delegated to by the
// Traverse action (DESIGN NOTES §9: "polymorphism over traversal
// functions" becomes a plain function value here).
type TraverseFunc func()

// command is the tagged variant published to the helper.
type command struct {
	action  Action
	line    unsafe.Pointer
	array   []unsafe.Pointer
	opts    ArrayOpts
	fn      TraverseFunc
	elapsed uint64 // result slot for TimeOne
}

// Engine is the single background worker. Its zero value is not usable;
// construct with New.
type Engine struct {
	waiting atomic.Bool // true once the helper has finished the prior command and is idle
	cmd     atomic.Pointer[command]

	done   chan struct{}
	repin  chan int // runtime re-pin requests, serviced by the helper's own locked thread
}

// New starts the helper goroutine, optionally pinned to a named logical
// CPU. Pass cpu < 0 to skip pinning at start (Repin can pin it later).
func New(cpu int) (*Engine, error) {
	e := &Engine{done: make(chan struct{}), repin: make(chan int, 1)}
	e.waiting.Store(true)

	ready := make(chan error, 1)

	go e.loop(cpu, ready)

	if err := <-ready; err != nil {
		return nil, fmt.Errorf("helper: start: %w", err)
	}

	return e, nil
}

func (e *Engine) loop(cpu int, ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if cpu >= 0 {
		if err := pin.Set(cpu); err != nil {
			ready <- err

			return
		}
	}

	ready <- nil

	for {
		// Spin-wait for the controller to publish a command and clear
		// waiting; this is the volatile-flag protocol of spec.md §4.C,
		// expressed as an atomic state machine per DESIGN NOTES §9.
		// Re-pin requests are serviced from this same OS-thread-locked
		// goroutine between commands, since affinity is a per-thread
		// property.
		for e.waiting.Load() {
			select {
			case newCPU := <-e.repin:
				_ = pin.Set(newCPU)
			default:
				runtime.Gosched()
			}
		}

		c := e.cmd.Load()
		if c == nil {
			continue
		}

		switch c.action {
		case Stop:
			e.waiting.Store(true)
			close(e.done)

			return
		case ReadOne:
			_ = xtime.TimeMaccess(c.line)
		case TimeOne:
			atomic.StoreUint64(&c.elapsed, xtime.TimeMaccess(c.line))
		case ReadArray:
			readArray(c.array, c.opts)
		case Traverse:
			if c.fn != nil {
				c.fn()
			}
		}

		e.waiting.Store(true)
	}
}

// publish installs c and clears waiting, establishing happens-before per
// spec.md §5: a preceding fence (the atomic Store's release semantics),
// then the helper observes waiting==false.
func (e *Engine) publish(c *command) {
	e.cmd.Store(c)
	e.waiting.Store(false)
}

// await blocks until the helper has finished the published command.
func (e *Engine) await() {
	for !e.waiting.Load() {
		runtime.Gosched()
	}
}

// ReadOne asks the helper to load p once ("helper first so the line is
// marked as shared", spec.md §4.F).
func (e *Engine) ReadOne(p unsafe.Pointer) {
	c := &command{action: ReadOne, line: p}
	e.publish(c)
	e.await()
}

// TimeOne asks the helper to time a single access to p and returns the
// elapsed cycles.
func (e *Engine) TimeOne(p unsafe.Pointer) uint64 {
	c := &command{action: TimeOne, line: p}
	e.publish(c)
	e.await()

	return atomic.LoadUint64(&c.elapsed)
}

// ReadArray asks the helper to traverse lines with the given block,
// stride, repeat, and direction.
func (e *Engine) ReadArray(lines []unsafe.Pointer, opts ArrayOpts) {
	c := &command{action: ReadArray, array: lines, opts: opts}
	e.publish(c)
	e.await()
}

// Traverse delegates to a caller-supplied traversal function, e.g. the
// candidate-pool prime/probe walk of the LLC builder.
func (e *Engine) Traverse(fn TraverseFunc) {
	c := &command{action: Traverse, fn: fn}
	e.publish(c)
	e.await()
}

// Repin asks the helper goroutine to move to a different logical CPU at
// runtime, used by the topology-aware orchestration in component G. The
// request is serviced asynchronously by the helper's own OS thread.
func (e *Engine) Repin(cpu int) {
	select {
	case e.repin <- cpu:
	default:
		// A prior re-pin request is still pending; replace it.
		select {
		case <-e.repin:
		default:
		}

		e.repin <- cpu
	}
}

// Stop halts the helper goroutine.
func (e *Engine) Stop() {
	c := &command{action: Stop}
	e.publish(c)
	<-e.done
}

func readArray(lines []unsafe.Pointer, opts ArrayOpts) {
	if len(lines) == 0 {
		return
	}

	block := opts.Block
	if block <= 0 {
		block = len(lines)
	}

	stride := opts.Stride
	if stride <= 0 {
		stride = 1
	}

	repeat := opts.Repeat
	if repeat <= 0 {
		repeat = 1
	}

	for r := 0; r < repeat; r++ {
		for start := 0; start < len(lines); start += block {
			end := start + block
			if end > len(lines) {
				end = len(lines)
			}

			if opts.Backward {
				for i := end - 1; i >= start; i -= stride {
					_ = xtime.TimeMaccess(lines[i])
				}
			} else {
				for i := start; i < end; i += stride {
					_ = xtime.TimeMaccess(lines[i])
				}
			}
		}
	}
}
