package llcbuild

import (
	"context"
	"fmt"
	"time"

	"github.com/llcevict/core/arena"
	"github.com/llcevict/core/evset"
)

// state names one step of the Zhao pruning state machine (spec.md §4.F),
// per DESIGN NOTES §9's "a step(state) state loop instead of nested
// conditionals".
type state int

const (
	searchUpper state = iota
	searchLower
	verifyState
	pruneState
	resetState
	migrateState
	done
)

// machine holds the mutable search state threaded through one Build call.
type machine struct {
	tester evset.Tester
	pool   *arena.View
	target arena.Handle
	cfg    evset.BuildConfig

	lo, hi     int
	set        []arena.Handle
	backtracks int
	st         state
}

// Build drives the binary-search pruning algorithm of spec.md §4.F
// against pool to find a minimal verified eviction set for target. A
// failed build returns (nil, nil) — callers check for a nil set, not an
// error, per spec.md §7's "failed build returns an empty set".
func Build(tester evset.Tester, target arena.Handle, pool *arena.View, cfg evset.BuildConfig) (*evset.Set, error) {
	if pool.Len() == 0 {
		return nil, fmt.Errorf("llcbuild: empty candidate pool")
	}

	m := &machine{
		tester: tester,
		pool:   pool,
		target: target,
		cfg:    cfg,
		lo:     0,
		hi:     pool.Len(),
		st:     searchUpper,
	}

	mStar := cfg.ExpectedSize()

	for m.backtracks < cfg.MaxBacktrack {
		m.st = m.step(mStar)

		if m.st == done {
			break
		}
	}

	if m.st != done {
		return nil, nil // exhausted backtracks, spec.md §4.F failure semantics
	}

	if len(m.set) > cfg.EvCap() || len(m.set) > cfg.Target.Ways+cfg.Slack {
		return nil, nil // mis-sized build after pruning is a failed build
	}

	return &evset.Set{
		Target:       cfg.Target,
		Config:       cfg,
		TargetHandle: target,
		Lines:        append([]arena.Handle(nil), m.set...),
		View:         pool,
	}, nil
}

// step advances the state machine by exactly one transition.
func (m *machine) step(mStar int) state {
	switch m.st {
	case searchUpper, searchLower:
		return m.search(mStar)
	case verifyState:
		return m.verify(mStar)
	case pruneState:
		return m.prune(mStar)
	case resetState:
		m.lo, m.hi = 0, m.pool.Len()

		return migrateState
	case migrateState:
		migrateBlock(m.pool, m.cfg)

		return searchUpper
	default:
		return done
	}
}

// search performs one binary-search iteration: pick a cut point biased
// toward the upper bound while the set is still small, test the prefix
// skipping an offset that advances once the set has grown past
// W - sigma, then tighten lo or hi.
func (m *machine) search(mStar int) state {
	k := m.cutPoint(mStar)

	skip := 0
	if target := mStar - m.cfg.Slack; len(m.set) > target {
		skip = len(m.set) - target
	}

	if k <= skip {
		k = skip + 1
	}

	if k > m.pool.Len() {
		k = m.pool.Len()
	}

	prefix := m.pool.Order()[skip:k]

	if m.tester.Test(m.pool, m.target, prefix, m.cfg) {
		m.hi = k
	} else {
		m.lo = k
	}

	if m.hi-m.lo > 1 {
		if len(m.set) >= mStar {
			return verifyState
		}

		return searchUpper
	}

	// Bracket collapsed to a single candidate; test it in isolation.
	idx := m.lo
	single := []arena.Handle{m.pool.At(idx)}

	if m.tester.Test(m.pool, m.target, single, m.cfg) {
		m.swapIntoSet(idx)

		if len(m.set) >= mStar {
			return verifyState
		}

		m.lo, m.hi = len(m.set), m.pool.Len()

		return searchUpper
	}

	m.backtracks++

	return resetState
}

// cutPoint biases toward hi while the set is still below W and the
// search hasn't just reset, otherwise bisects.
func (m *machine) cutPoint(mStar int) int {
	k := (m.lo + m.hi) / 2
	if len(m.set) < mStar {
		k = m.hi - (m.hi-m.lo)/4
	}

	// Integer division truncates (hi-lo)/4 to 0 whenever hi-lo < 4,
	// leaving the biased k equal to hi; a prefix test that evicts then
	// sets hi = k = hi, making zero progress without touching
	// backtracks. Clamp k strictly inside (lo, hi) so either branch of
	// the test below always shrinks the bracket.
	if m.hi-m.lo > 1 {
		if k <= m.lo {
			k = m.lo + 1
		}

		if k >= m.hi {
			k = m.hi - 1
		}
	}

	return k
}

// swapIntoSet moves the candidate at pool position idx into the
// accumulated set's slot, extending the set by one line.
func (m *machine) swapIntoSet(idx int) {
	pos := len(m.set)

	m.pool.Swap(idx, pos)
	m.set = append(m.set, m.pool.At(pos))
}

// verify runs one full test of the accumulated set; on success moves to
// pruning, on failure counts a backtrack and resets.
func (m *machine) verify(mStar int) state {
	if m.tester.Test(m.pool, m.target, m.set, m.cfg) {
		return pruneState
	}

	m.backtracks++

	return resetState
}

// prune repeatedly removes a line and re-tests; a line whose removal
// still evicts was redundant and stays removed. Single pass.
func (m *machine) prune(mStar int) state {
	m.set = pruneSet(m.tester, m.pool, m.target, m.set, m.cfg)

	if len(m.set) >= mStar {
		return done
	}

	m.backtracks++

	return resetState
}

// pruneSet implements spec.md §4.F's prune step as a standalone helper
// called from the prune state. l2filter does not call it directly; it
// builds L2 sets through Build.
func pruneSet(tester evset.Tester, pool *arena.View, target arena.Handle, set []arena.Handle, cfg evset.BuildConfig) []arena.Handle {
	kept := append([]arena.Handle(nil), set...)

	for i := 0; i < len(kept); {
		candidate := append([]arena.Handle(nil), kept[:i]...)
		candidate = append(candidate, kept[i+1:]...)

		if tester.Test(pool, target, candidate, cfg) {
			kept = candidate // removal was redundant
		} else {
			i++
		}
	}

	return kept
}

// migrateBlock moves roughly 1.5*2^unknown_sib lines from the far end of
// the pool toward the active (hi) range by swapping, refreshing the
// search per spec.md §4.F.
func migrateBlock(pool *arena.View, cfg evset.BuildConfig) {
	n := pool.Len()
	if n < 2 {
		return
	}

	blockSize := (3 * (1 << cfg.Target.UnknownSIB)) / 2
	if blockSize < 1 {
		blockSize = 1
	}

	if blockSize > n/2 {
		blockSize = n / 2
	}

	for i := 0; i < blockSize; i++ {
		pool.Swap(i, n-1-i)
	}
}

// BuildWithRetry runs Build, and on a nil result picks a new target not
// in excluded and retries up to cfg.VerifyRetry times, bounded by
// cfg.RetryTimeoutMs wall-clock — spec.md §4.F's "verify & retry".
func BuildWithRetry(ctx context.Context, tester evset.Tester, candidates []arena.Handle, excluded map[arena.Handle]bool, pool *arena.View, cfg evset.BuildConfig) (*evset.Set, error) {
	deadline := time.Now().Add(time.Duration(cfg.RetryTimeoutMs) * time.Millisecond)

	attempts := 0

	for _, target := range candidates {
		if excluded[target] {
			continue
		}

		if attempts >= cfg.VerifyRetry || time.Now().After(deadline) {
			break
		}

		attempts++

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		set, err := Build(tester, target, pool, cfg)
		if err != nil {
			return nil, err
		}

		if set != nil {
			return set, nil
		}
	}

	return nil, nil // exhausted retries within the budget; caller leaves the cell empty
}
