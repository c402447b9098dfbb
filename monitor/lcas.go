package monitor

import "sort"

// LCAS implements spec.md §4.H's last-level-cache-aware-scheduling
// ordering: rank sockets by smoothed hotness, with hysteresis so the
// published order only changes when a new coldest socket has held that
// position for three consecutive scans and actually differs in
// quantized level from the current coldest.
type LCAS struct {
	numSockets int

	lastOrder    map[int]int // rank -> socket, the last published channel state
	candidate    int
	candidateOK  bool
	streak       int
	publishedLvl int
}

// NewLCAS constructs an LCAS tracker for numSockets sockets.
func NewLCAS(numSockets int) *LCAS {
	l := &LCAS{numSockets: numSockets, publishedLvl: -1}
	l.lastOrder = identityOrder(numSockets)

	return l
}

func identityOrder(n int) map[int]int {
	m := make(map[int]int, n)
	for i := 0; i < n; i++ {
		m[i] = i
	}

	return m
}

// Scan folds in one round's per-socket quantized hotness level (from
// Level) and returns the channel state to publish: rank -> socket, or
// the sentinel {0: numSockets} meaning "no preference" when every
// socket shares the same level.
func (l *LCAS) Scan(levels []int) map[int]int {
	if allEqual(levels) {
		return map[int]int{0: l.numSockets}
	}

	coldest := coldestSocket(levels)

	if l.candidateOK && coldest == l.candidate {
		l.streak++
	} else {
		l.candidate = coldest
		l.candidateOK = true
		l.streak = 1
	}

	if l.streak >= 3 && levels[coldest] != l.publishedLvl {
		l.lastOrder = rankByLevel(levels)
		l.publishedLvl = levels[coldest]
	}

	return l.lastOrder
}

func allEqual(levels []int) bool {
	for _, v := range levels {
		if v != levels[0] {
			return false
		}
	}

	return true
}

func coldestSocket(levels []int) int {
	best := 0

	for i, v := range levels {
		if v < levels[best] {
			best = i
		}
	}

	return best
}

func rankByLevel(levels []int) map[int]int {
	sockets := make([]int, len(levels))
	for i := range sockets {
		sockets[i] = i
	}

	sort.SliceStable(sockets, func(i, j int) bool { return levels[sockets[i]] < levels[sockets[j]] })

	out := make(map[int]int, len(sockets))
	for rank, socket := range sockets {
		out[rank] = socket
	}

	return out
}
