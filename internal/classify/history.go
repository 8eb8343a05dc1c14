package classify

import "github.com/dusk-indust/circuitloop/internal/diagnostic"

// History counts, per diagnostic signature, the number of consecutive
// attempts in which it was observed. It is an immutable value; Advance
// returns a new History.
type History struct {
	seen map[string]int
}

// HistoryFrom rebuilds a History from a Snapshot. Non-positive streaks are
// dropped.
func HistoryFrom(streaks map[string]int) History {
	h := History{seen: make(map[string]int, len(streaks))}
	for sig, n := range streaks {
		if n > 0 {
			h.seen[sig] = n
		}
	}
	return h
}

// Attempts returns how many consecutive prior attempts reported sig.
func (h History) Attempts(sig string) int {
	return h.seen[sig]
}

// Len returns the number of tracked signatures.
func (h History) Len() int {
	return len(h.seen)
}

// Advance records one more attempt. Signatures present in diags have their
// streak extended; all others are forgotten.
func (h History) Advance(diags []diagnostic.Diagnostic) History {
	next := History{seen: make(map[string]int, len(diags))}
	for _, d := range diags {
		if _, done := next.seen[d.Signature]; done {
			continue
		}
		next.seen[d.Signature] = h.seen[d.Signature] + 1
	}
	return next
}

// Snapshot returns a copy of the streak table.
func (h History) Snapshot() map[string]int {
	out := make(map[string]int, len(h.seen))
	for k, v := range h.seen {
		out[k] = v
	}
	return out
}
