// Package seqtracker implements expansion of the 16-bit wire sequence
// number carried on each packet into a 64-bit strictly increasing
// per-direction counter, and detection of implausible jumps
// ("lurches") that indicate replay, reset, or a desynced peer.
package seqtracker

import "fmt"

// lurchThreshold is the 0x4000 gap bound: any expanded value that
// would move max_recv_seq by more than this in one packet is treated
// as a lurch rather than legitimate loss-and-reorder.
const lurchThreshold = 0x4000

// Tracker expands wire sequence numbers for a single receive direction.
// It is not safe for concurrent use; callers own serialization the same
// way the rest of the connection's think-loop state is owned.
type Tracker struct {
	maxRecvSeq int64
}

// New returns a tracker with no packets received yet.
func New() *Tracker {
	return &Tracker{}
}

// NewWithState returns a tracker primed as if maxRecvSeq packets have
// already been accepted. Connections start from New (zero); this
// constructor is for callers that need a tracker already mid-stream.
func NewWithState(maxRecvSeq int64) *Tracker {
	return &Tracker{maxRecvSeq: maxRecvSeq}
}

// MaxRecvSeq returns the highest full sequence number accepted so far.
func (t *Tracker) MaxRecvSeq() int64 {
	return t.maxRecvSeq
}

// Expand maps a 16-bit wire sequence number to the full 64-bit
// sequence, choosing the candidate closest to maxRecvSeq among the
// values sharing wireSeq's low 16 bits. It returns ok=false without
// mutating tracker state when the candidate is implausibly far behind
// (replay or a peer that reset its counter), and a non-nil lurch error
// when the candidate would advance maxRecvSeq by more than
// lurchThreshold.
//
// On successful, non-lurching expansion the tracker's maxRecvSeq is
// advanced to the returned value if it is larger.
func (t *Tracker) Expand(wireSeq uint16) (full int64, ok bool, err error) {
	base := t.maxRecvSeq &^ 0xFFFF
	candidates := [3]int64{base - 0x10000 + int64(wireSeq), base + int64(wireSeq), base + 0x10000 + int64(wireSeq)}

	best := candidates[0]
	bestDist := absInt64(candidates[0] - t.maxRecvSeq)
	for _, c := range candidates[1:] {
		if d := absInt64(c - t.maxRecvSeq); d < bestDist {
			best, bestDist = c, d
		}
	}

	if best <= 0 {
		return -1, false, nil
	}

	if best > t.maxRecvSeq {
		gap := best - t.maxRecvSeq
		if gap > lurchThreshold {
			return -1, false, fmt.Errorf("Pkt number lurch by %d", gap)
		}
		t.maxRecvSeq = best
		return best, true, nil
	}

	// best <= maxRecvSeq: an out-of-order or duplicate packet within
	// the window behind the high-water mark. Still a valid full
	// sequence number; callers may apply their own replay policy on
	// top (e.g. reject exact duplicates), but the tracker itself only
	// rejects implausibly-stale or lurching candidates.
	if t.maxRecvSeq-best > lurchThreshold {
		return -1, false, nil
	}
	return best, true, nil
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
