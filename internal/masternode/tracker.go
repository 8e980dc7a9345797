package masternode

import (
	"sync"
	"time"

	"github.com/piv2-project/khu-consensus/pkg/types"
)

// PoSeStats holds in-memory proof-of-service statistics for a single
// masternode. Stats reset on node restart — the PoSe-ban flag itself is
// consensus state (stored on the Record), this tracker only accumulates
// the evidence that justifies flipping it.
type PoSeStats struct {
	ProTxHash    types.Hash
	LastSeen     time.Time
	MissedBlocks uint64 // selected as producer but didn't produce
	Faults       uint64 // explicit service-probe failures reported by peers
	Score        uint64 // decaying penalty score; ban threshold is a policy choice for the caller
}

// Tracker accumulates PoSe evidence across masternodes in memory, mirroring
// the liveness-bookkeeping shape of the producer-side validator tracker:
// a hex/hash-keyed map behind a single RWMutex, with decay so transient
// outages don't permanently brand a masternode.
type Tracker struct {
	mu    sync.RWMutex
	stats map[types.Hash]*PoSeStats
}

// NewTracker creates an empty PoSe tracker.
func NewTracker() *Tracker {
	return &Tracker{stats: make(map[types.Hash]*PoSeStats)}
}

func (t *Tracker) getOrCreate(proTxHash types.Hash) *PoSeStats {
	s, ok := t.stats[proTxHash]
	if !ok {
		s = &PoSeStats{ProTxHash: proTxHash}
		t.stats[proTxHash] = s
	}
	return s
}

// RecordSeen marks the masternode as seen right now (heartbeat or produced
// block), used by IsOnline.
func (t *Tracker) RecordSeen(proTxHash types.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.getOrCreate(proTxHash).LastSeen = time.Now()
}

// RecordMiss records that the masternode was selected as producer but did
// not produce a block within its rank window, per spec.md §4.B's fallback
// rotation.
func (t *Tracker) RecordMiss(proTxHash types.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.getOrCreate(proTxHash)
	s.MissedBlocks++
	s.Score += missScoreDelta
}

// RecordFault records an explicit service-probe failure.
func (t *Tracker) RecordFault(proTxHash types.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.getOrCreate(proTxHash)
	s.Faults++
	s.Score += faultScoreDelta
}

// Decay reduces every tracked score by one decay step, run on a periodic
// boundary by the caller (not a consensus rule — PoSe banning itself is
// decided by the collaborator that builds registration transactions; this
// tracker only informs that decision).
func (t *Tracker) Decay() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.stats {
		if s.Score >= decayStep {
			s.Score -= decayStep
		} else {
			s.Score = 0
		}
	}
}

// IsOnline reports whether the masternode was seen within 2x onlineWindow.
func (t *Tracker) IsOnline(proTxHash types.Hash, onlineWindow time.Duration) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.stats[proTxHash]
	if !ok || s.LastSeen.IsZero() {
		return false
	}
	return time.Since(s.LastSeen) <= 2*onlineWindow
}

// Stats returns a copy of the tracked stats for proTxHash, or nil.
func (t *Tracker) Stats(proTxHash types.Hash) *PoSeStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.stats[proTxHash]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

const (
	missScoreDelta  uint64 = 1
	faultScoreDelta uint64 = 10
	decayStep       uint64 = 1
)
