// Package finality implements cycle-based masternode quorum selection and
// signature-threshold block finalization, component D of spec.md §4.D.
package finality

import (
	"encoding/binary"
	"sort"

	"github.com/piv2-project/khu-consensus/internal/masternode"
	"github.com/piv2-project/khu-consensus/pkg/crypto"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

var quorumSeedTag = []byte("HU_QUORUM")

// Cycle returns the quorum cycle index for height, per spec.md §4.D:
// c = floor(height / rotationLength). Exactly one quorum signs every block
// in a given cycle.
func Cycle(height, rotationLength uint64) uint64 {
	if rotationLength == 0 {
		return 0
	}
	return height / rotationLength
}

// Seed computes the quorum selection seed for cycle c, per spec.md §4.D:
// seed = SHA256(lastFinalizedBlockHash || c || "HU_QUORUM"). For c = 0 (no
// block has been finalized yet), lastFinalizedBlockHash is the zero/genesis
// hash.
func Seed(lastFinalizedBlockHash types.Hash, c uint64) types.Hash {
	var cBuf [8]byte
	binary.BigEndian.PutUint64(cBuf[:], c)
	input := make([]byte, 0, types.HashSize+8+len(quorumSeedTag))
	input = append(input, lastFinalizedBlockHash[:]...)
	input = append(input, cBuf[:]...)
	input = append(input, quorumSeedTag...)
	return crypto.SHA256(input)
}

// memberScore computes a quorum member's selection score: SHA256(seed ||
// proTxHash).
func memberScore(seed types.Hash, proTxHash types.Hash) types.Hash {
	var buf [types.HashSize * 2]byte
	copy(buf[:types.HashSize], seed[:])
	copy(buf[types.HashSize:], proTxHash[:])
	return crypto.SHA256(buf[:])
}

// scoredMember pairs a masternode record with its quorum selection score.
type scoredMember struct {
	record *masternode.Record
	score  types.Hash
}

// SelectQuorum returns the quorum_size eligible masternodes with the
// highest member score for cycle c derived from seed, ties broken by
// ascending proTxHash. The same set is returned for every height within a
// cycle, since only the registry snapshot and the cycle's seed feed into
// selection — per spec.md §4.D, "exactly the same set signs every block in
// cycle c."
func SelectQuorum(records []*masternode.Record, seed types.Hash, quorumSize int) []*masternode.Record {
	if quorumSize <= 0 {
		return nil
	}
	scored := make([]scoredMember, 0, len(records))
	for _, rec := range records {
		if !rec.Eligible() {
			continue
		}
		scored = append(scored, scoredMember{record: rec, score: memberScore(seed, rec.ProTxHash)})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[j].score.Less(scored[i].score) // descending score
		}
		return scored[i].record.ProTxHash.Less(scored[j].record.ProTxHash)
	})
	if len(scored) > quorumSize {
		scored = scored[:quorumSize]
	}
	out := make([]*masternode.Record, len(scored))
	for i, sm := range scored {
		out[i] = sm.record
	}
	return out
}

// InQuorum reports whether proTxHash is a member of quorum.
func InQuorum(quorum []*masternode.Record, proTxHash types.Hash) bool {
	for _, rec := range quorum {
		if rec.ProTxHash == proTxHash {
			return true
		}
	}
	return false
}
