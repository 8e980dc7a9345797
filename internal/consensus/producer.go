package consensus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/piv2-project/khu-consensus/config"
	"github.com/piv2-project/khu-consensus/internal/masternode"
	"github.com/piv2-project/khu-consensus/pkg/block"
	"github.com/piv2-project/khu-consensus/pkg/crypto"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

var (
	// ErrNoEligibleProducers means the eligible masternode set is empty for
	// this (prevHash, height) — no confirmed, non-banned MN exists yet.
	ErrNoEligibleProducers = errors.New("no eligible masternodes for producer selection")
	// ErrMissingBlockSig means a block past the bootstrap threshold carries
	// no producer signature at all.
	ErrMissingBlockSig = errors.New("block missing producer signature")
	// ErrNoProducerMatch means no rank's operator key verifies the signature.
	ErrNoProducerMatch = errors.New("no producer rank's operator key verifies the block signature")
)

// ScoredProducer is one entry of the ordered producer ranking for a given
// (prevHash, height): an eligible masternode and its selection score.
type ScoredProducer struct {
	Record *masternode.Record
	Score  types.Hash
}

// OrderedProducers computes the producer ranking for the block built on top
// of prevHash at height, per spec.md §4.B:
//
//	score(mn) = SHA256(prevHash || height || mn.proTxHash)
//
// Only eligible masternodes (not PoSe-banned, confirmed) are scored. The
// list is sorted descending by score (interpreted big-endian), ties broken
// by ascending proTxHash. height is big-endian encoded; nothing in spec.md
// pins the byte order of the hash input, and big-endian matches the
// explicit big-endian convention the same section uses for score
// comparison.
func OrderedProducers(prevHash types.Hash, height uint64, records []*masternode.Record) []ScoredProducer {
	var prefix [types.HashSize + 8]byte
	copy(prefix[:types.HashSize], prevHash[:])
	binary.BigEndian.PutUint64(prefix[types.HashSize:], height)

	scored := make([]ScoredProducer, 0, len(records))
	for _, rec := range records {
		if !rec.Eligible() {
			continue
		}
		input := make([]byte, 0, len(prefix)+types.HashSize)
		input = append(input, prefix[:]...)
		input = append(input, rec.ProTxHash[:]...)
		scored = append(scored, ScoredProducer{Record: rec, Score: crypto.SHA256(input)})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[j].Score.Less(scored[i].Score) // descending score
		}
		return scored[i].Record.ProTxHash.Less(scored[j].Record.ProTxHash)
	})
	return scored
}

// ExpectedRank returns the producer rank expected to sign a block at
// blockTime, given the previous block's timestamp, per spec.md §4.B's
// fallback policy: rank 0 (primary) holds for leader_timeout seconds past
// prevBlockTime; past that, the rank advances by one every
// rank_fallback_delay seconds, wrapping modulo the number of eligible
// producers so an offline primary (or any fixed prefix of ranks) can never
// permanently halt block production.
func ExpectedRank(prevBlockTime, blockTime uint64, rules config.DMMRules, numEligible int) int {
	if numEligible <= 0 || blockTime <= prevBlockTime {
		return 0
	}
	elapsed := blockTime - prevBlockTime
	leaderTimeout := uint64(rules.LeaderTimeout)
	if elapsed <= leaderTimeout {
		return 0
	}
	fallback := uint64(rules.RankFallbackDelay)
	if fallback == 0 {
		fallback = 1
	}
	step := (elapsed - leaderTimeout) / fallback
	return int((1 + step) % uint64(numEligible))
}

// SelectProducer returns the expected producer and its rank for a block at
// height built on prevHash/prevBlockTime, using blockTime as "now" for the
// fallback rank policy.
func SelectProducer(prevHash types.Hash, prevBlockTime, height, blockTime uint64, records []*masternode.Record, rules config.DMMRules) (ScoredProducer, int, error) {
	ordered := OrderedProducers(prevHash, height, records)
	if len(ordered) == 0 {
		return ScoredProducer{}, 0, ErrNoEligibleProducers
	}
	rank := ExpectedRank(prevBlockTime, blockTime, rules, len(ordered))
	return ordered[rank], rank, nil
}

// SignBlock signs blk's header hash with the operator key and stores the
// resulting DER signature in the header's BlockSig field. Per spec.md
// §4.C, must be called after every other header field (including
// FinalSaplingRoot and MerkleRoot) is finalized, since Header.Hash excludes
// only BlockSig itself.
func SignBlock(blk *block.Block, operatorKey *crypto.PrivateKey) error {
	hash := blk.Header.Hash()
	sig, err := operatorKey.Sign(hash[:])
	if err != nil {
		return fmt.Errorf("sign block: %w", err)
	}
	blk.Header.BlockSig = sig
	return nil
}

// VerifyBlockSignature checks header.BlockSig against every eligible
// producer rank's operator key in turn, per spec.md §4.C: a block may
// legitimately come from any rank, and nTime alone can't pin down which
// one, since network stalls defeat time-based selection. Security comes
// from the set of eligible signers being deterministic and committed, not
// from matching rank-to-timestamp.
//
// prevHeight is pindexPrev's height; bootstrapHeight is
// DMMRules.BootstrapHeight. Blocks whose prevHeight is below
// bootstrapHeight skip verification entirely, as does any block while the
// eligible producer set is still empty (no MN confirmed yet) — spec.md §4
// waives the block-producer signature check in that case, though
// per-transaction validation still applies elsewhere.
func VerifyBlockSignature(header *block.Header, prevHash types.Hash, prevHeight, bootstrapHeight uint64, records []*masternode.Record) error {
	if prevHeight < bootstrapHeight {
		return nil
	}
	ordered := OrderedProducers(prevHash, header.Height, records)
	if len(ordered) == 0 {
		return nil
	}
	if len(header.BlockSig) == 0 {
		return ErrMissingBlockSig
	}
	hash := header.Hash()
	for _, sp := range ordered {
		if crypto.VerifySignature(hash[:], header.BlockSig, sp.Record.OperatorPubKey) {
			return nil
		}
	}
	return ErrNoProducerMatch
}
