package finality

import (
	"context"
	"fmt"

	"github.com/piv2-project/khu-consensus/internal/masternode"
	"github.com/piv2-project/khu-consensus/pkg/crypto"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

// Signaler drives the signaling protocol of spec.md §4.D: signing and
// gossiping this node's quorum signature when due, validating and
// recording signatures received from peers, and finalizing a block once
// its signature count crosses the configured threshold.
type Signaler struct {
	store    *Store
	gossip   *Gossip
	quorum   []*masternode.Record
	local    *masternode.Record
	localKey *crypto.PrivateKey
	signed   map[types.Hash]bool
}

// NewSignaler builds a signaler for a single block's quorum. local/localKey
// are nil if this node does not run a masternode.
func NewSignaler(store *Store, gossip *Gossip, quorum []*masternode.Record, local *masternode.Record, localKey *crypto.PrivateKey) *Signaler {
	return &Signaler{
		store:    store,
		gossip:   gossip,
		quorum:   quorum,
		local:    local,
		localKey: localKey,
		signed:   make(map[types.Hash]bool),
	}
}

// SignalBlock signs and gossips blockHash if this node's masternode is a
// member of the quorum and has not already signed this block.
func (s *Signaler) SignalBlock(ctx context.Context, blockHash types.Hash) error {
	if s.local == nil || s.localKey == nil {
		return nil
	}
	if !InQuorum(s.quorum, s.local.ProTxHash) {
		return nil
	}
	if s.signed[blockHash] {
		return nil
	}

	sig, err := s.localKey.Sign(blockHash[:])
	if err != nil {
		return fmt.Errorf("sign finality triple: %w", err)
	}
	if _, err := s.store.AddSignature(blockHash, s.local.ProTxHash, sig); err != nil {
		return fmt.Errorf("record own signature: %w", err)
	}
	s.signed[blockHash] = true

	if s.gossip == nil {
		return nil
	}
	return s.gossip.Publish(ctx, Triple{BlockHash: blockHash, ProTxHash: s.local.ProTxHash, Signature: sig})
}

// ReceiveTriple validates a gossiped finality-signature triple against this
// block's quorum and, if valid and new, records it. Returns whether the
// signature was newly added (false also covers an already-seen signature,
// which the caller should not re-relay).
func (s *Signaler) ReceiveTriple(t Triple) (bool, error) {
	member := recordByProTxHash(s.quorum, t.ProTxHash)
	if member == nil {
		return false, fmt.Errorf("proTxHash %s is not in this block's quorum", t.ProTxHash)
	}
	if !crypto.VerifySignature(t.BlockHash[:], t.Signature, member.OperatorPubKey) {
		return false, fmt.Errorf("invalid finality signature from %s", t.ProTxHash)
	}
	return s.store.AddSignature(t.BlockHash, t.ProTxHash, t.Signature)
}

// MaybeFinalize marks blockHash at height finalized if its signature count
// has reached threshold * len(quorum), per spec.md §4.D. Finalization is
// monotonic: once recorded it is never undone by a later drop in signature
// count.
func (s *Signaler) MaybeFinalize(blockHash types.Hash, height uint64, threshold float64) (bool, error) {
	count, err := s.store.SignatureCount(blockHash)
	if err != nil {
		return false, err
	}
	required := int(threshold * float64(len(s.quorum)))
	if required < 1 {
		required = 1
	}
	if count < required {
		return false, nil
	}
	if err := s.store.MarkFinalized(blockHash, height); err != nil {
		return false, err
	}
	return true, nil
}

func recordByProTxHash(records []*masternode.Record, proTxHash types.Hash) *masternode.Record {
	for _, rec := range records {
		if rec.ProTxHash == proTxHash {
			return rec
		}
	}
	return nil
}
