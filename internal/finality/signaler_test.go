package finality

import (
	"context"
	"testing"

	"github.com/piv2-project/khu-consensus/internal/masternode"
	"github.com/piv2-project/khu-consensus/internal/storage"
	"github.com/piv2-project/khu-consensus/pkg/crypto"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

func signalerTestRecord(t *testing.T, seed byte) (*masternode.Record, *crypto.PrivateKey) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	var proTx, confirmed types.Hash
	proTx[0] = seed
	confirmed[0] = seed
	return &masternode.Record{ProTxHash: proTx, ConfirmedHash: confirmed, OperatorPubKey: key.PublicKey()}, key
}

func TestSignaler_SignalAndReceive(t *testing.T) {
	store := NewStore(storage.NewMemory())
	mn1, key1 := signalerTestRecord(t, 1)
	mn2, key2 := signalerTestRecord(t, 2)
	quorum := []*masternode.Record{mn1, mn2}

	var blockHash types.Hash
	blockHash[0] = 0xaa

	s1 := NewSignaler(store, nil, quorum, mn1, key1)
	if err := s1.SignalBlock(context.Background(), blockHash); err != nil {
		t.Fatalf("SignalBlock(mn1): %v", err)
	}
	// Idempotent: signaling twice must not error or double-count.
	if err := s1.SignalBlock(context.Background(), blockHash); err != nil {
		t.Fatalf("SignalBlock(mn1) again: %v", err)
	}

	count, err := store.SignatureCount(blockHash)
	if err != nil || count != 1 {
		t.Fatalf("count = %d, %v, want 1, nil", count, err)
	}

	// mn1's signaler receives mn2's signature as a gossiped triple.
	sig2, err := key2.Sign(blockHash[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	added, err := s1.ReceiveTriple(Triple{BlockHash: blockHash, ProTxHash: mn2.ProTxHash, Signature: sig2})
	if err != nil || !added {
		t.Fatalf("ReceiveTriple(mn2) = %v, %v, want true, nil", added, err)
	}

	count, err = store.SignatureCount(blockHash)
	if err != nil || count != 2 {
		t.Fatalf("count = %d, %v, want 2, nil", count, err)
	}

	finalized, err := s1.MaybeFinalize(blockHash, 7, 1.0)
	if err != nil || !finalized {
		t.Fatalf("MaybeFinalize = %v, %v, want true, nil", finalized, err)
	}
	_, height, err := store.LatestFinalized()
	if err != nil || height != 7 {
		t.Fatalf("LatestFinalized height = %d, %v, want 7, nil", height, err)
	}
}

func TestSignaler_ReceiveTriple_RejectsNonMember(t *testing.T) {
	store := NewStore(storage.NewMemory())
	mn1, key1 := signalerTestRecord(t, 1)
	outsider, outsiderKey := signalerTestRecord(t, 9)
	quorum := []*masternode.Record{mn1}

	var blockHash types.Hash
	blockHash[0] = 1
	s := NewSignaler(store, nil, quorum, mn1, key1)

	sig, _ := outsiderKey.Sign(blockHash[:])
	if _, err := s.ReceiveTriple(Triple{BlockHash: blockHash, ProTxHash: outsider.ProTxHash, Signature: sig}); err == nil {
		t.Error("expected error for non-quorum-member triple")
	}
}

func TestSignaler_ReceiveTriple_RejectsBadSignature(t *testing.T) {
	store := NewStore(storage.NewMemory())
	mn1, key1 := signalerTestRecord(t, 1)
	mn2, _ := signalerTestRecord(t, 2)
	quorum := []*masternode.Record{mn1, mn2}

	var blockHash, wrongHash types.Hash
	blockHash[0] = 1
	wrongHash[0] = 2
	s := NewSignaler(store, nil, quorum, mn1, key1)

	badSig, _ := key1.Sign(wrongHash[:]) // signed over the wrong hash
	if _, err := s.ReceiveTriple(Triple{BlockHash: blockHash, ProTxHash: mn2.ProTxHash, Signature: badSig}); err == nil {
		t.Error("expected error for signature over the wrong hash")
	}
}

func TestSignaler_MaybeFinalize_BelowThreshold(t *testing.T) {
	store := NewStore(storage.NewMemory())
	mn1, key1 := signalerTestRecord(t, 1)
	mn2, _ := signalerTestRecord(t, 2)
	mn3, _ := signalerTestRecord(t, 3)
	quorum := []*masternode.Record{mn1, mn2, mn3}

	var blockHash types.Hash
	blockHash[0] = 1
	s := NewSignaler(store, nil, quorum, mn1, key1)
	if err := s.SignalBlock(context.Background(), blockHash); err != nil {
		t.Fatalf("SignalBlock: %v", err)
	}

	finalized, err := s.MaybeFinalize(blockHash, 1, 2.0/3.0)
	if err != nil {
		t.Fatalf("MaybeFinalize: %v", err)
	}
	if finalized {
		t.Error("expected not finalized with only 1/3 signatures against a 2/3 threshold")
	}
}
