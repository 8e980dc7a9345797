package consensus

import (
	"testing"

	"github.com/piv2-project/khu-consensus/config"
	"github.com/piv2-project/khu-consensus/internal/masternode"
	"github.com/piv2-project/khu-consensus/pkg/block"
	"github.com/piv2-project/khu-consensus/pkg/crypto"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

func testRecord(t *testing.T, seed byte) *masternode.Record {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	var proTx, confirmed types.Hash
	proTx[0] = seed
	confirmed[0] = seed
	return &masternode.Record{
		ProTxHash:      proTx,
		OperatorPubKey: key.PublicKey(),
		ConfirmedHash:  confirmed,
	}
}

func testRecordWithKey(t *testing.T, seed byte) (*masternode.Record, *crypto.PrivateKey) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	var proTx, confirmed types.Hash
	proTx[0] = seed
	confirmed[0] = seed
	return &masternode.Record{
		ProTxHash:      proTx,
		OperatorPubKey: key.PublicKey(),
		ConfirmedHash:  confirmed,
	}, key
}

func TestOrderedProducers_SkipsIneligible(t *testing.T) {
	eligible := testRecord(t, 1)
	banned := testRecord(t, 2)
	banned.PoSeBanned = true
	unconfirmed := testRecord(t, 3)
	unconfirmed.ConfirmedHash = types.Hash{}

	var prevHash types.Hash
	ordered := OrderedProducers(prevHash, 10, []*masternode.Record{eligible, banned, unconfirmed})
	if len(ordered) != 1 {
		t.Fatalf("len(ordered) = %d, want 1", len(ordered))
	}
	if ordered[0].Record.ProTxHash != eligible.ProTxHash {
		t.Errorf("wrong record selected as sole eligible producer")
	}
}

func TestOrderedProducers_Deterministic(t *testing.T) {
	var prevHash types.Hash
	prevHash[5] = 0xaa
	records := []*masternode.Record{testRecord(t, 1), testRecord(t, 2), testRecord(t, 3)}

	a := OrderedProducers(prevHash, 100, records)
	b := OrderedProducers(prevHash, 100, records)
	if len(a) != len(b) {
		t.Fatalf("len mismatch: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Record.ProTxHash != b[i].Record.ProTxHash || a[i].Score != b[i].Score {
			t.Errorf("rank %d differs between identical inputs", i)
		}
	}
}

func testDMMRules() config.DMMRules {
	return config.DMMRules{
		BlockTime:         5,
		LeaderTimeout:     10,
		RankFallbackDelay: 5,
		BootstrapHeight:   2,
	}
}

func TestExpectedRank_PrimaryWithinTimeout(t *testing.T) {
	rules := testDMMRules()
	rank := ExpectedRank(1000, 1005, rules, 4)
	if rank != 0 {
		t.Errorf("rank = %d, want 0 (within leader_timeout)", rank)
	}
}

func TestExpectedRank_FallbackAdvancesAndWraps(t *testing.T) {
	rules := testDMMRules()
	// elapsed = 15 -> 5s past leader_timeout(10) -> step 1 -> rank 2.
	if rank := ExpectedRank(1000, 1015, rules, 4); rank != 2 {
		t.Errorf("rank = %d, want 2", rank)
	}
	// elapsed = 10 + 5*4 = 30 -> step 4 -> rank (1+4)%4 = 1.
	if rank := ExpectedRank(1000, 1030, rules, 4); rank != 1 {
		t.Errorf("rank = %d, want 1 (wrapped)", rank)
	}
}

func TestSelectProducer_NoEligible(t *testing.T) {
	_, _, err := SelectProducer(types.Hash{}, 1000, 1, 1001, nil, testDMMRules())
	if err != ErrNoEligibleProducers {
		t.Errorf("err = %v, want ErrNoEligibleProducers", err)
	}
}

func TestSignAndVerifyBlockSignature(t *testing.T) {
	rec, key := testRecordWithKey(t, 1)
	header := &block.Header{Version: 1, Height: 5}
	blk := &block.Block{Header: header}

	if err := SignBlock(blk, key); err != nil {
		t.Fatalf("SignBlock: %v", err)
	}

	var prevHash types.Hash
	err := VerifyBlockSignature(header, prevHash, 4, 0, []*masternode.Record{rec})
	if err != nil {
		t.Fatalf("VerifyBlockSignature: %v", err)
	}
}

func TestVerifyBlockSignature_RejectsWrongSigner(t *testing.T) {
	rec, _ := testRecordWithKey(t, 1)
	_, otherKey := testRecordWithKey(t, 2)
	header := &block.Header{Version: 1, Height: 5}
	blk := &block.Block{Header: header}

	if err := SignBlock(blk, otherKey); err != nil {
		t.Fatalf("SignBlock: %v", err)
	}

	var prevHash types.Hash
	err := VerifyBlockSignature(header, prevHash, 4, 0, []*masternode.Record{rec})
	if err != ErrNoProducerMatch {
		t.Errorf("err = %v, want ErrNoProducerMatch", err)
	}
}

func TestVerifyBlockSignature_BootstrapException(t *testing.T) {
	header := &block.Header{Version: 1, Height: 1}
	var prevHash types.Hash
	// prevHeight(0) < bootstrapHeight(2): skip verification even with no sig.
	if err := VerifyBlockSignature(header, prevHash, 0, 2, nil); err != nil {
		t.Errorf("err = %v, want nil (bootstrap exception)", err)
	}
}

func TestVerifyBlockSignature_NoEligibleWaivesCheck(t *testing.T) {
	header := &block.Header{Version: 1, Height: 50}
	var prevHash types.Hash
	// prevHeight past bootstrap but eligible set empty: no MN confirmed yet.
	if err := VerifyBlockSignature(header, prevHash, 50, 2, nil); err != nil {
		t.Errorf("err = %v, want nil (no eligible producers waives the check)", err)
	}
}

func TestVerifyBlockSignature_MissingSigRejected(t *testing.T) {
	rec, _ := testRecordWithKey(t, 1)
	header := &block.Header{Version: 1, Height: 50}
	var prevHash types.Hash
	err := VerifyBlockSignature(header, prevHash, 50, 2, []*masternode.Record{rec})
	if err != ErrMissingBlockSig {
		t.Errorf("err = %v, want ErrMissingBlockSig", err)
	}
}
