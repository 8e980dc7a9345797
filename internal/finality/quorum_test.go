package finality

import (
	"testing"

	"github.com/piv2-project/khu-consensus/internal/masternode"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

func finalityTestRecord(seed byte, banned bool) *masternode.Record {
	var proTx, confirmed types.Hash
	proTx[0] = seed
	if !banned {
		confirmed[0] = seed
	}
	return &masternode.Record{ProTxHash: proTx, ConfirmedHash: confirmed, PoSeBanned: banned}
}

func TestCycle(t *testing.T) {
	if c := Cycle(0, 720); c != 0 {
		t.Errorf("Cycle(0,720) = %d, want 0", c)
	}
	if c := Cycle(1439, 720); c != 1 {
		t.Errorf("Cycle(1439,720) = %d, want 1", c)
	}
	if c := Cycle(1440, 720); c != 2 {
		t.Errorf("Cycle(1440,720) = %d, want 2", c)
	}
}

func TestSeed_DependsOnLastFinalizedAndCycle(t *testing.T) {
	var h1, h2 types.Hash
	h2[0] = 1

	s1 := Seed(h1, 0)
	s2 := Seed(h1, 1)
	if s1 == s2 {
		t.Error("seed should differ across cycles")
	}
	s3 := Seed(h2, 0)
	if s1 == s3 {
		t.Error("seed should differ across last-finalized hash")
	}
}

func TestSelectQuorum_DeterministicAndBounded(t *testing.T) {
	records := []*masternode.Record{
		finalityTestRecord(1, false),
		finalityTestRecord(2, false),
		finalityTestRecord(3, true), // banned, excluded
		finalityTestRecord(4, false),
	}
	var seed types.Hash
	seed[0] = 0xaa

	q1 := SelectQuorum(records, seed, 2)
	q2 := SelectQuorum(records, seed, 2)
	if len(q1) != 2 {
		t.Fatalf("len(quorum) = %d, want 2", len(q1))
	}
	for i := range q1 {
		if q1[i].ProTxHash != q2[i].ProTxHash {
			t.Errorf("quorum selection not deterministic at index %d", i)
		}
	}
	for _, rec := range q1 {
		if rec.PoSeBanned {
			t.Error("banned record selected into quorum")
		}
	}
}

func TestInQuorum(t *testing.T) {
	rec := finalityTestRecord(1, false)
	quorum := []*masternode.Record{rec}
	if !InQuorum(quorum, rec.ProTxHash) {
		t.Error("expected member to be in quorum")
	}
	var other types.Hash
	other[0] = 0x99
	if InQuorum(quorum, other) {
		t.Error("expected non-member to not be in quorum")
	}
}
