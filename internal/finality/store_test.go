package finality

import (
	"testing"

	"github.com/piv2-project/khu-consensus/internal/storage"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

func TestStore_AddSignature_IdempotentAndCounts(t *testing.T) {
	s := NewStore(storage.NewMemory())
	var block, mn1, mn2 types.Hash
	block[0] = 1
	mn1[0] = 2
	mn2[0] = 3

	added, err := s.AddSignature(block, mn1, []byte("sig1"))
	if err != nil || !added {
		t.Fatalf("AddSignature(mn1) = %v, %v, want true, nil", added, err)
	}
	added, err = s.AddSignature(block, mn1, []byte("sig1-dup"))
	if err != nil || added {
		t.Fatalf("duplicate AddSignature(mn1) = %v, %v, want false, nil", added, err)
	}
	added, err = s.AddSignature(block, mn2, []byte("sig2"))
	if err != nil || !added {
		t.Fatalf("AddSignature(mn2) = %v, %v, want true, nil", added, err)
	}

	count, err := s.SignatureCount(block)
	if err != nil {
		t.Fatalf("SignatureCount: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestStore_MarkFinalized_MonotonicLatest(t *testing.T) {
	s := NewStore(storage.NewMemory())
	var b1, b2 types.Hash
	b1[0] = 1
	b2[0] = 2

	if err := s.MarkFinalized(b1, 10); err != nil {
		t.Fatalf("MarkFinalized(10): %v", err)
	}
	if err := s.MarkFinalized(b2, 20); err != nil {
		t.Fatalf("MarkFinalized(20): %v", err)
	}

	hash, height, err := s.LatestFinalized()
	if err != nil {
		t.Fatalf("LatestFinalized: %v", err)
	}
	if height != 20 || hash != b2 {
		t.Errorf("latest = %v@%d, want b2@20", hash, height)
	}

	// A stale finalize call for an older height must not move latest back.
	var b0 types.Hash
	b0[0] = 9
	if err := s.MarkFinalized(b0, 5); err != nil {
		t.Fatalf("MarkFinalized(5): %v", err)
	}
	hash, height, err = s.LatestFinalized()
	if err != nil {
		t.Fatalf("LatestFinalized: %v", err)
	}
	if height != 20 || hash != b2 {
		t.Errorf("latest after stale mark = %v@%d, want b2@20", hash, height)
	}

	got, ok, err := s.IsFinalized(10)
	if err != nil || !ok || got != b1 {
		t.Errorf("IsFinalized(10) = %v, %v, %v, want b1, true, nil", got, ok, err)
	}
}

func TestStore_RefusesReorg(t *testing.T) {
	s := NewStore(storage.NewMemory())
	var b types.Hash
	b[0] = 1
	if err := s.MarkFinalized(b, 50); err != nil {
		t.Fatalf("MarkFinalized: %v", err)
	}

	refuse, err := s.RefusesReorg(50)
	if err != nil || !refuse {
		t.Errorf("RefusesReorg(50) = %v, %v, want true, nil", refuse, err)
	}
	refuse, err = s.RefusesReorg(51)
	if err != nil || refuse {
		t.Errorf("RefusesReorg(51) = %v, %v, want false, nil", refuse, err)
	}
}
