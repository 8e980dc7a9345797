package notes

import (
	"testing"

	"github.com/piv2-project/khu-consensus/internal/storage"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

func testHash(b byte) types.Hash {
	var h types.Hash
	h[0] = b
	return h
}

func TestStore_WriteReadEraseNote(t *testing.T) {
	s := NewStore(storage.NewMemory())
	cm := testHash(1)
	n := &StakingNote{Amount: 100, Commitment: cm, Nullifier: testHash(2)}
	if err := s.WriteNote(n); err != nil {
		t.Fatalf("WriteNote: %v", err)
	}
	got, err := s.ReadNote(cm)
	if err != nil {
		t.Fatalf("ReadNote: %v", err)
	}
	if got.Amount != 100 {
		t.Errorf("Amount = %d, want 100", got.Amount)
	}
	if err := s.EraseNote(cm); err != nil {
		t.Fatalf("EraseNote: %v", err)
	}
	if _, err := s.ReadNote(cm); err == nil {
		t.Error("expected error reading erased note")
	}
}

func TestStore_NullifierLifecycle(t *testing.T) {
	s := NewStore(storage.NewMemory())
	nf, cm := testHash(3), testHash(4)

	spent, err := s.IsNullifierSpent(nf)
	if err != nil || spent {
		t.Fatalf("fresh nullifier should be unspent, got spent=%v err=%v", spent, err)
	}

	if err := s.WriteNullifier(nf, cm); err != nil {
		t.Fatalf("WriteNullifier: %v", err)
	}
	spent, err = s.IsNullifierSpent(nf)
	if err != nil || !spent {
		t.Fatalf("nullifier should be spent, got spent=%v err=%v", spent, err)
	}

	got, err := s.CommitmentForNullifier(nf)
	if err != nil || got != cm {
		t.Fatalf("CommitmentForNullifier = %v, %v, want %v, nil", got, err, cm)
	}

	if err := s.EraseNullifier(nf); err != nil {
		t.Fatalf("EraseNullifier: %v", err)
	}
	spent, _ = s.IsNullifierSpent(nf)
	if spent {
		t.Error("nullifier should be unspent after erase")
	}
}

func TestStore_IterateNotes_SortedByCommitment(t *testing.T) {
	s := NewStore(storage.NewMemory())
	s.WriteNote(&StakingNote{Commitment: testHash(9), Amount: 3})
	s.WriteNote(&StakingNote{Commitment: testHash(1), Amount: 1})
	s.WriteNote(&StakingNote{Commitment: testHash(5), Amount: 2})

	var order []byte
	err := s.IterateNotes(func(n *StakingNote) error {
		order = append(order, n.Commitment[0])
		return nil
	})
	if err != nil {
		t.Fatalf("IterateNotes: %v", err)
	}
	want := []byte{1, 5, 9}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %d, want %d", i, order[i], want[i])
		}
	}
}
