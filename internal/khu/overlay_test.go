package khu

import (
	"testing"

	"github.com/piv2-project/khu-consensus/internal/storage"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

func testOutpoint(b byte) types.Outpoint {
	var h types.Hash
	h[0] = b
	return types.Outpoint{TxID: h}
}

func TestOverlayStore_PutGetDelete(t *testing.T) {
	s := NewOverlayStore(storage.NewMemory())
	op := testOutpoint(1)
	u := &ColoredUtxo{Outpoint: op, Amount: 50, ScriptPubKey: types.Script{Type: types.ScriptTypeP2PKH}}

	if err := s.Put(u); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(op)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Amount != 50 {
		t.Errorf("Amount = %d, want 50", got.Amount)
	}

	has, err := s.Has(op)
	if err != nil || !has {
		t.Fatalf("Has = %v, %v, want true, nil", has, err)
	}

	if err := s.Delete(op); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	has, _ = s.Has(op)
	if has {
		t.Error("expected spent utxo to be absent (delete-based spend)")
	}
}

func TestOverlayStore_ForEach(t *testing.T) {
	s := NewOverlayStore(storage.NewMemory())
	s.Put(&ColoredUtxo{Outpoint: testOutpoint(1), Amount: 1})
	s.Put(&ColoredUtxo{Outpoint: testOutpoint(2), Amount: 2})

	var total uint64
	err := s.ForEach(func(u *ColoredUtxo) error {
		total += u.Amount
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
}
