package khu

import (
	"testing"

	"github.com/piv2-project/khu-consensus/internal/storage"
)

func TestGlobalState_CheckInvariants(t *testing.T) {
	s := &GlobalState{C: 100, U: 60, Z: 40, Cr: 5, Ur: 5}
	if err := s.CheckInvariants(); err != nil {
		t.Errorf("expected invariants to hold, got %v", err)
	}

	broken := &GlobalState{C: 100, U: 60, Z: 30, Cr: 5, Ur: 5}
	if err := broken.CheckInvariants(); err == nil {
		t.Error("expected C = U + Z violation to be caught")
	}

	brokenCr := &GlobalState{C: 0, U: 0, Z: 0, Cr: 5, Ur: 4}
	if err := brokenCr.CheckInvariants(); err == nil {
		t.Error("expected Cr = Ur violation to be caught")
	}
}

func TestStore_PutGetErase(t *testing.T) {
	s := NewStore(storage.NewMemory())
	state := Genesis(1000, 600, 2000, 0, 0, 100)
	state.Height = 0
	if err := s.Put(state); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.T != 1000 {
		t.Errorf("T = %d, want 1000", got.T)
	}
	if err := s.Erase(0); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	if _, err := s.Get(0); err == nil {
		t.Error("expected error reading erased state")
	}
}

func TestGenesis(t *testing.T) {
	g := Genesis(500, 600, 2000, 10, 0, 9)
	if g.T != 500 || g.RAnnual != 600 || g.RMaxDynamic != 2000 {
		t.Errorf("genesis state = %+v", g)
	}
	if g.C != 0 || g.U != 0 || g.Z != 0 {
		t.Error("genesis overlay supply should start at zero")
	}
	if err := g.CheckInvariants(); err != nil {
		t.Errorf("genesis invariants should hold: %v", err)
	}
}
