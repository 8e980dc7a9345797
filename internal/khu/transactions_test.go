package khu

import (
	"testing"

	"github.com/piv2-project/khu-consensus/internal/notes"
	"github.com/piv2-project/khu-consensus/internal/storage"
	"github.com/piv2-project/khu-consensus/pkg/tx"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

func mintTx(amount int64) *tx.Transaction {
	payload := tx.MintPayload{Amount: amount, ScriptPubKey: []byte{0xaa}}
	return &tx.Transaction{
		Version: 1,
		Kind:    tx.KindKhuMint,
		Outputs: []tx.Output{
			{Value: uint64(amount), Script: types.Script{Type: types.ScriptTypeReturn}},
			{Value: uint64(amount), Script: types.Script{Type: types.ScriptTypeOverlay}},
		},
		ExtraPayload: payload.Encode(),
	}
}

// TestMintRedeemRoundTrip reproduces spec.md's S1: mint 100 then redeem 100
// returns the state to its starting point.
func TestMintRedeemRoundTrip(t *testing.T) {
	overlay := NewOverlayStore(storage.NewMemory())
	state := Genesis(1000, 600, 2000, 0, 0, 100)

	mint := mintTx(100)
	undoMint, err := ApplyMint(state, overlay, mint)
	if err != nil {
		t.Fatalf("ApplyMint: %v", err)
	}
	if state.C != 100 || state.U != 100 {
		t.Fatalf("after mint: C=%d U=%d, want 100,100", state.C, state.U)
	}

	mintOutput := types.Outpoint{TxID: mint.Hash(), Index: 1}
	redeemPayload := tx.MintPayload{Amount: 100}
	redeem := &tx.Transaction{
		Version:      1,
		Kind:         tx.KindKhuRedeem,
		Inputs:       []tx.Input{{PrevOut: mintOutput}},
		Outputs:      []tx.Output{{Value: 100, Script: types.Script{Type: types.ScriptTypeP2PKH}}},
		ExtraPayload: redeemPayload.Encode(),
	}
	undoRedeem, err := ApplyRedeem(state, overlay, redeem)
	if err != nil {
		t.Fatalf("ApplyRedeem: %v", err)
	}
	if state.C != 0 || state.U != 0 {
		t.Fatalf("after redeem: C=%d U=%d, want 0,0", state.C, state.U)
	}

	if err := UndoRedeem(state, overlay, undoRedeem); err != nil {
		t.Fatalf("UndoRedeem: %v", err)
	}
	if state.C != 100 || state.U != 100 {
		t.Fatalf("after undo redeem: C=%d U=%d, want 100,100", state.C, state.U)
	}
	if err := UndoMint(state, overlay, undoMint); err != nil {
		t.Fatalf("UndoMint: %v", err)
	}
	if state.C != 0 || state.U != 0 {
		t.Fatalf("after undo mint: C=%d U=%d, want 0,0", state.C, state.U)
	}
}

func TestApplyMint_RejectsZeroAmount(t *testing.T) {
	overlay := NewOverlayStore(storage.NewMemory())
	state := Genesis(0, 600, 2000, 0, 0, 100)
	mint := mintTx(0)
	if _, err := ApplyMint(state, overlay, mint); err != ErrZeroAmount {
		t.Errorf("err = %v, want ErrZeroAmount", err)
	}
}

func TestLockUnlock(t *testing.T) {
	overlay := NewOverlayStore(storage.NewMemory())
	noteStore := notes.NewStore(storage.NewMemory())
	state := Genesis(0, 4000, 2000, 0, 0, 100)

	mint := mintTx(100)
	if _, err := ApplyMint(state, overlay, mint); err != nil {
		t.Fatalf("ApplyMint: %v", err)
	}
	mintOutput := types.Outpoint{TxID: mint.Hash(), Index: 1}

	lock := &tx.Transaction{
		Version: 1,
		Kind:    tx.KindKhuLock,
		Inputs:  []tx.Input{{PrevOut: mintOutput}},
		Outputs: []tx.Output{{Value: 100, Script: types.Script{Type: types.ScriptTypeShielded}}},
	}
	lockUndo, err := ApplyLock(state, overlay, noteStore, lock, 10)
	if err != nil {
		t.Fatalf("ApplyLock: %v", err)
	}
	if state.Z != 100 || state.U != 0 {
		t.Fatalf("after lock: Z=%d U=%d, want 100,0", state.Z, state.U)
	}

	note, err := noteStore.ReadNote(lockUndo.LockCommitment)
	if err != nil {
		t.Fatalf("ReadNote: %v", err)
	}
	note.LockStartHeight = 0
	note.UrAccumulated = 5
	noteStore.WriteNote(note)
	state.Cr = 5
	state.Ur = 5
	state.Height = 20

	unlock := &tx.Transaction{
		Version:      1,
		Kind:         tx.KindKhuUnlock,
		ExtraPayload: tx.UnlockPayload{Commitment: lockUndo.LockCommitment}.Encode(),
		Outputs: []tx.Output{
			{Value: 105, Script: types.Script{Type: types.ScriptTypeOverlay}},
		},
	}
	unlockUndo, err := ApplyUnlock(state, overlay, noteStore, unlock, 10)
	if err != nil {
		t.Fatalf("ApplyUnlock: %v", err)
	}
	if state.U != 5 || state.C != 105 || state.Cr != 0 || state.Ur != 0 {
		t.Fatalf("after unlock: U=%d C=%d Cr=%d Ur=%d", state.U, state.C, state.Cr, state.Ur)
	}

	if err := UndoUnlock(state, overlay, noteStore, unlockUndo); err != nil {
		t.Fatalf("UndoUnlock: %v", err)
	}
	if state.U != 0 || state.C != 100 || state.Cr != 5 || state.Ur != 5 {
		t.Fatalf("after undo unlock: U=%d C=%d Cr=%d Ur=%d", state.U, state.C, state.Cr, state.Ur)
	}

	if err := UndoLock(state, overlay, noteStore, lockUndo); err != nil {
		t.Fatalf("UndoLock: %v", err)
	}
	if state.Z != 0 || state.U != 100 {
		t.Fatalf("after undo lock: Z=%d U=%d, want 0,100", state.Z, state.U)
	}
}

func TestApplyUnlock_RejectsImmature(t *testing.T) {
	overlay := NewOverlayStore(storage.NewMemory())
	noteStore := notes.NewStore(storage.NewMemory())
	state := Genesis(0, 4000, 2000, 0, 0, 100)
	state.Height = 5

	cm := testOutpoint(1).TxID
	noteStore.WriteNote(&notes.StakingNote{Amount: 10, LockStartHeight: 0, Commitment: cm, Nullifier: testOutpoint(2).TxID})

	unlock := &tx.Transaction{
		Kind:         tx.KindKhuUnlock,
		ExtraPayload: tx.UnlockPayload{Commitment: cm}.Encode(),
	}
	if _, err := ApplyUnlock(state, overlay, noteStore, unlock, 10); err != ErrImmature {
		t.Errorf("err = %v, want ErrImmature", err)
	}
}
