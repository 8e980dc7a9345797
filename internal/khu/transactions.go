package khu

import (
	"fmt"

	"github.com/piv2-project/khu-consensus/internal/notes"
	"github.com/piv2-project/khu-consensus/pkg/crypto"
	"github.com/piv2-project/khu-consensus/pkg/tx"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

// Validation errors for KHU-typed transaction application, spec.md §4.E.x.
var (
	ErrZeroAmount          = fmt.Errorf("khu tx: amount must be positive")
	ErrBurnOutputMissing   = fmt.Errorf("khu tx: missing OP_RETURN burn output")
	ErrOverlayOutputWrong  = fmt.Errorf("khu tx: overlay output amount/script mismatch")
	ErrOverlayInputMissing = fmt.Errorf("khu tx: overlay input not found")
	ErrOverlayInputLocked  = fmt.Errorf("khu tx: overlay input is locked")
	ErrInsufficientOverlay = fmt.Errorf("khu tx: overlay inputs insufficient")
	ErrInsufficientCollateral = fmt.Errorf("khu tx: collateral C insufficient")
	ErrBelowMinLock        = fmt.Errorf("khu tx: lock amount below minimum")
	ErrLockOutputWrong     = fmt.Errorf("khu tx: lock must produce exactly one shielded output")
	ErrNoteNotFound        = fmt.Errorf("khu tx: staking note not found")
	ErrNullifierSpent      = fmt.Errorf("khu tx: nullifier already spent")
	ErrImmature            = fmt.Errorf("khu tx: note has not reached maturity")
	ErrRewardPoolShort     = fmt.Errorf("khu tx: reward pool insufficient for bonus")
	ErrUnlockOutputWrong   = fmt.Errorf("khu tx: unlock outputs must sum to amount + bonus")
)

// TxUndo captures what's needed to reverse one KHU-typed transaction's
// effects, mirroring the teacher's UndoData shape (see internal/chain/reorg.go):
// plain data, no re-derivation, applied in reverse by the caller.
type TxUndo struct {
	Kind tx.Kind

	// mint/redeem: the amount moved between C/U and base coin.
	Amount uint64

	// mint: the overlay UTXO created at output index 1.
	MintOutput types.Outpoint

	// redeem: the overlay UTXOs spent, restored verbatim on undo.
	RedeemSpent []ColoredUtxo

	// lock: the overlay UTXO spent and the note/nullifier created.
	LockSpent      *ColoredUtxo
	LockCommitment types.Hash
	LockNullifier  types.Hash

	// unlock: the note/nullifier reverted to unspent and the overlay
	// outputs created, to be deleted on undo.
	UnlockCommitment types.Hash
	UnlockNullifier  types.Hash
	UnlockBonus      uint64
	UnlockCreated    []types.Outpoint
}

// ApplyMint applies a KHU_MINT transaction: base coin burned into the
// transparent overlay tier (spec.md §4.E.mint).
func ApplyMint(state *GlobalState, overlay *OverlayStore, transaction *tx.Transaction) (*TxUndo, error) {
	payload, err := tx.DecodeMintPayload(transaction.ExtraPayload)
	if err != nil {
		return nil, fmt.Errorf("mint: %w", err)
	}
	if payload.Amount <= 0 {
		return nil, ErrZeroAmount
	}
	amount := uint64(payload.Amount)

	if len(transaction.Outputs) < 2 {
		return nil, ErrBurnOutputMissing
	}
	burn := transaction.Outputs[0]
	if burn.Script.Type != types.ScriptTypeReturn || burn.Value != amount {
		return nil, ErrBurnOutputMissing
	}
	overlayOut := transaction.Outputs[1]
	if overlayOut.Script.Type != types.ScriptTypeOverlay || overlayOut.Value != amount {
		return nil, ErrOverlayOutputWrong
	}

	state.C += amount
	state.U += amount

	op := types.Outpoint{TxID: transaction.Hash(), Index: 1}
	u := &ColoredUtxo{
		Outpoint:      op,
		Amount:        amount,
		ScriptPubKey:  types.Script{Type: types.ScriptTypeP2PKH, Data: payload.ScriptPubKey},
		CreatedHeight: state.Height,
	}
	if err := overlay.Put(u); err != nil {
		return nil, fmt.Errorf("mint: store overlay output: %w", err)
	}

	if err := state.CheckInvariants(); err != nil {
		return nil, err
	}
	return &TxUndo{Kind: tx.KindKhuMint, Amount: amount, MintOutput: op}, nil
}

// UndoMint reverses ApplyMint.
func UndoMint(state *GlobalState, overlay *OverlayStore, undo *TxUndo) error {
	if err := overlay.Delete(undo.MintOutput); err != nil {
		return fmt.Errorf("undo mint: %w", err)
	}
	state.U -= undo.Amount
	state.C -= undo.Amount
	return nil
}

// ApplyRedeem applies a KHU_REDEEM transaction: transparent overlay burned
// back into base coin (spec.md §4.E.redeem).
func ApplyRedeem(state *GlobalState, overlay *OverlayStore, transaction *tx.Transaction) (*TxUndo, error) {
	payload, err := tx.DecodeMintPayload(transaction.ExtraPayload)
	if err != nil {
		return nil, fmt.Errorf("redeem: %w", err)
	}
	if payload.Amount <= 0 {
		return nil, ErrZeroAmount
	}
	amount := uint64(payload.Amount)

	var spent []ColoredUtxo
	var sum uint64
	for _, in := range transaction.Inputs {
		u, err := overlay.Get(in.PrevOut)
		if err != nil {
			continue // non-overlay input (e.g. the base-coin fee input)
		}
		if u.IsLocked {
			return nil, ErrOverlayInputLocked
		}
		spent = append(spent, *u)
		sum += u.Amount
	}
	if sum < amount {
		return nil, ErrInsufficientOverlay
	}
	if state.C < amount {
		return nil, ErrInsufficientCollateral
	}

	for _, u := range spent {
		if err := overlay.Delete(u.Outpoint); err != nil {
			return nil, fmt.Errorf("redeem: spend overlay input: %w", err)
		}
	}
	state.C -= amount
	state.U -= amount

	if err := state.CheckInvariants(); err != nil {
		return nil, err
	}
	return &TxUndo{Kind: tx.KindKhuRedeem, Amount: amount, RedeemSpent: spent}, nil
}

// UndoRedeem reverses ApplyRedeem.
func UndoRedeem(state *GlobalState, overlay *OverlayStore, undo *TxUndo) error {
	state.U += undo.Amount
	state.C += undo.Amount
	for i := range undo.RedeemSpent {
		if err := overlay.Put(&undo.RedeemSpent[i]); err != nil {
			return fmt.Errorf("undo redeem: restore overlay input: %w", err)
		}
	}
	return nil
}

// lockNullifier derives a deterministic nullifier from a note's commitment,
// spec.md §4.E.lock: "derive a deterministic nullifier from cm."
func lockNullifier(cm types.Hash) types.Hash {
	return crypto.Hash(append([]byte("khu-nullifier:"), cm[:]...))
}

// ApplyLock applies a KHU_LOCK transaction: a transparent overlay UTXO is
// converted into a shielded staking note (spec.md §4.E.lock).
func ApplyLock(state *GlobalState, overlay *OverlayStore, noteStore *notes.Store, transaction *tx.Transaction, minLockAmount uint64) (*TxUndo, error) {
	if len(transaction.Inputs) == 0 {
		return nil, ErrOverlayInputMissing
	}
	in := transaction.Inputs[0]
	u, err := overlay.Get(in.PrevOut)
	if err != nil {
		return nil, ErrOverlayInputMissing
	}
	if u.IsLocked {
		return nil, ErrOverlayInputLocked
	}
	if u.Amount < minLockAmount {
		return nil, ErrBelowMinLock
	}

	var shieldedOutputs int
	for _, out := range transaction.Outputs {
		if out.Script.Type == types.ScriptTypeShielded {
			shieldedOutputs++
		}
	}
	if shieldedOutputs != 1 {
		return nil, ErrLockOutputWrong
	}

	txHash := transaction.Hash()
	cm := crypto.Hash(append([]byte("khu-commitment:"), txHash[:]...))
	nf := lockNullifier(cm)

	if err := overlay.Delete(u.Outpoint); err != nil {
		return nil, fmt.Errorf("lock: spend overlay input: %w", err)
	}
	note := &notes.StakingNote{
		Amount:          u.Amount,
		LockStartHeight: state.Height,
		Commitment:      cm,
		Nullifier:       nf,
	}
	if err := noteStore.WriteNote(note); err != nil {
		return nil, fmt.Errorf("lock: write note: %w", err)
	}

	state.U -= u.Amount
	state.Z += u.Amount

	if err := state.CheckInvariants(); err != nil {
		return nil, err
	}
	return &TxUndo{Kind: tx.KindKhuLock, LockSpent: u, LockCommitment: cm, LockNullifier: nf}, nil
}

// UndoLock reverses ApplyLock.
func UndoLock(state *GlobalState, overlay *OverlayStore, noteStore *notes.Store, undo *TxUndo) error {
	state.Z -= undo.LockSpent.Amount
	state.U += undo.LockSpent.Amount
	if err := noteStore.EraseNote(undo.LockCommitment); err != nil {
		return fmt.Errorf("undo lock: erase note: %w", err)
	}
	if err := overlay.Put(undo.LockSpent); err != nil {
		return fmt.Errorf("undo lock: restore overlay input: %w", err)
	}
	return nil
}

// ApplyUnlock applies a KHU_UNLOCK transaction: a matured staking note is
// released to the transparent tier with its accumulated yield bonus
// (spec.md §4.E.unlock). The four-line double-flux is kept adjacent and
// in the order the spec fixes, since it is the consensus-critical part.
func ApplyUnlock(state *GlobalState, overlay *OverlayStore, noteStore *notes.Store, transaction *tx.Transaction, maturityBlocks uint64) (*TxUndo, error) {
	payload, err := tx.DecodeUnlockPayload(transaction.ExtraPayload)
	if err != nil {
		return nil, fmt.Errorf("unlock: %w", err)
	}
	cm := payload.Commitment

	note, err := noteStore.ReadNote(cm)
	if err != nil {
		return nil, ErrNoteNotFound
	}
	if note.Spent {
		return nil, ErrNullifierSpent
	}
	spent, err := noteStore.IsNullifierSpent(note.Nullifier)
	if err != nil {
		return nil, fmt.Errorf("unlock: %w", err)
	}
	if spent {
		return nil, ErrNullifierSpent
	}
	if state.Height < note.LockStartHeight || state.Height-note.LockStartHeight < maturityBlocks {
		return nil, ErrImmature
	}

	bonus := note.UrAccumulated
	if state.Cr < bonus || state.Ur < bonus {
		return nil, ErrRewardPoolShort
	}

	var outSum uint64
	var created []types.Outpoint
	for i, out := range transaction.Outputs {
		if out.Script.Type != types.ScriptTypeOverlay {
			continue
		}
		outSum += out.Value
		created = append(created, types.Outpoint{TxID: transaction.Hash(), Index: uint32(i)})
	}
	if outSum != note.Amount+bonus {
		return nil, ErrUnlockOutputWrong
	}

	// spec.md §4.E.unlock: all four lines atomic and adjacent.
	state.U += bonus
	state.C += bonus
	state.Cr -= bonus
	state.Ur -= bonus

	if err := noteStore.WriteNullifier(note.Nullifier, cm); err != nil {
		return nil, fmt.Errorf("unlock: write nullifier: %w", err)
	}
	note.Spent = true
	if err := noteStore.WriteNote(note); err != nil {
		return nil, fmt.Errorf("unlock: mark note spent: %w", err)
	}
	for i, out := range transaction.Outputs {
		if out.Script.Type != types.ScriptTypeOverlay {
			continue
		}
		u := &ColoredUtxo{
			Outpoint:      types.Outpoint{TxID: transaction.Hash(), Index: uint32(i)},
			Amount:        out.Value,
			ScriptPubKey:  out.Script,
			CreatedHeight: state.Height,
		}
		if err := overlay.Put(u); err != nil {
			return nil, fmt.Errorf("unlock: store overlay output: %w", err)
		}
	}

	if err := state.CheckInvariants(); err != nil {
		return nil, err
	}
	return &TxUndo{
		Kind:             tx.KindKhuUnlock,
		UnlockCommitment: cm,
		UnlockNullifier:  note.Nullifier,
		UnlockBonus:      bonus,
		UnlockCreated:    created,
	}, nil
}

// UndoUnlock reverses ApplyUnlock: the same four-line flux run in reverse,
// the created overlay outputs removed, the note and nullifier un-spent.
func UndoUnlock(state *GlobalState, overlay *OverlayStore, noteStore *notes.Store, undo *TxUndo) error {
	for _, op := range undo.UnlockCreated {
		if err := overlay.Delete(op); err != nil {
			return fmt.Errorf("undo unlock: delete overlay output: %w", err)
		}
	}
	note, err := noteStore.ReadNote(undo.UnlockCommitment)
	if err != nil {
		return fmt.Errorf("undo unlock: read note: %w", err)
	}
	note.Spent = false
	if err := noteStore.WriteNote(note); err != nil {
		return fmt.Errorf("undo unlock: restore note: %w", err)
	}
	if err := noteStore.EraseNullifier(undo.UnlockNullifier); err != nil {
		return fmt.Errorf("undo unlock: erase nullifier: %w", err)
	}

	state.Ur += undo.UnlockBonus
	state.Cr -= undo.UnlockBonus
	state.C -= undo.UnlockBonus
	state.U -= undo.UnlockBonus
	return nil
}
