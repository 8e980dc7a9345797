package khu

import (
	"fmt"
	"math/big"

	"github.com/piv2-project/khu-consensus/config"
	"github.com/piv2-project/khu-consensus/internal/dao"
	"github.com/piv2-project/khu-consensus/internal/domc"
	"github.com/piv2-project/khu-consensus/internal/masternode"
	"github.com/piv2-project/khu-consensus/internal/notes"
	"github.com/piv2-project/khu-consensus/pkg/block"
	"github.com/piv2-project/khu-consensus/pkg/tx"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

// Engine computes S_{n-1} -> S_n, applying spec.md §4.E's nine steps in
// their fixed order. It owns no chain-connect policy (that is §4.J, built
// by the chain driver) — only the state transition itself.
type Engine struct {
	States      *Store
	Overlay     *OverlayStore
	Notes       *notes.Store
	DOMC        *domc.Store
	DAO         *dao.Store
	Masternodes *masternode.Registry
	Genesis     *config.Genesis
}

// NewEngine wires the KHU state transition to its component stores and the
// protocol rules from genesis.
func NewEngine(states *Store, overlay *OverlayStore, noteStore *notes.Store, domcStore *domc.Store, daoStore *dao.Store, registry *masternode.Registry, genesis *config.Genesis) *Engine {
	return &Engine{States: states, Overlay: overlay, Notes: noteStore, DOMC: domcStore, DAO: daoStore, Masternodes: registry, Genesis: genesis}
}

// noteDelta records the yield bump applied to one note, for undo.
type noteDelta struct {
	Commitment types.Hash
	Delta      uint64
}

// BlockUndo carries everything needed to exactly reverse one block's KHU
// transition, following the teacher's plain-data undo-struct pattern
// (internal/chain/reorg.go's UndoData) rather than re-deriving state.
type BlockUndo struct {
	TxUndos []*TxUndo

	PrevRMaxDynamic uint16

	CycleFinalized       bool
	PrevRAnnualAtBoundary uint16
	PrevRNextAtBoundary   uint16
	CycleStarted          bool
	PrevCycleStart        uint64
	PrevCommitPhaseStart  uint64
	PrevRevealDeadline    uint64

	RevealApplied     bool
	PrevRNextAtReveal uint16

	TreasuryApplied bool
	TreasuryDelta   uint64

	YieldApplied              bool
	YieldTotal                uint64
	PrevLastYieldUpdateHeight uint64
	PrevLastYieldAmount       uint64
	NoteDeltas                []noteDelta

	DAOPaid []types.Hash
}

// unifiedActivationHeight is the last block of the DOMC cycle currently
// open, spec.md §4.G: cycle_end = domc_cycle_start + cycle_length.
func unifiedActivationHeight(state *GlobalState, rules config.DOMCRules) uint64 {
	return state.DomcCycleStart + rules.CycleLength
}

func revealInstantHeight(state *GlobalState, rules config.DOMCRules) uint64 {
	return state.DomcCycleStart + rules.RevealInstant
}

// daoCycleStart returns the start height of the DAO cycle containing n.
func daoCycleStart(n uint64, cycleLength uint64) uint64 {
	return (n / cycleLength) * cycleLength
}

// isDAOPayoutHeight reports whether n is the last block of its DAO cycle.
func isDAOPayoutHeight(n uint64, cycleLength uint64) bool {
	return (n+1)%cycleLength == 0
}

// ConnectBlock computes S_n from S_{n-1} = prev by applying the canonical
// order of spec.md §4.E. prev is not mutated; the returned state is S_n.
func (e *Engine) ConnectBlock(prev *GlobalState, blk *block.Block) (*GlobalState, *BlockUndo, error) {
	state := *prev
	state.Height = blk.Header.Height
	state.PrevStateHash = prev.Hash()
	undo := &BlockUndo{}

	rules := e.Genesis.Protocol

	// 1. Decay update.
	undo.PrevRMaxDynamic = state.RMaxDynamic
	if state.Height >= rules.KHU.V6ActivationHeight {
		year := (state.Height - rules.KHU.V6ActivationHeight) / rules.KHU.BlocksPerYear
		decayed := int64(rules.KHU.RMaxInitial) - int64(year)*int64(rules.KHU.DecayPerYear)
		floor := int64(rules.KHU.RFloor)
		if decayed < floor {
			decayed = floor
		}
		state.RMaxDynamic = uint16(decayed)
	}

	// 2. Governance boundary.
	if state.Height == unifiedActivationHeight(&state, rules.DOMC) {
		undo.CycleFinalized = true
		undo.PrevRAnnualAtBoundary = state.RAnnual
		undo.PrevRNextAtBoundary = state.RNext
		next := state.RNext
		if next > state.RMaxDynamic {
			next = state.RMaxDynamic
		}
		state.RAnnual = next
		state.RNext = 0
	} else if state.Height > 0 && state.Height-1 == unifiedActivationHeight(&state, rules.DOMC) {
		undo.CycleStarted = true
		undo.PrevCycleStart = state.DomcCycleStart
		undo.PrevCommitPhaseStart = state.DomcCommitPhaseStart
		undo.PrevRevealDeadline = state.DomcRevealDeadline
		state.DomcCycleStart = state.Height
		state.DomcCommitPhaseStart = state.Height + rules.DOMC.CommitPhaseStart
		state.DomcRevealDeadline = state.Height + rules.DOMC.RevealPhaseStart
	}

	// 3. Reveal instant.
	if state.Height == revealInstantHeight(&state, rules.DOMC) {
		reveals, err := e.DOMC.ListReveals(domcCycleID(&state, rules.DOMC))
		if err != nil {
			return nil, nil, fmt.Errorf("khu engine: list reveals: %w", err)
		}
		undo.RevealApplied = true
		undo.PrevRNextAtReveal = state.RNext
		if len(reveals) < rules.DOMC.MinParticipation {
			state.RNext = state.RAnnual // no-op reset to current, per spec's explicit selection.
		} else {
			values := make([]uint16, len(reveals))
			for i, r := range reveals {
				values[i] = r.ProposedR
			}
			state.RNext = domc.Median(values)
		}
	}

	// 4. Treasury accumulation.
	if isDAOPayoutHeight(state.Height, rules.DAO.CycleLength) {
		delta, err := treasuryYield(state.U, state.RAnnual, rules.KHU.TDivisor)
		if err != nil {
			return nil, nil, fmt.Errorf("khu engine: treasury accumulation: %w", err)
		}
		undo.TreasuryApplied = true
		undo.TreasuryDelta = delta
		state.T += delta
	}

	// 5. Daily yield.
	if state.Height >= rules.KHU.V6ActivationHeight &&
		(state.Height-rules.KHU.V6ActivationHeight)%rules.KHU.BlocksPerDay == 0 &&
		state.Height > state.LastYieldUpdateHeight {
		undo.YieldApplied = true
		undo.PrevLastYieldUpdateHeight = state.LastYieldUpdateHeight
		undo.PrevLastYieldAmount = state.LastYieldAmount

		var total uint64
		err := e.Notes.IterateNotes(func(n *notes.StakingNote) error {
			if n.Spent {
				return nil
			}
			if state.Height-n.LockStartHeight < rules.KHU.MaturityBlocks {
				return nil
			}
			delta, err := dailyYield(n.Amount, state.RAnnual)
			if err != nil {
				return err
			}
			n.UrAccumulated += delta
			total += delta
			undo.NoteDeltas = append(undo.NoteDeltas, noteDelta{Commitment: n.Commitment, Delta: delta})
			return e.Notes.WriteNote(n)
		})
		if err != nil {
			return nil, nil, fmt.Errorf("khu engine: daily yield: %w", err)
		}
		state.Cr += total
		state.Ur += total
		state.LastYieldUpdateHeight = state.Height
		state.LastYieldAmount = total
		undo.YieldTotal = total
	}

	// 6. Transactions.
	for _, transaction := range blk.Transactions {
		txUndo, err := e.applyTransaction(&state, transaction)
		if err != nil {
			return nil, nil, fmt.Errorf("khu engine: apply tx %s: %w", transaction.Hash(), err)
		}
		if txUndo != nil {
			undo.TxUndos = append(undo.TxUndos, txUndo)
		}
	}

	// 7. DAO payouts.
	if isDAOPayoutHeight(state.Height, rules.DAO.CycleLength) {
		cycleStart := daoCycleStart(state.Height, rules.DAO.CycleLength)
		totalMNs, err := e.Masternodes.SizeValid()
		if err != nil {
			return nil, nil, fmt.Errorf("khu engine: dao payout: masternode count: %w", err)
		}
		approved, err := e.DAO.ListApprovedUnpaid(cycleStart, totalMNs)
		if err != nil {
			return nil, nil, fmt.Errorf("khu engine: dao payout: %w", err)
		}
		for _, p := range approved {
			if p.Amount > state.T {
				continue
			}
			state.T -= p.Amount
			if err := e.DAO.MarkPaid(p.Hash); err != nil {
				return nil, nil, fmt.Errorf("khu engine: dao mark paid: %w", err)
			}
			undo.DAOPaid = append(undo.DAOPaid, p.Hash)
		}
	}

	// 8. Invariants.
	if err := state.CheckInvariants(); err != nil {
		return nil, nil, err
	}

	// 9. Persist.
	state.BlockHash = blk.Header.Hash()
	if err := e.States.Put(&state); err != nil {
		return nil, nil, fmt.Errorf("khu engine: persist state: %w", err)
	}

	return &state, undo, nil
}

// DisconnectBlock reverses ConnectBlock in the reverse of §4.E's order: DAO
// payouts are restored first, then transactions are undone in reverse
// order, then yield, treasury, the reveal, the cycle start, cycle
// finalization, and finally R_MAX_dynamic (spec.md §4.J disconnect step 3).
func (e *Engine) DisconnectBlock(state *GlobalState, undo *BlockUndo) error {
	for i := len(undo.DAOPaid) - 1; i >= 0; i-- {
		p, err := e.DAO.Get(undo.DAOPaid[i])
		if err != nil {
			return fmt.Errorf("khu engine disconnect: dao lookup: %w", err)
		}
		state.T += p.Amount
		p.Paid = false
		if err := e.DAO.SetPaidState(p); err != nil {
			return fmt.Errorf("khu engine disconnect: restore dao paid flag: %w", err)
		}
	}

	for i := len(undo.TxUndos) - 1; i >= 0; i-- {
		if err := e.undoTransaction(state, undo.TxUndos[i]); err != nil {
			return fmt.Errorf("khu engine disconnect: undo tx: %w", err)
		}
	}

	if undo.YieldApplied {
		for _, d := range undo.NoteDeltas {
			n, err := e.Notes.ReadNote(d.Commitment)
			if err != nil {
				return fmt.Errorf("khu engine disconnect: read note: %w", err)
			}
			n.UrAccumulated -= d.Delta
			if err := e.Notes.WriteNote(n); err != nil {
				return fmt.Errorf("khu engine disconnect: restore note: %w", err)
			}
		}
		state.Cr -= undo.YieldTotal
		state.Ur -= undo.YieldTotal
		state.LastYieldUpdateHeight = undo.PrevLastYieldUpdateHeight
		state.LastYieldAmount = undo.PrevLastYieldAmount
	}

	if undo.TreasuryApplied {
		state.T -= undo.TreasuryDelta
	}

	if undo.RevealApplied {
		state.RNext = undo.PrevRNextAtReveal
	}

	if undo.CycleStarted {
		state.DomcCycleStart = undo.PrevCycleStart
		state.DomcCommitPhaseStart = undo.PrevCommitPhaseStart
		state.DomcRevealDeadline = undo.PrevRevealDeadline
	}

	if undo.CycleFinalized {
		state.RAnnual = undo.PrevRAnnualAtBoundary
		state.RNext = undo.PrevRNextAtBoundary
	}

	state.RMaxDynamic = undo.PrevRMaxDynamic

	if err := state.CheckInvariants(); err != nil {
		return fmt.Errorf("khu engine disconnect: %w", err)
	}
	return e.States.Erase(state.Height)
}

func (e *Engine) applyTransaction(state *GlobalState, transaction *tx.Transaction) (*TxUndo, error) {
	switch transaction.Kind {
	case tx.KindKhuMint:
		return ApplyMint(state, e.Overlay, transaction)
	case tx.KindKhuRedeem:
		return ApplyRedeem(state, e.Overlay, transaction)
	case tx.KindKhuLock:
		return ApplyLock(state, e.Overlay, e.Notes, transaction, e.Genesis.Protocol.KHU.MinLockAmount)
	case tx.KindKhuUnlock:
		return ApplyUnlock(state, e.Overlay, e.Notes, transaction, e.Genesis.Protocol.KHU.MaturityBlocks)
	case tx.KindDomcCommit, tx.KindDomcReveal:
		return nil, nil // mutate only the DOMC store, handled by the governance RPC layer.
	default:
		return nil, nil // KindNormal: no KHU-relevant effect.
	}
}

func (e *Engine) undoTransaction(state *GlobalState, undo *TxUndo) error {
	switch undo.Kind {
	case tx.KindKhuMint:
		return UndoMint(state, e.Overlay, undo)
	case tx.KindKhuRedeem:
		return UndoRedeem(state, e.Overlay, undo)
	case tx.KindKhuLock:
		return UndoLock(state, e.Overlay, e.Notes, undo)
	case tx.KindKhuUnlock:
		return UndoUnlock(state, e.Overlay, e.Notes, undo)
	}
	return nil
}

// treasuryYield computes T's per-cycle accumulation: (U * R_annual) /
// (10000 * T_DIVISOR * 365), 128-bit intermediate, spec.md §4.E step 4.
func treasuryYield(u uint64, rAnnual uint16, tDivisor uint64) (uint64, error) {
	num := new(big.Int).Mul(big.NewInt(int64(u)), big.NewInt(int64(rAnnual)))
	den := new(big.Int).Mul(big.NewInt(int64(config.BasisPoints)*365), big.NewInt(int64(tDivisor)))
	return divToUint64(num, den)
}

// dailyYield computes a single note's per-day bonus: (amount * R_annual) /
// (10000 * 365), 128-bit intermediate, spec.md §4.E step 5.
func dailyYield(amount uint64, rAnnual uint16) (uint64, error) {
	num := new(big.Int).Mul(big.NewInt(int64(amount)), big.NewInt(int64(rAnnual)))
	den := big.NewInt(int64(config.BasisPoints) * 365)
	return divToUint64(num, den)
}

func divToUint64(num, den *big.Int) (uint64, error) {
	if den.Sign() == 0 {
		return 0, fmt.Errorf("khu engine: division by zero")
	}
	q := new(big.Int).Div(num, den)
	if !q.IsUint64() {
		return 0, fmt.Errorf("khu engine: yield computation overflow")
	}
	return q.Uint64(), nil
}

// domcCycleID derives the DOMC store's cycle identifier from the current
// cycle's start height, the same mapping used by the commit/reveal RPC
// handlers when they record a cycle id on submission.
func domcCycleID(state *GlobalState, rules config.DOMCRules) uint32 {
	return uint32(state.DomcCycleStart / rules.CycleLength)
}

// DomcCycleID is the exported form of domcCycleID, used by the
// commit/reveal RPC handlers to tag a commit or reveal with the same
// cycle id the engine itself will look for when it reads reveals back at
// the reveal instant.
func DomcCycleID(state *GlobalState, rules config.DOMCRules) uint32 {
	return domcCycleID(state, rules)
}
