// Package khu implements the per-block KHU colored-overlay state machine:
// the transition S_{n-1} -> S_n, its sacred invariants, and the apply/undo
// pairs for each KHU-typed transaction kind.
package khu

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/piv2-project/khu-consensus/internal/storage"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

// GlobalState is the canonical per-block KHU state, spec.md §3.
type GlobalState struct {
	C  uint64 // collateral backing the overlay coin
	U  uint64 // transparent overlay supply
	Z  uint64 // shielded overlay supply (staked notes)
	Cr uint64 // reward pool
	Ur uint64 // unlock-rights total

	T uint64 // treasury balance, base-coin units

	RAnnual      uint16 // current yield rate, basis points
	RNext        uint16 // pending rate, visible during adaptation window
	RMaxDynamic  uint16 // upper bound, decays yearly

	LastYieldUpdateHeight uint64
	LastYieldAmount       uint64

	DomcCycleStart        uint64
	DomcCommitPhaseStart  uint64
	DomcRevealDeadline    uint64

	Height        uint64
	BlockHash     types.Hash
	PrevStateHash types.Hash
}

// CheckInvariants enforces the sacred invariants of spec.md §3:
// C = U + Z, Cr = Ur, T >= 0 (unsigned, so always true), all amounts >= 0
// (likewise guaranteed by the unsigned representation).
func (s *GlobalState) CheckInvariants() error {
	if s.C != s.U+s.Z {
		return fmt.Errorf("%w: C=%d U=%d Z=%d", ErrInvariantBroken, s.C, s.U, s.Z)
	}
	if s.Cr != s.Ur {
		return fmt.Errorf("%w: Cr=%d Ur=%d", ErrInvariantBroken, s.Cr, s.Ur)
	}
	return nil
}

// Hash returns a deterministic hash of the state, used as PrevStateHash by
// the next block's state (spec.md §4.E step 9: hashPrevState = hash(S_{n-1})).
func (s *GlobalState) Hash() types.Hash {
	data, _ := json.Marshal(s)
	return stateHash(data)
}

// ErrInvariantBroken signals a violated sacred invariant; always fatal to
// the block being connected.
var ErrInvariantBroken = fmt.Errorf("khu invariant broken")

// Store persists GlobalState snapshots keyed by height.
type Store struct {
	db storage.DB
}

// NewStore creates a state store backed by db, which should already be
// scoped to the KHU state namespace ('K' 'S' in spec.md §6).
func NewStore(db storage.DB) *Store {
	return &Store{db: db}
}

func stateKey(height uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, height)
	return key
}

// Put writes S_n atomically at connect time.
func (s *Store) Put(state *GlobalState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal khu state: %w", err)
	}
	return s.db.Put(stateKey(state.Height), data)
}

// Get reads S_n. Returns an error if absent.
func (s *Store) Get(height uint64) (*GlobalState, error) {
	data, err := s.db.Get(stateKey(height))
	if err != nil {
		return nil, fmt.Errorf("khu state not found at height %d: %w", height, err)
	}
	var state GlobalState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal khu state: %w", err)
	}
	return &state, nil
}

// Erase removes S_n, used at disconnect time.
func (s *Store) Erase(height uint64) error {
	return s.db.Delete(stateKey(height))
}

// Genesis synthesizes S_0 from genesis parameters (spec.md §4.J step 3).
func Genesis(treasuryInitial uint64, rAnnualInitial, rMaxInitial uint16, domcCycleStart, domcCommitPhaseStart, domcRevealDeadline uint64) *GlobalState {
	return &GlobalState{
		T:                    treasuryInitial,
		RAnnual:              rAnnualInitial,
		RMaxDynamic:          rMaxInitial,
		DomcCycleStart:       domcCycleStart,
		DomcCommitPhaseStart: domcCommitPhaseStart,
		DomcRevealDeadline:   domcRevealDeadline,
	}
}
